package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/jmoiron/sqlx"
)

const currentSchemaVersion = 1

// Schema definitions
const schemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);
`

const sqliteFeaturesTable = `
CREATE TABLE IF NOT EXISTS image_features (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	folder_id INTEGER NOT NULL,
	child_folder_id INTEGER NOT NULL,
	id_frame INTEGER NOT NULL,
	image_path TEXT NOT NULL,
	frame_mapping_index INTEGER NOT NULL DEFAULT 0
);
`

const mysqlFeaturesTable = `
CREATE TABLE IF NOT EXISTS image_features (
	id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
	folder_id INT NOT NULL,
	child_folder_id INT NOT NULL,
	id_frame BIGINT NOT NULL,
	image_path VARCHAR(1024) NOT NULL,
	frame_mapping_index BIGINT NOT NULL DEFAULT 0
);
`

const featuresVideoIndex = `
CREATE INDEX idx_image_features_video ON image_features(folder_id, child_folder_id);
`

// initSchema creates or migrates the metadata schema.
func initSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schemaVersionTable); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err := db.GetContext(ctx, &version, "SELECT version FROM schema_version ORDER BY version DESC LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		version = 0
	} else if err != nil {
		return fmt.Errorf("failed to check schema version: %w", err)
	}

	if version >= currentSchemaVersion {
		log.Debug("Schema is up to date", "version", version)
		return nil
	}

	log.Debug("Migrating schema", "from", version, "to", currentSchemaVersion)

	if version < 1 {
		if err := migrateV1(ctx, db); err != nil {
			return fmt.Errorf("failed to migrate to v1: %w", err)
		}
	}

	return nil
}

// migrateV1 creates the image_features table. Existing tables, such as one
// populated by an external ingestion job, are left as they are.
func migrateV1(ctx context.Context, db *sqlx.DB) error {
	log.Debug("Applying migration v1", "driver", db.DriverName())

	var exists bool
	switch db.DriverName() {
	case "mysql":
		var n int
		if err := db.GetContext(ctx, &n, `
			SELECT COUNT(*) FROM information_schema.tables
			WHERE table_schema = DATABASE() AND table_name = 'image_features'
		`); err != nil {
			return fmt.Errorf("failed to check image_features table: %w", err)
		}
		exists = n > 0
		if !exists {
			if _, err := db.ExecContext(ctx, mysqlFeaturesTable); err != nil {
				return fmt.Errorf("failed to create table: %w", err)
			}
		}
	default:
		var n int
		if err := db.GetContext(ctx, &n,
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'image_features'"); err != nil {
			return fmt.Errorf("failed to check image_features table: %w", err)
		}
		exists = n > 0
		if !exists {
			if _, err := db.ExecContext(ctx, sqliteFeaturesTable); err != nil {
				return fmt.Errorf("failed to create table: %w", err)
			}
		}
	}

	if !exists {
		if _, err := db.ExecContext(ctx, featuresVideoIndex); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, db.Rebind("REPLACE INTO schema_version (version) VALUES (?)"), 1); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}

	return nil
}
