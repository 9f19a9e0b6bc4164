package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nickcecere/framegrep/internal/config"
	"github.com/nickcecere/framegrep/internal/errdefs"
)

const selectRecords = `
	SELECT id, folder_id, child_folder_id, id_frame AS frame_id, image_path, frame_mapping_index
	FROM image_features
`

// SQLStore implements Store on SQLite or MySQL through sqlx.
type SQLStore struct {
	db *sqlx.DB
}

// Open connects to the configured database, sizes its pool and migrates the
// schema.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*SQLStore, error) {
	var dsn string
	switch cfg.Driver {
	case "sqlite3", "":
		cfg.Driver = "sqlite3"
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = cfg.Path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	case "mysql":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("database.dsn is required for the mysql driver")
		}
		dsn = cfg.DSN
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := sqlx.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Debug("Opened metadata store", "driver", cfg.Driver, "max_open_conns", cfg.MaxOpenConns)

	return &SQLStore{db: db}, nil
}

// NewSQLStore wraps an existing connection pool without migrating it.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// DB returns the underlying connection pool.
func (s *SQLStore) DB() *sqlx.DB {
	return s.db
}

// Close closes the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// GetMany fetches the records for ids with a single query on one pinned
// connection. IDs without a row are absent from the result.
func (s *SQLStore) GetMany(ctx context.Context, ids []int64) (map[int64]AssetRecord, error) {
	out := make(map[int64]AssetRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(selectRecords+"WHERE id IN (?)", ids)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build lookup: %w", errdefs.ErrMetadataLookup, err)
	}

	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to acquire connection: %w", errdefs.ErrMetadataLookup, err)
	}
	defer conn.Close()

	var rows []AssetRecord
	if err := conn.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("%w: failed to look up %d assets: %w", errdefs.ErrMetadataLookup, len(ids), err)
	}

	for _, r := range rows {
		out[r.ID] = r
	}
	return out, nil
}

// Get fetches one record. It returns nil when the ID has no row.
func (s *SQLStore) Get(ctx context.Context, id int64) (*AssetRecord, error) {
	records, err := s.GetMany(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	r, ok := records[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// IDs returns every record ID in ascending order.
func (s *SQLStore) IDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, "SELECT id FROM image_features ORDER BY id"); err != nil {
		return nil, fmt.Errorf("%w: failed to list asset IDs: %w", errdefs.ErrMetadataLookup, err)
	}
	return ids, nil
}

// Stats returns the record count and ID range.
func (s *SQLStore) Stats(ctx context.Context) (*Stats, error) {
	stats := Stats{Driver: s.db.DriverName()}
	err := s.db.QueryRowxContext(ctx,
		"SELECT COUNT(*), COALESCE(MIN(id), 0), COALESCE(MAX(id), 0) FROM image_features",
	).Scan(&stats.Count, &stats.MinID, &stats.MaxID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get store stats: %w", errdefs.ErrMetadataLookup, err)
	}
	return &stats, nil
}
