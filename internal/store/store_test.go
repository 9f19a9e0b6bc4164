package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/framegrep/internal/config"
	"github.com/nickcecere/framegrep/internal/errdefs"
)

func setupTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open(context.Background(), config.DatabaseConfig{
		Driver: "sqlite3",
		Path:   filepath.Join(t.TempDir(), "metadata.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// insertFrames writes n fixture rows the way the ingestion pipeline does and
// returns their assigned IDs.
func insertFrames(t *testing.T, s *SQLStore, n int) []int64 {
	t.Helper()
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		result, err := s.db.ExecContext(context.Background(), `
			INSERT INTO image_features (folder_id, child_folder_id, id_frame, image_path, frame_mapping_index)
			VALUES (?, ?, ?, ?, ?)
		`, 1, i+1, i*25, fmt.Sprintf("frames/L01/V%03d/0001.jpg", i+1), i*1000)
		require.NoError(t, err)
		id, err := result.LastInsertId()
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestOpen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "metadata.db")
	cfg := config.DatabaseConfig{Driver: "sqlite3", Path: dbPath, MaxOpenConns: 2}

	s, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
	require.NoError(t, s.Close())

	// Reopening an already migrated database is a no-op.
	s, err = Open(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "postgres"})
	assert.Error(t, err)

	_, err = Open(context.Background(), config.DatabaseConfig{Driver: "mysql"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "dsn is required")
}

func TestOpenKeepsExistingTable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "metadata.db")
	db, err := sqlx.Open("sqlite3", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE image_features (
		id INTEGER PRIMARY KEY, folder_id INTEGER, child_folder_id INTEGER,
		id_frame INTEGER, image_path TEXT, frame_mapping_index INTEGER, caption TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO image_features VALUES (42, 3, 7, 120, 'a.jpg', 4800, 'a dog')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(context.Background(), config.DatabaseConfig{Driver: "sqlite3", Path: dbPath})
	require.NoError(t, err)
	defer s.Close()

	r, err := s.Get(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, AssetRecord{
		ID: 42, FolderID: 3, ChildFolderID: 7, FrameID: 120,
		ImagePath: "a.jpg", FrameMappingIndex: 4800,
	}, *r)
}

func TestGetMany(t *testing.T) {
	s := setupTestStore(t)
	ids := insertFrames(t, s, 3)
	assert.Equal(t, []int64{1, 2, 3}, ids)

	records, err := s.GetMany(context.Background(), []int64{3, 1, 99})
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, int64(3), records[3].ID)
	assert.Equal(t, 3, records[3].ChildFolderID)
	assert.Equal(t, int64(50), records[3].FrameID)
	assert.Equal(t, int64(2000), records[3].FrameMappingIndex)
	_, ok := records[99]
	assert.False(t, ok)
}

func TestGetManyEmpty(t *testing.T) {
	s := setupTestStore(t)
	records, err := s.GetMany(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestGet(t *testing.T) {
	s := setupTestStore(t)
	insertFrames(t, s, 1)

	r, err := s.Get(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, 1, r.FolderID)

	missing, err := s.Get(context.Background(), 2)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestIDsAndStats(t *testing.T) {
	s := setupTestStore(t)

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Driver: "sqlite3"}, *stats)

	insertFrames(t, s, 4)

	ids, err := s.IDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, ids)

	stats, err = s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Count)
	assert.Equal(t, int64(1), stats.MinID)
	assert.Equal(t, int64(4), stats.MaxID)
}

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock, *sqlx.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "mysql")
	t.Cleanup(func() {
		if closeErr := db.Close(); closeErr != nil {
			t.Logf("Failed to close mock db: %v", closeErr)
		}
	})
	return NewSQLStore(sqlxDB), mock, sqlxDB
}

var recordColumns = []string{"id", "folder_id", "child_folder_id", "frame_id", "image_path", "frame_mapping_index"}

func TestGetManySingleBatchedQuery(t *testing.T) {
	s, mock, db := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("id_frame AS frame_id") + `(.|\s)*` + regexp.QuoteMeta("WHERE id IN (?, ?, ?)")).
		WithArgs(int64(5), int64(2), int64(9)).
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow(5, 1, 2, 100, "L01/V002/0100.jpg", 4000).
			AddRow(9, 1, 3, 25, "L01/V003/0025.jpg", 1000))

	records, err := s.GetMany(context.Background(), []int64{5, 2, 9})
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, "L01/V003/0025.jpg", records[9].ImagePath)

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 0, db.Stats().InUse)
}

func TestGetManyFailureReleasesConnection(t *testing.T) {
	s, mock, db := newMockStore(t)

	mock.ExpectQuery("WHERE id IN").
		WithArgs(int64(1)).
		WillReturnError(errors.New("Error 1146: Table 'frames.image_features' doesn't exist"))

	_, err := s.GetMany(context.Background(), []int64{1})
	assert.ErrorIs(t, err, errdefs.ErrMetadataLookup)
	assert.Contains(t, err.Error(), "1146")

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 0, db.Stats().InUse)
}

func TestGetManyCancelled(t *testing.T) {
	s, _, db := newMockStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.GetMany(ctx, []int64{1, 2})
	assert.ErrorIs(t, err, errdefs.ErrMetadataLookup)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, db.Stats().InUse)
}

func TestStatsMySQL(t *testing.T) {
	s, mock, _ := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*), COALESCE(MIN(id), 0), COALESCE(MAX(id), 0) FROM image_features")).
		WillReturnRows(sqlmock.NewRows([]string{"count", "min", "max"}).AddRow(3, 7, 12))

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Driver: "mysql", Count: 3, MinID: 7, MaxID: 12}, *stats)
	assert.NoError(t, mock.ExpectationsWereMet())
}
