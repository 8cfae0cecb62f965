package repository

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteDedupRepository implements DedupRepository on SQLite.
//
// The default DSN is a shared in-memory database, so the index is as volatile
// as the map-backed store; the SQL driver only buys uniqueness enforcement
// and a queryable index while the process runs.
type SQLiteDedupRepository struct {
	db *sql.DB
}

// NewSQLiteDedupRepository opens the database at dsn and creates the schema.
func NewSQLiteDedupRepository(ctx context.Context, dsn string) (*SQLiteDedupRepository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// An in-memory database lives only as long as one of its connections, and
	// a single connection avoids shared-cache table locks between writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS archived_clips (
			community_id TEXT NOT NULL,
			dedup_key TEXT NOT NULL,
			archived_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (community_id, dedup_key)
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteDedupRepository{db: db}, nil
}

// Contains reports whether key was archived in community.
func (r *SQLiteDedupRepository) Contains(ctx context.Context, communityID, key string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM archived_clips WHERE community_id = ? AND dedup_key = ?`,
		communityID, key,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query dedup key: %w", err)
	}
	return n > 0, nil
}

// Record marks key as archived in community. Recording twice is a no-op.
func (r *SQLiteDedupRepository) Record(ctx context.Context, communityID, key string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO archived_clips (community_id, dedup_key) VALUES (?, ?)`,
		communityID, key,
	)
	if err != nil {
		return fmt.Errorf("insert dedup key: %w", err)
	}
	return nil
}

// Stats returns index size statistics.
func (r *SQLiteDedupRepository) Stats(ctx context.Context) (*DedupStats, error) {
	stats := &DedupStats{}
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT community_id), COUNT(1) FROM archived_clips`,
	).Scan(&stats.Communities, &stats.Keys)
	if err != nil {
		return nil, fmt.Errorf("query dedup stats: %w", err)
	}
	return stats, nil
}

// Close closes the database.
func (r *SQLiteDedupRepository) Close() error {
	return r.db.Close()
}
