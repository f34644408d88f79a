package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/semilia/storefront/pkg/database"
	apperrors "github.com/semilia/storefront/pkg/errors"
)

const schema = `CREATE TABLE IF NOT EXISTS guest_storage (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

const (
	getQuery    = `SELECT value FROM guest_storage WHERE key = ?`
	upsertQuery = `INSERT INTO guest_storage (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	deleteQuery = `DELETE FROM guest_storage WHERE key = ?`
)

// Backend keeps guest carts in a local SQLite file, the on-device
// counterpart of the browser's durable key-value storage.
type Backend struct {
	db      *sql.DB
	nowFunc func() time.Time
}

// NewBackend prepares the storage table on db.
func NewBackend(ctx context.Context, db *sql.DB) (*Backend, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create guest storage table: %w", err)
	}
	return &Backend{db: db, nowFunc: time.Now}, nil
}

func (b *Backend) Get(ctx context.Context, key string) (data []byte, err error) {
	ctx, end := database.TraceQuery(ctx, "sqlite", "GuestCartGet", getQuery)
	defer func() {
		if errors.Is(err, apperrors.ErrNotFound) {
			end(nil)
			return
		}
		end(err)
	}()

	err = b.db.QueryRowContext(ctx, getQuery, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("guest cart", key)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get guest cart: %w", err)
	}
	return data, nil
}

func (b *Backend) Set(ctx context.Context, key string, value []byte) (err error) {
	ctx, end := database.TraceQuery(ctx, "sqlite", "GuestCartSet", upsertQuery)
	defer func() { end(err) }()

	if _, err = b.db.ExecContext(ctx, upsertQuery, key, value, b.nowFunc().Unix()); err != nil {
		return fmt.Errorf("sqlite set guest cart: %w", err)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, key string) (err error) {
	ctx, end := database.TraceQuery(ctx, "sqlite", "GuestCartDelete", deleteQuery)
	defer func() { end(err) }()

	if _, err = b.db.ExecContext(ctx, deleteQuery, key); err != nil {
		return fmt.Errorf("sqlite delete guest cart: %w", err)
	}
	return nil
}

// UpdatedAt returns when key was last written.
func (b *Backend) UpdatedAt(ctx context.Context, key string) (time.Time, error) {
	var ts int64
	err := b.db.QueryRowContext(ctx, `SELECT updated_at FROM guest_storage WHERE key = ?`, key).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, apperrors.NotFound("guest cart", key)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite guest cart timestamp: %w", err)
	}
	return time.Unix(ts, 0), nil
}

// Ping checks the database connection.
func (b *Backend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}
