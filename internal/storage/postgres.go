package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS engine_kv (
	key        TEXT PRIMARY KEY,
	value      JSONB,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresKV stores values in a single jsonb table.
type PostgresKV struct {
	db *sql.DB
}

// OpenPostgres connects to dsn, verifies the connection and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresKV, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("storage: DATABASE_URL not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	kv := NewPostgresKV(db)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping postgres: %v", ErrUnavailable, err)
	}
	if err := kv.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return kv, nil
}

// NewPostgresKV wraps an existing connection pool.
func NewPostgresKV(db *sql.DB) *PostgresKV {
	return &PostgresKV{db: db}
}

// EnsureSchema creates the backing table if needed.
func (p *PostgresKV) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("%w: ensure schema: %v", ErrUnavailable, err)
	}
	return nil
}

func (p *PostgresKV) Get(ctx context.Context, key string) ([]byte, error) {
	var val pqtype.NullRawMessage
	err := p.db.QueryRowContext(ctx, `SELECT value FROM engine_kv WHERE key = $1`, key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	if !val.Valid {
		return nil, nil
	}
	return val.RawMessage, nil
}

func (p *PostgresKV) Put(ctx context.Context, key string, value []byte) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO engine_kv (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, pqtype.NullRawMessage{RawMessage: value, Valid: value != nil})
	if err != nil {
		return unavailable("put", err)
	}
	return nil
}

func (p *PostgresKV) Delete(ctx context.Context, key string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM engine_kv WHERE key = $1`, key); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

func (p *PostgresKV) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT key, value FROM engine_kv WHERE key LIKE $1 ESCAPE '\' ORDER BY key`, likePrefix(prefix))
	if err != nil {
		return nil, unavailable("list", err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var key string
		var val pqtype.NullRawMessage
		if err := rows.Scan(&key, &val); err != nil {
			return nil, unavailable("list", err)
		}
		if val.Valid {
			out[key] = val.RawMessage
		} else {
			out[key] = nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list", err)
	}
	return out, nil
}

func (p *PostgresKV) Close() error { return p.db.Close() }

// likePrefix escapes LIKE metacharacters in prefix and appends a wildcard.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
