package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"digestbot/internal/feed"
	logx "digestbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SaveItems(ctx context.Context, items []feed.Item) ([]feed.Item, error) {
	if s == nil || s.db == nil {
		return items, ErrDisabled
	}
	out := make([]feed.Item, len(items))
	copy(out, items)

	var persisted int
	var firstErr error
	for i := range out {
		it := &out[i]
		if it.FetchedAt.IsZero() {
			it.FetchedAt = time.Now()
		}
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO items(title, body, url, topic, source, fetched_at, summary)
			 VALUES(?,?,?,?,?,?,?)`,
			it.Title, it.Body, it.URL, it.Topic, it.Source,
			it.FetchedAt.UnixMilli(), nullStr(it.Summary),
		)
		if err != nil {
			// Partial persistence: this item keeps a zero ID.
			s.log.Warn("item insert failed", logx.String("title", it.Title), logx.Err(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		id, err := res.LastInsertId()
		if err != nil {
			s.log.Warn("item id lookup failed", logx.String("title", it.Title), logx.Err(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		it.ID = id
		persisted++
	}
	// Losing some rows is tolerated; losing every row of a batch means the
	// store itself is broken and callers must hear about it.
	if len(out) > 0 && persisted == 0 {
		return out, fmt.Errorf("no items persisted: %w", firstErr)
	}
	return out, nil
}

func (s *sqliteStore) Unprocessed(ctx context.Context, window time.Duration, limit int) ([]feed.Item, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	cutoff := time.Now().Add(-window).UnixMilli()
	q := `SELECT id, title, body, url, topic, source, fetched_at
	      FROM items
	      WHERE fetched_at >= ? AND (summary IS NULL OR summary = '')
	      ORDER BY fetched_at DESC`
	args := []any{cutoff}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []feed.Item
	for rows.Next() {
		var it feed.Item
		var fetchedMS int64
		if err := rows.Scan(&it.ID, &it.Title, &it.Body, &it.URL, &it.Topic, &it.Source, &fetchedMS); err != nil {
			return nil, err
		}
		it.FetchedAt = time.UnixMilli(fetchedMS)
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateSummary(ctx context.Context, id int64, summary string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET summary = ?, summarized_at = ? WHERE id = ?`,
		summary, time.Now().UnixMilli(), id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) DeliveredKeys(ctx context.Context) (map[string]struct{}, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM delivered`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys[k] = struct{}{}
	}
	return keys, rows.Err()
}

func (s *sqliteStore) MarkDelivered(ctx context.Context, items []feed.Item) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	now := time.Now().UnixMilli()

	var firstErr error
	for _, it := range items {
		key := it.DedupKey()
		if key == "" {
			continue
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO delivered(key, item_id, at) VALUES(?,?,?)
			 ON CONFLICT(key) DO UPDATE SET at=excluded.at`,
			key, nullID(it.ID), now,
		)
		if err == nil && it.ID != 0 {
			_, err = s.db.ExecContext(ctx,
				`UPDATE items SET delivered_at = ? WHERE id = ?`, now, it.ID)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
