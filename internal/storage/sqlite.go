//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"scorebot/pkg/logx"
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

func (s *sqliteStore) LoadSubscribers(ctx context.Context) ([]SubscriberRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, teams, cadence_ns, last_delivered_ms, last_payload_hash FROM subscribers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SubscriberRecord
	for rows.Next() {
		var (
			rec      SubscriberRecord
			teamsRaw string
			cadence  int64
			lastMS   sql.NullInt64
			hash     sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &teamsRaw, &cadence, &lastMS, &hash); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(teamsRaw), &rec.Teams); err != nil {
			s.log.Warn("skipping subscriber with bad team list", logx.String("id", rec.ID), logx.Err(err))
			continue
		}
		rec.Cadence = time.Duration(cadence)
		if lastMS.Valid {
			rec.LastDeliveredAt = time.UnixMilli(lastMS.Int64)
		}
		if hash.Valid {
			rec.LastPayloadHash = uint64(hash.Int64)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutSubscriber(ctx context.Context, rec SubscriberRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	teams, err := json.Marshal(rec.Teams)
	if err != nil {
		return err
	}
	var lastMS any
	if !rec.LastDeliveredAt.IsZero() {
		lastMS = rec.LastDeliveredAt.UnixMilli()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO subscribers(id, teams, cadence_ns, last_delivered_ms, last_payload_hash)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   teams=excluded.teams,
		   cadence_ns=excluded.cadence_ns,
		   last_delivered_ms=excluded.last_delivered_ms,
		   last_payload_hash=excluded.last_payload_hash`,
		rec.ID, string(teams), int64(rec.Cadence), lastMS, int64(rec.LastPayloadHash),
	)
	return err
}

func (s *sqliteStore) DeleteSubscriber(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscribers WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) PutDelivery(ctx context.Context, id string, hash uint64, at time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	// Row may have been removed concurrently; that's fine, the update is a no-op.
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscribers SET last_payload_hash = ?, last_delivered_ms = ? WHERE id = ?`,
		int64(hash), at.UnixMilli(), id,
	)
	return err
}
