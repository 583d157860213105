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
	"slices"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"ingestd/internal/ingest/job"
	"ingestd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db     *sql.DB
	log    logx.Logger
	retain int

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, retain: cfg.retain(), pruneEvery: 500}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
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

func (s *sqliteStore) AppendResult(ctx context.Context, r job.SyncResult) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	errs, err := marshalText(r.Errors)
	if err != nil {
		return err
	}
	meta, err := marshalText(r.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sync_results(id, job_id, source, trigger_by, attempt, success, start_ns, end_ns, processed, added, updated, removed, errors, meta)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO NOTHING`,
		r.ID, r.JobID, string(r.Source), string(r.Trigger), r.Attempt, boolInt(r.Success),
		r.StartTime.UnixNano(), r.EndTime.UnixNano(),
		r.ItemsProcessed, r.ItemsAdded, r.ItemsUpdated, r.ItemsRemoved, errs, meta,
	)
	if err == nil && s.retain > 0 && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if perr := s.prune(pctx); perr != nil {
			s.log.Debug("prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) RecentResults(ctx context.Context, limit int) ([]job.SyncResult, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, source, trigger_by, attempt, success, start_ns, end_ns, processed, added, updated, removed, errors, meta
		 FROM sync_results ORDER BY start_ns DESC, seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []job.SyncResult
	for rows.Next() {
		var (
			rec            record
			success        int
			startNS, endNS int64
			errs, meta     sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.JobID, &rec.Source, &rec.Trigger, &rec.Attempt, &success,
			&startNS, &endNS, &rec.Processed, &rec.Added, &rec.Updated, &rec.Removed, &errs, &meta); err != nil {
			return nil, err
		}
		rec.Success = success != 0
		rec.Start = time.Unix(0, startNS).UTC()
		rec.End = time.Unix(0, endNS).UTC()
		if errs.Valid {
			_ = json.Unmarshal([]byte(errs.String), &rec.Errors)
		}
		if meta.Valid {
			_ = json.Unmarshal([]byte(meta.String), &rec.Meta)
		}
		out = append(out, rec.result())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

func (s *sqliteStore) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_results WHERE seq <= (SELECT seq FROM sync_results ORDER BY seq DESC LIMIT 1 OFFSET ?)`,
		s.retain)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
