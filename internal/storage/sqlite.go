//go:build sqlite
// +build sqlite

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

	logx "github.com/engels74/mover-status-sub004/pkg/logx"
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

func (s *sqliteStore) AppendDelivery(ctx context.Context, r DeliveryRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries(at, correlation_id, event_type, provider, success, should_retry, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?)`,
		r.At.Format(time.RFC3339Nano), r.CorrelationID, r.EventType, r.Provider,
		boolInt(r.Success), boolInt(r.ShouldRetry), nullStr(r.Error), r.TookMS,
	)
	return err
}

func (s *sqliteStore) PutRunState(ctx context.Context, st RunState) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runstate(id, active, started_at, initial_used, last_percent, last_threshold, updated_at)
		 VALUES(1,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   active=excluded.active, started_at=excluded.started_at,
		   initial_used=excluded.initial_used, last_percent=excluded.last_percent,
		   last_threshold=excluded.last_threshold, updated_at=excluded.updated_at`,
		boolInt(st.Active), st.StartedAt.Format(time.RFC3339Nano), int64(st.InitialUsed),
		st.LastPercent, st.LastThreshold, st.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) GetRunState(ctx context.Context) (RunState, bool, error) {
	if s == nil || s.db == nil {
		return RunState{}, false, ErrDisabled
	}
	var (
		active, threshold  int
		started, updated   string
		initialUsed        int64
		lastPercent        float64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT active, started_at, initial_used, last_percent, last_threshold, updated_at FROM runstate WHERE id = 1`,
	).Scan(&active, &started, &initialUsed, &lastPercent, &threshold, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return RunState{}, false, nil
	}
	if err != nil {
		return RunState{}, false, err
	}

	st := RunState{
		Active:        active != 0,
		InitialUsed:   uint64(initialUsed),
		LastPercent:   lastPercent,
		LastThreshold: threshold,
	}
	if t, err := time.Parse(time.RFC3339Nano, started); err == nil {
		st.StartedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		st.UpdatedAt = t
	}
	return st, true, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
