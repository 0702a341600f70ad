// Package store persists finished interview reports in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/lexiqai/interview-orchestrator/internal/feedback"
)

// ErrNotFound is returned by Get for an unknown session.
var ErrNotFound = errors.New("report not found")

// Config configures the report store.
type Config struct {
	Path string
	// RetentionDays drops reports older than this on Prune. Zero keeps them forever.
	RetentionDays int
	// MaxReports keeps only the newest reports on Prune. Zero means unlimited.
	MaxReports int
}

// Record is one stored interview.
type Record struct {
	SessionID  string          `json:"session_id"`
	TargetRole string          `json:"target_role,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	Report     feedback.Report `json:"report"`
}

// Summary is the listing view of a Record.
type Summary struct {
	SessionID    string    `json:"session_id"`
	TargetRole   string    `json:"target_role,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	AverageScore int       `json:"average_score"`
	Tier         string    `json:"tier"`
	Turns        int       `json:"turns"`
}

// ReportStore is a SQLite-backed report archive.
type ReportStore struct {
	db    *sql.DB
	cfg   Config
	log   zerolog.Logger
	clock func() time.Time
}

// Open creates the database if needed, applies the schema and prunes once.
func Open(ctx context.Context, cfg Config, log zerolog.Logger) (*ReportStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("store path is required")
	}
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &ReportStore{
		db:    db,
		cfg:   cfg,
		log:   log.With().Str("component", "report_store").Logger(),
		clock: time.Now,
	}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := s.Prune(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Report prune on start failed")
	}
	return s, nil
}

func (s *ReportStore) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS reports (
    session_id TEXT PRIMARY KEY,
    target_role TEXT NOT NULL DEFAULT '',
    average_score INTEGER NOT NULL,
    tier TEXT NOT NULL,
    turns INTEGER NOT NULL,
    report BLOB NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_created ON reports(created_at);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Close releases underlying resources.
func (s *ReportStore) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *ReportStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Save stores rec, replacing any report for the same session.
func (s *ReportStore) Save(ctx context.Context, rec Record) error {
	if rec.SessionID == "" {
		return errors.New("session id is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock()
	}
	payload, err := json.Marshal(rec.Report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reports(session_id, target_role, average_score, tier, turns, report, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   target_role=excluded.target_role, average_score=excluded.average_score, tier=excluded.tier,
		   turns=excluded.turns, report=excluded.report, created_at=excluded.created_at`,
		rec.SessionID, rec.TargetRole, rec.Report.AverageScore, rec.Report.Tier, len(rec.Report.Turns),
		payload, rec.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	s.log.Debug().Str("session_id", rec.SessionID).Int("turns", len(rec.Report.Turns)).Msg("Report saved")
	return nil
}

// Get loads the report for one session.
func (s *ReportStore) Get(ctx context.Context, sessionID string) (Record, error) {
	var (
		rec     Record
		payload []byte
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, target_role, report, created_at FROM reports WHERE session_id = ?`, sessionID).
		Scan(&rec.SessionID, &rec.TargetRole, &payload, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get report: %w", err)
	}
	if err := json.Unmarshal(payload, &rec.Report); err != nil {
		return Record{}, fmt.Errorf("decode report %s: %w", sessionID, err)
	}
	rec.CreatedAt = time.UnixMilli(created)
	return rec, nil
}

// List returns up to limit summaries, newest first.
func (s *ReportStore) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, target_role, average_score, tier, turns, created_at
		 FROM reports ORDER BY created_at DESC, session_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var created int64
		if err := rows.Scan(&sum.SessionID, &sum.TargetRole, &sum.AverageScore, &sum.Tier, &sum.Turns, &created); err != nil {
			return nil, err
		}
		sum.CreatedAt = time.UnixMilli(created)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Prune applies the retention settings and returns how many reports were removed.
func (s *ReportStore) Prune(ctx context.Context) (removed int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		res, err := tx.ExecContext(ctx, `DELETE FROM reports WHERE created_at < ?`, cutoff.UnixMilli())
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	if s.cfg.MaxReports > 0 {
		res, err := tx.ExecContext(ctx, `DELETE FROM reports WHERE session_id IN (
			SELECT session_id FROM reports ORDER BY created_at DESC, session_id LIMIT -1 OFFSET ?
		)`, s.cfg.MaxReports)
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	if removed > 0 {
		s.log.Info().Int64("removed", removed).Msg("Pruned old reports")
	}
	return removed, nil
}
