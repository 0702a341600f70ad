package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-orchestrator/internal/feedback"
)

func openTestStore(t *testing.T, cfg Config) *ReportStore {
	t.Helper()
	cfg.Path = filepath.Join(t.TempDir(), "data", "reports.db")
	s, err := Open(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("open report store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleReport(scores ...int) feedback.Report {
	turns := make([]feedback.Turn, len(scores))
	for i, score := range scores {
		turns[i] = feedback.Turn{
			Question:   "Question",
			Answer:     "Answer",
			Evaluation: &feedback.Evaluation{Score: score, Strengths: []string{"Clear communication"}},
		}
	}
	return feedback.Aggregate(turns)
}

func TestSaveAndGet(t *testing.T) {
	s := openTestStore(t, Config{})
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	rec := Record{SessionID: "s-1", TargetRole: "SRE", CreatedAt: created, Report: sampleReport(90, 70)}
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Get(ctx, "s-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TargetRole != "SRE" {
		t.Errorf("Expected target role SRE, got %q", got.TargetRole)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("Expected created %v, got %v", created, got.CreatedAt)
	}
	if got.Report.AverageScore != 80 || got.Report.Tier != "Good" {
		t.Errorf("Expected 80/Good, got %d/%s", got.Report.AverageScore, got.Report.Tier)
	}
	if len(got.Report.Turns) != 2 || got.Report.Turns[0].Evaluation == nil || got.Report.Turns[0].Evaluation.Score != 90 {
		t.Errorf("Expected turns to round-trip, got %+v", got.Report.Turns)
	}
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t, Config{})
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSaveReplaces(t *testing.T) {
	s := openTestStore(t, Config{})
	ctx := context.Background()

	if err := s.Save(ctx, Record{SessionID: "s-1", Report: sampleReport(40)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(ctx, Record{SessionID: "s-1", Report: sampleReport(95)}); err != nil {
		t.Fatalf("save: %v", err)
	}

	list, err := s.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].AverageScore != 95 || list[0].Tier != "Excellent" {
		t.Errorf("Expected single replaced report, got %+v", list)
	}
}

func TestSaveRequiresSessionID(t *testing.T) {
	s := openTestStore(t, Config{})
	if err := s.Save(context.Background(), Record{}); err == nil {
		t.Error("Expected error for empty session id")
	}
}

func TestListNewestFirst(t *testing.T) {
	s := openTestStore(t, Config{})
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		rec := Record{SessionID: id, CreatedAt: base.Add(time.Duration(i) * time.Hour), Report: sampleReport(50 + i*10)}
		if err := s.Save(ctx, rec); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	list, err := s.List(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("Expected 2 summaries, got %d", len(list))
	}
	if list[0].SessionID != "c" || list[1].SessionID != "b" {
		t.Errorf("Expected c, b; got %s, %s", list[0].SessionID, list[1].SessionID)
	}
	if list[0].Turns != 1 || list[0].AverageScore != 70 {
		t.Errorf("Unexpected summary %+v", list[0])
	}
}

func TestPruneByDaysAndCount(t *testing.T) {
	s := openTestStore(t, Config{RetentionDays: 30, MaxReports: 2})
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	s.clock = func() time.Time { return now }

	records := []Record{
		{SessionID: "ancient", CreatedAt: now.AddDate(0, 0, -60)},
		{SessionID: "old", CreatedAt: now.AddDate(0, 0, -10)},
		{SessionID: "recent", CreatedAt: now.AddDate(0, 0, -2)},
		{SessionID: "today", CreatedAt: now},
	}
	for _, rec := range records {
		rec.Report = sampleReport(60)
		if err := s.Save(ctx, rec); err != nil {
			t.Fatalf("save %s: %v", rec.SessionID, err)
		}
	}

	removed, err := s.Prune(ctx)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 removed, got %d", removed)
	}

	list, err := s.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].SessionID != "today" || list[1].SessionID != "recent" {
		t.Errorf("Expected today and recent to survive, got %+v", list)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), Config{}, zerolog.Nop()); err == nil {
		t.Error("Expected error without path")
	}
}
