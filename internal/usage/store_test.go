package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := s.Record(ctx, Record{
			RequestID:    "req_1",
			UserID:       "u1",
			Backend:      "chat",
			Model:        "gpt-4o-mini",
			InputTokens:  100,
			OutputTokens: 20,
			Iterations:   1,
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum, err := s.Summary(time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 3 {
		t.Errorf("TotalRecords = %d, want 3", sum.TotalRecords)
	}
	if sum.TotalInputTokens != 300 || sum.TotalOutputTokens != 60 {
		t.Errorf("tokens = %d/%d", sum.TotalInputTokens, sum.TotalOutputTokens)
	}
}

func TestSummaryWindowExcludes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := Record{
		Timestamp:    time.Now().Add(-48 * time.Hour),
		RequestID:    "req_old",
		Backend:      "chat",
		Model:        "gpt-4o-mini",
		InputTokens:  500,
		OutputTokens: 50,
	}
	if err := s.Record(ctx, old); err != nil {
		t.Fatalf("Record: %v", err)
	}

	sum, err := s.Summary(time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 0 {
		t.Errorf("TotalRecords = %d, want 0", sum.TotalRecords)
	}
}

func TestSummaryByUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, u := range []string{"alice", "alice", "bob"} {
		if err := s.Record(ctx, Record{
			RequestID:   "r",
			UserID:      u,
			Backend:     "responses",
			Model:       "gpt-4o-mini",
			InputTokens: 10,
		}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	byUser, err := s.SummaryByUser(time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("SummaryByUser: %v", err)
	}
	if byUser["alice"].TotalRecords != 2 || byUser["bob"].TotalRecords != 1 {
		t.Errorf("byUser = %v", byUser)
	}
}
