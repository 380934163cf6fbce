package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/sonic-trainer/internal/domain"
)

func newTestLedger(t *testing.T) *SQLiteLedger {
	t.Helper()
	l, err := NewSQLite(filepath.Join(t.TempDir(), "data", "ledger.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func record(id, client string, started time.Time) *domain.SessionRecord {
	return &domain.SessionRecord{
		SessionID: id,
		ClientID:  client,
		Scenario:  "smb-prospecting",
		Voice:     "tiffany",
		Mode:      "voice",
		StartedAt: started,
	}
}

func TestTouchClientTracksFirstAndLastSeen(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	first := time.Unix(1_700_000_000, 0)
	later := first.Add(time.Hour)
	if err := l.TouchClient(ctx, "anon_1", first); err != nil {
		t.Fatal(err)
	}
	if err := l.TouchClient(ctx, "anon_1", later); err != nil {
		t.Fatal(err)
	}

	c, err := l.GetClient(ctx, "anon_1")
	if err != nil || c == nil {
		t.Fatalf("GetClient = %v, %v", c, err)
	}
	if !c.FirstSeenAt.Equal(first) || !c.LastSeenAt.Equal(later) {
		t.Fatalf("unexpected timestamps: %+v", c)
	}

	missing, err := l.GetClient(ctx, "anon_unknown")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown client, got %v, %v", missing, err)
	}
}

func TestSessionLifecycleRows(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	start := time.Unix(1_700_000_000, 0)

	if err := l.RecordCreated(ctx, record("session_1", "anon_1", start)); err != nil {
		t.Fatalf("RecordCreated failed: %v", err)
	}
	if err := l.RecordState(ctx, "session_1", domain.StateActive, "", start); err != nil {
		t.Fatal(err)
	}
	end := start.Add(90 * time.Second)
	if err := l.RecordState(ctx, "session_1", domain.StateEnded, "", end); err != nil {
		t.Fatal(err)
	}
	// Terminal rows do not move again.
	if err := l.RecordState(ctx, "session_1", domain.StateFailed, "late", end.Add(time.Second)); err != nil {
		t.Fatal(err)
	}

	rec, err := l.GetSession(ctx, "session_1")
	if err != nil || rec == nil {
		t.Fatalf("GetSession = %v, %v", rec, err)
	}
	if rec.State != domain.StateEnded || rec.Failure != "" || rec.EndedAt == nil || !rec.EndedAt.Equal(end) {
		t.Fatalf("unexpected row: %+v", rec)
	}
}

func TestRecordStateStoresFailure(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	now := time.Now()

	_ = l.RecordCreated(ctx, record("session_f", "anon_1", now))
	if err := l.RecordState(ctx, "session_f", domain.StateFailed, "access denied", now); err != nil {
		t.Fatal(err)
	}
	rec, _ := l.GetSession(ctx, "session_f")
	if rec.State != domain.StateFailed || rec.Failure != "access denied" {
		t.Fatalf("unexpected row: %+v", rec)
	}
}

func TestListByClientNewestFirst(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	for i, id := range []string{"s1", "s2", "s3"} {
		if err := l.RecordCreated(ctx, record(id, "anon_1", base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}
	_ = l.RecordCreated(ctx, record("other", "anon_2", base))

	got, err := l.ListByClient(ctx, "anon_1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].SessionID != "s3" || got[1].SessionID != "s2" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestCountByStateAndMarkAbandoned(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	now := time.Now()

	_ = l.RecordCreated(ctx, record("a", "c", now))
	_ = l.RecordCreated(ctx, record("b", "c", now))
	_ = l.RecordCreated(ctx, record("c", "c", now))
	_ = l.RecordState(ctx, "b", domain.StateActive, "", now)
	_ = l.RecordState(ctx, "c", domain.StateEnded, "", now)

	n, err := l.MarkAbandoned(ctx, now)
	if err != nil || n != 2 {
		t.Fatalf("MarkAbandoned = %d, %v", n, err)
	}

	counts, err := l.CountByState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[domain.StateAbandoned] != 2 || counts[domain.StateEnded] != 1 || counts[domain.StateActive] != 0 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestWithRetryRetriesConflicts(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), "op", func() error {
		calls++
		if calls < 2 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("withRetry = %v after %d calls", err, calls)
	}

	calls = 0
	plain := errors.New("constraint failed")
	if err := withRetry(context.Background(), "op", func() error { calls++; return plain }); !errors.Is(err, plain) || calls != 1 {
		t.Fatalf("non-conflict error retried: %v after %d calls", err, calls)
	}
}

func TestIsConflict(t *testing.T) {
	cases := map[string]bool{
		"SQLITE_BUSY: database busy": true,
		"database is locked":         true,
		"no such table: sessions":    false,
	}
	for msg, want := range cases {
		if got := isConflict(errors.New(msg)); got != want {
			t.Errorf("isConflict(%q) = %v, want %v", msg, got, want)
		}
	}
	if isConflict(nil) {
		t.Error("isConflict(nil) = true")
	}
}
