package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/DM-Mulani-963/LOGify/internal/record"
	"github.com/DM-Mulani-963/LOGify/internal/store"
)

func openMemStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecord(source string) record.LogRecord {
	return record.LogRecord{
		Source:      source,
		Timestamp:   time.Now(),
		Level:       record.LevelWarn,
		Message:     "something happened",
		Category:    record.CategorySecurity,
		Subcategory: "Auth",
		Privacy:     record.PrivacyInternal,
		SourceIP:    "10.0.0.1",
		DestIP:      "10.0.0.2",
		EventID:     "evt-1",
	}
}

func TestInsert_AssignsID(t *testing.T) {
	ctx := context.Background()
	s := openMemStore(t)

	rec, err := s.Insert(ctx, sampleRecord("/var/log/auth.log"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if rec.ID == 0 {
		t.Error("expected a non-zero ID after insert")
	}
	if rec.Synced {
		t.Error("a freshly inserted record must not be synced")
	}
}

func TestQueryUnsynced_ReturnsOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := openMemStore(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// Insert out of timestamp order so an id-based ORDER BY would fail this
	// test if the implementation ignored timestamp entirely.
	order := []time.Duration{2 * time.Hour, 0, 1 * time.Hour}
	for _, d := range order {
		rec := sampleRecord("/var/log/auth.log")
		rec.Timestamp = base.Add(d)
		if _, err := s.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	recs, err := s.QueryUnsynced(ctx, 10)
	if err != nil {
		t.Fatalf("QueryUnsynced: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].Timestamp.Before(recs[i-1].Timestamp) {
			t.Errorf("records not in ascending timestamp order: %+v", recs)
		}
	}
	if diff := recs[0].Timestamp.Sub(base); diff < -time.Millisecond || diff > time.Millisecond {
		t.Errorf("first record timestamp = %v, want ~%v (the earliest inserted)", recs[0].Timestamp, base)
	}
}

func TestMarkSynced_RemovesFromUnsyncedSet(t *testing.T) {
	ctx := context.Background()
	s := openMemStore(t)

	var ids []int64
	for i := 0; i < 5; i++ {
		rec, err := s.Insert(ctx, sampleRecord("/var/log/auth.log"))
		if err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
		ids = append(ids, rec.ID)
	}

	if err := s.MarkSynced(ctx, ids); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	unsynced, err := s.QueryUnsynced(ctx, 100)
	if err != nil {
		t.Fatalf("QueryUnsynced: %v", err)
	}
	if len(unsynced) != 0 {
		t.Errorf("got %d unsynced after MarkSynced(all), want 0: %+v", len(unsynced), unsynced)
	}
}

func TestMarkSynced_PartialSet_LeavesRestUnsynced(t *testing.T) {
	ctx := context.Background()
	s := openMemStore(t)

	rec1, err := s.Insert(ctx, sampleRecord("/var/log/auth.log"))
	if err != nil {
		t.Fatalf("Insert 1: %v", err)
	}
	if _, err := s.Insert(ctx, sampleRecord("/var/log/auth.log")); err != nil {
		t.Fatalf("Insert 2: %v", err)
	}

	if err := s.MarkSynced(ctx, []int64{rec1.ID}); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	unsynced, err := s.QueryUnsynced(ctx, 100)
	if err != nil {
		t.Fatalf("QueryUnsynced: %v", err)
	}
	if len(unsynced) != 1 {
		t.Fatalf("got %d unsynced, want 1", len(unsynced))
	}
	if unsynced[0].ID == rec1.ID {
		t.Error("the marked-synced record must not reappear in QueryUnsynced")
	}
}

func TestRecent_ReturnsNewestFirstAndSyncFlag(t *testing.T) {
	ctx := context.Background()
	s := openMemStore(t)

	rec1, err := s.Insert(ctx, sampleRecord("/var/log/auth.log"))
	if err != nil {
		t.Fatalf("Insert 1: %v", err)
	}
	rec2, err := s.Insert(ctx, sampleRecord("/var/log/nginx.log"))
	if err != nil {
		t.Fatalf("Insert 2: %v", err)
	}
	if err := s.MarkSynced(ctx, []int64{rec1.ID}); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	recent, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d records, want 2", len(recent))
	}
	if recent[0].ID != rec2.ID {
		t.Errorf("Recent[0].ID = %d, want newest %d", recent[0].ID, rec2.ID)
	}
	if !recent[1].Synced {
		t.Error("oldest record should be reported as synced")
	}
	if recent[0].Synced {
		t.Error("newest record should not be reported as synced")
	}
}

func TestDistinctSources_DeduplicatesAndSorts(t *testing.T) {
	ctx := context.Background()
	s := openMemStore(t)

	for _, src := range []string{"/var/log/b.log", "/var/log/a.log", "/var/log/b.log"} {
		if _, err := s.Insert(ctx, sampleRecord(src)); err != nil {
			t.Fatalf("Insert %q: %v", src, err)
		}
	}

	sources, err := s.DistinctSources(ctx)
	if err != nil {
		t.Fatalf("DistinctSources: %v", err)
	}
	want := []string{"/var/log/a.log", "/var/log/b.log"}
	if len(sources) != len(want) {
		t.Fatalf("got %v, want %v", sources, want)
	}
	for i := range want {
		if sources[i] != want[i] {
			t.Errorf("sources[%d] = %q, want %q", i, sources[i], want[i])
		}
	}
}

func TestStats_CountsTotalAndUnsynced(t *testing.T) {
	ctx := context.Background()
	s := openMemStore(t)

	rec1, err := s.Insert(ctx, sampleRecord("/var/log/auth.log"))
	if err != nil {
		t.Fatalf("Insert 1: %v", err)
	}
	if _, err := s.Insert(ctx, sampleRecord("/var/log/auth.log")); err != nil {
		t.Fatalf("Insert 2: %v", err)
	}
	if err := s.MarkSynced(ctx, []int64{rec1.ID}); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Total != 2 {
		t.Errorf("Total = %d, want 2", st.Total)
	}
	if st.Unsynced != 1 {
		t.Errorf("Unsynced = %d, want 1", st.Unsynced)
	}
}

func TestMarkSynced_ChunksOverTheInLimit(t *testing.T) {
	ctx := context.Background()
	s := openMemStore(t)

	const n = 1205 // exceeds the 900-id IN(...) chunk boundary
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		rec, err := s.Insert(ctx, sampleRecord("/var/log/auth.log"))
		if err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
		ids = append(ids, rec.ID)
	}

	if err := s.MarkSynced(ctx, ids); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	unsynced, err := s.QueryUnsynced(ctx, n)
	if err != nil {
		t.Fatalf("QueryUnsynced: %v", err)
	}
	if len(unsynced) != 0 {
		t.Errorf("got %d unsynced after marking all %d ids synced, want 0", len(unsynced), n)
	}
}
