package syncupload_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DM-Mulani-963/LOGify/internal/activity"
	"github.com/DM-Mulani-963/LOGify/internal/config"
	"github.com/DM-Mulani-963/LOGify/internal/record"
	"github.com/DM-Mulani-963/LOGify/internal/syncupload"
)

// fakeStore is an in-memory stand-in for *store.Store, sufficient to drive
// the uploader's query/mark-synced contract without a real database.
type fakeStore struct {
	mu     sync.Mutex
	recs   map[int64]record.LogRecord
	synced map[int64]bool
	nextID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{recs: map[int64]record.LogRecord{}, synced: map[int64]bool{}}
}

func (s *fakeStore) insert(rec record.LogRecord) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = s.nextID
	s.recs[rec.ID] = rec
	return rec.ID
}

func (s *fakeStore) QueryUnsynced(ctx context.Context, limit int) ([]record.LogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []record.LogRecord
	for id := int64(1); id <= s.nextID && len(out) < limit; id++ {
		if rec, ok := s.recs[id]; ok && !s.synced[id] {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkSynced(ctx context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.synced[id] = true
	}
	return nil
}

func testLogger(t *testing.T) *activity.Logger {
	t.Helper()
	l, err := activity.Open(filepath.Join(t.TempDir(), "activity.log"))
	if err != nil {
		t.Fatalf("activity.Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func authenticatedConfig(t *testing.T, serverURL string) *config.Store {
	t.Helper()
	cs, err := config.Open(t.TempDir())
	if err != nil {
		t.Fatalf("config.Open: %v", err)
	}
	if err := cs.Save(config.Config{
		ConnectionKey: "ck",
		ServerID:      "srv-1",
		InsforgeURL:   serverURL,
		AnonKey:       "anon",
	}); err != nil {
		t.Fatalf("config.Save: %v", err)
	}
	return cs
}

func TestSyncOnce_Unauthenticated_SkipsWithoutError(t *testing.T) {
	cs, err := config.Open(t.TempDir())
	if err != nil {
		t.Fatalf("config.Open: %v", err)
	}
	st := newFakeStore()
	st.insert(sampleRecord())

	u := syncupload.New(cs, st, testLogger(t), time.Minute)
	n, err := u.SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}
	if n != 0 {
		t.Errorf("synced = %d, want 0 when unauthenticated", n)
	}
}

func TestSyncOnce_NoUnsyncedRecords_NoOp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("server should not be contacted when there is nothing to sync")
	}))
	defer srv.Close()

	cs := authenticatedConfig(t, srv.URL)
	st := newFakeStore()

	u := syncupload.New(cs, st, testLogger(t), time.Minute)
	n, err := u.SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}
	if n != 0 {
		t.Errorf("synced = %d, want 0", n)
	}
}

func TestSyncOnce_SuccessfulUpload_MarksSyncedAndStampsLastSync(t *testing.T) {
	var gotEntries []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer anon" {
			t.Errorf("missing bearer auth header: %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&gotEntries); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	cs := authenticatedConfig(t, srv.URL)
	st := newFakeStore()
	id1 := st.insert(sampleRecord())
	id2 := st.insert(sampleRecord())

	u := syncupload.New(cs, st, testLogger(t), time.Minute)
	n, err := u.SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}
	if n != 2 {
		t.Fatalf("synced = %d, want 2", n)
	}
	if len(gotEntries) != 2 {
		t.Fatalf("server received %d entries, want 2", len(gotEntries))
	}

	for _, id := range []int64{id1, id2} {
		if !st.synced[id] {
			t.Errorf("record %d was not marked synced", id)
		}
	}

	cfg, err := cs.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LastSync == "" {
		t.Error("expected LastSync to be stamped after a successful sync")
	}
}

func TestSyncOnce_ServerError_AbortsWithoutMarkingAnythingSynced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cs := authenticatedConfig(t, srv.URL)
	st := newFakeStore()
	id1 := st.insert(sampleRecord())

	u := syncupload.New(cs, st, testLogger(t), time.Minute)
	n, err := u.SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}
	if n != 0 {
		t.Errorf("synced = %d, want 0 on server failure", n)
	}
	if st.synced[id1] {
		t.Error("record must not be marked synced after a failed batch")
	}

	cfg, err := cs.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LastSync != "" {
		t.Error("LastSync must not be stamped when nothing was synced")
	}
}

func TestSyncOnce_UploadStripsNULBytesFromEveryField(t *testing.T) {
	var gotEntries []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotEntries); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	cs := authenticatedConfig(t, srv.URL)
	st := newFakeStore()
	st.insert(record.LogRecord{
		Source:    "/var/log/auth\x00.log",
		Timestamp: time.Now(),
		Level:     record.LevelWarn,
		Message:   "bad\x00 line",
		Category:  record.CategorySecurity,
		SourceIP:  "10.0.0.\x001",
		DestIP:    "10.0.0.\x002",
		EventID:   "evt\x00-1",
	})

	u := syncupload.New(cs, st, testLogger(t), time.Minute)
	if _, err := u.SyncOnce(context.Background()); err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}
	if len(gotEntries) != 1 {
		t.Fatalf("server received %d entries, want 1", len(gotEntries))
	}

	got := gotEntries[0]
	if got["source"] != "/var/log/auth.log" {
		t.Errorf("source = %q, want NUL stripped", got["source"])
	}
	if got["message"] != "bad line" {
		t.Errorf("message = %q, want NUL stripped", got["message"])
	}
	if got["source_ip"] != "10.0.0.1" {
		t.Errorf("source_ip = %q, want NUL stripped", got["source_ip"])
	}
	if got["dest_ip"] != "10.0.0.2" {
		t.Errorf("dest_ip = %q, want NUL stripped", got["dest_ip"])
	}
	if got["event_id"] != "evt-1" {
		t.Errorf("event_id = %q, want NUL stripped", got["event_id"])
	}
}

func sampleRecord() record.LogRecord {
	return record.LogRecord{
		Source:    "/var/log/auth.log",
		Timestamp: time.Now(),
		Level:     record.LevelWarn,
		Message:   "something happened",
		Category:  record.CategorySecurity,
		SourceIP:  "10.0.0.1",
	}
}
