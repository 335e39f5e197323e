// Package syncupload implements the LOGify sync uploader (C8): it runs on
// a fixed cycle, batches not-yet-synced records out of the log store, and
// POSTs them to the remote aggregator's opaque HTTP ingestion endpoint.
// Ported from original_source/cli/logify/sync.py's sync_logs, replacing
// its single-shot CLI invocation with a ticking background loop in the
// style of the teacher's transport client.
package syncupload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/DM-Mulani-963/LOGify/internal/activity"
	"github.com/DM-Mulani-963/LOGify/internal/config"
	"github.com/DM-Mulani-963/LOGify/internal/record"
)

// batchSize caps how many records go into a single POST body.
const batchSize = 2000

// requestTimeout bounds each individual upload request.
const requestTimeout = 30 * time.Second

// recordsPath is appended to the configured aggregator base URL.
const recordsPath = "/api/database/records/logs"

// store is the subset of *store.Store the uploader needs; declared locally
// so this package has no import-cycle dependency on internal/store.
type store interface {
	QueryUnsynced(ctx context.Context, limit int) ([]record.LogRecord, error)
	MarkSynced(ctx context.Context, ids []int64) error
}

// entry is the wire shape POSTed to the aggregator, matching sync.py's
// log_entries dict exactly (field names are fixed by the remote schema).
type entry struct {
	ServerID  string         `json:"server_id"`
	Source    string         `json:"source"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Timestamp string         `json:"timestamp"`
	LogType   string         `json:"log_type"`
	SourceIP  *string        `json:"source_ip"`
	DestIP    *string        `json:"dest_ip"`
	EventID   *string        `json:"event_id"`
	Meta      map[string]any `json:"meta"`
}

// Uploader periodically uploads unsynced records to the aggregator.
type Uploader struct {
	cfg      *config.Store
	store    store
	activity *activity.Logger
	client   *http.Client
	interval time.Duration
}

// New builds an Uploader. interval is the cycle cadence between sync
// attempts; spec default is 300s.
func New(cfg *config.Store, st store, act *activity.Logger, interval time.Duration) *Uploader {
	return &Uploader{
		cfg:      cfg,
		store:    st,
		activity: act,
		client:   &http.Client{Timeout: requestTimeout},
		interval: interval,
	}
}

// Run blocks, syncing on every tick of interval, until ctx is cancelled.
func (u *Uploader) Run(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := u.SyncOnce(ctx); err != nil {
				u.activity.Error(activity.ComponentSync, "sync cycle failed: %v", err)
			}
		}
	}
}

// SyncOnce runs a single sync cycle: check auth, fetch unsynced records
// ascending, upload in batches of at most batchSize, mark each successful
// batch synced, and stamp the config's last-sync time only if at least one
// record was synced. It returns the number of records successfully
// synced.
func (u *Uploader) SyncOnce(ctx context.Context) (int, error) {
	cfg, err := u.cfg.Load()
	if err != nil && !errors.Is(err, config.ErrConfigMissing) {
		return 0, fmt.Errorf("syncupload: load config: %w", err)
	}
	if !cfg.Authenticated() {
		return 0, nil
	}

	unsynced, err := u.store.QueryUnsynced(ctx, 1_000_000)
	if err != nil {
		return 0, fmt.Errorf("syncupload: query unsynced: %w", err)
	}
	if len(unsynced) == 0 {
		return 0, nil
	}

	u.activity.SyncEvent("starting sync: %d unsynced logs", len(unsynced))

	url := strings.TrimRight(cfg.InsforgeURL, "/") + recordsPath
	var syncedIDs []int64
	var uploadErr error

	for i := 0; i < len(unsynced); i += batchSize {
		end := i + batchSize
		if end > len(unsynced) {
			end = len(unsynced)
		}
		batch := unsynced[i:end]

		entries := make([]entry, len(batch))
		ids := make([]int64, len(batch))
		for j, rec := range batch {
			entries[j] = toEntry(rec, cfg.ServerID)
			ids[j] = rec.ID
		}

		ok, err := u.postBatch(ctx, url, cfg.AnonKey, entries)
		if err != nil {
			uploadErr = fmt.Errorf("syncupload: upload batch: %w", err)
			break
		}
		if !ok {
			// Abort-on-failure: do not mark any further batch synced, and
			// do not mark this batch synced either.
			break
		}
		syncedIDs = append(syncedIDs, ids...)
	}

	if len(syncedIDs) == 0 {
		return 0, uploadErr
	}

	if err := u.store.MarkSynced(ctx, syncedIDs); err != nil {
		return 0, fmt.Errorf("syncupload: mark synced: %w", err)
	}
	if err := u.cfg.RecordSync(time.Now()); err != nil {
		return len(syncedIDs), fmt.Errorf("syncupload: record sync time: %w", err)
	}

	u.activity.SyncEvent("sync complete: %d logs uploaded", len(syncedIDs))
	return len(syncedIDs), uploadErr
}

// postBatch uploads entries and reports whether the aggregator accepted
// them (HTTP 200, 201, or 204).
func (u *Uploader) postBatch(ctx context.Context, url, anonKey string, entries []entry) (bool, error) {
	body, err := json.Marshal(entries)
	if err != nil {
		return false, fmt.Errorf("marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+anonKey)
	req.Header.Set("Prefer", "return=minimal")

	resp, err := u.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return true, nil
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 100))
		u.activity.Warn(activity.ComponentSync, "batch upload failed: %d - %s", resp.StatusCode, string(snippet))
		return false, nil
	}
}

// sanitize strips NUL bytes (PostgreSQL rejects them) and returns nil for
// an empty result, matching sync.py's sanitize().
func sanitize(s string) *string {
	cleaned := strings.ReplaceAll(s, "\x00", "")
	if cleaned == "" {
		return nil
	}
	return &cleaned
}

// sanitizeString strips NUL bytes like sanitize but keeps the required,
// non-pointer wire shape of Source/Message.
func sanitizeString(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

func toEntry(rec record.LogRecord, serverID string) entry {
	level := strings.ToUpper(stringOr(string(rec.Level), "INFO"))
	logType := stringOr(string(rec.Category), "System")

	return entry{
		ServerID:  serverID,
		Source:    sanitizeString(stringOr(rec.Source, "")),
		Level:     level,
		Message:   sanitizeString(stringOr(rec.Message, "")),
		Timestamp: rec.Timestamp.UTC().Format("2006-01-02T15:04:05.000000") + "Z",
		LogType:   logType,
		SourceIP:  sanitize(rec.SourceIP),
		DestIP:    sanitize(rec.DestIP),
		EventID:   sanitize(rec.EventID),
		Meta:      map[string]any{},
	}
}

func stringOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
