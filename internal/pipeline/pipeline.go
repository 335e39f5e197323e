// Package pipeline wires the LOGify components (C1-C10) into the running
// agent: resource guard at startup, one tier worker per priority tier
// tailing its files, a parallel shell-history watcher, a periodic sync
// uploader, and the shared detector/store/activity singletons they all
// call into. Structure (functional options, Start/Stop, health surface)
// is adapted from the teacher's internal/agent orchestrator; the wiring
// itself follows section 5 of the expanded specification rather than the
// teacher's gRPC-fed event queue.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DM-Mulani-963/LOGify/internal/activity"
	"github.com/DM-Mulani-963/LOGify/internal/config"
	"github.com/DM-Mulani-963/LOGify/internal/detector"
	"github.com/DM-Mulani-963/LOGify/internal/enrich"
	"github.com/DM-Mulani-963/LOGify/internal/record"
	"github.com/DM-Mulani-963/LOGify/internal/resource"
	"github.com/DM-Mulani-963/LOGify/internal/rulesconfig"
	"github.com/DM-Mulani-963/LOGify/internal/scheduler"
	"github.com/DM-Mulani-963/LOGify/internal/shellwatch"
	"github.com/DM-Mulani-963/LOGify/internal/store"
	"github.com/DM-Mulani-963/LOGify/internal/syncupload"
	"github.com/DM-Mulani-963/LOGify/internal/tracker"
)

// Store is the subset of *store.Store the pipeline depends on.
type Store interface {
	Insert(ctx context.Context, rec record.LogRecord) (record.LogRecord, error)
	QueryUnsynced(ctx context.Context, limit int) ([]record.LogRecord, error)
	MarkSynced(ctx context.Context, ids []int64) error
	Recent(ctx context.Context, limit int) ([]record.LogRecord, error)
	DistinctSources(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (store.Stats, error)
}

// Option configures a Pipeline at construction time.
type Option func(*Pipeline)

// WithShellWatch enables the shell-history watcher over the given user
// homes, polling every pollInterval (spec default 2s).
func WithShellWatch(userHomes map[string]string, includeRoot bool, pollInterval time.Duration) Option {
	return func(p *Pipeline) {
		p.shellWatcher = shellwatch.New(userHomes, includeRoot)
		p.shellPollInterval = pollInterval
	}
}

// WithUploadInterval overrides the sync uploader's cadence.
func WithUploadInterval(d time.Duration) Option {
	return func(p *Pipeline) { p.uploadInterval = d }
}

// Pipeline is the top-level, long-lived orchestrator for one agent
// process. Construct with New, then Start; Stop is safe to call multiple
// times and blocks until every task has exited.
type Pipeline struct {
	rules    rulesconfig.Rules
	cfg      *config.Store
	store    Store
	det      *detector.Detector
	act      *activity.Logger
	sched    *scheduler.Scheduler
	uploader *syncupload.Uploader

	shellWatcher      *shellwatch.Watcher
	shellPollInterval time.Duration
	uploadInterval    time.Duration

	trackers  map[string]*tracker.Tracker  // tier name -> tracker
	wakeChans map[string]<-chan string     // tier name -> fsnotify fast-wake channel

	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu      sync.Mutex
	started bool
	health  Health
}

// Health is a point-in-time snapshot surfaced through the local
// introspection HTTP endpoint.
type Health struct {
	Running        bool      `json:"running"`
	TrackedFiles   int       `json:"tracked_files"`
	LastUploadedAt time.Time `json:"last_uploaded_at,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
}

// New builds a Pipeline. paths is the initial set of log files to track,
// classified into tiers by rules.Scheduler.
func New(rules rulesconfig.Rules, cfg *config.Store, st Store, det *detector.Detector, act *activity.Logger, paths []string, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		rules:          rules,
		cfg:            cfg,
		store:          st,
		det:            det,
		act:            act,
		sched:          scheduler.New(rules.Scheduler),
		uploadInterval: 300 * time.Second,
		trackers:       make(map[string]*tracker.Tracker),
		wakeChans:      make(map[string]<-chan string),
	}
	for _, opt := range opts {
		opt(p)
	}

	plan := p.sched.Plan(paths)
	for tierName, tierPaths := range plan {
		t := tracker.New()
		t.OnRotated(func(path string) {
			p.act.WatcherEvent("rotated: %s", path)
		})
		t.OnPermissionDenied(func(path string) {
			p.act.Warn(activity.ComponentWatcher, "permission denied: %s", path)
		})
		for _, path := range tierPaths {
			if err := t.Add(path, tierName); err != nil {
				return nil, fmt.Errorf("pipeline: track %q: %w", path, err)
			}
		}
		p.trackers[tierName] = t

		if wake, err := t.EnableFastWake(); err == nil {
			p.wakeChans[tierName] = wake
		} else {
			p.act.Warn(activity.ComponentWatcher, "fast-wake disabled for tier %s: %v", tierName, err)
		}
	}

	p.uploader = syncupload.New(cfg, st, act, p.uploadInterval)
	return p, nil
}

// CheckResources runs the C1 resource guard over the full path set before
// Start is called. Callers should treat a non-nil error as fatal, per
// spec's "process exits only on ResourceLimit at startup" policy.
func CheckResources(rules rulesconfig.SchedulerRules, fileCount int) (resource.Report, error) {
	guard := &resource.Guard{}
	req := resource.Compute(fileCount, rules.FDPerFile, rules.FDOverhead, rules.InotifyPerFiles, rules.WatchesPerFile, rules.MinInstanceFloor, rules.MinWatchFloor)
	return guard.Ensure(req)
}

// Start launches one goroutine per tier tracker, the shell watcher (if
// configured), and the sync uploader. It returns immediately; use Stop to
// shut down gracefully.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.health.Running = true
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for tierName, t := range p.trackers {
		p.wg.Add(1)
		go p.runTier(ctx, tierName, t)
	}

	if p.shellWatcher != nil {
		p.wg.Add(1)
		go p.runShellWatch(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.uploader.Run(ctx)
	}()
}

// Stop cancels every running task and blocks until they exit. Per spec's
// shutdown ordering, it lets C3/C6 stop issuing new reads, allows the
// uploader to finish or abort its current cycle, then the caller is
// expected to close the store and activity log after Stop returns.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()
		for _, t := range p.trackers {
			t.Close()
		}
		p.mu.Lock()
		p.health.Running = false
		p.mu.Unlock()
	})
}

// HealthSnapshot returns the current Health state for the introspection
// surface.
func (p *Pipeline) HealthSnapshot() Health {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, t := range p.trackers {
		total += len(t.Paths())
	}
	h := p.health
	h.TrackedFiles = total
	return h
}

func (p *Pipeline) runTier(ctx context.Context, tierName string, t *tracker.Tracker) {
	defer p.wg.Done()
	interval := p.sched.Interval(tierName)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	wake := p.wakeChans[tierName]

	pollOne := func(path string) {
		lines, err := t.Poll(path)
		if err != nil {
			p.act.Warn(activity.ComponentWatcher, "poll %s: %v", path, err)
			return
		}
		for _, line := range lines {
			p.ingest(ctx, line.Path, line.Text)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case path := <-wake:
			// fsnotify fast path: re-read only the file that changed.
			// wake is nil (never fires) when fast-wake is unavailable.
			pollOne(path)
		case <-ticker.C:
			for _, path := range t.Paths() {
				pollOne(path)
			}
		}
	}
}

func (p *Pipeline) runShellWatch(ctx context.Context) {
	defer p.wg.Done()
	interval := p.shellPollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.shellWatcher.OnPermissionDenied(func(path string) {
		p.act.Warn(activity.ComponentShellHist, "permission denied: %s", path)
	})

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			commands, err := p.shellWatcher.Poll()
			if err != nil {
				p.act.Warn(activity.ComponentShellHist, "poll failed: %v", err)
				continue
			}
			for _, cmd := range commands {
				p.ingestShellCommand(ctx, cmd)
			}
		}
	}
}

// ingest runs one raw log line through C4 -> C5 -> C7, matching the
// ordering guarantee that a record reaches the store before any threat
// derived from it is considered final.
func (p *Pipeline) ingest(ctx context.Context, path, message string) {
	e := enrich.Enrich(path, message)

	rec := record.LogRecord{
		Source:      path,
		Timestamp:   time.Now(),
		Level:       e.Level,
		Message:     message,
		Category:    e.Category,
		Subcategory: e.Subcategory,
		Privacy:     e.Privacy,
		SourceIP:    e.SourceIP,
		DestIP:      e.DestIP,
		EventID:     e.EventID,
	}

	if _, err := p.store.Insert(ctx, rec); err != nil {
		p.act.Warn(activity.ComponentLogify, "insert failed, dropping line: %v", err)
	}

	if ev, ok := p.det.Analyze(path, e.Level, message, e.SourceIP, e.DestIP, e.EventID); ok {
		p.act.Threat("%s (%s) from %s: %s", ev.ThreatType, ev.Severity, ev.SourceIP, ev.Recommendation)
	}
}

// ingestShellCommand persists one shell command (Redacted text for a
// sensitive one) and
// runs it through the shell-specific detector rules, per C6.
func (p *Pipeline) ingestShellCommand(ctx context.Context, cmd shellwatch.Command) {
	rec := record.LogRecord{
		Source:      cmd.Source,
		Timestamp:   time.Now(),
		Level:       record.LevelInfo,
		Message:     cmd.Text,
		Category:    record.CategoryUserActivity,
		Subcategory: "Shell History",
		Privacy:     record.PrivacySensitive,
	}

	if _, err := p.store.Insert(ctx, rec); err != nil {
		p.act.Warn(activity.ComponentLogify, "insert failed, dropping shell command: %v", err)
	}

	if ev, ok := p.det.AnalyzeShellCommand(cmd.Text, cmd.Source, cmd.User); ok {
		p.act.Threat("%s (%s) from %s: %s", ev.ThreatType, ev.Severity, cmd.User, ev.Recommendation)
	}
}
