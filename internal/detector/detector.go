// Package detector implements the LOGify threat detector (C5): pattern
// matching against enriched log lines and shell commands, plus four
// sliding-window rate detections (brute force, port scan, source flood,
// error spike), gated by a per-alert-key cooldown so a sustained attack
// produces one alert per cooldown period instead of one per line. Ported
// from original_source/cli/logify/detector.py's ThreatDetector.
package detector

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DM-Mulani-963/LOGify/internal/record"
	"github.com/DM-Mulani-963/LOGify/internal/rulesconfig"
)

// Severity mirrors the Python source's severity vocabulary. It is kept
// distinct from record.Level: a ThreatEvent's severity reflects how
// dangerous the finding is, not how the originating line was logged.
type Severity string

// Valid Severity values, most to least severe.
const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// ThreatEvent is one detection surfaced by Analyze or AnalyzeShellCommand.
// AlertID is a locally generated correlation ID, not derived from the log
// line, so downstream consumers (activity log, aggregator) can dedupe a
// retried delivery without re-deriving identity from message text.
type ThreatEvent struct {
	AlertID        string
	Timestamp      time.Time
	ThreatType     string
	Severity       Severity
	Source         string
	Message        string
	SourceIP       string
	DestIP         string
	Recommendation string
}

// SlidingWindow keeps a deque of timestamps and reports how many fall
// within the trailing window as of each Add. Entries older than the window
// are culled on every read, matching detector.py's SlidingWindow.
type SlidingWindow struct {
	window time.Duration
	times  []time.Time
}

// NewSlidingWindow builds a SlidingWindow that counts events within window.
func NewSlidingWindow(window time.Duration) *SlidingWindow {
	return &SlidingWindow{window: window}
}

// Add records an event at now and returns the count of events still inside
// the window after culling stale entries.
func (w *SlidingWindow) Add(now time.Time) int {
	w.times = append(w.times, now)
	w.cull(now)
	return len(w.times)
}

func (w *SlidingWindow) cull(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.times) && w.times[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.times = w.times[i:]
	}
}

// SetSlidingWindow tracks distinct values (e.g. destination ports) seen
// within a trailing window, for detections like port scanning where what
// matters is breadth of distinct targets rather than raw event count.
type SetSlidingWindow struct {
	window  time.Duration
	entries []setEntry
}

type setEntry struct {
	value string
	at    time.Time
}

// NewSetSlidingWindow builds a SetSlidingWindow over window.
func NewSetSlidingWindow(window time.Duration) *SetSlidingWindow {
	return &SetSlidingWindow{window: window}
}

// Add records value at now and returns the number of distinct values seen
// within the window after culling stale entries.
func (w *SetSlidingWindow) Add(now time.Time, value string) int {
	w.entries = append(w.entries, setEntry{value: value, at: now})
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.entries) && w.entries[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.entries = w.entries[i:]
	}

	seen := make(map[string]struct{}, len(w.entries))
	for _, e := range w.entries {
		seen[e.value] = struct{}{}
	}
	return len(seen)
}

// rateKind identifies one of the four rate-based detections, each with its
// own cooldown bucket so a sustained flood doesn't also suppress an
// unrelated brute-force alert on the same source.
type rateKind string

const (
	kindBruteForce rateKind = "brute_force"
	kindPortScan   rateKind = "port_scan"
	kindFlood      rateKind = "flood"
	kindErrorSpike rateKind = "error_spike"
)

// Detector holds all per-source sliding-window state and cooldown tracking
// for one running agent. It is safe for concurrent use: Analyze and
// AnalyzeShellCommand serialize on an internal mutex. Callers should route
// all log lines through a single Detector instance so that every line
// shares the same windows and cooldowns.
type Detector struct {
	mu     sync.Mutex
	rules  rulesconfig.DetectorRules
	nowFn  func() time.Time
	bruteBySource map[string]*SlidingWindow
	scanBySource  map[string]*SetSlidingWindow
	floodBySource map[string]*SlidingWindow
	errorSpike    *SlidingWindow
	lastAlert     map[rateKind]map[string]time.Time
}

// New builds a Detector using the thresholds and windows in rules.
func New(rules rulesconfig.DetectorRules) *Detector {
	return &Detector{
		rules:         rules,
		nowFn:         time.Now,
		bruteBySource: make(map[string]*SlidingWindow),
		scanBySource:  make(map[string]*SetSlidingWindow),
		floodBySource: make(map[string]*SlidingWindow),
		errorSpike:    NewSlidingWindow(rules.ErrorSpikeWindow),
		lastAlert: map[rateKind]map[string]time.Time{
			kindBruteForce: {},
			kindPortScan:   {},
			kindFlood:      {},
			kindErrorSpike: {},
		},
	}
}

// shouldAlert enforces the per-kind, per-key cooldown: an alert for the
// same (kind, key) pair is suppressed until AlertCooldown has elapsed since
// the last one that fired.
func (d *Detector) shouldAlert(kind rateKind, key string, now time.Time) bool {
	last, ok := d.lastAlert[kind][key]
	if ok && now.Sub(last) < d.rules.AlertCooldown {
		return false
	}
	d.lastAlert[kind][key] = now
	return true
}

// Analyze runs the full C5 evaluation order over one enriched log line:
// pattern rules, then brute force, port scan, source flood, and finally the
// global error spike. The first positive result wins; Analyze returns
// (nil, false) when nothing fires.
func (d *Detector) Analyze(source string, level record.Level, message, sourceIP, destIP, eventID string) (*ThreatEvent, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.nowFn()

	// 1. Pattern rules.
	if rule, ok := matchPatterns(maliciousPatterns, message); ok {
		if rule.threat == AuthFailureThreatType {
			// Low-severity auth-fail cues never alert standalone; they only
			// feed the brute-force window below.
		} else {
			return &ThreatEvent{
				AlertID:        uuid.NewString(),
				Timestamp:      now,
				ThreatType:     rule.threat,
				Severity:       Severity(rule.severity),
				Source:         source,
				Message:        message,
				SourceIP:       sourceIP,
				DestIP:         destIP,
				Recommendation: recommend(rule.threat),
			}, true
		}
	}

	// 2. Brute force (rate): repeated auth failures from the same source.
	if isAuthFailure(message) {
		key := sourceIP
		if key == "" {
			key = "_unknown_"
		}
		w, ok := d.bruteBySource[key]
		if !ok {
			w = NewSlidingWindow(d.rules.BruteForceWindow)
			d.bruteBySource[key] = w
		}
		count := w.Add(now)
		if count >= d.rules.BruteForceThreshold && d.shouldAlert(kindBruteForce, key, now) {
			return &ThreatEvent{
				AlertID:        uuid.NewString(),
				Timestamp:      now,
				ThreatType:     "Brute Force",
				Severity:       SeverityHigh,
				Source:         source,
				Message:        message,
				SourceIP:       sourceIP,
				DestIP:         destIP,
				Recommendation: "Block source IP; enforce account lockout policy.",
			}, true
		}
	}

	// 3. Port scan (rate): one source probing many distinct destination
	// ports within the window.
	if port, ok := extractPort(message); ok && sourceIP != "" {
		w, ok := d.scanBySource[sourceIP]
		if !ok {
			w = NewSetSlidingWindow(d.rules.PortScanWindow)
			d.scanBySource[sourceIP] = w
		}
		distinct := w.Add(now, port)
		if distinct >= d.rules.PortScanThreshold && d.shouldAlert(kindPortScan, sourceIP, now) {
			return &ThreatEvent{
				AlertID:        uuid.NewString(),
				Timestamp:      now,
				ThreatType:     "Port Scan",
				Severity:       SeverityHigh,
				Source:         source,
				Message:        message,
				SourceIP:       sourceIP,
				DestIP:         destIP,
				Recommendation: recommend("Port Scanner"),
			}, true
		}
	}

	// 4. Source flood (rate): high raw event volume from one source.
	if sourceIP != "" {
		w, ok := d.floodBySource[sourceIP]
		if !ok {
			w = NewSlidingWindow(d.rules.FloodWindow)
			d.floodBySource[sourceIP] = w
		}
		count := w.Add(now)
		if count >= d.rules.FloodThreshold && d.shouldAlert(kindFlood, sourceIP, now) {
			return &ThreatEvent{
				AlertID:        uuid.NewString(),
				Timestamp:      now,
				ThreatType:     "Log Flood",
				Severity:       SeverityMedium,
				Source:         source,
				Message:        message,
				SourceIP:       sourceIP,
				DestIP:         destIP,
				Recommendation: "Rate-limit or block source IP.",
			}, true
		}
	}

	// 5. Error spike (global): elevated ERROR/CRITICAL volume across all
	// sources, not tied to any one IP.
	if level == record.LevelError || level == record.LevelCritical {
		count := d.errorSpike.Add(now)
		if count >= d.rules.ErrorSpikeThreshold && d.shouldAlert(kindErrorSpike, "_global_", now) {
			return &ThreatEvent{
				AlertID:        uuid.NewString(),
				Timestamp:      now,
				ThreatType:     "Error Spike",
				Severity:       SeverityMedium,
				Source:         source,
				Message:        message,
				Recommendation: "Investigate recent deploys or failures across monitored services.",
			}, true
		}
	}

	return nil, false
}

// AnalyzeShellCommand runs the shell-specific pattern table against one
// parsed shell-history command. It is independent of the rate detections
// above, since a single dangerous command warrants its own alert on sight.
func (d *Detector) AnalyzeShellCommand(command, shellFile, user string) (*ThreatEvent, bool) {
	rule, ok := matchPatterns(shellHistoryPatterns, command)
	if !ok {
		return nil, false
	}

	d.mu.Lock()
	now := d.nowFn()
	d.mu.Unlock()

	return &ThreatEvent{
		AlertID:        uuid.NewString(),
		Timestamp:      now,
		ThreatType:     rule.threat,
		Severity:       Severity(rule.severity),
		Source:         shellFile,
		Message:        command,
		Recommendation: recommend(rule.threat),
	}, true
}

func matchPatterns(rules []patternRule, text string) (patternRule, bool) {
	for _, r := range rules {
		if r.re.MatchString(text) {
			return r, true
		}
	}
	return patternRule{}, false
}

func isAuthFailure(message string) bool {
	lower := strings.ToLower(message)
	for _, cue := range authFailCues {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	return false
}

func extractPort(message string) (string, bool) {
	m := portPattern.FindStringSubmatch(message)
	if m == nil {
		return "", false
	}
	return m[1], true
}
