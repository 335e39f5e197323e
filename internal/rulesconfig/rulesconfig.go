// Package rulesconfig loads the tunable detection and scheduling constants
// that the LOGify agent would otherwise hard-code: threat-detector
// thresholds and windows, priority-tier cadences, and the substrings used to
// classify a path into a tier. Keeping them in a YAML file means an operator
// can retune sensitivity without a rebuild.
package rulesconfig

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Rules is the top-level tunables document, loaded from rules.yaml.
type Rules struct {
	Detector  DetectorRules  `yaml:"detector"`
	Scheduler SchedulerRules `yaml:"scheduler"`
}

// DetectorRules holds the sliding-window thresholds used by the threat
// detector (see package detector).
type DetectorRules struct {
	BruteForceThreshold int           `yaml:"brute_force_threshold"`
	BruteForceWindow    time.Duration `yaml:"brute_force_window"`
	PortScanThreshold   int           `yaml:"port_scan_threshold"`
	PortScanWindow      time.Duration `yaml:"port_scan_window"`
	FloodThreshold      int           `yaml:"flood_threshold"`
	FloodWindow         time.Duration `yaml:"flood_window"`
	ErrorSpikeThreshold int           `yaml:"error_spike_threshold"`
	ErrorSpikeWindow    time.Duration `yaml:"error_spike_window"`
	AlertCooldown       time.Duration `yaml:"alert_cooldown"`
}

// TierRule maps a set of path substrings to a priority tier and its poll
// cadence. Rules are evaluated in order; the first match wins.
type TierRule struct {
	Name       string        `yaml:"name"`
	Substrings []string      `yaml:"substrings"`
	Interval   time.Duration `yaml:"interval"`
}

// SchedulerRules holds the priority-tier classification table and the
// resource-negotiation formula multipliers used by the resource guard.
type SchedulerRules struct {
	Tiers            []TierRule `yaml:"tiers"`
	DefaultInterval  time.Duration `yaml:"default_interval"`
	FDPerFile        int           `yaml:"fd_per_file"`
	FDOverhead       int           `yaml:"fd_overhead"`
	InotifyPerFiles  int           `yaml:"inotify_instances_per_files"`
	WatchesPerFile   int           `yaml:"watches_per_file"`
	MinInstanceFloor int           `yaml:"min_instance_floor"`
	MinWatchFloor    int           `yaml:"min_watch_floor"`
}

// Defaults returns the built-in tunables, matching the constants in
// original_source/cli/logify/detector.py and scheduler.py exactly. Load
// falls back to these whenever rules.yaml is absent.
func Defaults() Rules {
	return Rules{
		Detector: DetectorRules{
			BruteForceThreshold: 5,
			BruteForceWindow:    60 * time.Second,
			PortScanThreshold:   15,
			PortScanWindow:      30 * time.Second,
			FloodThreshold:      50,
			FloodWindow:         10 * time.Second,
			ErrorSpikeThreshold: 20,
			ErrorSpikeWindow:    30 * time.Second,
			AlertCooldown:       300 * time.Second,
		},
		Scheduler: SchedulerRules{
			Tiers: []TierRule{
				{
					Name:       "security",
					Substrings: []string{"auth", "secure", "ufw", "audit", "fail2ban"},
					Interval:   1 * time.Second,
				},
				{
					Name:       "web_db",
					Substrings: []string{"nginx", "apache", "httpd", "mysql", "postgres", "redis", "mongo"},
					Interval:   2 * time.Second,
				},
				{
					Name:       "kernel_system_app",
					Substrings: []string{"kern", "boot", "dmesg", "syslog"},
					Interval:   5 * time.Second,
				},
			},
			DefaultInterval:  10 * time.Second,
			FDPerFile:        2,
			FDOverhead:       100,
			InotifyPerFiles:  10,
			WatchesPerFile:   2,
			MinInstanceFloor: 1024,
			MinWatchFloor:    524288,
		},
	}
}

// Load reads and validates the rules document at path. If path does not
// exist, Load returns Defaults() and a nil error: an absent rules.yaml is a
// normal "use the defaults" state, not a failure.
func Load(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Defaults(), nil
		}
		return Rules{}, fmt.Errorf("rulesconfig: read %q: %w", path, err)
	}

	r := Defaults()
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rules{}, fmt.Errorf("rulesconfig: parse %q: %w", path, err)
	}

	if err := validate(&r); err != nil {
		return Rules{}, fmt.Errorf("rulesconfig: validation failed for %q: %w", path, err)
	}
	return r, nil
}

// validate checks that every tunable is a usable positive value. As with the
// teacher's config validator, every problem is collected and returned
// together via errors.Join so a misconfigured file is diagnosed in one pass.
func validate(r *Rules) error {
	var errs []error

	d := &r.Detector
	if d.BruteForceThreshold <= 0 {
		errs = append(errs, errors.New("detector.brute_force_threshold must be positive"))
	}
	if d.BruteForceWindow <= 0 {
		errs = append(errs, errors.New("detector.brute_force_window must be positive"))
	}
	if d.PortScanThreshold <= 0 {
		errs = append(errs, errors.New("detector.port_scan_threshold must be positive"))
	}
	if d.PortScanWindow <= 0 {
		errs = append(errs, errors.New("detector.port_scan_window must be positive"))
	}
	if d.FloodThreshold <= 0 {
		errs = append(errs, errors.New("detector.flood_threshold must be positive"))
	}
	if d.FloodWindow <= 0 {
		errs = append(errs, errors.New("detector.flood_window must be positive"))
	}
	if d.ErrorSpikeThreshold <= 0 {
		errs = append(errs, errors.New("detector.error_spike_threshold must be positive"))
	}
	if d.ErrorSpikeWindow <= 0 {
		errs = append(errs, errors.New("detector.error_spike_window must be positive"))
	}
	if d.AlertCooldown <= 0 {
		errs = append(errs, errors.New("detector.alert_cooldown must be positive"))
	}

	s := &r.Scheduler
	if s.DefaultInterval <= 0 {
		errs = append(errs, errors.New("scheduler.default_interval must be positive"))
	}
	if s.FDPerFile <= 0 {
		errs = append(errs, errors.New("scheduler.fd_per_file must be positive"))
	}
	if s.FDOverhead <= 0 {
		errs = append(errs, errors.New("scheduler.fd_overhead must be positive"))
	}
	if s.InotifyPerFiles <= 0 {
		errs = append(errs, errors.New("scheduler.inotify_instances_per_files must be positive"))
	}
	if s.WatchesPerFile <= 0 {
		errs = append(errs, errors.New("scheduler.watches_per_file must be positive"))
	}
	if s.MinInstanceFloor <= 0 {
		errs = append(errs, errors.New("scheduler.min_instance_floor must be positive"))
	}
	if s.MinWatchFloor <= 0 {
		errs = append(errs, errors.New("scheduler.min_watch_floor must be positive"))
	}
	for i, t := range s.Tiers {
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("scheduler.tiers[%d]: name is required", i))
		}
		if len(t.Substrings) == 0 {
			errs = append(errs, fmt.Errorf("scheduler.tiers[%d]: at least one substring is required", i))
		}
		if t.Interval <= 0 {
			errs = append(errs, fmt.Errorf("scheduler.tiers[%d]: interval must be positive", i))
		}
	}

	return errors.Join(errs...)
}
