// Package scheduler classifies log file paths into priority tiers and
// assigns each tier a poll cadence, implementing the LOGify agent's
// multilevel-queue scheduling: every file is watched, but tiers classified
// as more security-relevant are polled more frequently. Carried over from
// original_source/cli/logify/scheduler.py's classify_file and
// assign_priority_levels, with the tier table itself externalized to
// internal/rulesconfig so it can be retuned without a rebuild.
package scheduler

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/DM-Mulani-963/LOGify/internal/rulesconfig"
)

// Tier is a classified priority level for one or more watched files.
type Tier struct {
	Name     string
	Interval time.Duration
}

// Scheduler classifies paths into tiers using an ordered substring table.
type Scheduler struct {
	tiers    []rulesconfig.TierRule
	fallback time.Duration
}

// New builds a Scheduler from the tier rules and default cadence in r.
func New(r rulesconfig.SchedulerRules) *Scheduler {
	return &Scheduler{tiers: r.Tiers, fallback: r.DefaultInterval}
}

// Classify returns the Tier assigned to path. Path and filename (lowercased)
// are checked against each tier's substrings in the order the tiers were
// configured; the first match wins. A path matching no tier gets the
// "other" tier at the default cadence — no file is ever dropped from
// monitoring, regardless of tier.
func (s *Scheduler) Classify(path string) Tier {
	lowerPath := strings.ToLower(path)
	lowerName := strings.ToLower(filepath.Base(path))

	for _, t := range s.tiers {
		for _, sub := range t.Substrings {
			if strings.Contains(lowerName, sub) || strings.Contains(lowerPath, sub) {
				return Tier{Name: t.Name, Interval: t.Interval}
			}
		}
	}
	return Tier{Name: "other", Interval: s.fallback}
}

// Plan assigns every path in paths to its tier, returning the set of
// distinct tiers in use mapped to the files classified into them. This is
// the direct analogue of assign_priority_levels/schedule_files_multilevel:
// the caller runs one ticking loop per tier rather than one per file.
func (s *Scheduler) Plan(paths []string) map[string][]string {
	plan := make(map[string][]string)
	for _, p := range paths {
		tier := s.Classify(p)
		plan[tier.Name] = append(plan[tier.Name], p)
	}
	return plan
}

// Interval returns the poll cadence configured for tier name, or the
// scheduler's default cadence if name is not one of its configured tiers.
func (s *Scheduler) Interval(name string) time.Duration {
	for _, t := range s.tiers {
		if t.Name == name {
			return t.Interval
		}
	}
	return s.fallback
}
