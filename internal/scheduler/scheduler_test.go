package scheduler_test

import (
	"testing"
	"time"

	"github.com/DM-Mulani-963/LOGify/internal/rulesconfig"
	"github.com/DM-Mulani-963/LOGify/internal/scheduler"
)

func TestClassify_MatchesFirstTierInOrder(t *testing.T) {
	s := scheduler.New(rulesconfig.Defaults().Scheduler)

	tests := []struct {
		path string
		tier string
	}{
		{"/var/log/auth.log", "security"},
		{"/var/log/nginx/access.log", "web_db"},
		{"/var/log/syslog", "kernel_system_app"},
		{"/var/log/some-random-service.txt", "other"},
	}
	for _, tt := range tests {
		got := s.Classify(tt.path)
		if got.Name != tt.tier {
			t.Errorf("Classify(%q) = %q, want %q", tt.path, got.Name, tt.tier)
		}
	}
}

func TestClassify_ExtendedSubstrings(t *testing.T) {
	s := scheduler.New(rulesconfig.Defaults().Scheduler)

	tests := []struct {
		path string
		tier string
	}{
		{"/var/log/ufw.log", "security"},
		{"/var/log/redis/redis.log", "web_db"},
		{"/var/log/mongodb/mongod.log", "web_db"},
		{"/var/log/boot.log", "kernel_system_app"},
	}
	for _, tt := range tests {
		got := s.Classify(tt.path)
		if got.Name != tt.tier {
			t.Errorf("Classify(%q) = %q, want %q", tt.path, got.Name, tt.tier)
		}
	}
}

func TestClassify_NoFileIsEverDropped(t *testing.T) {
	s := scheduler.New(rulesconfig.Defaults().Scheduler)
	got := s.Classify("/var/log/totally-unclassified-file.log")
	if got.Name != "other" {
		t.Errorf("got tier %q, want fallback 'other'", got.Name)
	}
	if got.Interval != rulesconfig.Defaults().Scheduler.DefaultInterval {
		t.Errorf("got interval %v, want default %v", got.Interval, rulesconfig.Defaults().Scheduler.DefaultInterval)
	}
}

func TestPlan_GroupsPathsByTier(t *testing.T) {
	s := scheduler.New(rulesconfig.Defaults().Scheduler)
	plan := s.Plan([]string{
		"/var/log/auth.log",
		"/var/log/secure",
		"/var/log/nginx/error.log",
	})

	if len(plan["security"]) != 2 {
		t.Errorf("security tier = %v, want 2 files", plan["security"])
	}
	if len(plan["web_db"]) != 1 {
		t.Errorf("web_db tier = %v, want 1 file", plan["web_db"])
	}
}

func TestInterval_UnknownTierFallsBackToDefault(t *testing.T) {
	s := scheduler.New(rulesconfig.Defaults().Scheduler)
	if got := s.Interval("not-a-real-tier"); got != rulesconfig.Defaults().Scheduler.DefaultInterval {
		t.Errorf("Interval(unknown) = %v, want default", got)
	}
	if got := s.Interval("security"); got != 1*time.Second {
		t.Errorf("Interval(security) = %v, want 1s", got)
	}
}
