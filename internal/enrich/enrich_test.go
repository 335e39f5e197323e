package enrich_test

import (
	"testing"

	"github.com/DM-Mulani-963/LOGify/internal/enrich"
	"github.com/DM-Mulani-963/LOGify/internal/record"
)

func TestInferLevel_FirstMatchWins(t *testing.T) {
	tests := []struct {
		message string
		want    record.Level
	}{
		{"a CRITICAL failure occurred", record.LevelCritical},
		{"an error was logged", record.LevelError},
		{"login fail for user bob", record.LevelError},
		{"warning: disk almost full", record.LevelWarn},
		{"debug trace enabled", record.LevelDebug},
		{"service started normally", record.LevelInfo},
	}
	for _, tt := range tests {
		if got := enrich.InferLevel(tt.message); got != tt.want {
			t.Errorf("InferLevel(%q) = %q, want %q", tt.message, got, tt.want)
		}
	}
}

func TestClassify_SecurityPaths(t *testing.T) {
	tests := []struct {
		path        string
		subcategory string
	}{
		{"/var/log/auth.log", "Failed Authentication"},
		{"/var/log/ufw.log", "Firewall"},
		{"/var/log/audit/audit.log", "Policy Violations"},
		{"/var/log/wtmp", "Login Tracking"},
	}
	for _, tt := range tests {
		cat, subcat, _ := enrich.Classify(tt.path)
		if cat != record.CategorySecurity {
			t.Errorf("Classify(%q) category = %q, want Security", tt.path, cat)
		}
		if subcat != tt.subcategory {
			t.Errorf("Classify(%q) subcategory = %q, want %q", tt.path, subcat, tt.subcategory)
		}
	}
}

func TestClassify_WebServerErrorsSplit(t *testing.T) {
	cat, subcat, privacy := enrich.Classify("/var/log/nginx/access.log")
	if cat != record.CategoryAdministrator || subcat != "Web Server" {
		t.Errorf("access.log classified as %q/%q", cat, subcat)
	}
	if privacy != record.PrivacyPublic {
		t.Errorf("access.log privacy = %q, want public", privacy)
	}

	cat, subcat, _ = enrich.Classify("/var/log/nginx/error.log")
	if cat != record.CategoryAdministrator || subcat != "Web Server Errors" {
		t.Errorf("error.log classified as %q/%q, want Administrator/Web Server Errors", cat, subcat)
	}
}

func TestClassify_ShellHistoryIsSensitiveUserActivity(t *testing.T) {
	cat, subcat, privacy := enrich.Classify("/home/alice/.bash_history")
	if cat != record.CategoryUserActivity || subcat != "Shell History" {
		t.Errorf("got %q/%q, want User Activity/Shell History", cat, subcat)
	}
	if privacy != record.PrivacySensitive {
		t.Errorf("privacy = %q, want sensitive", privacy)
	}
}

func TestClassify_UnmatchedPath_FallsBackToSystemOSEvents(t *testing.T) {
	cat, subcat, privacy := enrich.Classify("/var/log/some-random-app.log")
	if cat != record.CategorySystem || subcat != "OS Events" {
		t.Errorf("got %q/%q, want System/OS Events", cat, subcat)
	}
	if privacy != record.PrivacyPublic {
		t.Errorf("privacy = %q, want public", privacy)
	}
}

func TestClassify_KernelAndBootPaths(t *testing.T) {
	if cat, subcat, _ := enrich.Classify("/var/log/kern.log"); cat != record.CategorySystem || subcat != "Kernel" {
		t.Errorf("kern.log got %q/%q, want System/Kernel", cat, subcat)
	}
	if cat, subcat, _ := enrich.Classify("/var/log/boot.log"); cat != record.CategorySystem || subcat != "Startup/Shutdown" {
		t.Errorf("boot.log got %q/%q, want System/Startup/Shutdown", cat, subcat)
	}
}

func TestExtractNetwork_LabelledFieldsTakePriorityOverBareIPv4(t *testing.T) {
	msg := "SRC=10.0.0.5 DST=10.0.0.9 some other 8.8.8.8 noise"
	src, dst, _ := enrich.ExtractNetwork(msg)
	if src != "10.0.0.5" {
		t.Errorf("sourceIP = %q, want 10.0.0.5", src)
	}
	if dst != "10.0.0.9" {
		t.Errorf("destIP = %q, want 10.0.0.9", dst)
	}
}

func TestExtractNetwork_FallsBackToBareIPv4Pair(t *testing.T) {
	msg := "connection attempt 192.168.1.50 -> 192.168.1.1 refused"
	src, dst, _ := enrich.ExtractNetwork(msg)
	if src != "192.168.1.50" {
		t.Errorf("sourceIP = %q, want 192.168.1.50", src)
	}
	if dst != "192.168.1.1" {
		t.Errorf("destIP = %q, want 192.168.1.1", dst)
	}
}

func TestExtractNetwork_EventIDFromAuditType(t *testing.T) {
	_, _, eventID := enrich.ExtractNetwork("type=SYSCALL msg=audit(...): ...")
	if eventID != "SYSCALL" {
		t.Errorf("eventID = %q, want SYSCALL", eventID)
	}
}

func TestExtractNetwork_NoMatches_ReturnsEmptyStrings(t *testing.T) {
	src, dst, eventID := enrich.ExtractNetwork("a completely unremarkable line")
	if src != "" || dst != "" || eventID != "" {
		t.Errorf("got %q/%q/%q, want all empty", src, dst, eventID)
	}
}

func TestEnrich_CombinesClassificationLevelAndNetwork(t *testing.T) {
	e := enrich.Enrich("/var/log/auth.log", "Failed password for root from 10.0.0.1 port 22 ssh2")
	if e.Category != record.CategorySecurity || e.Subcategory != "Failed Authentication" {
		t.Errorf("classification = %q/%q", e.Category, e.Subcategory)
	}
	if e.Level != record.LevelError {
		t.Errorf("Level = %q, want ERROR (contains 'fail')", e.Level)
	}
	if e.SourceIP != "10.0.0.1" {
		t.Errorf("SourceIP = %q, want 10.0.0.1", e.SourceIP)
	}
}
