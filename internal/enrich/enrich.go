// Package enrich implements the LOGify line enricher (C4): it turns a raw
// (path, line) pair into an Enriched value, the level, classification and
// network fields of a record.LogRecord, by inferring
// severity level, classifying the line by category/subcategory/privacy from
// path tokens, and extracting network fields via an ordered set of regex
// probes. Classification is a pure function of path: the same path always
// yields the same (category, subcategory, privacy) triple.
package enrich

import (
	"net"
	"regexp"
	"strings"

	"github.com/DM-Mulani-963/LOGify/internal/record"
)

// Enriched is the output of Enrich: everything the line enricher can derive
// without reference to detector state.
type Enriched struct {
	Level       record.Level
	Category    record.Category
	Subcategory string
	Privacy     record.Privacy
	SourceIP    string
	DestIP      string
	EventID     string
}

// levelRule is one entry in the ordered level-inference table.
type levelRule struct {
	substr string
	level  record.Level
}

// levelRules is evaluated top to bottom; the first match wins.
var levelRules = []levelRule{
	{"critical", record.LevelCritical},
	{"error", record.LevelError},
	{"fail", record.LevelError},
	{"warn", record.LevelWarn},
	{"debug", record.LevelDebug},
}

// InferLevel scans message case-insensitively against levelRules in order,
// defaulting to INFO when nothing matches.
func InferLevel(message string) record.Level {
	lower := strings.ToLower(message)
	for _, r := range levelRules {
		if strings.Contains(lower, r.substr) {
			return r.level
		}
	}
	return record.LevelInfo
}

// classification is one row of the path-classification table.
type classification struct {
	match       func(pathLower, nameLower string) bool
	category    record.Category
	subcategory string
	errSubcat   string // used when the filename also contains "error"
	privacy     record.Privacy
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

var classifyTable = []classification{
	{
		match:       func(p, n string) bool { return containsAny(n, "auth", "secure", "faillog", "btmp") },
		category:    record.CategorySecurity,
		subcategory: "Failed Authentication",
		privacy:     record.PrivacyInternal,
	},
	{
		match:       func(p, n string) bool { return containsAny(n, "ufw", "firewalld") },
		category:    record.CategorySecurity,
		subcategory: "Firewall",
		privacy:     record.PrivacyInternal,
	},
	{
		match:       func(p, n string) bool { return containsAny(n, "audit", "apparmor") },
		category:    record.CategorySecurity,
		subcategory: "Policy Violations",
		privacy:     record.PrivacyInternal,
	},
	{
		match:       func(p, n string) bool { return containsAny(n, "wtmp", "utmp", "lastlog") },
		category:    record.CategorySecurity,
		subcategory: "Login Tracking",
		privacy:     record.PrivacyInternal,
	},
	{
		match:       func(p, n string) bool { return containsAny(p, "nginx", "apache", "httpd") },
		category:    record.CategoryAdministrator,
		subcategory: "Web Server",
		errSubcat:   "Web Server Errors",
		privacy:     record.PrivacyPublic,
	},
	{
		match:       func(p, n string) bool { return containsAny(p, "mysql", "postgres", "redis", "mongodb") },
		category:    record.CategoryAdministrator,
		subcategory: "Database",
		errSubcat:   "Database Errors",
		privacy:     record.PrivacyInternal,
	},
	{
		match:       func(p, n string) bool { return containsAny(p, "/sudo", "/root/") },
		category:    record.CategoryAdministrator,
		subcategory: "Root Actions",
		privacy:     record.PrivacySensitive,
	},
	{
		match:       func(p, n string) bool { return containsAny(n, "dpkg", "apt", "yum", "dnf") },
		category:    record.CategoryAdministrator,
		subcategory: "Configuration Changes",
		privacy:     record.PrivacyInternal,
	},
	{
		match:       func(p, n string) bool { return containsAny(n, "bash_history", "zsh_history", "fish_history") },
		category:    record.CategoryUserActivity,
		subcategory: "Shell History",
		privacy:     record.PrivacySensitive,
	},
	{
		match:       func(p, n string) bool { return containsAny(p, ".mozilla", "chrome", "chromium") },
		category:    record.CategoryUserActivity,
		subcategory: "Browser History",
		privacy:     record.PrivacySensitive,
	},
}

// Classify derives (category, subcategory, privacy) purely from path. It
// implements the C4 classification table, including the Errors/non-Errors
// split for web and database logs based on whether the filename itself
// contains "error".
func Classify(path string) (record.Category, string, record.Privacy) {
	pathLower := strings.ToLower(path)
	nameLower := strings.ToLower(baseName(path))

	for _, c := range classifyTable {
		if c.match(pathLower, nameLower) {
			subcat := c.subcategory
			if c.errSubcat != "" && strings.Contains(nameLower, "error") {
				subcat = c.errSubcat
			}
			return c.category, subcat, c.privacy
		}
	}

	// System fallback: kernel/boot/hardware/else.
	switch {
	case containsAny(nameLower, "kern", "dmesg"):
		return record.CategorySystem, "Kernel", record.PrivacyPublic
	case containsAny(nameLower, "boot"):
		return record.CategorySystem, "Startup/Shutdown", record.PrivacyPublic
	case containsAny(pathLower, "xorg") || containsAny(nameLower, "hardware"):
		return record.CategorySystem, "Hardware", record.PrivacyPublic
	default:
		return record.CategorySystem, "OS Events", record.PrivacyPublic
	}
}

func baseName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Network-field extraction regexes, evaluated in the declared order; first
// hit wins per field.
var (
	ipv4Pattern   = `(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})`
	reSrcEQ       = regexp.MustCompile(`(?i)SRC=` + ipv4Pattern)
	reSaddrEQ     = regexp.MustCompile(`(?i)saddr=` + ipv4Pattern)
	reSrcWord     = regexp.MustCompile(`(?i)(?:from|client|rhost)\s+` + ipv4Pattern)
	reAnyIPv4     = regexp.MustCompile(ipv4Pattern)
	reDstEQ       = regexp.MustCompile(`(?i)DST=` + ipv4Pattern)
	reDaddrEQ     = regexp.MustCompile(`(?i)daddr=` + ipv4Pattern)
	reDstWord     = regexp.MustCompile(`(?i)(?:to|dest|server)\s+` + ipv4Pattern)
	reEventIDEQ   = regexp.MustCompile(`(?i)EventID[=:\s]+(\d+)`)
	reEventCodeEQ = regexp.MustCompile(`(?i)EventCode[=:\s]+(\d+)`)
	reAuditType   = regexp.MustCompile(`(?i)type=(\w+)`)
	reUFWAction   = regexp.MustCompile(`\[UFW (\w+)\]`)
)

// ExtractNetwork runs the ordered regex probes over message and returns
// whichever source_ip, dest_ip, and event_id fields could be found.
func ExtractNetwork(message string) (sourceIP, destIP, eventID string) {
	switch {
	case reSrcEQ.MatchString(message):
		sourceIP = reSrcEQ.FindStringSubmatch(message)[1]
	case reSaddrEQ.MatchString(message):
		sourceIP = reSaddrEQ.FindStringSubmatch(message)[1]
	case reSrcWord.MatchString(message):
		sourceIP = reSrcWord.FindStringSubmatch(message)[1]
	}

	switch {
	case reDstEQ.MatchString(message):
		destIP = reDstEQ.FindStringSubmatch(message)[1]
	case reDaddrEQ.MatchString(message):
		destIP = reDaddrEQ.FindStringSubmatch(message)[1]
	case reDstWord.MatchString(message):
		destIP = reDstWord.FindStringSubmatch(message)[1]
	}

	// Generic IPv4 fallback: if neither labelled probe found a source, take
	// the first IPv4 in the line; if dest is still empty, try the second
	// distinct IPv4.
	if sourceIP == "" {
		all := reAnyIPv4.FindAllString(message, -1)
		for _, ip := range all {
			if net.ParseIP(ip) == nil {
				continue
			}
			if sourceIP == "" {
				sourceIP = ip
				continue
			}
			if destIP == "" && ip != sourceIP {
				destIP = ip
				break
			}
		}
	}

	switch {
	case reEventIDEQ.MatchString(message):
		eventID = reEventIDEQ.FindStringSubmatch(message)[1]
	case reEventCodeEQ.MatchString(message):
		eventID = reEventCodeEQ.FindStringSubmatch(message)[1]
	case reAuditType.MatchString(message):
		eventID = reAuditType.FindStringSubmatch(message)[1]
	case reUFWAction.MatchString(message):
		eventID = reUFWAction.FindStringSubmatch(message)[1]
	}

	return sourceIP, destIP, eventID
}

// Enrich produces the full C4 output for one (path, line) pair. Callers are
// expected to have already trimmed whitespace and discarded empty lines.
func Enrich(path, message string) Enriched {
	category, subcategory, privacy := Classify(path)
	sourceIP, destIP, eventID := ExtractNetwork(message)
	return Enriched{
		Level:       InferLevel(message),
		Category:    category,
		Subcategory: subcategory,
		Privacy:     privacy,
		SourceIP:    sourceIP,
		DestIP:      destIP,
		EventID:     eventID,
	}
}
