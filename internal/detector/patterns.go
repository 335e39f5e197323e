package detector

import "regexp"

// patternRule is one (regex, threat_type, severity) entry. Compiled once at
// startup, matched case-insensitively, in declared order.
type patternRule struct {
	re       *regexp.Regexp
	threat   string
	severity string
}

// AuthFailureThreatType is the pattern-level label for low-severity auth-fail
// cues. A match on this threat type never produces a ThreatEvent on its own;
// it only feeds the brute-force rate window (see Detector.Analyze).
const AuthFailureThreatType = "Auth Failure"

// maliciousPatterns is the generic, source-agnostic ruleset applied to every
// enriched log line. Carried over verbatim from
// original_source/cli/logify/detector.py's MALICIOUS_PATTERNS.
var maliciousPatterns = compileRules([]ruleSpec{
	{`bash\s+-i\s+>&\s*/dev/tcp`, "Reverse Shell", "CRITICAL"},
	{`nc\s+-e\s+/bin`, "Reverse Shell", "CRITICAL"},
	{`python.*socket.*connect`, "Reverse Shell", "HIGH"},
	{`powershell.*encodedcommand`, "Encoded Payload", "CRITICAL"},

	{`union\s+select`, "SQL Injection", "HIGH"},
	{`'\s*or\s+'1'\s*=\s*'1`, "SQL Injection", "HIGH"},
	{`\.\./\.\./`, "Path Traversal", "HIGH"},
	{`<script[^>]*>`, "XSS Attempt", "MEDIUM"},
	{`eval\s*\(|exec\s*\(`, "Code Execution", "HIGH"},
	{`wget\s+http|curl\s+-[a-z]*\s+http`, "Dropper Download", "HIGH"},

	{`sudo\s+-[a-zA-Z]*s`, "Privilege Escalation", "HIGH"},
	{`chmod\s+[4-7]777`, "SUID Backdoor", "HIGH"},
	{`/etc/passwd|/etc/shadow`, "Credential Access", "HIGH"},

	{`crontab\s+-[a-z]*e|/etc/cron`, "Persistence", "MEDIUM"},
	{`systemctl\s+enable`, "Service Persistence", "LOW"},
	{`/tmp/\.`, "Hidden Tmp File", "MEDIUM"},

	{`xmrig|cryptonight|monero`, "Cryptominer", "HIGH"},
	{`ransom|encrypt.*files|\.locked`, "Ransomware", "CRITICAL"},

	{`nmap|masscan|zmap`, "Port Scanner", "MEDIUM"},
	{`nikto|sqlmap|hydra|medusa`, "Attack Tool", "HIGH"},

	{`failed password|authentication failure|invalid user`, AuthFailureThreatType, "LOW"},
})

// shellHistoryPatterns is the shell-specific ruleset used only by the
// shell-history watcher (C6), carried over verbatim from
// original_source/cli/logify/detector.py's SHELL_HISTORY_PATTERNS.
var shellHistoryPatterns = compileRules([]ruleSpec{
	{`bash\s+-i\s+>&\s*/dev/tcp`, "Reverse Shell", "CRITICAL"},
	{`nc\s+(-e|--exec)\s+/bin`, "Reverse Shell", "CRITICAL"},
	{`python.*-c.*socket.*connect`, "Reverse Shell", "CRITICAL"},
	{`perl.*-e.*socket`, "Reverse Shell", "HIGH"},
	{`socat.*exec.*bash`, "Reverse Shell", "CRITICAL"},
	{`mkfifo\s+/tmp/.*nc\s+`, "Reverse Shell", "CRITICAL"},

	{`sudo\s+su\b|sudo\s+-i\b|sudo\s+bash\b`, "Root Escalation", "CRITICAL"},
	{`sudo\s+chmod\s+[4-7][0-7]{3}\s+/bin/(ba)?sh`, "SUID Shell Backdoor", "CRITICAL"},
	{`chmod\s+[4-7][0-7]{3}\s+/tmp/`, "SUID Backdoor in /tmp", "CRITICAL"},
	{`find\s+/.*-perm\s+-4000`, "SUID Enumeration", "HIGH"},
	{`pkexec\s+|polkit`, "Polkit Escalation", "HIGH"},
	{`env\s+.*LD_PRELOAD`, "LD_PRELOAD Hijack", "CRITICAL"},
	{`\$\(id\).*root|id.*uid=0`, "Root Check", "MEDIUM"},

	{`crontab\s+-e|echo.*>.*cron`, "Cron Persistence", "HIGH"},
	{`echo.*>>\s*/etc/(rc\.local|profile|bashrc|bash_profile|crontab)`, "RC/Profile Persistence", "HIGH"},
	{`systemctl\s+enable\s+\S+`, "Service Persistence", "MEDIUM"},
	{`echo.*>\.ssh/authorized_keys`, "SSH Key Backdoor", "CRITICAL"},
	{`cat\s+>>\s*~?\.ssh/authorized_keys`, "SSH Key Backdoor", "CRITICAL"},

	{`cat\s+/etc/shadow|cat\s+/etc/passwd`, "Credential Dump", "HIGH"},
	{`unshadow|john\s+--|hashcat`, "Password Cracking", "HIGH"},
	{`mimikatz|lsadump|sekurlsa`, "Credential Dumping", "CRITICAL"},
	{`cat\s+~/.ssh/(id_rsa|id_ed25519)\b`, "SSH Key Theft", "CRITICAL"},
	{`history\s*-c|unset\s+HISTFILE|HISTSIZE=0`, "History Clearing", "HIGH"},

	{`curl\s+--data|curl\s+-d\s+.*http`, "Data Exfiltration", "HIGH"},
	{`rsync\s+.*@.*:\s*/|scp\s+.*/etc/`, "Remote File Copy", "HIGH"},
	{`tar\s+.*\|.*nc\s+`, "Tar Exfil over Netcat", "CRITICAL"},
	{`base64\s+-d.*\|.*bash|echo.*base64.*\|.*bash`, "Base64 Payload Exec", "CRITICAL"},
	{`curl.*\|\s*bash|wget.*\|.*bash`, "Curl Pipe to Bash", "CRITICAL"},

	{`ssh\s+-o\s+StrictHostKeyChecking=no`, "SSH No-Check Connect", "MEDIUM"},
	{`for\s+ip\s+in|for\s+host\s+in.*ssh`, "SSH Lateral Sweep", "HIGH"},
	{`proxychains|sshuttle`, "Traffic Tunneling", "HIGH"},

	{`nmap\s+|masscan\s+|zmap\s+`, "Port Scan Tool", "MEDIUM"},
	{`nikto|sqlmap|gobuster|dirbuster|wfuzz`, "Web Attack Tool", "HIGH"},
	{`hydra|medusa|crackmapexec|ncrack`, "Brute Force Tool", "HIGH"},
	{`linpeas|linenum|linux-exploit-suggester`, "Linux Privesc Script", "HIGH"},
	{`\bwhoami\b.*&&|id\s*&&.*sudo`, "Recon Chain", "MEDIUM"},

	{`wget\s+.*-O\s+/tmp/|curl\s+.*-o\s+/tmp/`, "Dropper to /tmp", "HIGH"},
	{`chmod\s+\+x\s+/tmp/`, "Execute from /tmp", "HIGH"},
	{`xmrig|minerd|cpuminer`, "Cryptominer", "HIGH"},
	{`rm\s+-rf\s+/(?:tmp)?`, "Destructive rm -rf", "CRITICAL"},

	{`shred\s+|wipe\s+|rm\s+.*\.log`, "Log Deletion", "HIGH"},
	{`>\s*/var/log/|truncate.*--size=0.*/var/log`, "Log Truncation", "HIGH"},
	{`echo\s+""\s+>\s+/var/log`, "Log Clearing", "HIGH"},
})

// portPattern extracts a destination port from DPT=/dport=/DPORT= style
// fields embedded in firewall and audit log lines.
var portPattern = regexp.MustCompile(`(?i)(?:DPT|dport|DPORT)[=:\s]+(\d+)`)

// authFailCues are the substrings that mark a line as an authentication
// failure for the purposes of the brute-force rate window.
var authFailCues = []string{
	"failed password", "authentication failure", "invalid user",
	"failed login", "access denied", "login failed", "wrong password",
}

// recommendations maps a threat type to its canned operator guidance.
// Unknown threat types fall back to a generic instruction.
var recommendations = map[string]string{
	"Reverse Shell":        "Kill the process immediately: sudo ss -tp | grep <port>",
	"SQL Injection":        "Review WAF / application logs and patch input validation.",
	"Path Traversal":       "Patch web app input sanitization; check accessed files.",
	"XSS Attempt":          "Check if payload was reflected; review CSP headers.",
	"Code Execution":       "Isolate the host; perform forensics on execution context.",
	"Dropper Download":     "Block outbound wget/curl; check /tmp for new binaries.",
	"Privilege Escalation": "Audit sudoers; check SUID binaries with: find / -perm -4000",
	"SUID Backdoor":        "Investigate file: remove SUID and audit who changed it.",
	"Credential Access":    "Rotate credentials; check /etc/passwd and /etc/shadow.",
	"Port Scanner":         "Block source IP; review firewall rules.",
	"Cryptominer":          "Kill miner process; audit cron and startup scripts.",
	"Ransomware":           "ISOLATE HOST IMMEDIATELY. Do not pay ransom.",
	"Persistence":          "Audit cron jobs and systemd services for unknown entries.",
	"Attack Tool":          "Block source IP; review affected services.",
	"Encoded Payload":      "Decode and analyze the payload; check for execution.",
}

func recommend(threatType string) string {
	if rec, ok := recommendations[threatType]; ok {
		return rec
	}
	return "Investigate the log entry immediately."
}

type ruleSpec struct {
	pattern  string
	threat   string
	severity string
}

func compileRules(specs []ruleSpec) []patternRule {
	rules := make([]patternRule, len(specs))
	for i, s := range specs {
		rules[i] = patternRule{
			re:       regexp.MustCompile("(?i)" + s.pattern),
			threat:   s.threat,
			severity: s.severity,
		}
	}
	return rules
}
