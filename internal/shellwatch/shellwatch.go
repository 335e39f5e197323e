// Package shellwatch implements the LOGify shell-history watcher (C6): it
// tails each known user's shell-history files, parses newly appended
// commands per the owning shell's on-disk format, redacts anything
// matching a sensitive-data pattern, and hands every command (redacted ones
// as placeholder text) to the threat detector for the shell-specific
// pattern table. Ported from
// original_source/cli/logify/user_activity.py's collect_shell_history,
// restructured from a one-shot collector into an incremental byte-offset
// tailer so it fits the agent's continuous-monitoring model.
package shellwatch

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/DM-Mulani-963/LOGify/internal/detector"
)

// Redacted is the replacement text persisted in place of any command
// matching a sensitive-data pattern. The command still produces a stored
// record, but only this placeholder is stored and passed to detection, so
// its text is never exposed.
const Redacted = "[FILTERED: Contains sensitive data]"

// sensitivePatterns mirrors user_activity.py's SENSITIVE_PATTERNS.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)password\s*=`),
	regexp.MustCompile(`(?i)passwd\s+`),
	regexp.MustCompile(`(?i)api[_-]?key`),
	regexp.MustCompile(`(?i)token\s*=`),
	regexp.MustCompile(`(?i)secret\s*=`),
	regexp.MustCompile(`(?i)export\s+.*KEY`),
	regexp.MustCompile(`(?i)curl.*-H.*Authorization`),
	regexp.MustCompile(`(?i)--password`),
	regexp.MustCompile(`(?i)-p\s+\w+`),
}

// isSensitive reports whether line matches any sensitive pattern.
func isSensitive(line string) bool {
	lower := strings.ToLower(line)
	for _, re := range sensitivePatterns {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

// historyFile describes one shell's history file relative to a user's home
// directory and how to parse commands out of it. The set is broader than
// the Python source's bash/zsh/fish trio: it also covers ksh, csh/tcsh, a
// generic ".history" fallback, and the zsh snap-sandbox variant.
type historyFile struct {
	shell    string
	relPath  string
	parseFmt shellFormat
}

type shellFormat int

const (
	formatPlain shellFormat = iota // one command per line, '#'-prefixed lines skipped
	formatZsh                      // ": timestamp:elapsed;command"
	formatFish                     // YAML-like "- cmd:" / "  when:" blocks
)

var historyFiles = []historyFile{
	{shell: "bash", relPath: ".bash_history", parseFmt: formatPlain},
	{shell: "zsh", relPath: ".zsh_history", parseFmt: formatZsh},
	{shell: "zsh", relPath: ".zhistory", parseFmt: formatZsh},
	{shell: "zsh", relPath: "snap/zsh/common/.zsh_history", parseFmt: formatZsh},
	{shell: "fish", relPath: ".local/share/fish/fish_history", parseFmt: formatFish},
	{shell: "ksh", relPath: ".sh_history", parseFmt: formatPlain},
	{shell: "ksh", relPath: ".ksh_history", parseFmt: formatPlain},
	{shell: "csh", relPath: ".history", parseFmt: formatPlain},
	{shell: "csh", relPath: ".csh_history", parseFmt: formatPlain},
	{shell: "tcsh", relPath: ".tcsh_history", parseFmt: formatPlain},
}

// Command is one parsed shell command ready for detection and persistence.
// Text holds Redacted in place of the real command when it matched a
// sensitive-data pattern.
type Command struct {
	Source string // absolute path of the history file
	User   string
	Shell  string
	Text   string
}

// fileOffset tracks how far a tailed history file has been read.
type fileOffset struct {
	offset int64
	// fishPending holds a "- cmd:" line seen but not yet paired with its
	// following "  when:" line, across Poll calls.
	fishPending string
}

// Watcher tails every configured history file for every known user home
// and emits every newly appended command, with sensitive ones redacted.
type Watcher struct {
	userHomes       map[string]string // user -> home dir
	includeRoot     bool
	offsets         map[string]*fileOffset // absolute path -> offset state
	deniedLogged    map[string]bool
	onPermissionDenied func(path string)
}

// New builds a Watcher over userHomes (username -> home directory path).
// includeRoot controls whether /root's history is also tailed; the agent
// should only pass true when running with sufficient privilege to read it.
func New(userHomes map[string]string, includeRoot bool) *Watcher {
	return &Watcher{
		userHomes:    userHomes,
		includeRoot:  includeRoot,
		offsets:      make(map[string]*fileOffset),
		deniedLogged: make(map[string]bool),
	}
}

// OnPermissionDenied registers a callback invoked the first time a given
// history file is found unreadable due to permissions; it will not fire
// again for the same path.
func (w *Watcher) OnPermissionDenied(fn func(path string)) {
	w.onPermissionDenied = fn
}

// candidates enumerates every (user, absolute path, shell, format) tuple
// this watcher is responsible for tailing.
func (w *Watcher) candidates() []struct {
	user string
	path string
	hf   historyFile
} {
	homes := w.userHomes
	if w.includeRoot {
		if _, ok := homes["root"]; !ok {
			homes = make(map[string]string, len(w.userHomes)+1)
			for k, v := range w.userHomes {
				homes[k] = v
			}
			homes["root"] = "/root"
		}
	}

	var out []struct {
		user string
		path string
		hf   historyFile
	}
	for user, home := range homes {
		for _, hf := range historyFiles {
			out = append(out, struct {
				user string
				path string
				hf   historyFile
			}{user: user, path: filepath.Join(home, hf.relPath), hf: hf})
		}
	}
	return out
}

// Poll reads every newly appended byte range across all tailed history
// files and returns every command found, with Redacted in place of any
// sensitive one. A history file
// that has shrunk since the last Poll (history trimmed or rewritten) is
// treated as rotated: its offset resets to zero and it is read from the
// start again.
func (w *Watcher) Poll() ([]Command, error) {
	var commands []Command

	for _, c := range w.candidates() {
		info, err := os.Stat(c.path)
		if err != nil {
			continue // file doesn't exist for this user/shell; not an error
		}

		state, ok := w.offsets[c.path]
		if !ok {
			state = &fileOffset{}
			w.offsets[c.path] = state
		}
		if info.Size() < state.offset {
			state.offset = 0
			state.fishPending = ""
		}
		if info.Size() == state.offset {
			continue
		}

		f, err := os.Open(c.path)
		if err != nil {
			if os.IsPermission(err) {
				w.notifyDenied(c.path)
				continue
			}
			return commands, fmt.Errorf("shellwatch: open %q: %w", c.path, err)
		}

		cmds, newOffset, perr := w.readAppended(f, c.path, c.user, c.hf, state)
		f.Close()
		if perr != nil {
			return commands, perr
		}
		state.offset = newOffset
		commands = append(commands, cmds...)
	}

	return commands, nil
}

func (w *Watcher) notifyDenied(path string) {
	if w.deniedLogged[path] {
		return
	}
	w.deniedLogged[path] = true
	if w.onPermissionDenied != nil {
		w.onPermissionDenied(path)
	}
}

func (w *Watcher) readAppended(f *os.File, path, user string, hf historyFile, state *fileOffset) ([]Command, int64, error) {
	if _, err := f.Seek(state.offset, 0); err != nil {
		return nil, state.offset, fmt.Errorf("shellwatch: seek %q: %w", path, err)
	}

	var commands []Command
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		raw := scanner.Text()
		var cmd string
		var ok bool

		switch hf.parseFmt {
		case formatPlain:
			cmd, ok = parsePlainLine(raw)
		case formatZsh:
			cmd, ok = parseZshLine(raw)
		case formatFish:
			cmd, ok = parseFishLine(raw, state)
		}

		if !ok || cmd == "" {
			continue
		}
		if isSensitive(cmd) {
			cmd = Redacted
		}

		commands = append(commands, Command{
			Source: path,
			User:   user,
			Shell:  hf.shell,
			Text:   cmd,
		})
	}
	if err := scanner.Err(); err != nil {
		return commands, state.offset, fmt.Errorf("shellwatch: read %q: %w", path, err)
	}

	pos, err := f.Seek(0, 1)
	if err != nil {
		return commands, state.offset, fmt.Errorf("shellwatch: tell %q: %w", path, err)
	}
	return commands, pos, nil
}

func parsePlainLine(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", false
	}
	return line, true
}

// parseZshLine handles the ": timestamp:elapsed;command" extended-history
// format. Lines not starting with ':' are treated as plain commands, since
// zsh falls back to plain format when EXTENDED_HISTORY is disabled.
func parseZshLine(line string) (string, bool) {
	if !strings.HasPrefix(line, ":") {
		return parsePlainLine(line)
	}
	parts := strings.SplitN(line, ";", 2)
	if len(parts) < 2 {
		return "", false
	}
	cmd := strings.TrimSpace(parts[1])
	if cmd == "" {
		return "", false
	}
	return cmd, true
}

// parseFishLine handles fish's YAML-like history blocks:
//
//	- cmd: some command
//	  when: 1700000000
//
// A "- cmd:" line stashes its command in state.fishPending; the command is
// only emitted once the paired "  when:" line is seen, matching the
// original collector's pairing logic.
func parseFishLine(line string, state *fileOffset) (string, bool) {
	trimmed := strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(trimmed, "- cmd:"):
		state.fishPending = strings.TrimSpace(strings.TrimPrefix(trimmed, "- cmd:"))
		return "", false
	case strings.HasPrefix(trimmed, "when:") && state.fishPending != "":
		cmd := state.fishPending
		state.fishPending = ""
		return cmd, true
	default:
		return "", false
	}
}

// Analyze runs the shell-specific threat patterns over every command
// produced by Poll, using det as the detector instance.
func Analyze(det *detector.Detector, commands []Command) []*detector.ThreatEvent {
	var events []*detector.ThreatEvent
	for _, c := range commands {
		if ev, ok := det.AnalyzeShellCommand(c.Text, c.Source, c.User); ok {
			events = append(events, ev)
		}
	}
	return events
}
