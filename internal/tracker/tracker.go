// Package tracker implements the LOGify file tracker (C3): for each
// monitored path it maintains an open handle, inode, and byte offset, and
// on every wake delivers newly appended lines in file order while
// tolerating rotation (inode change) and truncation (shrink below the
// remembered offset). Style grounded on the teacher's internal/watcher
// polling fallback (stat-based state, build-tag-free on this path since
// LOGify has no eBPF fast path for line tailing); the per-line delivery
// contract instead follows spec section 4.3's five-step wake algorithm
// rather than the teacher's discrete-event watcher abstraction.
//
// Poll is driven on a fixed tier interval as the correctness baseline, but
// a Tracker can optionally be backed by fsnotify so an appended-to file
// gets read within milliseconds instead of waiting out the tier's cadence;
// this mirrors the directory-watch-plus-debounce pattern used by session
// tailers in the wild (e.g. watching a file's parent directory so a
// logrotate rename-then-create is still observed as a single wake).
package tracker

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Line is one delivered line, tagged with the path it came from so a
// caller consuming multiple tiers' output in one channel can still
// attribute lines correctly.
type Line struct {
	Path string
	Text string
}

// FileState holds the tracker's memory of one path between wakes.
type FileState struct {
	Path             string
	PriorityTier     string
	handle           *os.File
	inode            uint64
	offset           int64
	lastSeenSize     int64
	permissionDenied bool
	deniedLogged     bool
}

// Tracker owns a set of FileStates and advances them on demand. Not safe
// for concurrent Poll calls against the same path; callers typically run
// one Tracker per priority tier, each on its own goroutine, so this only
// needs to guard the shared path set against concurrent Add/Remove.
type Tracker struct {
	mu     sync.Mutex
	states map[string]*FileState

	onRotated func(path string)
	onDenied  func(path string)

	watcher     *fsnotify.Watcher
	watchedDirs map[string]bool
	wake        chan string
}

// New builds an empty Tracker.
func New() *Tracker {
	return &Tracker{states: make(map[string]*FileState)}
}

// EnableFastWake starts an fsnotify watch over the parent directory of
// every currently tracked path and returns a channel that receives a
// tracked path's name shortly after it (or a same-named sibling, covering
// logrotate's rename-then-create) changes on disk. The tier ticker in the
// pipeline remains the correctness baseline; this channel only shortens
// the typical wait. Safe to call once per Tracker, after Add has been
// called for every path it will ever track at startup.
func (t *Tracker) EnableFastWake() (<-chan string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("tracker: fsnotify: %w", err)
	}
	t.watcher = w
	t.watchedDirs = make(map[string]bool)
	t.wake = make(chan string, 64)

	for path := range t.states {
		dir := filepath.Dir(path)
		if t.watchedDirs[dir] {
			continue
		}
		if err := w.Add(dir); err != nil {
			continue // directory may not exist yet; polling still covers it
		}
		t.watchedDirs[dir] = true
	}

	go t.watchLoop()
	return t.wake, nil
}

func (t *Tracker) watchLoop() {
	for {
		select {
		case ev, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			t.mu.Lock()
			_, tracked := t.states[ev.Name]
			t.mu.Unlock()
			if !tracked {
				continue
			}
			select {
			case t.wake <- ev.Name:
			default: // tier is already due for a wake; drop, poll will catch up
			}
		case _, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// OnRotated registers a callback fired each time a tracked file is found
// rotated (inode changed since the last wake).
func (t *Tracker) OnRotated(fn func(path string)) {
	t.onRotated = fn
}

// OnPermissionDenied registers a callback fired the first time a tracked
// path becomes unreadable due to permissions.
func (t *Tracker) OnPermissionDenied(fn func(path string)) {
	t.onDenied = fn
}

// Add begins tracking path under the given tier, tailing from EOF so that
// only lines appended after Add is called are ever delivered — matching
// spec's tail-from-end startup behavior.
func (t *Tracker) Add(path, tier string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.states[path]; exists {
		return nil
	}

	state := &FileState{Path: path, PriorityTier: tier}
	t.states[path] = state

	f, err := os.Open(path)
	if err != nil {
		if os.IsPermission(err) {
			state.permissionDenied = true
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("tracker: open %q: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("tracker: stat %q: %w", path, err)
	}

	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return fmt.Errorf("tracker: seek %q: %w", path, err)
	}

	state.handle = f
	state.inode = inodeOf(info)
	state.offset = end
	state.lastSeenSize = info.Size()
	return nil
}

// Remove stops tracking path, closing any open handle.
func (t *Tracker) Remove(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.states[path]; ok {
		if s.handle != nil {
			s.handle.Close()
		}
		delete(t.states, path)
	}
}

// Paths returns every currently tracked path.
func (t *Tracker) Paths() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.states))
	for p := range t.states {
		out = append(out, p)
	}
	return out
}

// Poll runs one wake for path: the five-step algorithm from spec section
// 4.3. It returns every newly appended, non-empty trimmed line in file
// order. A missing or still-permission-denied path yields no lines and no
// error — the tracker just tries again on the next wake.
func (t *Tracker) Poll(path string) ([]Line, error) {
	t.mu.Lock()
	state, ok := t.states[path]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("tracker: %q is not tracked", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // step 1: path is gone, keep the state, skip
		}
		if os.IsPermission(err) {
			t.markDenied(state)
			return nil, nil
		}
		return nil, fmt.Errorf("tracker: stat %q: %w", path, err)
	}

	if state.permissionDenied {
		// Permissions may have been restored since the last denial.
		state.permissionDenied = false
	}

	inode := inodeOf(info)
	rotated := state.handle == nil || (state.inode != 0 && inode != state.inode)

	if rotated {
		wasOpen := state.handle != nil
		if wasOpen {
			state.handle.Close()
		}
		f, err := os.Open(path)
		if err != nil {
			if os.IsPermission(err) {
				t.markDenied(state)
				return nil, nil
			}
			return nil, fmt.Errorf("tracker: reopen %q: %w", path, err)
		}
		state.handle = f
		state.inode = inode
		state.offset = 0
		if wasOpen && t.onRotated != nil {
			t.onRotated(path)
		}
	} else if info.Size() < state.offset {
		// step 3: truncated in place, no inode change.
		state.offset = 0
	}

	if _, err := state.handle.Seek(state.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("tracker: seek %q: %w", path, err)
	}

	data, err := io.ReadAll(state.handle)
	if err != nil {
		return nil, fmt.Errorf("tracker: read %q: %w", path, err)
	}
	pos, err := state.handle.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("tracker: tell %q: %w", path, err)
	}
	state.offset = pos
	state.lastSeenSize = info.Size()

	var lines []Line
	for _, raw := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		lines = append(lines, Line{Path: path, Text: trimmed})
	}
	return lines, nil
}

func (t *Tracker) markDenied(state *FileState) {
	state.permissionDenied = true
	if state.deniedLogged {
		return
	}
	state.deniedLogged = true
	if t.onDenied != nil {
		t.onDenied(state.Path)
	}
}

// Close releases every open handle and stops the fsnotify watch, if any.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.states {
		if s.handle != nil {
			s.handle.Close()
		}
	}
	if t.watcher != nil {
		t.watcher.Close()
	}
}
