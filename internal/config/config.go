// Package config provides the JSON-backed identity and connection store for
// the LOGify agent, persisted at <home>/.logify/config.json. It is the
// single source of truth for aggregator connection settings and is read and
// rewritten far more often than a typical startup config, so every write
// goes through a temp-file-then-rename sequence to avoid ever leaving a
// half-written file on disk.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrConfigMissing is returned by Load when the config file does not exist.
var ErrConfigMissing = errors.New("config: not found")

// Dir is the LOGify state directory relative to a user's home directory.
const Dir = ".logify"

// FileName is the name of the JSON config file within Dir.
const FileName = "config.json"

// Config is the persisted identity and connection state for one LOGify
// installation.
type Config struct {
	ConnectionKey string `json:"connection_key"`
	ServerID      string `json:"server_id"`
	UserID        string `json:"user_id"`
	InsforgeURL   string `json:"insforge_url"`
	AnonKey       string `json:"anon_key"`
	LastSync      string `json:"last_sync,omitempty"`

	// GeminiAPIKey and AIProvider are passthrough fields for the external AI
	// analysis collaborator. The core agent never reads or validates them.
	GeminiAPIKey string `json:"gemini_api_key,omitempty"`
	AIProvider   string `json:"ai_provider,omitempty"`
}

// defaultInsforgeURL is the out-of-the-box aggregator endpoint. It points at
// nothing real; operators are expected to run `logify auth add-key` (or the
// equivalent REST call) before first sync.
const defaultInsforgeURL = "https://aggregator.example.invalid"

func defaults() Config {
	return Config{
		InsforgeURL: defaultInsforgeURL,
	}
}

// Store manages reads and writes of the on-disk config file. It is safe for
// concurrent use: all access is serialised through an internal mutex so that
// a background sync cycle updating last_sync never races a foreground
// `logify auth add-key` write.
type Store struct {
	mu   sync.Mutex
	path string
}

// Open returns a Store bound to <home>/.logify/config.json, creating the
// .logify directory (but not the file) if it does not already exist.
func Open(home string) (*Store, error) {
	dir := filepath.Join(home, Dir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("config: create %q: %w", dir, err)
	}
	return &Store{path: filepath.Join(dir, FileName)}, nil
}

// Load reads and returns the current configuration. When no config file
// exists yet it returns a zero-value-with-defaults Config and ErrConfigMissing
// wrapped so callers can distinguish "not configured" from a read failure.
func (s *Store) Load() (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (Config, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaults(), fmt.Errorf("config: %q: %w", s.path, ErrConfigMissing)
		}
		return Config{}, fmt.Errorf("config: read %q: %w", s.path, err)
	}

	cfg := defaults()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %q: %w", s.path, err)
	}
	return cfg, nil
}

// Save writes cfg to disk atomically: it marshals to a temp file in the same
// directory, fsyncs it, then renames over the target path. Rename within a
// single directory is atomic on every platform LOGify targets, so readers
// never observe a partially written file.
func (s *Store) Save(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(cfg)
}

func (s *Store) save(cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "config-*.json.tmp")
	if err != nil {
		return fmt.Errorf("config: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("config: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("config: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return fmt.Errorf("config: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("config: rename into place: %w", err)
	}
	return nil
}

// Update loads the current config, applies fn to a copy, and saves the
// result. fn may mutate any field. Update serialises with Load/Save so a
// caller never needs to hold its own lock around a read-modify-write cycle.
func (s *Store) Update(fn func(*Config)) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.load()
	if err != nil && !errors.Is(err, ErrConfigMissing) {
		return Config{}, err
	}
	fn(&cfg)
	if err := s.save(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Clear removes the config file entirely, returning the agent to an
// unconfigured state. It is not an error to clear an already-absent file.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("config: clear %q: %w", s.path, err)
	}
	return nil
}

// RecordSync stamps LastSync with the current UTC time in RFC 3339 form.
// It is called by the sync uploader only after at least one record has been
// successfully marked synced.
func (s *Store) RecordSync(now time.Time) error {
	_, err := s.Update(func(c *Config) {
		c.LastSync = now.UTC().Format(time.RFC3339)
	})
	return err
}

// Authenticated reports whether cfg carries enough identity to attempt a
// sync cycle. It mirrors the Python CLI's connection_key/server_id check.
func (c Config) Authenticated() bool {
	return c.ConnectionKey != "" && c.ServerID != ""
}

// AnonKeyExpiry parses the JWT stored in AnonKey and returns its exp claim
// without verifying the signature — the agent never holds the aggregator's
// signing key, so this is purely an early-warning heuristic surfaced in the
// activity log, never an authorization decision.
func (c Config) AnonKeyExpiry() (time.Time, error) {
	if c.AnonKey == "" {
		return time.Time{}, fmt.Errorf("config: anon_key not set")
	}
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(c.AnonKey, claims); err != nil {
		return time.Time{}, fmt.Errorf("config: parse anon_key: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("config: anon_key has no exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, fmt.Errorf("config: anon_key has no exp claim")
	}
	return exp.Time, nil
}
