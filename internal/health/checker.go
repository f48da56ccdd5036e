// Package health runs periodic self-checks over the control plane's own
// components (SPEC_FULL.md §2.3): the persistence directory is writable,
// the registry and learning files parse cleanly, and the game-server
// adapter is connected. There is no auto-recovery action beyond logging —
// reconnect/backoff already lives in internal/infra/adapter.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/npcforge/npcforge/internal/infra/persistence"
)

// Check defines a single health check.
type Check struct {
	Name    string
	CheckFn func(ctx context.Context) error
}

// Status is the result of a single check's most recent run.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Checker runs periodic health checks.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
}

// Config is the set of files/paths and a connectivity probe the checker
// inspects.
type Config struct {
	RegistryPath     string
	ProfilesPath     string
	KnowledgePath    string
	AdapterConnected func() bool // nil disables the adapter check
	Interval         time.Duration // default 60s
}

// NewChecker constructs a Checker with the standard self-checks: the
// persistence directory writable, the registry and learning files parsing
// cleanly (when present), and — if cfg.AdapterConnected is set — the
// game-server adapter being connected.
func NewChecker(cfg Config) *Checker {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	c := &Checker{interval: interval}

	c.checks = append(c.checks, Check{
		Name:    "persistence_writable",
		CheckFn: func(ctx context.Context) error { return checkWritableDir(cfg.RegistryPath) },
	})
	c.checks = append(c.checks, Check{
		Name:    "registry_file",
		CheckFn: func(ctx context.Context) error { return checkParsesCleanly(cfg.RegistryPath) },
	})
	c.checks = append(c.checks, Check{
		Name:    "learning_profiles_file",
		CheckFn: func(ctx context.Context) error { return checkParsesCleanly(cfg.ProfilesPath) },
	})
	c.checks = append(c.checks, Check{
		Name:    "knowledge_file",
		CheckFn: func(ctx context.Context) error { return checkParsesCleanly(cfg.KnowledgePath) },
	})
	if cfg.AdapterConnected != nil {
		c.checks = append(c.checks, Check{
			Name: "game_server_adapter",
			CheckFn: func(ctx context.Context) error {
				if !cfg.AdapterConnected() {
					return fmt.Errorf("adapter not connected")
				}
				return nil
			},
		})
	}
	return c
}

// Run starts the health-check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	c.runAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runAll(ctx)
		}
	}
}

func (c *Checker) runAll(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{Name: check.Name, CheckedAt: time.Now()}
		if err := check.CheckFn(ctx); err != nil {
			s.Healthy = false
			s.Error = err.Error()
		} else {
			s.Healthy = true
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns a copy of the latest check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy reports whether every check last passed. Vacuously true before
// the first run.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// checkWritableDir verifies the directory containing path exists (creating
// it if missing) and accepts a throwaway file write.
func checkWritableDir(path string) error {
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("persistence dir: %w", err)
	}
	probe := filepath.Join(dir, ".health-write-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0600); err != nil {
		return fmt.Errorf("persistence dir not writable: %w", err)
	}
	return os.Remove(probe)
}

// checkParsesCleanly reads path (if it exists) and confirms it is
// well-formed JSON via persistence.ReadRaw plus a generic decode.
func checkParsesCleanly(path string) error {
	if path == "" {
		return nil
	}
	data, err := persistence.ReadRaw(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // not yet written — fine
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%s is corrupt: %w", path, err)
	}
	return nil
}
