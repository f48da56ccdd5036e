// Package persistence implements the control plane's debounced, atomic
// JSON persistence layer (spec §4.A): load-with-repair, and save coalesced
// behind a single debounce timer so bursts of mutation collapse into one
// write.
package persistence

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/npcforge/npcforge/internal/domain"
)

// DefaultDebounce is the minimum spacing between successive writes.
const DefaultDebounce = 500 * time.Millisecond

// DefaultMaxBytes is the size cap applied to loaded files.
const DefaultMaxBytes = 100 * 1024 * 1024

// Signal is the lifecycle event emitted on every successful save/load.
type Signal struct {
	Path string
	Kind string // "load" | "save"
	At   time.Time
}

// Store debounces saves of a single JSON value to a single path and
// performs atomic writes (tmp file + rename). One Store owns exactly one
// path; create one per persisted file.
type Store[T any] struct {
	path      string
	debounce  time.Duration
	maxBytes  int64
	onSignal  func(Signal)
	defaultFn func() T

	mu      sync.Mutex
	pending *T
	timer   *time.Timer
	seq     uint64
	wg      sync.WaitGroup
	closed  bool
}

// Option configures a Store.
type Option[T any] func(*Store[T])

// WithDebounce overrides the default 500ms debounce window.
func WithDebounce[T any](d time.Duration) Option[T] {
	return func(s *Store[T]) { s.debounce = d }
}

// WithMaxBytes overrides the default 100MB load size cap.
func WithMaxBytes[T any](n int64) Option[T] {
	return func(s *Store[T]) { s.maxBytes = n }
}

// WithSignal registers a callback invoked after every successful load/save.
func WithSignal[T any](fn func(Signal)) Option[T] {
	return func(s *Store[T]) { s.onSignal = fn }
}

// New creates a Store for path. defaultFn produces the zero value used when
// the file does not exist or cannot be read.
func New[T any](path string, defaultFn func() T, opts ...Option[T]) *Store[T] {
	s := &Store[T]{
		path:      path,
		debounce:  DefaultDebounce,
		maxBytes:  DefaultMaxBytes,
		defaultFn: defaultFn,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads the persisted value. An unreadable file (does not exist, or a
// permission error) returns the default value with no error. A corrupt
// (unparsable) file is copied aside with a timestamp suffix and the default
// value is returned — load-time corruption never propagates past this
// backup-and-reinit recovery.
func (s *Store[T]) Load() (T, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return s.defaultFn(), nil
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return s.defaultFn(), fmt.Errorf("%s: %w (%d bytes)", s.path, domain.ErrFileTooLarge, len(data))
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		s.backupCorrupt(data)
		return s.defaultFn(), nil
	}

	s.emit("load")
	return v, nil
}

// backupCorrupt copies the unparsable bytes aside with a timestamp suffix
// so the operator can inspect what went wrong, then leaves the original
// path to be overwritten by the next save.
func (s *Store[T]) backupCorrupt(data []byte) {
	backupPath := fmt.Sprintf("%s.corrupt.%d", s.path, time.Now().Unix())
	if err := os.WriteFile(backupPath, data, 0o600); err != nil {
		log.Printf("persistence: failed to back up corrupt file %s: %v", s.path, err)
		return
	}
	log.Printf("persistence: %s was corrupt, backed up to %s and reinitialized", s.path, backupPath)
}

// Save schedules v to be written after the debounce window. Calls arriving
// within the window coalesce: only the latest value is ever written.
func (s *Store[T]) Save(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	vv := v
	s.pending = &vv

	if s.timer != nil {
		if s.timer.Stop() {
			s.wg.Done()
		}
	}
	s.seq++
	mySeq := s.seq
	s.wg.Add(1)
	s.timer = time.AfterFunc(s.debounce, func() {
		defer s.wg.Done()
		s.flushIfCurrent(mySeq)
	})
}

func (s *Store[T]) flushIfCurrent(seq uint64) {
	s.mu.Lock()
	if s.seq != seq || s.pending == nil {
		s.mu.Unlock()
		return
	}
	v := *s.pending
	s.pending = nil
	s.timer = nil
	s.mu.Unlock()

	if err := s.writeAtomic(v); err != nil {
		log.Printf("persistence: save %s failed: %v", s.path, err)
		return
	}
	s.emit("save")
}

// Flush synchronously writes any pending value immediately, bypassing the
// debounce window. Used on graceful shutdown.
func (s *Store[T]) Flush() error {
	s.mu.Lock()
	if s.timer != nil {
		if s.timer.Stop() {
			s.wg.Done()
		}
		s.timer = nil
	}
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	if pending == nil {
		return nil
	}
	if err := s.writeAtomic(*pending); err != nil {
		return err
	}
	s.emit("save")
	return nil
}

// Close flushes any pending write and stops accepting further saves.
func (s *Store[T]) Close() error {
	err := s.Flush()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

// writeAtomic serializes v and writes it via temp-file-plus-rename so a
// reader never observes a partially written file.
func (s *Store[T]) writeAtomic(v T) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", s.path, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", s.path, err)
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp for %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp for %s: %w", s.path, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename into %s: %w", s.path, err)
	}
	ok = true
	return nil
}

func (s *Store[T]) emit(kind string) {
	if s.onSignal == nil {
		return
	}
	s.onSignal(Signal{Path: s.path, Kind: kind, At: time.Now()})
}

// ReadRaw is a helper for callers (health checks) that just want to confirm
// a file parses, without going through the generic Store.
func ReadRaw(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
