package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type widget struct {
	Count int `json:"count"`
}

func TestStore_SaveDebouncesToSingleWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "widget.json")

	var signals []Signal
	s := New(path, func() widget { return widget{} },
		WithDebounce[widget](30*time.Millisecond),
		WithSignal[widget](func(sig Signal) { signals = append(signals, sig) }),
	)

	for i := 1; i <= 5; i++ {
		s.Save(widget{Count: i})
	}

	time.Sleep(100 * time.Millisecond)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got widget
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Count != 5 {
		t.Fatalf("expected coalesced final value 5, got %d", got.Count)
	}

	saveCount := 0
	for _, sig := range signals {
		if sig.Kind == "save" {
			saveCount++
		}
	}
	if saveCount != 1 {
		t.Fatalf("expected exactly 1 save signal, got %d", saveCount)
	}
}

func TestStore_LoadMissingReturnsDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.json")
	s := New(path, func() widget { return widget{Count: 42} })

	got, err := s.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Count != 42 {
		t.Fatalf("expected default value, got %+v", got)
	}
}

func TestStore_LoadCorruptBacksUpAndReinitializes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corrupt.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	s := New(path, func() widget { return widget{Count: 7} })
	got, err := s.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Count != 7 {
		t.Fatalf("expected default value after corruption, got %+v", got)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range entries {
		if e.Name() != "corrupt.json" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a backup file to be created alongside the corrupt original")
	}
}

func TestStore_SaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "atomic.json")
	s := New(path, func() widget { return widget{} }, WithDebounce[widget](5*time.Millisecond))

	s.Save(widget{Count: 1})
	if err := s.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Fatalf("leftover temp file after save: %s", e.Name())
		}
	}
}

func TestStore_CloseFlushesPending(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "close.json")
	s := New(path, func() widget { return widget{} }, WithDebounce[widget](time.Hour))

	s.Save(widget{Count: 99})
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read after close: %v", err)
	}
	var got widget
	json.Unmarshal(data, &got)
	if got.Count != 99 {
		t.Fatalf("expected flush on close, got %+v", got)
	}
}
