// Copyright 2024-2026 Aiku AI

package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWatch_ReloadsChangedDialectFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cat := New(zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cat.Watch(ctx, dir) }()
	// Let the watcher attach before writing.
	time.Sleep(100 * time.Millisecond)

	doc := `{
		"dialect": "custom",
		"chat": {
			"guild": [
				{"pattern": "^G: (\\w{1,16}): (.*)$", "flags": "none", "groups": ["username", "message"], "description": "guild chat"}
			]
		}
	}`
	path := filepath.Join(dir, "custom.json")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	// Unknown dialects fall back to the standard rules, so poll the loaded
	// dialect set rather than the rule lookup.
	deadline := time.After(5 * time.Second)
	for {
		if _, ok := cat.Stats()["custom"]; ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("dialect file was not hot-reloaded")
		case <-time.After(50 * time.Millisecond):
		}
	}
	rules := cat.Rules("custom", CategoryChat, "guild")
	if len(rules) != 1 || rules[0].Source != `^G: (\w{1,16}): (.*)$` {
		t.Errorf("reloaded rules: %+v", rules)
	}

	// Non-JSON files are ignored, not reloaded.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Watch: got %v, want context.Canceled", err)
	}
}

func TestWatch_MissingDir(t *testing.T) {
	t.Parallel()
	cat := New(zerolog.Nop())
	if err := cat.Watch(context.Background(), filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error watching a missing directory")
	}
}
