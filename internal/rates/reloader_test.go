package rates

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"entregas/internal/core"
)

func TestNewReloaderDefaults(t *testing.T) {
	r, err := NewReloader("", nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got, want := r.Rate(core.Flash, core.Express), core.DefaultRates().Rate(core.Flash, core.Express); got != want {
		t.Fatalf("expected default rate %v, got %v", want, got)
	}
	// Watching without a file is a no-op.
	if err := r.Watch(context.Background(), nil); err != nil {
		t.Fatalf("watch: %v", err)
	}
}

func TestNewReloaderFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rates.json")
	if err := os.WriteFile(path, []byte(`{"loggi":{"normal":2,"express":3}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	r, err := NewReloader(path, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if r.Rate(core.Loggi, core.Express) != 3 || r.Rate(core.Flash, core.Normal) != 0 {
		t.Fatalf("unexpected table %+v", r.Table())
	}
}

func TestNewReloaderRejectsBadFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewReloader(filepath.Join(dir, "missing.json"), nil); err == nil {
		t.Fatalf("expected error for missing file")
	}
	path := filepath.Join(dir, "bad.json")
	_ = os.WriteFile(path, []byte(`{"flash":{"normal":-2}}`), 0o644)
	if _, err := NewReloader(path, nil); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestReloadKeepsPreviousTableOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rates.json")
	_ = os.WriteFile(path, []byte(`{"flash":{"normal":1,"express":2}}`), 0o644)
	r, err := NewReloader(path, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_ = os.WriteFile(path, []byte(`{broken`), 0o644)
	if err := r.Reload(); err == nil {
		t.Fatalf("expected reload error")
	}
	if r.Rate(core.Flash, core.Express) != 2 {
		t.Fatalf("previous table should stay active")
	}
}

func TestWatchPicksUpChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rates.json")
	_ = os.WriteFile(path, []byte(`{"flash":{"normal":1,"express":1}}`), 0o644)
	r, err := NewReloader(path, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan struct{}, 8)
	if err := r.Watch(ctx, func() { changed <- struct{}{} }); err != nil {
		t.Fatalf("watch: %v", err)
	}

	if err := os.WriteFile(path, []byte(`{"flash":{"normal":9,"express":9}}`), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for r.Rate(core.Flash, core.Normal) != 9 {
		select {
		case <-changed:
		case <-deadline:
			t.Fatalf("rates were not reloaded, table=%+v", r.Table())
		}
	}
}
