package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxlate/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
target_language: Hindi
providers:
  stt: {name: whisper}
  translate: {name: huggingface}
  tts: {name: coqui}
`

const watcherUpdatedYAML = `
server:
  log_level: debug
target_language: German
providers:
  stt: {name: whisper}
  translate: {name: huggingface}
  tts: {name: coqui}
`

// Same effective config as watcherValidYAML, different bytes.
const watcherCommentedYAML = `
# reformatted
server:
  log_level: info
target_language: Hindi
providers:
  stt: {name: whisper}
  translate: {name: huggingface}
  tts: {name: coqui}
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// rewrite writes content and bumps the mtime so coarse filesystem clocks
// cannot hide the change.
func rewrite(t *testing.T, path, content string) {
	t.Helper()
	writeFile(t, path, content)
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

type changeRecorder struct {
	mu    sync.Mutex
	calls int
	old   *config.Config
	new   *config.Config
	diff  config.ConfigDiff
	ch    chan struct{}
}

func newChangeRecorder() *changeRecorder { return &changeRecorder{ch: make(chan struct{}, 8)} }

func (r *changeRecorder) onChange(old, new *config.Config, d config.ConfigDiff) {
	r.mu.Lock()
	r.calls++
	r.old, r.new, r.diff = old, new, d
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *changeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	rec := newChangeRecorder()
	w, err := config.NewWatcher(cfgPath, rec.onChange, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	rewrite(t, cfgPath, watcherUpdatedYAML)

	select {
	case <-rec.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.old.Server.LogLevel != config.LogInfo {
		t.Errorf("old log_level: got %q, want %q", rec.old.Server.LogLevel, config.LogInfo)
	}
	if rec.new.Server.LogLevel != config.LogDebug {
		t.Errorf("new log_level: got %q, want %q", rec.new.Server.LogLevel, config.LogDebug)
	}
	if !rec.diff.LogLevelChanged || !rec.diff.TargetChanged || rec.diff.NewTarget != "German" {
		t.Errorf("diff = %+v", rec.diff)
	}
	if cur := w.Current(); cur.TargetLanguage != "German" {
		t.Errorf("Current() target: got %q, want German", cur.TargetLanguage)
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	rec := newChangeRecorder()
	w, err := config.NewWatcher(cfgPath, rec.onChange, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	rewrite(t, cfgPath, watcherInvalidYAML)
	time.Sleep(200 * time.Millisecond)

	if n := rec.count(); n != 0 {
		t.Errorf("callback should not be called for invalid config, got %d calls", n)
	}
	if cur := w.Current(); cur.Server.LogLevel != config.LogInfo {
		t.Errorf("Current() should still have old config, got log_level=%q", cur.Server.LogLevel)
	}
}

func TestWatcher_NoEffectiveChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	rec := newChangeRecorder()
	w, err := config.NewWatcher(cfgPath, rec.onChange, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	// Touch only, then a comment-only edit.
	later := time.Now().Add(time.Second)
	if err := os.Chtimes(cfgPath, later, later); err != nil {
		t.Fatalf("failed to touch file: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	rewrite(t, cfgPath, watcherCommentedYAML)
	time.Sleep(200 * time.Millisecond)

	if n := rec.count(); n != 0 {
		t.Errorf("callback should not fire without effective changes, got %d calls", n)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.Stop()
	w.Stop()
	w.Stop()
}
