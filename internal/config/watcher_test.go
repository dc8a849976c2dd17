package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/correctnow/correctnow/internal/config"
)

const (
	baseFile = `
server:
  log_level: info
providers:
  llm:
    name: openai
engine:
  check_delay: 800ms
`
	slowerChecksFile = `
server:
  log_level: debug
providers:
  llm:
    name: openai
engine:
  check_delay: 2s
`
	brokenFile = `
server:
  log_level: bananas
`
)

// change is one onChange invocation.
type change struct{ old, new *config.Config }

// startWatcher writes content to a fresh config file and watches it. Every
// onChange call is forwarded to the returned channel.
func startWatcher(t *testing.T, content string, interval time.Duration) (string, *config.Watcher, <-chan change) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "correctnow.yaml")
	writeConfig(t, path, content, time.Now())

	changes := make(chan change, 8)
	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		changes <- change{old, new}
	}, config.WithInterval(interval))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return path, w, changes
}

// writeConfig atomically replaces the file and pins its mtime, so the
// poller never reads a half-written file and quick edits never share a
// timestamp.
func writeConfig(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", tmp, err)
	}
	if err := os.Chtimes(tmp, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename %s: %v", tmp, err)
	}
}

func waitChange(t *testing.T, changes <-chan change) change {
	t.Helper()
	select {
	case c := <-changes:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no config change observed within 2s")
		return change{}
	}
}

func TestNewWatcher_InitialLoad(t *testing.T) {
	t.Parallel()

	_, w, _ := startWatcher(t, baseFile, time.Hour)
	cur := w.Current()
	if cur == nil || cur.Server.LogLevel != config.LogInfo || cur.Engine.CheckDelay != 800*time.Millisecond {
		t.Fatalf("Current() = %+v", cur)
	}
}

func TestNewWatcher_InitialLoadErrors(t *testing.T) {
	t.Parallel()

	broken := filepath.Join(t.TempDir(), "broken.yaml")
	writeConfig(t, broken, brokenFile, time.Now())

	for name, path := range map[string]string{
		"missing file": filepath.Join(t.TempDir(), "absent.yaml"),
		"invalid file": broken,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := config.NewWatcher(path, nil); err == nil {
				t.Fatal("NewWatcher returned nil error")
			}
		})
	}
}

func TestWatcher_PollPicksUpEdit(t *testing.T) {
	t.Parallel()

	path, w, changes := startWatcher(t, baseFile, 20*time.Millisecond)
	writeConfig(t, path, slowerChecksFile, time.Now().Add(time.Second))

	c := waitChange(t, changes)
	if c.old.Server.LogLevel != config.LogInfo || c.new.Server.LogLevel != config.LogDebug {
		t.Errorf("log levels old=%q new=%q", c.old.Server.LogLevel, c.new.Server.LogLevel)
	}
	d := config.Diff(c.old, c.new)
	if !d.LogLevelChanged || !d.EngineChanged || d.Engine.CheckDelay != 2*time.Second {
		t.Errorf("Diff = %+v", d)
	}
	if w.Current() != c.new {
		t.Error("Current() is not the config handed to the callback")
	}
}

func TestWatcher_BrokenEditThenFix(t *testing.T) {
	t.Parallel()

	path, w, changes := startWatcher(t, baseFile, 20*time.Millisecond)
	base := time.Now()

	writeConfig(t, path, brokenFile, base.Add(time.Second))
	time.Sleep(150 * time.Millisecond)
	select {
	case c := <-changes:
		t.Fatalf("broken file delivered a change: %+v", c.new.Server)
	default:
	}
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Error("broken file replaced the current config")
	}

	// The rejected mtime must not mask the next edit.
	writeConfig(t, path, slowerChecksFile, base.Add(2*time.Second))
	c := waitChange(t, changes)
	if c.new.Engine.CheckDelay != 2*time.Second {
		t.Errorf("check_delay = %v after fix", c.new.Engine.CheckDelay)
	}
}

func TestWatcher_Reload(t *testing.T) {
	t.Parallel()

	path, w, changes := startWatcher(t, baseFile, time.Hour)
	base := time.Now()

	tests := []struct {
		name        string
		content     string
		wantChanged bool
		wantErr     bool
		wantLevel   config.LogLevel
	}{
		{"unchanged", baseFile, false, false, config.LogInfo},
		{"edited", slowerChecksFile, true, false, config.LogDebug},
		{"touched only", slowerChecksFile, false, false, config.LogDebug},
		{"invalid", brokenFile, false, true, config.LogDebug},
	}
	// Sequential: each step builds on the file left by the previous one.
	for i, tt := range tests {
		writeConfig(t, path, tt.content, base.Add(time.Duration(i+1)*time.Second))
		changed, err := w.Reload()
		if changed != tt.wantChanged || (err != nil) != tt.wantErr {
			t.Errorf("%s: Reload() = (%v, %v), want changed=%v err=%v", tt.name, changed, err, tt.wantChanged, tt.wantErr)
		}
		if got := w.Current().Server.LogLevel; got != tt.wantLevel {
			t.Errorf("%s: Current() log_level = %q, want %q", tt.name, got, tt.wantLevel)
		}
	}

	if n := len(changes); n != 1 {
		t.Errorf("callback calls = %d, want 1", n)
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	_, w, _ := startWatcher(t, baseFile, 10*time.Millisecond)
	w.Stop()
	w.Stop()
}
