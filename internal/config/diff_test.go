package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/moshi-chat/moshi/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	d := config.Diff(cfg, cfg)
	if d.Changed() {
		t.Errorf("expected no changes for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RequiresRestart) != 0 {
		t.Errorf("log level is hot-reloadable, got restart sections %v", d.RequiresRestart)
	}
}

func TestDiff_DetectChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Detect.UtteranceEndSilence = config.Duration(2 * time.Second)

	d := config.Diff(old, new)
	if !d.DetectChanged {
		t.Error("expected DetectChanged=true")
	}
	if len(d.RequiresRestart) != 0 {
		t.Errorf("detect knobs are hot-reloadable, got restart sections %v", d.RequiresRestart)
	}
}

func TestDiff_SessionChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Session.MaxLoops = 5

	d := config.Diff(old, new)
	if !d.SessionChanged {
		t.Error("expected SessionChanged=true")
	}
	if len(d.RequiresRestart) != 0 {
		t.Errorf("session knobs are hot-reloadable, got restart sections %v", d.RequiresRestart)
	}
}

func TestDiff_ServerRequiresRestart(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.Port = 9090

	d := config.Diff(old, new)
	if !slices.Contains(d.RequiresRestart, "server") {
		t.Errorf("expected server in RequiresRestart, got %v", d.RequiresRestart)
	}
}

func TestDiff_AudioRequiresRestart(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Audio.SampleRate = 24000

	d := config.Diff(old, new)
	if !slices.Contains(d.RequiresRestart, "audio") {
		t.Errorf("expected audio in RequiresRestart, got %v", d.RequiresRestart)
	}
}

func TestDiff_ProvidersRequireRestart(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Providers.LLM = config.ProviderEntry{Name: "ollama", BaseURL: "http://localhost:11434"}

	d := config.Diff(old, new)
	if !slices.Contains(d.RequiresRestart, "providers") {
		t.Errorf("expected providers in RequiresRestart, got %v", d.RequiresRestart)
	}
}

func TestDiff_TranscriptRequiresRestart(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Transcript.Backend = config.TranscriptNone

	d := config.Diff(old, new)
	if !slices.Contains(d.RequiresRestart, "transcript") {
		t.Errorf("expected transcript in RequiresRestart, got %v", d.RequiresRestart)
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.LogLevel = config.LogWarn
	new.Session.ConnectionTimeout = config.Duration(10 * time.Second)
	new.Audio.Layout = config.LayoutMono

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if !d.SessionChanged {
		t.Error("expected SessionChanged=true")
	}
	if !slices.Contains(d.RequiresRestart, "audio") {
		t.Errorf("expected audio in RequiresRestart, got %v", d.RequiresRestart)
	}
	if slices.Contains(d.RequiresRestart, "server") {
		t.Errorf("log level alone should not flag the server section, got %v", d.RequiresRestart)
	}
	if !d.Changed() {
		t.Error("expected Changed()=true")
	}
}
