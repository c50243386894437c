package config

import "reflect"

// ConfigDiff describes what changed between two configs. Detect and session
// knobs apply to calls accepted after the reload; the sections listed in
// RequiresRestart only take effect after a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DetectChanged and SessionChanged apply to new calls only; live calls
	// keep the knobs they started with.
	DetectChanged  bool
	SessionChanged bool

	// RequiresRestart lists config sections whose new values cannot be
	// applied to a running server.
	RequiresRestart []string
}

// Changed reports whether the diff carries any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.DetectChanged || d.SessionChanged || len(d.RequiresRestart) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.DetectChanged = old.Detect != new.Detect
	d.SessionChanged = old.Session != new.Session

	// Everything else needs a restart: the listener and auth are bound, the
	// providers are constructed once, and the audio format is baked into
	// every live codec.
	oldSrv, newSrv := old.Server, new.Server
	oldSrv.LogLevel, newSrv.LogLevel = "", ""
	if !reflect.DeepEqual(oldSrv, newSrv) {
		d.RequiresRestart = append(d.RequiresRestart, "server")
	}
	if old.Audio != new.Audio {
		d.RequiresRestart = append(d.RequiresRestart, "audio")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RequiresRestart = append(d.RequiresRestart, "providers")
	}
	if old.Transcript != new.Transcript {
		d.RequiresRestart = append(d.RequiresRestart, "transcript")
	}

	return d
}
