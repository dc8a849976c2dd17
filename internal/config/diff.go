package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Hot-reloadable
// fields are reported individually; everything else that changed is listed
// in RestartRequired so the caller can warn about it.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CorrectionChanged is set when temperature or max_text_length differ.
	CorrectionChanged bool
	Temperature       float64
	MaxTextLength     int

	// EngineChanged is set when any engine timing differs.
	EngineChanged bool
	Engine        EngineConfig

	// RestartRequired names the top-level keys whose changes only take
	// effect after a restart, in config order.
	RestartRequired []string
}

// Empty reports whether d carries no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.CorrectionChanged && !d.EngineChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Correction.TemperatureOrDefault() != new.Correction.TemperatureOrDefault() ||
		old.Correction.MaxTextLength != new.Correction.MaxTextLength {
		d.CorrectionChanged = true
		d.Temperature = new.Correction.TemperatureOrDefault()
		d.MaxTextLength = new.Correction.MaxTextLength
	}

	if old.Engine.CheckDelay != new.Engine.CheckDelay ||
		old.Engine.HoverDelay != new.Engine.HoverDelay ||
		old.Engine.CaretDebounce != new.Engine.CaretDebounce ||
		old.Engine.CloseGrace != new.Engine.CloseGrace {
		d.EngineChanged = true
		d.Engine = new.Engine
	}

	// Server fields other than the log level need a new listener.
	oldSrv, newSrv := old.Server, new.Server
	oldSrv.LogLevel, newSrv.LogLevel = "", ""
	if !serverEqual(oldSrv, newSrv) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Correction.Timeout != new.Correction.Timeout {
		d.RestartRequired = append(d.RestartRequired, "correction.timeout")
	}
	if old.Engine.MaxSessions != new.Engine.MaxSessions {
		d.RestartRequired = append(d.RestartRequired, "engine.max_sessions")
	}
	if old.Cache != new.Cache {
		d.RestartRequired = append(d.RestartRequired, "cache")
	}
	if old.History != new.History {
		d.RestartRequired = append(d.RestartRequired, "history")
	}
	if old.Batch != new.Batch {
		d.RestartRequired = append(d.RestartRequired, "batch")
	}

	return d
}

func serverEqual(a, b ServerConfig) bool {
	if a.ListenAddr != b.ListenAddr || a.MaxBodyBytes != b.MaxBodyBytes {
		return false
	}
	if !slices.Equal(a.CORSOrigins, b.CORSOrigins) {
		return false
	}
	switch {
	case a.TLS == nil && b.TLS == nil:
		return true
	case a.TLS == nil || b.TLS == nil:
		return false
	}
	return *a.TLS == *b.TLS
}
