package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
//
// Only the log level applies immediately. Everything else is picked up by
// the next session start, so the diff is mostly used for logging.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	TargetChanged bool
	NewTarget     string

	AudioChanged     bool
	VADChanged       bool
	QueueChanged     bool
	LanguagesChanged bool
	DispatchChanged  bool

	// ProvidersChanged lists the provider kinds whose entry changed, in
	// declaration order.
	ProvidersChanged []string

	// RestartRequired is set when a field changed that is only read once
	// at process start (listen address, TLS, history, recording).
	RestartRequired bool
}

// Empty reports whether no tracked field changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.TargetChanged && !d.AudioChanged &&
		!d.VADChanged && !d.QueueChanged && !d.LanguagesChanged &&
		!d.DispatchChanged && len(d.ProvidersChanged) == 0 && !d.RestartRequired
}

// SessionChanged reports whether a change affects the next session start.
func (d ConfigDiff) SessionChanged() bool {
	return d.TargetChanged || d.AudioChanged || d.VADChanged || d.QueueChanged ||
		d.LanguagesChanged || d.DispatchChanged || len(d.ProvidersChanged) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.TargetLanguage != new.TargetLanguage {
		d.TargetChanged = true
		d.NewTarget = new.TargetLanguage
	}

	d.AudioChanged = old.Audio != new.Audio
	d.VADChanged = old.VAD.Level() != new.VAD.Level() ||
		old.VAD.SilenceTimeoutSeconds != new.VAD.SilenceTimeoutSeconds
	d.QueueChanged = old.Queue != new.Queue
	d.LanguagesChanged = !slices.Equal(old.Languages, new.Languages)
	d.DispatchChanged = old.Dispatch != new.Dispatch

	oldEntries, newEntries := old.Providers.entries(), new.Providers.entries()
	for i := range oldEntries {
		if !entryEqual(*oldEntries[i].entry, *newEntries[i].entry) {
			d.ProvidersChanged = append(d.ProvidersChanged, oldEntries[i].kind)
		}
	}

	d.RestartRequired = old.Server.ListenAddr != new.Server.ListenAddr ||
		!reflect.DeepEqual(old.Server.TLS, new.Server.TLS) ||
		old.History != new.History ||
		old.Recording != new.Recording

	return d
}

func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != 0 || len(b.Options) != 0 {
		if !reflect.DeepEqual(a.Options, b.Options) {
			return false
		}
	}
	return slices.EqualFunc(a.Fallbacks, b.Fallbacks, entryEqual)
}
