// Package config resolves, parses, validates, and defaults murmur configuration.
package config

// Config is the fully materialized runtime configuration used by murmur.
type Config struct {
	Speech        SpeechConfig
	Audio         AudioConfig
	Observability ObservabilityConfig
	Debug         DebugConfig
}

// SpeechConfig selects and parameterizes the recognition service.
type SpeechConfig struct {
	Provider             string
	Credential           string
	Region               string
	Endpoint             string
	Language             string
	Model                string
	AutomaticPunctuation bool
}

// AudioConfig controls preferred and fallback input-source selection.
type AudioConfig struct {
	Input    string
	Fallback string
}

// ObservabilityConfig controls optional metrics exposure.
type ObservabilityConfig struct {
	MetricsAddr string
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	EnableAudioDump bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
