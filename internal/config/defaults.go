package config

const (
	ProviderGoogle = "google"
	ProviderMock   = "mock"
)

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Speech: SpeechConfig{
			Provider:             ProviderGoogle,
			Language:             "en-US",
			AutomaticPunctuation: true,
		},
		Audio: AudioConfig{
			Input:    "default",
			Fallback: "default",
		},
		Observability: ObservabilityConfig{},
		Debug:         DebugConfig{},
	}
}
