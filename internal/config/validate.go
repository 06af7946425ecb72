package config

import (
	"fmt"
	"net"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	provider := strings.ToLower(strings.TrimSpace(cfg.Speech.Provider))
	if provider == "" {
		return nil, fmt.Errorf("speech.provider must not be empty")
	}
	if provider != ProviderGoogle && provider != ProviderMock {
		return nil, fmt.Errorf("speech.provider must be one of: %s, %s", ProviderGoogle, ProviderMock)
	}
	if strings.TrimSpace(cfg.Speech.Language) == "" {
		return nil, fmt.Errorf("speech.language must not be empty")
	}

	if provider == ProviderGoogle {
		if strings.TrimSpace(cfg.Speech.Credential) == "" {
			warnings = append(warnings, Warning{Message: "speech.credential is empty; sessions will fail to initialize until it is set"})
		}
		if strings.TrimSpace(cfg.Speech.Region) == "" && strings.TrimSpace(cfg.Speech.Endpoint) == "" {
			warnings = append(warnings, Warning{Message: "speech.region and speech.endpoint are both empty; sessions will fail to initialize until one is set"})
		}
	}

	if strings.TrimSpace(cfg.Audio.Input) == "" {
		return nil, fmt.Errorf("audio.input must not be empty")
	}
	if strings.TrimSpace(cfg.Audio.Fallback) == "" {
		return nil, fmt.Errorf("audio.fallback must not be empty")
	}

	if addr := strings.TrimSpace(cfg.Observability.MetricsAddr); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return nil, fmt.Errorf("observability.metrics_addr must be host:port: %w", err)
		}
	}

	return warnings, nil
}
