// Package doctor runs runtime readiness diagnostics for config, audio
// capture, and the speech service.
package doctor

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/rbright/murmur/internal/capture"
	"github.com/rbright/murmur/internal/config"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(cfg config.Loaded) Report {
	checks := []Check{}

	configMessage := fmt.Sprintf("loaded %q", cfg.Path)
	if !cfg.Exists {
		configMessage = fmt.Sprintf("no file at %q; using defaults", cfg.Path)
	}
	if len(cfg.Warnings) > 0 {
		configMessage = fmt.Sprintf("%s (%d warnings)", configMessage, len(cfg.Warnings))
	}
	checks = append(checks, Check{Name: "config", Pass: true, Message: configMessage})

	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "runtime dir resolved", "XDG_RUNTIME_DIR is empty; IPC socket cannot be placed"))

	checks = append(checks, checkAudioSelection(cfg.Config))
	checks = append(checks, checkSpeechProvider(cfg.Config))

	if cfg.Config.Speech.Provider == config.ProviderGoogle {
		checks = append(checks, checkSpeechEndpoint(cfg.Config))
	}

	return Report{Checks: checks}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(cfg config.Config) Check {
	selection, err := capture.SelectDevice(context.Background(), cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkSpeechProvider validates recognition service settings without
// touching the network.
func checkSpeechProvider(cfg config.Config) Check {
	switch cfg.Speech.Provider {
	case config.ProviderMock:
		return Check{Name: "speech.provider", Pass: true, Message: "mock provider needs no credential"}
	case config.ProviderGoogle:
		if strings.TrimSpace(cfg.Speech.Credential) == "" {
			return Check{Name: "speech.provider", Pass: false, Message: "google provider requires speech.credential"}
		}
		if strings.TrimSpace(cfg.Speech.Region) == "" && strings.TrimSpace(cfg.Speech.Endpoint) == "" {
			return Check{Name: "speech.provider", Pass: false, Message: "google provider requires speech.region or speech.endpoint"}
		}
		return Check{Name: "speech.provider", Pass: true, Message: "google provider configured"}
	default:
		return Check{Name: "speech.provider", Pass: false, Message: fmt.Sprintf("unknown provider %q", cfg.Speech.Provider)}
	}
}

// checkSpeechEndpoint probes TCP reachability of the recognition endpoint.
func checkSpeechEndpoint(cfg config.Config) Check {
	endpoint := SpeechEndpoint(cfg.Speech)
	conn, err := net.DialTimeout("tcp", endpoint, 2*time.Second)
	if err != nil {
		return Check{Name: "speech.endpoint", Pass: false, Message: fmt.Sprintf("dial %s: %v", endpoint, err)}
	}
	_ = conn.Close()
	return Check{Name: "speech.endpoint", Pass: true, Message: fmt.Sprintf("reachable at %s", endpoint)}
}

// SpeechEndpoint resolves the host:port the recognizer will dial: an explicit
// endpoint wins, then the regional host, then the global default.
func SpeechEndpoint(speech config.SpeechConfig) string {
	if endpoint := strings.TrimSpace(speech.Endpoint); endpoint != "" {
		return endpoint
	}
	if region := strings.TrimSpace(speech.Region); region != "" {
		return fmt.Sprintf("%s-speech.googleapis.com:443", region)
	}
	return "speech.googleapis.com:443"
}
