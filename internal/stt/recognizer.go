package stt

import "context"

// Config is the immutable recognition service configuration.
//
// Configure replaces the whole value; a session already in flight keeps the
// configuration it started with.
type Config struct {
	Credential           string
	Region               string
	Endpoint             string
	Language             string
	Model                string
	AutomaticPunctuation bool
}

// AudioSource yields fixed-format PCM chunks until capture stops.
type AudioSource interface {
	Chunks() <-chan []byte
}

// Handlers are the single-slot event bindings for one recognizer.
//
// The recognizer is a pass-through, not a fan-out point; multi-subscriber
// delivery is the session orchestrator's job. Nil handlers are skipped.
type Handlers struct {
	Recognizing    func(Result)
	Recognized     func(Result)
	Err            func(*Error)
	SessionStarted func()
	SessionStopped func()
}

// Recognizer drives a remote streaming recognition session from live audio.
type Recognizer interface {
	// Configure validates and installs the service configuration. It fails
	// fast on missing required fields and may be called again between
	// sessions to change language.
	Configure(Config) error

	// SetHandlers installs the event bindings used by subsequent sessions.
	SetHandlers(Handlers)

	// Start opens the remote session and begins pumping audio from src.
	// It returns only once the service has acknowledged the session start.
	Start(ctx context.Context, src AudioSource) error

	// Stop requests graceful termination and releases the session handle.
	// Safe to call when no session is active.
	Stop(ctx context.Context) error

	// Recognizing reports whether a session is currently active.
	Recognizing() bool
}
