package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// PermissionState is the platform-level microphone permission.
type PermissionState string

const (
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
	PermissionPrompt  PermissionState = "prompt"
)

// PermissionResult is the outcome of an explicit permission request.
type PermissionResult struct {
	Granted bool
	Err     error
}

// permissionCacheTTL bounds how long a queried permission state may be
// served without a fresh platform query.
const permissionCacheTTL = 5 * time.Second

// Options parameterize a capture manager.
type Options struct {
	// Input and Fallback are device-selection preferences ("default" or a
	// substring of a device id/description).
	Input    string
	Fallback string
	// RetainRaw keeps captured PCM in memory for a WAV debug dump on stop.
	RetainRaw bool
	// OnAudioCaptured, when set, receives the byte total of each capture
	// session as it stops.
	OnAudioCaptured func(bytes int64)
}

// Manager owns the capture device lifecycle. At most one capture session
// exists per manager instance.
type Manager struct {
	logger *slog.Logger
	opts   Options

	// startMu serializes StartCapture across the device open, so concurrent
	// callers cannot each acquire a device handle.
	startMu sync.Mutex

	mu        sync.Mutex
	session   *Session
	meterStop chan struct{}
	meterDone chan struct{}
	perm      PermissionState
	permAt    time.Time

	meter *meter

	// Seams for tests; production defaults talk to the Pulse server.
	connect func(context.Context) error
	probe   func(context.Context) error
	open    func(context.Context) (*Session, error)
	now     func() time.Time
}

// NewManager builds a capture manager with live Pulse wiring.
func NewManager(logger *slog.Logger, opts Options) *Manager {
	m := &Manager{
		logger: logger,
		opts:   opts,
		meter:  newMeter(),
		now:    time.Now,
	}
	m.connect = func(context.Context) error {
		client, err := newPulseClient()
		if err != nil {
			return err
		}
		client.Close()
		return nil
	}
	m.probe = func(ctx context.Context) error {
		selection, err := SelectDevice(ctx, "default", "default")
		if err != nil {
			return err
		}
		probe, err := openSession(ctx, selection.Device, false)
		if err != nil {
			return err
		}
		probe.close()
		return nil
	}
	m.open = func(ctx context.Context) (*Session, error) {
		selection, err := SelectDevice(ctx, opts.Input, opts.Fallback)
		if err != nil {
			return nil, err
		}
		if selection.Warning != "" && logger != nil {
			logger.Warn(selection.Warning)
		}
		return openSession(ctx, selection.Device, opts.RetainRaw)
	}
	return m
}

// IsAvailable reports whether the platform exposes a capture API at all.
// This is a static capability check, not a permission check.
func (m *Manager) IsAvailable(ctx context.Context) bool {
	return m.connect(ctx) == nil
}

// CheckPermission is a non-intrusive permission query with a short cache.
// When the platform cannot report permission state it falls back to prompt.
func (m *Manager) CheckPermission(ctx context.Context) PermissionState {
	m.mu.Lock()
	if m.session != nil && m.session.active() {
		m.mu.Unlock()
		return PermissionGranted
	}
	if m.perm != "" && m.now().Sub(m.permAt) < permissionCacheTTL {
		cached := m.perm
		m.mu.Unlock()
		return cached
	}
	m.mu.Unlock()

	state := m.queryPermission(ctx)
	m.cachePermission(state)
	return state
}

func (m *Manager) queryPermission(ctx context.Context) PermissionState {
	err := m.connect(ctx)
	if err == nil {
		return PermissionGranted
	}
	if isAccessDenied(err) {
		return PermissionDenied
	}
	if m.logger != nil {
		m.logger.Warn("platform cannot report microphone permission state", "error", err.Error())
	}
	return PermissionPrompt
}

func (m *Manager) cachePermission(state PermissionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perm = state
	m.permAt = m.now()
}

// RequestPermission asks the platform for microphone access by opening and
// immediately closing a probe stream. It never fails with a Go error; the
// outcome is always a result value.
func (m *Manager) RequestPermission(ctx context.Context) PermissionResult {
	if m.IsCapturing() {
		return PermissionResult{Granted: true}
	}

	err := m.probe(ctx)
	if err == nil {
		m.cachePermission(PermissionGranted)
		return PermissionResult{Granted: true}
	}
	if isAccessDenied(err) {
		m.cachePermission(PermissionDenied)
		return PermissionResult{Granted: false, Err: err}
	}
	m.cachePermission(PermissionPrompt)
	return PermissionResult{Granted: false, Err: err}
}

// StartCapture opens the device with the fixed capture format. It is
// idempotent: a second call while a session is active returns the existing
// session without opening a second device handle.
func (m *Manager) StartCapture(ctx context.Context) (*Session, error) {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	m.mu.Lock()
	if m.session != nil && m.session.active() {
		existing := m.session
		m.mu.Unlock()
		if m.logger != nil {
			m.logger.Warn("capture already active; returning existing session", "device", existing.Device().ID)
		}
		return existing, nil
	}
	m.mu.Unlock()

	session, err := m.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open capture stream: %w", err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(meterFrameInterval)
		defer ticker.Stop()
		m.meter.run(stop, ticker.C, m.AudioLevel, m.logger)
	}()

	m.mu.Lock()
	m.session = session
	m.meterStop = stop
	m.meterDone = done
	// A successful device open is proof of permission.
	m.perm = PermissionGranted
	m.permAt = m.now()
	m.mu.Unlock()

	return session, nil
}

// StopCapture releases everything the manager owns, in dependency order:
// the metering loop first (it reads the analysis window), then the stream,
// then the analysis resources. Safe to call in any state, any number of times.
func (m *Manager) StopCapture() {
	m.mu.Lock()
	session := m.session
	stop := m.meterStop
	done := m.meterDone
	m.session = nil
	m.meterStop = nil
	m.meterDone = nil
	m.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	if session == nil {
		return
	}

	session.close()

	if m.opts.OnAudioCaptured != nil {
		m.opts.OnAudioCaptured(session.BytesCaptured())
	}

	if m.opts.RetainRaw {
		if pcm := session.RawPCM(); len(pcm) > 0 {
			writeDebugAudio(pcm, m.logger)
		}
	}
}

// IsCapturing reports whether a live capture stream exists.
func (m *Manager) IsCapturing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil && m.session.active()
}

// AudioLevel reads the analysis window once. Returns 0 when no session is active.
func (m *Manager) AudioLevel() float64 {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()
	if session == nil {
		return 0
	}
	return session.Level()
}

// SubscribeToAudioLevels registers a metering listener and returns its
// idempotent unsubscribe. Subscribers are independent; one unsubscribing or
// panicking does not affect the others.
func (m *Manager) SubscribeToAudioLevels(fn func(float64)) func() {
	return m.meter.subscribe(fn)
}

func isAccessDenied(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "access denied") || strings.Contains(msg, "permission denied")
}
