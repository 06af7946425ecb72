// Package session coordinates the voice-input lifecycle: device capture,
// streaming recognition, timers, and subscriber delivery.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rbright/murmur/internal/capture"
	"github.com/rbright/murmur/internal/fsm"
	"github.com/rbright/murmur/internal/ipc"
	"github.com/rbright/murmur/internal/metrics"
	"github.com/rbright/murmur/internal/stt"
)

// continuousSessionLimit caps continuous-mode sessions; push-to-talk
// sessions are unbounded.
const continuousSessionLimit = 60 * time.Second

// preloadWarnThreshold is how many consecutive warmup failures are tolerated
// before a single warning is raised.
const preloadWarnThreshold = 3

// ErrSessionActive is returned when a start request arrives while a session
// is already running.
var ErrSessionActive = errors.New("recognition session already active")

// Capturer is the orchestrator-facing subset of capture manager behavior.
type Capturer interface {
	IsAvailable(ctx context.Context) bool
	RequestPermission(ctx context.Context) capture.PermissionResult
	StartCapture(ctx context.Context) (stt.AudioSource, error)
	StopCapture()
	IsCapturing() bool
	SubscribeToAudioLevels(fn func(float64)) func()
}

// noopCapturer preserves orchestrator flow when no capture backend is wired.
type noopCapturer struct{}

func (noopCapturer) IsAvailable(context.Context) bool { return false }
func (noopCapturer) RequestPermission(context.Context) capture.PermissionResult {
	return capture.PermissionResult{}
}
func (noopCapturer) StartCapture(context.Context) (stt.AudioSource, error) {
	return nil, errors.New("no capture backend")
}
func (noopCapturer) StopCapture()                               {}
func (noopCapturer) IsCapturing() bool                          { return false }
func (noopCapturer) SubscribeToAudioLevels(func(float64)) func() { return func() {} }

// Orchestrator owns the session state machine and fans recognition events
// out to subscribers. All public methods are safe for concurrent use.
type Orchestrator struct {
	logger     *slog.Logger
	capturer   Capturer
	recognizer stt.Recognizer
	metrics    *metrics.Metrics

	mu            sync.RWMutex
	state         fsm.State
	mode          stt.Mode
	cfg           stt.Config
	sessionID     string
	sessionStart  time.Time
	stopRequested bool
	timer         *time.Timer

	preloadFailures int

	stateSubs   *subscriberSet[bool]
	interimSubs *subscriberSet[stt.Result]
	finalSubs   *subscriberSet[stt.Result]
	errorSubs   *subscriberSet[*stt.Error]

	// continuousLimit is continuousSessionLimit in production; tests shrink it.
	continuousLimit time.Duration
	now             func() time.Time
}

// NewOrchestrator constructs an orchestrator with safe default fallbacks.
// A nil metrics value disables instrumentation.
func NewOrchestrator(
	logger *slog.Logger,
	capturer Capturer,
	recognizer stt.Recognizer,
	m *metrics.Metrics,
) *Orchestrator {
	if capturer == nil {
		capturer = noopCapturer{}
	}
	if recognizer == nil {
		recognizer = stt.NewMockRecognizer()
	}

	return &Orchestrator{
		logger:          logger,
		capturer:        capturer,
		recognizer:      recognizer,
		metrics:         m,
		state:           fsm.StateIdle,
		stateSubs:       newSubscriberSet[bool](),
		interimSubs:     newSubscriberSet[stt.Result](),
		finalSubs:       newSubscriberSet[stt.Result](),
		errorSubs:       newSubscriberSet[*stt.Error](),
		continuousLimit: continuousSessionLimit,
		now:             time.Now,
	}
}

// Initialize installs the recognition configuration and event bindings, then
// warms up the capture backend. Warmup failures are non-fatal: they are
// logged at debug level and escalate to a single warning after
// preloadWarnThreshold consecutive failures.
func (o *Orchestrator) Initialize(ctx context.Context, cfg stt.Config) error {
	if err := o.recognizer.Configure(cfg); err != nil {
		return fmt.Errorf("configure recognizer: %w", err)
	}

	o.mu.Lock()
	o.cfg = cfg
	o.mu.Unlock()

	o.recognizer.SetHandlers(stt.Handlers{
		Recognizing:    o.onInterim,
		Recognized:     o.onFinal,
		Err:            o.onError,
		SessionStopped: o.onSessionStopped,
	})

	o.preload(ctx)
	return nil
}

func (o *Orchestrator) preload(ctx context.Context) {
	if o.capturer.IsAvailable(ctx) {
		o.mu.Lock()
		o.preloadFailures = 0
		o.mu.Unlock()
		return
	}

	o.mu.Lock()
	o.preloadFailures++
	failures := o.preloadFailures
	o.mu.Unlock()

	if failures == preloadWarnThreshold {
		o.logWarn("capture backend warmup keeps failing", "consecutive_failures", failures)
		return
	}
	o.logDebug("capture backend warmup failed", "consecutive_failures", failures)
}

// StartRecognition runs the start sequence for one session: device
// availability, permission, capture, then the recognition stream. It returns
// once the service has acknowledged the session or a classified error.
func (o *Orchestrator) StartRecognition(ctx context.Context, mode stt.Mode) error {
	o.mu.Lock()
	if o.state != fsm.StateIdle {
		state := o.state
		o.mu.Unlock()
		o.logWarn("start requested while a session is active", "state", string(state))
		return ErrSessionActive
	}
	next, err := fsm.Transition(o.state, fsm.EventStart)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	o.state = next
	o.stopRequested = false
	o.mu.Unlock()

	if err := o.runStartSequence(ctx, mode); err != nil {
		o.cleanup()
		return err
	}
	return nil
}

func (o *Orchestrator) runStartSequence(ctx context.Context, mode stt.Mode) error {
	if !o.capturer.IsAvailable(ctx) {
		return o.relayError(stt.NewError(stt.KindMicrophoneUnavailable, "no capture device detected", nil))
	}

	if result := o.capturer.RequestPermission(ctx); !result.Granted {
		return o.relayError(stt.NewError(stt.KindPermissionDenied, "microphone permission refused", result.Err))
	}

	if o.cancelledDuringStart() {
		o.logInfo("session cancelled before capture started")
		return errCancelledDuringStart
	}

	source, err := o.capturer.StartCapture(ctx)
	if err != nil {
		return o.relayError(stt.NewError(stt.KindMicrophoneUnavailable, "capture stream failed to open", err))
	}

	if o.cancelledDuringStart() {
		o.capturer.StopCapture()
		o.logInfo("session cancelled before recognition started")
		return errCancelledDuringStart
	}

	if err := o.recognizer.Start(ctx, source); err != nil {
		o.capturer.StopCapture()
		var recErr *stt.Error
		if errors.As(err, &recErr) {
			return o.relayError(recErr)
		}
		return o.relayError(stt.NewError(stt.KindRecognitionFailed, "recognition stream failed to start", err))
	}

	o.mu.Lock()
	if o.stopRequested {
		o.mu.Unlock()
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = o.recognizer.Stop(stopCtx)
		o.capturer.StopCapture()
		o.logInfo("session cancelled during start acknowledgement")
		return errCancelledDuringStart
	}

	next, err := fsm.Transition(o.state, fsm.EventStarted)
	if err != nil {
		o.mu.Unlock()
		return fmt.Errorf("session ended during start: %w", err)
	}
	o.state = next
	o.mode = mode
	o.sessionID = uuid.NewString()
	o.sessionStart = o.now()
	if mode == stt.ModeContinuous {
		o.timer = time.AfterFunc(o.continuousLimit, o.handleSessionTimeout)
	}
	sessionID := o.sessionID
	o.mu.Unlock()

	o.recordSessionStart()
	o.logInfo("recognition session started", "session_id", sessionID, "mode", string(mode))
	o.stateSubs.notify(true, o.logger)
	return nil
}

// errCancelledDuringStart marks a start sequence abandoned by a concurrent
// stop request. Callers treat it as a clean no-session outcome.
var errCancelledDuringStart = errors.New("session start cancelled")

// IsStartCancelled reports whether err is the clean stop-during-start outcome.
func IsStartCancelled(err error) bool {
	return errors.Is(err, errCancelledDuringStart)
}

func (o *Orchestrator) cancelledDuringStart() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.stopRequested
}

// StopRecognition requests graceful termination. Stopping an idle
// orchestrator is a no-op; stopping during the start sequence cancels the
// session before it becomes active.
func (o *Orchestrator) StopRecognition(ctx context.Context) error {
	o.mu.Lock()
	switch o.state {
	case fsm.StateIdle:
		o.mu.Unlock()
		return nil
	case fsm.StateStarting:
		o.stopRequested = true
		o.mu.Unlock()
		o.logInfo("stop requested during session start")
		return nil
	case fsm.StateStopping:
		o.mu.Unlock()
		return nil
	}

	next, err := fsm.Transition(o.state, fsm.EventStop)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	o.state = next
	o.mu.Unlock()

	if err := o.recognizer.Stop(ctx); err != nil {
		o.logWarn("recognizer stop failed", "error", err.Error())
	}
	o.cleanup()
	return nil
}

// UpdateLanguage reconfigures the recognition language. A session already in
// flight keeps the language it started with; the new value takes effect from
// the next session.
func (o *Orchestrator) UpdateLanguage(language string) error {
	o.mu.Lock()
	cfg := o.cfg
	cfg.Language = language
	o.mu.Unlock()

	if err := o.recognizer.Configure(cfg); err != nil {
		return fmt.Errorf("configure recognizer: %w", err)
	}

	o.mu.Lock()
	o.cfg = cfg
	o.mu.Unlock()
	return nil
}

// IsRecognizing reports whether a session is active.
func (o *Orchestrator) IsRecognizing() bool {
	return o.State() == fsm.StateRecognizing
}

// State returns the current lifecycle state snapshot.
func (o *Orchestrator) State() fsm.State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Mode returns the mode of the current or most recent session.
func (o *Orchestrator) Mode() stt.Mode {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.mode
}

// SessionID returns the active session identifier, empty when idle.
func (o *Orchestrator) SessionID() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.sessionID
}

// SubscribeToState registers for session activity changes: true when a
// session becomes active, false exactly once when it ends.
func (o *Orchestrator) SubscribeToState(fn func(bool)) func() {
	return o.stateSubs.subscribe(fn)
}

// SubscribeToInterimResults registers for provisional transcripts.
func (o *Orchestrator) SubscribeToInterimResults(fn func(stt.Result)) func() {
	return o.interimSubs.subscribe(fn)
}

// SubscribeToFinalResults registers for settled transcripts.
func (o *Orchestrator) SubscribeToFinalResults(fn func(stt.Result)) func() {
	return o.finalSubs.subscribe(fn)
}

// SubscribeToErrors registers for classified pipeline failures.
func (o *Orchestrator) SubscribeToErrors(fn func(*stt.Error)) func() {
	return o.errorSubs.subscribe(fn)
}

// SubscribeToAudioLevels registers for capture metering updates.
func (o *Orchestrator) SubscribeToAudioLevels(fn func(float64)) func() {
	return o.capturer.SubscribeToAudioLevels(fn)
}

// Handle serves IPC commands against the live orchestrator.
func (o *Orchestrator) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		o.mu.RLock()
		state := o.state
		mode := o.mode
		o.mu.RUnlock()
		resp := ipc.Response{OK: true, State: string(state), Message: "status"}
		if state != fsm.StateIdle {
			resp.Mode = string(mode)
		}
		return resp
	case ipc.CommandStop:
		if err := o.StopRecognition(ctx); err != nil {
			return ipc.Response{OK: false, State: string(o.State()), Error: err.Error()}
		}
		return ipc.Response{OK: true, State: string(o.State()), Message: "stop requested"}
	default:
		return ipc.Response{OK: false, State: string(o.State()), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

func (o *Orchestrator) handleSessionTimeout() {
	o.mu.RLock()
	active := o.state == fsm.StateRecognizing
	limit := o.continuousLimit
	o.mu.RUnlock()
	if !active {
		return
	}

	timeoutErr := stt.NewTimeoutError(limit)
	o.logWarn("continuous session exceeded its duration limit", "limit", limit.String())
	o.recordError(timeoutErr)
	o.errorSubs.notify(timeoutErr, o.logger)

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.recognizer.Stop(stopCtx); err != nil {
		o.logWarn("recognizer stop failed after timeout", "error", err.Error())
	}
	o.cleanup()
}

// cleanup releases session resources in dependency order and returns the
// orchestrator to idle. Safe to run from any path, any number of times; only
// the run that leaves a non-idle state notifies subscribers.
func (o *Orchestrator) cleanup() {
	o.mu.Lock()
	if o.state == fsm.StateIdle {
		o.mu.Unlock()
		return
	}
	wasRecognizing := o.state == fsm.StateRecognizing || o.state == fsm.StateStopping
	if o.state != fsm.StateStopping {
		o.state, _ = fsm.Transition(o.state, fsm.EventFail)
	}
	o.state, _ = fsm.Transition(o.state, fsm.EventStopped)
	timer := o.timer
	o.timer = nil
	start := o.sessionStart
	sessionID := o.sessionID
	o.sessionID = ""
	o.stopRequested = false
	o.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	o.capturer.StopCapture()

	if wasRecognizing {
		o.recordSessionEnd(o.now().Sub(start))
		o.logInfo("recognition session ended", "session_id", sessionID)
		o.stateSubs.notify(false, o.logger)
	}
}

func (o *Orchestrator) onInterim(result stt.Result) {
	o.recordInterim()
	o.interimSubs.notify(result, o.logger)
}

func (o *Orchestrator) onFinal(result stt.Result) {
	o.recordFinal()
	o.finalSubs.notify(result, o.logger)
}

func (o *Orchestrator) onError(recErr *stt.Error) {
	o.recordError(recErr)
	o.logWarn("recognition error", "kind", string(recErr.Kind), "error", recErr.Error())
	o.errorSubs.notify(recErr, o.logger)
}

func (o *Orchestrator) onSessionStopped() {
	o.cleanup()
}

// relayError delivers a start-sequence failure to error subscribers and
// returns it for the synchronous caller.
func (o *Orchestrator) relayError(recErr *stt.Error) error {
	o.recordError(recErr)
	o.logWarn("session start failed", "kind", string(recErr.Kind), "error", recErr.Error())
	o.errorSubs.notify(recErr, o.logger)
	return recErr
}

func (o *Orchestrator) recordSessionStart() {
	if o.metrics != nil {
		o.metrics.RecordSessionStart()
	}
}

func (o *Orchestrator) recordSessionEnd(elapsed time.Duration) {
	if o.metrics != nil {
		o.metrics.RecordSessionEnd(elapsed.Seconds())
	}
}

func (o *Orchestrator) recordInterim() {
	if o.metrics != nil {
		o.metrics.RecordInterimResult()
	}
}

func (o *Orchestrator) recordFinal() {
	if o.metrics != nil {
		o.metrics.RecordFinalResult()
	}
}

func (o *Orchestrator) recordError(recErr *stt.Error) {
	if o.metrics != nil {
		o.metrics.RecordError(string(recErr.Kind))
	}
}

func (o *Orchestrator) logInfo(msg string, args ...any) {
	if o.logger != nil {
		o.logger.Info(msg, args...)
	}
}

func (o *Orchestrator) logWarn(msg string, args ...any) {
	if o.logger != nil {
		o.logger.Warn(msg, args...)
	}
}

func (o *Orchestrator) logDebug(msg string, args ...any) {
	if o.logger != nil {
		o.logger.Debug(msg, args...)
	}
}
