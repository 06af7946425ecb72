// Package app wires configuration, capture, recognition, and IPC into the
// murmur command surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rbright/murmur/internal/capture"
	"github.com/rbright/murmur/internal/cli"
	"github.com/rbright/murmur/internal/config"
	"github.com/rbright/murmur/internal/doctor"
	"github.com/rbright/murmur/internal/ipc"
	"github.com/rbright/murmur/internal/logging"
	"github.com/rbright/murmur/internal/metrics"
	"github.com/rbright/murmur/internal/session"
	"github.com/rbright/murmur/internal/stt"
	"github.com/rbright/murmur/internal/stt/google"
	"github.com/rbright/murmur/internal/version"
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("murmur"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("murmur"))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	logRuntime, err := logging.New()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("load config failed", "error", err.Error())
		return 1
	}
	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandStop:
		return r.forwardOrFail(ctx, ipc.CommandStop)
	case cli.CommandListen:
		mode := stt.ModePushToTalk
		if parsed.Continuous {
			mode = stt.ModeContinuous
		}
		return r.commandListen(ctx, cfgLoaded.Config, mode, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := capture.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		availability := "yes"
		if !device.Available {
			availability = "no"
		}
		muted := "no"
		if device.Muted {
			muted = "yes"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			availability,
			muted,
		)
	}

	return 0
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandStatus)
	if handled {
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		if resp.State == "" {
			resp.State = "idle"
		}
		if resp.Mode != "" {
			fmt.Fprintf(r.Stdout, "%s (%s)\n", resp.State, resp.Mode)
		} else {
			fmt.Fprintln(r.Stdout, resp.State)
		}
		return 0
	}

	fmt.Fprintln(r.Stdout, "idle")
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, command string) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, command)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: no active murmur session\n")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

// commandListen owns the live session: it acquires the control socket,
// builds the pipeline, and runs one recognition session to completion.
func (r Runner) commandListen(ctx context.Context, cfg config.Config, mode stt.Mode, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8, nil)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	recognizer, err := buildRecognizer(cfg.Speech)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	var m *metrics.Metrics
	if cfg.Observability.MetricsAddr != "" {
		registry := prometheus.NewRegistry()
		m = metrics.New(registry)
		shutdown := serveMetrics(cfg.Observability.MetricsAddr, registry, logger)
		defer shutdown()
	}

	captureOpts := capture.Options{
		Input:     cfg.Audio.Input,
		Fallback:  cfg.Audio.Fallback,
		RetainRaw: cfg.Debug.EnableAudioDump,
	}
	if m != nil {
		captureOpts.OnAudioCaptured = m.RecordAudioCaptured
	}
	manager := capture.NewManager(logger, captureOpts)

	orchestrator := session.NewOrchestrator(logger, captureAdapter{manager}, recognizer, m)
	if err := orchestrator.Initialize(ctx, speechConfig(cfg.Speech)); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	sessionDone := make(chan struct{})
	var doneOnce sync.Once
	unsubscribeState := orchestrator.SubscribeToState(func(active bool) {
		if !active {
			doneOnce.Do(func() { close(sessionDone) })
		}
	})
	defer unsubscribeState()

	unsubscribeInterim := orchestrator.SubscribeToInterimResults(func(result stt.Result) {
		fmt.Fprintf(r.Stderr, "... %s\n", result.Text)
	})
	defer unsubscribeInterim()

	unsubscribeFinal := orchestrator.SubscribeToFinalResults(func(result stt.Result) {
		if result.Text != "" {
			fmt.Fprintln(r.Stdout, result.Text)
		}
	})
	defer unsubscribeFinal()

	unsubscribeErrors := orchestrator.SubscribeToErrors(func(recErr *stt.Error) {
		fmt.Fprintf(r.Stderr, "error: %v\n", recErr)
	})
	defer unsubscribeErrors()

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- ipc.Serve(serverCtx, listener, orchestrator)
	}()

	if err := orchestrator.StartRecognition(ctx, mode); err != nil {
		serverCancel()
		<-serverErrCh
		if session.IsStartCancelled(err) {
			return 0
		}
		return 1
	}

	select {
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if stopErr := orchestrator.StopRecognition(stopCtx); stopErr != nil {
			logger.Warn("stop on shutdown failed", "error", stopErr.Error())
		}
		cancel()
	case <-sessionDone:
	}

	serverCancel()
	if serverErr := <-serverErrCh; serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		return 1
	}

	return 0
}

// captureAdapter narrows StartCapture to the orchestrator-facing audio
// source contract.
type captureAdapter struct {
	*capture.Manager
}

func (a captureAdapter) StartCapture(ctx context.Context) (stt.AudioSource, error) {
	captureSession, err := a.Manager.StartCapture(ctx)
	if err != nil {
		return nil, err
	}
	return captureSession, nil
}

func buildRecognizer(speech config.SpeechConfig) (stt.Recognizer, error) {
	switch speech.Provider {
	case config.ProviderGoogle:
		return google.New(), nil
	case config.ProviderMock:
		return stt.NewMockRecognizer(), nil
	default:
		return nil, fmt.Errorf("unknown speech provider %q", speech.Provider)
	}
}

func speechConfig(speech config.SpeechConfig) stt.Config {
	return stt.Config{
		Credential:           speech.Credential,
		Region:               speech.Region,
		Endpoint:             speech.Endpoint,
		Language:             speech.Language,
		Model:                speech.Model,
		AutomaticPunctuation: speech.AutomaticPunctuation,
	}
}

// serveMetrics exposes the Prometheus registry over HTTP and returns the
// shutdown hook.
func serveMetrics(addr string, registry *prometheus.Registry, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server failed", "addr", addr, "error", err.Error())
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
}

func tryForward(ctx context.Context, socketPath string, command string) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, 220*time.Millisecond)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if isSocketMissing(err) {
		return ipc.Response{}, false, nil
	}
	if isConnectionRefused(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
}

func isSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory")
}

func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
