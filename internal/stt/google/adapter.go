// Package google adapts Google Cloud Speech-to-Text streaming recognition
// to the stt.Recognizer interface.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/rbright/murmur/internal/stt"
)

const (
	// sampleRateHertz matches the fixed capture format.
	sampleRateHertz = 16000

	defaultEndpoint = "speech.googleapis.com:443"

	// Voice activity bounds sent with the streaming config. Sessions are
	// additionally capped by the orchestrator, so these only cover the
	// service-side silence detection.
	speechStartTimeout = 60 * time.Second
	speechEndTimeout   = 60 * time.Second
)

// Recognizer streams capture audio to the Cloud Speech API and relays
// interim and final transcripts to the installed handlers.
type Recognizer struct {
	mu          sync.Mutex
	cfg         stt.Config
	configured  bool
	handlers    stt.Handlers
	recognizing bool

	client *speech.Client
	stream speechpb.Speech_StreamingRecognizeClient
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns an unconfigured recognizer. Configure must succeed before Start.
func New() *Recognizer {
	return &Recognizer{}
}

// Configure validates and installs the service configuration. Credential and
// language are required; the endpoint is derived from the region unless an
// explicit override is present.
func (r *Recognizer) Configure(cfg stt.Config) error {
	if strings.TrimSpace(cfg.Language) == "" {
		return errors.New("speech language is required")
	}
	if strings.TrimSpace(cfg.Credential) == "" {
		return errors.New("speech credential is required")
	}
	if strings.TrimSpace(cfg.Region) == "" && strings.TrimSpace(cfg.Endpoint) == "" {
		return errors.New("speech region or endpoint is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
	r.configured = true
	return nil
}

// SetHandlers installs the event bindings used by subsequent sessions.
func (r *Recognizer) SetHandlers(handlers stt.Handlers) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = handlers
}

// Recognizing reports whether a streaming session is active.
func (r *Recognizer) Recognizing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recognizing
}

// Start opens the streaming session and returns once the service has
// accepted the recognition configuration. Audio pumping and transcript
// delivery continue on background goroutines until the source closes or
// Stop is called.
func (r *Recognizer) Start(ctx context.Context, src stt.AudioSource) error {
	r.mu.Lock()
	if !r.configured {
		r.mu.Unlock()
		return stt.NewError(stt.KindRecognitionFailed, "recognizer is not configured", nil)
	}
	if r.recognizing {
		r.mu.Unlock()
		return stt.NewError(stt.KindRecognitionFailed, "recognition session already active", nil)
	}
	cfg := r.cfg
	handlers := r.handlers
	r.mu.Unlock()

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	client, err := speech.NewClient(sessionCtx, clientOptions(cfg)...)
	if err != nil {
		cancel()
		return classify(err)
	}

	stream, err := client.StreamingRecognize(sessionCtx)
	if err != nil {
		client.Close()
		cancel()
		return classify(err)
	}

	// The service acknowledges the session by accepting the config frame.
	if err := stream.Send(configRequest(cfg)); err != nil {
		client.Close()
		cancel()
		return classify(err)
	}

	done := make(chan struct{})

	r.mu.Lock()
	r.client = client
	r.stream = stream
	r.cancel = cancel
	r.done = done
	r.recognizing = true
	r.mu.Unlock()

	if handlers.SessionStarted != nil {
		handlers.SessionStarted()
	}

	var finish sync.Once
	finished := func(relay *stt.Error) {
		finish.Do(func() {
			r.mu.Lock()
			r.recognizing = false
			r.client = nil
			r.stream = nil
			r.cancel = nil
			r.mu.Unlock()

			if relay != nil && handlers.Err != nil {
				handlers.Err(relay)
			}
			client.Close()
			cancel()
			if handlers.SessionStopped != nil {
				handlers.SessionStopped()
			}
			close(done)
		})
	}

	go r.sendLoop(sessionCtx, stream, src)
	go r.recvLoop(stream, handlers, finished)

	return nil
}

// Stop half-closes the audio stream so the service can flush a final result,
// then waits for the receive loop to drain. Safe to call when idle.
func (r *Recognizer) Stop(ctx context.Context) error {
	r.mu.Lock()
	stream := r.stream
	done := r.done
	cancel := r.cancel
	r.mu.Unlock()

	if stream == nil {
		return nil
	}
	if err := stream.CloseSend(); err != nil && !errors.Is(err, io.EOF) {
		r.mu.Lock()
		if r.cancel != nil {
			r.cancel()
		}
		r.mu.Unlock()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		return fmt.Errorf("wait for recognition shutdown: %w", ctx.Err())
	}
}

func (r *Recognizer) sendLoop(ctx context.Context, stream speechpb.Speech_StreamingRecognizeClient, src stt.AudioSource) {
	defer func() {
		// Half-close tells the service no more audio is coming; it may
		// still deliver a trailing final result after this.
		_ = stream.CloseSend()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-src.Chunks():
			if !ok {
				return
			}
			req := &speechpb.StreamingRecognizeRequest{
				StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
					AudioContent: chunk,
				},
			}
			if err := stream.Send(req); err != nil {
				// Send failures surface as the receive loop's error with
				// the real gRPC status attached.
				return
			}
		}
	}
}

func (r *Recognizer) recvLoop(stream speechpb.Speech_StreamingRecognizeClient, handlers stt.Handlers, finished func(*stt.Error)) {
	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				finished(nil)
				return
			}
			finished(classify(err))
			return
		}

		if resp.SpeechEventType != speechpb.StreamingRecognizeResponse_SPEECH_EVENT_UNSPECIFIED {
			continue
		}

		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			alt := result.Alternatives[0]
			if result.IsFinal {
				if handlers.Recognized != nil {
					handlers.Recognized(stt.Final(alt.Transcript, float64(alt.Confidence)))
				}
			} else if handlers.Recognizing != nil {
				handlers.Recognizing(stt.Interim(alt.Transcript))
			}
		}
	}
}

// clientOptions builds the API client options for cfg. The credential is an
// API key; the endpoint prefers an explicit override, then the regional
// host, then the global default.
func clientOptions(cfg stt.Config) []option.ClientOption {
	return []option.ClientOption{
		option.WithAPIKey(cfg.Credential),
		option.WithEndpoint(resolveEndpoint(cfg)),
	}
}

func resolveEndpoint(cfg stt.Config) string {
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		return endpoint
	}
	if region := strings.TrimSpace(cfg.Region); region != "" {
		return fmt.Sprintf("%s-speech.googleapis.com:443", region)
	}
	return defaultEndpoint
}

// configRequest is the mandatory first frame of a streaming session.
func configRequest(cfg stt.Config) *speechpb.StreamingRecognizeRequest {
	recognition := &speechpb.RecognitionConfig{
		Encoding:                   speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz:            sampleRateHertz,
		AudioChannelCount:          1,
		LanguageCode:               cfg.Language,
		EnableAutomaticPunctuation: cfg.AutomaticPunctuation,
	}
	if model := strings.TrimSpace(cfg.Model); model != "" {
		recognition.Model = model
	}

	return &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:                    recognition,
				InterimResults:            true,
				EnableVoiceActivityEvents: true,
				VoiceActivityTimeout: &speechpb.StreamingRecognitionConfig_VoiceActivityTimeout{
					SpeechStartTimeout: durationpb.New(speechStartTimeout),
					SpeechEndTimeout:   durationpb.New(speechEndTimeout),
				},
			},
		},
	}
}
