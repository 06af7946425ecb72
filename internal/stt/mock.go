package stt

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ScriptedUtterance is one simulated utterance with progressive interim text.
type ScriptedUtterance struct {
	Partials   []string
	Final      string
	Confidence float64
}

// DefaultScript provides sample utterances for credential-free runs.
var DefaultScript = []ScriptedUtterance{
	{
		Partials:   []string{"turn on", "turn on the"},
		Final:      "turn on the lights",
		Confidence: 0.96,
	},
	{
		Partials:   []string{"what is", "what is the weather"},
		Final:      "what is the weather today",
		Confidence: 0.93,
	},
	{
		Partials:   []string{"set a", "set a timer for"},
		Final:      "set a timer for ten minutes",
		Confidence: 0.95,
	},
}

// MockRecognizer simulates a streaming recognition service from received
// audio volume alone: every few chunks it advances through a script of
// interim transcripts followed by exactly one final per utterance.
type MockRecognizer struct {
	Script []ScriptedUtterance
	// ChunksPerEvent controls how much audio drives one scripted event.
	ChunksPerEvent int

	mu          sync.Mutex
	cfg         Config
	configured  bool
	handlers    Handlers
	recognizing bool
	stopped     bool
	stopCh      chan struct{}
	done        chan struct{}
}

// NewMockRecognizer builds a mock with the default script.
func NewMockRecognizer() *MockRecognizer {
	return &MockRecognizer{Script: DefaultScript, ChunksPerEvent: 3}
}

func (m *MockRecognizer) Configure(cfg Config) error {
	if strings.TrimSpace(cfg.Language) == "" {
		return errors.New("recognition language must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
	m.configured = true
	return nil
}

func (m *MockRecognizer) SetHandlers(h Handlers) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = h
}

func (m *MockRecognizer) Start(_ context.Context, src AudioSource) error {
	m.mu.Lock()
	if !m.configured {
		m.mu.Unlock()
		return errors.New("recognizer not configured")
	}
	if m.recognizing {
		m.mu.Unlock()
		return errors.New("recognition session already active")
	}
	m.recognizing = true
	m.stopped = false
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	handlers := m.handlers
	script := m.Script
	chunksPerEvent := m.ChunksPerEvent
	m.mu.Unlock()

	if chunksPerEvent <= 0 {
		chunksPerEvent = 3
	}
	if len(script) == 0 {
		script = DefaultScript
	}

	if handlers.SessionStarted != nil {
		handlers.SessionStarted()
	}
	go m.run(src, handlers, script, chunksPerEvent)
	return nil
}

func (m *MockRecognizer) run(src AudioSource, handlers Handlers, script []ScriptedUtterance, chunksPerEvent int) {
	defer close(m.done)
	defer func() {
		m.mu.Lock()
		m.recognizing = false
		m.mu.Unlock()
		if handlers.SessionStopped != nil {
			handlers.SessionStopped()
		}
	}()

	utterance := 0
	partial := 0
	chunks := 0

	for {
		select {
		case <-m.stopCh:
			return
		case _, ok := <-src.Chunks():
			if !ok {
				return
			}
			chunks++
			if chunks%chunksPerEvent != 0 {
				continue
			}

			current := script[utterance%len(script)]
			if partial < len(current.Partials) {
				if handlers.Recognizing != nil {
					handlers.Recognizing(Interim(current.Partials[partial]))
				}
				partial++
				continue
			}
			if handlers.Recognized != nil {
				handlers.Recognized(Final(current.Final, current.Confidence))
			}
			utterance++
			partial = 0
		}
	}
}

func (m *MockRecognizer) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.recognizing {
		m.mu.Unlock()
		return nil
	}
	if !m.stopped {
		m.stopped = true
		close(m.stopCh)
	}
	done := m.done
	m.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MockRecognizer) Recognizing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recognizing
}
