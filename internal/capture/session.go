package capture

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const (
	sampleRate     = 16000
	chunkSizeBytes = 3200 // 100ms @ 16kHz mono s16
)

// Session is one open capture stream plus its level-analysis state.
//
// At most one Session exists per Manager; it is created by StartCapture and
// destroyed by StopCapture.
type Session struct {
	device Device

	client *pulse.Client
	stream *pulse.RecordStream

	chunks chan []byte
	stopCh chan struct{}

	mu         sync.Mutex
	pending    []byte
	rawPCM     []byte
	retainRaw  bool
	levelChunk []byte
	stopped    bool

	inflight sync.WaitGroup
	bytes    atomic.Int64
}

// openSession creates and starts a 16kHz mono s16 record stream.
func openSession(ctx context.Context, selected Device, retainRaw bool) (*Session, error) {
	client, err := newPulseClient()
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}

	source, err := client.SourceByID(selected.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", selected.ID, err)
	}

	session := &Session{
		device:    selected,
		client:    client,
		chunks:    make(chan []byte, 64),
		stopCh:    make(chan struct{}),
		retainRaw: retainRaw,
	}

	writer := pulse.NewWriter(writerFunc(session.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(sampleRate),
		pulse.RecordBufferFragmentSize(chunkSizeBytes),
		pulse.RecordMediaName("murmur voice input"),
	)
	if err != nil {
		session.close()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}

	session.stream = stream
	stream.Start()

	go func() {
		<-ctx.Done()
		session.close()
	}()

	return session, nil
}

// Device returns capture metadata for logging and diagnostics.
func (s *Session) Device() Device {
	return s.device
}

// Chunks returns the PCM stream as fixed-size byte slices.
func (s *Session) Chunks() <-chan []byte {
	return s.chunks
}

// BytesCaptured reports total bytes accepted from Pulse.
func (s *Session) BytesCaptured() int64 {
	return s.bytes.Load()
}

// RawPCM returns a snapshot of all captured raw PCM bytes when retention is on.
func (s *Session) RawPCM() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.rawPCM))
	copy(out, s.rawPCM)
	return out
}

func (s *Session) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stopped
}

// Level computes the normalized average magnitude [0,100] of the most recent
// analysis window. Returns 0 once the session stops.
func (s *Session) Level() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || len(s.levelChunk) < 2 {
		return 0
	}

	var sum float64
	samples := len(s.levelChunk) / 2
	for i := 0; i < samples; i++ {
		sample := int16(uint16(s.levelChunk[2*i]) | uint16(s.levelChunk[2*i+1])<<8)
		if sample < 0 {
			sum -= float64(sample)
		} else {
			sum += float64(sample)
		}
	}
	return sum / float64(samples) / 32768 * 100
}

// close halts the stream, flushes residual PCM, and closes Chunks exactly once.
// The analysis window is released last; callers must have cancelled the
// metering loop before invoking close.
func (s *Session) close() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	if s.stream != nil {
		s.stream.Stop()
		s.stream.Close()
	}
	if s.client != nil {
		s.client.Close()
	}

	s.inflight.Wait()

	s.mu.Lock()
	pending := append([]byte(nil), s.pending...)
	s.pending = nil
	s.levelChunk = nil
	s.mu.Unlock()

	if len(pending) > 0 {
		chunk := make([]byte, len(pending))
		copy(chunk, pending)
		select {
		case s.chunks <- chunk:
		default:
		}
	}

	close(s.chunks)
}

// onPCM receives raw Pulse frames and emits chunkSizeBytes slices to s.chunks.
func (s *Session) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	select {
	case <-s.stopCh:
		return 0, io.EOF
	default:
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0, io.EOF
	}
	// Guard Add under the same mutex as s.stopped to avoid Add/Wait races.
	s.inflight.Add(1)

	if s.retainRaw {
		s.rawPCM = append(s.rawPCM, buffer...)
	}
	s.pending = append(s.pending, buffer...)
	s.levelChunk = append(s.levelChunk[:0], buffer...)

	chunks := make([][]byte, 0, len(s.pending)/chunkSizeBytes)
	for len(s.pending) >= chunkSizeBytes {
		chunk := make([]byte, chunkSizeBytes)
		copy(chunk, s.pending[:chunkSizeBytes])
		s.pending = s.pending[chunkSizeBytes:]
		chunks = append(chunks, chunk)
	}
	s.mu.Unlock()
	defer s.inflight.Done()

	s.bytes.Add(int64(len(buffer)))

	for _, chunk := range chunks {
		select {
		case <-s.stopCh:
			return 0, io.EOF
		case s.chunks <- chunk:
		}
	}

	return len(buffer), nil
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
