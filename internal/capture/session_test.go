package capture

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestSession(retainRaw bool) *Session {
	return &Session{
		device:    Device{ID: "mic-1", Description: "Mic"},
		chunks:    make(chan []byte, 8),
		stopCh:    make(chan struct{}),
		retainRaw: retainRaw,
	}
}

func TestWriterFuncDelegatesWrite(t *testing.T) {
	called := false
	writer := writerFunc(func(b []byte) (int, error) {
		called = true
		require.Equal(t, []byte{1, 2, 3}, b)
		return len(b), nil
	})

	n, err := writer.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.True(t, called)
}

func TestSessionOnPCMChunkingAndCloseFlushesPending(t *testing.T) {
	session := newTestSession(true)

	input := make([]byte, chunkSizeBytes+111)
	for i := range input {
		input[i] = byte(i % 255)
	}

	n, err := session.onPCM(input)
	require.NoError(t, err)
	require.Equal(t, len(input), n)
	require.Equal(t, int64(len(input)), session.BytesCaptured())
	require.Equal(t, len(input), len(session.RawPCM()))

	firstChunk := <-session.Chunks()
	require.Len(t, firstChunk, chunkSizeBytes)

	session.close()

	remaining, ok := <-session.Chunks()
	require.True(t, ok)
	require.Len(t, remaining, 111)

	_, ok = <-session.Chunks()
	require.False(t, ok)
}

func TestSessionOnPCMReturnsEOFWhenStopped(t *testing.T) {
	session := newTestSession(false)
	close(session.stopCh)

	n, err := session.onPCM([]byte{1, 2, 3})
	require.Equal(t, 0, n)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, int64(0), session.BytesCaptured())
}

func TestSessionRawPCMEmptyWithoutRetention(t *testing.T) {
	session := newTestSession(false)

	_, err := session.onPCM([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	require.Empty(t, session.RawPCM())
	require.Equal(t, int64(4), session.BytesCaptured())
}

func TestSessionLevelTracksLatestWindow(t *testing.T) {
	session := newTestSession(false)
	require.Zero(t, session.Level())

	// Two samples at +16384 => 50% of full scale.
	half := []byte{0x00, 0x40, 0x00, 0x40}
	_, err := session.onPCM(half)
	require.NoError(t, err)
	require.InDelta(t, 50, session.Level(), 0.1)

	// Silence replaces the window rather than averaging into it.
	_, err = session.onPCM([]byte{0, 0, 0, 0})
	require.NoError(t, err)
	require.Zero(t, session.Level())

	// Negative samples count by magnitude.
	negative := []byte{0x00, 0xC0, 0x00, 0xC0} // -16384 twice
	_, err = session.onPCM(negative)
	require.NoError(t, err)
	require.InDelta(t, 50, session.Level(), 0.1)
}

func TestSessionLevelZeroAfterClose(t *testing.T) {
	session := newTestSession(false)
	_, err := session.onPCM([]byte{0x00, 0x40, 0x00, 0x40})
	require.NoError(t, err)

	session.close()
	require.Zero(t, session.Level())
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	session := newTestSession(false)
	require.True(t, session.active())

	session.close()
	session.close()
	require.False(t, session.active())

	_, ok := <-session.Chunks()
	require.False(t, ok)
}

func TestSessionDevice(t *testing.T) {
	session := newTestSession(false)
	require.Equal(t, "mic-1", session.Device().ID)
}
