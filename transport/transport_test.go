package transport

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/opd-ai/bluerelay/codec"
)

func newTestTransport(t *testing.T) *Transport {
	tr, err := New(Options{
		Address:    "00:11:22:33:44:55",
		Profile:    ProfileA2DPSource,
		Codec:      codec.SBCConfig{SampleRate: 44100, ChannelMode: codec.ChannelModeJointStereo},
		SampleRate: 44100,
		Channels:   2,
		SoftVolume: true,
	})
	require.NoError(t, err)
	t.Cleanup(tr.Close)
	return tr
}

func TestNewValidation(t *testing.T) {
	_, err := New(Options{SampleRate: 44100, Channels: 2})
	assert.Error(t, err, "nil codec config")

	_, err = New(Options{Codec: codec.MSBCConfig{}, SampleRate: 0, Channels: 1})
	assert.Error(t, err, "zero sample rate")
}

func TestSignalOrdering(t *testing.T) {
	tr := newTestTransport(t)

	sent := []Signal{SignalPCMOpen, SignalPCMSync, SignalPCMDrop, SignalPing}
	for _, s := range sent {
		require.NoError(t, tr.SendSignal(s))
	}

	for _, want := range sent {
		got, err := tr.ReadSignal()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	tr := newTestTransport(t)
	assert.False(t, tr.Stopping())

	tr.Stop()
	tr.Stop()
	assert.True(t, tr.Stopping())

	// Only the first Stop pings the signal pipe.
	sig, err := tr.ReadSignal()
	require.NoError(t, err)
	assert.Equal(t, SignalPing, sig)
}

func TestVolumeAndIndicators(t *testing.T) {
	tr := newTestTransport(t)

	require.NoError(t, tr.SetVolume(0, 100, false))
	require.NoError(t, tr.SetVolume(1, 50, true))
	assert.Error(t, tr.SetVolume(2, 0, false))

	assert.Equal(t, Volume{Level: 100}, tr.Volume(0))
	assert.Equal(t, Volume{Level: 50, Muted: true}, tr.Volume(1))

	tr.SetCallIndicators(true, false)
	call, setup := tr.CallIndicators()
	assert.True(t, call)
	assert.False(t, setup)
}

func TestWaitDrained(t *testing.T) {
	tr := newTestTransport(t)

	done := make(chan struct{})
	go func() {
		// Stand-in for the IO goroutine: consume the sync request and
		// confirm the drain.
		sig, err := tr.ReadSignal()
		assert.NoError(t, err)
		assert.Equal(t, SignalPCMSync, sig)
		time.Sleep(10 * time.Millisecond)
		tr.SignalDrained()
		close(done)
	}()

	require.NoError(t, tr.WaitDrained())
	<-done
}

func pcmPipe(t *testing.T) (*PCM, int) {
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK))
	p := NewPCM()
	p.SetFD(fds[0])
	t.Cleanup(func() {
		p.Release()
		unix.Close(fds[1])
	})
	return p, fds[1]
}

func TestPCMReadSamples(t *testing.T) {
	p, w := pcmPipe(t)

	// s16le bytes for samples 1, -2, plus a trailing odd byte.
	_, err := unix.Write(w, []byte{0x01, 0x00, 0xfe, 0xff, 0xaa})
	require.NoError(t, err)

	buf := make([]int16, 8)
	n, err := p.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int16{1, -2}, buf[:2])

	// Empty FIFO reports EAGAIN, not EOF.
	_, err = p.Read(buf)
	assert.ErrorIs(t, err, unix.EAGAIN)
}

func TestPCMReadEOFReleases(t *testing.T) {
	p, w := pcmPipe(t)
	unix.Close(w)

	_, err := p.Read(make([]int16, 4))
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, -1, p.FD(), "endpoint released on EOF")

	// A released endpoint keeps reporting EOF.
	_, err = p.Read(make([]int16, 4))
	assert.ErrorIs(t, err, io.EOF)
}

func TestPCMWriteAndFlush(t *testing.T) {
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK))
	defer unix.Close(fds[0])

	p := NewPCM()
	p.SetFD(fds[1])
	defer p.Release()

	n, err := p.Write([]int16{0x0102, -1})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	raw := make([]byte, 8)
	rn, err := unix.Read(fds[0], raw)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x01, 0xff, 0xff}, raw[:rn])

	// Flush discards queued FIFO input on a read endpoint.
	rp, w := pcmPipe(t)
	_, err = unix.Write(w, make([]byte, 1000))
	require.NoError(t, err)
	assert.Equal(t, 1000, rp.Flush())
	assert.Equal(t, 0, rp.Flush())
}
