package bluerelay

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/opd-ai/bluerelay/codec"
	"github.com/opd-ai/bluerelay/transport"
)

func TestManagerRejectsUnregisteredCodec(t *testing.T) {
	m := NewManager(nil, nil)
	defer m.Close()

	_, err := m.AddTransport(transport.Options{
		Profile:    transport.ProfileA2DPSource,
		Codec:      codec.SBCConfig{SampleRate: 44100},
		SampleRate: 44100,
		Channels:   2,
	})
	assert.Error(t, err)
}

func TestManagerTransportBookkeeping(t *testing.T) {
	m := NewManager(nil, nil)
	defer m.Close()

	tr, err := m.AddTransport(transport.Options{
		Profile:    transport.ProfileHFPAudioGateway,
		Codec:      codec.CVSDConfig{},
		SampleRate: 8000,
		Channels:   1,
	})
	require.NoError(t, err)

	got, ok := m.Transport(tr.ID)
	assert.True(t, ok)
	assert.Same(t, tr, got)
	assert.Len(t, m.Transports(), 1)

	_, ok = m.Transport(uuid.New())
	assert.False(t, ok)

	require.NoError(t, m.RemoveTransport(tr.ID))
	assert.Len(t, m.Transports(), 0)
	assert.Equal(t, ErrTransportNotFound, m.RemoveTransport(tr.ID))
}

func TestManagerStreamLifecycle(t *testing.T) {
	m := NewManager(nil, nil)
	defer m.Close()

	tr, err := m.AddTransport(transport.Options{
		Profile:    transport.ProfileHFPAudioGateway,
		Codec:      codec.CVSDConfig{},
		SampleRate: 8000,
		Channels:   1,
	})
	require.NoError(t, err)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	defer unix.Close(fds[1])
	tr.SetBTSocket(fds[0], 48, 48)

	require.NoError(t, m.StartStream(tr.ID))
	assert.Error(t, m.StartStream(tr.ID), "double start rejected")

	assert.NoError(t, m.StopStream(tr.ID))
	assert.NoError(t, m.StopStream(tr.ID), "stop after exit is a no-op")

	assert.Equal(t, ErrTransportNotFound, m.StartStream(uuid.New()))
}
