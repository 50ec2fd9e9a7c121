package rtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMediaHeaderBits(t *testing.T) {
	tests := []struct {
		name string
		hdr  MediaHeader
		wire byte
	}{
		{"empty", MediaHeader{}, 0x00},
		{"frame count only", MediaHeader{FrameCount: 7}, 0x07},
		{"count saturates nibble", MediaHeader{FrameCount: 15}, 0x0f},
		{"first fragment", MediaHeader{Fragmented: true, FirstFragment: true, FrameCount: 3}, 0xc3},
		{"last fragment", MediaHeader{Fragmented: true, LastFragment: true, FrameCount: 1}, 0xa1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wire, tt.hdr.Encode())
			assert.Equal(t, tt.hdr, DecodeMediaHeader(tt.wire))
		})
	}
}

func TestWriterSequenceAndTimestamp(t *testing.T) {
	const rate = 44100
	w, err := NewWriter(rate, true)
	require.NoError(t, err)
	require.Equal(t, HeaderLen+MediaHeaderLen, w.PayloadOffset())

	initialSeq := w.SequenceNumber()
	initialTS := w.Timestamp()

	// Emit 50 packets of 441 samples each. Sequence numbers advance by
	// one per packet; the timestamp tracks cumulative samples in the
	// 10 kHz clock domain.
	buf := make([]byte, 64)
	const packets, frames = 50, 441
	for i := 0; i < packets; i++ {
		off, err := w.WriteHeader(buf, false, MediaHeader{FrameCount: 4})
		require.NoError(t, err)
		assert.Equal(t, HeaderLen+MediaHeaderLen, off)
		w.AdvanceTimestamp(frames)
	}

	assert.Equal(t, initialSeq+packets, w.SequenceNumber())
	assert.Equal(t, initialTS+uint32(packets*frames*ClockRate/rate), w.Timestamp())
}

func TestWriterReaderRoundTrip(t *testing.T) {
	w, err := NewWriter(16000, true)
	require.NoError(t, err)
	r := NewReader(true)

	buf := make([]byte, 32)
	off, err := w.WriteHeader(buf, true, MediaHeader{FrameCount: 5})
	require.NoError(t, err)
	buf[off] = 0xab

	in, err := r.Parse(buf)
	require.NoError(t, err)
	assert.Equal(t, w.SequenceNumber(), in.SequenceNumber)
	assert.True(t, in.Marker)
	assert.Equal(t, uint8(5), in.Media.FrameCount)
	assert.Equal(t, off, in.PayloadOffset)
	assert.Equal(t, byte(0xab), buf[in.PayloadOffset])
	assert.Equal(t, 0, in.SequenceGap)
}

func TestReaderSequenceGap(t *testing.T) {
	w, err := NewWriter(48000, false)
	require.NoError(t, err)
	r := NewReader(false)

	buf := make([]byte, 32)
	_, err = w.WriteHeader(buf, false, MediaHeader{})
	require.NoError(t, err)
	_, err = r.Parse(buf)
	require.NoError(t, err)

	// Drop two packets.
	for i := 0; i < 2; i++ {
		_, err = w.WriteHeader(buf, false, MediaHeader{})
		require.NoError(t, err)
	}
	_, err = w.WriteHeader(buf, false, MediaHeader{})
	require.NoError(t, err)

	in, err := r.Parse(buf)
	require.NoError(t, err)
	assert.Equal(t, 2, in.SequenceGap)
}

func TestReaderRejectsStaticPayloadType(t *testing.T) {
	buf := make([]byte, HeaderLen)
	buf[0] = 0x80 // version 2
	buf[1] = 11   // L16 static payload type

	_, err := NewReader(false).Parse(buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payload type")
}

func TestReaderRejectsTruncatedMediaHeader(t *testing.T) {
	w, err := NewWriter(16000, false)
	require.NoError(t, err)

	buf := make([]byte, HeaderLen)
	_, err = w.WriteHeader(buf, false, MediaHeader{})
	require.NoError(t, err)

	_, err = NewReader(true).Parse(buf)
	assert.Error(t, err)
}

func TestWriterRejectsShortBuffer(t *testing.T) {
	w, err := NewWriter(16000, true)
	require.NoError(t, err)
	_, err = w.WriteHeader(make([]byte, 5), false, MediaHeader{})
	assert.Error(t, err)

	_, err = NewWriter(0, false)
	assert.Error(t, err)
}
