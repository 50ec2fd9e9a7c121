package msbc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/bluerelay/pcm"
)

// stubBits is a deterministic stand-in for the mSBC bit codec with the
// real frame geometry: 120 samples per 57-byte frame. DecodeStep fails
// on frames whose first payload byte equals failByte, which lets the
// tests exercise resynchronization.
type stubBits struct {
	failByte byte
	hasFail  bool
}

func (stubBits) CodeSamples() int { return 120 }
func (stubBits) FrameLength() int { return 57 }

func (stubBits) EncodeStep(in []int16, out []byte) (int, int, error) {
	for i := 0; i < 57; i++ {
		out[i] = byte(in[i] >> 8)
	}
	return 120, 57, nil
}

func (s stubBits) DecodeStep(in []byte, out []int16) (int, int, error) {
	if s.hasFail && in[0] == s.failByte {
		return 0, 0, assert.AnError
	}
	for i := 0; i < 120; i++ {
		out[i] = int16(in[i%57]) << 8
	}
	return 57, 120, nil
}

func TestFindH2Header(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		offset int
		ok     bool
	}{
		{"seq0 at start", []byte{0x01, 0x08, 0xad, 0x00, 0x00}, 0, true},
		{"seq1 at start", []byte{0x01, 0x38, 0xad, 0x00, 0x00}, 0, true},
		{"seq2 at start", []byte{0x01, 0xc8, 0xad, 0x00, 0x00}, 0, true},
		{"seq3 at start", []byte{0x01, 0xf8, 0xad, 0x00, 0x00}, 0, true},
		{"inconsistent pair 01", []byte{0x01, 0x18, 0xad, 0x00, 0x00}, 0, false},
		{"inconsistent pair 10", []byte{0x01, 0x58, 0xad, 0x00, 0x00}, 0, false},
		{"wrong low nibble", []byte{0x01, 0x30, 0xad, 0x00, 0x00}, 0, false},
		{"offset by garbage", []byte{0x00, 0xd5, 0x10, 0x00, 0x01, 0x08}, 4, true},
		{"malformed header skipped", []byte{0x01, 0x18, 0x01, 0x38, 0x00}, 2, true},
		{"no sync byte", []byte{0xaa, 0xbb, 0xcc, 0xdd}, 0, false},
		{"too short", []byte{0x01}, 0, false},
		{"empty", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			off, ok := FindH2Header(tt.data)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.offset, off)
			}
		})
	}
}

func TestInitIdempotentFinishSafe(t *testing.T) {
	s := New(stubBits{})

	// Finish before Init must not panic.
	s.Finish()

	require.NoError(t, s.Init())
	first := s.EncodePCM()
	require.NoError(t, s.Init())
	assert.Same(t, first, s.EncodePCM(), "re-init must not reallocate")

	s.Finish()
	s.Finish()
	assert.Nil(t, s.EncodePCM())
}

func TestInitRejectsWrongGeometry(t *testing.T) {
	s := New(nil)
	assert.Error(t, s.Init())

	_, err := s.Encode()
	assert.Error(t, err)
	_, err = s.Decode()
	assert.Error(t, err)
}

func TestEncodeSequenceCycle(t *testing.T) {
	s := New(stubBits{})
	require.NoError(t, s.Init())

	want := []byte{0x08, 0x38, 0xc8, 0xf8, 0x08, 0x38}
	var got []byte
	for i := 0; i < len(want); i++ {
		in := s.EncodePCM()
		copy(in.Tail(), make([]int16, CodeSamples))
		require.NoError(t, in.Seek(CodeSamples))

		n, err := s.Encode()
		require.NoError(t, err)
		require.Equal(t, 1, n)

		out := s.EncodeData().Data()
		require.Equal(t, FramedLength, len(out))
		assert.Equal(t, byte(H2Sync), out[0])
		assert.Equal(t, byte(0), out[FramedLength-1])
		got = append(got, out[1])
		require.NoError(t, s.EncodeData().Shift(len(out)))
	}
	assert.Equal(t, want, got)
}

func TestEncodeDecodeSineRoundTrip(t *testing.T) {
	s := New(stubBits{})
	require.NoError(t, s.Init())

	src := make([]int16, 1024)
	pcm.SineS16LE(src, 1, 0, 0.01)

	// Push through the encoder in staging-buffer sized chunks. The
	// trailing 64 samples never complete a frame and stay staged.
	var wire []byte
	for i := 0; i < len(src); {
		in := s.EncodePCM()
		n := in.LenIn()
		if n > len(src)-i {
			n = len(src) - i
		}
		copy(in.Tail(), src[i:i+n])
		require.NoError(t, in.Seek(n))
		i += n

		_, err := s.Encode()
		require.NoError(t, err)

		out := s.EncodeData().Data()
		wire = append(wire, out...)
		require.NoError(t, s.EncodeData().Shift(len(out)))
	}
	assert.Equal(t, 8*FramedLength, len(wire), "1024 samples must yield exactly 8 framed packets")

	var got []int16
	for j := 0; j < len(wire); {
		in := s.DecodeData()
		n := in.LenIn()
		if n > len(wire)-j {
			n = len(wire) - j
		}
		copy(in.Tail(), wire[j:j+n])
		require.NoError(t, in.Seek(n))
		j += n

		_, err := s.Decode()
		require.NoError(t, err)

		out := s.DecodePCM().Data()
		got = append(got, out...)
		require.NoError(t, s.DecodePCM().Shift(len(out)))
	}
	assert.Equal(t, 8*CodeSamples, len(got), "8 framed packets must yield exactly 960 samples")
}

func TestDecodeNeedMoreData(t *testing.T) {
	s := New(stubBits{})
	require.NoError(t, s.Init())

	_, err := s.Decode()
	assert.ErrorIs(t, err, ErrNeedMoreData)

	// A valid header with a truncated frame leaves the buffer intact.
	in := s.DecodeData()
	copy(in.Tail(), []byte{0x01, 0x38, 0xde, 0xad, 0xbe, 0xef})
	require.NoError(t, in.Seek(6))

	_, err = s.Decode()
	assert.ErrorIs(t, err, ErrNeedMoreData)
	assert.Equal(t, 6, in.LenOut())
}

func TestDecodeKeepsLastByteOnNoHeader(t *testing.T) {
	s := New(stubBits{})
	require.NoError(t, s.Init())

	in := s.DecodeData()
	copy(in.Tail(), []byte{0xaa, 0xbb, 0xcc})
	require.NoError(t, in.Seek(3))

	_, err := s.Decode()
	assert.ErrorIs(t, err, ErrNeedMoreData)
	require.Equal(t, 1, in.LenOut())
	assert.Equal(t, byte(0xcc), in.Data()[0])
}

func TestDecodeDropsGarbageBeforeHeader(t *testing.T) {
	s := New(stubBits{})
	require.NoError(t, s.Init())

	frame := make([]byte, FramedLength)
	frame[0], frame[1] = 0x01, 0x08

	in := s.DecodeData()
	copy(in.Tail(), append([]byte{0x00, 0xd5, 0x10, 0x00}, frame...))
	require.NoError(t, in.Seek(4+FramedLength))

	n, err := s.Decode()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, in.LenOut())
	assert.Equal(t, CodeSamples, s.DecodePCM().LenOut())
}

func TestDecodeResyncAfterCorruptFrame(t *testing.T) {
	s := New(stubBits{failByte: 0xee, hasFail: true})
	require.NoError(t, s.Init())

	bad := make([]byte, FramedLength)
	bad[0], bad[1] = 0x01, 0x08
	for i := 2; i < FramedLength; i++ {
		bad[i] = 0xee
	}
	good := make([]byte, FramedLength)
	good[0], good[1] = 0x01, 0x38

	in := s.DecodeData()
	copy(in.Tail(), append(bad, good...))
	require.NoError(t, in.Seek(2*FramedLength))

	// The corrupt frame costs one byte, then the scan lands on the next
	// header and the good frame decodes in the same call.
	n, err := s.Decode()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, in.LenOut())
	assert.Equal(t, CodeSamples, s.DecodePCM().LenOut())
}
