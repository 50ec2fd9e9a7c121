package codec

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDString(t *testing.T) {
	assert.Equal(t, "SBC", SBC.String())
	assert.Equal(t, "mSBC", MSBC.String())
	assert.Equal(t, "codec(0x7f)", ID(0x7f).String())
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()

	// CVSD is pre-registered.
	assert.True(t, r.Supported(CVSD))
	s, err := r.New(CVSDConfig{})
	require.NoError(t, err)
	assert.NotNil(t, s)

	// Unregistered codecs fail at init.
	assert.False(t, r.Supported(LDAC))
	_, err = r.New(LDACConfig{})
	assert.Error(t, err)

	_, err = r.New(nil)
	assert.Error(t, err)
}

func TestRegistryFactoryError(t *testing.T) {
	r := NewRegistry()
	r.Register(SBC, func(Config) (Stream, error) {
		return nil, fmt.Errorf("bitpool out of range")
	})

	_, err := r.New(SBCConfig{Bitpool: 250})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bitpool out of range")
}

func TestCVSDRoundTrip(t *testing.T) {
	s := NewCVSD()
	assert.Equal(t, 1, s.CodeSamples())
	assert.Equal(t, 2, s.FrameLength())

	in := []int16{0, 1, -1, 12345, -32768, 32767}
	wire := make([]byte, len(in)*2)
	consumed, produced, err := s.EncodeStep(in, wire)
	require.NoError(t, err)
	assert.Equal(t, len(in), consumed)
	assert.Equal(t, len(wire), produced)

	out := make([]int16, len(in))
	consumed, produced, err = s.DecodeStep(wire, out)
	require.NoError(t, err)
	assert.Equal(t, len(wire), consumed)
	assert.Equal(t, len(in), produced)
	assert.Equal(t, in, out)
}

func TestCVSDShortBuffers(t *testing.T) {
	s := NewCVSD()

	// Encode limited by output space.
	consumed, produced, err := s.EncodeStep([]int16{1, 2, 3}, make([]byte, 4))
	require.NoError(t, err)
	assert.Equal(t, 2, consumed)
	assert.Equal(t, 4, produced)

	// Decode limited by sample space.
	consumed, produced, err = s.DecodeStep(make([]byte, 6), make([]int16, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, consumed)
	assert.Equal(t, 1, produced)
}
