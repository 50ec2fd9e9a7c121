package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBytes(t *testing.T) {
	tests := []struct {
		name        string
		capacity    int
		expectError bool
	}{
		{name: "Valid capacity", capacity: 64, expectError: false},
		{name: "Zero capacity", capacity: 0, expectError: true},
		{name: "Negative capacity", capacity: -1, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewBytes(tt.capacity)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, b)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.capacity, b.Cap())
				assert.Equal(t, tt.capacity, b.LenIn())
				assert.Equal(t, 0, b.LenOut())
			}
		})
	}
}

func TestBytesSeekShiftInvariants(t *testing.T) {
	b, err := NewBytes(8)
	require.NoError(t, err)

	copy(b.Tail(), []byte{1, 2, 3, 4, 5})
	require.NoError(t, b.Seek(5))
	assert.Equal(t, 5, b.LenOut())
	assert.Equal(t, 3, b.LenIn())

	// Consume two bytes; unread content must survive the move.
	require.NoError(t, b.Shift(2))
	assert.Equal(t, []byte{3, 4, 5}, b.Data())
	assert.Equal(t, 5, b.LenIn())

	// Contract violations leave the buffer untouched.
	assert.Error(t, b.Seek(6))
	assert.Error(t, b.Shift(4))
	assert.Error(t, b.Seek(-1))
	assert.Error(t, b.Shift(-1))
	assert.Equal(t, []byte{3, 4, 5}, b.Data())

	b.Rewind()
	assert.Equal(t, 0, b.LenOut())
	assert.Equal(t, 8, b.LenIn())
}

func TestBytesShiftPreservesContent(t *testing.T) {
	b, err := NewBytes(16)
	require.NoError(t, err)

	payload := []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02, 0x03}
	copy(b.Tail(), payload)
	require.NoError(t, b.Seek(len(payload)))

	for shift := 0; b.LenOut() > 0; shift++ {
		before := append([]byte(nil), b.Data()[1:]...)
		require.NoError(t, b.Shift(1))
		assert.Equal(t, before, b.Data(), "shift %d lost unread bytes", shift)
	}
}

func TestBytesResizePreservesUnread(t *testing.T) {
	b, err := NewBytes(4)
	require.NoError(t, err)
	copy(b.Tail(), []byte{9, 8, 7})
	require.NoError(t, b.Seek(3))

	require.NoError(t, b.Resize(12))
	assert.Equal(t, 12, b.Cap())
	assert.Equal(t, []byte{9, 8, 7}, b.Data())
	assert.Equal(t, 9, b.LenIn())

	assert.Error(t, b.Resize(2))
}

func TestSamplesByteLengths(t *testing.T) {
	s, err := NewSamples(6)
	require.NoError(t, err)

	copy(s.Tail(), []int16{100, -200, 300})
	require.NoError(t, s.Seek(3))

	assert.Equal(t, 3, s.LenOut())
	assert.Equal(t, 6, s.BLenOut())
	assert.Equal(t, 3, s.LenIn())
	assert.Equal(t, 6, s.BLenIn())

	require.NoError(t, s.Shift(1))
	assert.Equal(t, []int16{-200, 300}, s.Data())
}

func TestSamplesResize(t *testing.T) {
	s, err := NewSamples(4)
	require.NoError(t, err)
	copy(s.Tail(), []int16{1, 2})
	require.NoError(t, s.Seek(2))

	require.NoError(t, s.Resize(8))
	assert.Equal(t, []int16{1, 2}, s.Data())
	assert.Error(t, s.Resize(1))
}
