package pcm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVolumeScale(t *testing.T) {
	tests := []struct {
		name   string
		volume int
		muted  bool
		want   float64
	}{
		{name: "Full volume", volume: 127, muted: false, want: 1.0},
		{name: "Muted", volume: 127, muted: true, want: 0},
		{name: "Zero volume", volume: 0, muted: false, want: math.Pow(10, -64.0/20)},
		{name: "Clamped above range", volume: 400, muted: false, want: 1.0},
		{name: "Clamped below range", volume: -3, muted: false, want: math.Pow(10, -64.0/20)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, VolumeScale(tt.volume, tt.muted), 1e-9)
		})
	}
}

func TestScaleS16LEStereo(t *testing.T) {
	buf := []int16{1000, 2000, -1000, -2000}
	ScaleS16LE(buf, 2, 0.5, 0)
	assert.Equal(t, []int16{500, 0, -500, 0}, buf)
}

func TestScaleS16LEMono(t *testing.T) {
	buf := []int16{100, -100, 32000}
	ScaleS16LE(buf, 1, 1.0, 0)
	assert.Equal(t, []int16{100, -100, 32000}, buf)

	ScaleS16LE(buf, 1, 0, 0)
	assert.Equal(t, []int16{0, 0, 0}, buf)
}

func TestDownmixS16LE(t *testing.T) {
	src := []int16{100, 200, -100, -300}
	dst := make([]int16, 2)
	n := DownmixS16LE(dst, src)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int16{150, -200}, dst)
}

func TestSineS16LE(t *testing.T) {
	buf := make([]int16, 200)
	SineS16LE(buf, 1, 0, 0.01)

	// One full period every 100 frames: frame 0 starts at zero, frame 25
	// is the positive peak, frame 75 the negative one.
	assert.Equal(t, int16(0), buf[0])
	assert.Greater(t, buf[25], int16(26000))
	assert.Less(t, buf[75], int16(-26000))

	// Stereo interleave duplicates each frame across both channels.
	stereo := make([]int16, 8)
	SineS16LE(stereo, 2, 0, 0.01)
	for i := 0; i < len(stereo); i += 2 {
		assert.Equal(t, stereo[i], stereo[i+1])
	}
}
