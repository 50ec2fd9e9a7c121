// Package pcm provides signed 16-bit little-endian PCM sample helpers
// shared by the transport IO loops: per-channel volume scaling with the
// Bluetooth volume-to-attenuation curve, mono downmix, and a sine
// generator used as a deterministic test signal.
package pcm

import (
	"math"

	"github.com/sirupsen/logrus"
)

// MaxVolume is the upper bound of the AVRCP-style volume range used by
// the transport layer.
const MaxVolume = 127

// VolumeScale converts a 0..127 volume step into a linear scale factor.
//
// The mapping follows the 64 dB attenuation curve: step 127 is unity
// gain, step 0 is -64 dB, and a muted channel scales to zero regardless
// of the volume step.
//
// Parameters:
//   - volume: Volume step in the 0..127 range
//   - muted: Whether the channel is muted
//
// Returns:
//   - float64: Linear scale factor in the [0, 1] range
func VolumeScale(volume int, muted bool) float64 {
	if muted {
		return 0
	}
	if volume < 0 {
		volume = 0
	}
	if volume > MaxVolume {
		logrus.WithFields(logrus.Fields{
			"function": "VolumeScale",
			"volume":   volume,
		}).Warn("Volume step out of range, clamping")
		volume = MaxVolume
	}
	return math.Pow(10, (-64+64.0*float64(volume)/MaxVolume)/20)
}

// ScaleS16LE scales an interleaved PCM buffer in place, applying ch1 to
// even-indexed samples and ch2 to odd-indexed ones. With one channel
// only ch1 applies. A scale factor of zero mutes the channel.
func ScaleS16LE(buf []int16, channels int, ch1, ch2 float64) {
	if channels <= 1 {
		for i := range buf {
			buf[i] = clampS16(float64(buf[i]) * ch1)
		}
		return
	}
	for i := 0; i+1 < len(buf); i += 2 {
		buf[i] = clampS16(float64(buf[i]) * ch1)
		buf[i+1] = clampS16(float64(buf[i+1]) * ch2)
	}
}

// DownmixS16LE folds an interleaved stereo buffer into mono, averaging
// each sample pair into dst. It returns the number of mono samples
// produced; dst must hold at least len(src)/2 samples.
func DownmixS16LE(dst, src []int16) int {
	n := len(src) / 2
	if len(dst) < n {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = int16((int32(src[2*i]) + int32(src[2*i+1])) / 2)
	}
	return n
}

// SineS16LE fills an interleaved PCM buffer with a fixed-frequency sine
// wave. The frequency is expressed in cycles per frame, so a value of
// 0.01 yields one full period every 100 frames independent of the
// sample rate.
//
// Parameters:
//   - buf: Destination sample buffer (interleaved)
//   - channels: Number of interleaved channels
//   - phase: Initial phase in radians
//   - freq: Frequency in cycles per frame
func SineS16LE(buf []int16, channels int, phase, freq float64) {
	if channels < 1 {
		channels = 1
	}
	for i := range buf {
		frame := i / channels
		buf[i] = int16(math.Round(32767 * 0.8 * math.Sin(2*math.Pi*freq*float64(frame)+phase)))
	}
}

func clampS16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
