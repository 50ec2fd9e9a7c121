package codec

import "encoding/binary"

// cvsdStream is the built-in CVSD pass-through: the narrowband SCO link
// carries raw s16le PCM as far as the host is concerned (the CVSD air
// coding happens in the controller), so encode and decode are plain
// byte/sample conversions.
type cvsdStream struct{}

// NewCVSD returns the pass-through stream used for narrowband SCO
// transports.
func NewCVSD() Stream { return cvsdStream{} }

// CodeSamples implements Stream. One step moves a single sample.
func (cvsdStream) CodeSamples() int { return 1 }

// FrameLength implements Stream.
func (cvsdStream) FrameLength() int { return 2 }

// EncodeStep implements Stream, serializing samples to little-endian
// bytes.
func (cvsdStream) EncodeStep(pcm []int16, out []byte) (int, int, error) {
	n := len(pcm)
	if m := len(out) / 2; m < n {
		n = m
	}
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(pcm[i]))
	}
	return n, n * 2, nil
}

// DecodeStep implements Stream, deserializing little-endian bytes to
// samples.
func (cvsdStream) DecodeStep(in []byte, pcm []int16) (int, int, error) {
	n := len(in) / 2
	if len(pcm) < n {
		n = len(pcm)
	}
	for i := 0; i < n; i++ {
		pcm[i] = int16(binary.LittleEndian.Uint16(in[2*i:]))
	}
	return n * 2, n, nil
}
