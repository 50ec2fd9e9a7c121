package stream

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/bluerelay/codec"
	"github.com/opd-ai/bluerelay/transport"
)

// aptxSource writes raw aptX frames straight to the transport socket.
// The aptX A2DP payload format carries no RTP wrapping at all: each
// socket packet is a plain concatenation of 4-byte codewords filled up
// to the write MTU.
type aptxSource struct {
	stream      codec.Stream
	codeSamples int
	frameLen    int
}

func newAptXSource(t *transport.Transport, reg *codec.Registry) (*aptxSource, int, error) {
	s, err := reg.New(t.Codec())
	if err != nil {
		return nil, 0, err
	}
	codeSamples := s.CodeSamples()
	frameLen := s.FrameLength()

	_, _, mtuWrite := t.BTSocket()
	pcmCapacity := codeSamples * (mtuWrite / frameLen)
	return &aptxSource{stream: s, codeSamples: codeSamples, frameLen: frameLen}, pcmCapacity, nil
}

func (s *aptxSource) encode(l *sourceLoop) error {
	input := l.pcm.Data()
	consumed := 0

	for len(input)-consumed >= s.codeSamples {
		l.bt.Rewind()
		pcmFrames := 0
		failed := false

		for len(input)-consumed >= s.codeSamples && l.bt.LenIn() >= s.frameLen {
			c, p, err := s.stream.EncodeStep(input[consumed:], l.bt.Tail())
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "aptxSource.encode",
					"error":    err.Error(),
				}).Error("aptX encoding error")
				failed = true
				break
			}
			consumed += c
			if err := l.bt.Seek(p); err != nil {
				return err
			}
			pcmFrames += c / l.channels
		}

		if l.bt.LenOut() > 0 {
			if err := l.writeBT(l.bt.Data()); err != nil {
				return err
			}
		}
		l.sync(uint32(pcmFrames))

		if failed {
			break
		}
	}
	return l.pcm.Shift(consumed)
}
