package stream

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/bluerelay/codec"
	"github.com/opd-ai/bluerelay/config"
	"github.com/opd-ai/bluerelay/rtp"
	"github.com/opd-ai/bluerelay/transport"
)

// sbcSource packs SBC frames into RTP packets with a media payload
// header carrying the frame count. As many frames as fit one write MTU
// are generated per iteration, so each socket write moves a maximally
// efficient packet.
type sbcSource struct {
	stream      codec.Stream
	w           *rtp.Writer
	codeSamples int
	frameLen    int
}

func newSBCSource(t *transport.Transport, reg *codec.Registry, cfg config.Snapshot) (*sbcSource, int, error) {
	sbcCfg := t.Codec()
	if c, ok := sbcCfg.(codec.SBCConfig); ok && cfg.SBCQuality > 0 && cfg.SBCQuality < c.Bitpool {
		logrus.WithFields(logrus.Fields{
			"function":   "newSBCSource",
			"negotiated": c.Bitpool,
			"capped":     cfg.SBCQuality,
		}).Info("Capping SBC bitpool")
		c.Bitpool = cfg.SBCQuality
		sbcCfg = c
	}
	s, err := reg.New(sbcCfg)
	if err != nil {
		return nil, 0, err
	}
	w, err := rtp.NewWriter(t.SampleRate(), true)
	if err != nil {
		return nil, 0, err
	}

	codeSamples := s.CodeSamples()
	frameLen := s.FrameLength()

	// The write MTU must fit the headers plus at least one frame. There
	// is no hard constraint beyond that, but throughput suffers with a
	// tiny MTU.
	fd, mtuRead, mtuWrite := t.BTSocket()
	payload := mtuWrite - w.PayloadOffset()
	if payload < frameLen {
		logrus.WithFields(logrus.Fields{
			"function":  "newSBCSource",
			"mtu_write": mtuWrite,
			"required":  w.PayloadOffset() + frameLen,
		}).Warn("Writing MTU too small for one single SBC frame")
		mtuWrite = w.PayloadOffset() + frameLen
		payload = frameLen
		t.SetBTSocket(fd, mtuRead, mtuWrite)
	}

	pcmCapacity := codeSamples * (payload / frameLen)
	return &sbcSource{stream: s, w: w, codeSamples: codeSamples, frameLen: frameLen}, pcmCapacity, nil
}

func (s *sbcSource) encode(l *sourceLoop) error {
	l.bt.Rewind()
	hdrLen := s.w.PayloadOffset()
	if err := l.bt.Seek(hdrLen); err != nil {
		return err
	}

	input := l.pcm.Data()
	consumed := 0
	pcmFrames := 0
	sbcFrames := 0
	for len(input)-consumed >= s.codeSamples && l.bt.LenIn() >= s.frameLen {
		c, p, err := s.stream.EncodeStep(input[consumed:], l.bt.Tail())
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "sbcSource.encode",
				"error":    err.Error(),
			}).Error("SBC encoding error")
			break
		}
		if c == 0 && p == 0 {
			break
		}
		consumed += c
		if err := l.bt.Seek(p); err != nil {
			return err
		}
		pcmFrames += c / l.channels
		sbcFrames++
	}

	if _, err := s.w.WriteHeader(l.bt.Data()[:hdrLen], false,
		rtp.MediaHeader{FrameCount: uint8(sbcFrames)}); err != nil {
		return err
	}
	if err := l.writeBT(l.bt.Data()); err != nil {
		return err
	}

	l.sync(uint32(pcmFrames))
	s.w.AdvanceTimestamp(uint32(pcmFrames))
	return l.pcm.Shift(consumed)
}

// sbcSink decodes the frames announced by each packet's media payload
// header and forwards them to the PCM FIFO.
type sbcSink struct {
	stream codec.Stream
	r      *rtp.Reader
	out    []int16
}

func newSBCSink(t *transport.Transport, reg *codec.Registry, cfg config.Snapshot) (*sbcSink, error) {
	s, err := reg.New(t.Codec())
	if err != nil {
		return nil, err
	}
	r := rtp.NewReader(true)
	if !cfg.PayloadCheck {
		r.DisablePayloadCheck()
	}
	return &sbcSink{stream: s, r: r, out: make([]int16, s.CodeSamples())}, nil
}

func (s *sbcSink) reset() {
	s.r.Reset()
}

func (s *sbcSink) process(l *sinkLoop, pkt []byte) error {
	in, err := s.r.Parse(pkt)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "sbcSink.process",
			"error":    err.Error(),
		}).Warn("Dropping RTP packet")
		return nil
	}
	if in.PayloadOffset > len(pkt) {
		return fmt.Errorf("stream: payload offset out of range")
	}

	payload := pkt[in.PayloadOffset:]
	for frames := int(in.Media.FrameCount); frames > 0; frames-- {
		c, p, err := s.stream.DecodeStep(payload, s.out)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "sbcSink.process",
				"error":    err.Error(),
			}).Error("SBC decoding error")
			break
		}
		if c == 0 && p == 0 {
			break
		}
		payload = payload[c:]
		l.deliverPCM(s.out[:p])
	}
	return nil
}
