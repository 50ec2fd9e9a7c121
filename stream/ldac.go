package stream

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/bluerelay/codec"
	"github.com/opd-ai/bluerelay/config"
	"github.com/opd-ai/bluerelay/rtp"
	"github.com/opd-ai/bluerelay/transport"
)

// ldacSource packs LDAC frames into RTP packets. The encoder buffers
// input internally and emits a packed payload only every few calls, so
// the RTP timestamp is advanced by the accumulated frame count at
// emission time rather than per call. Socket backpressure feeds the
// encoder's adaptive bitrate hook when enabled.
type ldacSource struct {
	stream codec.Stream
	w      *rtp.Writer
	abr    bool

	// tsFrames accumulates samples consumed since the last emitted
	// packet.
	tsFrames int
}

func newLDACSource(t *transport.Transport, reg *codec.Registry, cfg config.Snapshot) (*ldacSource, int, error) {
	ldacCfg, ok := t.Codec().(codec.LDACConfig)
	if !ok {
		ldacCfg = codec.LDACConfig{SampleRate: t.SampleRate()}
	}

	// The encoder packs towards the payload budget left after the RTP
	// and media headers.
	_, _, mtuWrite := t.BTSocket()
	ldacCfg.MTU = mtuWrite - rtp.HeaderLen - rtp.MediaHeaderLen
	ldacCfg.EQMID = cfg.LDACEQMID

	s, err := reg.New(ldacCfg)
	if err != nil {
		return nil, 0, err
	}
	w, err := rtp.NewWriter(t.SampleRate(), true)
	if err != nil {
		return nil, 0, err
	}
	return &ldacSource{stream: s, w: w, abr: cfg.LDACABR}, s.CodeSamples(), nil
}

func (s *ldacSource) encode(l *sourceLoop) error {
	codeSamples := s.stream.CodeSamples()
	hdrLen := s.w.PayloadOffset()

	for l.pcm.LenOut() >= codeSamples {
		l.bt.Rewind()
		pkt := l.bt.Tail()

		c, p, err := s.stream.EncodeStep(l.pcm.Data()[:codeSamples], pkt[hdrLen:])
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "ldacSource.encode",
				"error":    err.Error(),
			}).Error("LDAC encoding error")
			break
		}

		if p > 0 {
			frameCount := 0
			if f, ok := s.stream.(codec.Framed); ok {
				frameCount = f.FrameCount()
			}
			if _, err := s.w.WriteHeader(pkt, false,
				rtp.MediaHeader{FrameCount: uint8(frameCount)}); err != nil {
				return err
			}
			if err := l.writeBT(pkt[:hdrLen+p]); err != nil {
				return err
			}
		}

		if s.abr {
			if a, ok := s.stream.(codec.AdaptiveBitrate); ok {
				if err := a.AdjustBitrate(l.est.Pressure(l.mtuWrite)); err != nil {
					logrus.WithFields(logrus.Fields{
						"function": "ldacSource.encode",
						"error":    err.Error(),
					}).Warn("LDAC bitrate adaptation failed")
				}
			}
		}

		l.sync(uint32(c / l.channels))
		s.tsFrames += c
		if p > 0 {
			s.w.AdvanceTimestamp(uint32(s.tsFrames / l.channels))
			s.tsFrames = 0
		}

		if err := l.pcm.Shift(c); err != nil {
			return err
		}
		if c == 0 {
			break
		}
	}
	return nil
}
