package stream

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/bluerelay/buffer"
	"github.com/opd-ai/bluerelay/codec"
	"github.com/opd-ai/bluerelay/config"
	"github.com/opd-ai/bluerelay/rtp"
	"github.com/opd-ai/bluerelay/transport"
)

// aacSource carries LATM audioMuxElements over RTP. One encoder output
// may exceed the write MTU; per RFC 3016 the element is then split
// plainly across consecutive RTP packets with no extra header, and the
// marker bit flags the final fragment. AAC uses no media payload
// header.
type aacSource struct {
	stream  codec.Stream
	w       *rtp.Writer
	payload *buffer.Bytes
}

func newAACSource(t *transport.Transport, reg *codec.Registry, cfg config.Snapshot) (*aacSource, int, error) {
	aacCfg := t.Codec()
	if c, ok := aacCfg.(codec.AACConfig); ok {
		c.Afterburner = cfg.AACAfterburner
		c.VBRMode = cfg.AACVBRMode
		aacCfg = c
	}
	s, err := reg.New(aacCfg)
	if err != nil {
		return nil, 0, err
	}
	w, err := rtp.NewWriter(t.SampleRate(), false)
	if err != nil {
		return nil, 0, err
	}
	payload, err := buffer.NewBytes(s.FrameLength())
	if err != nil {
		return nil, 0, err
	}
	return &aacSource{stream: s, w: w, payload: payload}, s.CodeSamples(), nil
}

func (s *aacSource) encode(l *sourceLoop) error {
	for l.pcm.LenOut() > 0 {
		s.payload.Rewind()
		c, p, err := s.stream.EncodeStep(l.pcm.Data(), s.payload.Tail())
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "aacSource.encode",
				"error":    err.Error(),
			}).Error("AAC encoding error")
			break
		}

		if p > 0 {
			if err := s.send(l, s.payload.Tail()[:p]); err != nil {
				return err
			}
		}

		frames := uint32(c / l.channels)
		l.sync(frames)
		s.w.AdvanceTimestamp(frames)
		if err := l.pcm.Shift(c); err != nil {
			return err
		}
		if c == 0 {
			// Encoder is priming its internal buffer; wait for more
			// input instead of spinning.
			break
		}
	}
	return nil
}

func (s *aacSource) send(l *sourceLoop, payload []byte) error {
	max := l.mtuWrite - rtp.HeaderLen
	l.bt.Rewind()
	pkt := l.bt.Tail()

	for len(payload) > 0 {
		n := len(payload)
		marker := n <= max
		if !marker {
			n = max
		}

		off, err := s.w.WriteHeader(pkt, marker, rtp.MediaHeader{})
		if err != nil {
			return err
		}
		copy(pkt[off:], payload[:n])
		if err := l.writeBT(pkt[:off+n]); err != nil {
			return err
		}

		payload = payload[n:]
		if len(payload) > 0 {
			logrus.WithFields(logrus.Fields{
				"function": "aacSource.send",
				"extra":    len(payload),
			}).Debug("Payload fragmentation")
		}
	}
	return nil
}

// aacSink reassembles fragmented LATM payloads before decoding. Some
// remote devices never set the RTP marker bit; if the first packets all
// arrive unmarked, the quirk workaround activates and every packet is
// treated as a complete element.
type aacSink struct {
	stream codec.Stream
	r      *rtp.Reader
	latm   *buffer.Bytes
	out    []int16

	// markbitQuirk counts up from -3 over unmarked leading packets;
	// 1 means the workaround is active, 0 means markers work.
	markbitQuirk int
}

func newAACSink(t *transport.Transport, reg *codec.Registry, cfg config.Snapshot) (*aacSink, error) {
	s, err := reg.New(t.Codec())
	if err != nil {
		return nil, err
	}
	r := rtp.NewReader(false)
	if !cfg.PayloadCheck {
		r.DisablePayloadCheck()
	}

	_, mtuRead, _ := t.BTSocket()
	latm, err := buffer.NewBytes(mtuRead)
	if err != nil {
		return nil, err
	}
	return &aacSink{
		stream:       s,
		r:            r,
		latm:         latm,
		out:          make([]int16, s.CodeSamples()),
		markbitQuirk: -3,
	}, nil
}

func (s *aacSink) reset() {
	s.r.Reset()
}

func (s *aacSink) process(l *sinkLoop, pkt []byte) error {
	in, err := s.r.Parse(pkt)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "aacSink.process",
			"error":    err.Error(),
		}).Warn("Dropping RTP packet")
		return nil
	}

	if s.markbitQuirk < 0 {
		if in.Marker {
			s.markbitQuirk = 0
		} else if s.markbitQuirk++; s.markbitQuirk == 0 {
			logrus.WithFields(logrus.Fields{
				"function": "aacSink.process",
			}).Warn("Activating RTP mark bit quirk workaround")
			s.markbitQuirk = 1
		}
	}

	payload := pkt[in.PayloadOffset:]
	if s.latm.LenIn() < len(payload) {
		logrus.WithFields(logrus.Fields{
			"function": "aacSink.process",
			"capacity": s.latm.Cap() + l.mtuRead,
		}).Debug("Resizing LATM buffer")
		if err := s.latm.Resize(s.latm.Cap() + l.mtuRead); err != nil {
			return err
		}
	}
	copy(s.latm.Tail(), payload)
	if err := s.latm.Seek(len(payload)); err != nil {
		return err
	}

	if s.markbitQuirk != 1 && !in.Marker {
		logrus.WithFields(logrus.Fields{
			"function": "aacSink.process",
			"sequence": in.SequenceNumber,
			"latm_len": s.latm.LenOut(),
		}).Debug("Fragmented RTP packet")
		return nil
	}

	_, p, err := s.stream.DecodeStep(s.latm.Data(), s.out)
	if err != nil {
		// A failed element stays buffered; the decoder may recover
		// once the next fragments arrive.
		logrus.WithFields(logrus.Fields{
			"function": "aacSink.process",
			"error":    err.Error(),
		}).Error("AAC decode frame error")
		return nil
	}

	l.deliverPCM(s.out[:p])
	s.latm.Rewind()
	return nil
}
