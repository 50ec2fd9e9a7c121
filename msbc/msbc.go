// Package msbc implements the H2 framing engine for mSBC wideband
// speech over SCO transports.
//
// The air stream is a sequence of 60-byte packets: a 2-byte H2
// synchronization header, one 57-byte mSBC frame, and one padding byte.
// The H2 header carries a 2-bit sequence counter with every bit
// duplicated, so a receiver can resynchronize on a rolling byte stream
// and detect lost frames. The engine owns four staging buffers (PCM in,
// wire out, wire in, PCM out) and drives an injected mSBC bit codec;
// the encode and decode pipelines are independent and may be advanced
// at different times within the same poll iteration.
package msbc

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/bluerelay/buffer"
	"github.com/opd-ai/bluerelay/codec"
)

const (
	// H2Sync is the first byte of every H2 header.
	H2Sync = 0x01

	// FrameLength is the byte length of one mSBC frame on the wire,
	// excluding the H2 header and padding.
	FrameLength = 57

	// CodeSamples is the number of PCM samples consumed or produced by
	// one mSBC frame (7.5 ms at 16 kHz mono).
	CodeSamples = 120

	// FramedLength is the length of one complete framed packet: H2
	// header, mSBC frame and padding byte.
	FramedLength = 2 + FrameLength + 1

	// SampleRate is the fixed mSBC sampling rate.
	SampleRate = 16000

	h2Len = 2
)

// h2Sequence holds the four valid values of the H2 header's second
// byte: the low nibble is the 0x8 sync remainder, the high nibble is
// the 2-bit sequence counter with each bit duplicated.
var h2Sequence = [4]byte{0x08, 0x38, 0xc8, 0xf8}

// ErrNeedMoreData indicates that the decode input does not yet contain
// a complete framed packet.
var ErrNeedMoreData = errors.New("msbc: need more data")

// FindH2Header scans data for the first structurally valid H2 header.
//
// A match requires the sync byte followed by a sequence byte whose low
// nibble is 0x8 and whose duplicated counter bit pairs are internally
// consistent (each pair is 00 or 11). The first valid match wins even
// if it could be a false positive on coincidental payload bytes; there
// is no lookahead beyond the header itself.
//
// Parameters:
//   - data: Raw decode-input bytes
//
// Returns:
//   - int: Offset of the header within data (valid only when found)
//   - bool: Whether a header was found
func FindH2Header(data []byte) (int, bool) {
	for i := 0; i+h2Len <= len(data); i++ {
		if data[i] != H2Sync {
			continue
		}
		b := data[i+1]
		if b&0x0f != 0x08 {
			continue
		}
		sn0 := (b >> 4) & 0x3
		sn1 := (b >> 6) & 0x3
		if (sn0 == 0x0 || sn0 == 0x3) && (sn1 == 0x0 || sn1 == 0x3) {
			return i, true
		}
	}
	return 0, false
}

// h2SequenceIndex maps a valid H2 sequence byte back to its 0..3
// counter value, or -1 for an invalid byte.
func h2SequenceIndex(b byte) int {
	for i, v := range h2Sequence {
		if v == b {
			return i
		}
	}
	return -1
}

// Session holds the mSBC framing state for one SCO transport: the four
// staging buffers, the injected bit codec and the sequence counters of
// both directions.
//
// A Session is owned by a single IO goroutine. Init is idempotent so
// the SCO loop can re-invoke it on every transport re-acquisition, and
// Finish is safe on a never-initialized session.
type Session struct {
	initialized bool
	stream      codec.Stream

	encPCM  *buffer.Samples // PCM staged for encoding
	encData *buffer.Bytes   // framed packets ready for the socket
	decData *buffer.Bytes   // raw socket bytes awaiting a header
	decPCM  *buffer.Samples // decoded PCM ready for the FIFO

	encSeq    int // next H2 sequence counter to emit
	decSeq    int // last H2 sequence counter seen
	hasDecSeq bool
}

// New creates an mSBC session around the given bit codec. The session
// is unusable until Init succeeds.
func New(stream codec.Stream) *Session {
	return &Session{stream: stream}
}

// Init allocates the staging buffers and validates the bit codec
// geometry. Calling it on an already-initialized session succeeds
// trivially without reallocating.
func (s *Session) Init() error {
	if s.initialized {
		return nil
	}
	if s.stream == nil {
		return fmt.Errorf("msbc: bit codec cannot be nil")
	}
	if s.stream.CodeSamples() != CodeSamples || s.stream.FrameLength() != FrameLength {
		logrus.WithFields(logrus.Fields{
			"function":     "Session.Init",
			"code_samples": s.stream.CodeSamples(),
			"frame_length": s.stream.FrameLength(),
		}).Error("Bit codec geometry mismatch")
		return fmt.Errorf("msbc: bit codec geometry mismatch: %d samples / %d bytes",
			s.stream.CodeSamples(), s.stream.FrameLength())
	}

	var err error
	if s.encPCM, err = buffer.NewSamples(2 * CodeSamples); err != nil {
		return fmt.Errorf("msbc: encode PCM buffer: %w", err)
	}
	if s.encData, err = buffer.NewBytes(3 * FramedLength); err != nil {
		return fmt.Errorf("msbc: encode data buffer: %w", err)
	}
	if s.decData, err = buffer.NewBytes(3 * FramedLength); err != nil {
		return fmt.Errorf("msbc: decode data buffer: %w", err)
	}
	if s.decPCM, err = buffer.NewSamples(3 * CodeSamples); err != nil {
		return fmt.Errorf("msbc: decode PCM buffer: %w", err)
	}

	s.encSeq = 0
	s.hasDecSeq = false
	s.initialized = true
	logrus.WithFields(logrus.Fields{
		"function": "Session.Init",
	}).Debug("mSBC session initialized")
	return nil
}

// Finish releases the staging buffers and the bit codec handle. It is
// safe to call on a never-initialized or partially-initialized session
// and may be called more than once.
func (s *Session) Finish() {
	if c, ok := s.stream.(codec.Closer); ok && s.initialized {
		if err := c.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Session.Finish",
				"error":    err.Error(),
			}).Warn("Couldn't close mSBC bit codec")
		}
	}
	s.encPCM, s.encData, s.decData, s.decPCM = nil, nil, nil, nil
	s.initialized = false
}

// Initialized reports whether the session holds live buffers.
func (s *Session) Initialized() bool { return s.initialized }

// EncodePCM returns the encode-input PCM staging buffer.
func (s *Session) EncodePCM() *buffer.Samples { return s.encPCM }

// EncodeData returns the encode-output wire staging buffer.
func (s *Session) EncodeData() *buffer.Bytes { return s.encData }

// DecodeData returns the decode-input wire staging buffer.
func (s *Session) DecodeData() *buffer.Bytes { return s.decData }

// DecodePCM returns the decode-output PCM staging buffer.
func (s *Session) DecodePCM() *buffer.Samples { return s.decPCM }

// Encode drains the staged PCM into H2-framed packets, one fixed-size
// frame per 120 staged samples, until either input or output space runs
// out. Partial PCM below one codesize stays staged for the next call.
//
// Returns:
//   - int: Number of framed packets produced
//   - error: Bit codec failure (the offending PCM stays consumed)
func (s *Session) Encode() (int, error) {
	if !s.initialized {
		return 0, fmt.Errorf("msbc: session not initialized")
	}

	frames := 0
	for s.encPCM.LenOut() >= CodeSamples && s.encData.LenIn() >= FramedLength {
		out := s.encData.Tail()
		out[0] = H2Sync
		out[1] = h2Sequence[s.encSeq]

		consumed, produced, err := s.stream.EncodeStep(s.encPCM.Data()[:CodeSamples], out[h2Len:h2Len+FrameLength])
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Session.Encode",
				"error":    err.Error(),
			}).Error("mSBC encoding error")
			return frames, err
		}
		if consumed != CodeSamples || produced != FrameLength {
			return frames, fmt.Errorf("msbc: unexpected encode geometry: %d samples / %d bytes", consumed, produced)
		}

		out[h2Len+FrameLength] = 0 // padding
		s.encSeq = (s.encSeq + 1) & 0x3

		if err := s.encData.Seek(FramedLength); err != nil {
			return frames, err
		}
		if err := s.encPCM.Shift(consumed); err != nil {
			return frames, err
		}
		frames++
	}
	return frames, nil
}

// Decode resynchronizes to the next H2 header in the staged wire bytes,
// discards anything before it, and decodes as many complete framed
// packets as input and PCM output space allow. A frame that fails to
// decode behind an apparently valid header costs exactly one discarded
// byte before the next search, bounding resynchronization to a single
// pass over a corrupted stream.
//
// Returns:
//   - int: Number of frames decoded
//   - error: ErrNeedMoreData when no complete frame was available
func (s *Session) Decode() (int, error) {
	if !s.initialized {
		return 0, fmt.Errorf("msbc: session not initialized")
	}

	frames := 0
	for {
		data := s.decData.Data()
		if len(data) < h2Len {
			break
		}

		off, ok := FindH2Header(data)
		if !ok {
			// No header anywhere; keep the final byte, it may be the
			// first half of a header split across reads.
			if err := s.decData.Shift(len(data) - 1); err != nil {
				return frames, err
			}
			break
		}
		if off > 0 {
			logrus.WithFields(logrus.Fields{
				"function": "Session.Decode",
				"dropped":  off,
			}).Warn("Dropped bytes before H2 header")
			if err := s.decData.Shift(off); err != nil {
				return frames, err
			}
			data = s.decData.Data()
		}

		if len(data) < FramedLength {
			break
		}
		if s.decPCM.LenIn() < CodeSamples {
			break
		}

		consumed, produced, err := s.stream.DecodeStep(data[h2Len:h2Len+FrameLength], s.decPCM.Tail())
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Session.Decode",
				"error":    err.Error(),
			}).Warn("mSBC decoding error, resynchronizing")
			if err := s.decData.Shift(1); err != nil {
				return frames, err
			}
			continue
		}
		if consumed != FrameLength || produced != CodeSamples {
			return frames, fmt.Errorf("msbc: unexpected decode geometry: %d bytes / %d samples", consumed, produced)
		}

		seq := h2SequenceIndex(data[1])
		if s.hasDecSeq && seq != (s.decSeq+1)&0x3 {
			logrus.WithFields(logrus.Fields{
				"function": "Session.Decode",
				"expected": (s.decSeq + 1) & 0x3,
				"received": seq,
			}).Warn("Missing mSBC frame")
		}
		s.decSeq = seq
		s.hasDecSeq = true

		if err := s.decPCM.Seek(produced); err != nil {
			return frames, err
		}
		if err := s.decData.Shift(FramedLength); err != nil {
			return frames, err
		}
		frames++
	}

	if frames == 0 {
		return 0, ErrNeedMoreData
	}
	return frames, nil
}
