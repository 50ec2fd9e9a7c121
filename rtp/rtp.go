// Package rtp provides the RTP framing layer for A2DP transport
// sockets: a sending-side Writer that stamps monotonic sequence numbers
// and 10 kHz-domain timestamps, a receiving-side Reader that validates
// payload types and reports sequence gaps, and the one-byte media
// payload header used by the frame-oriented codecs.
//
// All functions operate on byte slices with explicit offsets; the
// payload region of a packet buffer is addressed by the offset a call
// returns, never by retained sub-slices.
package rtp

import (
	"fmt"
	"math/rand"

	pionrtp "github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

const (
	// HeaderLen is the RTP header length with an empty CSRC list, which
	// is the only shape A2DP uses.
	HeaderLen = 12

	// MediaHeaderLen is the length of the media payload header that
	// follows the RTP header for frame-oriented codecs.
	MediaHeaderLen = 1

	// PayloadType is the dynamic payload type stamped on outgoing
	// packets. Incoming packets with any type below the dynamic range
	// are rejected.
	PayloadType = 96

	// ClockRate is the RTP timestamp clock shared by the A2DP audio
	// profiles.
	ClockRate = 10000

	rtpVersion = 2
)

// MediaHeader is the decoded one-byte media payload header: a 4-bit
// frame count in the low nibble and fragmentation flags in the high
// bits.
type MediaHeader struct {
	FrameCount    uint8
	Fragmented    bool
	FirstFragment bool
	LastFragment  bool
}

// Encode packs the media header into its wire byte.
func (m MediaHeader) Encode() byte {
	b := m.FrameCount & 0x0f
	if m.LastFragment {
		b |= 0x20
	}
	if m.FirstFragment {
		b |= 0x40
	}
	if m.Fragmented {
		b |= 0x80
	}
	return b
}

// DecodeMediaHeader unpacks a media header wire byte.
func DecodeMediaHeader(b byte) MediaHeader {
	return MediaHeader{
		FrameCount:    b & 0x0f,
		LastFragment:  b&0x20 != 0,
		FirstFragment: b&0x40 != 0,
		Fragmented:    b&0x80 != 0,
	}
}

// Writer stamps outgoing A2DP packets. The sequence number increments
// by one per packet regardless of how many codec frames the packet
// carries, and the timestamp tracks the cumulative emitted sample count
// converted to the 10 kHz RTP clock, so both wrap naturally through
// unsigned arithmetic.
type Writer struct {
	rate      uint32
	withMedia bool

	seq     uint16
	ssrc    uint32
	baseTS  uint32
	samples uint64
}

// NewWriter creates a packet writer for a stream at the given PCM
// sample rate. The initial sequence number and timestamp are random, as
// the transport payload format requires; they carry no security
// meaning. withMedia selects whether WriteHeader appends the one-byte
// media payload header.
func NewWriter(rate uint32, withMedia bool) (*Writer, error) {
	if rate == 0 {
		return nil, fmt.Errorf("rtp: sample rate cannot be zero")
	}
	w := &Writer{
		rate:      rate,
		withMedia: withMedia,
		seq:       uint16(rand.Uint32()),
		ssrc:      rand.Uint32(),
		baseTS:    rand.Uint32(),
	}
	logrus.WithFields(logrus.Fields{
		"function":    "NewWriter",
		"sample_rate": rate,
		"sequence":    w.seq,
	}).Debug("RTP writer created")
	return w, nil
}

// PayloadOffset returns the offset within a packet buffer where payload
// bytes begin: the RTP header plus the media header when present. Codec
// engines reserve this many bytes at the front of their wire staging
// buffer before encoding into it.
func (w *Writer) PayloadOffset() int {
	if w.withMedia {
		return HeaderLen + MediaHeaderLen
	}
	return HeaderLen
}

// SequenceNumber returns the sequence number of the most recently
// written packet.
func (w *Writer) SequenceNumber() uint16 { return w.seq }

// Timestamp returns the timestamp the next written packet will carry.
func (w *Writer) Timestamp() uint32 {
	return w.baseTS + uint32(w.samples*ClockRate/uint64(w.rate))
}

// WriteHeader stamps the next packet's headers into the front of buf
// and returns the payload offset. The sequence number is incremented
// before stamping; the timestamp reflects all samples advanced so far.
// media is ignored for writers created without a media header.
//
// Parameters:
//   - buf: Packet buffer, at least PayloadOffset() bytes
//   - marker: RTP marker bit (set on the final fragment of a
//     fragmented payload)
//   - media: Media payload header content
//
// Returns:
//   - int: Offset where payload bytes begin
//   - error: Buffer too short
func (w *Writer) WriteHeader(buf []byte, marker bool, media MediaHeader) (int, error) {
	if len(buf) < w.PayloadOffset() {
		return 0, fmt.Errorf("rtp: buffer too short for header: %d < %d", len(buf), w.PayloadOffset())
	}

	w.seq++
	h := pionrtp.Header{
		Version:        rtpVersion,
		Marker:         marker,
		PayloadType:    PayloadType,
		SequenceNumber: w.seq,
		Timestamp:      w.Timestamp(),
		SSRC:           w.ssrc,
	}
	n, err := h.MarshalTo(buf)
	if err != nil {
		return 0, fmt.Errorf("rtp: header marshalling failed: %w", err)
	}

	if w.withMedia {
		buf[n] = media.Encode()
		n += MediaHeaderLen
	}
	return n, nil
}

// AdvanceTimestamp accounts emitted PCM frames towards the packet
// timestamp. Codecs that buffer input across calls (LDAC) advance only
// when the encoder actually emits a packet.
func (w *Writer) AdvanceTimestamp(frames uint32) {
	w.samples += uint64(frames)
}

// Incoming is one parsed inbound packet.
type Incoming struct {
	SequenceNumber uint16
	Timestamp      uint32
	Marker         bool
	Media          MediaHeader

	// PayloadOffset is the offset of the first payload byte within the
	// parsed buffer, past the RTP header, any CSRC entries and the
	// media header when expected.
	PayloadOffset int

	// SequenceGap is the number of packets lost since the previous
	// parse, zero for an uninterrupted stream.
	SequenceGap int
}

// Reader parses and validates inbound A2DP packets, tracking the
// sequence counter across calls to surface gaps. Gaps are reported, not
// fatal: the caller logs and keeps decoding.
type Reader struct {
	withMedia bool
	checkPT   bool

	expectSeq uint16
	hasSeq    bool
}

// NewReader creates a packet reader. withMedia selects whether a media
// payload header is expected after the RTP header. Payload type
// validation is enabled by default.
func NewReader(withMedia bool) *Reader {
	return &Reader{withMedia: withMedia, checkPT: true}
}

// DisablePayloadCheck turns off payload type validation for remote
// devices that stamp nonconformant types.
func (r *Reader) DisablePayloadCheck() {
	r.checkPT = false
}

// Reset clears sequence tracking, so the next parsed packet starts a
// fresh stream without a spurious gap warning. Sinks reset whenever the
// local PCM client detaches.
func (r *Reader) Reset() {
	r.hasSeq = false
}

// Parse validates one inbound packet and locates its payload.
//
// Packets with a payload type below the dynamic range are rejected with
// an error; the caller skips the packet and continues. A sequence
// number discontinuity is reported through Incoming.SequenceGap and
// logged, never treated as an error.
//
// Parameters:
//   - buf: One full packet as read from the transport socket
//
// Returns:
//   - Incoming: Parsed header fields and payload offset
//   - error: Malformed header or unsupported payload type
func (r *Reader) Parse(buf []byte) (Incoming, error) {
	var h pionrtp.Header
	n, err := h.Unmarshal(buf)
	if err != nil {
		return Incoming{}, fmt.Errorf("rtp: header parsing failed: %w", err)
	}

	if r.checkPT && h.PayloadType < PayloadType {
		return Incoming{}, fmt.Errorf("rtp: unsupported payload type: %d", h.PayloadType)
	}

	in := Incoming{
		SequenceNumber: h.SequenceNumber,
		Timestamp:      h.Timestamp,
		Marker:         h.Marker,
		PayloadOffset:  n,
	}

	if r.withMedia {
		if len(buf) < n+MediaHeaderLen {
			return Incoming{}, fmt.Errorf("rtp: packet too short for media header: %d", len(buf))
		}
		in.Media = DecodeMediaHeader(buf[n])
		in.PayloadOffset += MediaHeaderLen
	}

	if r.hasSeq && h.SequenceNumber != r.expectSeq {
		in.SequenceGap = int(h.SequenceNumber - r.expectSeq)
		logrus.WithFields(logrus.Fields{
			"function": "Reader.Parse",
			"expected": r.expectSeq,
			"received": h.SequenceNumber,
			"missing":  in.SequenceGap,
		}).Warn("Missing RTP packets")
	}
	r.expectSeq = h.SequenceNumber + 1
	r.hasSeq = true

	return in, nil
}
