// Package codec defines the capability interface between the transport
// IO loops and the audio codec implementations.
//
// The codec bit libraries (SBC, AAC, aptX, LDAC) are external
// primitives: the daemon treats them as opaque encode/decode steps with
// a documented call contract and obtains them through a Registry
// populated by the embedder. The IO loops are written once against the
// Stream interface instead of duplicating a loop body per codec.
package codec

import "fmt"

// ID identifies a negotiated transport codec.
type ID uint8

// Transport codec identifiers. The A2DP values mirror the codec ids
// from the AVDTP capability negotiation; CVSD and mSBC are the HFP
// air codecs.
const (
	SBC  ID = 0x00
	AAC  ID = 0x02
	AptX ID = 0x40
	LDAC ID = 0x41
	CVSD ID = 0x80
	MSBC ID = 0x81
)

// String returns the canonical codec name.
func (id ID) String() string {
	switch id {
	case SBC:
		return "SBC"
	case AAC:
		return "AAC"
	case AptX:
		return "aptX"
	case LDAC:
		return "LDAC"
	case CVSD:
		return "CVSD"
	case MSBC:
		return "mSBC"
	default:
		return fmt.Sprintf("codec(%#02x)", uint8(id))
	}
}

// Stream is one direction of a codec: a stateful sequence of fixed-shape
// encode or decode steps.
//
// EncodeStep consumes PCM samples from the front of pcm and appends the
// resulting frame bytes at the front of out, returning how many samples
// were consumed and how many bytes were produced. A step that cannot
// make progress (not enough input, or an encoder priming call that
// buffers input without emitting) returns produced == 0 with a nil
// error. DecodeStep is the mirror operation. Implementations must never
// write beyond the produced count.
type Stream interface {
	EncodeStep(pcm []int16, out []byte) (consumed, produced int, err error)
	DecodeStep(in []byte, pcm []int16) (consumed, produced int, err error)

	// CodeSamples returns the number of PCM samples consumed by one
	// encode step (the codesize), used to size staging buffers.
	CodeSamples() int

	// FrameLength returns the byte length of one encoded frame, or the
	// maximum output length per step for codecs without a fixed frame
	// size (AAC).
	FrameLength() int
}

// AdaptiveBitrate is implemented by codecs that support runtime bitrate
// adjustment driven by socket backpressure (LDAC ABR). The pressure
// term is the outstanding socket queue length divided by the write MTU.
type AdaptiveBitrate interface {
	AdjustBitrate(pressure int) error
}

// Framed is implemented by codecs whose encode step packs multiple air
// frames into one output packet and must report the count for the RTP
// media payload header (LDAC).
type Framed interface {
	// FrameCount returns the number of codec frames contained in the
	// output of the most recent encode step.
	FrameCount() int
}

// Closer is implemented by codecs holding external handles that need an
// explicit release.
type Closer interface {
	Close() error
}

// Config is the codec-specific fixed configuration negotiated at
// transport creation. Concrete types carry the decoded capability
// fields for their codec.
type Config interface {
	CodecID() ID
}

// ChannelMode enumerates the A2DP channel arrangements.
type ChannelMode uint8

// Channel modes shared by the SBC and LDAC configuration blobs.
const (
	ChannelModeMono ChannelMode = iota
	ChannelModeDualChannel
	ChannelModeStereo
	ChannelModeJointStereo
)

// SBCConfig is the negotiated SBC configuration.
type SBCConfig struct {
	SampleRate  uint32
	ChannelMode ChannelMode
	Bitpool     uint8
	Subbands    uint8
	BlockLength uint8
}

// CodecID implements Config.
func (SBCConfig) CodecID() ID { return SBC }

// AACConfig is the negotiated AAC (MPEG-2/4) configuration plus the
// local encoder knobs applied on top of it.
type AACConfig struct {
	ObjectType uint8
	SampleRate uint32
	Channels   uint8
	VBR        bool
	Bitrate    uint32

	// Afterburner enables the encoder's quality-over-CPU mode.
	Afterburner bool

	// VBRMode is the encoder quality level used when VBR is set.
	VBRMode uint8
}

// CodecID implements Config.
func (AACConfig) CodecID() ID { return AAC }

// AptXConfig is the negotiated aptX configuration.
type AptXConfig struct {
	SampleRate  uint32
	ChannelMode ChannelMode
}

// CodecID implements Config.
func (AptXConfig) CodecID() ID { return AptX }

// LDACConfig is the negotiated LDAC configuration.
type LDACConfig struct {
	SampleRate  uint32
	ChannelMode ChannelMode

	// EQMID selects the encode quality mode; ABR moves it at runtime
	// when adaptive bitrate is enabled.
	EQMID int

	// MTU is the payload budget the encoder packs towards, i.e. the
	// write MTU minus the RTP and media header lengths.
	MTU int
}

// CodecID implements Config.
func (LDACConfig) CodecID() ID { return LDAC }

// MSBCConfig is the (empty) mSBC configuration: the codec parameters
// are fixed by the HFP wideband-speech profile.
type MSBCConfig struct{}

// CodecID implements Config.
func (MSBCConfig) CodecID() ID { return MSBC }

// CVSDConfig is the (empty) CVSD configuration.
type CVSDConfig struct{}

// CodecID implements Config.
func (CVSDConfig) CodecID() ID { return CVSD }
