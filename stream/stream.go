package stream

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/bluerelay/codec"
	"github.com/opd-ai/bluerelay/config"
	"github.com/opd-ai/bluerelay/transport"
)

// Run drives the IO engine for one transport until the stream ends: the
// remote device hangs up, the keep-alive window expires with no client
// attached, or Stop is requested on the transport.
//
// The engine is selected by the transport profile and the negotiated
// codec. A sink transport with an unsupported codec falls back to the
// raw dump engine when incoming-stream dumping is enabled, so unknown
// payloads can still be captured for analysis.
//
// Parameters:
//   - t: The acquired transport to serve
//   - reg: Codec registry providing the stream implementations
//   - cfg: Immutable runtime configuration snapshot for this stream
//
// Returns:
//   - error: Engine setup or fatal IO failure
func Run(t *transport.Transport, reg *codec.Registry, cfg config.Snapshot) error {
	if t.Profile().IsSCO() {
		return runSCO(t, reg, cfg)
	}

	switch t.Profile() {
	case transport.ProfileA2DPSource:
		return runA2DPSource(t, reg, cfg)
	case transport.ProfileA2DPSink:
		return runA2DPSink(t, reg, cfg)
	default:
		return fmt.Errorf("stream: unsupported profile: %s", t.Profile())
	}
}

func runA2DPSource(t *transport.Transport, reg *codec.Registry, cfg config.Snapshot) error {
	var (
		v           sourceVariant
		pcmCapacity int
		err         error
	)
	switch t.Codec().CodecID() {
	case codec.SBC:
		v, pcmCapacity, err = newSBCSource(t, reg, cfg)
	case codec.AAC:
		v, pcmCapacity, err = newAACSource(t, reg, cfg)
	case codec.AptX:
		v, pcmCapacity, err = newAptXSource(t, reg)
	case codec.LDAC:
		v, pcmCapacity, err = newLDACSource(t, reg, cfg)
	default:
		return fmt.Errorf("stream: unsupported source codec: %s", t.Codec().CodecID())
	}
	if err != nil {
		return err
	}
	return runSource(t, cfg, v, pcmCapacity)
}

func runA2DPSink(t *transport.Transport, reg *codec.Registry, cfg config.Snapshot) error {
	var (
		v   sinkVariant
		err error
	)
	switch t.Codec().CodecID() {
	case codec.SBC:
		v, err = newSBCSink(t, reg, cfg)
	case codec.AAC:
		v, err = newAACSink(t, reg, cfg)
	default:
		err = fmt.Errorf("stream: unsupported sink codec: %s", t.Codec().CodecID())
	}
	if err != nil {
		if cfg.DumpIncoming {
			logrus.WithFields(logrus.Fields{
				"function": "runA2DPSink",
				"codec":    t.Codec().CodecID().String(),
				"error":    err.Error(),
			}).Warn("Couldn't set up sink decoder, dumping raw stream")
			return runSinkDump(t)
		}
		return err
	}
	return runSink(t, cfg, v)
}
