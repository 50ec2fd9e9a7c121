package stream

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/opd-ai/bluerelay/buffer"
	"github.com/opd-ai/bluerelay/codec"
	"github.com/opd-ai/bluerelay/config"
	"github.com/opd-ai/bluerelay/msbc"
	"github.com/opd-ai/bluerelay/pacer"
	"github.com/opd-ai/bluerelay/pcm"
	"github.com/opd-ai/bluerelay/transport"
)

// scoBufferSize is the capacity of the CVSD staging buffers. It only
// needs to exceed the SCO MTU, which is a few dozen bytes.
const scoBufferSize = 128

// scoPipeline abstracts the codec-specific staging between the four
// SCO data descriptors, so the loop body stays codec-agnostic. The
// mSBC pipeline frames and transcodes; the CVSD pipeline relays raw
// samples, since narrowband air coding happens in the controller.
type scoPipeline interface {
	// init prepares codec state after SCO acquisition. It must be
	// idempotent, as the link may be re-acquired many times per call.
	init() error
	close()

	// advance runs the encode and decode pipelines over whatever is
	// staged, before descriptor readiness is evaluated.
	advance()

	wantSCORead(mtuRead int) bool
	wantSCOWrite(mtuWrite int) bool
	wantPCMRead(mtuWrite int) bool
	wantPCMWrite() bool

	scoReadBuf() []byte
	scoReadCommit(n int) error
	scoWritePacket(mtuWrite int) []byte
	scoWriteCommit(n int) error

	pcmReadBuf() []int16
	pcmReadCommit(n int, muted bool) error
	pcmOutSamples() []int16
	pcmOutCommit(n int) error

	// dropUnreadInput discards stale inbound audio when no capture
	// client is attached.
	dropUnreadInput()
}

// msbcPipeline stages wideband speech through an H2 framing session.
type msbcPipeline struct {
	session *msbc.Session
}

func (p *msbcPipeline) init() error { return p.session.Init() }
func (p *msbcPipeline) close() { p.session.Finish() }

func (p *msbcPipeline) advance() {
	if !p.session.Initialized() {
		return
	}
	if _, err := p.session.Encode(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "msbcPipeline.advance",
			"error":    err.Error(),
		}).Error("mSBC encoding error")
	}
	if _, err := p.session.Decode(); err != nil && err != msbc.ErrNeedMoreData {
		logrus.WithFields(logrus.Fields{
			"function": "msbcPipeline.advance",
			"error":    err.Error(),
		}).Error("mSBC decoding error")
	}
}

func (p *msbcPipeline) wantSCORead(mtuRead int) bool {
	return p.session.Initialized() && p.session.DecodeData().BLenIn() >= mtuRead
}

func (p *msbcPipeline) wantSCOWrite(mtuWrite int) bool {
	return p.session.Initialized() && p.session.EncodeData().BLenOut() >= mtuWrite
}

func (p *msbcPipeline) wantPCMRead(mtuWrite int) bool {
	return p.session.Initialized() && p.session.EncodePCM().BLenIn() >= mtuWrite
}

func (p *msbcPipeline) wantPCMWrite() bool {
	return p.session.Initialized() && p.session.DecodePCM().BLenOut() > 0
}

func (p *msbcPipeline) scoReadBuf() []byte { return p.session.DecodeData().Tail() }
func (p *msbcPipeline) scoReadCommit(n int) error { return p.session.DecodeData().Seek(n) }

func (p *msbcPipeline) scoWritePacket(mtuWrite int) []byte {
	return p.session.EncodeData().Data()[:mtuWrite]
}
func (p *msbcPipeline) scoWriteCommit(n int) error { return p.session.EncodeData().Shift(n) }

func (p *msbcPipeline) pcmReadBuf() []int16 { return p.session.EncodePCM().Tail() }

func (p *msbcPipeline) pcmReadCommit(n int, muted bool) error {
	if muted {
		pcm.ScaleS16LE(p.session.EncodePCM().Tail()[:n], 1, 0, 0)
	}
	return p.session.EncodePCM().Seek(n)
}

func (p *msbcPipeline) pcmOutSamples() []int16 { return p.session.DecodePCM().Data() }
func (p *msbcPipeline) pcmOutCommit(n int) error { return p.session.DecodePCM().Shift(n) }
func (p *msbcPipeline) dropUnreadInput() {}

// cvsdPipeline relays raw s16le samples between the SCO socket and the
// PCM FIFOs.
type cvsdPipeline struct {
	stream  codec.Stream
	in      *buffer.Bytes
	out     *buffer.Bytes
	scratch []int16
}

func newCVSDPipeline(reg *codec.Registry) (*cvsdPipeline, error) {
	s, err := reg.New(codec.CVSDConfig{})
	if err != nil {
		return nil, err
	}
	in, err := buffer.NewBytes(scoBufferSize)
	if err != nil {
		return nil, err
	}
	out, err := buffer.NewBytes(scoBufferSize)
	if err != nil {
		return nil, err
	}
	return &cvsdPipeline{
		stream:  s,
		in:      in,
		out:     out,
		scratch: make([]int16, scoBufferSize/2),
	}, nil
}

func (p *cvsdPipeline) init() error { return nil }
func (p *cvsdPipeline) close() {}
func (p *cvsdPipeline) advance() {}

func (p *cvsdPipeline) wantSCORead(mtuRead int) bool { return p.in.LenIn() >= mtuRead }
func (p *cvsdPipeline) wantSCOWrite(mtuWrite int) bool { return p.out.LenOut() >= mtuWrite }
func (p *cvsdPipeline) wantPCMRead(mtuWrite int) bool { return p.out.LenIn() >= mtuWrite }
func (p *cvsdPipeline) wantPCMWrite() bool { return p.in.LenOut() > 0 }

func (p *cvsdPipeline) scoReadBuf() []byte { return p.in.Tail() }
func (p *cvsdPipeline) scoReadCommit(n int) error { return p.in.Seek(n) }

func (p *cvsdPipeline) scoWritePacket(mtuWrite int) []byte { return p.out.Data()[:mtuWrite] }
func (p *cvsdPipeline) scoWriteCommit(n int) error { return p.out.Shift(n) }

func (p *cvsdPipeline) pcmReadBuf() []int16 {
	n := p.out.LenIn() / 2
	if n > len(p.scratch) {
		n = len(p.scratch)
	}
	return p.scratch[:n]
}

func (p *cvsdPipeline) pcmReadCommit(n int, muted bool) error {
	if muted {
		pcm.ScaleS16LE(p.scratch[:n], 1, 0, 0)
	}
	_, produced, err := p.stream.EncodeStep(p.scratch[:n], p.out.Tail())
	if err != nil {
		return err
	}
	return p.out.Seek(produced)
}

func (p *cvsdPipeline) pcmOutSamples() []int16 {
	_, n, _ := p.stream.DecodeStep(p.in.Data(), p.scratch)
	return p.scratch[:n]
}

func (p *cvsdPipeline) pcmOutCommit(n int) error { return p.in.Shift(n * 2) }
func (p *cvsdPipeline) dropUnreadInput() { p.in.Rewind() }

// runSCO is the bidirectional SCO engine: one loop multiplexing the
// signal pipe, both directions of the SCO socket and both PCM FIFOs.
// The SCO link itself is brought up and torn down on control events
// according to the attached clients and the HFP call indicators,
// because an idle link still burns Bluetooth bandwidth on microphone
// traffic nobody reads.
func runSCO(t *transport.Transport, reg *codec.Registry, cfg config.Snapshot) error {
	var pipe scoPipeline
	switch t.Codec().CodecID() {
	case codec.MSBC:
		bits, err := reg.New(t.Codec())
		if err != nil {
			return err
		}
		pipe = &msbcPipeline{session: msbc.New(bits)}
	case codec.CVSD:
		p, err := newCVSDPipeline(reg)
		if err != nil {
			return err
		}
		pipe = p
	default:
		return fmt.Errorf("stream: unsupported SCO codec: %s", t.Codec().CodecID())
	}
	defer pipe.close()
	defer t.SignalDrained()

	var pace pacer.Pacer
	paceActive := false
	pollTimeout := -1

	logrus.WithFields(logrus.Fields{
		"function": "runSCO",
		"id":       t.ID.String(),
		"profile":  t.Profile().String(),
		"codec":    t.Codec().CodecID().String(),
	}).Debug("Starting IO loop")

	for {
		if t.Stopping() {
			return nil
		}

		btFD, mtuRead, mtuWrite := t.BTSocket()
		spkFD := t.SpkPCM.FD()
		micFD := t.MicPCM.FD()

		// With no capture client attached, staged inbound audio would
		// only go stale before the next client sees it.
		if micFD == -1 {
			pipe.dropUnreadInput()
		}

		pipe.advance()

		pfds := []unix.PollFd{
			{Fd: int32(t.SignalFD()), Events: unix.POLLIN},
			{Fd: -1, Events: unix.POLLIN},
			{Fd: -1, Events: unix.POLLOUT},
			{Fd: -1, Events: unix.POLLIN},
			{Fd: -1, Events: unix.POLLOUT},
		}
		if btFD != -1 {
			if mtuRead > 0 && pipe.wantSCORead(mtuRead) {
				pfds[1].Fd = int32(btFD)
			}
			if mtuWrite > 0 && pipe.wantSCOWrite(mtuWrite) {
				pfds[2].Fd = int32(btFD)
			}
		}
		if mtuWrite > 0 && pipe.wantPCMRead(mtuWrite) {
			pfds[3].Fd = int32(spkFD)
		}
		if pipe.wantPCMWrite() {
			pfds[4].Fd = int32(micFD)
		}

		// Reading the SCO socket without a capture client would spin
		// the loop on microphone audio nobody consumes.
		if micFD == -1 {
			pfds[1].Fd = -1
		}

		n, err := unix.Poll(pfds, pollTimeout)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "runSCO",
				"error":    err.Error(),
			}).Error("Transport poll error")
			return err
		}
		if n == 0 {
			t.SignalDrained()
			pollTimeout = -1
			continue
		}

		if pfds[0].Revents&unix.POLLIN != 0 {
			sig, _ := t.ReadSignal()
			switch sig {
			case transport.SignalPing, transport.SignalPCMOpen, transport.SignalPCMResume:
				pollTimeout = -1
				paceActive = false
			case transport.SignalPCMSync:
				// A clean speaker drain is not possible while the
				// microphone keeps the poll busy, so confirm the drain
				// immediately instead of hanging the requester.
				t.SignalDrained()
			case transport.SignalPCMDrop:
				t.SpkPCM.Flush()
				continue
			}
			if t.Stopping() {
				return nil
			}

			// Re-evaluate whether the SCO link should be up.
			spk := t.SpkPCM.FD()
			mic := t.MicPCM.FD()
			call, setup := t.CallIndicators()

			release := spk == -1 && mic == -1
			if t.Profile() == transport.ProfileHFPHandsFree && !call && !setup {
				// Outside the call and call-setup stages the gateway
				// refuses SCO connections anyway.
				release = true
			}

			if release {
				if err := t.Release(); err != nil {
					logrus.WithFields(logrus.Fields{
						"function": "runSCO",
						"error":    err.Error(),
					}).Warn("Couldn't release SCO link")
				}
				paceActive = false
			} else {
				if err := t.Acquire(); err != nil {
					logrus.WithFields(logrus.Fields{
						"function": "runSCO",
						"error":    err.Error(),
					}).Warn("Couldn't acquire SCO link")
				} else if err := pipe.init(); err != nil {
					logrus.WithFields(logrus.Fields{
						"function": "runSCO",
						"error":    err.Error(),
					}).Error("Couldn't initialize SCO codec")
					return err
				}
			}
			continue
		}

		if !paceActive {
			pace.Init(t.SampleRate())
			paceActive = true
		}

		if pfds[1].Revents&unix.POLLIN != 0 {
			buf := pipe.scoReadBuf()
			rn, rerr := scoRead(btFD, buf)
			switch {
			case rerr == errDisconnected:
				t.Release()
				continue
			case rerr != nil:
				logrus.WithFields(logrus.Fields{
					"function": "runSCO",
					"error":    rerr.Error(),
				}).Error("SCO read error")
				continue
			default:
				if err := pipe.scoReadCommit(rn); err != nil {
					return err
				}
			}
		} else if pfds[1].Revents&(unix.POLLERR|unix.POLLHUP) != 0 {
			logrus.WithFields(logrus.Fields{
				"function": "runSCO",
				"revents":  pfds[1].Revents,
			}).Debug("SCO poll error status")
			t.Release()
		}

		if pfds[2].Revents&unix.POLLOUT != 0 {
			pkt := pipe.scoWritePacket(mtuWrite)
			wn, werr := scoWrite(btFD, pkt)
			switch {
			case werr == errDisconnected:
				t.Release()
				continue
			case werr != nil:
				logrus.WithFields(logrus.Fields{
					"function": "runSCO",
					"error":    werr.Error(),
				}).Error("SCO write error")
				continue
			default:
				if err := pipe.scoWriteCommit(wn); err != nil {
					return err
				}
			}
		}

		if pfds[3].Revents&unix.POLLIN != 0 {
			buf := pipe.pcmReadBuf()
			rn, rerr := t.SpkPCM.Read(buf)
			switch rerr {
			case nil:
				if err := pipe.pcmReadCommit(rn, t.SpeakerMuted()); err != nil {
					return err
				}
			case io.EOF:
				t.SendSignal(transport.SignalPCMClose)
			case unix.EAGAIN:
			default:
				logrus.WithFields(logrus.Fields{
					"function": "runSCO",
					"error":    rerr.Error(),
				}).Error("PCM read error")
			}
		} else if pfds[3].Revents&(unix.POLLERR|unix.POLLHUP) != 0 {
			logrus.WithFields(logrus.Fields{
				"function": "runSCO",
				"revents":  pfds[3].Revents,
			}).Debug("PCM poll error status")
			t.SpkPCM.Release()
			t.SendSignal(transport.SignalPCMClose)
		}

		if pfds[4].Revents&unix.POLLOUT != 0 {
			samples := pipe.pcmOutSamples()
			if t.MicMuted() {
				pcm.ScaleS16LE(samples, 1, 0, 0)
			}
			wn, werr := t.MicPCM.Write(samples)
			switch werr {
			case nil:
				if err := pipe.pcmOutCommit(wn); err != nil {
					return err
				}
			case io.EOF:
				t.SendSignal(transport.SignalPCMClose)
			default:
				logrus.WithFields(logrus.Fields{
					"function": "runSCO",
					"error":    werr.Error(),
				}).Error("FIFO write error")
			}
		}

		pace.Sync(uint32(mtuWrite / 2))
		t.SetDelay(uint16(pace.Busy100us()))
	}
}

// scoRead reads one chunk from the SCO socket. A remote hang-up maps
// to errDisconnected.
func scoRead(fd int, buf []byte) (int, error) {
	for {
		n, err := unix.Read(fd, buf)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.ECONNABORTED, err == unix.ECONNRESET:
			return 0, errDisconnected
		case err != nil:
			return 0, err
		case n == 0:
			return 0, errDisconnected
		default:
			return n, nil
		}
	}
}

// scoWrite writes one MTU-sized chunk to the SCO socket.
func scoWrite(fd int, pkt []byte) (int, error) {
	for {
		n, err := unix.Write(fd, pkt)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.ECONNABORTED, err == unix.ECONNRESET:
			return 0, errDisconnected
		case err != nil:
			return 0, err
		default:
			return n, nil
		}
	}
}
