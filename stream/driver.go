package stream

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/opd-ai/bluerelay/buffer"
	"github.com/opd-ai/bluerelay/config"
	"github.com/opd-ai/bluerelay/outq"
	"github.com/opd-ai/bluerelay/pacer"
	"github.com/opd-ai/bluerelay/pcm"
	"github.com/opd-ai/bluerelay/transport"
)

// errDisconnected marks a remote hang-up observed on the transport
// socket. It ends the engine cleanly rather than as a failure.
var errDisconnected = errors.New("stream: transport disconnected")

// sourceVariant is one codec's packetizer for the generic A2DP source
// driver: it drains staged PCM into socket writes, paces the transfer
// and shifts consumed samples.
type sourceVariant interface {
	encode(l *sourceLoop) error
}

// sourceLoop is the shared state of one A2DP source engine iteration.
type sourceLoop struct {
	t   *transport.Transport
	cfg config.Snapshot

	pcm *buffer.Samples
	bt  *buffer.Bytes
	est *outq.Estimator

	btFD     int
	mtuWrite int
	channels int
	rate     uint32

	pace       pacer.Pacer
	paceActive bool
}

// sync paces the transfer to real time and publishes the measured
// encoding overhead as the transport delay.
func (l *sourceLoop) sync(frames uint32) {
	l.pace.Sync(frames)
	l.t.SetDelay(uint16(l.pace.Busy100us()))
}

// writeBT sends one packet to the transport socket with backpressure
// accounting. A blocked socket parks the engine on writability and
// saturates the queue estimate. Only a remote hang-up is returned as an
// error; other write failures are logged and swallowed, matching the
// one-lost-packet cost of a transient radio glitch.
func (l *sourceLoop) writeBT(pkt []byte) error {
	l.est.Sample()
	for {
		_, err := unix.Write(l.btFD, pkt)
		switch err {
		case nil:
			return nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			pfd := []unix.PollFd{{Fd: int32(l.btFD), Events: unix.POLLOUT}}
			unix.Poll(pfd, -1)
			l.est.Saturate()
			continue
		case unix.ECONNRESET, unix.ENOTCONN:
			logrus.WithFields(logrus.Fields{
				"function": "sourceLoop.writeBT",
				"fd":       l.btFD,
			}).Debug("BT socket disconnected")
			return errDisconnected
		default:
			logrus.WithFields(logrus.Fields{
				"function": "sourceLoop.writeBT",
				"error":    err.Error(),
			}).Error("BT socket write error")
			return nil
		}
	}
}

// scalePCM applies the transport's per-channel volume to staged
// samples.
func scalePCM(t *transport.Transport, buf []int16, channels int) {
	v0 := t.Volume(0)
	v1 := t.Volume(1)
	pcm.ScaleS16LE(buf, channels,
		pcm.VolumeScale(int(v0.Level), v0.Muted),
		pcm.VolumeScale(int(v1.Level), v1.Muted))
}

// runSource is the generic A2DP source engine: poll the signal pipe
// and the PCM FIFO, dispatch control events, read and volume-scale PCM
// and hand the staged samples to the codec packetizer.
//
// The engine exits cleanly when the keep-alive window expires with no
// PCM client attached, when the remote device hangs up, or when
// cooperative termination is requested.
func runSource(t *transport.Transport, cfg config.Snapshot, v sourceVariant, pcmCapacity int) error {
	btFD, _, mtuWrite := t.BTSocket()
	if btFD == -1 {
		return fmt.Errorf("stream: invalid BT socket")
	}

	pcmBuf, err := buffer.NewSamples(pcmCapacity)
	if err != nil {
		return fmt.Errorf("stream: PCM buffer: %w", err)
	}
	btBuf, err := buffer.NewBytes(mtuWrite)
	if err != nil {
		return fmt.Errorf("stream: BT buffer: %w", err)
	}

	l := &sourceLoop{
		t:        t,
		cfg:      cfg,
		pcm:      pcmBuf,
		bt:       btBuf,
		est:      outq.NewEstimator(outq.SocketProbe(btFD)),
		btFD:     btFD,
		mtuWrite: mtuWrite,
		channels: t.Channels(),
		rate:     t.SampleRate(),
	}

	pollTimeout := -1
	defer t.SignalDrained()

	logrus.WithFields(logrus.Fields{
		"function": "runSource",
		"id":       t.ID.String(),
		"profile":  t.Profile().String(),
		"codec":    t.Codec().CodecID().String(),
	}).Debug("Starting IO loop")

	for {
		if t.Stopping() {
			return nil
		}

		pcmFD := -1
		if t.State() == transport.StateActive {
			pcmFD = t.PCM.FD()
		}
		pfds := []unix.PollFd{
			{Fd: int32(t.SignalFD()), Events: unix.POLLIN},
			{Fd: int32(pcmFD), Events: unix.POLLIN},
		}

		n, err := unix.Poll(pfds, pollTimeout)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "runSource",
				"error":    err.Error(),
			}).Error("Transport poll error")
			return err
		}
		if n == 0 {
			// Poll expiry covers two cases: a drain request completed,
			// or the keep-alive window ran out with the client gone.
			t.SignalDrained()
			pollTimeout = -1
			if t.PCM.FD() == -1 {
				return nil
			}
			continue
		}

		if pfds[0].Revents&unix.POLLIN != 0 {
			sig, _ := t.ReadSignal()
			switch sig {
			case transport.SignalPCMOpen, transport.SignalPCMResume:
				pollTimeout = -1
				l.paceActive = false
				continue
			case transport.SignalPCMClose:
				// Fall through to the PCM read, which will observe the
				// released endpoint and enter the keep-alive path.
			case transport.SignalPCMSync:
				pollTimeout = 100
				continue
			case transport.SignalPCMDrop:
				t.PCM.Flush()
				continue
			default:
				if t.Stopping() {
					return nil
				}
				continue
			}
		}

		samples, err := t.PCM.Read(l.pcm.Tail())
		if err != nil {
			if err == unix.EAGAIN {
				continue
			}
			if err == io.EOF {
				pollTimeout = int(cfg.KeepAlive / time.Millisecond)
				logrus.WithFields(logrus.Fields{
					"function": "runSource",
					"timeout":  pollTimeout,
				}).Debug("Keep-alive polling")
				continue
			}
			logrus.WithFields(logrus.Fields{
				"function": "runSource",
				"error":    err.Error(),
			}).Error("PCM read error")
			return err
		}

		// The zero time point for rate pacing must be taken after the
		// client actually starts delivering audio, or the engine would
		// try to catch up with the whole pre-playback idle period.
		if !l.paceActive {
			l.pace.Init(l.rate)
			l.paceActive = true
		}

		if !cfg.VolumePassthrough && t.SoftVolume() {
			scalePCM(t, l.pcm.Tail()[:samples], l.channels)
		}
		if err := l.pcm.Seek(samples); err != nil {
			return err
		}

		if err := v.encode(l); err != nil {
			if err == errDisconnected {
				return nil
			}
			return err
		}
	}
}

// sinkVariant is one codec's depacketizer for the generic A2DP sink
// driver.
type sinkVariant interface {
	// process handles one socket packet.
	process(l *sinkLoop, pkt []byte) error

	// reset clears inter-packet state when the local PCM client
	// detaches, so a reattached client starts a fresh stream.
	reset()
}

// sinkLoop is the shared state of one A2DP sink engine.
type sinkLoop struct {
	t   *transport.Transport
	cfg config.Snapshot

	mtuRead  int
	channels int
	mono     []int16
}

// deliverPCM volume-scales decoded samples and writes them to the PCM
// FIFO, folding stereo to mono first when configured. FIFO errors cost
// the affected samples only.
func (l *sinkLoop) deliverPCM(buf []int16) {
	if !l.cfg.VolumePassthrough && l.t.SoftVolume() {
		scalePCM(l.t, buf, l.channels)
	}
	if l.cfg.MonoDownmix && l.channels == 2 {
		if len(l.mono) < len(buf)/2 {
			l.mono = make([]int16, len(buf)/2)
		}
		n := pcm.DownmixS16LE(l.mono, buf)
		buf = l.mono[:n]
	}
	if _, err := l.t.PCM.Write(buf); err != nil && err != io.EOF {
		logrus.WithFields(logrus.Fields{
			"function": "sinkLoop.deliverPCM",
			"error":    err.Error(),
		}).Error("FIFO write error")
	}
}

// runSink is the generic A2DP sink engine: poll the signal pipe and
// the transport socket, read one MTU-bounded packet at a time and hand
// it to the codec depacketizer. Packets arriving while no PCM client
// is attached are discarded.
func runSink(t *transport.Transport, cfg config.Snapshot, v sinkVariant) error {
	btFD, mtuRead, _ := t.BTSocket()
	if btFD == -1 {
		return fmt.Errorf("stream: invalid BT socket")
	}
	if mtuRead <= 0 {
		return fmt.Errorf("stream: invalid reading MTU: %d", mtuRead)
	}

	btBuf, err := buffer.NewBytes(mtuRead)
	if err != nil {
		return fmt.Errorf("stream: BT buffer: %w", err)
	}

	l := &sinkLoop{t: t, cfg: cfg, mtuRead: mtuRead, channels: t.Channels()}

	logrus.WithFields(logrus.Fields{
		"function": "runSink",
		"id":       t.ID.String(),
		"profile":  t.Profile().String(),
		"codec":    t.Codec().CodecID().String(),
	}).Debug("Starting IO loop")

	for {
		if t.Stopping() {
			return nil
		}

		sockFD := -1
		if t.State() == transport.StateActive {
			sockFD = btFD
		}
		pfds := []unix.PollFd{
			{Fd: int32(t.SignalFD()), Events: unix.POLLIN},
			{Fd: int32(sockFD), Events: unix.POLLIN},
		}

		_, err := unix.Poll(pfds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "runSink",
				"error":    err.Error(),
			}).Error("Transport poll error")
			return err
		}

		if pfds[0].Revents&unix.POLLIN != 0 {
			t.ReadSignal()
			if t.Stopping() {
				return nil
			}
			continue
		}

		n, err := unix.Read(btFD, btBuf.Tail())
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "runSink",
				"error":    err.Error(),
			}).Debug("BT read error")
			continue
		}
		if n == 0 {
			// The remote end already tore the stream down, so closing
			// locally must not trigger a release request upstream.
			logrus.WithFields(logrus.Fields{
				"function": "runSink",
				"fd":       btFD,
			}).Debug("BT socket has been closed")
			t.CloseBTSocket()
			return nil
		}

		if t.PCM.FD() == -1 {
			v.reset()
			continue
		}

		if err := v.process(l, btBuf.Tail()[:n]); err != nil {
			return err
		}
	}
}
