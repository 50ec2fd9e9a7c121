package transport

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Signal is a one-byte control event delivered to a transport's IO
// goroutine through the signal pipe.
type Signal uint8

const (
	// SignalPCMOpen indicates a local client has opened the PCM FIFO.
	SignalPCMOpen Signal = iota + 1
	// SignalPCMClose indicates the PCM FIFO has been closed.
	SignalPCMClose
	// SignalPCMPause indicates the client paused playback.
	SignalPCMPause
	// SignalPCMResume indicates the client resumed playback.
	SignalPCMResume
	// SignalPCMSync requests a drain: the IO goroutine flushes staged
	// audio and signals the drained condition.
	SignalPCMSync
	// SignalPCMDrop requests discarding of any PCM queued in the FIFO.
	SignalPCMDrop
	// SignalPing wakes the IO goroutine without any other effect, used
	// for SCO link state re-evaluation and for cooperative shutdown.
	SignalPing
)

// String returns the signal name for logging.
func (s Signal) String() string {
	switch s {
	case SignalPCMOpen:
		return "PCM_OPEN"
	case SignalPCMClose:
		return "PCM_CLOSE"
	case SignalPCMPause:
		return "PCM_PAUSE"
	case SignalPCMResume:
		return "PCM_RESUME"
	case SignalPCMSync:
		return "PCM_SYNC"
	case SignalPCMDrop:
		return "PCM_DROP"
	case SignalPing:
		return "PING"
	default:
		return fmt.Sprintf("signal(%d)", uint8(s))
	}
}

// SendSignal delivers a control event to the transport's IO goroutine.
// Delivery order is preserved by the pipe.
func (t *Transport) SendSignal(sig Signal) error {
	if _, err := unix.Write(t.sigW, []byte{byte(sig)}); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Transport.SendSignal",
			"signal":   sig.String(),
			"error":    err.Error(),
		}).Warn("Couldn't send transport signal")
		return fmt.Errorf("transport: signal send failed: %w", err)
	}
	return nil
}

// SignalFD returns the read end of the signal pipe for polling.
func (t *Transport) SignalFD() int { return t.sigR }

// ReadSignal consumes one pending control event from the signal pipe.
// It must be called only after the signal fd polled readable.
func (t *Transport) ReadSignal() (Signal, error) {
	var b [1]byte
	n, err := unix.Read(t.sigR, b[:])
	if err != nil || n != 1 {
		logrus.WithFields(logrus.Fields{
			"function": "Transport.ReadSignal",
		}).Warn("Couldn't read transport signal")
		if err == nil {
			err = fmt.Errorf("transport: empty signal read")
		}
		return 0, err
	}
	return Signal(b[0]), nil
}
