// Package outq estimates Bluetooth socket backpressure from the
// kernel's outbound queue length.
//
// The TIOCOUTQ ioctl reports bytes queued but not yet transmitted. The
// reading at socket acquisition time is captured as a baseline, because
// some kernels include protocol overhead that never drains; subsequent
// samples report the absolute distance from that baseline. Samples feed
// a small ring of recent history and a pressure figure (queue length in
// write-MTU units) consumed by adaptive bitrate codecs.
package outq

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	// HistorySize is the number of recent samples retained.
	HistorySize = 16

	// saturatedBytes is recorded when a socket write blocks: the real
	// queue length is unknown but certainly large.
	saturatedBytes = 16 * 1024
)

// Probe reads the current outbound queue length of a socket.
type Probe func() (int, error)

// SocketProbe returns a Probe backed by the TIOCOUTQ ioctl on the given
// file descriptor.
func SocketProbe(fd int) Probe {
	return func() (int, error) {
		return unix.IoctlGetInt(fd, unix.TIOCOUTQ)
	}
}

// Estimator tracks outbound queue samples for one transport socket.
// It is owned by the transport's IO goroutine and is not safe for
// concurrent use.
type Estimator struct {
	probe    Probe
	baseline int
	history  [HistorySize]int
	idx      int
}

// NewEstimator creates an estimator and captures the baseline queue
// length. A failing probe at baseline time is logged and treated as a
// zero baseline; streaming proceeds with less accurate pressure
// figures.
func NewEstimator(probe Probe) *Estimator {
	e := &Estimator{probe: probe}
	v, err := probe()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewEstimator",
			"error":    err.Error(),
		}).Warn("Couldn't get BT queued bytes baseline")
		return e
	}
	e.baseline = v
	return e
}

// Sample probes the socket queue, records the baseline-relative length
// in the history ring and returns it. A failing probe is logged and the
// previous value is carried forward.
func (e *Estimator) Sample() int {
	v, err := e.probe()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Estimator.Sample",
			"error":    err.Error(),
		}).Warn("Couldn't get BT queued bytes")
		return e.record(e.Latest())
	}
	v -= e.baseline
	if v < 0 {
		v = -v
	}
	return e.record(v)
}

// Saturate records the blocked-write sentinel in place of a probe,
// used when a socket write returns EAGAIN and the loop is about to
// block on writability.
func (e *Estimator) Saturate() {
	e.record(saturatedBytes)
}

func (e *Estimator) record(v int) int {
	e.idx = (e.idx + 1) % HistorySize
	e.history[e.idx] = v
	return v
}

// Latest returns the most recently recorded queue length.
func (e *Estimator) Latest() int {
	return e.history[e.idx]
}

// Max returns the largest queue length in the retained history.
func (e *Estimator) Max() int {
	max := 0
	for _, v := range e.history {
		if v > max {
			max = v
		}
	}
	return max
}

// Pressure converts the latest queue length into write-MTU units, the
// term adaptive bitrate codecs consume. A non-positive MTU yields zero.
func (e *Estimator) Pressure(mtuWrite int) int {
	if mtuWrite <= 0 {
		return 0
	}
	return e.Latest() / mtuWrite
}
