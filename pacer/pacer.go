// Package pacer provides the wall-clock rate pacer that keeps a
// transport IO loop emitting audio frames at the negotiated sample
// rate.
//
// The pacer is deliberately one-directional: it throttles a producer
// that runs ahead of real time, but it never drops or fast-forwards
// data when the producer falls behind. Catch-up policy belongs to the
// consumer side of the link.
package pacer

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Pacer throttles a frame producer to a target sample rate and tracks
// the processing (busy) time between synchronization points, which the
// IO loops surface as the codec overhead delay metric.
//
// A Pacer is owned by a single goroutine; it is not safe for concurrent
// use.
type Pacer struct {
	rate     uint32
	epoch    time.Time
	frames   uint64
	lastSync time.Time
	busy     time.Duration
}

// Init captures the current time as the zero point for the given sample
// rate and resets the frame and busy-time accumulators. The IO loops
// call it on the first sample after an idle period, so that client-side
// playback gaps do not count as drift.
func (p *Pacer) Init(rate uint32) {
	now := time.Now()
	p.rate = rate
	p.epoch = now
	p.frames = 0
	p.lastSync = now
	p.busy = 0
	logrus.WithFields(logrus.Fields{
		"function": "Pacer.Init",
		"rate":     rate,
	}).Debug("Rate pacer armed")
}

// Frames returns the cumulative number of frames accounted so far. A
// zero value means the pacer is idle and must be re-armed with Init
// before the next Sync.
func (p *Pacer) Frames() uint64 { return p.frames }

// Sync accounts frames emitted since the previous call and blocks until
// their wall-clock deadline at the target rate. If the deadline has
// already passed the call returns immediately; the pacer never tries to
// catch up by compressing subsequent deadlines.
func (p *Pacer) Sync(frames uint32) {
	now := time.Now()
	p.busy = now.Sub(p.lastSync)

	p.frames += uint64(frames)
	deadline := p.epoch.Add(time.Duration(p.frames) * time.Second / time.Duration(p.rate))
	if wait := deadline.Sub(now); wait > 0 {
		time.Sleep(wait)
	}
	p.lastSync = time.Now()
}

// BusyDuration returns the processing time measured between the two
// most recent Sync calls, i.e. how long the loop spent working rather
// than sleeping.
func (p *Pacer) BusyDuration() time.Duration { return p.busy }

// Busy100us returns the busy time in 1/10 millisecond units, the
// resolution used for the transport delay property.
func (p *Pacer) Busy100us() int { return int(p.busy / (100 * time.Microsecond)) }
