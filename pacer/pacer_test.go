package pacer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSyncNeverBlocksWhenBehind(t *testing.T) {
	var p Pacer
	p.Init(48000)

	// Emitting far fewer frames than real time allows must return
	// immediately: the deadline is already in the past.
	time.Sleep(5 * time.Millisecond)
	start := time.Now()
	p.Sync(1)
	assert.Less(t, time.Since(start), 2*time.Millisecond)
}

func TestSyncBlocksUntilDeadline(t *testing.T) {
	var p Pacer
	p.Init(8000)

	// 400 frames at 8 kHz is a 50 ms deadline; Sync must not return
	// before it.
	start := time.Now()
	p.Sync(400)
	assert.GreaterOrEqual(t, time.Since(start), 45*time.Millisecond)
	assert.Equal(t, uint64(400), p.Frames())
}

func TestBusyAccounting(t *testing.T) {
	var p Pacer
	p.Init(48000)

	time.Sleep(3 * time.Millisecond)
	p.Sync(1)

	assert.GreaterOrEqual(t, p.BusyDuration(), 3*time.Millisecond)
	assert.GreaterOrEqual(t, p.Busy100us(), 30)
}

func TestInitResetsState(t *testing.T) {
	var p Pacer
	p.Init(16000)
	p.Sync(160)
	assert.NotZero(t, p.Frames())

	p.Init(16000)
	assert.Zero(t, p.Frames())
	assert.Zero(t, p.BusyDuration())
}
