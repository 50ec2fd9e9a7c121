package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	s := Default().Snapshot()
	assert.Equal(t, time.Duration(0), s.KeepAlive)
	assert.True(t, s.PayloadCheck)
	assert.True(t, s.LDACABR)
	assert.False(t, s.VolumePassthrough)
}

func TestSnapshotIsolation(t *testing.T) {
	c := Default()
	s := c.Snapshot()

	c.SetKeepAlive(5 * time.Second)
	c.SetPayloadCheck(false)
	c.SetDumpIncoming(true)
	c.SetMonoDownmix(true)
	c.SetSBCQuality(32)

	// The earlier snapshot is untouched by later mutation.
	assert.Equal(t, time.Duration(0), s.KeepAlive)
	assert.True(t, s.PayloadCheck)
	assert.False(t, s.DumpIncoming)
	assert.False(t, s.MonoDownmix)

	s2 := c.Snapshot()
	assert.Equal(t, 5*time.Second, s2.KeepAlive)
	assert.False(t, s2.PayloadCheck)
	assert.True(t, s2.DumpIncoming)
	assert.True(t, s2.MonoDownmix)
	assert.Equal(t, uint8(32), s2.SBCQuality)
}
