// Package config holds the daemon-wide runtime configuration.
//
// The live Config is mutable through the control surface, but IO
// goroutines never read it directly: they take a Snapshot at loop
// start and run against that immutable copy, so a concurrent
// configuration change can never alter a loop's behavior mid-iteration.
package config

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Snapshot is an immutable copy of the configuration consumed by one
// IO goroutine.
type Snapshot struct {
	// KeepAlive is how long an A2DP source loop keeps the stream open
	// after its PCM client stops delivering audio. Zero ends the
	// stream as soon as the client detaches.
	KeepAlive time.Duration

	// VolumePassthrough disables in-daemon volume scaling and defers
	// volume to the remote device.
	VolumePassthrough bool

	// MonoDownmix folds stereo sink streams into mono before the FIFO
	// write, for clients driving single-speaker hardware.
	MonoDownmix bool

	// PayloadCheck enables RTP payload type validation on sink
	// transports.
	PayloadCheck bool

	// SBCQuality caps the SBC encoder bitpool below the negotiated
	// value. Zero keeps the negotiated bitpool.
	SBCQuality uint8

	// LDACABR enables adaptive bitrate for LDAC source transports.
	LDACABR bool

	// LDACEQMID is the initial LDAC encode quality mode.
	LDACEQMID int

	// AACAfterburner enables the encoder's quality-over-CPU mode.
	AACAfterburner bool

	// AACVBRMode is the VBR quality level used when the negotiated AAC
	// configuration allows variable bitrate.
	AACVBRMode uint8

	// DumpIncoming diverts sink transports with no registered decoder
	// into a raw capture loop writing the socket stream to a file.
	DumpIncoming bool
}

// Config is the daemon configuration shared between the control surface
// and the transport manager.
type Config struct {
	mu   sync.RWMutex
	snap Snapshot
}

// Default creates a configuration with production defaults.
func Default() *Config {
	return &Config{snap: Snapshot{
		KeepAlive:    0,
		PayloadCheck: true,
		LDACABR:      true,
		LDACEQMID:    1,
		AACVBRMode:   4,
	}}
}

// Snapshot returns an immutable copy of the current configuration.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// SetKeepAlive updates the A2DP keep-alive interval.
func (c *Config) SetKeepAlive(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.KeepAlive = d
	logrus.WithFields(logrus.Fields{
		"function":   "Config.SetKeepAlive",
		"keep_alive": d.String(),
	}).Debug("Configuration updated")
}

// SetVolumePassthrough toggles in-daemon volume scaling.
func (c *Config) SetVolumePassthrough(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.VolumePassthrough = enabled
}

// SetMonoDownmix toggles the sink-side stereo to mono fold.
func (c *Config) SetMonoDownmix(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.MonoDownmix = enabled
}

// SetSBCQuality caps the SBC encoder bitpool. Zero keeps the
// negotiated bitpool.
func (c *Config) SetSBCQuality(bitpool uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.SBCQuality = bitpool
}

// SetPayloadCheck toggles RTP payload type validation.
func (c *Config) SetPayloadCheck(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.PayloadCheck = enabled
}

// SetLDACABR toggles LDAC adaptive bitrate.
func (c *Config) SetLDACABR(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.LDACABR = enabled
}

// SetLDACEQMID sets the initial LDAC encode quality mode.
func (c *Config) SetLDACEQMID(eqmid int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.LDACEQMID = eqmid
}

// SetAACAfterburner toggles the AAC encoder afterburner.
func (c *Config) SetAACAfterburner(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.AACAfterburner = enabled
}

// SetAACVBRMode sets the AAC VBR quality level.
func (c *Config) SetAACVBRMode(mode uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.AACVBRMode = mode
}

// SetDumpIncoming toggles the raw capture fallback for sink transports.
func (c *Config) SetDumpIncoming(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.DumpIncoming = enabled
}
