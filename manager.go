// Package bluerelay ties the relay building blocks together: it owns
// the codec registry, the runtime configuration and the set of live
// transports, and runs one stream engine goroutine per started
// transport.
//
// The package is the embedding surface for a daemon binary or a test
// harness; the D-Bus control plane stays in the bluez package and the
// per-transport audio path in the stream package.
package bluerelay

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/bluerelay/codec"
	"github.com/opd-ai/bluerelay/config"
	"github.com/opd-ai/bluerelay/stream"
	"github.com/opd-ai/bluerelay/transport"
)

// ErrTransportNotFound is returned for operations on an unknown
// transport id.
var ErrTransportNotFound = errors.New("bluerelay: transport not found")

// managed pairs a transport with its engine goroutine lifecycle.
type managed struct {
	t       *transport.Transport
	done    chan struct{}
	running bool
	err     error
}

// Manager owns the daemon's transports and their stream engines.
type Manager struct {
	registry *codec.Registry
	cfg      *config.Config

	mu         sync.RWMutex
	transports map[uuid.UUID]*managed
	closed     bool
}

// NewManager creates a manager around a codec registry and a runtime
// configuration. A nil registry gets a fresh one with the built-in
// codecs; a nil configuration gets the production defaults.
//
// Parameters:
//   - registry: Codec registry, or nil for a default one
//   - cfg: Runtime configuration, or nil for Default()
//
// Returns:
//   - *Manager: The new manager instance
func NewManager(registry *codec.Registry, cfg *config.Config) *Manager {
	if registry == nil {
		registry = codec.NewRegistry()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	logrus.WithFields(logrus.Fields{
		"function": "NewManager",
	}).Info("Creating relay manager")
	return &Manager{
		registry:   registry,
		cfg:        cfg,
		transports: make(map[uuid.UUID]*managed),
	}
}

// Registry returns the codec registry for factory registration.
func (m *Manager) Registry() *codec.Registry { return m.registry }

// Config returns the mutable runtime configuration.
func (m *Manager) Config() *config.Config { return m.cfg }

// AddTransport creates and tracks a transport. The stream engine is not
// started until StartStream.
//
// Parameters:
//   - opts: Transport options including profile and codec configuration
//
// Returns:
//   - *transport.Transport: The created transport
//   - error: Validation failure or manager already closed
func (m *Manager) AddTransport(opts transport.Options) (*transport.Transport, error) {
	if !m.registry.Supported(opts.Codec.CodecID()) {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.AddTransport",
			"codec":    opts.Codec.CodecID().String(),
		}).Error("No codec factory registered")
		return nil, fmt.Errorf("bluerelay: no codec factory for %s", opts.Codec.CodecID())
	}

	t, err := transport.New(opts)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		t.Close()
		return nil, errors.New("bluerelay: manager closed")
	}
	m.transports[t.ID] = &managed{t: t}
	return t, nil
}

// Transport returns a tracked transport by id.
func (m *Manager) Transport(id uuid.UUID) (*transport.Transport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mt, ok := m.transports[id]
	if !ok {
		return nil, false
	}
	return mt.t, true
}

// Transports returns all tracked transports.
func (m *Manager) Transports() []*transport.Transport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*transport.Transport, 0, len(m.transports))
	for _, mt := range m.transports {
		out = append(out, mt.t)
	}
	return out
}

// StartStream launches the IO engine goroutine for a transport. The
// engine runs against an immutable snapshot of the current
// configuration until the stream ends or StopStream is called.
//
// Parameters:
//   - id: The transport id
//
// Returns:
//   - error: Unknown id or engine already running
func (m *Manager) StartStream(id uuid.UUID) error {
	m.mu.Lock()
	mt, ok := m.transports[id]
	if !ok {
		m.mu.Unlock()
		return ErrTransportNotFound
	}
	if mt.running {
		m.mu.Unlock()
		return fmt.Errorf("bluerelay: stream already running for %s", id)
	}
	mt.running = true
	mt.done = make(chan struct{})
	snap := m.cfg.Snapshot()
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Manager.StartStream",
		"id":       id.String(),
		"profile":  mt.t.Profile().String(),
	}).Info("Starting stream engine")

	go func() {
		err := stream.Run(mt.t, m.registry, snap)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Manager.StartStream",
				"id":       id.String(),
				"error":    err.Error(),
			}).Error("Stream engine failed")
		}

		m.mu.Lock()
		mt.running = false
		mt.err = err
		m.mu.Unlock()
		close(mt.done)
	}()
	return nil
}

// StopStream requests cooperative termination of a transport's engine
// and waits for the goroutine to exit.
//
// Parameters:
//   - id: The transport id
//
// Returns:
//   - error: Unknown id, or the engine's exit error
func (m *Manager) StopStream(id uuid.UUID) error {
	m.mu.RLock()
	mt, ok := m.transports[id]
	var done chan struct{}
	if ok {
		done = mt.done
	}
	m.mu.RUnlock()
	if !ok {
		return ErrTransportNotFound
	}
	if done == nil {
		return nil
	}

	mt.t.Stop()
	<-done

	m.mu.RLock()
	defer m.mu.RUnlock()
	return mt.err
}

// RemoveTransport stops a transport's engine, closes its descriptors
// and drops it from the manager.
func (m *Manager) RemoveTransport(id uuid.UUID) error {
	if err := m.StopStream(id); err != nil && err != ErrTransportNotFound {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.RemoveTransport",
			"id":       id.String(),
			"error":    err.Error(),
		}).Warn("Stream engine exited with error")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.transports[id]
	if !ok {
		return ErrTransportNotFound
	}
	delete(m.transports, id)
	mt.t.Close()
	logrus.WithFields(logrus.Fields{
		"function": "Manager.RemoveTransport",
		"id":       id.String(),
	}).Info("Transport removed")
	return nil
}

// Close stops every engine and closes every transport. The manager
// accepts no new transports afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	ids := make([]uuid.UUID, 0, len(m.transports))
	for id := range m.transports {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.RemoveTransport(id)
	}
	logrus.WithFields(logrus.Fields{
		"function": "Manager.Close",
	}).Info("Relay manager closed")
}
