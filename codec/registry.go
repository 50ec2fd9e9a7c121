package codec

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Factory constructs a codec stream from its negotiated configuration.
type Factory func(cfg Config) (Stream, error)

// Registry maps codec identifiers to stream factories.
//
// The daemon core never links codec bit libraries directly; the
// embedder registers whatever implementations are available at startup
// and the IO loops look them up by the negotiated codec id. A missing
// registration is an init-stage failure for the affected transport
// only.
type Registry struct {
	mu        sync.RWMutex
	factories map[ID]Factory
}

// NewRegistry creates an empty codec registry with the built-in CVSD
// pass-through stream pre-registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[ID]Factory)}
	r.Register(CVSD, func(Config) (Stream, error) { return NewCVSD(), nil })
	logrus.WithFields(logrus.Fields{
		"function": "NewRegistry",
	}).Debug("Codec registry created")
	return r
}

// Register installs a factory for the given codec id, replacing any
// previous registration.
func (r *Registry) Register(id ID, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = f
	logrus.WithFields(logrus.Fields{
		"function": "Registry.Register",
		"codec":    id.String(),
	}).Info("Codec factory registered")
}

// Supported reports whether a factory is registered for the codec id.
func (r *Registry) Supported(id ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[id]
	return ok
}

// New constructs a codec stream for the given configuration.
//
// Parameters:
//   - cfg: Negotiated codec configuration blob
//
// Returns:
//   - Stream: The codec stream
//   - error: Unregistered codec id or factory failure
func (r *Registry) New(cfg Config) (Stream, error) {
	if cfg == nil {
		return nil, fmt.Errorf("codec configuration cannot be nil")
	}

	r.mu.RLock()
	f, ok := r.factories[cfg.CodecID()]
	r.mu.RUnlock()

	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "Registry.New",
			"codec":    cfg.CodecID().String(),
		}).Error("Codec not supported")
		return nil, fmt.Errorf("codec not supported: %s", cfg.CodecID())
	}

	s, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("codec %s initialization failed: %w", cfg.CodecID(), err)
	}
	return s, nil
}
