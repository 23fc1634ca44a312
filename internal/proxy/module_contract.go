package proxy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/currents-hub/currents/internal/server"
)

// KindHandler is the runtime contract an upstream kind may provide to replace
// the default forwarding handler. It aligns with server.ProxyHandler.
type KindHandler = server.ProxyHandler

// KindRegistration captures a kind key and its handler for safe registration.
type KindRegistration struct {
	Key     string
	Handler KindHandler
}

// ErrKindHandlerExists indicates a handler has already been registered for the key.
var ErrKindHandlerExists = errors.New("kind handler already registered")

// Validate ensures both key and handler are present before registration.
func (r KindRegistration) Validate() error {
	if strings.TrimSpace(r.Key) == "" {
		return errors.New("kind key required")
	}
	if r.Handler == nil {
		return errors.New("kind handler required")
	}
	return nil
}

// Register binds a per-kind handler to this forwarder. Routes of other
// kinds keep using the default handler.
func (f *Forwarder) Register(reg KindRegistration) error {
	if err := reg.Validate(); err != nil {
		return err
	}
	normalized := normalizeKindKey(reg.Key)
	if _, loaded := f.kinds.LoadOrStore(normalized, reg.Handler); loaded {
		return fmt.Errorf("%w: %s", ErrKindHandlerExists, normalized)
	}
	return nil
}

// MustRegister panics when registration fails; used while wiring the edge app.
func (f *Forwarder) MustRegister(reg KindRegistration) {
	if err := f.Register(reg); err != nil {
		panic(err)
	}
}

// NewEdgeForwarder builds the forwarder used by edge mode: base serves every
// kind, and the bucket kind gets its pointer-aware handler.
func NewEdgeForwarder(base *Handler, logger *logrus.Logger) *Forwarder {
	f := NewForwarder(base, logger)
	f.MustRegister(KindRegistration{Key: BucketKind, Handler: NewBucketHandler(base)})
	return f
}
