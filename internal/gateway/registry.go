package gateway

import (
	"sync"

	"github.com/textroute/sms-router/internal/model"
	"github.com/textroute/sms-router/pkg/logger"
)

// Registry maps gateway type identifiers to factories. It is populated at
// startup and consulted whenever a persisted instance needs its concrete
// implementation. Identifiers with no registered factory resolve to absent,
// never to an error: instances of uninstalled types are skipped, not fatal.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Resolve returns the factory for a type identifier, if installed.
func (r *Registry) Resolve(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Installed reports whether a type identifier has a registered factory.
func (r *Registry) Installed(name string) bool {
	_, ok := r.Resolve(name)
	return ok
}

// Types returns the registered type identifiers.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// Build resolves the instance's type identifier and constructs a gateway
// bound to its configuration. Unknown types and unusable configs both yield
// (nil, false): such instances are excluded from routing and listings.
func (r *Registry) Build(inst *model.GatewayInstance) (Gateway, bool) {
	f, ok := r.Resolve(inst.Gateway)
	if !ok {
		return nil, false
	}
	g, err := f(inst.Config)
	if err != nil {
		logger.Warn("gateway instance has unusable config, skipping",
			"instance_id", inst.ID, "gateway", inst.Gateway, "error", err)
		return nil, false
	}
	return g, true
}
