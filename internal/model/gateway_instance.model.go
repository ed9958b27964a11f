package model

// GatewayConfig is an opaque configuration blob interpreted only by the
// matching gateway implementation.
type GatewayConfig map[string]any

// GatewayInstance is a configured, persisted instance of a gateway
// implementation. Several instances may share the same Gateway type
// identifier (multiple accounts of the same backend). Instances are value
// objects: flag flips go through WithEnabled, which returns a fresh copy.
type GatewayInstance struct {
	ID      int64         `json:"id"`
	Gateway string        `json:"gateway"` // type identifier resolved via the registry
	Config  GatewayConfig `json:"config"`
	Enabled bool          `json:"enabled"`
}

// WithEnabled returns a copy of the instance with the enabled flag set.
// The receiver is never mutated, so concurrent holders of the old record
// keep seeing its original state.
func (g *GatewayInstance) WithEnabled(enabled bool) *GatewayInstance {
	out := *g
	out.Config = make(GatewayConfig, len(g.Config))
	for k, v := range g.Config {
		out.Config[k] = v
	}
	out.Enabled = enabled
	return &out
}

// GatewayInstanceFilter controls instance listings. Nil fields are ignored.
type GatewayInstanceFilter struct {
	ID      *int64
	Gateway *string // type identifier
	Enabled *bool
}
