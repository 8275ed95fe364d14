package gateway

import (
	"fmt"
	"slices"
	"strings"
)

// ResolverConfig selects the default gateway.
type ResolverConfig struct {
	Default         string `env:"BILLING_DEFAULT_GATEWAY" envDefault:"stripe"`
	Fallback        string `env:"BILLING_FALLBACK_GATEWAY" envDefault:"test"`
	AllowSimulation bool   `env:"BILLING_ALLOW_SIMULATION" envDefault:"true"`
}

// Simulator is implemented by gateways that never move real money.
type Simulator interface {
	Simulated() bool
}

func isSimulated(g Gateway) bool {
	s, ok := g.(Simulator)
	return ok && s.Simulated()
}

// Resolver is the static gateway registry built at startup.
type Resolver struct {
	cfg      ResolverConfig
	gateways map[string]Gateway
	names    []string
}

// NewResolver registers gateways under their lowercase names. Simulation
// gateways are left out unless cfg.AllowSimulation is set. It panics on a nil
// or duplicate gateway.
func NewResolver(cfg ResolverConfig, gateways ...Gateway) *Resolver {
	r := &Resolver{
		cfg:      cfg,
		gateways: make(map[string]Gateway, len(gateways)),
	}
	for _, g := range gateways {
		if g == nil {
			panic("gateway: nil gateway registered")
		}
		if isSimulated(g) && !cfg.AllowSimulation {
			continue
		}
		name := strings.ToLower(g.Name())
		if _, dup := r.gateways[name]; dup {
			panic(fmt.Sprintf("gateway: %q registered twice", name))
		}
		r.gateways[name] = g
		r.names = append(r.names, name)
	}
	slices.Sort(r.names)
	return r
}

// Resolve returns the gateway registered under name, case-insensitively. An
// empty name resolves to Default.
func (r *Resolver) Resolve(name string) (Gateway, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return r.Default()
	}
	g, ok := r.gateways[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGateway, name)
	}
	return g, nil
}

// Default returns the configured default gateway when it has credentials,
// otherwise the fallback when simulation is allowed.
func (r *Resolver) Default() (Gateway, error) {
	if g, ok := r.gateways[strings.ToLower(r.cfg.Default)]; ok && g.IsConfigured() {
		return g, nil
	}
	if r.cfg.AllowSimulation {
		if g, ok := r.gateways[strings.ToLower(r.cfg.Fallback)]; ok && g.IsConfigured() {
			return g, nil
		}
	}
	return nil, ErrNoConfiguredGateway
}

// Names lists the registered gateway names in order.
func (r *Resolver) Names() []string {
	return slices.Clone(r.names)
}
