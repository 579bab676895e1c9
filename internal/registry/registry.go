package registry

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sort"

	"github.com/vk/trainforge/internal/nn"
)

// Module is implemented by every architecture family compiled into the
// binary.
type Module interface {
	Register(r *Registry)
}

// Global pooling choices understood by architectures with a pooled head.
const (
	PoolAvg = "avg"
	PoolMax = "max"
)

// BuildOptions are the knobs an architecture builder receives.
type BuildOptions struct {
	NumClasses int
	// GlobalPool overrides the architecture's final pooling when set.
	GlobalPool string
	RNG        *rand.Rand
}

// Architecture describes one buildable network.
type Architecture struct {
	Name        string
	Description string
	// InputShape is the expected shape of one sample, without the batch
	// dimension.
	InputShape []int
	Build      func(opts BuildOptions) (nn.Module, error)
}

// Registry holds the architectures of a single application instance.
type Registry struct {
	architectures map[string]*Architecture
}

// New creates a registry populated by the given modules.
func New(modules ...Module) *Registry {
	r := &Registry{architectures: make(map[string]*Architecture)}
	for _, m := range modules {
		m.Register(r)
	}
	return r
}

// RegisterArchitecture adds a to the registry.
func (r *Registry) RegisterArchitecture(a *Architecture) {
	if _, exists := r.architectures[a.Name]; exists {
		panic(fmt.Sprintf("architecture with name '%s' already registered", a.Name))
	}
	slog.Debug("Registering architecture.", "name", a.Name)
	r.architectures[a.Name] = a
}

// Lookup returns the architecture registered under name.
func (r *Registry) Lookup(name string) (*Architecture, bool) {
	a, ok := r.architectures[name]
	return a, ok
}

// Names returns the registered architecture names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.architectures))
	for name := range r.architectures {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build looks up name and builds it with opts.
func (r *Registry) Build(name string, opts BuildOptions) (nn.Module, []int, error) {
	a, ok := r.Lookup(name)
	if !ok {
		return nil, nil, fmt.Errorf("no architecture named %q", name)
	}
	if opts.NumClasses < 1 {
		return nil, nil, fmt.Errorf("%s: num_classes must be positive, got %d", name, opts.NumClasses)
	}
	switch opts.GlobalPool {
	case "", PoolAvg, PoolMax:
	default:
		return nil, nil, fmt.Errorf("%s: unknown global pool %q", name, opts.GlobalPool)
	}
	if opts.RNG == nil {
		opts.RNG = rand.New(rand.NewPCG(0, 0))
	}
	m, err := a.Build(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("building %s: %w", name, err)
	}
	return m, slices.Clone(a.InputShape), nil
}
