package payments

import (
	"errors"
	"fmt"
)

// Registry holds every configured processor and the single active one used for new payments.
// Verification and webhooks resolve the processor recorded on the payment.
type Registry struct {
	processors map[Provider]Processor
	active     Provider
}

// NewRegistry constructs a Registry over processors. active must be one of them.
func NewRegistry(active Provider, processors ...Processor) (*Registry, error) {
	if len(processors) == 0 {
		return nil, errors.New("payments: at least one processor is required")
	}
	r := &Registry{processors: make(map[Provider]Processor, len(processors))}
	for _, p := range processors {
		if p == nil {
			return nil, errors.New("payments: nil processor registration")
		}
		name := p.Name()
		if _, dup := r.processors[name]; dup {
			return nil, fmt.Errorf("payments: duplicate processor %q", name)
		}
		r.processors[name] = p
	}
	if _, ok := r.processors[active]; !ok {
		return nil, fmt.Errorf("%w: active gateway %q is not configured", ErrUnsupportedProvider, active)
	}
	r.active = active
	return r, nil
}

// Active returns the processor used to initialize new payments.
func (r *Registry) Active() Processor {
	return r.processors[r.active]
}

// Get resolves a processor by provider name.
func (r *Registry) Get(name string) (Processor, error) {
	provider, err := ParseProvider(name)
	if err != nil {
		return nil, err
	}
	p, ok := r.processors[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not configured", ErrUnsupportedProvider, provider)
	}
	return p, nil
}

// Providers lists the configured processors.
func (r *Registry) Providers() []Provider {
	out := make([]Provider, 0, len(r.processors))
	for name := range r.processors {
		out = append(out, name)
	}
	return out
}
