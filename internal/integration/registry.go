package integration

import (
	"fmt"
	"sync"

	"github.com/quotelane/quotecore/internal/domain"
)

type registryKey struct {
	insurerID  int64
	policyType domain.PolicyType
}

// Registry maps (insurer ID, policy type) to an adapter factory. The
// orchestrator resolves factories at quoting time; carrier packages are
// registered explicitly during startup wiring, never via package init
// side effects.
type Registry struct {
	mu        sync.RWMutex
	factories map[registryKey]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[registryKey]Factory)}
}

// Register adds a factory for an insurer/policy-type pair. Registering
// the same pair twice is a wiring bug and returns an error.
func (r *Registry) Register(insurerID int64, policyType domain.PolicyType, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := registryKey{insurerID: insurerID, policyType: policyType}
	if _, dup := r.factories[key]; dup {
		return fmt.Errorf("adapter already registered for insurer %d policy type %s", insurerID, policyType)
	}
	r.factories[key] = f
	return nil
}

// Resolve returns the factory for an insurer/policy-type pair.
func (r *Registry) Resolve(insurerID int64, policyType domain.PolicyType) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[registryKey{insurerID: insurerID, policyType: policyType}]
	return f, ok
}
