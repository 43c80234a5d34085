package executor

import (
	"fmt"
	"sync"

	"github.com/openfroyo/froyo-guard/internal/policy"
)

// Registry resolves a Mechanism tag to the Executor adapter that handles
// it, narrowed from the teacher's provider Registry
// (pkg/providers/host/registry.go, which resolves a WASM plugin by
// name+version+capability) down to a flat, fixed mechanism-to-adapter
// table: this domain has nine known mechanisms, not an open plugin set.
type Registry struct {
	mu        sync.RWMutex
	executors map[policy.Mechanism]Executor
}

// NewRegistry builds the registry with the default executor for every
// mechanism defined in the catalog schema.
func NewRegistry() *Registry {
	r := &Registry{executors: make(map[policy.Mechanism]Executor)}
	r.Register(policy.MechanismRegistry, &RegistryExecutor{})
	r.Register(policy.MechanismService, &ServiceExecutor{})
	r.Register(policy.MechanismScheduledTask, &TaskExecutor{})
	r.Register(policy.MechanismFirewall, &FirewallExecutor{})
	r.Register(policy.MechanismScript, &ScriptExecutor{})
	r.Register(policy.MechanismGroupPolicy, &GroupPolicyExecutor{})
	r.Register(policy.MechanismMDM, &MDMExecutor{})
	r.Register(policy.MechanismHostsFile, &HostsFileExecutor{})
	r.Register(policy.MechanismWFPDriver, &WFPDriverExecutor{})
	return r
}

// Register overrides (or installs) the executor bound to a mechanism tag;
// tests use this to substitute fakes without touching the live OS.
func (r *Registry) Register(mechanism policy.Mechanism, e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[mechanism] = e
}

// For returns the executor bound to a policy's mechanism.
func (r *Registry) For(p *policy.Policy) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[p.Mechanism]
	if !ok {
		return nil, fmt.Errorf("no executor registered for mechanism %q", p.Mechanism)
	}
	return e, nil
}
