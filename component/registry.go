package component

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/c360/daqstreams/errors"
)

// Factory creates a component instance from configuration. The factory
// receives raw JSON configuration and dependencies, parses its own config,
// and returns an initialized component. All I/O happens in the component's
// Start method, never in the factory.
type Factory func(rawConfig json.RawMessage, deps Dependencies) (Discoverable, error)

// Registration holds factory and metadata for a component type
type Registration struct {
	Name        string       `json:"name"`        // Factory name (e.g., "udp-transport")
	Type        string       `json:"type"`        // Component type (transport/output)
	Protocol    string       `json:"protocol"`    // Technical protocol (serial, udp, tcp, mqtt, nats, ws)
	Description string       `json:"description"` // Human-readable description
	Version     string       `json:"version"`     // Component version
	Schema      ConfigSchema `json:"schema"`      // Schema as static metadata
	Factory     Factory      `json:"-"`           // Factory function (not serializable)
}

// Registry manages component factories and instances. It provides
// thread-safe registration and lookup of both factories (for creation)
// and instances (for discovery and management).
type Registry struct {
	factories map[string]*Registration
	instances map[string]Discoverable
	resources map[string]string // resource ID -> instance name
	mu        sync.RWMutex
}

// NewRegistry creates a new empty component registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]*Registration),
		instances: make(map[string]Discoverable),
		resources: make(map[string]string),
	}
}

// RegisterFactory registers a component factory with the given name.
// Returns an error if a factory with the same name is already registered.
func (r *Registry) RegisterFactory(name string, registration *Registration) error {
	if name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterFactory", "factory name validation")
	}
	if registration == nil || registration.Factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterFactory", "registration validation")
	}
	if registration.Type == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterFactory", "component type validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		msg := fmt.Errorf("factory '%s' is already registered", name)
		return errors.WrapInvalid(msg, "Registry", "RegisterFactory", "duplicate factory check")
	}

	r.factories[name] = registration
	return nil
}

// CreateComponent creates and registers a component instance using the
// named factory. Exclusive port resources (sockets, device nodes) are
// tracked so two instances cannot claim the same one.
func (r *Registry) CreateComponent(
	factoryName, instanceName string, rawConfig json.RawMessage, deps Dependencies,
) (Discoverable, error) {
	if instanceName == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Registry", "CreateComponent", "instance name validation")
	}

	r.mu.RLock()
	registration, ok := r.factories[factoryName]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("no factory registered for %q", factoryName),
			"Registry", "CreateComponent", "factory lookup")
	}

	instance, err := registration.Factory(rawConfig, deps)
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "CreateComponent",
			fmt.Sprintf("create %q via factory %q", instanceName, factoryName))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instances[instanceName]; exists {
		return nil, errors.WrapInvalid(
			fmt.Errorf("instance %q already exists", instanceName),
			"Registry", "CreateComponent", "duplicate instance check")
	}

	// Claim exclusive resources before committing the instance.
	claimed := make([]string, 0, 2)
	ports := append(instance.InputPorts(), instance.OutputPorts()...)
	for _, port := range ports {
		if port.Config == nil || !port.Config.IsExclusive() {
			continue
		}
		id := port.Config.ResourceID()
		if holder, taken := r.resources[id]; taken {
			for _, c := range claimed {
				delete(r.resources, c)
			}
			return nil, errors.WrapInvalid(
				fmt.Errorf("resource %q already held by %q", id, holder),
				"Registry", "CreateComponent", "resource conflict check")
		}
		r.resources[id] = instanceName
		claimed = append(claimed, id)
	}

	r.instances[instanceName] = instance
	return instance, nil
}

// RemoveInstance removes a component instance and releases its resources.
func (r *Registry) RemoveInstance(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.instances, name)
	for id, holder := range r.resources {
		if holder == name {
			delete(r.resources, id)
		}
	}
}

// Instance returns a registered instance by name.
func (r *Registry) Instance(name string) (Discoverable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	instance, ok := r.instances[name]
	return instance, ok
}

// Instances returns all registered instance names, sorted.
func (r *Registry) Instances() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.instances))
	for name := range r.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Factories returns registrations for all known factories, sorted by name.
func (r *Registry) Factories() []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	regs := make([]*Registration, 0, len(r.factories))
	for _, reg := range r.factories {
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].Name < regs[j].Name })
	return regs
}
