package event

import (
	"fmt"
	"sort"
	"sync"
)

// Schema declares an event name so publishes can be validated and the event
// namespace can be browsed. Payload shape stays a publisher/subscriber
// convention; Validator is the hook for enforcing one where it matters.
type Schema struct {
	// Name is the event name (e.g. "agent:interaction:completed").
	Name string

	// Source is the subsystem that publishes the event.
	Source string

	// Description explains the event's purpose.
	Description string

	// Tags enable semantic search and categorization.
	Tags []string

	// Validator is an optional custom validation function.
	Validator func(*Event) error

	// Deprecated marks the schema as deprecated.
	Deprecated bool

	// DeprecationMessage explains the deprecation.
	DeprecationMessage string
}

// Validate checks if an event conforms to this schema.
func (s *Schema) Validate(evt *Event) error {
	if evt.Name != s.Name {
		return fmt.Errorf("event name mismatch: expected %s, got %s", s.Name, evt.Name)
	}
	if s.Validator != nil {
		if err := s.Validator(evt); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
	}
	return nil
}

// Registry manages event name declarations.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

// NewRegistry creates a new event registry.
func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[string]*Schema),
	}
}

// Register adds an event schema to the registry.
// A schema with the same name replaces the previous one.
func (r *Registry) Register(schema *Schema) error {
	if schema.Name == "" {
		return fmt.Errorf("event name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[schema.Name] = schema
	return nil
}

// Get returns the schema for an event name.
func (r *Registry) Get(name string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schema, ok := r.schemas[name]
	return schema, ok
}

// Has returns true if a schema exists for the event name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[name]
	return ok
}

// Validate checks if an event conforms to its registered schema.
func (r *Registry) Validate(evt *Event) error {
	r.mu.RLock()
	schema, ok := r.schemas[evt.Name]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("unknown event name: %s", evt.Name)
	}
	return schema.Validate(evt)
}

// Names returns all registered event names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BySource returns all schemas for a given source.
func (r *Registry) BySource(source string) []*Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var schemas []*Schema
	for _, schema := range r.schemas {
		if schema.Source == source {
			schemas = append(schemas, schema)
		}
	}
	return schemas
}

// ByTag returns all schemas with a given tag.
func (r *Registry) ByTag(tag string) []*Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var schemas []*Schema
	for _, schema := range r.schemas {
		for _, t := range schema.Tags {
			if t == tag {
				schemas = append(schemas, schema)
				break
			}
		}
	}
	return schemas
}

// Range iterates over all schemas.
func (r *Registry) Range(fn func(*Schema) bool) {
	r.mu.RLock()
	// Take snapshot
	schemas := make([]*Schema, 0, len(r.schemas))
	for _, s := range r.schemas {
		schemas = append(schemas, s)
	}
	r.mu.RUnlock()

	for _, s := range schemas {
		if !fn(s) {
			return
		}
	}
}

// DefaultRegistry is the global event registry.
var DefaultRegistry = NewRegistry()

// Register adds a schema to the default registry.
func Register(schema *Schema) error {
	return DefaultRegistry.Register(schema)
}

// MustRegister adds a schema to the default registry, panicking on error.
func MustRegister(schema *Schema) {
	if err := DefaultRegistry.Register(schema); err != nil {
		panic(fmt.Sprintf("failed to register event schema: %v", err))
	}
}
