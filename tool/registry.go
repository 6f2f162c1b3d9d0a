package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Registry is the fixed tool set handed to the agent runtime. Tools are
// registered once at assembly time; lookups and invocations are safe for
// concurrent use afterwards.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	adapters map[string]Adapter
}

// NewRegistry registers adapters in order, failing on the first invalid or
// duplicate descriptor.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, adapter := range adapters {
		if err := r.Register(adapter); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an adapter. Names must be unique and descriptors valid.
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return NewError(KindAssembly, "tool: cannot register a nil adapter")
	}
	desc := adapter.Descriptor()
	if err := DiagnosticsError(KindAssembly, fmt.Sprintf("tool: invalid descriptor %q", desc.Name), ValidateDescriptor(desc)); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.adapters == nil {
		r.adapters = make(map[string]Adapter)
	}
	if _, exists := r.adapters[desc.Name]; exists {
		return Errorf(KindAssembly, "tool: %q is already registered", desc.Name)
	}
	r.adapters[desc.Name] = adapter
	r.order = append(r.order, desc.Name)
	return nil
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[name]
	return adapter, ok
}

// List returns adapters in registration order.
func (r *Registry) List() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.adapters[name])
	}
	return out
}

// Descriptors returns descriptors in registration order.
func (r *Registry) Descriptors() []Descriptor {
	adapters := r.List()
	out := make([]Descriptor, 0, len(adapters))
	for _, adapter := range adapters {
		out = append(out, adapter.Descriptor())
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Invoke runs the named tool. Unknown tools and adapter panics come back as
// failures so one bad call never aborts the surrounding request.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (result Result) {
	start := time.Now()
	defer func() {
		if recovered := recover(); recovered != nil {
			result = Fail(KindUpstream, fmt.Sprintf("tool %s panicked: %v", name, recovered))
		}
		observation := InvokeObservation{
			ToolName:   name,
			DurationMS: elapsedMS(start),
			Success:    result.OK(),
		}
		if result.Failure != nil {
			observation.FailureKind = result.Failure.Kind
		}
		emitInvokeObservation(observation)
	}()

	adapter, ok := r.Get(name)
	if !ok {
		return Fail(KindValidation, fmt.Sprintf("unknown tool %q", name))
	}
	if args == nil {
		args = map[string]any{}
	}
	return adapter.Invoke(ctx, args)
}

// InvokeJSON decodes model-produced JSON arguments and runs the named tool.
func (r *Registry) InvokeJSON(ctx context.Context, name string, raw []byte) Result {
	args := map[string]any{}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&args); err != nil {
			return Fail(KindValidation, fmt.Sprintf("arguments for %s are not a JSON object: %v", name, err))
		}
	}
	return r.Invoke(ctx, strings.TrimSpace(name), args)
}
