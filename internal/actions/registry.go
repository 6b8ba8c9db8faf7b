// Package actions holds the closed set of action kinds a workflow can run. Each kind decodes
// its own typed params, which are checked against a JSON schema both when a workflow is saved
// and before the action executes.
package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dmayes77/clientflow/pkg/clientflow/domain"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// Request is what a handler gets to work with: its own params and the run's frozen trigger snapshot.
type Request struct {
	RunID        string
	WorkflowID   string
	TenantID     string
	TriggerEvent string
	Params       json.RawMessage
	Snapshot     domain.TriggerContext
}

type Handler interface {
	Type() domain.ActionType
	// Schema returns the JSON schema the params must satisfy.
	Schema() string
	Execute(ctx context.Context, req Request) error
}

type registered struct {
	handler Handler
	schema  *jsonschema.Schema
}

// Registry maps action types to handlers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.ActionType]registered
}

func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[domain.ActionType]registered)}
	for _, h := range handlers {
		if err := r.Register(h); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register compiles the handler's schema and adds it. Registering a type twice is an error.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("register action: handler is nil")
	}
	compiled, err := compileSchema(h.Type(), h.Schema())
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[h.Type()]; exists {
		return fmt.Errorf("action %q already registered", h.Type())
	}
	r.handlers[h.Type()] = registered{handler: h, schema: compiled}
	return nil
}

func (r *Registry) lookup(t domain.ActionType) (registered, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.handlers[t]
	if !ok {
		return registered{}, fmt.Errorf("%w: %q", domain.ErrUnknownAction, t)
	}
	return reg, nil
}

// Types lists the registered action types, sorted.
func (r *Registry) Types() []domain.ActionType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ActionType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate checks that spec names a known action and that its params satisfy the schema.
func (r *Registry) Validate(spec domain.ActionSpec) error {
	reg, err := r.lookup(spec.Type)
	if err != nil {
		return err
	}
	return validateParams(reg.schema, spec.Params)
}

// Execute validates the params of spec and runs its handler.
func (r *Registry) Execute(ctx context.Context, spec domain.ActionSpec, req Request) error {
	reg, err := r.lookup(spec.Type)
	if err != nil {
		return err
	}
	if err := validateParams(reg.schema, spec.Params); err != nil {
		return err
	}
	req.Params = spec.Params
	return reg.handler.Execute(ctx, req)
}

func compileSchema(t domain.ActionType, schemaJSON string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema for %s: %w", t, err)
	}
	url := fmt.Sprintf("clientflow://actions/%s.json", t)
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource for %s: %w", t, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", t, err)
	}
	return compiled, nil
}

func validateParams(s *jsonschema.Schema, params json.RawMessage) error {
	raw := string(params)
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("invalid params: %s", violations(err))
	}
	return nil
}

// violations flattens a schema validation error into "location: message" leaves.
func violations(err error) string {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	var out []string
	var walk func(v *jsonschema.ValidationError)
	walk = func(v *jsonschema.ValidationError) {
		if len(v.Causes) == 0 {
			loc := "/" + strings.Join(v.InstanceLocation, "/")
			out = append(out, fmt.Sprintf("%s: %s", loc, v.Error()))
			return
		}
		for _, c := range v.Causes {
			walk(c)
		}
	}
	walk(verr)
	return strings.Join(out, "; ")
}

// decodeParams unmarshals raw params into the handler's typed params.
func decodeParams[T any](raw json.RawMessage) (T, error) {
	var p T
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode params: %w", err)
	}
	return p, nil
}
