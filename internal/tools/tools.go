// Package tools defines the tools available to the agent.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cofina-ai/cofina-agent/internal/kb"
	"github.com/cofina-ai/cofina-agent/internal/products"
	"github.com/cofina-ai/cofina-agent/internal/store"
)

// Reported by tools whose backend was not wired at construction.
var (
	errNoDatabase  = errors.New("account database is not configured")
	errNoKnowledge = errors.New("knowledge base is not configured")
	errNoProducts  = errors.New("product search is not configured")
)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Registry holds available tools.
type Registry struct {
	tools    map[string]*Tool
	store    *store.Store
	products *products.Client
	kb       *kb.Store
}

// NewRegistry creates a tool registry. Any dependency may be nil; the
// affected tools then report that their backend is not configured.
func NewRegistry(db *store.Store, productClient *products.Client, knowledge *kb.Store) *Registry {
	r := &Registry{
		tools:    make(map[string]*Tool),
		store:    db,
		products: productClient,
		kb:       knowledge,
	}
	r.registerFinanceTools()
	r.registerTimeTools()
	r.registerAccountTools()
	r.registerProductTools()
	r.registerKnowledgeTools()
	return r
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// List returns all tools in the wire shape the model expects.
func (r *Registry) List() []map[string]any {
	var result []map[string]any
	for _, t := range r.tools {
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool by name with decoded arguments. A panicking
// handler is converted to an error; callers never see a panic.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (out string, err error) {
	tool := r.tools[name]
	if tool == nil {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	defer func() {
		if rec := recover(); rec != nil {
			out = ""
			err = fmt.Errorf("tool %s panicked: %v", name, rec)
		}
	}()
	return tool.Handler(ctx, args)
}

// toolJSON marshals a result for the model. Marshal failures surface
// as an error payload rather than an empty string.
func toolJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(data)
}

// Argument coercion helpers. The model sends JSON, so numbers arrive
// as float64 and may also show up as strings.

func floatArg(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

func floatArgDefault(args map[string]any, key string, def float64) float64 {
	if v, ok := floatArg(args, key); ok {
		return v
	}
	return def
}

func intArgDefault(args map[string]any, key string, def int) int {
	if v, ok := floatArg(args, key); ok {
		return int(v)
	}
	return def
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func stringArgDefault(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}
