// Package catalog holds the capability catalog: the immutable set of tool
// definitions the assistant may invoke. The catalog is built once at process
// start by concatenating per-domain slices and injected where needed; it is
// never mutated at request time.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/emanuele-galle/fodi-assistant/internal/permission"
)

// ToolContext carries the caller identity a tool executes on behalf of.
type ToolContext struct {
	UserID          string
	Role            string
	TenantOverrides map[string]bool
	PageHint        string
}

// Result is the uniform outcome every tool executor returns. It is the only
// contract tools must honor to be pluggable into the loop.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Ok builds a success result carrying data.
func Ok(data any) *Result {
	return &Result{Success: true, Data: data}
}

// Fail builds a failure result with a formatted message.
func Fail(format string, args ...any) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// JSON serializes the result for persistence and for feeding back to the
// model. Marshal of this shape cannot fail for the data types tools return;
// a marshal error is folded into an error payload rather than propagated.
func (r *Result) JSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":"unserializable tool result: %s"}`, err)
	}
	return string(b)
}

// Tool is a named, schema-described, permission-gated unit of work the model
// may invoke.
type Tool interface {
	// Name returns the unique tool name used for model function calling.
	Name() string

	// Description tells the model what the tool does.
	Description() string

	// Schema returns the JSON Schema for the tool's input.
	Schema() json.RawMessage

	// Module is the platform module the tool belongs to (tasks, crm, ...).
	Module() string

	// Permission is the action level required on Module (read or write).
	Permission() string

	// Execute runs the tool. Failures are reported through Result; a
	// returned error is treated identically to Result{Success:false}.
	Execute(ctx context.Context, input json.RawMessage, tc ToolContext) (*Result, error)
}

// Definition is a declarative Tool implementation. Domain packages assemble
// slices of definitions; the handler owns all business logic and side
// effects.
type Definition struct {
	ToolName        string
	ToolDescription string
	ToolModule      string
	ToolPermission  string
	InputSchema     json.RawMessage
	Handler         func(ctx context.Context, input json.RawMessage, tc ToolContext) (*Result, error)
}

func (d *Definition) Name() string            { return d.ToolName }
func (d *Definition) Description() string     { return d.ToolDescription }
func (d *Definition) Schema() json.RawMessage { return d.InputSchema }
func (d *Definition) Module() string          { return d.ToolModule }
func (d *Definition) Permission() string      { return d.ToolPermission }

func (d *Definition) Execute(ctx context.Context, input json.RawMessage, tc ToolContext) (*Result, error) {
	if d.Handler == nil {
		return Fail("tool %s has no handler", d.ToolName), nil
	}
	return d.Handler(ctx, input, tc)
}

// Catalog is the read-only tool registry. Registration order is preserved so
// the tool list sent to the model is deterministic.
type Catalog struct {
	gate  permission.Gate
	tools map[string]Tool
	order []string
}

// New builds a catalog from per-domain tool slices. Duplicate names keep the
// first registration.
func New(gate permission.Gate, slices ...[]Tool) *Catalog {
	c := &Catalog{
		gate:  gate,
		tools: make(map[string]Tool),
	}
	for _, tools := range slices {
		for _, tool := range tools {
			if _, exists := c.tools[tool.Name()]; exists {
				continue
			}
			c.tools[tool.Name()] = tool
			c.order = append(c.order, tool.Name())
		}
	}
	return c
}

// Find returns the tool with the given name, if registered.
func (c *Catalog) Find(name string) (Tool, bool) {
	tool, ok := c.tools[name]
	return tool, ok
}

// List returns the tools available to a role under the given tenant
// overrides. When enabled is non-empty, only names it contains are eligible.
// Filtering is pure; an empty result is valid and leaves the assistant
// text-only.
func (c *Catalog) List(role string, overrides map[string]bool, enabled []string) []Tool {
	var allow map[string]bool
	if len(enabled) > 0 {
		allow = make(map[string]bool, len(enabled))
		for _, name := range enabled {
			allow[name] = true
		}
	}

	var out []Tool
	for _, name := range c.order {
		if allow != nil && !allow[name] {
			continue
		}
		tool := c.tools[name]
		if c.gate != nil && !c.gate.HasPermission(role, tool.Module(), tool.Permission(), overrides) {
			continue
		}
		out = append(out, tool)
	}
	return out
}

// Len returns the number of registered tools.
func (c *Catalog) Len() int {
	return len(c.order)
}
