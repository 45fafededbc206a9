package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cloudwego/eino/schema"

	"labpilot/database"
)

// maxObservationBytes caps what a single tool result feeds back to the
// model. Bigger payloads are truncated with a marker.
const maxObservationBytes = 8 * 1024

// defaultMaxTableRows caps the Table attachment of a tool result.
const defaultMaxTableRows = 100

// ToolResult is the classified outcome of one dispatched call. Errors are
// observations, not failures: the model sees them and may recover.
type ToolResult struct {
	CallID      string                `json:"call_id"`
	Name        string                `json:"name"`
	OK          bool                  `json:"ok"`
	Kind        ErrorKind             `json:"kind,omitempty"`
	Observation string                `json:"observation"`
	Table       *database.ResultTable `json:"table,omitempty"`
	Plot        *PlotSpec             `json:"plot,omitempty"`
}

// ToolRegistry holds the agent's tools and dispatches model tool calls.
type ToolRegistry struct {
	mu           sync.RWMutex
	tools        map[string]Tool
	order        []string
	maxTableRows int
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool), maxTableRows: defaultMaxTableRows}
}

// SetMaxTableRows overrides the row cap applied to Table attachments.
func (r *ToolRegistry) SetMaxTableRows(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > 0 {
		r.maxTableRows = n
	}
}

// Register adds a tool. Re-registering a name replaces the tool.
func (r *ToolRegistry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Names returns registered tool names in registration order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Infos returns the eino tool descriptions for binding to a model.
func (r *ToolRegistry) Infos() []*schema.ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]*schema.ToolInfo, 0, len(r.order))
	for _, name := range r.order {
		infos = append(infos, toolInfo(r.tools[name]))
	}
	return infos
}

// Dispatch runs one tool call and returns a classified result. Dispatch
// never returns an error: every failure becomes an observation carrying its
// taxonomy kind.
func (r *ToolRegistry) Dispatch(ctx context.Context, call schema.ToolCall) ToolResult {
	name := call.Function.Name

	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return ToolResult{
			CallID:      call.ID,
			Name:        name,
			Kind:        KindUnknownTool,
			Observation: fmt.Sprintf("error (%s): no tool named %q is registered; available tools: %v", KindUnknownTool, name, r.Names()),
		}
	}

	args, err := decodeArgs(t, call.Function.Arguments)
	if err != nil {
		return r.errorResult(call.ID, name, err)
	}

	outcome, err := t.Invoke(ctx, args)
	if err != nil {
		return r.errorResult(call.ID, name, err)
	}

	result := ToolResult{
		CallID:      call.ID,
		Name:        name,
		OK:          true,
		Observation: truncateObservation(outcome.Text),
		Table:       r.capTable(outcome.Table),
		Plot:        outcome.Plot,
	}
	return result
}

// capTable bounds a table attachment to the preview row limit. A capped
// table is a copy; the tool's own result is not touched.
func (r *ToolRegistry) capTable(t *database.ResultTable) *database.ResultTable {
	r.mu.RLock()
	max := r.maxTableRows
	r.mu.RUnlock()
	if t == nil || len(t.Rows) <= max {
		return t
	}
	return &database.ResultTable{Columns: t.Columns, Rows: t.Rows[:max]}
}

func (r *ToolRegistry) errorResult(callID, name string, err error) ToolResult {
	kind := ClassifyError(err)
	return ToolResult{
		CallID:      callID,
		Name:        name,
		Kind:        kind,
		Observation: truncateObservation(fmt.Sprintf("error (%s): %v", kind, err)),
	}
}

// truncateObservation caps the text payload, keeping a marker so the model
// knows content was cut.
func truncateObservation(s string) string {
	if len(s) <= maxObservationBytes {
		return s
	}
	return s[:maxObservationBytes] + "\n... [truncated]"
}

// SortedNames returns tool names alphabetically (for logs).
func (r *ToolRegistry) SortedNames() []string {
	names := r.Names()
	sort.Strings(names)
	return names
}
