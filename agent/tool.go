package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"labpilot/database"
)

// PlotSpec is a declarative chart description. Rendering happens in the
// frontend; the agent only decides what to draw.
type PlotSpec struct {
	Type   string        `json:"type"` // bar, pie, line, scatter, histogram, box
	Title  string        `json:"title,omitempty"`
	XLabel string        `json:"x_label,omitempty"`
	YLabel string        `json:"y_label,omitempty"`
	X      []interface{} `json:"x"`
	Y      []float64     `json:"y"`
}

// ToolOutcome is the structured result of one tool invocation. Text is what
// the model sees; Table and Plot ride alongside for the user-facing answer.
type ToolOutcome struct {
	Text  string                `json:"text"`
	Table *database.ResultTable `json:"table,omitempty"`
	Plot  *PlotSpec             `json:"plot,omitempty"`
}

// Tool is one registered capability. Invoke receives arguments already
// decoded and validated against the tool's parameter schema.
type Tool interface {
	Name() string
	Desc() string
	Params() map[string]*schema.ParameterInfo
	Invoke(ctx context.Context, args map[string]interface{}) (*ToolOutcome, error)
}

// toolInfo builds the eino ToolInfo for a Tool.
func toolInfo(t Tool) *schema.ToolInfo {
	return &schema.ToolInfo{
		Name:        t.Name(),
		Desc:        t.Desc(),
		ParamsOneOf: schema.NewParamsOneOfByParams(t.Params()),
	}
}

// decodeArgs parses the raw JSON arguments and validates them against the
// parameter schema: required fields present, types matching, enums honored.
// Violations come back as ValidationError naming the offending field.
func decodeArgs(t Tool, argumentsJSON string) (map[string]interface{}, error) {
	args := map[string]interface{}{}
	if argumentsJSON != "" {
		if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
			return nil, ToolErrorf(KindValidationError, "arguments are not valid JSON: %v", err)
		}
	}

	params := t.Params()
	for name, info := range params {
		val, present := args[name]
		if !present {
			if info.Required {
				return nil, ToolErrorf(KindValidationError, "missing required field %q", name)
			}
			continue
		}
		if err := checkParamType(name, info, val); err != nil {
			return nil, err
		}
	}
	for name := range args {
		if _, known := params[name]; !known {
			return nil, ToolErrorf(KindValidationError, "unexpected field %q", name)
		}
	}
	return args, nil
}

func checkParamType(name string, info *schema.ParameterInfo, val interface{}) error {
	switch info.Type {
	case schema.String:
		s, ok := val.(string)
		if !ok {
			return ToolErrorf(KindValidationError, "field %q must be a string", name)
		}
		if len(info.Enum) > 0 {
			for _, allowed := range info.Enum {
				if s == allowed {
					return nil
				}
			}
			return ToolErrorf(KindValidationError, "field %q must be one of %v", name, info.Enum)
		}
	case schema.Number:
		if _, ok := val.(float64); !ok {
			return ToolErrorf(KindValidationError, "field %q must be a number", name)
		}
	case schema.Integer:
		f, ok := val.(float64)
		if !ok || f != math.Trunc(f) {
			return ToolErrorf(KindValidationError, "field %q must be an integer", name)
		}
	case schema.Boolean:
		if _, ok := val.(bool); !ok {
			return ToolErrorf(KindValidationError, "field %q must be a boolean", name)
		}
	}
	return nil
}

// argString reads an optional string argument.
func argString(args map[string]interface{}, name string) string {
	if v, ok := args[name].(string); ok {
		return v
	}
	return ""
}

// argInt reads an optional integer argument with a default.
func argInt(args map[string]interface{}, name string, def int) int {
	if v, ok := args[name].(float64); ok {
		return int(v)
	}
	return def
}

// einoTool adapts a Tool to eino's InvokableTool so the registry's tools can
// also be bound into eino pipelines directly.
type einoTool struct {
	inner Tool
}

// WrapTool exposes a registry tool as an eino InvokableTool.
func WrapTool(t Tool) tool.InvokableTool {
	return &einoTool{inner: t}
}

func (e *einoTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return toolInfo(e.inner), nil
}

func (e *einoTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	args, err := decodeArgs(e.inner, argumentsInJSON)
	if err != nil {
		return "", err
	}
	outcome, err := e.inner.Invoke(ctx, args)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(outcome)
	if err != nil {
		return "", fmt.Errorf("failed to encode tool outcome: %w", err)
	}
	return string(data), nil
}
