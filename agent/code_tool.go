package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// RunCodeTool executes a short analysis snippet in the sandbox against one
// dataset loaded as the dataframe `df`.
type RunCodeTool struct {
	data    dataRowSource
	sandbox *Sandbox
}

// dataRowSource is the slice of the dataset registry the code tool needs.
type dataRowSource interface {
	Rows(id string) ([]string, [][]interface{}, error)
}

// NewRunCodeTool creates the run_code tool
func NewRunCodeTool(data dataRowSource, sandbox *Sandbox) *RunCodeTool {
	return &RunCodeTool{data: data, sandbox: sandbox}
}

func (t *RunCodeTool) Name() string {
	return "run_code"
}

func (t *RunCodeTool) Desc() string {
	return "Run a short Python snippet against one dataset, available as the pandas DataFrame `df` (pd, np and math are preloaded; imports are not allowed). Assign the answer to a variable named `result`. Call emit_table(frame) to attach a table to the answer, or plot_spec(type, x, y, title, x_label, y_label) to attach a chart. Prefer filter_data, aggregate_data, describe_data and generate_plot; use run_code only when they cannot express the request."
}

func (t *RunCodeTool) Params() map[string]*schema.ParameterInfo {
	return map[string]*schema.ParameterInfo{
		"dataset_id": {
			Type:     schema.String,
			Desc:     "ID of the dataset exposed as df",
			Required: true,
		},
		"code": {
			Type:     schema.String,
			Desc:     "Python snippet; assign the final value to `result`",
			Required: true,
		},
	}
}

func (t *RunCodeTool) Invoke(ctx context.Context, args map[string]interface{}) (*ToolOutcome, error) {
	datasetID := argString(args, "dataset_id")
	code := argString(args, "code")

	columns, rows, err := t.data.Rows(datasetID)
	if err != nil {
		return nil, err
	}

	res, err := t.sandbox.Run(ctx, code, columns, rows)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	resultJSON, encErr := json.Marshal(res.Result)
	if encErr != nil {
		resultJSON = []byte(fmt.Sprintf("%q", fmt.Sprintf("%v", res.Result)))
	}
	fmt.Fprintf(&sb, "result: %s", resultJSON)
	if strings.TrimSpace(res.Stdout) != "" {
		fmt.Fprintf(&sb, "\nstdout:\n%s", res.Stdout)
	}

	return &ToolOutcome{Text: sb.String(), Table: res.Table, Plot: res.Plot}, nil
}
