package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"labpilot/database"
)

const defaultFilterLimit = 100

// FilterDataTool selects dataset rows matching a predicate expression.
type FilterDataTool struct {
	data *database.DataService
}

// NewFilterDataTool creates the filter_data tool
func NewFilterDataTool(data *database.DataService) *FilterDataTool {
	return &FilterDataTool{data: data}
}

func (t *FilterDataTool) Name() string {
	return "filter_data"
}

func (t *FilterDataTool) Desc() string {
	return "Filter rows of a registered dataset with a predicate expression, e.g. \"age > 40 AND region == 'east'\". Supported operators: ==, !=, >, >=, <, <=, contains, combined with AND/OR and parentheses."
}

func (t *FilterDataTool) Params() map[string]*schema.ParameterInfo {
	return map[string]*schema.ParameterInfo{
		"dataset_id": {
			Type:     schema.String,
			Desc:     "ID of the dataset to filter",
			Required: true,
		},
		"expression": {
			Type:     schema.String,
			Desc:     "Predicate expression over dataset columns",
			Required: true,
		},
		"limit": {
			Type: schema.Integer,
			Desc: "Maximum rows to return (default 100)",
		},
	}
}

func (t *FilterDataTool) Invoke(ctx context.Context, args map[string]interface{}) (*ToolOutcome, error) {
	datasetID := argString(args, "dataset_id")
	expr := argString(args, "expression")
	limit := argInt(args, "limit", defaultFilterLimit)
	if limit <= 0 || limit > 1000 {
		limit = defaultFilterLimit
	}

	table, err := t.data.Filter(datasetID, expr, limit)
	if err != nil {
		return nil, err
	}

	return &ToolOutcome{
		Text:  fmt.Sprintf("%d rows matched %q in dataset %s.", len(table.Rows), expr, datasetID),
		Table: table,
	}, nil
}

// AggregateDataTool computes a closed-form aggregation over a dataset.
type AggregateDataTool struct {
	data *database.DataService
}

// NewAggregateDataTool creates the aggregate_data tool
func NewAggregateDataTool(data *database.DataService) *AggregateDataTool {
	return &AggregateDataTool{data: data}
}

func (t *AggregateDataTool) Name() string {
	return "aggregate_data"
}

func (t *AggregateDataTool) Desc() string {
	return "Aggregate a dataset column with sum, mean, count, min or max, optionally grouped by another column and optionally pre-filtered."
}

func (t *AggregateDataTool) Params() map[string]*schema.ParameterInfo {
	return map[string]*schema.ParameterInfo{
		"dataset_id": {
			Type:     schema.String,
			Desc:     "ID of the dataset to aggregate",
			Required: true,
		},
		"column": {
			Type:     schema.String,
			Desc:     "Column to aggregate",
			Required: true,
		},
		"func": {
			Type:     schema.String,
			Desc:     "Aggregation function",
			Required: true,
			Enum:     []string{"sum", "mean", "count", "min", "max"},
		},
		"group_by": {
			Type: schema.String,
			Desc: "Optional column to group by",
		},
		"filter": {
			Type: schema.String,
			Desc: "Optional predicate applied before aggregating",
		},
	}
}

func (t *AggregateDataTool) Invoke(ctx context.Context, args map[string]interface{}) (*ToolOutcome, error) {
	req := database.AggregateRequest{
		DatasetID: argString(args, "dataset_id"),
		Column:    argString(args, "column"),
		Func:      argString(args, "func"),
		GroupBy:   argString(args, "group_by"),
		Filter:    argString(args, "filter"),
	}

	table, err := t.data.Aggregate(req)
	if err != nil {
		return nil, err
	}

	text := fmt.Sprintf("%s(%s) over dataset %s", req.Func, req.Column, req.DatasetID)
	if req.GroupBy != "" {
		text += fmt.Sprintf(" grouped by %s: %d groups", req.GroupBy, len(table.Rows))
	} else if len(table.Rows) == 1 && len(table.Rows[0]) == 1 {
		text += fmt.Sprintf(" = %v", table.Rows[0][0])
	}

	return &ToolOutcome{Text: text + ".", Table: table}, nil
}

// DescribeDataTool reports dataset schemas and summary statistics.
type DescribeDataTool struct {
	data *database.DataService
}

// NewDescribeDataTool creates the describe_data tool
func NewDescribeDataTool(data *database.DataService) *DescribeDataTool {
	return &DescribeDataTool{data: data}
}

func (t *DescribeDataTool) Name() string {
	return "describe_data"
}

func (t *DescribeDataTool) Desc() string {
	return "Describe a registered dataset: columns, types, row count and per-column statistics. Without dataset_id, lists all registered datasets."
}

func (t *DescribeDataTool) Params() map[string]*schema.ParameterInfo {
	return map[string]*schema.ParameterInfo{
		"dataset_id": {
			Type: schema.String,
			Desc: "ID of the dataset to describe; omit to list all datasets",
		},
		"columns": {
			Type: schema.String,
			Desc: "Optional comma-separated subset of columns to describe",
		},
	}
}

func (t *DescribeDataTool) Invoke(ctx context.Context, args map[string]interface{}) (*ToolOutcome, error) {
	datasetID := argString(args, "dataset_id")

	if datasetID == "" {
		datasets := t.data.List()
		if len(datasets) == 0 {
			return &ToolOutcome{Text: "No datasets are registered."}, nil
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "%d registered datasets:\n", len(datasets))
		for _, ds := range datasets {
			fmt.Fprintf(&sb, "- %s (%s): %d rows, %d columns\n", ds.ID, ds.Name, ds.RowCount, len(ds.Columns))
		}
		return &ToolOutcome{Text: sb.String()}, nil
	}

	var subset []string
	if raw := argString(args, "columns"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				subset = append(subset, name)
			}
		}
	}

	ds, err := t.data.Describe(datasetID, subset...)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Dataset %s (%s): %d rows.\n", ds.ID, ds.Name, ds.RowCount)
	table := &database.ResultTable{
		Columns: []string{"column", "type", "nulls", "unique", "min", "max", "mean"},
	}
	for _, col := range ds.Columns {
		st := ds.Stats[col.Name]
		table.Rows = append(table.Rows, []interface{}{
			col.Name, string(col.Type), st.NullCount, st.UniqueCount,
			floatOrNil(st.Min), floatOrNil(st.Max), floatOrNil(st.Mean),
		})
		fmt.Fprintf(&sb, "- %s (%s): %d nulls, %d unique", col.Name, col.Type, st.NullCount, st.UniqueCount)
		if st.Min != nil {
			fmt.Fprintf(&sb, ", min=%g, max=%g, mean=%g", *st.Min, *st.Max, *st.Mean)
		}
		if len(st.Samples) > 0 {
			fmt.Fprintf(&sb, ", samples=%v", st.Samples)
		}
		sb.WriteString("\n")
	}

	return &ToolOutcome{Text: sb.String(), Table: table}, nil
}

func floatOrNil(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}
