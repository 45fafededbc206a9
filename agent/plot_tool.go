package agent

import (
	"context"
	"fmt"
	"sort"

	"github.com/cloudwego/eino/schema"

	"labpilot/database"
)

const histogramBins = 10

// GeneratePlotTool builds a declarative chart spec from a dataset. Bar and pie
// charts aggregate y per x category; histograms bin a numeric column; box
// charts summarize a numeric column; line and scatter plot raw pairs.
type GeneratePlotTool struct {
	data *database.DataService
}

// NewGeneratePlotTool creates the generate_plot tool
func NewGeneratePlotTool(data *database.DataService) *GeneratePlotTool {
	return &GeneratePlotTool{data: data}
}

func (t *GeneratePlotTool) Name() string {
	return "generate_plot"
}

func (t *GeneratePlotTool) Desc() string {
	return "Generate a chart from a dataset. bar: mean of y per x category, or counts per x category when y is omitted. pie: sum of y per x category, or counts when y is omitted. line/scatter: raw x/y pairs. histogram: distribution of the x column (y not used). box: five-number summary of the x column, or raw x/y pairs for per-category boxes when y is given."
}

func (t *GeneratePlotTool) Params() map[string]*schema.ParameterInfo {
	return map[string]*schema.ParameterInfo{
		"dataset_id": {
			Type:     schema.String,
			Desc:     "ID of the dataset to plot",
			Required: true,
		},
		"plot_type": {
			Type:     schema.String,
			Desc:     "Chart type",
			Required: true,
			Enum:     []string{"bar", "pie", "line", "scatter", "histogram", "box"},
		},
		"x": {
			Type:     schema.String,
			Desc:     "Column for the x axis",
			Required: true,
		},
		"y": {
			Type: schema.String,
			Desc: "Numeric column for the y axis (required for line and scatter; optional elsewhere)",
		},
		"title": {
			Type: schema.String,
			Desc: "Optional chart title",
		},
	}
}

func (t *GeneratePlotTool) Invoke(ctx context.Context, args map[string]interface{}) (*ToolOutcome, error) {
	datasetID := argString(args, "dataset_id")
	plotType := argString(args, "plot_type")
	xCol := argString(args, "x")
	yCol := argString(args, "y")
	title := argString(args, "title")

	ds, err := t.data.Describe(datasetID)
	if err != nil {
		return nil, err
	}

	colTypes := make(map[string]database.ColumnType, len(ds.Columns))
	colIndex := make(map[string]int, len(ds.Columns))
	for i, col := range ds.Columns {
		colTypes[col.Name] = col.Type
		colIndex[col.Name] = i
	}

	if _, ok := colTypes[xCol]; !ok {
		return nil, &database.SchemaError{Detail: fmt.Sprintf("unknown column %q", xCol)}
	}
	if yCol == "" && (plotType == "line" || plotType == "scatter") {
		return nil, ToolErrorf(KindValidationError, "missing required field %q for plot type %q", "y", plotType)
	}
	if yCol != "" && plotType != "histogram" {
		yType, ok := colTypes[yCol]
		if !ok {
			return nil, &database.SchemaError{Detail: fmt.Sprintf("unknown column %q", yCol)}
		}
		if yType != database.ColumnInteger && yType != database.ColumnReal {
			return nil, &database.SchemaError{Detail: fmt.Sprintf("y column %q must be numeric, but is %s", yCol, yType)}
		}
	}

	var spec *PlotSpec
	switch plotType {
	case "bar", "pie":
		spec, err = t.categorySpec(plotType, datasetID, xCol, yCol)
	case "histogram":
		spec, err = t.histogramSpec(datasetID, xCol, colTypes[xCol], colIndex[xCol])
	case "box":
		if yCol != "" {
			// Raw pairs; the renderer groups the boxes per x category.
			spec, err = t.pairSpec("box", datasetID, xCol, yCol, colIndex)
		} else {
			spec, err = t.boxSpec(datasetID, xCol, colTypes[xCol], colIndex[xCol])
		}
	default: // line, scatter
		spec, err = t.pairSpec(plotType, datasetID, xCol, yCol, colIndex)
	}
	if err != nil {
		return nil, err
	}

	spec.Title = title
	if spec.Title == "" {
		spec.Title = fmt.Sprintf("%s of %s", plotType, ds.Name)
	}

	return &ToolOutcome{
		Text: fmt.Sprintf("Generated %s chart with %d points from dataset %s.", plotType, len(spec.Y), datasetID),
		Plot: spec,
	}, nil
}

// categorySpec aggregates one value per x category. Without a y column it
// falls back to counting the rows in each category.
func (t *GeneratePlotTool) categorySpec(plotType, datasetID, xCol, yCol string) (*PlotSpec, error) {
	aggFunc := "mean"
	if plotType == "pie" {
		aggFunc = "sum"
	}
	valueCol := yCol
	yLabel := fmt.Sprintf("%s %s", aggFunc, yCol)
	if yCol == "" {
		aggFunc = "count"
		valueCol = xCol
		yLabel = "count"
	}
	table, err := t.data.Aggregate(database.AggregateRequest{
		DatasetID: datasetID,
		Column:    valueCol,
		Func:      aggFunc,
		GroupBy:   xCol,
	})
	if err != nil {
		return nil, err
	}

	spec := &PlotSpec{Type: plotType, XLabel: xCol, YLabel: yLabel}
	for _, row := range table.Rows {
		spec.X = append(spec.X, row[0])
		spec.Y = append(spec.Y, toFloat(row[1]))
	}
	return spec, nil
}

func (t *GeneratePlotTool) pairSpec(plotType, datasetID, xCol, yCol string, colIndex map[string]int) (*PlotSpec, error) {
	_, rows, err := t.data.Rows(datasetID)
	if err != nil {
		return nil, err
	}

	xi, yi := colIndex[xCol], colIndex[yCol]
	spec := &PlotSpec{Type: plotType, XLabel: xCol, YLabel: yCol}
	for _, row := range rows {
		if row[xi] == nil || row[yi] == nil {
			continue
		}
		spec.X = append(spec.X, row[xi])
		spec.Y = append(spec.Y, toFloat(row[yi]))
	}
	return spec, nil
}

func (t *GeneratePlotTool) histogramSpec(datasetID, xCol string, xType database.ColumnType, xi int) (*PlotSpec, error) {
	if xType != database.ColumnInteger && xType != database.ColumnReal {
		return nil, &database.SchemaError{Detail: fmt.Sprintf("histogram requires a numeric column, but %q is %s", xCol, xType)}
	}

	_, rows, err := t.data.Rows(datasetID)
	if err != nil {
		return nil, err
	}

	var values []float64
	for _, row := range rows {
		if row[xi] == nil {
			continue
		}
		values = append(values, toFloat(row[xi]))
	}

	spec := &PlotSpec{Type: "histogram", XLabel: xCol, YLabel: "count"}
	if len(values) == 0 {
		return spec, nil
	}

	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	bins := histogramBins
	if min == max {
		bins = 1
	}
	width := (max - min) / float64(bins)
	counts := make([]float64, bins)
	for _, v := range values {
		idx := bins - 1
		if width > 0 {
			idx = int((v - min) / width)
			if idx >= bins {
				idx = bins - 1
			}
		} else {
			idx = 0
		}
		counts[idx]++
	}

	for i := 0; i < bins; i++ {
		lo := min + float64(i)*width
		hi := lo + width
		spec.X = append(spec.X, fmt.Sprintf("[%.3g, %.3g)", lo, hi))
	}
	spec.Y = counts
	return spec, nil
}

func (t *GeneratePlotTool) boxSpec(datasetID, xCol string, xType database.ColumnType, xi int) (*PlotSpec, error) {
	if xType != database.ColumnInteger && xType != database.ColumnReal {
		return nil, &database.SchemaError{Detail: fmt.Sprintf("box requires a numeric column, but %q is %s", xCol, xType)}
	}

	_, rows, err := t.data.Rows(datasetID)
	if err != nil {
		return nil, err
	}

	var values []float64
	for _, row := range rows {
		if row[xi] == nil {
			continue
		}
		values = append(values, toFloat(row[xi]))
	}

	spec := &PlotSpec{Type: "box", XLabel: xCol, YLabel: xCol}
	if len(values) == 0 {
		return spec, nil
	}

	sort.Float64s(values)
	spec.X = []interface{}{"min", "q1", "median", "q3", "max"}
	spec.Y = []float64{
		values[0],
		quantile(values, 0.25),
		quantile(values, 0.5),
		quantile(values, 0.75),
		values[len(values)-1],
	}
	return spec, nil
}

// quantile interpolates linearly between the two nearest ranks of a sorted slice.
func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

func toFloat(v interface{}) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int64:
		return float64(val)
	default:
		return 0
	}
}
