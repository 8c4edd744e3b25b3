// Package chart turns tabular query results into plotly-style chart
// payloads and persists chart artifacts.
//
// Payloads are plain JSON mappings rendered client-side; the same shape the
// agent emits when it charts a result itself, so consumers never care who
// produced a chart.
package chart

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/querylane/querylane/internal/sqlrunner"
)

// ErrNotChartable indicates the table has no shape a chart can be derived
// from (no rows, or no numeric column to plot).
var ErrNotChartable = errors.New("result not chartable")

// lineThreshold is the category count above which a bar chart becomes
// unreadable and a line chart is produced instead.
const lineThreshold = 12

// Generate derives a chart payload from a result table.
//
// The first column provides the category axis and the first numeric column
// after it the value axis. Small category counts produce a bar chart,
// larger ones a line chart. A single numeric column with no category column
// produces a histogram.
func Generate(table *sqlrunner.Table, title string) (map[string]any, error) {
	if table.Empty() {
		return nil, fmt.Errorf("%w: no rows", ErrNotChartable)
	}

	if len(table.Columns) == 1 {
		values, ok := numericColumn(table, 0)
		if !ok {
			return nil, fmt.Errorf("%w: single column is not numeric", ErrNotChartable)
		}
		return payload("histogram", map[string]any{
			"type": "histogram",
			"x":    values,
			"name": table.Columns[0],
		}, title, table.Columns[0], "count"), nil
	}

	yIdx := -1
	var yValues []float64
	for i := 1; i < len(table.Columns); i++ {
		if values, ok := numericColumn(table, i); ok {
			yIdx = i
			yValues = values
			break
		}
	}
	if yIdx == -1 {
		return nil, fmt.Errorf("%w: no numeric column", ErrNotChartable)
	}

	x := make([]string, len(table.Rows))
	for i, row := range table.Rows {
		x[i] = fmt.Sprint(row[0])
	}

	chartType := "bar"
	if len(x) > lineThreshold {
		chartType = "line"
	}

	trace := map[string]any{
		"x":    x,
		"y":    yValues,
		"name": table.Columns[yIdx],
	}
	if chartType == "line" {
		trace["type"] = "scatter"
		trace["mode"] = "lines+markers"
	} else {
		trace["type"] = "bar"
	}

	return payload(chartType, trace, title, table.Columns[0], table.Columns[yIdx]), nil
}

func payload(chartType string, trace map[string]any, title, xTitle, yTitle string) map[string]any {
	return map[string]any{
		"type": chartType,
		"data": []any{trace},
		"layout": map[string]any{
			"title": title,
			"xaxis": map[string]any{"title": xTitle},
			"yaxis": map[string]any{"title": yTitle},
		},
	}
}

// numericColumn extracts column idx as floats, reporting whether every
// non-nil value was numeric. Columns read back from CSV artifacts carry
// numbers as strings, so string parsing is part of the contract.
func numericColumn(table *sqlrunner.Table, idx int) ([]float64, bool) {
	values := make([]float64, 0, len(table.Rows))
	for _, row := range table.Rows {
		v := row[idx]
		if v == nil {
			values = append(values, 0)
			continue
		}
		f, ok := asFloat(v)
		if !ok {
			return nil, false
		}
		values = append(values, f)
	}
	return values, true
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		f, err := strconv.ParseFloat(fmt.Sprint(v), 64)
		return f, err == nil
	}
}
