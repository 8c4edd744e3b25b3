package signal

import (
	"github.com/querylane/querylane/internal/agent"
)

// chartTypes are the chart type markers accepted by payload validation
// when neither a data nor a layout key is present.
var chartTypes = map[string]struct{}{
	"bar":       {},
	"line":      {},
	"scatter":   {},
	"pie":       {},
	"histogram": {},
}

// ValidChart reports whether a candidate mapping is a plausible chart
// payload: it must carry a data or layout key, or name a known chart type.
func ValidChart(m map[string]any) bool {
	if m == nil {
		return false
	}
	if _, ok := m["data"]; ok {
		return true
	}
	if _, ok := m["layout"]; ok {
		return true
	}
	if typ, ok := m["type"].(string); ok {
		_, known := chartTypes[typ]
		return known
	}
	return false
}

// rule is one extraction probe: a predicate over the event and a projector
// producing the typed signals for a match.
type rule struct {
	name    string
	applies func(agent.Event) bool
	project func(agent.Event) []Signal
}

// rules are evaluated in order for every event. Order matters only within
// a concern (the chart probes); across concerns every matching rule fires.
var rules = []rule{
	{
		name:    "text",
		applies: func(ev agent.Event) bool { return ev.Delta != "" },
		project: func(ev agent.Event) []Signal {
			return []Signal{TextDelta(ev.Delta)}
		},
	},
	{
		name:    "tool_call",
		applies: func(ev agent.Event) bool { return ev.ToolCall != nil && ev.ToolCall.Name != "" },
		project: func(ev agent.Event) []Signal {
			return []Signal{ToolInvocation{Name: ev.ToolCall.Name, Args: ev.ToolCall.Args}}
		},
	},
	{
		name:    "tool_result",
		applies: func(ev agent.Event) bool { return ev.ToolResult != nil && ev.ToolResult.Err != "" },
		project: func(ev agent.Event) []Signal {
			return []Signal{ToolOutcome{
				Name:     ev.ToolResult.Name,
				Err:      ev.ToolResult.Err,
				Metadata: ev.ToolResult.Metadata,
			}}
		},
	},
	{
		name:    "chart",
		applies: func(ev agent.Event) bool { return true },
		project: func(ev agent.Event) []Signal {
			if chart := probeChart(ev); chart != nil {
				return []Signal{ChartPayload(chart)}
			}
			return nil
		},
	},
}

// Extract projects all typed signals carried by one event.
func Extract(ev agent.Event) []Signal {
	var out []Signal
	for _, r := range rules {
		if !r.applies(ev) {
			continue
		}
		out = append(out, r.project(ev)...)
	}
	return out
}

// chartAttrs is the attribute probe order for chart payloads.
var chartAttrs = []string{"plotly_chart", "chart", "figure", "plotly_figure", "plotly"}

// probeChart searches the known chart payload locations in priority order
// and returns the first candidate that validates. Candidates that fail
// validation do not stop the search.
func probeChart(ev agent.Event) map[string]any {
	// 1. Tool result metadata, newest agent builds first.
	if ev.ToolResult != nil {
		for _, key := range []string{"chart", "plotly_figure"} {
			if chart := asChart(ev.ToolResult.Metadata[key]); chart != nil {
				return chart
			}
		}
	}

	// 2. UI container sub-components.
	if ev.UI != nil {
		for _, child := range ev.UI.Children {
			if chart := componentChart(child); chart != nil {
				return chart
			}
		}
	}

	// 3. Top-level chart components, capitalized name before lowercase.
	for _, name := range []string{"Chart", "chart"} {
		for _, comp := range ev.Components {
			if comp.Name != name {
				continue
			}
			if chart := componentChart(comp); chart != nil {
				return chart
			}
		}
	}

	// 4. Direct chart data on the event.
	if ValidChart(ev.ChartData) {
		return ev.ChartData
	}

	// 5. Loosely-typed attributes.
	for _, key := range chartAttrs {
		if chart := asChart(ev.Attrs[key]); chart != nil {
			return chart
		}
	}

	// 6. The event itself as a bare mapping.
	if ValidChart(ev.Raw) {
		return ev.Raw
	}

	return nil
}

// componentChart probes one component: explicit chart data, then the
// figure conversion, then generic data.
func componentChart(comp agent.Component) map[string]any {
	if ValidChart(comp.ChartData) {
		return comp.ChartData
	}
	if comp.Figure != nil {
		if chart := comp.Figure.PlotlyJSON(); ValidChart(chart) {
			return chart
		}
	}
	if ValidChart(comp.Data) {
		return comp.Data
	}
	return nil
}

func asChart(v any) map[string]any {
	m, ok := v.(map[string]any)
	if !ok || !ValidChart(m) {
		return nil
	}
	return m
}
