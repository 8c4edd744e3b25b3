package agent

// Event is one item from the agent's stream. All fields are optional; an
// event usually carries a text delta, a tool lifecycle notice, or a chart
// payload in one of several historical locations.
type Event struct {
	// Delta is a chunk of streamed answer text.
	Delta string

	// ToolCall reports a tool invocation the agent started.
	ToolCall *ToolCall

	// ToolResult reports a finished tool invocation.
	ToolResult *ToolResult

	// UI is a container component whose children may carry chart data.
	UI *Component

	// Components are top-level UI components attached to the event.
	Components []Component

	// ChartData is a chart payload attached directly to the event.
	ChartData map[string]any

	// Attrs are loosely-typed event attributes. Chart payloads have been
	// observed under plotly_chart, chart, figure, plotly_figure and plotly.
	Attrs map[string]any

	// Raw is set when the agent emitted a bare mapping instead of a
	// structured event.
	Raw map[string]any

	// Err terminates the stream with a failure.
	Err error
}

// ToolCall describes a tool invocation with its arguments.
type ToolCall struct {
	Name string
	Args map[string]any
}

// ToolResult describes a finished tool invocation. Err is the tool's error
// text, empty on success. Metadata carries tool-specific result values.
type ToolResult struct {
	Name     string
	Err      string
	Metadata map[string]any
}

// Figurer is implemented by component figure objects that can render
// themselves as a plotly payload.
type Figurer interface {
	PlotlyJSON() map[string]any
}

// Component is a UI component emitted by the agent. Chart-bearing
// components have been seen under the names "Chart" and "chart", with the
// payload in ChartData, behind a Figure conversion, or in Data.
type Component struct {
	Name      string
	ChartData map[string]any
	Figure    Figurer
	Data      map[string]any
	Children  []Component
}
