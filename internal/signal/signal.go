// Package signal reconstructs typed signals from the agent's loosely-typed
// event stream.
//
// The agent contract guarantees very little about where structure lives in
// an event, so extraction is a fixed, ordered list of probes: each rule
// inspects one known location and projects a typed signal when it matches.
// Adding support for a new agent build means adding a probe, not changing
// consumers.
package signal

// Signal is one typed observation extracted from an agent event.
type Signal interface {
	isSignal()
}

// TextDelta is a chunk of streamed answer text.
type TextDelta string

// ToolInvocation reports that the agent started a tool. An invocation of
// the run_sql tool carries the authoritative SQL for the request in its
// sql argument.
type ToolInvocation struct {
	Name string
	Args map[string]any
}

// ToolOutcome reports a finished tool invocation. Err is the tool's error
// text; outcomes are diagnostic and never abort the stream.
type ToolOutcome struct {
	Name     string
	Err      string
	Metadata map[string]any
}

// ChartPayload is a validated chart payload recovered from an event.
type ChartPayload map[string]any

func (TextDelta) isSignal()      {}
func (ToolInvocation) isSignal() {}
func (ToolOutcome) isSignal()    {}
func (ChartPayload) isSignal()   {}

// SQLToolName is the tool whose invocation carries authoritative SQL.
const SQLToolName = "run_sql"

// SQLArg is the run_sql argument holding the statement text.
const SQLArg = "sql"

// SQL returns the statement carried by a run_sql invocation, or "" when
// the invocation is not an authoritative SQL signal.
func (t ToolInvocation) SQL() string {
	if t.Name != SQLToolName {
		return ""
	}
	sql, _ := t.Args[SQLArg].(string)
	return sql
}
