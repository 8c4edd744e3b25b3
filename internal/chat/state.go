package chat

import (
	"strings"
	"time"
)

// Request is one incoming question with its resolved identity.
type Request struct {
	Question     string `json:"question"`
	User         string `json:"user"`
	Conversation string `json:"conversation"`
	Username     string `json:"username"`
}

// Response is the terminal result of a request. Success reports the tool
// execution outcome, not stream health: a plain-text answer with no
// executed query carries false. SQL and ResultURL are pointers so absent
// values serialize as null rather than "".
type Response struct {
	Answer         string         `json:"answer"`
	SQL            *string        `json:"sql"`
	ResultURL      *string        `json:"result_url"`
	Chart          map[string]any `json:"chart,omitempty"`
	ChartID        string         `json:"chart_id,omitempty"`
	Success        bool           `json:"success"`
	ToolUsed       bool           `json:"tool_used"`
	ChartGenerated bool           `json:"chart_generated"`
	ChartSource    string         `json:"chart_source,omitempty"`
	User           string         `json:"user"`
	Conversation   string         `json:"conversation"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Chart provenance values.
const (
	ChartSourceAgent     = "agent"
	ChartSourceGenerated = "generated"
)

// state is the per-request accumulator. Owned by a single orchestrator
// invocation, never shared.
type state struct {
	answer strings.Builder

	sql         string
	chart       map[string]any
	chartSource string
	chartID     string

	resultFile string

	toolUsed       bool
	toolSucceeded  bool
	chartRecovered bool
	failed         bool
}

// setSQL records the statement if none was captured yet. First capture wins.
func (st *state) setSQL(sql string) bool {
	if st.sql != "" || strings.TrimSpace(sql) == "" {
		return false
	}
	st.sql = sql
	return true
}

// setChart records the payload if none was captured yet. First valid
// capture wins.
func (st *state) setChart(payload map[string]any, source string) bool {
	if st.chart != nil || payload == nil {
		return false
	}
	st.chart = payload
	st.chartSource = source
	return true
}
