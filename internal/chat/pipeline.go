package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/querylane/querylane/internal/chart"
	"github.com/querylane/querylane/internal/signal"
)

// visualizationMarkers are the fixed phrases the agent emits after it has
// produced a visualization. Recovery fires only on these, not on every
// answer that merely mentions a chart.
var visualizationMarkers = []string{
	"created visualization",
	"created a visualization",
	"visualization created",
}

// finalize runs the post-stream side-effect pipeline and builds the
// terminal response. Every branch is fail-soft: a failing side effect is
// logged and the pipeline moves on. The turn is always persisted.
func (o *Orchestrator) finalize(ctx context.Context, req Request, st *state, baseline string, em Emitter, logger *slog.Logger) *Response {
	answer := st.answer.String()

	// 1. Freshness probe: a result artifact younger than the window that
	// was not there before the stream means the agent executed something,
	// whether or not a tool invocation was observed.
	after, ok := o.deps.Results.LatestFresh()
	newArtifact := ok && after != baseline

	switch {
	case newArtifact:
		st.resultFile = after
		st.toolUsed = true
		st.toolSucceeded = true

		if st.sql != "" {
			// Re-execute for a reproducible artifact. The agent's artifact
			// already proves the query worked, so a re-execution failure
			// still counts as success.
			o.rematerialize(ctx, st, logger)
			o.recordQueryFeedback(ctx, req, st, true)
		} else if sql := signal.ExtractSQLFromText(answer); sql != "" {
			if st.setSQL(sql) {
				o.emit(em.SQL(sql))
			}
			o.recordQueryFeedback(ctx, req, st, true)
		} else if o.deps.Learning != nil {
			// Something executed but nothing identifies the statement.
			o.deps.Learning.RecordToolUsage(ctx, "agent_execution", true)
		}

	case st.sql != "" && o.deps.Runner != nil:
		// 2. SQL captured but no artifact: execute it ourselves.
		table, err := o.deps.Runner.Run(ctx, st.sql)
		if err != nil {
			logger.Warn("captured SQL failed to execute", "error", err)
			st.failed = true
			o.recordQueryFeedback(ctx, req, st, false)
			break
		}

		st.toolUsed = true
		st.toolSucceeded = true
		if name, err := o.deps.Results.Materialize(st.sql, table); err != nil {
			logger.Warn("failed to materialize result", "error", err)
		} else {
			st.resultFile = name
		}
		o.recordQueryFeedback(ctx, req, st, true)

		if st.chart == nil {
			if payload, err := chart.Generate(table, req.Question); err == nil {
				st.setChart(payload, ChartSourceGenerated)
			}
		}
	}

	// Result attribution from the answer text: the agent often names the
	// CSV it wrote. A named file that actually exists stands in for an
	// artifact even when neither branch above attributed one.
	if st.resultFile == "" {
		if name := signal.ExtractResultFilename(answer); name != "" && o.deps.Results.Exists(name) {
			st.resultFile = name
		}
	}

	// 3. Chart recovery: the answer carries a visualization marker, an
	// artifact exists, but no chart was captured.
	if st.chart == nil && st.resultFile != "" && mentionsVisualization(answer) {
		if table, err := o.deps.Results.ReadTable(st.resultFile); err != nil {
			logger.Warn("failed to load result for chart recovery", "file", st.resultFile, "error", err)
		} else if payload, err := chart.Generate(table, req.Question); err == nil {
			st.setChart(payload, ChartSourceGenerated)
			st.chartRecovered = true
		}
	}

	// 4. Chart materialization.
	if st.chart != nil && o.deps.Charts != nil {
		if id, err := o.deps.Charts.Save(st.chart); err != nil {
			logger.Warn("failed to persist chart", "error", err)
		} else {
			st.chartID = id
		}
	}

	// 5. Last-resort SQL recovery from the answer text.
	if st.sql == "" {
		if sql := signal.ExtractSQLFromText(answer); st.setSQL(sql) {
			o.emit(em.SQL(sql))
		}
	}

	if st.resultFile != "" {
		o.emit(em.Result(o.deps.Results.URL(st.resultFile)))
	}

	resp := o.buildResponse(req, st, answer)

	// 6. Always persist the turn, whatever happened above.
	o.deps.Store.AppendTurn(ctx, req.User, req.Conversation, req.Question, answer, req.Username, turnMetadata(st, resp))

	return resp
}

// rematerialize re-runs the captured SQL to produce a store-owned artifact
// replacing the agent-written file. Failures leave the original artifact
// in place.
func (o *Orchestrator) rematerialize(ctx context.Context, st *state, logger *slog.Logger) {
	if o.deps.Runner == nil {
		return
	}
	table, err := o.deps.Runner.Run(ctx, st.sql)
	if err != nil {
		logger.Warn("re-execution of captured SQL failed, keeping agent artifact", "error", err)
		return
	}
	name, err := o.deps.Results.Materialize(st.sql, table)
	if err != nil {
		logger.Warn("failed to rematerialize result", "error", err)
		return
	}
	st.resultFile = name
}

// recordQueryFeedback feeds an execution outcome to the learning and
// golden sinks. Best-effort on both.
func (o *Orchestrator) recordQueryFeedback(ctx context.Context, req Request, st *state, success bool) {
	if o.deps.Learning != nil {
		o.deps.Learning.RecordQuery(ctx, req.Question, st.sql, success)
		o.deps.Learning.RecordToolUsage(ctx, signal.SQLToolName, success)
	}
	if o.deps.Golden != nil && st.sql != "" {
		o.deps.Golden.Record(ctx, req.Question, st.sql, req.User, success)
	}
}

func (o *Orchestrator) buildResponse(req Request, st *state, answer string) *Response {
	resp := &Response{
		Answer:         answer,
		Chart:          st.chart,
		ChartID:        st.chartID,
		Success:        st.toolSucceeded && !st.failed,
		ToolUsed:       st.toolUsed,
		ChartGenerated: st.chart != nil,
		ChartSource:    st.chartSource,
		User:           req.User,
		Conversation:   req.Conversation,
		Timestamp:      time.Now().UTC(),
	}
	if st.sql != "" {
		resp.SQL = &st.sql
	}
	if st.resultFile != "" {
		url := o.deps.Results.URL(st.resultFile)
		resp.ResultURL = &url
	}
	return resp
}

func turnMetadata(st *state, resp *Response) map[string]any {
	md := map[string]any{
		"success":   resp.Success,
		"tool_used": resp.ToolUsed,
	}
	if st.sql != "" {
		md["sql"] = st.sql
	}
	if st.resultFile != "" {
		md["result_file"] = st.resultFile
	}
	if st.chartID != "" {
		md["chart_id"] = st.chartID
		md["chart_source"] = st.chartSource
	}
	if st.chartRecovered {
		md["chart_recovered"] = true
	}
	return md
}

func mentionsVisualization(answer string) bool {
	lower := strings.ToLower(answer)
	for _, marker := range visualizationMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
