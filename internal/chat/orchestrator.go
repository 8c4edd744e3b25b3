// Package chat is the streaming response orchestrator: it runs a question
// through enhancement, the agent's event stream, signal extraction, and
// the post-stream side-effect pipeline, emitting protocol frames along the
// way.
//
// The lifecycle of one request is strictly ordered: enhance, stream,
// finalize, persist. Whatever happens mid-stream, the completion frame is
// emitted and a turn is appended; a disconnected client stops receiving
// frames but never aborts the agent stream, side effects, or persistence.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/querylane/querylane/internal/agent"
	"github.com/querylane/querylane/internal/conversation"
	"github.com/querylane/querylane/internal/signal"
	"github.com/querylane/querylane/internal/sqlrunner"
)

// ErrEmptyQuestion indicates the request carries no question.
var ErrEmptyQuestion = errors.New("empty question")

// SQLRunner executes statements. Nil-able: without a database the
// execution branches of the pipeline are skipped.
type SQLRunner interface {
	Run(ctx context.Context, sql string) (*sqlrunner.Table, error)
}

// ResultStore materializes and probes result artifacts.
type ResultStore interface {
	LatestFresh() (string, bool)
	Materialize(sql string, table *sqlrunner.Table) (string, error)
	ReadTable(name string) (*sqlrunner.Table, error)
	Exists(name string) bool
	URL(name string) string
}

// ChartStore persists chart payloads.
type ChartStore interface {
	Save(payload map[string]any) (string, error)
	URL(id string) string
}

// Learner is the learning feedback sink.
type Learner interface {
	EnhanceQuestion(question string) string
	RecordQuery(ctx context.Context, question, sql string, success bool)
	RecordToolUsage(ctx context.Context, tool string, success bool)
}

// GoldenSink receives question/SQL pairs that executed successfully.
type GoldenSink interface {
	Record(ctx context.Context, question, sql, user string, success bool)
}

// Deps are the orchestrator's collaborators. Agent, Store and Results are
// required; the rest degrade gracefully when nil.
type Deps struct {
	Agent    agent.Agent
	Store    *conversation.Store
	Enhancer *conversation.Enhancer
	Learning Learner
	Runner   SQLRunner
	Results  ResultStore
	Charts   ChartStore
	Golden   GoldenSink
}

// Orchestrator drives requests end to end.
type Orchestrator struct {
	deps   Deps
	logger *slog.Logger
}

// New creates an orchestrator.
func New(deps Deps, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{deps: deps, logger: logger}
}

// Handle runs a request synchronously and returns the terminal response.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (*Response, error) {
	var resp *Response
	em := completeCapture{onComplete: func(r *Response) { resp = r }}
	if err := o.Stream(ctx, req, em); err != nil {
		return nil, err
	}
	return resp, nil
}

// completeCapture is a nop emitter that hands the terminal response back.
type completeCapture struct {
	nopEmitter
	onComplete func(*Response)
}

func (c completeCapture) Complete(resp *Response) error {
	c.onComplete(resp)
	return nil
}

// Stream runs a request, emitting frames as signals arrive. The returned
// error covers request validation only; stream-level failures surface as
// Error frames followed by a Complete frame.
func (o *Orchestrator) Stream(ctx context.Context, req Request, em Emitter) error {
	if req.Question == "" {
		return ErrEmptyQuestion
	}

	key := conversation.Normalize(req.User, req.Conversation)
	req.User = key.User
	req.Conversation = key.Conversation

	logger := o.logger.With("user", req.User, "conversation", req.Conversation)
	start := time.Now()

	o.emit(em.Start(req))

	// Enhancement, each stage fail-soft and independent: learned patterns
	// first, then conversation context.
	question := req.Question
	if o.deps.Learning != nil {
		question = o.deps.Learning.EnhanceQuestion(question)
	}
	if o.deps.Enhancer != nil {
		question = o.deps.Enhancer.Enhance(req.User, req.Conversation, question)
	}

	// Freshness baseline before the agent runs.
	var baseline string
	if before, ok := o.deps.Results.LatestFresh(); ok {
		baseline = before
	}

	// The client may disconnect at any time. The agent stream, side
	// effects and persistence all run on a detached context; a gone
	// client only shows up as emit failures, which are advisory.
	runCtx := context.WithoutCancel(ctx)

	st := &state{}
	if err := o.consume(runCtx, question, st, em); err != nil {
		logger.Error("agent stream failed", "error", err)
		st.failed = true
		o.emit(em.Error(err))
	}

	resp := o.finalize(runCtx, req, st, baseline, em, logger)

	o.emit(em.Complete(resp))
	logger.Info("request completed",
		"success", resp.Success,
		"tool_used", resp.ToolUsed,
		"chart_generated", resp.ChartGenerated,
		"duration", time.Since(start))
	return nil
}

// consume drains the agent's event stream into the request state, emitting
// chunk and SQL frames as their signals arrive.
func (o *Orchestrator) consume(ctx context.Context, question string, st *state, em Emitter) error {
	events, err := o.deps.Agent.Stream(ctx, question)
	if err != nil {
		return err
	}

	for ev := range events {
		if ev.Err != nil {
			return ev.Err
		}
		for _, sig := range signal.Extract(ev) {
			switch s := sig.(type) {
			case signal.TextDelta:
				st.answer.WriteString(string(s))
				o.emit(em.Chunk(string(s)))
			case signal.ToolInvocation:
				st.toolUsed = true
				if sql := s.SQL(); st.setSQL(sql) {
					o.emit(em.SQL(sql))
				}
			case signal.ToolOutcome:
				o.logger.Debug("tool reported failure", "tool", s.Name, "error", s.Err)
			case signal.ChartPayload:
				st.setChart(map[string]any(s), ChartSourceAgent)
			}
		}
	}
	return nil
}

// emit discards emitter errors: a gone client must not disturb the
// request lifecycle.
func (o *Orchestrator) emit(err error) {
	if err != nil {
		o.logger.Debug("frame emission failed, client likely disconnected", "error", err)
	}
}
