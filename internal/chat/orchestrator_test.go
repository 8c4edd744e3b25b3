package chat_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querylane/querylane/internal/agent"
	"github.com/querylane/querylane/internal/chart"
	"github.com/querylane/querylane/internal/chat"
	"github.com/querylane/querylane/internal/conversation"
	"github.com/querylane/querylane/internal/learning"
	"github.com/querylane/querylane/internal/log"
	"github.com/querylane/querylane/internal/resultstore"
	"github.com/querylane/querylane/internal/sqlrunner"
)

// frame records one emitted protocol frame for order assertions.
type frame struct {
	kind    string
	payload any
}

type recordEmitter struct {
	mu     sync.Mutex
	frames []frame
}

func (e *recordEmitter) record(kind string, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frames = append(e.frames, frame{kind: kind, payload: payload})
	return nil
}

func (e *recordEmitter) Start(req chat.Request) error       { return e.record("start", req) }
func (e *recordEmitter) Chunk(text string) error            { return e.record("chunk", text) }
func (e *recordEmitter) SQL(sql string) error               { return e.record("sql", sql) }
func (e *recordEmitter) Result(url string) error            { return e.record("result", url) }
func (e *recordEmitter) Error(err error) error              { return e.record("error", err) }
func (e *recordEmitter) Complete(resp *chat.Response) error { return e.record("complete", resp) }

func (e *recordEmitter) kinds() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.frames))
	for i, f := range e.frames {
		out[i] = f.kind
	}
	return out
}

func (e *recordEmitter) byKind(kind string) []frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []frame
	for _, f := range e.frames {
		if f.kind == kind {
			out = append(out, f)
		}
	}
	return out
}

// sideEffectAgent replays events after running an optional side effect,
// standing in for an agent that writes result files itself.
type sideEffectAgent struct {
	events []agent.Event
	effect func()

	mu           sync.Mutex
	lastQuestion string
}

func (a *sideEffectAgent) Stream(ctx context.Context, question string) (<-chan agent.Event, error) {
	a.mu.Lock()
	a.lastQuestion = question
	a.mu.Unlock()

	if a.effect != nil {
		a.effect()
	}

	out := make(chan agent.Event)
	go func() {
		defer close(out)
		for _, ev := range a.events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (a *sideEffectAgent) question() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastQuestion
}

// failingAgent errors before producing any stream.
type failingAgent struct{ err error }

func (a *failingAgent) Stream(context.Context, string) (<-chan agent.Event, error) {
	return nil, a.err
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	table *sqlrunner.Table
	err   error
}

func (r *fakeRunner) Run(_ context.Context, sql string) (*sqlrunner.Table, error) {
	r.mu.Lock()
	r.calls = append(r.calls, sql)
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.table, nil
}

type goldenCall struct {
	question, sql, user string
	success             bool
}

type fakeGolden struct {
	mu    sync.Mutex
	calls []goldenCall
}

func (g *fakeGolden) Record(_ context.Context, question, sql, user string, success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, goldenCall{question, sql, user, success})
}

type fixture struct {
	orch    *chat.Orchestrator
	store   *conversation.Store
	results *resultstore.Store
	golden  *fakeGolden
}

func newFixture(t *testing.T, ag agent.Agent, runner chat.SQLRunner) *fixture {
	t.Helper()

	dir := t.TempDir()
	logger := log.NewNop()

	store, err := conversation.NewStore(filepath.Join(dir, "conversations.json"), 50, logger)
	require.NoError(t, err)
	results, err := resultstore.NewStore(filepath.Join(dir, "results"), "/static/results", 30*time.Second, logger)
	require.NoError(t, err)
	charts, err := chart.NewStore(filepath.Join(dir, "charts"), "/static/charts", logger)
	require.NoError(t, err)
	learn, err := learning.NewManager(filepath.Join(dir, "learning.json"), logger)
	require.NoError(t, err)

	gold := &fakeGolden{}
	orch := chat.New(chat.Deps{
		Agent:    ag,
		Store:    store,
		Enhancer: conversation.NewEnhancer(store),
		Learning: learn,
		Runner:   runner,
		Results:  results,
		Charts:   charts,
		Golden:   gold,
	}, logger)

	return &fixture{orch: orch, store: store, results: results, golden: gold}
}

func sampleTable() *sqlrunner.Table {
	return &sqlrunner.Table{
		Columns: []string{"region", "total"},
		Rows:    [][]any{{"east", 10.0}, {"west", 20.0}},
	}
}

func TestHandleStreamsAnswer(t *testing.T) {
	t.Parallel()

	ag := &sideEffectAgent{events: []agent.Event{
		{Delta: "The answer "},
		{Delta: "is 42."},
	}}
	fx := newFixture(t, ag, nil)

	resp, err := fx.orch.Handle(context.Background(), chat.Request{Question: "how many?", User: "alice"})
	require.NoError(t, err)

	assert.Equal(t, "The answer is 42.", resp.Answer)
	// No tool executed, so the request does not count as a successful query.
	assert.False(t, resp.Success)
	assert.False(t, resp.ToolUsed)
	assert.Nil(t, resp.SQL)
	assert.Nil(t, resp.ResultURL)
	assert.Equal(t, "alice", resp.User)
	assert.Equal(t, "default", resp.Conversation)
}

func TestEmptyQuestionRejected(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &sideEffectAgent{}, nil)
	_, err := fx.orch.Handle(context.Background(), chat.Request{})
	assert.ErrorIs(t, err, chat.ErrEmptyQuestion)
}

func TestSQLCaptureFirstWins(t *testing.T) {
	t.Parallel()

	ag := &sideEffectAgent{events: []agent.Event{
		{ToolCall: &agent.ToolCall{Name: "run_sql", Args: map[string]any{"sql": "SELECT 1"}}},
		{ToolCall: &agent.ToolCall{Name: "run_sql", Args: map[string]any{"sql": "SELECT 2"}}},
		{Delta: "done"},
	}}
	runner := &fakeRunner{table: sampleTable()}
	fx := newFixture(t, ag, runner)

	em := &recordEmitter{}
	require.NoError(t, fx.orch.Stream(context.Background(), chat.Request{Question: "q"}, em))

	sqlFrames := em.byKind("sql")
	require.Len(t, sqlFrames, 1)
	assert.Equal(t, "SELECT 1", sqlFrames[0].payload)

	complete := em.byKind("complete")
	require.Len(t, complete, 1)
	resp := complete[0].payload.(*chat.Response)
	require.NotNil(t, resp.SQL)
	assert.Equal(t, "SELECT 1", *resp.SQL)
	assert.True(t, resp.ToolUsed)
	require.NotNil(t, resp.ResultURL)
	assert.Contains(t, *resp.ResultURL, "/static/results/")
}

func TestExecutionFailure(t *testing.T) {
	t.Parallel()

	ag := &sideEffectAgent{events: []agent.Event{
		{ToolCall: &agent.ToolCall{Name: "run_sql", Args: map[string]any{"sql": "SELECT broken"}}},
		{Delta: "attempted"},
	}}
	runner := &fakeRunner{err: errors.New("relation does not exist")}
	fx := newFixture(t, ag, runner)

	resp, err := fx.orch.Handle(context.Background(), chat.Request{Question: "q", User: "alice"})
	require.NoError(t, err)

	require.NotNil(t, resp.SQL)
	assert.Equal(t, "SELECT broken", *resp.SQL)
	assert.Nil(t, resp.ResultURL)
	assert.False(t, resp.Success)

	// Failure feedback reaches the golden sink.
	require.Len(t, fx.golden.calls, 1)
	assert.False(t, fx.golden.calls[0].success)

	// The turn is persisted regardless.
	assert.Equal(t, 1, fx.store.Len())
}

func TestChartFromAgentStream(t *testing.T) {
	t.Parallel()

	payload := map[string]any{"type": "bar", "data": []any{}}
	ag := &sideEffectAgent{events: []agent.Event{
		{Delta: "here is your chart"},
		{ChartData: payload},
	}}
	fx := newFixture(t, ag, nil)

	resp, err := fx.orch.Handle(context.Background(), chat.Request{Question: "chart it"})
	require.NoError(t, err)

	assert.True(t, resp.ChartGenerated)
	assert.Equal(t, chat.ChartSourceAgent, resp.ChartSource)
	assert.NotEmpty(t, resp.ChartID)
	assert.Equal(t, "bar", resp.Chart["type"])
}

func TestChartGeneratedFromRows(t *testing.T) {
	t.Parallel()

	ag := &sideEffectAgent{events: []agent.Event{
		{ToolCall: &agent.ToolCall{Name: "run_sql", Args: map[string]any{"sql": "SELECT region, total FROM orders"}}},
		{Delta: "numbers below"},
	}}
	runner := &fakeRunner{table: sampleTable()}
	fx := newFixture(t, ag, runner)

	resp, err := fx.orch.Handle(context.Background(), chat.Request{Question: "totals by region"})
	require.NoError(t, err)

	assert.True(t, resp.ChartGenerated)
	assert.Equal(t, chat.ChartSourceGenerated, resp.ChartSource)
	assert.NotEmpty(t, resp.ChartID)
}

func TestFreshArtifactMarksToolUsed(t *testing.T) {
	t.Parallel()

	var fx *fixture
	ag := &sideEffectAgent{
		events: []agent.Event{{Delta: "I ran the query for you."}},
	}
	ag.effect = func() {
		_, err := fx.results.Materialize("SELECT 1", sampleTable())
		if err != nil {
			panic(err)
		}
	}
	fx = newFixture(t, ag, nil)

	em := &recordEmitter{}
	require.NoError(t, fx.orch.Stream(context.Background(), chat.Request{Question: "q"}, em))

	complete := em.byKind("complete")
	require.Len(t, complete, 1)
	resp := complete[0].payload.(*chat.Response)

	assert.True(t, resp.ToolUsed)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.ResultURL)
	assert.Len(t, em.byKind("result"), 1)
}

func TestFreshArtifactWithSQLInAnswer(t *testing.T) {
	t.Parallel()

	var fx *fixture
	ag := &sideEffectAgent{
		events: []agent.Event{{Delta: "I used:\n```sql\nSELECT region FROM orders\n```"}},
	}
	ag.effect = func() {
		if _, err := fx.results.Materialize("SELECT region FROM orders", sampleTable()); err != nil {
			panic(err)
		}
	}
	fx = newFixture(t, ag, nil)

	resp, err := fx.orch.Handle(context.Background(), chat.Request{Question: "q", User: "alice"})
	require.NoError(t, err)

	require.NotNil(t, resp.SQL)
	assert.Equal(t, "SELECT region FROM orders", *resp.SQL)
	assert.True(t, resp.ToolUsed)
	assert.True(t, resp.Success)

	// Success feedback reaches the golden sink even without re-execution.
	require.Len(t, fx.golden.calls, 1)
	assert.True(t, fx.golden.calls[0].success)
}

func TestChartRecoveryFromArtifact(t *testing.T) {
	t.Parallel()

	var fx *fixture
	ag := &sideEffectAgent{
		events: []agent.Event{{Delta: "Created visualization of the regional totals."}},
	}
	ag.effect = func() {
		if _, err := fx.results.Materialize("SELECT 1", sampleTable()); err != nil {
			panic(err)
		}
	}
	fx = newFixture(t, ag, nil)

	resp, err := fx.orch.Handle(context.Background(), chat.Request{Question: "q"})
	require.NoError(t, err)

	assert.True(t, resp.ChartGenerated)
	assert.Equal(t, chat.ChartSourceGenerated, resp.ChartSource)
}

func TestTextFallbackSQLWithoutExecution(t *testing.T) {
	t.Parallel()

	ag := &sideEffectAgent{events: []agent.Event{
		{Delta: "You could run:\n```sql\nSELECT name FROM users\n```\nto see the names."},
	}}
	runner := &fakeRunner{table: sampleTable()}
	fx := newFixture(t, ag, runner)

	resp, err := fx.orch.Handle(context.Background(), chat.Request{Question: "names?"})
	require.NoError(t, err)

	require.NotNil(t, resp.SQL)
	assert.Equal(t, "SELECT name FROM users", *resp.SQL)
	// Fallback extraction never triggers execution, and an unexecuted
	// statement is not a successful query.
	assert.Empty(t, runner.calls)
	assert.Nil(t, resp.ResultURL)
	assert.False(t, resp.ToolUsed)
	assert.False(t, resp.Success)
}

func TestFrameOrder(t *testing.T) {
	t.Parallel()

	ag := &sideEffectAgent{events: []agent.Event{
		{Delta: "a"},
		{ToolCall: &agent.ToolCall{Name: "run_sql", Args: map[string]any{"sql": "SELECT 1"}}},
		{Delta: "b"},
	}}
	runner := &fakeRunner{table: sampleTable()}
	fx := newFixture(t, ag, runner)

	em := &recordEmitter{}
	require.NoError(t, fx.orch.Stream(context.Background(), chat.Request{Question: "q"}, em))

	kinds := em.kinds()
	require.NotEmpty(t, kinds)
	assert.Equal(t, "start", kinds[0])
	assert.Equal(t, "complete", kinds[len(kinds)-1])
	assert.Equal(t, []string{"start", "chunk", "sql", "chunk", "result", "complete"}, kinds)
}

func TestAgentFailureStillCompletes(t *testing.T) {
	t.Parallel()

	ag := &failingAgent{err: errors.New("model unavailable")}
	fx := newFixture(t, ag, nil)

	em := &recordEmitter{}
	require.NoError(t, fx.orch.Stream(context.Background(), chat.Request{Question: "q", User: "alice"}, em))

	kinds := em.kinds()
	assert.Equal(t, []string{"start", "error", "complete"}, kinds)

	resp := em.byKind("complete")[0].payload.(*chat.Response)
	assert.False(t, resp.Success)
	assert.Empty(t, resp.Answer)

	// The failed turn is persisted too.
	assert.Equal(t, 1, fx.store.Len())
}

func TestSecondRequestSeesContext(t *testing.T) {
	t.Parallel()

	ag := &sideEffectAgent{events: []agent.Event{{Delta: "There were 42 orders."}}}
	fx := newFixture(t, ag, nil)

	ctx := context.Background()
	_, err := fx.orch.Handle(ctx, chat.Request{Question: "how many orders last month?", User: "alice", Conversation: "billing"})
	require.NoError(t, err)

	_, err = fx.orch.Handle(ctx, chat.Request{Question: "and the month before?", User: "alice", Conversation: "billing"})
	require.NoError(t, err)

	assert.Contains(t, ag.question(), "Previous conversation context:")
	assert.Contains(t, ag.question(), "how many orders last month?")
	assert.Contains(t, ag.question(), "Current question: and the month before?")
}

func TestDisconnectDoesNotAbortPersistence(t *testing.T) {
	t.Parallel()

	ag := &sideEffectAgent{events: []agent.Event{{Delta: "partial"}}}
	fx := newFixture(t, ag, nil)

	// A context cancelled after the stream drains mimics a client that went
	// away before finalize; persistence must still happen.
	ctx, cancel := context.WithCancel(context.Background())
	em := &recordEmitter{}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = fx.orch.Stream(ctx, chat.Request{Question: "q", User: "alice"}, em)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not finish")
	}

	assert.Equal(t, 1, fx.store.Len())
	complete := em.byKind("complete")
	assert.Len(t, complete, 1, "completion frame must be emitted even after disconnect")
}

// cancelOnChunkEmitter cancels the request context as soon as the first
// chunk frame goes out, mimicking a client that drops mid-stream.
type cancelOnChunkEmitter struct {
	recordEmitter
	cancel context.CancelFunc
	once   sync.Once
}

func (e *cancelOnChunkEmitter) Chunk(text string) error {
	e.once.Do(e.cancel)
	return e.recordEmitter.Chunk(text)
}

func TestDisconnectMidStreamDrainsAgent(t *testing.T) {
	t.Parallel()

	ag := &sideEffectAgent{events: []agent.Event{
		{Delta: "part1 "},
		{Delta: "part2"},
	}}
	fx := newFixture(t, ag, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	em := &cancelOnChunkEmitter{cancel: cancel}
	require.NoError(t, fx.orch.Stream(ctx, chat.Request{Question: "q", User: "alice"}, em))

	complete := em.byKind("complete")
	require.Len(t, complete, 1)
	resp := complete[0].payload.(*chat.Response)

	// The agent stream runs to completion; a gone client is not a failure.
	assert.Equal(t, "part1 part2", resp.Answer)
	assert.Empty(t, em.byKind("error"))
	assert.Equal(t, 1, fx.store.Len())
}

func TestResultAttributedFromAnswerText(t *testing.T) {
	t.Parallel()

	ag := &sideEffectAgent{}
	fx := newFixture(t, ag, nil)

	// The artifact predates the freshness window, so only the filename in
	// the answer can attribute it.
	name, err := fx.results.Materialize("SELECT region, total FROM orders", sampleTable())
	require.NoError(t, err)
	old := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(fx.results.Path(name), old, old))

	ag.events = []agent.Event{
		{Delta: "Results saved to file: " + name + ". Created visualization of the totals."},
	}

	em := &recordEmitter{}
	require.NoError(t, fx.orch.Stream(context.Background(), chat.Request{Question: "totals"}, em))

	complete := em.byKind("complete")
	require.Len(t, complete, 1)
	resp := complete[0].payload.(*chat.Response)

	require.NotNil(t, resp.ResultURL)
	assert.Contains(t, *resp.ResultURL, name)
	assert.Len(t, em.byKind("result"), 1)

	// The named artifact also feeds chart recovery.
	assert.True(t, resp.ChartGenerated)
	assert.Equal(t, chat.ChartSourceGenerated, resp.ChartSource)
}

func TestUnknownResultNameIgnored(t *testing.T) {
	t.Parallel()

	ag := &sideEffectAgent{events: []agent.Event{
		{Delta: "Results saved to file: query_results_gone.csv"},
	}}
	fx := newFixture(t, ag, nil)

	resp, err := fx.orch.Handle(context.Background(), chat.Request{Question: "q"})
	require.NoError(t, err)

	assert.Nil(t, resp.ResultURL)
	assert.False(t, resp.ChartGenerated)
}

func TestChartMentionAloneDoesNotRecover(t *testing.T) {
	t.Parallel()

	var fx *fixture
	ag := &sideEffectAgent{
		events: []agent.Event{{Delta: "I cannot create a chart from this data."}},
	}
	ag.effect = func() {
		if _, err := fx.results.Materialize("SELECT 1", sampleTable()); err != nil {
			panic(err)
		}
	}
	fx = newFixture(t, ag, nil)

	resp, err := fx.orch.Handle(context.Background(), chat.Request{Question: "q"})
	require.NoError(t, err)

	assert.False(t, resp.ChartGenerated)
	assert.Nil(t, resp.Chart)
}

func TestStaleArtifactIgnored(t *testing.T) {
	t.Parallel()

	var fx *fixture
	ag := &sideEffectAgent{events: []agent.Event{{Delta: "nothing executed"}}}
	fx = newFixture(t, ag, nil)

	// An artifact older than the freshness window existed before the
	// request; it must not count as this request's result.
	name, err := fx.results.Materialize("SELECT 1", sampleTable())
	require.NoError(t, err)
	old := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(fx.results.Path(name), old, old))

	resp, err := fx.orch.Handle(context.Background(), chat.Request{Question: "q"})
	require.NoError(t, err)

	assert.False(t, resp.ToolUsed)
	assert.Nil(t, resp.ResultURL)
}
