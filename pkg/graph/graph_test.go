package graph

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querysage-ai/querysage-engine/pkg/analytical"
	"github.com/querysage-ai/querysage-engine/pkg/config"
	"github.com/querysage-ai/querysage-engine/pkg/execution"
	"github.com/querysage-ai/querysage-engine/pkg/generator"
	"github.com/querysage-ai/querysage-engine/pkg/llm"
	"github.com/querysage-ai/querysage-engine/pkg/memory"
	"github.com/querysage-ai/querysage-engine/pkg/prompts"
	"github.com/querysage-ai/querysage-engine/pkg/schema"
	"github.com/querysage-ai/querysage-engine/pkg/session"
	"github.com/querysage-ai/querysage-engine/pkg/verifier"
)

const (
	routeStandard       = `{"workflow": "standard", "reason": "single query"}`
	routeConversational = `{"workflow": "conversational", "reason": "greeting"}`
	routeAnalytical     = `{"workflow": "analytical", "reason": "broad question"}`
)

func selectGen(sql string) string {
	return fmt.Sprintf(`{"kind": "select", "sql": "%s", "explanation": ""}`, sql)
}

type selectOutcome struct {
	result *execution.SelectResult
	err    error
}

type fakeExecutor struct {
	selectOutcomes []selectOutcome
	selectSQLs     []string

	editResult *execution.EditResult
	editErr    error
	editSQLs   [][]string
	editModes  []execution.EditMode
}

func (f *fakeExecutor) ExecuteSelect(_ context.Context, sql string) (*execution.SelectResult, error) {
	f.selectSQLs = append(f.selectSQLs, sql)
	idx := len(f.selectSQLs) - 1
	if idx >= len(f.selectOutcomes) {
		idx = len(f.selectOutcomes) - 1
	}
	o := f.selectOutcomes[idx]
	return o.result, o.err
}

func (f *fakeExecutor) ExecuteEdit(_ context.Context, sqls []string, mode execution.EditMode) (*execution.EditResult, error) {
	f.editSQLs = append(f.editSQLs, sqls)
	f.editModes = append(f.editModes, mode)
	return f.editResult, f.editErr
}

type fakeSchema struct {
	ctx          *schema.Context
	version      int64
	refreshCalls int
}

func (f *fakeSchema) Current() *schema.Context { return f.ctx }
func (f *fakeSchema) Version() int64           { return f.version }
func (f *fakeSchema) Refresh(context.Context, string) (*schema.Context, error) {
	f.refreshCalls++
	f.version++
	return f.ctx, nil
}

type fakeVerifier struct {
	report *verifier.Report
	calls  int
}

func (f *fakeVerifier) Verify(_ context.Context, _, _ string, _ []string, _, _ string) (*verifier.Report, error) {
	f.calls++
	return f.report, nil
}

type fakeAnalytical struct {
	report *analytical.Report
	err    error
}

func (f *fakeAnalytical) Run(context.Context, string, string, string, int64) (*analytical.Report, error) {
	return f.report, f.err
}

func testSchemaContext() *schema.Context {
	return &schema.Context{
		Schema: "public",
		Table:  "rates",
		Columns: []schema.Column{
			{Name: "id", DataType: "bigint"},
			{Name: "country", DataType: "text"},
			{Name: "rate", DataType: "numeric"},
		},
		RowCount:   5000,
		TableSize:  "1 MB",
		Version:    1,
		AnalyzedAt: time.Now().UTC(),
	}
}

func selectResult(n int) *execution.SelectResult {
	rows := make([]map[string]any, n)
	for i := range rows {
		rows[i] = map[string]any{"country": fmt.Sprintf("C%d", i), "rate": 40 + i}
	}
	return &execution.SelectResult{
		Columns:   []execution.ColumnInfo{{Name: "country", Type: "TEXT"}, {Name: "rate", Type: "NUMERIC"}},
		Rows:      rows,
		TotalRows: n,
		ElapsedMs: 2,
	}
}

type fixture struct {
	orch       *Orchestrator
	client     *llm.MockClient
	executor   *fakeExecutor
	schema     *fakeSchema
	verifier   *fakeVerifier
	analytical *fakeAnalytical
}

func newFixture(t *testing.T, responses ...string) *fixture {
	t.Helper()
	client := llm.NewMockClient(responses...)
	library := prompts.MustLoad()
	store, err := memory.NewInMemoryStore("", nil)
	require.NoError(t, err)

	sessions := session.NewRegistry(session.Deps{
		MemoryStore:     store,
		Embedder:        client,
		TargetSchema:    "public",
		TargetTable:     "rates",
		PageSizeDefault: 10,
		PageSizeMax:     200,
	}, time.Hour, nil)

	f := &fixture{
		client:     client,
		executor:   &fakeExecutor{selectOutcomes: []selectOutcome{{result: selectResult(5)}}},
		schema:     &fakeSchema{ctx: testSchemaContext(), version: 1},
		verifier:   &fakeVerifier{report: &verifier.Report{IsSafe: true, IsCorrect: true, Verdict: verifier.VerdictRequiresReview}},
		analytical: &fakeAnalytical{},
	}
	f.orch = New(Deps{
		Sessions:  sessions,
		Schema:    f.schema,
		Client:    client,
		Library:   library,
		Generator: generator.New(client, library, nil),
		Executor:  f.executor,
		Verifier:  f.verifier,
		Analytical: func(*session.Session) AnalyticalRunner {
			return f.analytical
		},
		Engine: config.EngineConfig{
			UseMemory:             true,
			UseCache:              true,
			MaxValidationAttempts: 2,
			AutoFix:               true,
			PageSizeDefault:       10,
			PageSizeMax:           200,
			TurnTimeoutSeconds:    300,
		},
	})
	return f
}

func turn(f *fixture, question string) *Envelope {
	return f.orch.ProcessTurn(context.Background(), TurnRequest{
		SessionID: "s1",
		Question:  question,
	})
}

func TestConversationalTurn(t *testing.T) {
	f := newFixture(t, routeConversational, "Hello! Ask me about the rates table.")

	env := turn(f, "hi, what can you do?")
	assert.Equal(t, QueryConversational, env.QueryType)
	assert.True(t, env.Success)
	assert.NotEmpty(t, env.Text)
	assert.Empty(t, env.SQL)
	assert.Empty(t, f.executor.selectSQLs)
}

func TestStandardSelectTurn(t *testing.T) {
	f := newFixture(t,
		routeStandard,
		selectGen("SELECT country, rate FROM rates LIMIT 5"),
		"Here are five rates.",
	)

	env := turn(f, "show me 5 rows")
	require.True(t, env.Success)
	assert.Equal(t, QuerySQL, env.QueryType)
	assert.Contains(t, env.SQL, "SELECT")
	assert.Len(t, env.Results, 5)
	require.NotNil(t, env.Pagination)
	assert.Equal(t, 5, env.Pagination.TotalRows)
	assert.Equal(t, "Here are five rates.", env.Text)
	assert.NotNil(t, env.VisualizationRecommendations)
}

func TestCacheHitSkipsGeneration(t *testing.T) {
	f := newFixture(t,
		routeStandard,
		selectGen("SELECT country, rate FROM rates"),
		"First answer.",
		routeStandard,
		"Second answer.",
	)

	first := turn(f, "rates by country")
	require.True(t, first.Success)
	second := turn(f, "rates by country")
	require.True(t, second.Success)

	assert.Equal(t, first.SQL, second.SQL)
	assert.Len(t, f.executor.selectSQLs, 1)
}

func TestAutoFixRecovers(t *testing.T) {
	f := newFixture(t,
		routeStandard,
		selectGen("SELECT rat FROM rates"),
		selectGen("SELECT rate FROM rates"),
		"Fixed and answered.",
	)
	f.executor.selectOutcomes = []selectOutcome{
		{err: errors.New(`column "rat" does not exist`)},
		{result: selectResult(3)},
	}

	env := turn(f, "show rates")
	require.True(t, env.Success)
	assert.Equal(t, "SELECT rate FROM rates", env.SQL)
	assert.Len(t, f.executor.selectSQLs, 2)
	assert.Contains(t, f.client.Prompts[2], `column "rat" does not exist`)
}

func TestAutoFixExhausted(t *testing.T) {
	f := newFixture(t,
		routeStandard,
		selectGen("SELECT rat FROM rates"),
	)
	f.executor.selectOutcomes = []selectOutcome{
		{err: errors.New(`column "rat" does not exist`)},
	}

	env := turn(f, "show rates")
	assert.False(t, env.Success)
	assert.Equal(t, QueryConversational, env.QueryType)
	assert.Equal(t, "sql_execution_failed", env.Error)
	assert.Contains(t, env.Text, "rat")
	assert.Len(t, f.executor.selectSQLs, 2)
}

func TestEditRequiresConfirmation(t *testing.T) {
	f := newFixture(t,
		routeStandard,
		`{"kind": "edit", "sql": "DELETE FROM rates WHERE country = 'ZZ'", "explanation": ""}`,
	)

	env := turn(f, "delete all rows where country='ZZ'")
	assert.Equal(t, QueryEditSQL, env.QueryType)
	assert.True(t, env.RequiresConfirmation)
	require.NotNil(t, env.VerificationResult)
	assert.Equal(t, verifier.VerdictRequiresReview, env.VerificationResult.Verdict)
	assert.Equal(t, 1, f.verifier.calls)
	assert.Empty(t, f.executor.editSQLs)
}

func TestEditSafeAutoExecutes(t *testing.T) {
	f := newFixture(t,
		routeStandard,
		`{"kind": "edit", "sql": "UPDATE rates SET rate = 90 WHERE id = 7", "explanation": ""}`,
	)
	f.verifier.report = &verifier.Report{IsSafe: true, IsCorrect: true, Verdict: verifier.VerdictSafeToExecute}
	f.executor.editResult = &execution.EditResult{
		PerStatement: []execution.StatementResult{{SQL: "UPDATE rates SET rate = 90 WHERE id = 7", Success: true, AffectedRows: 1}},
	}

	enabled := true
	env := f.orch.ProcessTurn(context.Background(), TurnRequest{
		SessionID: "s1",
		Question:  "set rate 90 for id 7",
		EditMode:  &enabled,
	})

	assert.Equal(t, QueryEditExecution, env.QueryType)
	assert.True(t, env.Success)
	assert.False(t, env.RequiresConfirmation)
	require.Len(t, f.executor.editSQLs, 1)
}

func TestExecuteEditTransactionRollback(t *testing.T) {
	f := newFixture(t)
	f.executor.editResult = &execution.EditResult{
		PerStatement: []execution.StatementResult{
			{SQL: "CREATE TABLE t (id int)", Success: true, RolledBack: true},
			{SQL: "INSERT INTO t VALUES (1)", Success: true, RolledBack: true},
			{SQL: "INSERT INTO nonexistent VALUES (1)", Error: `relation "nonexistent" does not exist`},
		},
		Transaction:       true,
		RollbackPerformed: true,
		FailedAtQuery:     3,
	}

	enabled := true
	f.orch.ProcessTurn(context.Background(), TurnRequest{SessionID: "s1", Question: "hi", EditMode: &enabled})

	env := f.orch.ExecuteEdit(context.Background(), "s1",
		[]string{"CREATE TABLE t (id int)", "INSERT INTO t VALUES (1)", "INSERT INTO nonexistent VALUES (1)"}, true)

	assert.Equal(t, QueryEditExecution, env.QueryType)
	assert.False(t, env.Success)
	assert.True(t, env.TransactionMode)
	assert.True(t, env.RollbackPerformed)
	assert.Equal(t, 3, env.FailedAtQuery)
	assert.Equal(t, "transaction_failed", env.Error)
	assert.Contains(t, env.Text, "rolled back")
}

func TestExecuteEditDisabledByDefault(t *testing.T) {
	f := newFixture(t)

	env := f.orch.ExecuteEdit(context.Background(), "s1", []string{"DELETE FROM rates"}, false)
	assert.False(t, env.Success)
	assert.Contains(t, env.Text, "disabled")
	assert.Empty(t, f.executor.editSQLs)
}

func TestEditSchemaChangeInvalidates(t *testing.T) {
	f := newFixture(t)
	f.executor.editResult = &execution.EditResult{
		PerStatement:  []execution.StatementResult{{SQL: "ALTER TABLE rates ADD COLUMN note text", Success: true}},
		SchemaChanged: true,
	}

	enabled := true
	f.orch.ProcessTurn(context.Background(), TurnRequest{SessionID: "s1", Question: "hi", EditMode: &enabled})

	env := f.orch.ExecuteEdit(context.Background(), "s1",
		[]string{"ALTER TABLE rates ADD COLUMN note text"}, false)
	assert.True(t, env.Success)
	assert.Equal(t, 1, f.schema.refreshCalls)
}

func TestAnalyticalTurn(t *testing.T) {
	f := newFixture(t, routeAnalytical)
	f.analytical.report = &analytical.Report{
		Question: "analyze rates by supplier and region",
		SubResults: []analytical.SubResult{
			{SubQuestion: "distribution", SQL: "SELECT 1", Rows: selectResult(3).Rows, RowCount: 3},
			{SubQuestion: "broken", SQL: "SELECT 2", Error: "boom"},
			{SubQuestion: "top", SQL: "SELECT 3", Rows: selectResult(2).Rows, RowCount: 2},
		},
		Narrative: "Rates vary widely by supplier.",
	}

	env := turn(f, "analyze SAP developer rates by supplier and region")
	assert.Equal(t, QueryAnalysis, env.QueryType)
	assert.True(t, env.Success)
	assert.Equal(t, "Rates vary widely by supplier.", env.Text)
	require.Len(t, env.Tables, 2)
	assert.Equal(t, "distribution", env.Tables[0].Description)
	assert.NotEmpty(t, env.Tables[0].TableID)
	assert.NotEqual(t, env.Tables[0].SQL, env.Tables[1].SQL)
}

func TestAnalyticalDegradesToStandard(t *testing.T) {
	f := newFixture(t,
		routeAnalytical,
		selectGen("SELECT COUNT(*) FROM rates"),
		"There are 5000 rows.",
	)
	f.analytical.err = fmt.Errorf("%w: 1 planned", analytical.ErrTooFewSubQuestions)
	f.executor.selectOutcomes = []selectOutcome{{result: selectResult(1)}}

	env := turn(f, "analyze the row count")
	assert.Equal(t, QuerySQL, env.QueryType)
	assert.True(t, env.Success)
}

func TestRouterFailure(t *testing.T) {
	client := llm.NewMockClient()
	client.QueueError(errors.New("model down"))
	f := newFixture(t)
	f.orch.deps.Client = client

	env := turn(f, "show rates")
	assert.False(t, env.Success)
	assert.Equal(t, "routing_failed", env.Error)
	assert.Equal(t, QueryConversational, env.QueryType)
}

func TestGetPagePagination(t *testing.T) {
	f := newFixture(t,
		routeStandard,
		selectGen("SELECT country, rate FROM rates ORDER BY rate DESC"),
		"All orders listed.",
	)
	f.executor.selectOutcomes = []selectOutcome{{result: selectResult(237)}}

	env := turn(f, "list all orders by date desc")
	require.True(t, env.Success)
	tableID := env.Pagination.TableID

	page := f.orch.GetPage("s1", tableID, 3, 50)
	require.True(t, page.Success)
	assert.Len(t, page.Results, 50)
	assert.Equal(t, 3, page.Pagination.CurrentPage)
	assert.Equal(t, 5, page.Pagination.TotalPages)
	assert.True(t, page.Pagination.HasNext)
	assert.True(t, page.Pagination.HasPrev)
	assert.Equal(t, "C100", page.Results[0]["country"])
	assert.Equal(t, "C149", page.Results[49]["country"])
}

func TestGetPageInvalid(t *testing.T) {
	f := newFixture(t)

	env := f.orch.GetPage("s1", "no-such-table", 1, 10)
	assert.False(t, env.Success)
	assert.Equal(t, "invalid_page", env.Error)
}

func TestMemoryIsolationAcrossSessions(t *testing.T) {
	f := newFixture(t,
		routeStandard,
		selectGen("SELECT rate FROM rates"),
		"Answer one.",
		routeConversational,
		"Hello!",
	)

	first := f.orch.ProcessTurn(context.Background(), TurnRequest{SessionID: "a", Question: "show rates"})
	require.True(t, first.Success)

	second := f.orch.ProcessTurn(context.Background(), TurnRequest{SessionID: "b", Question: "hi"})
	require.True(t, second.Success)
	assert.Equal(t, QueryConversational, second.QueryType)
	assert.NotContains(t, f.client.Prompts[len(f.client.Prompts)-1], "show rates")
}
