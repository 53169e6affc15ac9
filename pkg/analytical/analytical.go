// Package analytical plans a portfolio of sub-questions for a broad
// analytical question, runs each as its own SQL query, and synthesizes the
// results into a narrative report.
package analytical

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/querysage-ai/querysage-engine/pkg/apperrors"
	"github.com/querysage-ai/querysage-engine/pkg/execution"
	"github.com/querysage-ai/querysage-engine/pkg/generator"
	"github.com/querysage-ai/querysage-engine/pkg/llm"
	"github.com/querysage-ai/querysage-engine/pkg/prompts"
	"github.com/querysage-ai/querysage-engine/pkg/sqlutil"
)

// ErrTooFewSubQuestions signals that planning produced fewer than the
// minimum viable sub-questions and the turn should run the standard path
// instead.
var ErrTooFewSubQuestions = errors.New("too few sub-questions planned")

// synthesisRowCap bounds how many rows per sub-result reach the synthesis
// prompt.
const synthesisRowCap = 50

// SubQuestion is one planned facet of the broad question.
type SubQuestion struct {
	Question     string   `json:"question"`
	Intent       string   `json:"intent"`
	FocusColumns []string `json:"focus_columns"`
}

// SubResult is the outcome of one sub-question.
type SubResult struct {
	SubQuestion string           `json:"sub_question"`
	Intent      string           `json:"intent"`
	SQL         string           `json:"sql"`
	Rows        []map[string]any `json:"rows"`
	RowCount    int              `json:"row_count"`
	ElapsedMs   int64            `json:"elapsed_ms"`
	Error       string           `json:"error,omitempty"`
}

// Succeeded reports whether the sub-question ran without error; a result
// with zero rows counts as succeeded.
func (s *SubResult) Succeeded() bool {
	return s.Error == ""
}

// Report is the full analytical outcome.
type Report struct {
	Question   string      `json:"question"`
	SubResults []SubResult `json:"sub_results"`
	Narrative  string      `json:"narrative"`
}

// SelectRunner executes a single read-only statement.
type SelectRunner interface {
	ExecuteSelect(ctx context.Context, sql string) (*execution.SelectResult, error)
}

// Explorer probes observed column values for the generation prompt.
type Explorer interface {
	Explore(ctx context.Context, focusColumns []string, schemaVersion int64) string
}

// Manager runs the analytical workflow.
type Manager struct {
	client    llm.Client
	library   *prompts.Library
	generator *generator.Generator
	explorer  Explorer
	runner    SelectRunner
	minSubs   int
	maxSubs   int
	logger    *zap.Logger
}

// New creates an analytical manager.
func New(client llm.Client, library *prompts.Library, gen *generator.Generator,
	explorer Explorer, runner SelectRunner, minSubs, maxSubs int, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		client:    client,
		library:   library,
		generator: gen,
		explorer:  explorer,
		runner:    runner,
		minSubs:   minSubs,
		maxSubs:   maxSubs,
		logger:    logger.Named("analytical"),
	}
}

// Run plans, executes and synthesizes. Sub-questions are independent; one
// failure does not abort the rest. When every sub-question fails the whole
// run classifies as analytical_all_failed.
func (m *Manager) Run(ctx context.Context, question, schemaContext, memoryContext string, schemaVersion int64) (*Report, error) {
	subs, err := m.Plan(ctx, question, schemaContext, memoryContext)
	if err != nil {
		return nil, err
	}

	report := &Report{Question: question}
	succeeded := 0
	for _, sub := range subs {
		result := m.runSubQuestion(ctx, sub, schemaContext, memoryContext, schemaVersion)
		report.SubResults = append(report.SubResults, result)
		if result.Succeeded() {
			succeeded++
		}
	}

	if succeeded == 0 {
		return nil, apperrors.Newf(apperrors.KindAnalyticalAllFailed,
			"all %d sub-questions failed", len(subs))
	}

	report.Narrative = m.synthesize(ctx, question, report.SubResults)

	m.logger.Info("analytical run complete",
		zap.Int("sub_questions", len(subs)),
		zap.Int("succeeded", succeeded))
	return report, nil
}

// Plan asks the model for sub-questions and validates the portfolio.
// Duplicates collapse; fewer than two viable sub-questions degrades the
// path to standard.
func (m *Manager) Plan(ctx context.Context, question, schemaContext, memoryContext string) ([]SubQuestion, error) {
	system, user, err := m.library.Render(prompts.TemplateAnalyticalPlanner, map[string]string{
		"min_questions":  strconv.Itoa(m.minSubs),
		"max_questions":  strconv.Itoa(m.maxSubs),
		"schema_context": schemaContext,
		"memory_context": orPlaceholder(memoryContext, "(none)"),
		"question":       question,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindGenerationFailed, "planner prompt could not be built", err)
	}

	response, err := m.client.GenerateResponse(ctx, user, system, 0)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindGenerationFailed, "planner model call failed", err)
	}

	parsed, err := llm.ParseJSONResponse[struct {
		SubQuestions []SubQuestion `json:"sub_questions"`
	}](response)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindParseFailed,
			fmt.Sprintf("planner response unreadable: %s", llm.Excerpt(response, 200)), err)
	}

	subs := dedupe(parsed.SubQuestions)
	if len(subs) > m.maxSubs {
		subs = subs[:m.maxSubs]
	}
	if len(subs) < 2 {
		return nil, fmt.Errorf("%w: %d planned", ErrTooFewSubQuestions, len(subs))
	}
	return subs, nil
}

// runSubQuestion explores, generates and executes one sub-question with a
// single auto-fix round on execution failure.
func (m *Manager) runSubQuestion(ctx context.Context, sub SubQuestion, schemaContext, memoryContext string, schemaVersion int64) SubResult {
	result := SubResult{SubQuestion: sub.Question, Intent: sub.Intent}

	exploration := ""
	if m.explorer != nil && len(sub.FocusColumns) > 0 {
		exploration = m.explorer.Explore(ctx, sub.FocusColumns, schemaVersion)
	}

	req := generator.Request{
		Question:      sub.Question,
		SchemaContext: schemaContext,
		MemoryContext: memoryContext,
		Exploration:   exploration,
	}
	gen, err := m.generator.Generate(ctx, req)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	sql := sqlutil.JoinStatements(gen.Statements)
	result.SQL = sql

	selectResult, err := m.runner.ExecuteSelect(ctx, sql)
	if err != nil {
		m.logger.Warn("sub-question execution failed, attempting fix",
			zap.String("sub_question", sub.Question),
			zap.Error(err))

		req.ErrorFeedback = generator.FormatErrorFeedback(sql, err)
		gen, genErr := m.generator.Generate(ctx, req)
		if genErr != nil {
			result.Error = err.Error()
			return result
		}
		sql = sqlutil.JoinStatements(gen.Statements)
		result.SQL = sql

		selectResult, err = m.runner.ExecuteSelect(ctx, sql)
		if err != nil {
			result.Error = err.Error()
			return result
		}
	}

	result.Rows = selectResult.Rows
	result.RowCount = selectResult.TotalRows
	result.ElapsedMs = selectResult.ElapsedMs
	return result
}

// synthesize renders the narrative. A synthesis failure does not discard
// the sub-results; the report falls back to a mechanical summary.
func (m *Manager) synthesize(ctx context.Context, question string, results []SubResult) string {
	payload, err := json.Marshal(capRows(results))
	if err != nil {
		m.logger.Error("sub-results could not be serialized", zap.Error(err))
		return fallbackNarrative(results)
	}

	system, user, err := m.library.Render(prompts.TemplateAnalyticalSynthesis, map[string]string{
		"question":    question,
		"sub_results": string(payload),
	})
	if err != nil {
		m.logger.Error("synthesis prompt failed", zap.Error(err))
		return fallbackNarrative(results)
	}

	narrative, err := m.client.GenerateResponse(ctx, user, system, 0)
	if err != nil {
		m.logger.Warn("synthesis model call failed", zap.Error(err))
		return fallbackNarrative(results)
	}
	return strings.TrimSpace(narrative)
}

// capRows bounds the rows included in the synthesis prompt.
func capRows(results []SubResult) []SubResult {
	capped := make([]SubResult, len(results))
	for i, r := range results {
		capped[i] = r
		if len(r.Rows) > synthesisRowCap {
			capped[i].Rows = r.Rows[:synthesisRowCap]
		}
	}
	return capped
}

// fallbackNarrative lists sub-question outcomes without interpretation.
func fallbackNarrative(results []SubResult) string {
	var b strings.Builder
	b.WriteString("Automated synthesis was unavailable. Raw findings:\n")
	for _, r := range results {
		if r.Succeeded() {
			fmt.Fprintf(&b, "- %s: %d rows\n", r.SubQuestion, r.RowCount)
		} else {
			fmt.Fprintf(&b, "- %s: failed (%s)\n", r.SubQuestion, r.Error)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// dedupe removes sub-questions whose normalized text already appeared.
func dedupe(subs []SubQuestion) []SubQuestion {
	seen := make(map[string]bool)
	var out []SubQuestion
	for _, sub := range subs {
		if strings.TrimSpace(sub.Question) == "" {
			continue
		}
		key := sqlutil.NormalizeQuestion(sub.Question)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, sub)
	}
	return out
}

func orPlaceholder(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
