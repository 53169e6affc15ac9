package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/querysage-ai/querysage-engine/pkg/apperrors"
	"github.com/querysage-ai/querysage-engine/pkg/charts"
	"github.com/querysage-ai/querysage-engine/pkg/execution"
	"github.com/querysage-ai/querysage-engine/pkg/generator"
	"github.com/querysage-ai/querysage-engine/pkg/prompts"
	"github.com/querysage-ai/querysage-engine/pkg/session"
	"github.com/querysage-ai/querysage-engine/pkg/sqlutil"
)

// responseSampleRows bounds the rows shown to the synthesis prompt.
const responseSampleRows = 10

// runStandard is the single-query path: cache lookup, generation with the
// auto-fix loop, execution, materialization and the response text.
func (o *Orchestrator) runStandard(ctx context.Context, sess *session.Session, state TurnState) *Envelope {
	if o.deps.Engine.UseCache && sess.Cache != nil {
		if entry := sess.Cache.Get(state.Question, state.SchemaVersion); entry != nil {
			state.SQL = entry.SQL
			state.Results = entry.Result
			return o.respondSelect(ctx, sess, state, false)
		}
	}

	state = o.runNode(ctx, sess, "generate_sql", state, o.generateAndExecute)
	if state.Err != nil {
		return o.handleError(sess, state)
	}
	if state.Generation != nil && state.Generation.NeedsEditConfirmation {
		return o.verifyEdit(ctx, sess, state)
	}
	return o.respondSelect(ctx, sess, state, true)
}

// generateAndExecute runs the generation and validation loop. An execution
// error feeds back into the next generation round; the loop is bounded by
// the validation attempt cap and the last error surfaces with its SQL.
func (o *Orchestrator) generateAndExecute(ctx context.Context, _ *session.Session, state TurnState) TurnState {
	req := generator.Request{
		Question:      state.Question,
		SchemaContext: state.SchemaBlob,
		MemoryContext: state.MemoryContext,
	}

	for {
		gen, err := o.deps.Generator.Generate(ctx, req)
		if err != nil {
			state.Err = err
			return state
		}
		state.Generation = gen
		state.SQL = sqlutil.JoinStatements(gen.Statements)

		if gen.NeedsEditConfirmation {
			return state
		}

		result, err := o.deps.Executor.ExecuteSelect(ctx, state.SQL)
		if err == nil {
			state.Results = result
			return state
		}
		if kind, ok := apperrors.KindOf(err); ok &&
			(kind == apperrors.KindTimeout || kind == apperrors.KindCancelled) {
			state.Err = err
			return state
		}

		state.ValidationAttempts++
		if !o.deps.Engine.AutoFix || state.ValidationAttempts >= o.deps.Engine.MaxValidationAttempts {
			state.Err = apperrors.Wrap(apperrors.KindSQLExecutionFailed,
				fmt.Sprintf("query failed after %d attempts", state.ValidationAttempts), err)
			return state
		}

		o.logger.Info("regenerating after execution error",
			zap.String("turn_id", state.TurnID),
			zap.Int("attempt", state.ValidationAttempts),
			zap.Error(err))
		req.ErrorFeedback = generator.FormatErrorFeedback(state.SQL, err)
	}
}

// respondSelect materializes the rows, caches the query, and writes the
// sql envelope with pagination and chart suggestions.
func (o *Orchestrator) respondSelect(ctx context.Context, sess *session.Session, state TurnState, cacheable bool) *Envelope {
	result := state.Results
	if result == nil {
		result = &execution.SelectResult{}
	}

	table := sess.Tables.Store(state.SQL, result, 0)
	page, err := sess.Tables.FirstPage(table.TableID)
	if err != nil {
		state.Err = err
		return o.handleError(sess, state)
	}

	if cacheable && o.deps.Engine.UseCache && sess.Cache != nil {
		sess.Cache.Put(state.Question, state.SQL, result, state.SchemaVersion)
	}

	recommendations := charts.Recommend(result.Columns, sampleRows(result, responseSampleRows), state.Question)

	text := o.synthesizeResponse(ctx, state, result)
	o.rememberTurn(ctx, sess, state, text, state.SQL, result.TotalRows)

	envelope := &Envelope{
		QueryType:  QuerySQL,
		Text:       text,
		Success:    true,
		SQL:        state.SQL,
		Results:    page.Rows,
		Pagination: &page.Pagination,
	}
	if recommendations.IsVisualizable {
		envelope.VisualizationRecommendations = &recommendations
	}
	return envelope
}

// synthesizeResponse asks the model for a short answer over the result
// sample; on failure the row count alone is reported.
func (o *Orchestrator) synthesizeResponse(ctx context.Context, state TurnState, result *execution.SelectResult) string {
	fallback := fmt.Sprintf("The query returned %d rows.", result.TotalRows)

	sample, err := json.Marshal(sampleRows(result, responseSampleRows))
	if err != nil {
		return fallback
	}
	system, user, err := o.deps.Library.Render(prompts.TemplateResponseSynthesis, map[string]string{
		"question":      state.Question,
		"sql":           state.SQL,
		"total_rows":    strconv.Itoa(result.TotalRows),
		"result_sample": string(sample),
	})
	if err != nil {
		o.logger.Error("response synthesis prompt failed", zap.Error(err))
		return fallback
	}

	text, err := o.deps.Client.GenerateResponse(ctx, user, system, 0.3)
	if err != nil || strings.TrimSpace(text) == "" {
		o.logger.Warn("response synthesis failed", zap.Error(err))
		return fallback
	}
	return strings.TrimSpace(text)
}

func sampleRows(result *execution.SelectResult, n int) []map[string]any {
	if len(result.Rows) <= n {
		return result.Rows
	}
	return result.Rows[:n]
}
