package graph

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/querysage-ai/querysage-engine/pkg/analytical"
	"github.com/querysage-ai/querysage-engine/pkg/execution"
	"github.com/querysage-ai/querysage-engine/pkg/session"
)

// runAnalytical plans and executes the multi-query workflow. Too few
// planned sub-questions degrade the turn to the standard path.
func (o *Orchestrator) runAnalytical(ctx context.Context, sess *session.Session, state TurnState) *Envelope {
	runner := o.deps.Analytical(sess)

	report, err := runner.Run(ctx, state.Question, state.SchemaBlob, state.MemoryContext, state.SchemaVersion)
	if err != nil {
		if errors.Is(err, analytical.ErrTooFewSubQuestions) {
			o.logger.Info("analytical plan too small, degrading to standard",
				zap.String("turn_id", state.TurnID))
			state.Workflow = WorkflowStandard
			return o.runStandard(ctx, sess, state)
		}
		state.Err = err
		return o.handleError(sess, state)
	}
	state.Report = report

	tables := make([]AnalysisTable, 0, len(report.SubResults))
	for i, sub := range report.SubResults {
		if !sub.Succeeded() {
			continue
		}
		stored := sess.Tables.Store(sub.SQL, &execution.SelectResult{
			Rows:      sub.Rows,
			TotalRows: sub.RowCount,
			ElapsedMs: sub.ElapsedMs,
		}, 0)
		page, err := sess.Tables.FirstPage(stored.TableID)
		if err != nil {
			continue
		}
		tables = append(tables, AnalysisTable{
			Name:        fmt.Sprintf("Sub-question %d", i+1),
			Description: sub.SubQuestion,
			SQL:         sub.SQL,
			Results:     page.Rows,
			RowCount:    sub.RowCount,
			TableID:     stored.TableID,
			Pagination:  &page.Pagination,
		})
	}

	o.rememberTurn(ctx, sess, state, report.Narrative, "", 0)
	return &Envelope{
		QueryType:    QueryAnalysis,
		Text:         report.Narrative,
		Success:      true,
		Tables:       tables,
		AnalysisType: "comprehensive",
	}
}
