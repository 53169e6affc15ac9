package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/querysage-ai/querysage-engine/pkg/apperrors"
	"github.com/querysage-ai/querysage-engine/pkg/audit"
	"github.com/querysage-ai/querysage-engine/pkg/execution"
	"github.com/querysage-ai/querysage-engine/pkg/session"
	"github.com/querysage-ai/querysage-engine/pkg/sqlutil"
	"github.com/querysage-ai/querysage-engine/pkg/verifier"
)

// verifyEdit runs the verifier over generated write statements. Safe
// statements in an edit-enabled session execute immediately; everything
// else returns the statements for explicit confirmation.
func (o *Orchestrator) verifyEdit(ctx context.Context, sess *session.Session, state TurnState) *Envelope {
	statements := state.Generation.Statements

	report, err := o.deps.Verifier.Verify(ctx, state.SessionID, state.TurnID,
		statements, state.Question, state.SchemaBlob)
	if err != nil {
		state.Err = err
		return o.handleError(sess, state)
	}
	state.Verification = report

	if report.Verdict == verifier.VerdictSafeToExecute && sess.EditMode() {
		return o.executeEditLocked(ctx, sess, state, statements, execution.EditModeAuto)
	}

	text := report.Summary()
	if report.Verdict == verifier.VerdictDoNotExecute {
		text = "These statements will not be executed.\n" + text
	} else {
		text = "Review the statements below and confirm to execute them.\n" + text
	}

	o.rememberTurn(ctx, sess, state, text, state.SQL, 0)
	return &Envelope{
		QueryType:            QueryEditSQL,
		Text:                 text,
		Success:              true,
		SQL:                  state.SQL,
		RequiresConfirmation: true,
		VerificationResult:   report,
	}
}

// ExecuteEdit runs previously confirmed write statements. This is the
// resubmission endpoint for the confirmation contract; nothing is verified
// again here beyond the session's edit permission.
func (o *Orchestrator) ExecuteEdit(ctx context.Context, sessionID string, statements []string, transactionMode bool) *Envelope {
	sess := o.deps.Sessions.Acquire(sessionID)
	sess.Lock()
	defer sess.Unlock()

	if !sess.EditMode() {
		return &Envelope{
			QueryType: QueryEditExecution,
			Success:   false,
			Text:      "Edit mode is disabled for this session.",
			Error:     string(apperrors.KindTransactionFailed),
		}
	}
	if len(statements) == 0 {
		return &Envelope{
			QueryType: QueryEditExecution,
			Success:   false,
			Text:      "No statements to execute.",
			Error:     string(apperrors.KindTransactionFailed),
		}
	}

	state := TurnState{
		SessionID: sessionID,
		TurnID:    uuid.NewString(),
		SQL:       sqlutil.JoinStatements(statements),
	}
	mode := execution.EditModeAuto
	if transactionMode {
		mode = execution.EditModeTransaction
	}
	return o.executeEditLocked(ctx, sess, state, statements, mode)
}

// executeEditLocked runs the statements and writes the edit_execution
// envelope. The caller holds the session lock.
func (o *Orchestrator) executeEditLocked(ctx context.Context, sess *session.Session, state TurnState, statements []string, mode execution.EditMode) *Envelope {
	result, err := o.deps.Executor.ExecuteEdit(ctx, statements, mode)
	if err != nil {
		state.Err = err
		return o.handleError(sess, state)
	}
	state.Edit = result

	if o.deps.Auditor != nil {
		o.deps.Auditor.LogEditExecuted(state.SessionID, state.TurnID, audit.EditDetails{
			StatementCount: len(statements),
			Transaction:    result.Transaction,
			RolledBack:     result.RollbackPerformed,
			AffectedRows:   totalAffected(result),
			SchemaChanged:  result.SchemaChanged,
		})
	}

	text := editText(result)
	if result.SchemaChanged {
		if _, err := o.deps.Schema.Refresh(ctx, "schema changed by edit"); err != nil {
			o.logger.Warn("schema refresh after edit failed", zap.Error(err))
			text += "\nWarning: the schema could not be re-analyzed after this change."
		} else if sess.Cache != nil {
			evicted := sess.Cache.InvalidateBefore(o.deps.Schema.Version())
			o.logger.Info("cache invalidated after schema change", zap.Int("evicted", evicted))
		}
	}

	o.rememberTurn(ctx, sess, state, text, state.SQL, int(totalAffected(result)))

	envelope := &Envelope{
		QueryType:         QueryEditExecution,
		Text:              text,
		Success:           result.Success(),
		SQL:               state.SQL,
		TransactionMode:   result.Transaction,
		RollbackPerformed: result.RollbackPerformed,
		FailedAtQuery:     result.FailedAtQuery,
		QueryResults:      result.PerStatement,
	}
	if !result.Success() {
		if result.Transaction {
			envelope.Error = string(apperrors.KindTransactionFailed)
		} else {
			envelope.Error = string(apperrors.KindSQLExecutionFailed)
		}
	}
	return envelope
}

func editText(result *execution.EditResult) string {
	if result.Success() {
		return fmt.Sprintf("Executed %d statement(s); %d row(s) affected.",
			len(result.PerStatement), totalAffected(result))
	}
	var failed string
	for _, s := range result.PerStatement {
		if s.Error != "" && !s.Skipped {
			failed = s.Error
			break
		}
	}
	text := fmt.Sprintf("Statement %d failed: %s", result.FailedAtQuery, failed)
	if result.RollbackPerformed {
		text += "\nAll statements were rolled back."
	}
	return strings.TrimSpace(text)
}

func totalAffected(result *execution.EditResult) int64 {
	var total int64
	for _, s := range result.PerStatement {
		if s.Success {
			total += s.AffectedRows
		}
	}
	return total
}
