// Package graph is the turn orchestrator. A turn enters at routing, flows
// through the conversational, standard or analytical path, and always ends
// at exactly one terminal node that writes the response envelope.
package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/querysage-ai/querysage-engine/pkg/analytical"
	"github.com/querysage-ai/querysage-engine/pkg/apperrors"
	"github.com/querysage-ai/querysage-engine/pkg/audit"
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

// memoryTurnsRetrieved is how many prior turns the memory lookup injects
// into prompts.
const memoryTurnsRetrieved = 5

// SchemaSource exposes the current schema context and its refresh path.
type SchemaSource interface {
	Current() *schema.Context
	Version() int64
	Refresh(ctx context.Context, hint string) (*schema.Context, error)
}

// Executor runs generated statements against the target database.
type Executor interface {
	ExecuteSelect(ctx context.Context, sql string) (*execution.SelectResult, error)
	ExecuteEdit(ctx context.Context, sqls []string, mode execution.EditMode) (*execution.EditResult, error)
}

// WriteVerifier assesses write statements before execution.
type WriteVerifier interface {
	Verify(ctx context.Context, sessionID, turnID string, sqls []string, question, schemaContext string) (*verifier.Report, error)
}

// AnalyticalRunner runs the multi-query analytical workflow.
type AnalyticalRunner interface {
	Run(ctx context.Context, question, schemaContext, memoryContext string, schemaVersion int64) (*analytical.Report, error)
}

// Deps are the orchestrator's collaborators. Analytical is a factory so
// each run binds the session's own exploration cache.
type Deps struct {
	Sessions   *session.Registry
	Schema     SchemaSource
	Client     llm.Client
	Library    *prompts.Library
	Generator  *generator.Generator
	Executor   Executor
	Verifier   WriteVerifier
	Auditor    *audit.Auditor
	Analytical func(s *session.Session) AnalyticalRunner
	Engine     config.EngineConfig
	Logger     *zap.Logger
}

// Orchestrator drives turns through the graph.
type Orchestrator struct {
	deps   Deps
	logger *zap.Logger
}

// New creates an orchestrator.
func New(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{deps: deps, logger: logger.Named("graph")}
}

// TurnRequest identifies one user turn.
type TurnRequest struct {
	SessionID string
	Question  string
	UserRole  string
	// EditMode overrides the session's edit permission when set.
	EditMode *bool
}

// ProcessTurn runs one turn to a terminal node and returns its envelope.
// Turns in the same session serialize; the turn deadline bounds the whole
// graph walk.
func (o *Orchestrator) ProcessTurn(ctx context.Context, req TurnRequest) *Envelope {
	sess := o.deps.Sessions.Acquire(req.SessionID)
	if req.EditMode != nil {
		sess.SetEditMode(*req.EditMode)
	}
	sess.Lock()
	defer sess.Unlock()

	ctx, cancel := context.WithTimeout(ctx, o.deps.Engine.TurnTimeout())
	defer cancel()

	state := TurnState{
		SessionID: req.SessionID,
		TurnID:    uuid.NewString(),
		Question:  strings.TrimSpace(req.Question),
		UserRole:  req.UserRole,
	}

	state = o.runNode(ctx, sess, "prepare_context", state, o.prepareContext)
	if state.Err != nil {
		return o.handleError(sess, state)
	}

	state = o.runNode(ctx, sess, "route_query", state, o.routeQuery)
	if state.Err != nil {
		return o.handleError(sess, state)
	}

	switch state.Workflow {
	case WorkflowConversational:
		return o.handleConversational(ctx, sess, state)
	case WorkflowAnalytical:
		return o.runAnalytical(ctx, sess, state)
	default:
		return o.runStandard(ctx, sess, state)
	}
}

// GetPage retrieves one page of a previously materialized result table.
func (o *Orchestrator) GetPage(sessionID, tableID string, page, pageSize int) *Envelope {
	sess := o.deps.Sessions.Acquire(sessionID)

	p, err := sess.Tables.GetPage(tableID, page, pageSize)
	if err != nil {
		kind, _ := apperrors.KindOf(err)
		return &Envelope{
			QueryType: QuerySQL,
			Success:   false,
			Text:      err.Error(),
			Error:     string(kind),
		}
	}
	return &Envelope{
		QueryType:  QuerySQL,
		Success:    true,
		Results:    p.Rows,
		Pagination: &p.Pagination,
	}
}

// nodeFunc is one graph transition.
type nodeFunc func(ctx context.Context, sess *session.Session, state TurnState) TurnState

// runNode executes a transition and logs it with input/output hashes.
func (o *Orchestrator) runNode(ctx context.Context, sess *session.Session, name string, state TurnState, fn nodeFunc) TurnState {
	start := time.Now()
	inputHash := state.hash()
	out := fn(ctx, sess, state)

	fields := []zap.Field{
		zap.String("node", name),
		zap.String("turn_id", state.TurnID),
		zap.String("input_hash", inputHash),
		zap.String("output_hash", out.hash()),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	}
	if out.Err != nil {
		fields = append(fields, zap.Error(out.Err))
		o.logger.Warn("node failed", fields...)
	} else {
		o.logger.Info("node executed", fields...)
	}
	return out
}

// prepareContext attaches the schema blob and the memory context.
func (o *Orchestrator) prepareContext(ctx context.Context, sess *session.Session, state TurnState) TurnState {
	current := o.deps.Schema.Current()
	if current == nil {
		refreshed, err := o.deps.Schema.Refresh(ctx, "first turn")
		if err != nil {
			state.Err = err
			return state
		}
		current = refreshed
	}
	state.SchemaBlob = schema.RenderBlob(current)
	state.SchemaSummary = schema.Summary(current)
	state.SchemaVersion = o.deps.Schema.Version()

	if o.deps.Engine.UseMemory && sess.Memory != nil {
		memoryContext, err := sess.Memory.Retrieve(ctx, state.SessionID, state.Question, memoryTurnsRetrieved)
		if err != nil {
			o.logger.Warn("memory retrieval failed", zap.Error(err))
		} else {
			state.MemoryContext = memoryContext
		}
	}
	return state
}

// routeQuery classifies the turn. A router failure is terminal for the
// turn and surfaces as an apology.
func (o *Orchestrator) routeQuery(ctx context.Context, _ *session.Session, state TurnState) TurnState {
	system, user, err := o.deps.Library.Render(prompts.TemplateRouter, map[string]string{
		"schema_summary": state.SchemaSummary,
		"memory_context": orPlaceholder(state.MemoryContext, "(none)"),
		"question":       state.Question,
	})
	if err != nil {
		state.Err = apperrors.Wrap(apperrors.KindRoutingFailed, "router prompt could not be built", err)
		return state
	}

	response, err := o.deps.Client.GenerateResponse(ctx, user, system, 0)
	if err != nil {
		state.Err = apperrors.Wrap(apperrors.KindRoutingFailed, "router model call failed", err)
		return state
	}

	parsed, err := llm.ParseJSONResponse[struct {
		Workflow string `json:"workflow"`
		Reason   string `json:"reason"`
	}](response)
	if err != nil {
		state.Err = apperrors.Wrap(apperrors.KindRoutingFailed,
			fmt.Sprintf("router response unreadable: %s", llm.Excerpt(response, 200)), err)
		return state
	}

	switch parsed.Workflow {
	case string(WorkflowConversational):
		state.Workflow = WorkflowConversational
	case string(WorkflowAnalytical):
		state.Workflow = WorkflowAnalytical
	default:
		state.Workflow = WorkflowStandard
	}
	state.RouteReason = parsed.Reason
	return state
}

// handleConversational answers without touching the database.
func (o *Orchestrator) handleConversational(ctx context.Context, sess *session.Session, state TurnState) *Envelope {
	text := ""
	system, user, err := o.deps.Library.Render(prompts.TemplateConversational, map[string]string{
		"schema_summary": state.SchemaSummary,
		"memory_context": orPlaceholder(state.MemoryContext, "(none)"),
		"question":       state.Question,
	})
	if err == nil {
		text, err = o.deps.Client.GenerateResponse(ctx, user, system, 0.4)
	}
	if err != nil || strings.TrimSpace(text) == "" {
		text = fmt.Sprintf("I answer questions about %s. Ask me about the data and I will query it for you.",
			state.SchemaSummary)
	}
	text = strings.TrimSpace(text)

	o.rememberTurn(ctx, sess, state, text, "", 0)
	return &Envelope{QueryType: QueryConversational, Text: text, Success: true}
}

// handleError is the terminal error node. Every unrecovered error becomes
// a conversational envelope with success=false.
func (o *Orchestrator) handleError(_ *session.Session, state TurnState) *Envelope {
	kind, _ := apperrors.KindOf(state.Err)
	o.logger.Warn("turn failed",
		zap.String("turn_id", state.TurnID),
		zap.String("kind", string(kind)),
		zap.Error(state.Err))
	return &Envelope{
		QueryType: QueryConversational,
		Success:   false,
		Text:      userMessage(kind, state),
		Error:     string(kind),
	}
}

func userMessage(kind apperrors.Kind, state TurnState) string {
	switch kind {
	case apperrors.KindRoutingFailed:
		return "Sorry, I could not work out how to handle that request. Could you rephrase it?"
	case apperrors.KindGenerationFailed:
		return fmt.Sprintf("I could not produce a query for %q. Try naming the columns or values you are interested in.", state.Question)
	case apperrors.KindParseFailed:
		return "The model's answer was unreadable. Please try again."
	case apperrors.KindSQLExecutionFailed:
		return fmt.Sprintf("The query failed to run.\nSQL: %s\nError: %v", state.SQL, errors.Unwrap(state.Err))
	case apperrors.KindAnalyticalAllFailed:
		return "None of the analysis queries succeeded. Try a narrower question."
	case apperrors.KindSchemaRefreshFailed:
		return "The table's schema could not be analyzed. Check the database connection and try again."
	case apperrors.KindTimeout:
		return "The request timed out before it finished."
	case apperrors.KindCancelled:
		return "The request was cancelled."
	default:
		if state.Err != nil {
			return fmt.Sprintf("Something went wrong: %v", state.Err)
		}
		return "Something went wrong."
	}
}

// rememberTurn writes the user question and the assistant answer to the
// session memory. Failures are logged, never surfaced.
func (o *Orchestrator) rememberTurn(ctx context.Context, sess *session.Session, state TurnState, answer, sql string, rowCount int) {
	if !o.deps.Engine.UseMemory || sess.Memory == nil {
		return
	}
	userMeta := memory.Metadata{Question: state.Question}
	if err := sess.Memory.StoreTurn(ctx, state.SessionID, memory.RoleUser, state.Question, userMeta); err != nil {
		o.logger.Warn("memory write failed", zap.Error(err))
	}
	assistantMeta := memory.Metadata{Question: state.Question, SQL: sql, ResultRowCount: rowCount}
	if err := sess.Memory.StoreTurn(ctx, state.SessionID, memory.RoleAssistant, answer, assistantMeta); err != nil {
		o.logger.Warn("memory write failed", zap.Error(err))
	}
}

func orPlaceholder(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
