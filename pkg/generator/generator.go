// Package generator turns a natural-language question plus schema context
// into executable SQL statements via the LLM, with a single JSON repair
// attempt and deterministic edit detection.
package generator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/querysage-ai/querysage-engine/pkg/apperrors"
	"github.com/querysage-ai/querysage-engine/pkg/llm"
	"github.com/querysage-ai/querysage-engine/pkg/prompts"
	"github.com/querysage-ai/querysage-engine/pkg/sqlutil"
)

// Kind is the model's classification of the generated statements.
type Kind string

const (
	KindSelect Kind = "select"
	KindEdit   Kind = "edit"
	KindMulti  Kind = "multi"
)

// Request carries everything the generation prompt binds.
type Request struct {
	Question      string
	SchemaContext string
	MemoryContext string
	Exploration   string
	// ErrorFeedback carries the previous attempt's SQL and error when the
	// auto-fix loop re-invokes generation.
	ErrorFeedback string
}

// Generation is one round of generated SQL.
type Generation struct {
	Kind                  Kind
	Statements            []string
	Explanation           string
	NeedsEditConfirmation bool
}

// llmGeneration is the model's JSON response shape.
type llmGeneration struct {
	Kind        string `json:"kind"`
	SQL         string `json:"sql"`
	Explanation string `json:"explanation"`
}

// Generator produces SQL from questions.
type Generator struct {
	client  llm.Client
	library *prompts.Library
	logger  *zap.Logger
}

// New creates a generator.
func New(client llm.Client, library *prompts.Library, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		client:  client,
		library: library,
		logger:  logger.Named("generator"),
	}
}

// Generate asks the model for SQL answering the question. A malformed JSON
// response gets one repair round; a second failure classifies as
// parse_failed. A response without SQL classifies as generation_failed.
func (g *Generator) Generate(ctx context.Context, req Request) (*Generation, error) {
	system, user, err := g.library.Render(prompts.TemplateSQLGeneration, map[string]string{
		"schema_context": req.SchemaContext,
		"exploration":    req.Exploration,
		"memory_context": orPlaceholder(req.MemoryContext, "(none)"),
		"error_feedback": req.ErrorFeedback,
		"question":       req.Question,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindGenerationFailed, "generation prompt could not be built", err)
	}

	response, err := g.client.GenerateResponse(ctx, user, system, 0)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindGenerationFailed, "generation model call failed", err)
	}

	parsed, err := llm.ParseJSONResponse[llmGeneration](response)
	if err != nil {
		parsed, err = g.repair(ctx, system, response, err)
		if err != nil {
			return nil, err
		}
	}

	generation, err := fromParsed(parsed)
	if err != nil {
		return nil, err
	}

	g.logger.Info("sql generated",
		zap.String("kind", string(generation.Kind)),
		zap.Int("statements", len(generation.Statements)),
		zap.Bool("needs_edit_confirmation", generation.NeedsEditConfirmation),
		zap.Bool("retry", req.ErrorFeedback != ""))
	return generation, nil
}

// repair gives the model one chance to reformat an unreadable reply.
func (g *Generator) repair(ctx context.Context, system, response string, parseErr error) (llmGeneration, error) {
	g.logger.Warn("generation response unreadable, attempting repair",
		zap.String("excerpt", llm.Excerpt(response, 200)),
		zap.Error(parseErr))

	repairPrompt := fmt.Sprintf(
		"Your previous reply could not be parsed (%v). Reformat it as the required JSON object "+
			"{\"kind\": ..., \"sql\": ..., \"explanation\": ...} with no surrounding prose:\n\n%s",
		parseErr, response)

	repaired, err := g.client.GenerateResponse(ctx, repairPrompt, system, 0)
	if err != nil {
		return llmGeneration{}, apperrors.Wrap(apperrors.KindParseFailed,
			fmt.Sprintf("model response unreadable: %s", llm.Excerpt(response, 200)), err)
	}

	parsed, err := llm.ParseJSONResponse[llmGeneration](repaired)
	if err != nil {
		return llmGeneration{}, apperrors.Wrap(apperrors.KindParseFailed,
			fmt.Sprintf("model response unreadable after repair: %s", llm.Excerpt(repaired, 200)), err)
	}
	return parsed, nil
}

// fromParsed normalizes the model's reply into a Generation. The edit flag
// is derived from the statements themselves, not just the model's kind, so
// a mislabeled mutation still requires confirmation.
func fromParsed(parsed llmGeneration) (*Generation, error) {
	sql := strings.TrimSpace(parsed.SQL)
	if sql == "" {
		return nil, apperrors.New(apperrors.KindGenerationFailed, "model returned no SQL")
	}

	statements := sqlutil.SplitStatements(sql)
	if len(statements) == 0 {
		return nil, apperrors.New(apperrors.KindGenerationFailed, "model returned no SQL")
	}

	kind := Kind(strings.ToLower(strings.TrimSpace(parsed.Kind)))
	switch kind {
	case KindSelect, KindEdit, KindMulti:
	default:
		kind = inferKind(statements)
	}
	if len(statements) > 1 {
		kind = KindMulti
	}

	needsConfirmation := kind == KindEdit
	for _, stmt := range statements {
		if sqlutil.IsEdit(stmt) {
			needsConfirmation = true
			if kind == KindSelect {
				kind = KindEdit
			}
		}
	}

	return &Generation{
		Kind:                  kind,
		Statements:            statements,
		Explanation:           strings.TrimSpace(parsed.Explanation),
		NeedsEditConfirmation: needsConfirmation,
	}, nil
}

func inferKind(statements []string) Kind {
	if len(statements) > 1 {
		return KindMulti
	}
	if sqlutil.IsEdit(statements[0]) {
		return KindEdit
	}
	return KindSelect
}

// FormatErrorFeedback renders the previous attempt for the auto-fix round.
func FormatErrorFeedback(sql string, execErr error) string {
	return fmt.Sprintf("The previous SQL failed. Fix it.\nSQL:\n%s\nError:\n%v", sql, execErr)
}

func orPlaceholder(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
