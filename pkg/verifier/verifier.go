package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/querysage-ai/querysage-engine/pkg/audit"
	"github.com/querysage-ai/querysage-engine/pkg/jsonutil"
	"github.com/querysage-ai/querysage-engine/pkg/llm"
	"github.com/querysage-ai/querysage-engine/pkg/prompts"
	"github.com/querysage-ai/querysage-engine/pkg/sqlutil"
)

// Verdict is the final disposition of a write statement batch.
type Verdict string

const (
	VerdictSafeToExecute Verdict = "SAFE_TO_EXECUTE"
	VerdictRequiresReview Verdict = "REQUIRES_REVIEW"
	VerdictDoNotExecute  Verdict = "DO_NOT_EXECUTE"
)

// reviewRowThreshold: edits estimated to touch more rows than this are
// escalated to review even when individually well-formed.
const reviewRowThreshold = 100

// Report is the structured assessment of a write statement batch.
type Report struct {
	IsSafe                   bool     `json:"is_safe"`
	IsCorrect                bool     `json:"is_correct"`
	SafetyIssues             []string `json:"safety_issues"`
	CorrectnessIssues        []string `json:"correctness_issues"`
	ImpactAssessment         string   `json:"impact_assessment"`
	EstimatedAffectedRecords int      `json:"estimated_affected_records"`
	Recommendations          []string `json:"recommendations"`
	Verdict                  Verdict  `json:"verdict"`
	Explanation              string   `json:"explanation"`
}

// llmAssessment is the model's JSON response, verdict-free; the
// verdict is derived locally. Impact and record-count fields come back
// as strings or numbers depending on the model, so they are decoded
// leniently.
type llmAssessment struct {
	IsSafe                   bool            `json:"is_safe"`
	IsCorrect                bool            `json:"is_correct"`
	SafetyIssues             []string        `json:"safety_issues"`
	CorrectnessIssues        []string        `json:"correctness_issues"`
	ImpactAssessment         json.RawMessage `json:"impact_assessment"`
	EstimatedAffectedRecords json.RawMessage `json:"estimated_affected_records"`
	Recommendations          []string        `json:"recommendations"`
	Explanation              json.RawMessage `json:"explanation"`
}

// Verifier assesses write statements before execution.
type Verifier struct {
	client      llm.Client
	library     *prompts.Library
	auditor     *audit.Auditor
	targetTable string
	logger      *zap.Logger
}

// New creates a verifier for the given target table.
func New(client llm.Client, library *prompts.Library, auditor *audit.Auditor, targetTable string, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		client:      client,
		library:     library,
		auditor:     auditor,
		targetTable: targetTable,
		logger:      logger.Named("verifier"),
	}
}

// Verify screens the statements deterministically, asks the model for
// a structured assessment, and derives the verdict. Model failures
// degrade to REQUIRES_REVIEW rather than blocking the turn.
func (v *Verifier) Verify(ctx context.Context, sessionID, turnID string, sqls []string, question, schemaContext string) (*Report, error) {
	if len(sqls) == 0 {
		return nil, fmt.Errorf("no statements to verify")
	}

	criticals := screen(sqls, v.targetTable)
	for _, c := range criticals {
		if c.Injection != nil && v.auditor != nil {
			v.auditor.LogInjectionAttempt(sessionID, turnID, audit.InjectionDetails{
				Source:      c.Injection.Source,
				Value:       c.Injection.Value,
				Fingerprint: c.Injection.Fingerprint,
				SQL:         c.Statement,
			})
		}
	}

	report := v.assess(ctx, sqls, question, schemaContext)

	for _, c := range criticals {
		report.IsSafe = false
		report.SafetyIssues = append(report.SafetyIssues, c.Issue)
	}
	report.Verdict = deriveVerdict(len(criticals) > 0, report)

	if report.Verdict == VerdictDoNotExecute && v.auditor != nil {
		v.auditor.LogStatementBlocked(sessionID, turnID, audit.BlockedDetails{
			SQL:     sqlutil.JoinStatements(sqls),
			Verdict: string(report.Verdict),
			Issues:  report.SafetyIssues,
		})
	}

	v.logger.Info("statements verified",
		zap.Int("statements", len(sqls)),
		zap.String("verdict", string(report.Verdict)),
		zap.Int("safety_issues", len(report.SafetyIssues)),
		zap.Int("correctness_issues", len(report.CorrectnessIssues)))
	return report, nil
}

// assess asks the model for the structured assessment. On any failure
// it returns a conservative placeholder.
func (v *Verifier) assess(ctx context.Context, sqls []string, question, schemaContext string) *Report {
	system, user, err := v.library.Render(prompts.TemplateVerification, map[string]string{
		"schema_context": schemaContext,
		"sql":            sqlutil.JoinStatements(sqls),
		"question":       question,
	})
	if err != nil {
		v.logger.Error("verification prompt failed", zap.Error(err))
		return conservativeReport("verification prompt could not be built")
	}

	response, err := v.client.GenerateResponse(ctx, user, system, 0)
	if err != nil {
		v.logger.Warn("verification model call failed", zap.Error(err))
		return conservativeReport("automated assessment unavailable, manual review required")
	}

	assessment, err := llm.ParseJSONResponse[llmAssessment](response)
	if err != nil {
		v.logger.Warn("verification response unreadable",
			zap.String("excerpt", llm.Excerpt(response, 200)),
			zap.Error(err))
		return conservativeReport("automated assessment unreadable, manual review required")
	}

	return &Report{
		IsSafe:                   assessment.IsSafe,
		IsCorrect:                assessment.IsCorrect,
		SafetyIssues:             assessment.SafetyIssues,
		CorrectnessIssues:        assessment.CorrectnessIssues,
		ImpactAssessment:         jsonutil.FlexibleString(assessment.ImpactAssessment),
		EstimatedAffectedRecords: jsonutil.FlexibleInt(assessment.EstimatedAffectedRecords, -1),
		Recommendations:          assessment.Recommendations,
		Explanation:              jsonutil.FlexibleString(assessment.Explanation),
	}
}

func conservativeReport(reason string) *Report {
	return &Report{
		IsSafe:                   false,
		IsCorrect:                false,
		ImpactAssessment:         reason,
		EstimatedAffectedRecords: -1,
		Explanation:              reason,
	}
}

func deriveVerdict(hasCriticals bool, report *Report) Verdict {
	if hasCriticals {
		return VerdictDoNotExecute
	}
	if !report.IsSafe || !report.IsCorrect || len(report.CorrectnessIssues) > 0 {
		return VerdictRequiresReview
	}
	if report.EstimatedAffectedRecords > reviewRowThreshold || report.EstimatedAffectedRecords < 0 {
		return VerdictRequiresReview
	}
	return VerdictSafeToExecute
}

// RequiresConfirmation reports whether the caller must confirm before
// execution. DO_NOT_EXECUTE statements are never auto-executed.
func (r *Report) RequiresConfirmation() bool {
	return r.Verdict != VerdictSafeToExecute
}

// Summary renders the report for the response text.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Verdict: %s\n", r.Verdict)
	if r.ImpactAssessment != "" {
		fmt.Fprintf(&b, "Impact: %s\n", r.ImpactAssessment)
	}
	if r.EstimatedAffectedRecords >= 0 {
		fmt.Fprintf(&b, "Estimated affected records: %d\n", r.EstimatedAffectedRecords)
	}
	for _, issue := range r.SafetyIssues {
		fmt.Fprintf(&b, "- Safety: %s\n", issue)
	}
	for _, issue := range r.CorrectnessIssues {
		fmt.Fprintf(&b, "- Correctness: %s\n", issue)
	}
	for _, rec := range r.Recommendations {
		fmt.Fprintf(&b, "- Recommendation: %s\n", rec)
	}
	return strings.TrimRight(b.String(), "\n")
}
