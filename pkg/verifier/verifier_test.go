package verifier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querysage-ai/querysage-engine/pkg/llm"
	"github.com/querysage-ai/querysage-engine/pkg/prompts"
)

const safeAssessment = `{
	"is_safe": true,
	"is_correct": true,
	"safety_issues": [],
	"correctness_issues": [],
	"impact_assessment": "Updates a handful of rows.",
	"estimated_affected_records": 4,
	"recommendations": [],
	"explanation": "Targeted update with a selective filter."
}`

func newVerifier(responses ...string) (*Verifier, *llm.MockClient) {
	client := llm.NewMockClient(responses...)
	return New(client, prompts.MustLoad(), nil, "rates", nil), client
}

func TestVerifySafeUpdate(t *testing.T) {
	v, client := newVerifier(safeAssessment)

	report, err := v.Verify(context.Background(), "s1", "t1",
		[]string{"UPDATE rates SET rate = 90 WHERE id = 7"},
		"set rate 90 for id 7", "schema")
	require.NoError(t, err)

	assert.Equal(t, VerdictSafeToExecute, report.Verdict)
	assert.False(t, report.RequiresConfirmation())
	assert.Equal(t, 1, client.Calls())
	assert.Contains(t, client.Prompts[0], "UPDATE rates SET rate = 90 WHERE id = 7")
}

func TestVerifyUnguardedDeleteBlocked(t *testing.T) {
	v, _ := newVerifier(safeAssessment)

	report, err := v.Verify(context.Background(), "s1", "t1",
		[]string{"DELETE FROM rates"}, "delete everything", "schema")
	require.NoError(t, err)

	assert.Equal(t, VerdictDoNotExecute, report.Verdict)
	assert.True(t, report.RequiresConfirmation())
	assert.False(t, report.IsSafe)
	require.NotEmpty(t, report.SafetyIssues)
	assert.Contains(t, report.SafetyIssues[0], "DELETE without WHERE")
}

func TestVerifyDropTargetTableBlocked(t *testing.T) {
	v, _ := newVerifier(safeAssessment)

	tests := []struct {
		name string
		sql  string
	}{
		{"drop", "DROP TABLE rates"},
		{"drop qualified", "DROP TABLE public.rates"},
		{"drop if exists", "DROP TABLE IF EXISTS rates"},
		{"truncate", "TRUNCATE TABLE rates"},
		{"truncate short", "TRUNCATE rates"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := v.Verify(context.Background(), "s", "t", []string{tt.sql}, "q", "schema")
			require.NoError(t, err)
			assert.Equal(t, VerdictDoNotExecute, report.Verdict, tt.sql)
		})
	}
}

func TestVerifyDropOtherTableNotCritical(t *testing.T) {
	v, _ := newVerifier(safeAssessment)

	report, err := v.Verify(context.Background(), "s", "t",
		[]string{"DROP TABLE scratch_tmp"}, "drop the scratch table", "schema")
	require.NoError(t, err)
	assert.NotEqual(t, VerdictDoNotExecute, report.Verdict)
}

func TestVerifyConstraintDisablingBlocked(t *testing.T) {
	v, _ := newVerifier(safeAssessment)

	for _, sql := range []string{
		"ALTER TABLE rates DISABLE TRIGGER ALL",
		"ALTER TABLE rates DROP CONSTRAINT rates_rate_check",
	} {
		report, err := v.Verify(context.Background(), "s", "t", []string{sql}, "q", "schema")
		require.NoError(t, err)
		assert.Equal(t, VerdictDoNotExecute, report.Verdict, sql)
	}
}

func TestVerifyInjectionLiteralBlocked(t *testing.T) {
	v, _ := newVerifier(safeAssessment)

	report, err := v.Verify(context.Background(), "s", "t",
		[]string{"UPDATE rates SET note = '1'' OR ''1''=''1' WHERE id = 1"},
		"q", "schema")
	require.NoError(t, err)
	assert.Equal(t, VerdictDoNotExecute, report.Verdict)
}

func TestVerifyCorrectnessIssuesRequireReview(t *testing.T) {
	v, _ := newVerifier(`{
		"is_safe": true,
		"is_correct": false,
		"safety_issues": [],
		"correctness_issues": ["WHERE clause references a missing column"],
		"impact_assessment": "Unclear.",
		"estimated_affected_records": 2,
		"recommendations": ["Check the column name"],
		"explanation": "Filter does not match the schema."
	}`)

	report, err := v.Verify(context.Background(), "s", "t",
		[]string{"UPDATE rates SET rate = 1 WHERE contry = 'DE'"}, "q", "schema")
	require.NoError(t, err)
	assert.Equal(t, VerdictRequiresReview, report.Verdict)
	assert.True(t, report.RequiresConfirmation())
}

func TestVerifyLargeImpactRequiresReview(t *testing.T) {
	v, _ := newVerifier(`{
		"is_safe": true,
		"is_correct": true,
		"safety_issues": [],
		"correctness_issues": [],
		"impact_assessment": "Touches most of the table.",
		"estimated_affected_records": 4800,
		"recommendations": [],
		"explanation": "Broad filter."
	}`)

	report, err := v.Verify(context.Background(), "s", "t",
		[]string{"UPDATE rates SET adjusted = true WHERE rate > 0"}, "q", "schema")
	require.NoError(t, err)
	assert.Equal(t, VerdictRequiresReview, report.Verdict)
}

func TestVerifyUnknownImpactRequiresReview(t *testing.T) {
	v, _ := newVerifier(`{
		"is_safe": true,
		"is_correct": true,
		"safety_issues": [],
		"correctness_issues": [],
		"impact_assessment": "Cannot estimate.",
		"estimated_affected_records": -1,
		"recommendations": [],
		"explanation": "No statistics available."
	}`)

	report, err := v.Verify(context.Background(), "s", "t",
		[]string{"UPDATE rates SET rate = rate * 1.1 WHERE supplier = 'Acme'"}, "q", "schema")
	require.NoError(t, err)
	assert.Equal(t, VerdictRequiresReview, report.Verdict)
}

func TestVerifyToleratesStringTypedFields(t *testing.T) {
	v, _ := newVerifier(`{
		"is_safe": true,
		"is_correct": true,
		"safety_issues": [],
		"correctness_issues": [],
		"impact_assessment": 12,
		"estimated_affected_records": "12",
		"recommendations": [],
		"explanation": "Targeted update."
	}`)

	report, err := v.Verify(context.Background(), "s1", "t1",
		[]string{"UPDATE rates SET rate = 90 WHERE id = 7"},
		"set rate 90 for id 7", "schema")
	require.NoError(t, err)

	assert.Equal(t, VerdictSafeToExecute, report.Verdict)
	assert.Equal(t, 12, report.EstimatedAffectedRecords)
	assert.Equal(t, "12", report.ImpactAssessment)
}

func TestVerifyModelFailureDegradesToReview(t *testing.T) {
	client := llm.NewMockClient()
	client.QueueError(errors.New("model unavailable"))
	v := New(client, prompts.MustLoad(), nil, "rates", nil)

	report, err := v.Verify(context.Background(), "s", "t",
		[]string{"UPDATE rates SET rate = 1 WHERE id = 1"}, "q", "schema")
	require.NoError(t, err)
	assert.Equal(t, VerdictRequiresReview, report.Verdict)
	assert.Contains(t, report.Explanation, "manual review")
}

func TestVerifyUnreadableResponseDegradesToReview(t *testing.T) {
	v, _ := newVerifier("this is not json at all")

	report, err := v.Verify(context.Background(), "s", "t",
		[]string{"UPDATE rates SET rate = 1 WHERE id = 1"}, "q", "schema")
	require.NoError(t, err)
	assert.Equal(t, VerdictRequiresReview, report.Verdict)
}

func TestVerifyEmptyStatements(t *testing.T) {
	v, _ := newVerifier(safeAssessment)
	_, err := v.Verify(context.Background(), "s", "t", nil, "q", "schema")
	assert.Error(t, err)
}

func TestReportSummary(t *testing.T) {
	r := &Report{
		Verdict:                  VerdictRequiresReview,
		ImpactAssessment:         "Touches 500 rows.",
		EstimatedAffectedRecords: 500,
		SafetyIssues:             []string{"broad filter"},
		Recommendations:          []string{"add a narrower WHERE clause"},
	}
	s := r.Summary()
	assert.Contains(t, s, "Verdict: REQUIRES_REVIEW")
	assert.Contains(t, s, "Estimated affected records: 500")
	assert.Contains(t, s, "Safety: broad filter")
	assert.Contains(t, s, "Recommendation: add a narrower WHERE clause")
}

func TestHasWhereClause(t *testing.T) {
	assert.True(t, hasWhereClause("DELETE FROM rates WHERE id = 1"))
	assert.False(t, hasWhereClause("DELETE FROM rates"))
	assert.False(t, hasWhereClause("UPDATE rates SET note = 'no where here'"))
}
