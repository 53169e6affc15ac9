package graph

import (
	"github.com/querysage-ai/querysage-engine/pkg/charts"
	"github.com/querysage-ai/querysage-engine/pkg/execution"
	"github.com/querysage-ai/querysage-engine/pkg/verifier"
)

// QueryType labels what kind of answer the envelope carries.
type QueryType string

const (
	QueryConversational QueryType = "conversational"
	QuerySQL            QueryType = "sql"
	QueryEditSQL        QueryType = "edit_sql"
	QueryAnalysis       QueryType = "analysis"
	QueryEditExecution  QueryType = "edit_execution"
)

// AnalysisTable is one sub-question result inside an analysis envelope.
type AnalysisTable struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	SQL         string                `json:"sql"`
	Results     []map[string]any      `json:"results"`
	RowCount    int                   `json:"row_count"`
	TableID     string                `json:"table_id"`
	Pagination  *execution.Pagination `json:"pagination,omitempty"`
}

// Envelope is the turn result handed to the transport layer. Every turn,
// including failed ones, produces exactly one envelope; errors never cross
// the public boundary as panics or raw error values.
type Envelope struct {
	QueryType QueryType `json:"query_type"`
	Text      string    `json:"text"`
	Success   bool      `json:"success"`

	SQL        string                `json:"sql,omitempty"`
	Results    []map[string]any      `json:"results,omitempty"`
	Pagination *execution.Pagination `json:"pagination,omitempty"`

	Tables       []AnalysisTable `json:"tables,omitempty"`
	AnalysisType string          `json:"analysis_type,omitempty"`

	RequiresConfirmation         bool             `json:"requires_confirmation,omitempty"`
	VerificationResult           *verifier.Report `json:"verification_result,omitempty"`
	VisualizationRecommendations *charts.Result   `json:"visualization_recommendations,omitempty"`

	TransactionMode   bool                        `json:"transaction_mode,omitempty"`
	RollbackPerformed bool                        `json:"rollback_performed,omitempty"`
	FailedAtQuery     int                         `json:"failed_at_query,omitempty"`
	QueryResults      []execution.StatementResult `json:"query_results,omitempty"`

	// Error carries the error kind when Success is false.
	Error string `json:"error,omitempty"`
}
