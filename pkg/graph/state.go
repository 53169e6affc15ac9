package graph

import (
	"fmt"
	"hash/fnv"

	"github.com/querysage-ai/querysage-engine/pkg/analytical"
	"github.com/querysage-ai/querysage-engine/pkg/execution"
	"github.com/querysage-ai/querysage-engine/pkg/generator"
	"github.com/querysage-ai/querysage-engine/pkg/verifier"
)

// Workflow is the routed handling path for a turn.
type Workflow string

const (
	WorkflowConversational Workflow = "conversational"
	WorkflowStandard       Workflow = "standard"
	WorkflowAnalytical     Workflow = "analytical"
	WorkflowError          Workflow = "error"
)

// TurnState is the per-turn record threaded through the node functions.
// Nodes receive it by value and return an updated copy; the orchestrator
// holds the current state and routes on it.
type TurnState struct {
	SessionID string
	TurnID    string
	Question  string
	UserRole  string

	SchemaBlob    string
	SchemaSummary string
	SchemaVersion int64
	MemoryContext string

	Workflow    Workflow
	RouteReason string

	Generation         *generator.Generation
	SQL                string
	ValidationAttempts int

	Results      *execution.SelectResult
	Verification *verifier.Report
	Edit         *execution.EditResult
	Report       *analytical.Report

	Err error
}

// hash fingerprints the state for the per-node transition log.
func (s TurnState) hash() string {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s|%s|%s|%d|%d|%d",
		s.Question, s.Workflow, s.SQL, s.ValidationAttempts, s.SchemaVersion, len(s.MemoryContext))
	if s.Results != nil {
		fmt.Fprintf(h, "|rows=%d", s.Results.TotalRows)
	}
	if s.Report != nil {
		fmt.Fprintf(h, "|subs=%d", len(s.Report.SubResults))
	}
	if s.Err != nil {
		fmt.Fprintf(h, "|err=%s", s.Err.Error())
	}
	return fmt.Sprintf("%08x", h.Sum32())
}
