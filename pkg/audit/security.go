// Package audit provides security audit logging for SIEM consumption.
// Events are emitted as structured JSON so they can be parsed and
// alerted on without scraping free-form log lines.
package audit

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// EventType categorizes security-relevant events for filtering and alerting.
type EventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection flags a
	// literal embedded in generated SQL.
	EventSQLInjectionAttempt EventType = "sql_injection_attempt"
	// EventStatementBlocked is logged when verification refuses to
	// execute a write statement.
	EventStatementBlocked EventType = "statement_blocked"
	// EventEditExecuted is logged after write statements run against
	// the target table.
	EventEditExecuted EventType = "edit_executed"
)

// Event is one auditable security event.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	SessionID string    `json:"session_id"`
	TurnID    string    `json:"turn_id,omitempty"`
	Details   any       `json:"details"`
	Severity  string    `json:"severity"` // info, warning, critical
}

// InjectionDetails records what libinjection flagged.
type InjectionDetails struct {
	Source      string `json:"source"`
	Value       string `json:"value"`
	Fingerprint string `json:"fingerprint"`
	SQL         string `json:"sql,omitempty"`
}

// BlockedDetails records why a statement was refused.
type BlockedDetails struct {
	SQL     string   `json:"sql"`
	Verdict string   `json:"verdict"`
	Issues  []string `json:"issues"`
}

// EditDetails records an executed write.
type EditDetails struct {
	StatementCount int   `json:"statement_count"`
	Transaction    bool  `json:"transaction"`
	RolledBack     bool  `json:"rolled_back"`
	AffectedRows   int64 `json:"affected_rows"`
	SchemaChanged  bool  `json:"schema_changed"`
}

// Auditor writes security events under a dedicated logger namespace.
type Auditor struct {
	logger *zap.Logger
}

// NewAuditor creates an auditor. The "security_audit" namespace keeps
// these events easy to filter in SIEM systems.
func NewAuditor(logger *zap.Logger) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{logger: logger.Named("security_audit")}
}

// LogInjectionAttempt records a flagged literal at ERROR level with
// critical severity for immediate alerting.
func (a *Auditor) LogInjectionAttempt(sessionID, turnID string, details InjectionDetails) {
	event := Event{
		Timestamp: time.Now().UTC(),
		EventType: EventSQLInjectionAttempt,
		SessionID: sessionID,
		TurnID:    turnID,
		Details:   details,
		Severity:  "critical",
	}
	eventJSON, _ := json.Marshal(event)

	a.logger.Error("SQL injection pattern detected",
		zap.String("event_json", string(eventJSON)),
		zap.String("session_id", sessionID),
		zap.String("turn_id", turnID),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("severity", "critical"))
}

// LogStatementBlocked records a refused write statement.
func (a *Auditor) LogStatementBlocked(sessionID, turnID string, details BlockedDetails) {
	event := Event{
		Timestamp: time.Now().UTC(),
		EventType: EventStatementBlocked,
		SessionID: sessionID,
		TurnID:    turnID,
		Details:   details,
		Severity:  "warning",
	}
	eventJSON, _ := json.Marshal(event)

	a.logger.Warn("Write statement blocked",
		zap.String("event_json", string(eventJSON)),
		zap.String("session_id", sessionID),
		zap.String("turn_id", turnID),
		zap.String("verdict", details.Verdict),
		zap.Strings("issues", details.Issues),
		zap.String("severity", "warning"))
}

// LogEditExecuted records completed write statements for the audit
// trail. High volume in edit-heavy deployments.
func (a *Auditor) LogEditExecuted(sessionID, turnID string, details EditDetails) {
	event := Event{
		Timestamp: time.Now().UTC(),
		EventType: EventEditExecuted,
		SessionID: sessionID,
		TurnID:    turnID,
		Details:   details,
		Severity:  "info",
	}
	eventJSON, _ := json.Marshal(event)

	a.logger.Info("Edit executed",
		zap.String("event_json", string(eventJSON)),
		zap.String("session_id", sessionID),
		zap.String("turn_id", turnID),
		zap.Int("statement_count", details.StatementCount),
		zap.Bool("rolled_back", details.RolledBack),
		zap.String("severity", "info"))
}
