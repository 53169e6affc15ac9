package audit

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedAuditor(t *testing.T) (*Auditor, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.InfoLevel)
	return NewAuditor(zap.New(core)), logs
}

func TestLogInjectionAttempt(t *testing.T) {
	auditor, logs := newObservedAuditor(t)

	auditor.LogInjectionAttempt("sess-1", "turn-1", InjectionDetails{
		Source:      "generated_sql_literal",
		Value:       "1' OR '1'='1",
		Fingerprint: "s&1c",
		SQL:         "SELECT * FROM rates WHERE country = '1' OR '1'='1'",
	})

	entries := logs.All()
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, zap.ErrorLevel, entry.Level)
	assert.Equal(t, "SQL injection pattern detected", entry.Message)

	fields := entry.ContextMap()
	assert.Equal(t, "sess-1", fields["session_id"])
	assert.Equal(t, "s&1c", fields["fingerprint"])
	assert.Equal(t, "critical", fields["severity"])

	var event Event
	require.NoError(t, json.Unmarshal([]byte(fields["event_json"].(string)), &event))
	assert.Equal(t, EventSQLInjectionAttempt, event.EventType)
	assert.False(t, event.Timestamp.IsZero())
}

func TestLogStatementBlocked(t *testing.T) {
	auditor, logs := newObservedAuditor(t)

	auditor.LogStatementBlocked("sess-2", "turn-9", BlockedDetails{
		SQL:     "DELETE FROM rates",
		Verdict: "DO_NOT_EXECUTE",
		Issues:  []string{"DELETE without WHERE clause"},
	})

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)

	fields := entries[0].ContextMap()
	assert.Equal(t, "DO_NOT_EXECUTE", fields["verdict"])

	var event Event
	require.NoError(t, json.Unmarshal([]byte(fields["event_json"].(string)), &event))
	assert.Equal(t, EventStatementBlocked, event.EventType)
	assert.Equal(t, "warning", event.Severity)
}

func TestLogEditExecuted(t *testing.T) {
	auditor, logs := newObservedAuditor(t)

	auditor.LogEditExecuted("sess-3", "turn-2", EditDetails{
		StatementCount: 2,
		Transaction:    true,
		AffectedRows:   15,
		SchemaChanged:  true,
	})

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)

	fields := entries[0].ContextMap()
	assert.Equal(t, int64(2), fields["statement_count"])
	assert.Equal(t, false, fields["rolled_back"])
}

func TestAuditorNamespace(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	auditor := NewAuditor(zap.New(core))

	auditor.LogEditExecuted("s", "t", EditDetails{})
	require.Len(t, logs.All(), 1)
	assert.Equal(t, "security_audit", logs.All()[0].LoggerName)
}

func TestNilLoggerDoesNotPanic(t *testing.T) {
	auditor := NewAuditor(nil)
	assert.NotPanics(t, func() {
		auditor.LogInjectionAttempt("s", "t", InjectionDetails{})
	})
}
