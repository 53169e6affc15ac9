package execution

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"refused", errors.New("dial tcp 127.0.0.1:5432: connection refused"), true},
		{"reset", errors.New("read: connection reset by peer"), true},
		{"closed", errors.New("conn closed"), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"syntax error", errors.New(`ERROR: syntax error at or near "FORM"`), false},
		{"missing table", errors.New(`ERROR: relation "nope" does not exist`), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isConnectionError(tt.err))
		})
	}
}

func TestPgTypeNameFromOID(t *testing.T) {
	assert.Equal(t, "TEXT", pgTypeNameFromOID(25))
	assert.Equal(t, "INT8", pgTypeNameFromOID(20))
	assert.Equal(t, "NUMERIC", pgTypeNameFromOID(1700))
	assert.Equal(t, "TIMESTAMPTZ", pgTypeNameFromOID(1184))
	assert.Equal(t, "UUID", pgTypeNameFromOID(2950))
	assert.Equal(t, "UNKNOWN", pgTypeNameFromOID(99999))
}

func TestEditResultSuccess(t *testing.T) {
	ok := &EditResult{PerStatement: []StatementResult{{Success: true}}}
	assert.True(t, ok.Success())

	failed := &EditResult{FailedAtQuery: 2}
	assert.False(t, failed.Success())
}
