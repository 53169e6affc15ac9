package sqlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeQuestion(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Show me 5 rows", "show me 5 rows"},
		{"  Show   me 5 rows?! ", "show me 5 rows"},
		{"SHOW ME 5 ROWS", "show me 5 rows"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeQuestion(tt.in), tt.in)
	}
}

func TestNormalizeSQLWhitespaceInsensitive(t *testing.T) {
	a := NormalizeSQL("SELECT *\n  FROM rates\n WHERE country = 'DE';")
	b := NormalizeSQL("select * from rates where country = 'DE'")
	assert.Equal(t, a, b)
}

func TestNormalizeSQLPreservesLiteralCase(t *testing.T) {
	got := NormalizeSQL("SELECT * FROM t WHERE name = 'O''Brien'")
	assert.Contains(t, got, "'O''Brien'")
	assert.Contains(t, got, "select * from t")
}

func TestStringLiterals(t *testing.T) {
	lits := StringLiterals("SELECT * FROM t WHERE a = 'x' AND b = 'y''z'")
	assert.Equal(t, []string{"x", "y'z"}, lits)

	assert.Empty(t, StringLiterals("SELECT 1"))
}

func TestScanLiterals(t *testing.T) {
	findings := ScanLiterals("SELECT * FROM t WHERE note = '1'' OR ''1''=''1'")
	assert.NotEmpty(t, findings)
	assert.Equal(t, "literal", findings[0].Source)
	assert.NotEmpty(t, findings[0].Fingerprint)

	assert.Empty(t, ScanLiterals("SELECT * FROM t WHERE country = 'DE'"))
}

func TestCheckValueNonString(t *testing.T) {
	assert.Nil(t, CheckValue("parameter", 42))
	assert.Nil(t, CheckValue("parameter", true))
}
