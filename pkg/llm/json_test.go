package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
		wantErr  bool
	}{
		{
			name:     "plain object",
			response: `{"sql": "SELECT 1"}`,
			want:     `{"sql": "SELECT 1"}`,
		},
		{
			name:     "object with prose around it",
			response: "Here is the query:\n{\"sql\": \"SELECT 1\"}\nLet me know.",
			want:     `{"sql": "SELECT 1"}`,
		},
		{
			name:     "markdown fence",
			response: "```json\n{\"kind\": \"select\"}\n```",
			want:     `{"kind": "select"}`,
		},
		{
			name:     "think tags stripped",
			response: "<think>reasoning here</think>{\"a\": 1}",
			want:     `{"a": 1}`,
		},
		{
			name:     "array payload",
			response: `The plan: [{"question": "q1"}, {"question": "q2"}]`,
			want:     `[{"question": "q1"}, {"question": "q2"}]`,
		},
		{
			name:     "nested braces in strings",
			response: `{"sql": "SELECT '{' FROM t", "n": {"x": 1}}`,
			want:     `{"sql": "SELECT '{' FROM t", "n": {"x": 1}}`,
		},
		{
			name:     "no json",
			response: "I cannot answer that.",
			wantErr:  true,
		},
		{
			name:     "unbalanced",
			response: `{"sql": "SELECT 1"`,
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.response)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseJSONResponse(t *testing.T) {
	type payload struct {
		Kind string `json:"kind"`
		SQL  string `json:"sql"`
	}

	got, err := ParseJSONResponse[payload]("```json\n{\"kind\":\"select\",\"sql\":\"SELECT 1\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "select", got.Kind)
	assert.Equal(t, "SELECT 1", got.SQL)

	_, err = ParseJSONResponse[payload]("not json at all")
	assert.Error(t, err)
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short", Excerpt("  short  ", 20))
	assert.Equal(t, "aaaaa...", Excerpt("aaaaaaaaaa", 5))
}
