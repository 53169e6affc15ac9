package jsonutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlexibleString(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`"hello"`, "hello"},
		{`42`, "42"},
		{`3.5`, "3.5"},
		{`true`, "true"},
		{`null`, ""},
		{``, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FlexibleString(json.RawMessage(tt.raw)), tt.raw)
	}
}

func TestFlexibleStringUnparseable(t *testing.T) {
	raw := json.RawMessage(`{"nested": 1}`)
	assert.Equal(t, `{"nested": 1}`, FlexibleString(raw))
}

func TestFlexibleInt(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{`42`, 42},
		{`42.9`, 42},
		{`"42"`, 42},
		{`" 1,200 "`, 1200},
		{`null`, -1},
		{``, -1},
		{`"many"`, -1},
		{`[1]`, -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FlexibleInt(json.RawMessage(tt.raw), -1), tt.raw)
	}
}
