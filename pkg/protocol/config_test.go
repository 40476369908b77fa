package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseConfigLine(t *testing.T) {
	tests := []struct {
		line  string
		key   string
		value string
		ok    bool
	}{
		{"general:num_version_soft = 2.4.8", "general:num_version_soft", "2.4.8", true},
		{"b = 2 = x", "b", "2 = x", true},
		{"custom:session_id = \r\n", "custom:session_id", "", true},
		{"bad-line", "", "", false},
		{"a=1", "", "", false},
		{" = orphan", "", "", false},
		{"", "", "", false},
	}

	for _, tt := range tests {
		k, v, ok := ParseConfigLine(tt.line)
		assert.Equal(t, tt.ok, ok, tt.line)
		assert.Equal(t, tt.key, k, tt.line)
		assert.Equal(t, tt.value, v, tt.line)
	}
}

func TestParseConfigLines(t *testing.T) {
	values := ParseConfigLines([]string{"a = 1", "bad-line", "b = 2 = x"})

	assert.Equal(t, map[string]string{"a": "1", "b": "2 = x"}, values)

	assert.Empty(t, ParseConfigLines([]string{"garbage", "more garbage"}))
	assert.Equal(t, map[string]string{"a": "2"}, ParseConfigLines([]string{"a = 1", "a = 2"}))
}

func TestFormatConfig(t *testing.T) {
	values := map[string]string{"z:last": "1", "a:first": "x = y"}

	data := FormatConfig(values)
	assert.Equal(t, "a:first = x = y\nz:last = 1\n", string(data))
}
