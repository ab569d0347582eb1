package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseControl(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		input      string
		wantPrio   Priority
		wantTopics []string
		ok         bool
	}{
		{
			name:       "priority and topics",
			input:      `{"priority": "HIGH", "keep": ["alpha", "beta"]}`,
			wantPrio:   PriorityHigh,
			wantTopics: []string{"alpha", "beta"},
			ok:         true,
		},
		{
			name:       "empty keep clears subscriptions",
			input:      `{"priority": "LOW", "keep": []}`,
			wantPrio:   PriorityLow,
			wantTopics: []string{},
			ok:         true,
		},
		{
			name:       "extra fields ignored",
			input:      `{"priority": "NORMAL", "keep": ["a"], "note": "hi"}`,
			wantPrio:   PriorityNormal,
			wantTopics: []string{"a"},
			ok:         true,
		},
		{
			name:  "priority alone is not control",
			input: `{"priority": "HIGH"}`,
			ok:    false,
		},
		{
			name:  "keep alone is not control",
			input: `{"keep": ["alpha"]}`,
			ok:    false,
		},
		{
			name:  "lowercase priority rejected",
			input: `{"priority": "high", "keep": ["alpha"]}`,
			ok:    false,
		},
		{
			name:  "non-string priority rejected",
			input: `{"priority": 1, "keep": ["alpha"]}`,
			ok:    false,
		},
		{
			name:  "keep must be an array",
			input: `{"priority": "HIGH", "keep": "alpha"}`,
			ok:    false,
		},
		{
			name:  "non-string keep element rejected",
			input: `{"priority": "HIGH", "keep": ["alpha", 2]}`,
			ok:    false,
		},
		{
			name:  "null keep rejected",
			input: `{"priority": "HIGH", "keep": null}`,
			ok:    false,
		},
		{
			name:  "top-level array is not control",
			input: `["priority", "keep"]`,
			ok:    false,
		},
		{
			name:  "top-level string is not control",
			input: `"priority"`,
			ok:    false,
		},
		{
			name:  "invalid json",
			input: `{"priority": "HIGH",`,
			ok:    false,
		},
		{
			name:  "plain text",
			input: `hello there`,
			ok:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			prio, topics, ok := parseControl([]byte(tt.input))
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.wantPrio, prio)
				assert.Equal(t, tt.wantTopics, topics)
			}
		})
	}
}
