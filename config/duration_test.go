package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_UnmarshalYAML(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{name: "seconds", input: "d: 30s", want: 30 * time.Second},
		{name: "compound", input: "d: 1h30m", want: 90 * time.Minute},
		{name: "milliseconds", input: "d: 250ms", want: 250 * time.Millisecond},
		{name: "empty string", input: `d: ""`, want: 0},
		{name: "invalid", input: "d: not-a-duration", wantErr: true},
		{name: "bare number", input: "d: 30", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var out struct {
				D Duration `yaml:"d"`
			}
			err := yaml.Unmarshal([]byte(tt.input), &out)

			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.D.Duration())
		})
	}
}

func TestDuration_MarshalYAML(t *testing.T) {
	t.Parallel()

	out, err := yaml.Marshal(struct {
		D Duration `yaml:"d"`
	}{D: Duration(90 * time.Minute)})
	require.NoError(t, err)
	assert.Contains(t, string(out), "1h30m0s")
}

func TestDuration_JSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{name: "quoted", input: `"5m"`, want: 5 * time.Minute},
		{name: "null", input: `null`, want: 0},
		{name: "empty", input: `""`, want: 0},
		{name: "invalid", input: `"bogus"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var d Duration
			err := json.Unmarshal([]byte(tt.input), &d)

			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Duration())
		})
	}

	b, err := json.Marshal(Duration(5 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, `"5m0s"`, string(b))
}

func TestDuration_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "1m0s", Duration(time.Minute).String())
}
