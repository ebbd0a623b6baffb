package nodefilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    []Rule
		wantErr bool
	}{
		{
			name:  "empty string yields empty filter",
			input: "",
			want:  nil,
		},
		{
			name:  "equals rule",
			input: "arch=amd64",
			want:  []Rule{{Key: "arch", Value: "amd64", Op: OpEquals}},
		},
		{
			name:  "not equals rule",
			input: "role!=control-plane",
			want:  []Rule{{Key: "role", Value: "control-plane", Op: OpNotEquals}},
		},
		{
			name:  "exists rule",
			input: "node-role.kubernetes.io/worker",
			want:  []Rule{{Key: "node-role.kubernetes.io/worker", Op: OpExists}},
		},
		{
			name:  "absent rule",
			input: "!node-role.kubernetes.io/control-plane",
			want:  []Rule{{Key: "node-role.kubernetes.io/control-plane", Op: OpAbsent}},
		},
		{
			name:  "conjunction of rules",
			input: "role!=control-plane,arch=amd64",
			want: []Rule{
				{Key: "role", Value: "control-plane", Op: OpNotEquals},
				{Key: "arch", Value: "amd64", Op: OpEquals},
			},
		},
		{
			name:    "trailing comma is malformed",
			input:   "arch=amd64,",
			wantErr: true,
		},
		{
			name:    "double equals is malformed",
			input:   "a=b=c",
			wantErr: true,
		},
		{
			name:    "bare negation is malformed",
			input:   "!",
			wantErr: true,
		},
		{
			name:    "missing key is malformed",
			input:   "=value",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f, err := Parse(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				var parseErr *ParseError
				assert.ErrorAs(t, err, &parseErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.rules)
		})
	}
}

func TestFilter_Matches(t *testing.T) {
	t.Parallel()

	nodes := map[string]map[string]string{
		"n1": {"role": "worker", "arch": "amd64"},
		"n2": {"role": "control-plane", "arch": "amd64"},
		"n3": {"role": "worker", "arch": "arm64"},
	}

	tests := []struct {
		name     string
		selector string
		want     []string
	}{
		{
			name:     "empty filter matches everything",
			selector: "",
			want:     []string{"n1", "n2", "n3"},
		},
		{
			name:     "conjunction narrows to a single node",
			selector: "role!=control-plane,arch=amd64",
			want:     []string{"n1"},
		},
		{
			name:     "equals on missing label fails",
			selector: "zone=fsn1",
			want:     nil,
		},
		{
			name:     "not equals passes when label absent",
			selector: "zone!=fsn1",
			want:     []string{"n1", "n2", "n3"},
		},
		{
			name:     "exists rule",
			selector: "role",
			want:     []string{"n1", "n2", "n3"},
		},
		{
			name:     "absent rule",
			selector: "!arch",
			want:     nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f, err := Parse(tt.selector)
			require.NoError(t, err)

			var matched []string
			for _, name := range []string{"n1", "n2", "n3"} {
				if f.Matches(nodes[name]) {
					matched = append(matched, name)
				}
			}
			assert.Equal(t, tt.want, matched)
		})
	}
}

func TestFilter_Empty(t *testing.T) {
	t.Parallel()

	f, err := Parse("")
	require.NoError(t, err)
	assert.True(t, f.Empty())

	f, err = Parse("a=b")
	require.NoError(t, err)
	assert.False(t, f.Empty())
}
