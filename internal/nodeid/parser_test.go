// internal/nodeid/parser_test.go
package nodeid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected *Address
		wantErr  bool
	}{
		{
			name:     "top level",
			input:    "76",
			expected: New(NewPathSegment("76")),
		},
		{
			name:     "subgraph",
			input:    "75:63",
			expected: New(NewPathSegment("75"), NewPathSegment("63")),
		},
		{
			name:     "indexed",
			input:    "dynamic_ref[12]:ref",
			expected: New(NewPathSegmentWithIndex("dynamic_ref", 12), NewPathSegment("ref")),
		},
		{name: "empty", input: "", wantErr: true},
		{name: "empty segment", input: "75::63", wantErr: true},
		{name: "trailing separator", input: "75:", wantErr: true},
		{name: "bad characters", input: "75:a b", wantErr: true},
		{name: "dot segment", input: "..:1", wantErr: true},
		{name: "unclosed index", input: "ref[1", wantErr: true},
		{name: "negative index", input: "ref[-1]", wantErr: true},
		{name: "empty index", input: "ref[]", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			addr, err := Parse(tc.input)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidID)
				return
			}
			require.NoError(t, err)
			assert.True(t, tc.expected.Equal(addr), "expected %s, got %s", tc.expected, addr)
		})
	}
}
