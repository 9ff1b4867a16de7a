package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePlate(t *testing.T) {
	testCases := []struct {
		name      string
		raw       string
		expected  string
		expectErr bool
	}{
		{name: "Already normalized", raw: "SBS001A", expected: "SBS001A"},
		{name: "Lower case", raw: "sbs001a", expected: "SBS001A"},
		{name: "Surrounding whitespace", raw: "  SBS001A\t", expected: "SBS001A"},
		{name: "Inner spaces and dashes", raw: "sbs 001-a", expected: "SBS001A"},
		{name: "Empty", raw: "   ", expectErr: true},
		{name: "Too short", raw: "A", expectErr: true},
		{name: "Illegal characters", raw: "SBS#001", expectErr: true},
		{name: "Too long", raw: "ABCDEFGHIJKLMN", expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizePlate(tc.raw)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}
