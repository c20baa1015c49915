package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"case folded", "SciPy T-Test", []string{"scipy", "t-test"}},
		{"unicode whitespace", "a b\tc\nd", []string{"a", "b", "c", "d"}},
		{"no stemming", "tests testing", []string{"tests", "testing"}},
		{"punctuation kept", "ttest_ind()", []string{"ttest_ind()"}},
		{"empty", "   ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.in))
		})
	}
}

func TestUniqueTokens(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, uniqueTokens([]string{"a", "b", "a", ""}))
}
