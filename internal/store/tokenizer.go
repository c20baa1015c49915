package store

import (
	"strings"
)

// Tokenize case-folds text and splits it on Unicode whitespace.
// No stemming, stop word removal or punctuation trimming is applied, so
// "ttest_ind" and "t-test" stay single tokens.
func Tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// uniqueTokens returns tokens with duplicates removed, keeping first occurrence order.
func uniqueTokens(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
