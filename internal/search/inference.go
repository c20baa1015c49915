package search

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Rule maps keywords to a filter value. A rule matches when any keyword
// appears in the query as whole tokens: "ols" matches "ols fit" but not
// "tools", and "linear model" needs both words adjacent. A trailing "s" on
// the query's last matched token is tolerated so "plots" matches "plot".
type Rule struct {
	Value    string   `yaml:"value" json:"value"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// InferenceTable holds the priority-ordered rules used to guess filters from
// query text when the caller gave none. First match wins in each list.
type InferenceTable struct {
	Libraries  []Rule `yaml:"libraries" json:"libraries"`
	Categories []Rule `yaml:"categories" json:"categories"`
}

// DefaultInferenceTable returns the built-in rules for the statistics library corpus.
func DefaultInferenceTable() InferenceTable {
	return InferenceTable{
		Libraries: []Rule{
			{Value: "scipy", Keywords: []string{"scipy"}},
			{Value: "numpy", Keywords: []string{"numpy"}},
			{Value: "pandas", Keywords: []string{"pandas"}},
			{Value: "statsmodels", Keywords: []string{"statsmodels"}},
			{Value: "scikit-learn", Keywords: []string{"scikit-learn", "sklearn"}},
			{Value: "pingouin", Keywords: []string{"pingouin"}},
			{Value: "matplotlib", Keywords: []string{"matplotlib"}},
			{Value: "seaborn", Keywords: []string{"seaborn"}},
		},
		Categories: []Rule{
			{Value: "hypothesis_test", Keywords: []string{
				"t-test", "ttest", "anova", "chi-square", "chi2", "mann-whitney", "mannwhitneyu",
				"wilcoxon", "kruskal", "p-value", "hypothesis", "significance",
			}},
			{Value: "correlation", Keywords: []string{"correlation", "pearson", "spearman", "kendall", "corr"}},
			{Value: "regression", Keywords: []string{"regression", "ols", "linear model", "logistic", "glm"}},
			{Value: "distribution", Keywords: []string{"distribution", "normal", "pdf", "cdf", "sample", "random"}},
			{Value: "descriptive", Keywords: []string{
				"mean", "median", "variance", "std", "standard deviation", "describe", "summary",
				"percentile", "quantile",
			}},
			{Value: "visualization", Keywords: []string{"plot", "chart", "histogram", "figure", "scatter"}},
		},
	}
}

// Infer returns at most one library and one category for text.
// Empty strings mean no rule matched.
func (t InferenceTable) Infer(text string) (library, category string) {
	tokens := keywordTokens(text)
	return firstMatch(t.Libraries, tokens), firstMatch(t.Categories, tokens)
}

func firstMatch(rules []Rule, tokens []string) string {
	for _, r := range rules {
		for _, kw := range r.Keywords {
			if containsSequence(tokens, keywordTokens(kw)) {
				return r.Value
			}
		}
	}
	return ""
}

// keywordTokens lowercases text and splits it on everything except letters,
// digits and hyphens, so "scipy.stats.ttest_ind" yields scipy, stats, ttest
// and ind while "t-test" stays whole.
func keywordTokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
}

func containsSequence(tokens, seq []string) bool {
	if len(seq) == 0 {
		return false
	}
	last := len(seq) - 1
	for i := 0; i+len(seq) <= len(tokens); i++ {
		ok := true
		for j, want := range seq {
			got := tokens[i+j]
			if got == want || (j == last && got == want+"s") {
				continue
			}
			ok = false
			break
		}
		if ok {
			return true
		}
	}
	return false
}

func (t InferenceTable) validate() error {
	var errs []error
	check := func(kind string, rules []Rule) {
		for i, r := range rules {
			if strings.TrimSpace(r.Value) == "" {
				errs = append(errs, fmt.Errorf("%s rule %d has no value", kind, i))
			}
			if len(r.Keywords) == 0 {
				errs = append(errs, fmt.Errorf("%s rule %q has no keywords", kind, r.Value))
			}
		}
	}
	check("library", t.Libraries)
	check("category", t.Categories)
	return errors.Join(errs...)
}
