package mcp

import (
	"fmt"
	"strings"
)

// maxContentChars truncates chunk bodies in the markdown rendering only; the
// structured output always carries the full content.
const maxContentChars = 1200

// FormatResults renders retrieve output as markdown for clients that only
// read text content.
func FormatResults(query string, out RetrieveOutput) string {
	if len(out.Results) == 0 {
		return fmt.Sprintf("No results found for \"%s\"", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Results for \"%s\"\n\n", query)
	fmt.Fprintf(&sb, "Found %d result", len(out.Results))
	if len(out.Results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range out.Results {
		title := r.Title
		if title == "" {
			title = r.ChunkID
		}
		fmt.Fprintf(&sb, "### %d. %s (score: %.3f)\n\n", i+1, title, r.FinalScore)

		var tags []string
		for _, kv := range [][2]string{
			{"library", r.Library},
			{"category", r.Category},
			{"function", r.FunctionName},
		} {
			if kv[1] != "" {
				tags = append(tags, fmt.Sprintf("%s: `%s`", kv[0], kv[1]))
			}
		}
		if len(tags) > 0 {
			sb.WriteString(strings.Join(tags, " | "))
			sb.WriteString("\n\n")
		}
		if len(r.MatchedTerms) > 0 {
			fmt.Fprintf(&sb, "Matched: %s\n\n", strings.Join(r.MatchedTerms, ", "))
		}
		if r.Content != "" {
			sb.WriteString(truncate(r.Content, maxContentChars))
			sb.WriteString("\n\n")
		}
	}
	return sb.String()
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
