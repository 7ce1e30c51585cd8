package respond

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// replyPattern captures everything after the last colon-quote delimiter up to
// the end of the output. The closing quote is optional.
var replyPattern = regexp.MustCompile(`(?s).*:\s*"(.+?)"?$`)

// Extract pulls the rephrased reply out of a model answer of the form
// "original" : "reply". When the answer does not have that shape the whole
// answer is used. Quotes are always removed and the result trimmed.
func Extract(raw string) (text string, matched bool) {
	if m := replyPattern.FindStringSubmatch(raw); m != nil {
		return clean(m[1]), true
	}
	return clean(raw), false
}

// SplitCandidates splits an extracted reply into its comma separated options.
// Each option is cut to maxChars runes; maxChars < 1 disables the cut.
// truncated counts the options that were cut.
func SplitCandidates(text string, maxChars int) (candidates []string, truncated int) {
	parts := strings.Split(text, ",")
	candidates = make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		cut, ok := truncateRunes(part, maxChars)
		if ok {
			truncated++
		}
		candidates = append(candidates, cut)
	}
	return candidates, truncated
}

func clean(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, `"`, ""))
}

func truncateRunes(s string, n int) (string, bool) {
	if n < 1 || utf8.RuneCountInString(s) <= n {
		return s, false
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n])), true
}
