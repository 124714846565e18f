package narration

import (
	"regexp"
	"strings"
)

var (
	urlPattern       = regexp.MustCompile(`(?i)\b(?:https?://|www\.)[^\s<>()]+`)
	htmlTagPattern   = regexp.MustCompile(`<[^>]*>`)
	mdLinkPattern    = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	mdHeadingPattern = regexp.MustCompile(`(?m)^[ \t]*#{1,6}[ \t]*`)
	mdBulletPattern  = regexp.MustCompile(`(?m)^[ \t]*(?:[-*+]|>)[ \t]+`)
	// Emphasis only counts as markup when the delimiters wrap text; a lone
	// "*" in arithmetic or "_" inside snake_case stays.
	starPattern      = regexp.MustCompile(`(^|[^\w*])\*{1,3}(\S(?:[^*\n]*?\S)?)\*{1,3}`)
	underPattern     = regexp.MustCompile(`\b_{1,3}(\S(?:[^_\n]*?\S)?)_{1,3}\b`)
	strikePattern    = regexp.MustCompile(`~~(\S(?:[^~\n]*?\S)?)~~`)
	codePattern      = regexp.MustCompile("`+([^`\n]+)`+")
	blankRunPattern  = regexp.MustCompile(`\n[ \t]*(?:\n[ \t]*)+`)
	spaceRunPattern  = regexp.MustCompile(`[ \t]{2,}`)
)

// Normalize cleans free text for speech: markdown links keep their label,
// markup tokens and URLs are dropped, runs of blank lines collapse to one.
func Normalize(text string) string {
	s := strings.ReplaceAll(text, "\r\n", "\n")
	s = mdLinkPattern.ReplaceAllString(s, "$1")
	s = urlPattern.ReplaceAllString(s, "")
	s = htmlTagPattern.ReplaceAllString(s, "")
	s = mdHeadingPattern.ReplaceAllString(s, "")
	s = mdBulletPattern.ReplaceAllString(s, "")
	s = starPattern.ReplaceAllString(s, "$1$2")
	s = underPattern.ReplaceAllString(s, "$1")
	s = strikePattern.ReplaceAllString(s, "$1")
	s = codePattern.ReplaceAllString(s, "$1")
	s = spaceRunPattern.ReplaceAllString(s, " ")
	s = blankRunPattern.ReplaceAllString(s, "\n\n")

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
