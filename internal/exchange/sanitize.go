package exchange

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	urlPattern          = regexp.MustCompile(`https?://\S+`)
	fencedCodePattern   = regexp.MustCompile("(?s)```.*?```")
	inlineCodePattern   = regexp.MustCompile("`[^`]*`")
	markdownLinkPattern = regexp.MustCompile(`\[([^\]]*)\]\(([^)]*)\)`)
	bracketPattern      = regexp.MustCompile(`\[[^\]]*\]|\{[^}]*\}|<[^>]*>`)
	parentheticalRe     = regexp.MustCompile(`\([^()]*\)`)
	headingPattern      = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s*`)
	listMarkerPattern   = regexp.MustCompile(`(?m)^\s*(?:[-+•]|\d+[.)])\s+`)
	speakerLabelPattern = regexp.MustCompile(`(?i)^\s*(?:customer|assistant|model)\s*:\s*`)
)

// Sanitize turns a model reply into plain prose suitable for speech synthesis.
func Sanitize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	raw = fencedCodePattern.ReplaceAllString(raw, " ")
	raw = inlineCodePattern.ReplaceAllString(raw, " ")
	raw = markdownLinkPattern.ReplaceAllString(raw, "$1")
	raw = urlPattern.ReplaceAllString(raw, " ")
	raw = bracketPattern.ReplaceAllString(raw, " ")
	for i := 0; i < 3; i++ {
		next := parentheticalRe.ReplaceAllString(raw, " ")
		if next == raw {
			break
		}
		raw = next
	}
	raw = headingPattern.ReplaceAllString(raw, "")
	raw = listMarkerPattern.ReplaceAllString(raw, "")
	raw = speakerLabelPattern.ReplaceAllString(raw, "")

	raw = strings.NewReplacer(
		"*", " ",
		"_", " ",
		"#", " ",
		"~", " ",
		">", " ",
		"|", " ",
		"\\", " ",
	).Replace(raw)

	var b strings.Builder
	b.Grow(len(raw))
	prevSpace := true
	for _, r := range raw {
		switch {
		case r == '\u200d' || r == '\ufe0f' || r == '\u20e3':
			continue
		case unicode.IsSpace(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsControl(r):
			continue
		case unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
			continue
		default:
			b.WriteRune(r)
			prevSpace = false
		}
	}

	out := strings.TrimSpace(b.String())
	// Removing a parenthetical can leave "word ." behind.
	out = strings.NewReplacer(" .", ".", " ,", ",", " ?", "?", " !", "!").Replace(out)
	return strings.TrimSpace(out)
}
