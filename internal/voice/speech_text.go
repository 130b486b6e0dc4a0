package voice

import (
	"regexp"
	"strings"
	"unicode"
)

// speechStrippers remove reply markup that has no spoken form. Order matters:
// fenced code goes before inline code and links before bare URLs.
var speechStrippers = []struct {
	pattern *regexp.Regexp
	repl    string
}{
	{regexp.MustCompile("(?s)```.*?```"), " "},
	{regexp.MustCompile("`[^`]*`"), " "},
	{regexp.MustCompile(`\[(.*?)\]\((.*?)\)`), "$1"},
	{regexp.MustCompile(`https?://\S+`), " "},
}

const (
	markupRunes       = `*_\/|#~<>`
	spokenPunctuation = `.,!?:;'"-()`
)

type runeAction int

const (
	keepRune runeAction = iota
	breakRune
	dropRune
)

// speakableText reduces an assistant reply to plain words and sentence
// punctuation for a synthesizer. Runs of markup and whitespace collapse to a
// single space; emoji and symbols vanish without leaving a gap.
func speakableText(reply string) string {
	text := strings.TrimSpace(reply)
	if text == "" {
		return ""
	}
	for _, s := range speechStrippers {
		text = s.pattern.ReplaceAllString(text, s.repl)
	}

	var b strings.Builder
	b.Grow(len(text))
	pendingSpace := false
	for _, r := range text {
		switch speechRuneAction(r) {
		case keepRune:
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		case breakRune:
			pendingSpace = true
		}
	}
	return b.String()
}

func speechRuneAction(r rune) runeAction {
	switch {
	case unicode.IsSpace(r), strings.ContainsRune(markupRunes, r):
		return breakRune
	case r == '\u200d', r == '\ufe0f', r == '\u20e3', unicode.IsControl(r):
		return dropRune
	case unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
		return dropRune
	case strings.ContainsRune(spokenPunctuation, r):
		return keepRune
	case unicode.IsPunct(r):
		return breakRune
	default:
		return keepRune
	}
}
