package advisor

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

// Rune limits applied before participant text reaches a prompt. They match the
// limits enforced on submission.
const (
	MaxNameRunes      = 50
	MaxSituationRunes = 2000
	MaxFeelingsRunes  = 1000
	MaxEmotions       = 10
	maxEmotionRunes   = 32
)

// SanitizeText removes markup and control characters, normalizes to NFC and caps
// the result at maxRunes. Newlines and tabs survive.
func SanitizeText(s string, maxRunes int) string {
	if strings.ContainsRune(s, '<') {
		s = stripMarkup(s)
	}
	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r == utf8.RuneError, unicode.IsControl(r), unicode.Is(unicode.Cf, r):
			return -1
		}
		return r
	}, s)
	return truncateRunes(strings.TrimSpace(s), maxRunes)
}

// SanitizeLine is SanitizeText for single line values such as names; runs of
// whitespace collapse to one space.
func SanitizeLine(s string, maxRunes int) string {
	s = SanitizeText(s, maxRunes*4)
	return truncateRunes(strings.Join(strings.Fields(s), " "), maxRunes)
}

func sanitizeList(items []string, maxItems, maxRunes int) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if len(out) == maxItems {
			break
		}
		if v := SanitizeLine(item, maxRunes); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// stripMarkup keeps the text content of an HTML fragment. Script and style
// bodies are dropped.
func stripMarkup(s string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.StartTagToken:
			if isRawTextTag(z) {
				skip++
			}
		case html.EndTagToken:
			if isRawTextTag(z) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func isRawTextTag(z *html.Tokenizer) bool {
	name, _ := z.TagName()
	switch string(name) {
	case "script", "style":
		return true
	}
	return false
}

func truncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return strings.TrimSpace(s[:i])
		}
		n++
	}
	return s
}
