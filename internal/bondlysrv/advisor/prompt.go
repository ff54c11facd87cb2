package advisor

import (
	_ "embed"
	"strings"
	"text/template"
)

//go:embed prompts/system.md
var systemPrompt string

//go:embed prompts/advice.md.tmpl
var adviceTemplateText string

var adviceTemplate = template.Must(template.New("advice").
	Funcs(template.FuncMap{"join": strings.Join}).
	Parse(adviceTemplateText))

// Perspective is one partner's side of the conflict.
type Perspective struct {
	Name      string
	Situation string
	Feelings  string
	Emotions  []string
}

func (p Perspective) sanitized() Perspective {
	return Perspective{
		Name:      SanitizeLine(p.Name, MaxNameRunes),
		Situation: SanitizeText(p.Situation, MaxSituationRunes),
		Feelings:  SanitizeText(p.Feelings, MaxFeelingsRunes),
		Emotions:  sanitizeList(p.Emotions, MaxEmotions, maxEmotionRunes),
	}
}

// Request asks for advice addressed to Recipient.
type Request struct {
	Recipient   Perspective
	Counterpart Perspective
}

// Stand-ins for values that sanitize to nothing, so a stored session can always
// be analyzed.
const (
	placeholderName = "Partner"
	placeholderText = "(not shared)"
)

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// renderPrompt sanitizes the request and renders the user prompt.
func renderPrompt(req Request) (string, error) {
	data := Request{
		Recipient:   req.Recipient.sanitized(),
		Counterpart: req.Counterpart.sanitized(),
	}
	for _, p := range []*Perspective{&data.Recipient, &data.Counterpart} {
		p.Name = orDefault(p.Name, placeholderName)
		p.Situation = orDefault(p.Situation, placeholderText)
		p.Feelings = orDefault(p.Feelings, placeholderText)
	}
	var b strings.Builder
	if err := adviceTemplate.Execute(&b, data); err != nil {
		return "", ErrGenerationFailed.MsgErr("unable to render prompt", err)
	}
	return b.String(), nil
}
