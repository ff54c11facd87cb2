package advisor

import (
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MaxListItems caps action steps and conversation starters.
const MaxListItems = 3

// Advice is the generated guidance for one participant.
type Advice struct {
	Advice               string   `json:"advice"`
	ActionSteps          []string `json:"actionSteps"`
	ConversationStarters []string `json:"conversationStarters"`
}

// Fallback returns the advice served when generated output is unusable.
func Fallback() *Advice {
	return &Advice{
		Advice: "Every relationship goes through difficult moments, and taking the time to share " +
			"how you feel is already a meaningful step. Try to approach your partner with " +
			"curiosity rather than blame, and remember that you are on the same team.",
		ActionSteps: []string{
			"Find a calm moment to talk when neither of you is rushed or upset.",
			"Listen to your partner's side fully before responding.",
			"Agree on one small change you can each make this week.",
		},
		ConversationStarters: []string{
			"I'd like to understand how this has felt for you. Can you tell me?",
			"What would help you feel more supported right now?",
			"How can we handle this differently next time?",
		},
	}
}

const adviceSchemaJSON = `{
	"type": "object",
	"required": ["advice", "actionSteps", "conversationStarters"],
	"properties": {
		"advice": {"type": "string", "minLength": 1},
		"actionSteps": {
			"type": "array",
			"minItems": 1,
			"items": {"type": "string"}
		},
		"conversationStarters": {
			"type": "array",
			"minItems": 1,
			"items": {"type": "string"}
		}
	}
}`

// responseSchema is sent with json_schema response formats. Strict mode does not
// allow length constraints, so it is looser than adviceSchema.
var responseSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"advice":               map[string]any{"type": "string"},
		"actionSteps":          map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"conversationStarters": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
	"required":             []string{"advice", "actionSteps", "conversationStarters"},
	"additionalProperties": false,
}

var adviceSchema = compileSchema(adviceSchemaJSON)

func compileSchema(schema string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("inline://advice", strings.NewReader(schema)); err != nil {
		panic(err)
	}
	return compiler.MustCompile("inline://advice")
}

var (
	codeBlockRe     = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*\\})\\s*```")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// ParseAdvice turns model output into Advice. It reports false when no candidate
// object satisfies the advice schema.
func ParseAdvice(text string) (*Advice, bool) {
	text = strings.TrimSpace(text)
	candidates := []string{text}
	if extracted := extractJSON(text); extracted != "" && extracted != text {
		candidates = append(candidates, extracted)
	}
	for _, c := range candidates {
		if a, ok := decodeAdvice(c); ok {
			return a, true
		}
	}
	return nil, false
}

func decodeAdvice(s string) (*Advice, bool) {
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, false
	}
	if err := adviceSchema.Validate(doc); err != nil {
		return nil, false
	}
	var a Advice
	if err := json.Unmarshal([]byte(s), &a); err != nil {
		return nil, false
	}
	a.normalize()
	if a.Advice == "" || len(a.ActionSteps) == 0 || len(a.ConversationStarters) == 0 {
		return nil, false
	}
	return &a, true
}

func (a *Advice) normalize() {
	a.Advice = strings.TrimSpace(a.Advice)
	a.ActionSteps = compactList(a.ActionSteps)
	a.ConversationStarters = compactList(a.ConversationStarters)
}

func compactList(items []string) []string {
	out := make([]string, 0, MaxListItems)
	for _, item := range items {
		if len(out) == MaxListItems {
			break
		}
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// extractJSON finds the first JSON object in free text: a fenced code block,
// else the first balanced brace span. Trailing commas are removed.
func extractJSON(text string) string {
	if m := codeBlockRe.FindStringSubmatch(text); len(m) > 1 {
		return cleanJSON(m[1])
	}
	if obj := firstObject(text); obj != "" {
		return cleanJSON(obj)
	}
	return ""
}

func firstObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

func cleanJSON(s string) string {
	return trailingCommaRe.ReplaceAllString(strings.TrimSpace(s), "$1")
}
