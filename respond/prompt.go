package respond

import (
	"github.com/tmc/langchaingo/prompts"
)

// DefaultPromptTemplate asks the model to rephrase the user's message in the
// requested tone, grounded on retrieved examples.
const DefaultPromptTemplate = `1. When responding to my messages, maintain a {{.tone}} and non-confrontational tone, as if I am speaking directly.
   Rephrase my words in a warm and considerate manner to convey emotions and concerns respectfully.
   Keep responses concise and focused on delivering my intended message.
2. (Most Important) I am not talking to an AI; I am conversing with my partner.
   Translate my words into a response of {{.max_chars}} characters or fewer that aligns with the specified tone.
3. Speak in the following manner: {{.tone}}.
4. Always speak {{.language}}.
5. Provide {{.candidates}} examples of messages that can be used to respond to the user's message.
Question: {{.question}}
Context: {{.context}}

Read the user's message and rephrase it according to the specified style in the following format:
Response format: "User's message" : "Rephrased message 1, ..., Rephrased message {{.candidates}}"
`

var promptVariables = []string{"question", "context", "tone", "language", "max_chars", "candidates"}

func newPromptTemplate(text string) prompts.PromptTemplate {
	return prompts.NewPromptTemplate(text, promptVariables)
}

type promptInput struct {
	question   string
	context    string
	tone       string
	language   string
	maxChars   int
	candidates int
}

func renderPrompt(tmpl prompts.PromptTemplate, in promptInput) (string, error) {
	return tmpl.Format(map[string]any{
		"question":   in.question,
		"context":    in.context,
		"tone":       in.tone,
		"language":   in.language,
		"max_chars":  in.maxChars,
		"candidates": in.candidates,
	})
}
