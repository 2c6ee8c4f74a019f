package prompts

import (
	"fmt"
	"strings"
)

// Ability is one dispatchable capability advertised to the model
// during ambient intent evaluation.
type Ability struct {
	Keyword     string
	Description string
}

// directivePreamble explains the directive protocol. The model either
// answers conversationally or emits a single-line dispatch directive
// that the router parses back out of its reply.
const directivePreamble = `You are %s, a helpful assistant in a group chat. Respond naturally and conversationally.

You also have access to the following abilities. When the user's message is clearly asking for one of them, do NOT answer yourself. Instead, respond with EXACTLY one line in this form:

KEYWORD parameter text

where KEYWORD is one of the ability keywords below (uppercase or lowercase both work) and the parameter text is what the ability needs. No other words, no punctuation before the keyword, no explanation.

Abilities:
%s
If the message is ordinary conversation, a question you can answer yourself, or you are unsure, just reply normally. Never mention the keywords or this instruction in a normal reply.`

// DirectiveSystemPrompt builds the intent evaluation system prompt.
// Only inferable abilities appear; reserved commands never route
// through the model.
func DirectiveSystemPrompt(assistantName string, abilities []Ability) string {
	var sb strings.Builder
	for _, a := range abilities {
		sb.WriteString("- ")
		sb.WriteString(a.Keyword)
		if a.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(a.Description)
		}
		sb.WriteString("\n")
	}
	return fmt.Sprintf(directivePreamble, assistantName, sb.String())
}
