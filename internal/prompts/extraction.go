package prompts

import "fmt"

// ExtractionNone is the sentinel the extraction prompt tells the model
// to emit when no parameter can be found. Callers compare the trimmed
// first line of the reply against it.
const ExtractionNone = "NONE"

// extractionTemplate asks a local LLM to pull the operative parameter
// out of a conversational request. The three format verbs are the
// ability description, the instruction hint, and the message text.
const extractionTemplate = `A user asked for this ability: %s

Extract the essential parameter from their message. %s

Rules:
- Reply with ONLY the extracted parameter text, nothing else
- Do not quote it, explain it, or add punctuation around it
- Strip request phrasing ("please", "can you", "I want") and keep only the subject
- If the message contains no usable parameter, reply with exactly: NONE

Message:
%s

Parameter:`

// ExtractionPrompt returns the interpolated parameter extraction
// prompt. The hint is ability-specific guidance ("the location to look
// up", "the image to draw") and may be empty.
func ExtractionPrompt(description, hint, message string) string {
	if hint == "" {
		hint = "Keep it short and concrete."
	}
	return fmt.Sprintf(extractionTemplate, description, hint, message)
}
