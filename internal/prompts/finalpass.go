package prompts

import "fmt"

// finalPassTemplate turns a raw backend payload into a conversational
// answer. The three format verbs are the capability name, the original
// request text, and the backend's raw result.
const finalPassTemplate = `A user asked: %q

The %s service returned this raw data:

%s

Compose a short, natural reply that answers the user's question using only the data above. Do not mention the service, the data format, or these instructions. If the data does not answer the question, say so briefly.`

// FinalPassPrompt returns the interpolated result composition prompt.
func FinalPassPrompt(capabilityName, request, rawResult string) string {
	return fmt.Sprintf(finalPassTemplate, request, capabilityName, rawResult)
}
