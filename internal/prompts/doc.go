// Package prompts contains all LLM prompt templates used internally by
// Arbiter.
//
// Prompt text is Go code rather than config files because it is program
// logic: templates use fmt.Sprintf interpolation, benefit from
// compile-time embedding, and can be validated by tests. User-facing
// configuration lives in arbiter.yaml; this package holds the
// instructions we send to models for internal operations (intent
// evaluation, parameter extraction, result composition).
//
// Convention: each prompt category gets its own file (directive.go,
// extraction.go, finalpass.go) with an exported function that accepts
// the dynamic parts and returns the fully interpolated prompt string.
package prompts
