package translate

import "fmt"

// SystemPrompt renders the instruction given to an LLM backend for
// translating live captions. The prompt forbids commentary so the raw
// completion can be broadcast verbatim.
func SystemPrompt(sourceLang, targetLang string) string {
	return fmt.Sprintf(
		"You are a live subtitle translator. Translate the user's text from %s to %s. "+
			"Reply with the translation only: no quotes, no explanations, no notes. "+
			"Preserve the tone and register of the original. "+
			"If the text is already in %s, return it unchanged.",
		sourceLang, targetLang, targetLang)
}
