package conversation

import "strings"

const (
	historyHeader  = "Conversation history:"
	memoriesHeader = "Relevant memories:"
)

// BuildPrompt assembles the completion prompt from the persona, the trailing
// history window, retrieved memories and the new utterance.
func BuildPrompt(persona string, window []Turn, memories, userInput string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(persona))
	b.WriteString("\n\n")

	if len(window) > 0 {
		b.WriteString(historyHeader)
		b.WriteByte('\n')
		for _, t := range window {
			b.WriteString(string(t.Role))
			b.WriteString(": ")
			b.WriteString(t.Content)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}

	if memories != "" {
		b.WriteString(memoriesHeader)
		b.WriteByte('\n')
		b.WriteString(memories)
		b.WriteString("\n\n")
	}

	b.WriteString("User: ")
	b.WriteString(userInput)
	b.WriteString("\nAssistant:")
	return b.String()
}
