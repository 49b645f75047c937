package usecase

import "strings"

// DefaultPromptTemplate is the template the parameter store is seeded with.
const DefaultPromptTemplate = "{}\n\nHuman: {}\n\nAssistant:"

// turnTemplate renders one recorded exchange onto the running transcript.
const turnTemplate = "{}\n\nHuman: {}\n\nAssistant: {}"

// FormatPrompt fills the template's positional "{}" slots with the prior
// history and then the new message. Values are inserted verbatim.
func FormatPrompt(template, history, message string) string {
	return formatSlots(template, history, message)
}

// FormatTurn appends one human/assistant exchange to history.
func FormatTurn(history, message, completion string) string {
	return formatSlots(turnTemplate, history, message, completion)
}

// formatSlots substitutes args into "{}" slots left to right. "\{" and "\}"
// produce literal braces; slots beyond len(args) are kept as written and
// surplus args are dropped. Substituted values are never rescanned.
func formatSlots(template string, args ...string) string {
	var b strings.Builder
	b.Grow(len(template) + totalLen(args))

	next := 0
	for i := 0; i < len(template); i++ {
		c := template[i]
		switch {
		case c == '\\' && i+1 < len(template) && (template[i+1] == '{' || template[i+1] == '}'):
			b.WriteByte(template[i+1])
			i++
		case c == '{' && i+1 < len(template) && template[i+1] == '}':
			if next < len(args) {
				b.WriteString(args[next])
			} else {
				b.WriteString("{}")
			}
			next++
			i++
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// SlotCount reports how many positional slots template declares.
func SlotCount(template string) int {
	n := 0
	for i := 0; i < len(template); i++ {
		switch {
		case template[i] == '\\' && i+1 < len(template) && (template[i+1] == '{' || template[i+1] == '}'):
			i++
		case template[i] == '{' && i+1 < len(template) && template[i+1] == '}':
			n++
			i++
		}
	}
	return n
}

func totalLen(args []string) int {
	n := 0
	for _, a := range args {
		n += len(a)
	}
	return n
}
