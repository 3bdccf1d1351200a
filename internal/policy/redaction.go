package policy

import "regexp"

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// RedactSensitive masks payment card numbers and email addresses in text
// bound for the events channel. Callers sometimes read these out loud
// mid-call and they have no business reaching frontends. Phone numbers are
// left alone: the contact number is the booking key.
func RedactSensitive(input string) (redacted string, changed bool) {
	out := cardPattern.ReplaceAllString(input, "[REDACTED_CARD]")
	changed = out != input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out

	return next, changed
}
