// Package signs maps text read off a sign to the alert spoken to the user.
package signs

import "strings"

// Phrases produced by Map.
const (
	NoTextSpoken  = "No text detected on sign"
	NoTextDisplay = "No text detected"
	ExitAlert     = "Exit ahead"
	StairsAlert   = "Stairs ahead, be careful"
	PlatformAlert = "Platform area detected"

	spokenLimit = 60
	statusLimit = 40
)

// keyword rules, checked in order; the first match wins.
var rules = []struct {
	keyword string
	alert   string
}{
	{"exit", ExitAlert},
	{"stair", StairsAlert},
	{"platform", PlatformAlert},
}

// Result is what to say and what to show for a piece of recognized text.
type Result struct {
	// Spoken is always set.
	Spoken string `json:"spoken"`

	// Status replaces the status line when HasStatus is true. When the sign
	// was blank the status line is left as it was.
	Status    string `json:"status,omitempty"`
	HasStatus bool   `json:"has_status"`
}

// Map converts recognized text into an alert.
//
// Matching is case-insensitive; the original casing is kept in the generic
// "Sign reads" phrases, which are hard-capped at 60 (spoken) and 40 (status)
// characters without regard to word boundaries.
func Map(raw string) Result {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Result{Spoken: NoTextSpoken}
	}

	lower := strings.ToLower(text)
	for _, r := range rules {
		if strings.Contains(lower, r.keyword) {
			return Result{Spoken: r.alert, Status: r.alert, HasStatus: true}
		}
	}

	return Result{
		Spoken:    "Sign reads: " + truncate(text, spokenLimit),
		Status:    "Sign: " + truncate(text, statusLimit),
		HasStatus: true,
	}
}

// Display returns the text shown in the OCR result panel.
func Display(raw string) string {
	if text := strings.TrimSpace(raw); text != "" {
		return text
	}
	return NoTextDisplay
}

// truncate cuts s to at most n characters (runes, not bytes).
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
