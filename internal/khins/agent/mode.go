package agent

import "strings"

// Mode is the conversational register the persona answers in. Users switch
// it with plain-language cues; it lasts until the next switch.
type Mode string

const (
	ModeChaotic    Mode = "chaotic"
	ModeNonchalant Mode = "nonchalant"
	ModeTherapist  Mode = "therapist"
)

var modeCues = []struct {
	mode    Mode
	phrases []string
}{
	{ModeNonchalant, []string{"nonchalant mode", "go chill", "chill mode"}},
	{ModeChaotic, []string{"chaotic mode", "be wild again"}},
	{ModeTherapist, []string{"therapy"}},
}

// detectMode returns the mode requested by text, if any.
func detectMode(text string) (Mode, bool) {
	lower := strings.ToLower(text)
	for _, cue := range modeCues {
		for _, p := range cue.phrases {
			if strings.Contains(lower, p) {
				return cue.mode, true
			}
		}
	}
	return "", false
}

// instruction is appended to the persona prompt.
func (m Mode) instruction() string {
	switch m {
	case ModeNonchalant:
		return "Current mode: nonchalant. Short, cocky, chill replies."
	case ModeTherapist:
		return "Current mode: therapist. Calm, warm and supportive; no jokes at the user's expense."
	default:
		return "Current mode: chaotic. Witty, absurd and playful."
	}
}
