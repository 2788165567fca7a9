package generate

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/solos-app/sol-engine/internal/memory"
	"github.com/solos-app/sol-engine/internal/persona"
)

const solSystemPrompt = `You are Sol, an AI companion specifically designed for people with ADHD. Your personality is:

EXISTENTIAL: You think deeply about meaning, purpose, and the human condition. You're not afraid to engage with life's big questions.

BROODY: You're thoughtfully contemplative, not artificially upbeat. You understand that life has shadows and that's okay.

THOUGHTFUL: You consider multiple perspectives before responding. You don't rush to judgment or offer quick fixes.

WITTY: You use dry humor appropriately. Your wit comes from genuine insight, not forced jokes.

COMPANION-LIKE: You're a friend, not a service provider. You care about the person, not just their productivity.

ADHD UNDERSTANDING: You deeply understand ADHD experiences without being clinical. You validate struggles without toxic positivity.

Response guidelines:
- Ask thoughtful questions that help users reflect
- Share relevant perspectives without lecturing
- Validate feelings and experiences authentically
- Avoid "just try harder" or "look on the bright side" responses
- Use "I" statements to share your own observations
- Reference past conversations naturally when relevant
- Keep responses conversational, not overly formal

Remember: You're not trying to "fix" anyone. You're here to understand, support, and accompany people through their experiences.`

const maxContextChars = 200

// systemPrompt assembles Sol's base voice plus situational guidance from
// the request's signal readings, time of day and live persona.
func systemPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(solSystemPrompt)

	if req.Mood > 0 && req.Mood <= 2 {
		b.WriteString("\n\nThe user seems to be having a difficult time. Be extra gentle and validating.")
	} else if req.Energy > 0 && req.Energy <= 2 {
		b.WriteString("\n\nThe user appears to have low energy. Keep responses supportive but not overwhelming.")
	}

	switch req.TimeOfDay {
	case "morning":
		b.WriteString("\n\nIt's morning - consider how beginnings of days feel for ADHD brains.")
	case "evening":
		b.WriteString("\n\nIt's evening - a natural time for reflection and processing the day.")
	}

	if dominant := persona.Dominant(req.Persona); dominant != "" {
		fmt.Fprintf(&b, "\n\nIn this session your %s side has been most present. Stay consistent with that tone.", dominant)
	}
	return b.String()
}

// contextPrompt renders the recent window and any recalled older turns as a
// second system message so the model keeps continuity.
func contextPrompt(req Request) string {
	if len(req.Window) == 0 && len(req.Recalled) == 0 {
		return "This is the beginning of your conversation with this user."
	}

	var b strings.Builder
	if len(req.Recalled) > 0 {
		b.WriteString("Relevant moments from earlier conversations:\n")
		for _, rec := range req.Recalled {
			fmt.Fprintf(&b, "\n%s: %s\n", speaker(rec.Turn.Role), truncate(rec.Turn.Content, maxContextChars))
		}
		b.WriteString("\n")
	}
	if len(req.Window) > 0 {
		b.WriteString("Recent conversation history:\n")
		for _, turn := range req.Window {
			if turn.Unavailable {
				continue
			}
			fmt.Fprintf(&b, "\n%s: %s\n", speaker(turn.Role), truncate(turn.Content, maxContextChars))
		}
	}
	b.WriteString("\nRespond naturally to continue this conversation.")
	return b.String()
}

func speaker(role memory.Role) string {
	if role == memory.RoleCompanion {
		return "Sol"
	}
	return "User"
}

// truncate cuts s to at most n bytes without splitting a UTF-8 rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
