package generate

import (
	"strings"

	"github.com/solos-app/sol-engine/internal/persona"
)

// Word lists mirror Sol's voice markers. Scores are the fraction of markers
// present, capped at 1.
var (
	existentialWords = []string{"meaning", "purpose", "why", "existence", "deeper", "profound"}
	thoughtfulWords  = []string{"consider", "reflect", "think", "perspective", "understand", "explore"}
	companionPhrases = []string{"i think", "i feel", "i wonder", "we", "together", "with you"}
)

// AnalyzeTraits scores a reply against Sol's trait markers. The result feeds
// personality blending, so scores stay in [0,1].
func AnalyzeTraits(text string) persona.TraitVector {
	lower := strings.ToLower(text)

	traits := persona.TraitVector{
		"existential":   markerScore(lower, existentialWords),
		"thoughtful":    markerScore(lower, thoughtfulWords),
		"companionship": markerScore(lower, companionPhrases),
	}

	// Questions signal curiosity; up to two is good engagement.
	engagement := float64(strings.Count(text, "?")) / 2
	if engagement > 1 {
		engagement = 1
	}
	traits["engagement"] = engagement

	return traits
}

func markerScore(lower string, markers []string) float64 {
	hits := 0
	for _, m := range markers {
		if strings.Contains(lower, m) {
			hits++
		}
	}
	score := float64(hits) / float64(len(markers))
	if score > 1 {
		score = 1
	}
	return score
}

// ClassifyKind buckets an exchange by the user's message for analytics.
func ClassifyKind(userMessage string) Kind {
	lower := strings.ToLower(userMessage)
	switch {
	case containsAny(lower, "tired", "exhausted", "overwhelmed", "stressed"):
		return KindSupport
	case containsAny(lower, "meaning", "purpose", "why", "philosophy"):
		return KindPhilosophical
	case containsAny(lower, "task", "work", "focus", "productivity"):
		return KindProductivity
	case containsAny(lower, "mood", "feeling", "energy", "emotion"):
		return KindEmotional
	default:
		return KindGeneral
	}
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
