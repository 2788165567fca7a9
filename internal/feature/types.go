package feature

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Signal is a user-reported numeric state tracked by the engine.
type Signal string

const (
	SignalMood    Signal = "mood"
	SignalEnergy  Signal = "energy"
	SignalFocus   Signal = "focus"
	SignalAnxiety Signal = "anxiety"
)

// AllSignals lists every tracked signal kind.
var AllSignals = []Signal{SignalMood, SignalEnergy, SignalFocus, SignalAnxiety}

// ParseSignal validates a signal name from an external producer.
func ParseSignal(s string) (Signal, error) {
	switch Signal(s) {
	case SignalMood, SignalEnergy, SignalFocus, SignalAnxiety:
		return Signal(s), nil
	}
	return "", fmt.Errorf("%w: unknown signal %q", ErrInvalidSample, s)
}

// ErrInvalidSample is returned when an ingested sample fails validation.
// Rejected samples are never partially stored.
var ErrInvalidSample = errors.New("invalid sample")

// Sample is one logged observation: a rating plus the context it was taken
// in. Immutable once created; the logging collaborator produces them, only
// the feature store consumes them.
type Sample struct {
	ID        string    `json:"id,omitempty"`
	UserID    string    `json:"user_id"`
	Signal    Signal    `json:"signal"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Tags      []string  `json:"tags"`
}

// Context tag keys fixed by this engine. Producers must send time_of_day and
// day_of_week; the rest are optional.
const (
	TagTimeOfDay    = "time_of_day"
	TagDayOfWeek    = "day_of_week"
	TagTaskCategory = "active_task_category"
	TagSinceFocus   = "minutes_since_focus"
)

// Tag builds a "key=value" context tag.
func Tag(key, value string) string { return key + "=" + value }

// TimeOfDayBucket maps a timestamp to its coarse bucket, matching the
// buckets the mobile logger reports.
func TimeOfDayBucket(t time.Time) string {
	switch h := t.Hour(); {
	case h < 6:
		return "night"
	case h < 12:
		return "morning"
	case h < 18:
		return "afternoon"
	default:
		return "evening"
	}
}

// SinceFocusBucket coarsens minutes-since-last-focus-session into a small
// label set so the tag has enough support to correlate.
func SinceFocusBucket(minutes int) string {
	switch {
	case minutes < 30:
		return "under_30"
	case minutes < 120:
		return "30_to_120"
	default:
		return "over_120"
	}
}

// ContextTags derives the standard tag set for an observation at time t.
// taskCategory may be empty; minutesSinceFocus below zero means unknown.
func ContextTags(t time.Time, taskCategory string, minutesSinceFocus int) []string {
	tags := []string{
		Tag(TagTimeOfDay, TimeOfDayBucket(t)),
		Tag(TagDayOfWeek, strings.ToLower(t.Weekday().String())),
	}
	if taskCategory != "" {
		tags = append(tags, Tag(TagTaskCategory, taskCategory))
	}
	if minutesSinceFocus >= 0 {
		tags = append(tags, Tag(TagSinceFocus, SinceFocusBucket(minutesSinceFocus)))
	}
	return tags
}

// hasTagKey reports whether tags contains any "key=..." entry.
func hasTagKey(tags []string, key string) bool {
	prefix := key + "="
	for _, tag := range tags {
		if strings.HasPrefix(tag, prefix) {
			return true
		}
	}
	return false
}
