// Package dispatch turns qualifying forecasts into at-most-once proactive
// notifications with per-signal cooldowns.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/solos-app/sol-engine/internal/feature"
)

// Notification is one delivered proactive nudge.
type Notification struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	Signal        feature.Signal `json:"signal"`
	Message       string         `json:"message"`
	CooldownUntil time.Time      `json:"cooldown_until"`
	DispatchedAt  time.Time      `json:"dispatched_at"`
}

// Delivery sends a notification to the user. Implementations must not
// retry internally; the dispatcher guarantees at-most-once.
type Delivery interface {
	Deliver(ctx context.Context, n Notification) error
	Name() string
}

// message phrases a predicted dip as a gentle nudge, never a command.
func message(signal feature.Signal, leadMinutes int) string {
	lead := fmt.Sprintf("%d minutes", leadMinutes)
	switch signal {
	case feature.SignalMood:
		return fmt.Sprintf("Hey, this time of day has been a bit heavy for your mood lately. A dip might be coming in the next %s. No pressure, just maybe be kind to yourself.", lead)
	case feature.SignalEnergy:
		return fmt.Sprintf("Your energy has tended to fade around now. You might feel it in the next %s. A break or a snack could help, if you want one.", lead)
	case feature.SignalFocus:
		return fmt.Sprintf("Focus has been slippery for you around this time. The next %s might be harder to concentrate through. Maybe save the deep work for later.", lead)
	case feature.SignalAnxiety:
		return fmt.Sprintf("This kind of moment has tended to spike your anxiety before. If things feel tighter in the next %s, that's a pattern, not a failure.", lead)
	default:
		return fmt.Sprintf("Heads up, a shift in your %s may be coming in the next %s.", signal, lead)
	}
}
