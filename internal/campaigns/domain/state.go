// Package domain provides core business rules for the campaigns bounded context.
package domain

// State is a target's position in the contact lifecycle.
type State string

const (
	StatePending   State = "pending"
	StateScheduled State = "scheduled"
	// StateCalling covers an in-flight voice attempt; StateContacted covers
	// an in-flight chat attempt.
	StateCalling   State = "calling"
	StateContacted State = "contacted"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Contact channels.
const (
	ChannelVoice = "voice"
	ChannelChat  = "chat"
)

// Target outcomes recorded on terminal or annotated targets.
const (
	OutcomePromiseMade   = "promise_made"
	OutcomeRefused       = "refused"
	OutcomeNoAnswer      = "no_answer"
	OutcomeMaxAttempts   = "max_attempts"
	OutcomeMessageSent   = "message_sent"
	OutcomePromiseBroken = "promise_broken"
)

// Attempt statuses.
const (
	AttemptQueued     = "queued"
	AttemptInProgress = "in-progress"
	AttemptCompleted  = "completed"
	AttemptFailed     = "failed"
)

// Promise statuses.
const (
	PromisePending   = "pending"
	PromiseFulfilled = "fulfilled"
	PromiseBroken    = "broken"
)

// Campaign statuses.
const (
	CampaignDraft     = "draft"
	CampaignIngesting = "ingesting"
	CampaignActive    = "active"
	CampaignPaused    = "paused"
	CampaignFailed    = "failed"
	CampaignCompleted = "completed"
)

// IsTerminal reports whether no further contact attempts may occur.
func IsTerminal(s State) bool {
	return s == StateCompleted || s == StateFailed
}

// InFlight reports whether a contact attempt is currently underway.
func InFlight(s State) bool {
	return s == StateCalling || s == StateContacted
}

// transitions lists the legal state moves. Administrative reset
// (failed/scheduled back to pending) is included; everything else is a
// pipeline-driven move.
var transitions = map[State][]State{
	StatePending:   {StateScheduled, StateFailed},
	StateScheduled: {StateCalling, StateContacted, StatePending, StateFailed},
	StateCalling:   {StatePending, StateCompleted, StateFailed},
	StateContacted: {StatePending, StateCompleted, StateFailed},
	StateFailed:    {StatePending},
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ContactState returns the in-flight state for a channel.
func ContactState(channel string) State {
	if channel == ChannelChat {
		return StateContacted
	}
	return StateCalling
}
