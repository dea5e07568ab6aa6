package delivery

import (
	"fmt"

	"github.com/alem-hub/daily-lessons/internal/domain/subscriber"
)

// OutcomeKind classifies the result of executing an action.
type OutcomeKind string

const (
	OutcomeDelivered        OutcomeKind = "delivered"
	OutcomeCompleted        OutcomeKind = "completed"
	OutcomeSkipped          OutcomeKind = "skipped"
	OutcomePermanentFailure OutcomeKind = "permanent_failure"
	OutcomeTransientFailure OutcomeKind = "transient_failure"
)

// Failure reasons.
const (
	ReasonMissingAsset         = "missing-asset"
	ReasonUnreachableRecipient = "unreachable-recipient"
	ReasonTransport            = "transport"
)

// Outcome is what happened when an action was executed.
type Outcome struct {
	Kind   OutcomeKind
	Action subscriber.Action
	Reason string
	Err    error
}

// IsFailure reports whether no state transition should be committed.
func (o Outcome) IsFailure() bool {
	return o.Kind == OutcomePermanentFailure || o.Kind == OutcomeTransientFailure
}

// Commits reports whether the outcome carries a state transition.
func (o Outcome) Commits() bool {
	return o.Kind == OutcomeDelivered || o.Kind == OutcomeCompleted
}

func (o Outcome) String() string {
	switch {
	case o.Err != nil:
		return fmt.Sprintf("%s(%s): %v", o.Kind, o.Reason, o.Err)
	case o.Reason != "":
		return fmt.Sprintf("%s(%s)", o.Kind, o.Reason)
	default:
		return string(o.Kind)
	}
}

func delivered(a subscriber.Action) Outcome { return Outcome{Kind: OutcomeDelivered, Action: a} }
func completed(a subscriber.Action) Outcome { return Outcome{Kind: OutcomeCompleted, Action: a} }

func skipped(a subscriber.Action) Outcome {
	return Outcome{Kind: OutcomeSkipped, Action: a, Reason: a.Reason}
}

func permanentFailure(a subscriber.Action, reason string, err error) Outcome {
	return Outcome{Kind: OutcomePermanentFailure, Action: a, Reason: reason, Err: err}
}

func transientFailure(a subscriber.Action, err error) Outcome {
	return Outcome{Kind: OutcomeTransientFailure, Action: a, Reason: ReasonTransport, Err: err}
}
