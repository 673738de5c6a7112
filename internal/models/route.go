package models

import "time"

// RouteStage is the page class a proceeding participant is sent to.
type RouteStage string

const (
	RouteStageConsent      RouteStage = "consent"
	RouteStageInstructions RouteStage = "instructions"
)

// BlockReason explains why routing did not proceed. Blocks are expected
// outcomes, not errors.
type BlockReason string

const (
	BlockReasonInvalid      BlockReason = "invalid"
	BlockReasonCompletedAll BlockReason = "completed_all"
	BlockReasonTooEarly     BlockReason = "too_early"
)

// RouteOutcome is the routing decision for a participant. Either Proceed is
// true and Stage is set, or Reason explains the block. TooEarly blocks carry
// the session number and its window bounds.
type RouteOutcome struct {
	Proceed       bool        `json:"proceed"`
	Stage         RouteStage  `json:"stage,omitempty"`
	Reason        BlockReason `json:"reason,omitempty"`
	Session       int         `json:"session,omitempty"`
	WindowOpenAt  *time.Time  `json:"window_open_at,omitempty"`
	WindowCloseAt *time.Time  `json:"window_close_at,omitempty"`
}

// ProceedTo builds a proceeding outcome.
func ProceedTo(stage RouteStage) RouteOutcome {
	return RouteOutcome{Proceed: true, Stage: stage}
}

// BlockedBecause builds a blocked outcome with no window details.
func BlockedBecause(reason BlockReason) RouteOutcome {
	return RouteOutcome{Reason: reason}
}