package models

import "time"

// EnrollmentEvent action constants.
const (
	EnrollmentActionClaim    = "CLAIM"
	EnrollmentActionResume   = "RESUME"
	EnrollmentActionBegin    = "SESSION_BEGIN"
	EnrollmentActionComplete = "SESSION_COMPLETE"
	EnrollmentActionWithdraw = "SESSION_WITHDRAW"
)

// EnrollmentEvent is an append-only audit record of enrollment and session
// transitions. Events never gate behavior; a failed write is logged and
// swallowed.
type EnrollmentEvent struct {
	ID            string    `db:"id" json:"id"`
	ParticipantID *string   `db:"participant_id" json:"participant_id,omitempty"`
	Action        string    `db:"action" json:"action"`
	Code          *string   `db:"code" json:"code,omitempty"`
	SessionNo     *int      `db:"session_no" json:"session_no,omitempty"`
	Detail        []byte    `db:"detail" json:"detail,omitempty"`
	IPAddress     string    `db:"ip_address" json:"ip_address"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}