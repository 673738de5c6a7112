package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// SessionCount is the fixed number of study sessions per participant.
const SessionCount = 3

// NextSession points at the session a participant is due for. It advances
// forward only: 1 -> 2 -> 3 -> done.
type NextSession int

const (
	NextSession1 NextSession = 1
	NextSession2 NextSession = 2
	NextSession3 NextSession = 3
	// NextSessionDone marks a participant who finished all sessions.
	NextSessionDone NextSession = SessionCount + 1
)

// Done reports whether all sessions are completed.
func (n NextSession) Done() bool { return n > SessionCount }

// Valid reports whether the pointer holds a known value.
func (n NextSession) Valid() bool { return n >= NextSession1 && n <= NextSessionDone }

// String renders the wire form used by clients: "1".."3" or "done".
func (n NextSession) String() string {
	if n.Done() {
		return "done"
	}
	return strconv.Itoa(int(n))
}

// MarshalJSON emits the session number, or the string "done".
func (n NextSession) MarshalJSON() ([]byte, error) {
	if n.Done() {
		return json.Marshal("done")
	}
	return json.Marshal(int(n))
}

// Participant is the durable per-participant state machine.
type Participant struct {
	ParticipantID string      `db:"participant_id" json:"participant_id"`
	Group         string      `db:"grp" json:"group"`
	Version       int         `db:"version" json:"version,omitempty"`
	Language      string      `db:"language" json:"language,omitempty"`
	Country       string      `db:"country" json:"country,omitempty"`
	NextSession   NextSession `db:"next_session" json:"next_session"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
}

// SessionState tracks one of the three sessions of a participant.
// Window bounds for session N are derived from session N-1's start and are
// never recomputed once set.
type SessionState struct {
	ParticipantID string     `db:"participant_id" json:"-"`
	SessionNo     int        `db:"session_no" json:"session_no"`
	StartedAt     *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt   *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	WithdrawnAt   *time.Time `db:"withdrawn_at" json:"withdrawn_at,omitempty"`
	WindowOpenAt  *time.Time `db:"window_open_at" json:"window_open_at,omitempty"`
	WindowCloseAt *time.Time `db:"window_close_at" json:"window_close_at,omitempty"`
	Lang          string     `db:"lang" json:"lang,omitempty"`
}

// ParticipantDetail bundles a participant with its session rows.
type ParticipantDetail struct {
	Participant
	Sessions []SessionState `json:"sessions"`
}

// Session returns the state row for session n, or nil.
func (d *ParticipantDetail) Session(n int) *SessionState {
	for i := range d.Sessions {
		if d.Sessions[i].SessionNo == n {
			return &d.Sessions[i]
		}
	}
	return nil
}

// ParticipantIdentity is the claim result handed back to the caller.
type ParticipantIdentity struct {
	ParticipantID string      `json:"participant_id"`
	Group         string      `json:"group"`
	Version       int         `json:"version,omitempty"`
	NextSession   NextSession `json:"next_session"`
	Resumed       bool        `json:"resumed"`
}
