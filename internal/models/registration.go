package models

import "time"

// RegistrationStatus represents the claim state of a one-time code.
type RegistrationStatus string

// Possible registration code statuses. Legacy rows may still carry
// "unused"; NormalizeRegistrationStatus maps it to Available on read.
const (
	RegistrationStatusAvailable RegistrationStatus = "available"
	RegistrationStatusUsed      RegistrationStatus = "used"

	registrationStatusLegacyUnused RegistrationStatus = "unused"
)

// NormalizeRegistrationStatus folds legacy status spellings into the
// canonical set. An empty status counts as Available.
func NormalizeRegistrationStatus(raw RegistrationStatus) RegistrationStatus {
	switch raw {
	case "", registrationStatusLegacyUnused:
		return RegistrationStatusAvailable
	default:
		return raw
	}
}

// RegistrationCode is a one-time enrollment token. Codes are provisioned
// externally and never deleted; a used code is kept as an audit record.
type RegistrationCode struct {
	Code        string             `db:"code" json:"code"`
	Status      RegistrationStatus `db:"status" json:"status"`
	PresetGroup string             `db:"preset_group" json:"preset_group,omitempty"`
	ClaimedBy   *string            `db:"claimed_by" json:"claimed_by,omitempty"`
	ClaimedAt   *time.Time         `db:"claimed_at" json:"claimed_at,omitempty"`
	CreatedAt   time.Time          `db:"created_at" json:"created_at"`
}

// IdentityMapping links a public registration code to a generated internal
// participant id when the deployment runs in pseudonymous mode.
type IdentityMapping struct {
	PublicCode string    `db:"public_code" json:"public_code"`
	InternalID string    `db:"internal_id" json:"internal_id"`
	Group      string    `db:"grp" json:"group"`
	AssignedAt time.Time `db:"assigned_at" json:"assigned_at"`
	Completed  bool      `db:"completed" json:"completed"`
}