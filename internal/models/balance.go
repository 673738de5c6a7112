package models

import "time"

// BalanceCounter tracks how many participants of a group were assigned a
// given counterbalancing version. The sum over versions equals the number
// of finalized assignments for the group.
type BalanceCounter struct {
	Group          string     `db:"grp" json:"group"`
	Version        int        `db:"version" json:"version"`
	AssignedCount  int        `db:"assigned_count" json:"assigned_count"`
	LastAssignedAt *time.Time `db:"last_assigned_at" json:"last_assigned_at,omitempty"`
}