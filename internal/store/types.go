package store

import "errors"

var (
	// ErrNotFound is returned by point lookups that match no row.
	ErrNotFound = errors.New("record not found")
	// ErrBayUnavailable is returned when a conditional occupancy update finds the
	// bay already taken by another bus.
	ErrBayUnavailable = errors.New("bay no longer available")
	// ErrStaleAllocation is returned when an allocation is no longer in a status
	// the requested transition starts from.
	ErrStaleAllocation = errors.New("allocation status changed concurrently")
)

// BayFilter narrows a bay scan. Zero values do not filter.
type BayFilter struct {
	FloorID       string
	AvailableOnly bool
	ChargingOnly  bool
	ExcludeID     string
	// Holder additionally admits occupied bays whose occupant is this bus.
	Holder string
}

// ReconcileReport counts the bay rows corrected by a reconciliation pass.
type ReconcileReport struct {
	AvailabilityFixed int64 `json:"availability_fixed"`
	DepartedFreed     int64 `json:"departed_freed"`
}
