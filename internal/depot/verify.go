package depot

import (
	"context"
	"errors"
	"fmt"
	"math"

	"bus-depot-backend/internal/model"
	"bus-depot-backend/internal/store"
)

// Verification outcomes, as recorded in metrics.
const (
	OutcomeParked   = "parked"
	OutcomeMismatch = "mismatch"
	OutcomeOverride = "override"
)

// WithinTolerance reports whether pos is on the bay's floor and within tol of
// the bay on both axes.
func WithinTolerance(pos *model.Position, bay *model.Bay, tol float64) bool {
	return pos.FloorID == bay.FloorID &&
		math.Abs(pos.X-bay.X) <= tol &&
		math.Abs(pos.Y-bay.Y) <= tol
}

// ConfirmParked checks the bus's latest position against its allocated bay. A
// match parks the allocation; a mismatch counts a wrong attempt and, at the
// threshold, records an override at the bay nearest the bus.
func (s *Service) ConfirmParked(ctx context.Context, allocationID string) (Result, error) {
	alloc, err := s.store.FindAllocation(ctx, allocationID)
	if err != nil {
		return Result{}, fromStore("Unable to verify current allocation.", err)
	}

	unlock := s.buses.Lock(alloc.BusID)
	defer unlock()

	// Re-read under the bus lock.
	alloc, err = s.store.FindAllocation(ctx, allocationID)
	if err != nil {
		return Result{}, fromStore("Unable to verify current allocation.", err)
	}
	switch alloc.Status {
	case model.AllocationOverrideParked:
		return Result{}, newError(KindConflict, "Parking override already recorded. Please follow controller instructions.")
	case model.AllocationAllocated, model.AllocationParked:
	default:
		return Result{}, newError(KindConflict, "Allocation is no longer active.")
	}
	if alloc.Bay == nil {
		return Result{}, newError(KindNotFound, "Allocated bay not found.")
	}

	pos, err := s.store.LatestPosition(ctx, alloc.BusID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{}, &Error{
			Kind: KindValidationFailed,
			Msg:  "Cannot confirm parking: no recent position for this bus. Please try again after moving on the map.",
			Err:  err,
		}
	}
	if err != nil {
		return Result{}, fromStore("Error fetching latest position", err)
	}

	log := s.log.With().Str("allocation_id", alloc.ID).Str("bay", alloc.Bay.BayCode).Logger()

	if WithinTolerance(pos, alloc.Bay, s.rules.Tolerance) {
		unlockBay := s.bays.Lock(alloc.BayID)
		defer unlockBay()

		if err := s.store.MarkParked(ctx, alloc.ID, alloc.BusID, alloc.BayID); err != nil {
			log.Error().Err(err).Msg("failed to confirm parking")
			return Result{}, fromStore("Error confirming parking", err)
		}
		s.metrics.Verification(OutcomeParked)
		log.Info().Msg("parking confirmed")

		alloc.Status = model.AllocationParked
		alloc.Bay.IsAvailable = false
		alloc.Bay.CurrentBusID = &alloc.BusID
		return Result{Message: "Thank you. Parking confirmed.", Bus: alloc.Bus, Bay: alloc.Bay, Allocation: alloc, Position: pos}, nil
	}

	attempts, err := s.store.IncrementWrongAttempts(ctx, alloc.ID)
	if err != nil {
		log.Error().Err(err).Msg("failed to count wrong attempt")
		return Result{}, fromStore("Error updating wrong attempts", err)
	}
	alloc.WrongAttempts = attempts
	log.Warn().Int("wrong_attempts", attempts).Msg("parking position mismatch")

	if attempts < s.rules.WrongAttemptThreshold {
		s.metrics.Verification(OutcomeMismatch)
		return Result{}, newError(KindValidationFailed, fmt.Sprintf(
			"You are not at the allocated bay. Please move to the correct lot before confirming (attempt %d of %d).",
			attempts, s.rules.WrongAttemptThreshold))
	}
	return s.resolveOverride(ctx, alloc, pos)
}
