package depot

import (
	"context"
	"fmt"

	"bus-depot-backend/internal/model"
	"bus-depot-backend/internal/store"
)

// nearestBay returns the bay with the smallest squared distance to pos, or nil
// for an empty slice. Every floor uses the same x/y plane, so plain distance
// would happily pick a bay on another level straight above or below the bus;
// bays on the position's floor therefore rank before all others, and distance
// only orders bays within a floor. Ties go to the lowest bay id. Callers pass
// only bays that are free or held by this bus, keeping one occupant per bay.
func nearestBay(bays []model.Bay, pos *model.Position) *model.Bay {
	var best *model.Bay
	var bestDist float64
	var bestOff bool
	for i := range bays {
		b := &bays[i]
		off := b.FloorID != pos.FloorID
		dx := b.X - pos.X
		dy := b.Y - pos.Y
		d := dx*dx + dy*dy
		switch {
		case best == nil,
			bestOff && !off,
			off == bestOff && d < bestDist,
			off == bestOff && d == bestDist && b.ID < best.ID:
			best, bestDist, bestOff = b, d, off
		}
	}
	return best
}

// resolveOverride records an override incident for alloc and moves the bus's
// occupancy to the free bay nearest pos. Bays held by other buses are never
// candidates. Callers hold the bus lock.
func (s *Service) resolveOverride(ctx context.Context, alloc *model.Allocation, pos *model.Position) (Result, error) {
	candidates, err := s.store.ListBays(ctx, store.BayFilter{AvailableOnly: true, Holder: alloc.BusID})
	if err != nil {
		return Result{}, fromStore("Error fetching bays for override", err)
	}

	chosen := nearestBay(candidates, pos)
	var overrideID *string
	if chosen != nil {
		overrideID = &chosen.ID
		unlockBay := s.bays.Lock(chosen.ID)
		defer unlockBay()
	}

	if err := s.store.MarkOverride(ctx, alloc.ID, alloc.BusID, overrideID); err != nil {
		s.log.Error().Err(err).Str("allocation_id", alloc.ID).Msg("failed to record override")
		return Result{}, fromStore("Error recording parking override", err)
	}

	s.metrics.Verification(OutcomeOverride)
	s.metrics.Override()
	ev := s.log.Warn().Str("allocation_id", alloc.ID).Int("wrong_attempts", alloc.WrongAttempts)
	if chosen != nil {
		ev = ev.Str("override_bay", chosen.BayCode)
	}
	ev.Msg("parking override recorded")

	if s.notifier != nil {
		s.notifier.NotifyOverride(alloc.ID)
	}

	alloc.Status = model.AllocationOverrideParked
	alloc.OverrideBayID = overrideID
	alloc.OverrideBay = chosen
	if chosen != nil {
		chosen.IsAvailable = false
		chosen.CurrentBusID = &alloc.BusID
	}
	return Result{
		Message: fmt.Sprintf(
			"You have parked at a different bay %d times. Override recorded - controller will be notified.",
			alloc.WrongAttempts),
		Bus:        alloc.Bus,
		Bay:        chosen,
		Allocation: alloc,
		Position:   pos,
	}, nil
}
