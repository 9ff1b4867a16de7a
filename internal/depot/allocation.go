package depot

import (
	"context"
	"fmt"

	"bus-depot-backend/internal/model"
	"bus-depot-backend/internal/store"
)

// Assign allocates a specific bay to the bus with the given plate, creating the
// bus on first contact. The bay must be available when the allocation is written.
func (s *Service) Assign(ctx context.Context, bayID, rawPlate string) (Result, error) {
	bus, err := s.EnsureBus(ctx, rawPlate)
	if err != nil {
		return Result{}, err
	}

	unlockBus := s.buses.Lock(bus.ID)
	defer unlockBus()
	unlockBay := s.bays.Lock(bayID)
	defer unlockBay()

	bay, err := s.store.FindBay(ctx, bayID)
	if err != nil {
		return Result{}, fromStore("Selected bay not found.", err)
	}
	if !bay.IsAvailable {
		return Result{}, newError(KindConflict, "Bay is no longer available.")
	}

	reason := model.PriorityManual
	if bus.NeedsCharging && bay.IsChargingBay {
		reason = model.PriorityChargingManual
	}
	return s.allocate(ctx, bus, bay, reason)
}

// AutoAssign allocates the first available bay ordered by (area, lot) to a bus
// that has already entered the depot. Buses that need charging only get
// charging bays.
func (s *Service) AutoAssign(ctx context.Context, rawPlate string) (Result, error) {
	bus, err := s.BusByPlate(ctx, rawPlate)
	if err != nil {
		return Result{}, err
	}

	unlockBus := s.buses.Lock(bus.ID)
	defer unlockBus()

	bays, err := s.store.ListBays(ctx, store.BayFilter{AvailableOnly: true, ChargingOnly: bus.NeedsCharging})
	if err != nil {
		return Result{}, fromStore("Error fetching available bays", err)
	}
	if len(bays) == 0 {
		msg := "No available bays."
		if bus.NeedsCharging {
			msg = "No available charging bays."
		}
		return Result{}, newError(KindConflict, msg)
	}
	bay := bays[0]

	unlockBay := s.bays.Lock(bay.ID)
	defer unlockBay()

	reason := model.PriorityDefault
	if bus.NeedsCharging {
		reason = model.PriorityCharging
	}
	return s.allocate(ctx, bus, &bay, reason)
}

// allocate writes the allocation and flips the bay in one store transaction.
// Callers hold the bus and bay locks.
func (s *Service) allocate(ctx context.Context, bus *model.Bus, bay *model.Bay, reason string) (Result, error) {
	alloc := &model.Allocation{
		BusID:          bus.ID,
		BayID:          bay.ID,
		Status:         model.AllocationAllocated,
		PriorityReason: reason,
	}
	if err := s.store.CreateAllocation(ctx, alloc); err != nil {
		s.log.Error().Err(err).Str("plate", bus.PlateNumber).Str("bay", bay.BayCode).Msg("allocation failed")
		return Result{}, fromStore("Error allocating bay "+bay.BayCode, err)
	}

	bay.IsAvailable = false
	bay.CurrentBusID = &bus.ID
	bay.CurrentBus = bus
	s.metrics.Allocation(reason)
	s.log.Info().
		Str("plate", bus.PlateNumber).
		Str("bay", bay.BayCode).
		Str("allocation_id", alloc.ID).
		Str("reason", reason).
		Msg("bay allocated")

	return Result{
		Message:    fmt.Sprintf("Allocated bay %s to %s.", bay.BayCode, bus.PlateNumber),
		Bus:        bus,
		Bay:        bay,
		Allocation: alloc,
	}, nil
}
