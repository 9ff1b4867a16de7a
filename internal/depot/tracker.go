package depot

import (
	"context"
	"errors"
	"fmt"

	"bus-depot-backend/internal/model"
	"bus-depot-backend/internal/parse"
	"bus-depot-backend/internal/store"
)

// Location is a point on a floor.
type Location struct {
	FloorID string
	X, Y    float64
}

// CheckpointLocation returns the location of a checkpoint.
func CheckpointLocation(cp *model.Checkpoint) Location {
	return Location{FloorID: cp.FloorID, X: cp.X, Y: cp.Y}
}

// BayLocation returns the location of a bay.
func BayLocation(b *model.Bay) Location {
	return Location{FloorID: b.FloorID, X: b.X, Y: b.Y}
}

// RecordMovement appends a position event for the bus. Nothing is validated
// against the previous position.
func (s *Service) RecordMovement(ctx context.Context, busID string, loc Location, source model.PositionSource) (*model.Position, error) {
	pos := &model.Position{
		BusID:   busID,
		FloorID: loc.FloorID,
		X:       loc.X,
		Y:       loc.Y,
		Source:  source,
	}
	if err := s.store.AppendPosition(ctx, pos); err != nil {
		s.log.Error().Err(err).Str("bus_id", busID).Str("source", string(source)).Msg("failed to record position")
		return nil, fromStore("Error recording position", err)
	}
	return pos, nil
}

func (s *Service) floor(ctx context.Context, level int) (*model.Floor, error) {
	f, err := s.store.FindFloorByLevel(ctx, level)
	if err != nil {
		return nil, fromStore(fmt.Sprintf("Level %d is not configured.", level), err)
	}
	return f, nil
}

// MoveToCheckpoint records the bus at a named checkpoint on the given level.
func (s *Service) MoveToCheckpoint(ctx context.Context, busID string, level int, name string) (Result, error) {
	floor, err := s.floor(ctx, level)
	if err != nil {
		return Result{}, err
	}
	cp, err := s.store.FindCheckpoint(ctx, floor.ID, name)
	if err != nil {
		return Result{}, fromStore(fmt.Sprintf("Checkpoint not found: %s on Level %d", name, level), err)
	}
	pos, err := s.RecordMovement(ctx, busID, CheckpointLocation(cp), model.CheckpointSource(cp.Name))
	if err != nil {
		return Result{}, err
	}
	return Result{Message: fmt.Sprintf("Bus moved to %s.", cp.Name), Position: pos, Level: level}, nil
}

// ChangeLevel moves the bus through the transition checkpoint from level to the
// adjacent level in dir. Result.Level carries the new level.
func (s *Service) ChangeLevel(ctx context.Context, busID string, level int, dir parse.Direction) (Result, error) {
	target := level + dir.Delta()
	if target > s.rules.MaxLevel {
		return Result{}, newError(KindValidationFailed, fmt.Sprintf("Already at highest level (%d).", s.rules.MaxLevel))
	}
	if target < s.rules.MinLevel {
		return Result{}, newError(KindValidationFailed, fmt.Sprintf("Already at lowest level (%d).", s.rules.MinLevel))
	}

	current, err := s.floor(ctx, level)
	if err != nil {
		return Result{}, err
	}
	if _, err := s.floor(ctx, target); err != nil {
		return Result{}, err
	}

	name := parse.TransitionName(level, target, dir)
	cp, err := s.store.FindCheckpoint(ctx, current.ID, name)
	if err != nil {
		return Result{}, fromStore("Checkpoint not found: "+name, err)
	}

	source := model.SourceLevelUp
	if dir == parse.Down {
		source = model.SourceLevelDown
	}
	pos, err := s.RecordMovement(ctx, busID, CheckpointLocation(cp), source)
	if err != nil {
		return Result{}, err
	}
	return Result{Message: fmt.Sprintf("Bus proceeding to Level %d.", target), Position: pos, Level: target}, nil
}

// MoveToAllocation drives the bus onto its allocated bay. The bay must be on the
// bus's current level.
func (s *Service) MoveToAllocation(ctx context.Context, busID string, level int) (Result, error) {
	floor, err := s.floor(ctx, level)
	if err != nil {
		return Result{}, err
	}
	alloc, err := s.store.LatestOpenAllocation(ctx, busID, model.AllocationAllocated)
	if err != nil {
		return Result{}, fromStore("No active allocation found for this bus.", err)
	}
	bay := alloc.Bay
	if bay == nil {
		return Result{}, newError(KindNotFound, "Allocated bay not found.")
	}
	if bay.FloorID != floor.ID {
		lvl := 0
		if bay.Floor != nil {
			lvl = bay.Floor.LevelNumber
		}
		return Result{}, newError(KindValidationFailed, fmt.Sprintf("Bus is on Level %d, but the allocated bay %s is on Level %d.", level, bay.BayCode, lvl))
	}

	pos, err := s.RecordMovement(ctx, busID, BayLocation(bay), model.SourceParkedCorrect)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Message:    fmt.Sprintf("Bus moved to allocated bay %s on Level %d.", bay.BayCode, level),
		Bay:        bay,
		Allocation: alloc,
		Position:   pos,
		Level:      level,
	}, nil
}

// MoveToOpenBay drives the bus onto a random free bay of its current level other
// than the allocated one, moving its occupancy there.
func (s *Service) MoveToOpenBay(ctx context.Context, busID string, level int) (Result, error) {
	floor, err := s.floor(ctx, level)
	if err != nil {
		return Result{}, err
	}

	unlock := s.buses.Lock(busID)
	defer unlock()

	filter := store.BayFilter{FloorID: floor.ID, AvailableOnly: true}
	alloc, err := s.store.LatestOpenAllocation(ctx, busID, model.AllocationAllocated)
	switch {
	case err == nil:
		filter.ExcludeID = alloc.BayID
	case !errors.Is(err, store.ErrNotFound):
		return Result{}, fromStore("Error fetching allocation", err)
	}

	bays, err := s.store.ListBays(ctx, filter)
	if err != nil {
		return Result{}, fromStore("Error fetching open bays", err)
	}
	if len(bays) == 0 {
		return Result{}, newError(KindConflict, fmt.Sprintf("No other open bays on Level %d.", level))
	}
	bay := bays[s.pick(len(bays))]

	unlockBay := s.bays.Lock(bay.ID)
	defer unlockBay()

	if err := s.store.MoveOccupancy(ctx, busID, bay.ID); err != nil {
		return Result{}, fromStore("Error moving bus to bay "+bay.BayCode, err)
	}
	pos, err := s.RecordMovement(ctx, busID, BayLocation(&bay), model.SourceParkedWrong)
	if err != nil {
		return Result{}, partial("Bay occupancy moved to "+bay.BayCode+", but recording the position failed", err)
	}

	bay.IsAvailable = false
	bay.CurrentBusID = &busID
	s.log.Info().Str("bus_id", busID).Str("bay", bay.BayCode).Int("level", level).Msg("bus moved to open bay")
	return Result{
		Message:  fmt.Sprintf("Bus moved to open bay %s on Level %d.", bay.BayCode, level),
		Bay:      &bay,
		Position: pos,
		Level:    level,
	}, nil
}
