package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bus-depot-backend/internal/model"
)

// Store defines the interface for all database operations the depot core needs.
type Store interface {
	// Buses
	UpsertBus(ctx context.Context, plate string) (*model.Bus, error)
	FindBusByPlate(ctx context.Context, plate string) (*model.Bus, error)
	UpdateBusStatus(ctx context.Context, busID string, status model.BusStatus) error
	UpdateBusPreferences(ctx context.Context, busID string, charging, maintenance bool) error

	// Reference data
	FindFloorByLevel(ctx context.Context, level int) (*model.Floor, error)
	FindFloor(ctx context.Context, id string) (*model.Floor, error)
	FindCheckpoint(ctx context.Context, floorID, name string) (*model.Checkpoint, error)
	FindCheckpointByName(ctx context.Context, name string) (*model.Checkpoint, error)
	UpsertFloors(ctx context.Context, levels []int) (map[int]model.Floor, error)
	UpsertCheckpoints(ctx context.Context, checkpoints []model.Checkpoint) error
	UpsertBays(ctx context.Context, bays []model.Bay) error

	// Bays
	FindBay(ctx context.Context, id string) (*model.Bay, error)
	ListBays(ctx context.Context, filter BayFilter) ([]model.Bay, error)
	MoveOccupancy(ctx context.Context, busID, bayID string) error
	ReconcileBays(ctx context.Context) (ReconcileReport, error)

	// Position stream
	AppendPosition(ctx context.Context, pos *model.Position) error
	LatestPosition(ctx context.Context, busID string) (*model.Position, error)
	LatestPositions(ctx context.Context) ([]model.Position, error)

	// Allocations
	FindAllocation(ctx context.Context, id string) (*model.Allocation, error)
	LatestOpenAllocation(ctx context.Context, busID string, statuses ...model.AllocationStatus) (*model.Allocation, error)
	ListAllocations(ctx context.Context) ([]model.Allocation, error)
	ListAlerts(ctx context.Context, minAttempts int) ([]model.Allocation, error)
	CreateAllocation(ctx context.Context, alloc *model.Allocation) error
	MarkParked(ctx context.Context, allocID, busID, bayID string) error
	IncrementWrongAttempts(ctx context.Context, allocID string) (int, error)
	MarkOverride(ctx context.Context, allocID, busID string, overrideBayID *string) error
	CloseAllocations(ctx context.Context, busID string) (closed int64, freed int64, err error)

	// Push subscriptions
	UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error
	DeleteSubscription(ctx context.Context, endpoint string) error
	FindSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error)
	ListSubscriptions(ctx context.Context) ([]model.PushSubscription, error)
}

// ErrOpenAllocationExists is returned when a bus already holds an open allocation.
var ErrOpenAllocationExists = errors.New("bus already has an open allocation")

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// freeBay is the column set of an unoccupied bay.
func freeBay() map[string]any {
	return map[string]any{"is_available": true, "current_bus_id": nil}
}

func occupiedBy(busID string) map[string]any {
	return map[string]any{"is_available": false, "current_bus_id": busID}
}

// --- Buses ---

// UpsertBus creates the bus on first contact and returns the stored row.
func (s *gormStore) UpsertBus(ctx context.Context, plate string) (*model.Bus, error) {
	bus := model.Bus{PlateNumber: plate}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "plate_number"}},
		DoNothing: true,
	}).Create(&bus).Error; err != nil {
		return nil, fmt.Errorf("upsert bus %q: %w", plate, err)
	}
	return s.FindBusByPlate(ctx, plate)
}

func (s *gormStore) FindBusByPlate(ctx context.Context, plate string) (*model.Bus, error) {
	var bus model.Bus
	if err := s.db.WithContext(ctx).Where("plate_number = ?", plate).Take(&bus).Error; err != nil {
		return nil, fmt.Errorf("find bus %q: %w", plate, notFound(err))
	}
	return &bus, nil
}

func (s *gormStore) UpdateBusStatus(ctx context.Context, busID string, status model.BusStatus) error {
	res := s.db.WithContext(ctx).Model(&model.Bus{}).Where("id = ?", busID).Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("update bus %s status: %w", busID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update bus %s status: %w", busID, ErrNotFound)
	}
	return nil
}

func (s *gormStore) UpdateBusPreferences(ctx context.Context, busID string, charging, maintenance bool) error {
	res := s.db.WithContext(ctx).Model(&model.Bus{}).Where("id = ?", busID).Updates(map[string]any{
		"needs_charging":    charging,
		"needs_maintenance": maintenance,
	})
	if res.Error != nil {
		return fmt.Errorf("update bus %s preferences: %w", busID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update bus %s preferences: %w", busID, ErrNotFound)
	}
	return nil
}

// --- Reference data ---

func (s *gormStore) FindFloorByLevel(ctx context.Context, level int) (*model.Floor, error) {
	var floor model.Floor
	if err := s.db.WithContext(ctx).Where("level_number = ?", level).Take(&floor).Error; err != nil {
		return nil, fmt.Errorf("find floor level %d: %w", level, notFound(err))
	}
	return &floor, nil
}

func (s *gormStore) FindFloor(ctx context.Context, id string) (*model.Floor, error) {
	var floor model.Floor
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&floor).Error; err != nil {
		return nil, fmt.Errorf("find floor %s: %w", id, notFound(err))
	}
	return &floor, nil
}

func (s *gormStore) FindCheckpoint(ctx context.Context, floorID, name string) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	if err := s.db.WithContext(ctx).Where("floor_id = ? AND name = ?", floorID, name).Take(&cp).Error; err != nil {
		return nil, fmt.Errorf("find checkpoint %q: %w", name, notFound(err))
	}
	return &cp, nil
}

// FindCheckpointByName returns the named checkpoint on the lowest floor that has one.
func (s *gormStore) FindCheckpointByName(ctx context.Context, name string) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	err := s.db.WithContext(ctx).
		Joins("JOIN floors ON floors.id = checkpoints.floor_id").
		Where("checkpoints.name = ?", name).
		Order("floors.level_number ASC").
		Take(&cp).Error
	if err != nil {
		return nil, fmt.Errorf("find checkpoint %q: %w", name, notFound(err))
	}
	return &cp, nil
}

// UpsertFloors makes sure a floor exists for every level and returns all floors by level.
func (s *gormStore) UpsertFloors(ctx context.Context, levels []int) (map[int]model.Floor, error) {
	if len(levels) > 0 {
		floors := make([]model.Floor, 0, len(levels))
		for _, l := range levels {
			floors = append(floors, model.Floor{LevelNumber: l})
		}
		if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "level_number"}},
			DoNothing: true,
		}).Create(&floors).Error; err != nil {
			return nil, fmt.Errorf("batch upsert floors failed: %w", err)
		}
	}

	var all []model.Floor
	if err := s.db.WithContext(ctx).Find(&all).Error; err != nil {
		return nil, fmt.Errorf("failed to retrieve floors after upsert: %w", err)
	}
	byLevel := make(map[int]model.Floor, len(all))
	for _, f := range all {
		byLevel[f.LevelNumber] = f
	}
	return byLevel, nil
}

func (s *gormStore) UpsertCheckpoints(ctx context.Context, checkpoints []model.Checkpoint) error {
	if len(checkpoints) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "floor_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"x", "y"}),
	}).Create(&checkpoints).Error
}

// UpsertBays creates or updates bay geometry. Occupancy columns are left untouched
// on existing rows.
func (s *gormStore) UpsertBays(ctx context.Context, bays []model.Bay) error {
	if len(bays) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bay_code"}},
		DoUpdates: clause.AssignmentColumns([]string{"area_code", "lot_number", "floor_id", "x", "y", "is_charging_bay", "updated_at"}),
	}).Create(&bays).Error
}

// --- Bays ---

func (s *gormStore) FindBay(ctx context.Context, id string) (*model.Bay, error) {
	var bay model.Bay
	if err := s.db.WithContext(ctx).Preload("Floor").Where("id = ?", id).Take(&bay).Error; err != nil {
		return nil, fmt.Errorf("find bay %s: %w", id, notFound(err))
	}
	return &bay, nil
}

// ListBays returns the bays matching filter ordered by (area, lot).
func (s *gormStore) ListBays(ctx context.Context, filter BayFilter) ([]model.Bay, error) {
	q := s.db.WithContext(ctx).Model(&model.Bay{}).Preload("Floor").Preload("CurrentBus")
	if filter.FloorID != "" {
		q = q.Where("floor_id = ?", filter.FloorID)
	}
	if filter.AvailableOnly {
		if filter.Holder != "" {
			q = q.Where("(is_available = ? OR current_bus_id = ?)", true, filter.Holder)
		} else {
			q = q.Where("is_available = ?", true)
		}
	}
	if filter.ChargingOnly {
		q = q.Where("is_charging_bay = ?", true)
	}
	if filter.ExcludeID != "" {
		q = q.Where("id <> ?", filter.ExcludeID)
	}

	var bays []model.Bay
	if err := q.Order("area_code ASC").Order("lot_number ASC").Order("id ASC").Find(&bays).Error; err != nil {
		return nil, fmt.Errorf("list bays: %w", err)
	}
	return bays, nil
}

// MoveOccupancy frees any bay held by the bus and occupies bayID, which must be free.
func (s *gormStore) MoveOccupancy(ctx context.Context, busID, bayID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := releaseHeldBays(tx, busID, bayID); err != nil {
			return err
		}
		return occupyBay(tx, busID, bayID, false)
	})
}

// ReconcileBays restores is_available == (current_bus_id IS NULL) and frees bays still
// held by buses that have left the depot.
func (s *gormStore) ReconcileBays(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Bay{}).Where("current_bus_id IS NULL AND is_available = ?", false).Update("is_available", true)
		if res.Error != nil {
			return fmt.Errorf("reconcile free bays: %w", res.Error)
		}
		report.AvailabilityFixed += res.RowsAffected

		res = tx.Model(&model.Bay{}).Where("current_bus_id IS NOT NULL AND is_available = ?", true).Update("is_available", false)
		if res.Error != nil {
			return fmt.Errorf("reconcile occupied bays: %w", res.Error)
		}
		report.AvailabilityFixed += res.RowsAffected

		departed := tx.Model(&model.Bus{}).Select("id").Where("status = ?", model.BusOutside)
		res = tx.Model(&model.Bay{}).Where("current_bus_id IN (?)", departed).Updates(freeBay())
		if res.Error != nil {
			return fmt.Errorf("reconcile departed buses: %w", res.Error)
		}
		report.DepartedFreed = res.RowsAffected
		return nil
	})
	return report, err
}

// --- Position stream ---

func (s *gormStore) AppendPosition(ctx context.Context, pos *model.Position) error {
	if err := s.db.WithContext(ctx).Create(pos).Error; err != nil {
		return fmt.Errorf("append position for bus %s: %w", pos.BusID, err)
	}
	return nil
}

func (s *gormStore) LatestPosition(ctx context.Context, busID string) (*model.Position, error) {
	var pos model.Position
	err := s.db.WithContext(ctx).
		Where("bus_id = ?", busID).
		Order("created_at DESC").Order("id DESC").
		Take(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("latest position for bus %s: %w", busID, notFound(err))
	}
	return &pos, nil
}

// LatestPositions returns the most recent position of every bus that has one.
func (s *gormStore) LatestPositions(ctx context.Context) ([]model.Position, error) {
	latest := s.db.WithContext(ctx).Model(&model.Position{}).Select("MAX(id)").Group("bus_id")

	var positions []model.Position
	err := s.db.WithContext(ctx).
		Preload("Bus").Preload("Floor").
		Where("id IN (?)", latest).
		Order("created_at DESC").
		Find(&positions).Error
	if err != nil {
		return nil, fmt.Errorf("latest positions: %w", err)
	}
	return positions, nil
}

// --- Allocations ---

func (s *gormStore) FindAllocation(ctx context.Context, id string) (*model.Allocation, error) {
	var alloc model.Allocation
	err := s.db.WithContext(ctx).Preload("Bus").Preload("Bay").Where("id = ?", id).Take(&alloc).Error
	if err != nil {
		return nil, fmt.Errorf("find allocation %s: %w", id, notFound(err))
	}
	return &alloc, nil
}

// LatestOpenAllocation returns the newest allocation of the bus in one of statuses
// (default: the open statuses).
func (s *gormStore) LatestOpenAllocation(ctx context.Context, busID string, statuses ...model.AllocationStatus) (*model.Allocation, error) {
	if len(statuses) == 0 {
		statuses = model.OpenStatuses
	}
	var alloc model.Allocation
	err := s.db.WithContext(ctx).
		Preload("Bay.Floor").Preload("OverrideBay.Floor").
		Where("bus_id = ? AND status IN ?", busID, statuses).
		Order("created_at DESC").
		Take(&alloc).Error
	if err != nil {
		return nil, fmt.Errorf("latest allocation for bus %s: %w", busID, notFound(err))
	}
	return &alloc, nil
}

// ListAllocations returns every allocation newest first.
func (s *gormStore) ListAllocations(ctx context.Context) ([]model.Allocation, error) {
	var allocs []model.Allocation
	if err := s.db.WithContext(ctx).Preload("Bus").Order("created_at DESC").Find(&allocs).Error; err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	return allocs, nil
}

// ListAlerts returns allocations that reached minAttempts wrong parking attempts, newest first.
func (s *gormStore) ListAlerts(ctx context.Context, minAttempts int) ([]model.Allocation, error) {
	var allocs []model.Allocation
	err := s.db.WithContext(ctx).
		Preload("Bus").Preload("Bay.Floor").Preload("OverrideBay.Floor").
		Where("wrong_attempts >= ?", minAttempts).
		Order("created_at DESC").
		Find(&allocs).Error
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return allocs, nil
}

// CreateAllocation inserts the allocation and flips its bay to occupied in one
// transaction. The bay must still be available.
func (s *gormStore) CreateAllocation(ctx context.Context, alloc *model.Allocation) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var open int64
		if err := tx.Model(&model.Allocation{}).
			Where("bus_id = ? AND status IN ?", alloc.BusID, model.OpenStatuses).
			Count(&open).Error; err != nil {
			return fmt.Errorf("count open allocations: %w", err)
		}
		if open > 0 {
			return ErrOpenAllocationExists
		}

		if err := tx.Create(alloc).Error; err != nil {
			return fmt.Errorf("create allocation: %w", err)
		}
		return occupyBay(tx, alloc.BusID, alloc.BayID, false)
	})
}

// MarkParked moves the allocation to parked and makes its bay the only bay the bus occupies.
func (s *gormStore) MarkParked(ctx context.Context, allocID, busID, bayID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Allocation{}).
			Where("id = ? AND status IN ?", allocID, []model.AllocationStatus{model.AllocationAllocated, model.AllocationParked}).
			Update("status", model.AllocationParked)
		if res.Error != nil {
			return fmt.Errorf("mark allocation %s parked: %w", allocID, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrStaleAllocation
		}

		if err := releaseHeldBays(tx, busID, bayID); err != nil {
			return err
		}
		return occupyBay(tx, busID, bayID, true)
	})
}

// IncrementWrongAttempts adds one to the allocation's counter and returns the new value.
func (s *gormStore) IncrementWrongAttempts(ctx context.Context, allocID string) (int, error) {
	var attempts int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Allocation{}).Where("id = ?", allocID).
			Update("wrong_attempts", gorm.Expr("wrong_attempts + ?", 1))
		if res.Error != nil {
			return fmt.Errorf("increment wrong attempts on %s: %w", allocID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("increment wrong attempts on %s: %w", allocID, ErrNotFound)
		}
		return tx.Model(&model.Allocation{}).Select("wrong_attempts").Where("id = ?", allocID).Scan(&attempts).Error
	})
	return attempts, err
}

// MarkOverride records an override. When overrideBayID is set the bus's occupancy
// moves to that bay.
func (s *gormStore) MarkOverride(ctx context.Context, allocID, busID string, overrideBayID *string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{"status": model.AllocationOverrideParked, "override_bay_id": nil}
		if overrideBayID != nil {
			updates["override_bay_id"] = *overrideBayID
		}
		res := tx.Model(&model.Allocation{}).
			Where("id = ? AND status IN ?", allocID, []model.AllocationStatus{model.AllocationAllocated, model.AllocationParked}).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("mark allocation %s override: %w", allocID, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrStaleAllocation
		}

		if overrideBayID == nil {
			return nil
		}
		if err := releaseHeldBays(tx, busID, *overrideBayID); err != nil {
			return err
		}
		return occupyBay(tx, busID, *overrideBayID, true)
	})
}

// CloseAllocations completes every open allocation of the bus and frees its bays.
func (s *gormStore) CloseAllocations(ctx context.Context, busID string) (int64, int64, error) {
	var closed, freed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Allocation{}).
			Where("bus_id = ? AND status IN ?", busID, model.ClosableStatuses).
			Update("status", model.AllocationCompletedDeparted)
		if res.Error != nil {
			return fmt.Errorf("close allocations for bus %s: %w", busID, res.Error)
		}
		closed = res.RowsAffected

		res = tx.Model(&model.Bay{}).Where("current_bus_id = ?", busID).Updates(freeBay())
		if res.Error != nil {
			return fmt.Errorf("free bays for bus %s: %w", busID, res.Error)
		}
		freed = res.RowsAffected
		return nil
	})
	return closed, freed, err
}

// releaseHeldBays frees every bay the bus occupies except keepBayID.
func releaseHeldBays(tx *gorm.DB, busID, keepBayID string) error {
	q := tx.Model(&model.Bay{}).Where("current_bus_id = ?", busID)
	if keepBayID != "" {
		q = q.Where("id <> ?", keepBayID)
	}
	if err := q.Updates(freeBay()).Error; err != nil {
		return fmt.Errorf("release bays held by bus %s: %w", busID, err)
	}
	return nil
}

// occupyBay marks the bay occupied by the bus. The bay must be free, or already
// held by the same bus when allowHeld is set.
func occupyBay(tx *gorm.DB, busID, bayID string, allowHeld bool) error {
	q := tx.Model(&model.Bay{}).Where("id = ?", bayID)
	if allowHeld {
		q = q.Where("(current_bus_id IS NULL OR current_bus_id = ?)", busID)
	} else {
		q = q.Where("is_available = ?", true)
	}
	res := q.Updates(occupiedBy(busID))
	if res.Error != nil {
		return fmt.Errorf("occupy bay %s: %w", bayID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrBayUnavailable
	}
	return nil
}

// --- Push subscriptions ---

func (s *gormStore) UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
	}).Create(sub).Error
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Where("endpoint = ?", endpoint).Delete(&model.PushSubscription{}).Error
}

func (s *gormStore) FindSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	if err := s.db.WithContext(ctx).Where("endpoint = ?", endpoint).Take(&sub).Error; err != nil {
		return nil, fmt.Errorf("find subscription: %w", notFound(err))
	}
	return &sub, nil
}

func (s *gormStore) ListSubscriptions(ctx context.Context) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}
