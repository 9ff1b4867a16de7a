package depot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bus-depot-backend/internal/model"
	"bus-depot-backend/internal/store"
)

// UpdatePreferences sets the charging and maintenance preferences of a bus,
// creating it on first contact.
func (s *Service) UpdatePreferences(ctx context.Context, rawPlate string, charging, maintenance bool) (Result, error) {
	bus, err := s.EnsureBus(ctx, rawPlate)
	if err != nil {
		return Result{}, err
	}
	if err := s.store.UpdateBusPreferences(ctx, bus.ID, charging, maintenance); err != nil {
		return Result{}, fromStore("Error updating preferences", err)
	}
	bus.NeedsCharging = charging
	bus.NeedsMaintenance = maintenance
	return Result{Message: fmt.Sprintf("Preferences updated for %s.", bus.PlateNumber), Bus: bus}, nil
}

// Instruction is what the driver display shows for a bus.
type Instruction struct {
	PlateNumber      string                 `json:"plate_number"`
	BusStatus        model.BusStatus        `json:"bus_status"`
	Message          string                 `json:"message"`
	AllocationID     string                 `json:"allocation_id,omitempty"`
	AllocationStatus model.AllocationStatus `json:"allocation_status,omitempty"`
	BayID            string                 `json:"bay_id,omitempty"`
	BayCode          string                 `json:"bay_code,omitempty"`
	AreaCode         string                 `json:"area_code,omitempty"`
	LotNumber        int                    `json:"lot_number,omitempty"`
	Level            int                    `json:"level,omitempty"`
	X                float64                `json:"x,omitempty"`
	Y                float64                `json:"y,omitempty"`
	WrongAttempts    int                    `json:"wrong_attempts"`
	CanConfirm       bool                   `json:"can_confirm"`
}

// Instruction returns the current driver instruction for the bus.
func (s *Service) Instruction(ctx context.Context, rawPlate string) (*Instruction, error) {
	bus, err := s.BusByPlate(ctx, rawPlate)
	if err != nil {
		return nil, err
	}
	in := &Instruction{PlateNumber: bus.PlateNumber, BusStatus: bus.Status}

	switch bus.Status {
	case model.BusEntering:
		in.Message = "Vehicle verification in progress. Checking lot requirements..."
		return in, nil
	case model.BusLeaving:
		in.Message = "Vehicle is leaving the depot. Drive safely."
		return in, nil
	case model.BusOutside:
		in.Message = "Vehicle is outside the depot."
		return in, nil
	}

	alloc, err := s.store.LatestOpenAllocation(ctx, bus.ID)
	if errors.Is(err, store.ErrNotFound) {
		in.Message = "Pending lot allocation. Please wait for your assigned bay."
		return in, nil
	}
	if err != nil {
		return nil, fromStore("Error fetching allocation", err)
	}

	in.AllocationID = alloc.ID
	in.AllocationStatus = alloc.Status
	in.WrongAttempts = alloc.WrongAttempts
	if bay := alloc.Bay; bay != nil {
		in.BayID = bay.ID
		in.BayCode = bay.BayCode
		in.AreaCode = bay.AreaCode
		in.LotNumber = bay.LotNumber
		in.X, in.Y = bay.X, bay.Y
		if bay.Floor != nil {
			in.Level = bay.Floor.LevelNumber
		}
	}

	switch alloc.Status {
	case model.AllocationParked:
		in.Message = fmt.Sprintf("Parked at bay %s.", in.BayCode)
		in.CanConfirm = true
	case model.AllocationOverrideParked:
		in.Message = "Parking override recorded. Please follow controller instructions."
	default:
		in.Message = fmt.Sprintf("Please proceed to Level %d, Area %s, Lot %d.", in.Level, in.AreaCode, in.LotNumber)
		in.CanConfirm = true
	}
	return in, nil
}

// BayState is the derived display state of a bay.
type BayState string

const (
	BayAvailable         BayState = "available"
	BayPending           BayState = "pending"
	BayOccupied          BayState = "occupied"
	BayBusy              BayState = "busy"
	BayOverrideActual    BayState = "override_actual"
	BayOverrideAllocated BayState = "override_allocated"
)

// BayView is one cell of the bay board.
type BayView struct {
	ID            string   `json:"id"`
	BayCode       string   `json:"bay_code"`
	AreaCode      string   `json:"area_code"`
	LotNumber     int      `json:"lot_number"`
	Level         int      `json:"level"`
	X             float64  `json:"x"`
	Y             float64  `json:"y"`
	IsChargingBay bool     `json:"is_charging_bay"`
	IsAvailable   bool     `json:"is_available"`
	OccupantPlate string   `json:"occupant_plate,omitempty"`
	State         BayState `json:"state"`
	Assignable    bool     `json:"assignable"`
}

// bayState derives the board state of a bay from its occupancy, the status of
// the latest allocation made for it and the status of the latest allocation
// that overrode into it.
func bayState(bay *model.Bay, allocated, overridden model.AllocationStatus) BayState {
	occupied := !bay.IsAvailable && bay.CurrentBusID != nil
	if overridden == model.AllocationOverrideParked {
		if occupied {
			return BayOverrideActual
		}
		return BayOverrideAllocated
	}
	switch allocated {
	case model.AllocationAllocated:
		return BayPending
	case model.AllocationParked:
		return BayOccupied
	}
	if occupied {
		return BayBusy
	}
	return BayAvailable
}

// BayBoard returns every bay ordered by (area, lot) with its derived state.
// level 0 returns all levels.
func (s *Service) BayBoard(ctx context.Context, level int) ([]BayView, error) {
	filter := store.BayFilter{}
	if level != 0 {
		floor, err := s.floor(ctx, level)
		if err != nil {
			return nil, err
		}
		filter.FloorID = floor.ID
	}
	bays, err := s.store.ListBays(ctx, filter)
	if err != nil {
		return nil, fromStore("Error fetching bays", err)
	}
	allocs, err := s.store.ListAllocations(ctx)
	if err != nil {
		return nil, fromStore("Error fetching allocations", err)
	}

	// allocs is newest first; keep the first seen per bay.
	byBay := make(map[string]model.AllocationStatus)
	byOverride := make(map[string]model.AllocationStatus)
	for _, a := range allocs {
		if _, ok := byBay[a.BayID]; !ok {
			byBay[a.BayID] = a.Status
		}
		if a.OverrideBayID != nil {
			if _, ok := byOverride[*a.OverrideBayID]; !ok {
				byOverride[*a.OverrideBayID] = a.Status
			}
		}
	}

	views := make([]BayView, 0, len(bays))
	for i := range bays {
		b := &bays[i]
		v := BayView{
			ID:            b.ID,
			BayCode:       b.BayCode,
			AreaCode:      b.AreaCode,
			LotNumber:     b.LotNumber,
			X:             b.X,
			Y:             b.Y,
			IsChargingBay: b.IsChargingBay,
			IsAvailable:   b.IsAvailable,
			State:         bayState(b, byBay[b.ID], byOverride[b.ID]),
		}
		if b.Floor != nil {
			v.Level = b.Floor.LevelNumber
		}
		if b.CurrentBus != nil {
			v.OccupantPlate = b.CurrentBus.PlateNumber
		}
		v.Assignable = v.State == BayAvailable
		views = append(views, v)
	}
	return views, nil
}

// BayRef is a compact bay description used by alerts.
type BayRef struct {
	ID            string `json:"id"`
	BayCode       string `json:"bay_code"`
	Level         int    `json:"level"`
	IsChargingBay bool   `json:"is_charging_bay"`
}

func bayRef(b *model.Bay) *BayRef {
	if b == nil {
		return nil
	}
	ref := &BayRef{ID: b.ID, BayCode: b.BayCode, IsChargingBay: b.IsChargingBay}
	if b.Floor != nil {
		ref.Level = b.Floor.LevelNumber
	}
	return ref
}

// Alert is an allocation that reached the wrong attempt threshold.
type Alert struct {
	AllocationID     string                 `json:"allocation_id"`
	PlateNumber      string                 `json:"plate_number"`
	Status           model.AllocationStatus `json:"status"`
	WrongAttempts    int                    `json:"wrong_attempts"`
	AllocatedBay     *BayRef                `json:"allocated_bay,omitempty"`
	OverrideBay      *BayRef                `json:"override_bay,omitempty"`
	Active           bool                   `json:"active"`
	NeedsCharging    bool                   `json:"needs_charging"`
	NeedsMaintenance bool                   `json:"needs_maintenance"`
	// ChargingOK is false when the bus needs charging but its override bay has
	// no charger.
	ChargingOK bool `json:"charging_ok"`
	// MaintenanceOK is false whenever the bus needs maintenance.
	MaintenanceOK bool      `json:"maintenance_ok"`
	CreatedAt     time.Time `json:"created_at"`
}

// Alerts lists override incidents newest first.
func (s *Service) Alerts(ctx context.Context) ([]Alert, error) {
	allocs, err := s.store.ListAlerts(ctx, s.rules.WrongAttemptThreshold)
	if err != nil {
		return nil, fromStore("Error fetching alerts", err)
	}

	alerts := make([]Alert, 0, len(allocs))
	for i := range allocs {
		a := &allocs[i]
		al := Alert{
			AllocationID:  a.ID,
			Status:        a.Status,
			WrongAttempts: a.WrongAttempts,
			AllocatedBay:  bayRef(a.Bay),
			OverrideBay:   bayRef(a.OverrideBay),
			Active:        a.Status != model.AllocationCompletedDeparted,
			ChargingOK:    true,
			MaintenanceOK: true,
			CreatedAt:     a.CreatedAt,
		}
		if a.Bus != nil {
			al.PlateNumber = a.Bus.PlateNumber
			al.NeedsCharging = a.Bus.NeedsCharging
			al.NeedsMaintenance = a.Bus.NeedsMaintenance
			if a.OverrideBay != nil && a.Bus.NeedsCharging && !a.OverrideBay.IsChargingBay {
				al.ChargingOK = false
			}
			al.MaintenanceOK = !a.Bus.NeedsMaintenance
		}
		alerts = append(alerts, al)
	}
	return alerts, nil
}

// Marker is the latest known position of a bus on the depot map.
type Marker struct {
	BusID       string               `json:"bus_id"`
	PlateNumber string               `json:"plate_number"`
	BusStatus   model.BusStatus      `json:"bus_status"`
	Level       int                  `json:"level"`
	X           float64              `json:"x"`
	Y           float64              `json:"y"`
	Source      model.PositionSource `json:"source"`
	At          time.Time            `json:"at"`
}

// LatestPositions returns the latest position of every bus still in the depot.
func (s *Service) LatestPositions(ctx context.Context) ([]Marker, error) {
	positions, err := s.store.LatestPositions(ctx)
	if err != nil {
		return nil, fromStore("Error fetching positions", err)
	}
	markers := make([]Marker, 0, len(positions))
	for _, p := range positions {
		if p.Bus == nil || p.Bus.Status == model.BusOutside {
			continue
		}
		m := Marker{
			BusID:       p.BusID,
			PlateNumber: p.Bus.PlateNumber,
			BusStatus:   p.Bus.Status,
			X:           p.X,
			Y:           p.Y,
			Source:      p.Source,
			At:          p.CreatedAt,
		}
		if p.Floor != nil {
			m.Level = p.Floor.LevelNumber
		}
		markers = append(markers, m)
	}
	return markers, nil
}

// Locate returns the level of the bus's latest position in Result.Level.
func (s *Service) Locate(ctx context.Context, rawPlate string) (Result, error) {
	bus, err := s.BusByPlate(ctx, rawPlate)
	if err != nil {
		return Result{}, err
	}
	pos, err := s.store.LatestPosition(ctx, bus.ID)
	if err != nil {
		return Result{}, fromStore(fmt.Sprintf("No position data for %s yet.", bus.PlateNumber), err)
	}
	floor, err := s.store.FindFloor(ctx, pos.FloorID)
	if err != nil {
		return Result{}, fromStore(fmt.Sprintf("Cannot resolve level for %s.", bus.PlateNumber), err)
	}
	return Result{
		Message:  fmt.Sprintf("Bus %s is on Level %d.", bus.PlateNumber, floor.LevelNumber),
		Bus:      bus,
		Position: pos,
		Level:    floor.LevelNumber,
	}, nil
}

// ReconcileOccupancy repairs bay occupancy drift and reports what changed.
func (s *Service) ReconcileOccupancy(ctx context.Context) (store.ReconcileReport, error) {
	report, err := s.store.ReconcileBays(ctx)
	if err != nil {
		return report, fromStore("Error reconciling bay occupancy", err)
	}
	if report.AvailabilityFixed > 0 || report.DepartedFreed > 0 {
		s.log.Warn().
			Int64("availability_fixed", report.AvailabilityFixed).
			Int64("departed_freed", report.DepartedFreed).
			Msg("bay occupancy drift repaired")
	}
	return report, nil
}
