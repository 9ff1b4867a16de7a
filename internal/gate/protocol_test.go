package gate

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bus-depot-backend/config"
	"bus-depot-backend/internal/db"
	"bus-depot-backend/internal/depot"
	"bus-depot-backend/internal/layout"
	"bus-depot-backend/internal/metrics"
	"bus-depot-backend/internal/model"
	"bus-depot-backend/internal/parse"
	"bus-depot-backend/internal/store"
)

const delay = 5 * time.Second

type fixture struct {
	ctx   context.Context
	db    *gorm.DB
	core  *depot.Service
	clock *ManualClock
	proto *Protocol
	reg   *prometheus.Registry
}

func newFixture(t *testing.T, clock Clock) *fixture {
	t.Helper()
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(gormDB))

	st := store.NewGormStore(gormDB)
	ctx := context.Background()
	_, err = layout.Default(4, 5).Apply(ctx, st)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	rec, err := metrics.New(reg)
	require.NoError(t, err)

	core := depot.NewService(st, config.ParkingConfig{Tolerance: 5, WrongAttemptThreshold: 3, MinLevel: 1, MaxLevel: 4})
	manual, _ := clock.(*ManualClock)
	if lc, ok := clock.(*leakyClock); ok {
		manual = lc.ManualClock
	}
	proto := NewProtocol(core, clock, Config{FallbackDelay: delay, StartLevel: 1}, zerolog.Nop(), rec)
	t.Cleanup(proto.Close)

	return &fixture{ctx: ctx, db: gormDB, core: core, clock: manual, proto: proto, reg: reg}
}

// leakyClock hands out timers whose Stop never wins, like a timer that already
// fired and whose callback is still in flight.
type leakyClock struct{ *ManualClock }

type leakyTimer struct{}

func (leakyTimer) Stop() bool { return false }

func (c *leakyClock) AfterFunc(d time.Duration, f func()) Timer {
	c.ManualClock.AfterFunc(d, f)
	return leakyTimer{}
}

func (f *fixture) bus(t *testing.T, plate string) *model.Bus {
	t.Helper()
	bus, err := f.core.BusByPlate(f.ctx, plate)
	require.NoError(t, err)
	return bus
}

func (f *fixture) positions(t *testing.T, busID string) []model.Position {
	t.Helper()
	var ps []model.Position
	require.NoError(t, f.db.Where("bus_id = ?", busID).Order("id").Find(&ps).Error)
	return ps
}

// identifications reads depot_gate_identifications_total for one gate and method.
func (f *fixture) identifications(t *testing.T, gate, method string) float64 {
	t.Helper()
	families, err := f.reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "depot_gate_identifications_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["gate"] == gate && labels["method"] == method {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func start() time.Time { return time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC) }

func TestEntry_Primary(t *testing.T) {
	f := newFixture(t, NewManualClock(start()))

	res, err := f.proto.StartGateEvent(f.ctx, "sbs001a", Entry)
	require.NoError(t, err)
	assert.Equal(t, model.BusEntering, res.Bus.Status)
	assert.Equal(t, model.BusEntering, f.bus(t, "SBS001A").Status)
	assert.Equal(t, 1, f.clock.Pending())

	res, err = f.proto.IdentifyPrimary(f.ctx, "SBS001A")
	require.NoError(t, err)
	assert.Equal(t, "Bus SBS001A identified at entry gate via ANPR.", res.Message)
	assert.Zero(t, f.clock.Pending(), "fallback timer cancelled")

	bus := f.bus(t, "SBS001A")
	assert.Equal(t, model.BusInside, bus.Status)
	ps := f.positions(t, bus.ID)
	require.Len(t, ps, 1)
	assert.Equal(t, model.SourceANPREntry, ps[0].Source)
	assert.Equal(t, 20.0, ps[0].X)

	f.clock.Advance(delay)
	assert.Len(t, f.positions(t, bus.ID), 1)

	_, err = f.proto.IdentifyPrimary(f.ctx, "SBS001A")
	assert.Equal(t, depot.KindNotFound, depot.KindOf(err))
	assert.Equal(t, 1.0, f.identifications(t, "entry", "anpr"))
}

func TestEntry_FallbackAfterTimeout(t *testing.T) {
	f := newFixture(t, NewManualClock(start()))

	_, err := f.proto.StartGateEvent(f.ctx, "SBS002B", Entry)
	require.NoError(t, err)
	bus := f.bus(t, "SBS002B")

	f.clock.Advance(delay - time.Millisecond)
	assert.Empty(t, f.positions(t, bus.ID))
	assert.Equal(t, model.BusEntering, f.bus(t, "SBS002B").Status)

	f.clock.Advance(time.Millisecond)
	ps := f.positions(t, bus.ID)
	require.Len(t, ps, 1)
	assert.Equal(t, model.SourceRFIDEntry, ps[0].Source)
	assert.Equal(t, model.BusInside, f.bus(t, "SBS002B").Status)

	view, ok := f.proto.Session("SBS002B")
	require.True(t, ok)
	assert.Equal(t, "rfid", view.Method)
	assert.Equal(t, 1, view.Level)

	_, err = f.proto.IdentifyPrimary(f.ctx, "SBS002B")
	require.Error(t, err)
	assert.Len(t, f.positions(t, bus.ID), 1)
}

func TestIdentification_FiresOnceWhenTimerCannotBeStopped(t *testing.T) {
	f := newFixture(t, &leakyClock{NewManualClock(start())})

	_, err := f.proto.StartGateEvent(f.ctx, "SBS003C", Entry)
	require.NoError(t, err)
	_, err = f.proto.IdentifyPrimary(f.ctx, "SBS003C")
	require.NoError(t, err)

	// The callback still runs but loses the claim.
	f.clock.Advance(delay)

	bus := f.bus(t, "SBS003C")
	ps := f.positions(t, bus.ID)
	require.Len(t, ps, 1)
	assert.Equal(t, model.SourceANPREntry, ps[0].Source)
}

func TestStartGateEvent_SupersedesPendingSession(t *testing.T) {
	f := newFixture(t, &leakyClock{NewManualClock(start())})

	_, err := f.proto.StartGateEvent(f.ctx, "SBS004D", Entry)
	require.NoError(t, err)
	f.clock.Advance(2 * time.Second)
	_, err = f.proto.StartGateEvent(f.ctx, "SBS004D", Entry)
	require.NoError(t, err)

	// The first timer fires at 5s but its session is no longer current.
	f.clock.Advance(3 * time.Second)
	bus := f.bus(t, "SBS004D")
	assert.Empty(t, f.positions(t, bus.ID))

	f.clock.Advance(2 * time.Second)
	ps := f.positions(t, bus.ID)
	require.Len(t, ps, 1)
	assert.Equal(t, model.SourceRFIDEntry, ps[0].Source)
}

func TestSessionsArePerBus(t *testing.T) {
	f := newFixture(t, NewManualClock(start()))

	_, err := f.proto.StartGateEvent(f.ctx, "BUS1", Entry)
	require.NoError(t, err)
	_, err = f.proto.StartGateEvent(f.ctx, "BUS2", Entry)
	require.NoError(t, err)

	_, err = f.proto.IdentifyPrimary(f.ctx, "")
	assert.Equal(t, depot.KindValidationFailed, depot.KindOf(err), "ambiguous without a plate")

	_, err = f.proto.IdentifyPrimary(f.ctx, "BUS1")
	require.NoError(t, err)

	// BUS2 is now the only pending session.
	_, err = f.proto.IdentifyPrimary(f.ctx, "")
	require.NoError(t, err)
	assert.Equal(t, model.BusInside, f.bus(t, "BUS2").Status)

	views := f.proto.Sessions()
	require.Len(t, views, 2)
	assert.Equal(t, "BUS1", views[0].Plate)
	assert.Equal(t, "anpr", views[1].Method)
}

func TestExit_ClosesBeforeIdentification(t *testing.T) {
	f := newFixture(t, NewManualClock(start()))

	_, err := f.proto.StartGateEvent(f.ctx, "SBS005E", Entry)
	require.NoError(t, err)
	_, err = f.proto.IdentifyPrimary(f.ctx, "SBS005E")
	require.NoError(t, err)
	alloc, err := f.core.AutoAssign(f.ctx, "SBS005E")
	require.NoError(t, err)
	_, err = f.proto.ChangeLevel(f.ctx, "SBS005E", parse.Up)
	require.NoError(t, err)

	res, err := f.proto.StartGateEvent(f.ctx, "SBS005E", Exit)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Level, "level kept until the bus is identified out")
	assert.Equal(t, model.BusLeaving, f.bus(t, "SBS005E").Status)

	var a model.Allocation
	require.NoError(t, f.db.Where("id = ?", alloc.Allocation.ID).Take(&a).Error)
	assert.Equal(t, model.AllocationCompletedDeparted, a.Status)
	var bay model.Bay
	require.NoError(t, f.db.Where("id = ?", alloc.Bay.ID).Take(&bay).Error)
	assert.True(t, bay.IsAvailable)

	res, err = f.proto.IdentifyPrimary(f.ctx, "SBS005E")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Level)
	assert.Equal(t, model.SourceANPRExit, res.Position.Source)
	assert.Equal(t, model.BusOutside, f.bus(t, "SBS005E").Status)

	_, ok := f.proto.Session("SBS005E")
	assert.False(t, ok)
	_, err = f.proto.MoveToCheckpoint(f.ctx, "SBS005E", "CP1")
	assert.Equal(t, depot.KindConflict, depot.KindOf(err))
}

func TestExit_FallbackClosesAgain(t *testing.T) {
	f := newFixture(t, NewManualClock(start()))

	_, err := f.proto.StartGateEvent(f.ctx, "SBS006F", Entry)
	require.NoError(t, err)
	f.clock.Advance(delay)
	_, err = f.core.AutoAssign(f.ctx, "SBS006F")
	require.NoError(t, err)

	_, err = f.proto.StartGateEvent(f.ctx, "SBS006F", Exit)
	require.NoError(t, err)
	f.clock.Advance(delay)

	bus := f.bus(t, "SBS006F")
	assert.Equal(t, model.BusOutside, bus.Status)
	ps := f.positions(t, bus.ID)
	assert.Equal(t, model.SourceRFIDExit, ps[len(ps)-1].Source)

	var open int64
	require.NoError(t, f.db.Model(&model.Allocation{}).
		Where("bus_id = ? AND status IN ?", bus.ID, model.OpenStatuses).Count(&open).Error)
	assert.Zero(t, open)
	assert.Empty(t, f.proto.Sessions())
	assert.Equal(t, 1.0, f.identifications(t, "exit", "rfid"))
}

func TestMovesFollowSessionLevel(t *testing.T) {
	f := newFixture(t, NewManualClock(start()))

	_, err := f.proto.StartGateEvent(f.ctx, "SBS007G", Entry)
	require.NoError(t, err)

	_, err = f.proto.MoveToCheckpoint(f.ctx, "SBS007G", "CP1")
	assert.Equal(t, depot.KindConflict, depot.KindOf(err), "not identified yet")

	_, err = f.proto.IdentifyPrimary(f.ctx, "SBS007G")
	require.NoError(t, err)

	res, err := f.proto.ChangeLevel(f.ctx, "SBS007G", parse.Up)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Level)

	res, err = f.proto.MoveToCheckpoint(f.ctx, "SBS007G", "CP4")
	require.NoError(t, err)
	var floor model.Floor
	require.NoError(t, f.db.Where("id = ?", res.Position.FloorID).Take(&floor).Error)
	assert.Equal(t, 2, floor.LevelNumber)

	_, err = f.proto.ChangeLevel(f.ctx, "SBS007G", parse.Down)
	require.NoError(t, err)
	_, err = f.proto.ChangeLevel(f.ctx, "SBS007G", parse.Down)
	assert.Equal(t, depot.KindValidationFailed, depot.KindOf(err))

	view, ok := f.proto.Session("SBS007G")
	require.True(t, ok)
	assert.Equal(t, 1, view.Level)
}

func TestInsideSessionIsRestored(t *testing.T) {
	f := newFixture(t, NewManualClock(start()))

	bus, err := f.core.EnsureBus(f.ctx, "SBS008H")
	require.NoError(t, err)
	require.NoError(t, f.core.SetBusStatus(f.ctx, bus.ID, model.BusInside))
	_, err = f.core.Assign(f.ctx, mustBay(t, f.db, "A04"), "SBS008H")
	require.NoError(t, err)

	res, err := f.proto.MoveToAllocation(f.ctx, "SBS008H")
	require.NoError(t, err)
	assert.Equal(t, model.SourceParkedCorrect, res.Position.Source)

	view, ok := f.proto.Session("SBS008H")
	require.True(t, ok)
	assert.Equal(t, "restored", view.Method)

	_, err = f.proto.MoveToOpenBay(f.ctx, "SBS008H")
	require.NoError(t, err)

	_, err = f.proto.MoveToCheckpoint(f.ctx, "NOBODY", "CP1")
	assert.Equal(t, depot.KindNotFound, depot.KindOf(err))
}

func mustBay(t *testing.T, gormDB *gorm.DB, code string) string {
	t.Helper()
	var bay model.Bay
	require.NoError(t, gormDB.Where("bay_code = ?", code).Take(&bay).Error)
	return bay.ID
}

func TestManualClock(t *testing.T) {
	c := NewManualClock(start())
	var order []string
	c.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	c.AfterFunc(1*time.Second, func() { order = append(order, "a") })
	stopped := c.AfterFunc(1*time.Second, func() { order = append(order, "x") })

	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())

	c.Advance(3 * time.Second)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, start().Add(3*time.Second), c.Now())
	assert.Zero(t, c.Pending())
}
