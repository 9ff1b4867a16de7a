package depot

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bus-depot-backend/config"
	"bus-depot-backend/internal/db"
	"bus-depot-backend/internal/layout"
	"bus-depot-backend/internal/model"
	"bus-depot-backend/internal/store"
)

type recordingNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (n *recordingNotifier) NotifyOverride(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, id)
}

func (n *recordingNotifier) calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.ids...)
}

type fixture struct {
	svc      *Service
	store    store.Store
	db       *gorm.DB
	notifier *recordingNotifier
	ctx      context.Context
}

func testRules() config.ParkingConfig {
	return config.ParkingConfig{Tolerance: 5, WrongAttemptThreshold: 3, MinLevel: 1, MaxLevel: 4}
}

// newFixture returns a service over an in-memory depot with the default
// four-level layout: areas A (charging) and B on level 1, C and D on level 2,
// five lots each, lots 40 units apart starting at x=80.
func newFixture(t *testing.T, opts ...Option) *fixture {
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

	n := &recordingNotifier{}
	opts = append([]Option{WithNotifier(n)}, opts...)
	return &fixture{
		svc:      NewService(st, testRules(), opts...),
		store:    st,
		db:       gormDB,
		notifier: n,
		ctx:      ctx,
	}
}

// enter creates the bus and marks it inside.
func (f *fixture) enter(t *testing.T, plate string) *model.Bus {
	t.Helper()
	bus, err := f.svc.EnsureBus(f.ctx, plate)
	require.NoError(t, err)
	require.NoError(t, f.svc.SetBusStatus(f.ctx, bus.ID, model.BusInside))
	bus.Status = model.BusInside
	return bus
}

func (f *fixture) bay(t *testing.T, code string) *model.Bay {
	t.Helper()
	var bay model.Bay
	require.NoError(t, f.db.Preload("Floor").Where("bay_code = ?", code).Take(&bay).Error)
	return &bay
}

func (f *fixture) allocation(t *testing.T, id string) *model.Allocation {
	t.Helper()
	var a model.Allocation
	require.NoError(t, f.db.Where("id = ?", id).Take(&a).Error)
	return &a
}

// moveTo records the bus at the bay's coordinates shifted by dx, dy.
func (f *fixture) moveTo(t *testing.T, busID string, bay *model.Bay, dx, dy float64) {
	t.Helper()
	_, err := f.svc.RecordMovement(f.ctx, busID, Location{FloorID: bay.FloorID, X: bay.X + dx, Y: bay.Y + dy}, model.SourceParkedWrong)
	require.NoError(t, err)
}

// assertInvariants checks that every bay's availability mirrors its occupant
// and that no bus holds more than one open allocation.
func (f *fixture) assertInvariants(t *testing.T) {
	t.Helper()
	var drift int64
	require.NoError(t, f.db.Model(&model.Bay{}).
		Where("(is_available = ? AND current_bus_id IS NOT NULL) OR (is_available = ? AND current_bus_id IS NULL)", true, false).
		Count(&drift).Error)
	assert.Zero(t, drift, "bays whose availability disagrees with their occupant")

	var rows []struct {
		BusID string
		N     int64
	}
	require.NoError(t, f.db.Model(&model.Allocation{}).
		Select("bus_id, COUNT(*) AS n").
		Where("status IN ?", model.OpenStatuses).
		Group("bus_id").
		Having("COUNT(*) > 1").
		Scan(&rows).Error)
	assert.Empty(t, rows, "buses with more than one open allocation")
}

func requireKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, KindOf(err), "error: %v", err)
}
