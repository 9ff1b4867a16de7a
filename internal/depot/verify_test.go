package depot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-depot-backend/internal/model"
)

func TestWithinTolerance(t *testing.T) {
	bay := &model.Bay{FloorID: "f1", X: 100, Y: 100}
	tests := []struct {
		name string
		pos  model.Position
		want bool
	}{
		{"exact", model.Position{FloorID: "f1", X: 100, Y: 100}, true},
		{"on the box edge", model.Position{FloorID: "f1", X: 105, Y: 95}, true},
		{"corner is not euclidean", model.Position{FloorID: "f1", X: 104.9, Y: 104.9}, true},
		{"x outside", model.Position{FloorID: "f1", X: 105.1, Y: 100}, false},
		{"y outside", model.Position{FloorID: "f1", X: 100, Y: 94}, false},
		{"other floor", model.Position{FloorID: "f2", X: 100, Y: 100}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WithinTolerance(&tt.pos, bay, 5))
		})
	}
}

// Bus SBS001A enters, is auto-assigned the first bay by (area, lot), confirms
// at the bay, then confirms three times off-tolerance and ends in override.
func TestConfirmParked_Lifecycle(t *testing.T) {
	f := newFixture(t)
	bus := f.enter(t, "sbs001a")

	res, err := f.svc.AutoAssign(f.ctx, "SBS001A")
	require.NoError(t, err)
	assert.Equal(t, "A01", res.Bay.BayCode)
	allocID := res.Allocation.ID
	bay := f.bay(t, "A01")
	assert.False(t, bay.IsAvailable)
	f.assertInvariants(t)

	f.moveTo(t, bus.ID, bay, 0, 0)
	res, err = f.svc.ConfirmParked(f.ctx, allocID)
	require.NoError(t, err)
	assert.Equal(t, "Thank you. Parking confirmed.", res.Message)
	assert.Equal(t, model.AllocationParked, f.allocation(t, allocID).Status)
	bay = f.bay(t, "A01")
	require.NotNil(t, bay.CurrentBusID)
	assert.Equal(t, bus.ID, *bay.CurrentBusID)
	f.assertInvariants(t)

	// Off by 6 in x: one wrong attempt per confirmation, status unchanged.
	f.moveTo(t, bus.ID, bay, 6, 0)
	for attempt := 1; attempt <= 2; attempt++ {
		_, err = f.svc.ConfirmParked(f.ctx, allocID)
		requireKind(t, err, KindValidationFailed)
		assert.Contains(t, err.Error(), "You are not at the allocated bay")
		a := f.allocation(t, allocID)
		assert.Equal(t, attempt, a.WrongAttempts)
		assert.Equal(t, model.AllocationParked, a.Status)
	}
	assert.Empty(t, f.notifier.calls())

	res, err = f.svc.ConfirmParked(f.ctx, allocID)
	require.NoError(t, err)
	assert.Contains(t, res.Message, "Override recorded")

	a := f.allocation(t, allocID)
	assert.Equal(t, 3, a.WrongAttempts)
	assert.Equal(t, model.AllocationOverrideParked, a.Status)
	// A01 at x=80 is 6 away, A02 at x=120 is 34 away; the bus keeps its own bay.
	require.NotNil(t, a.OverrideBayID)
	assert.Equal(t, bay.ID, *a.OverrideBayID)
	assert.Equal(t, []string{allocID}, f.notifier.calls())
	f.assertInvariants(t)
}

func TestConfirmParked_ExactlyAtToleranceMatches(t *testing.T) {
	f := newFixture(t)
	bus := f.enter(t, "SBS002B")
	bay := f.bay(t, "B02")

	res, err := f.svc.Assign(f.ctx, bay.ID, "SBS002B")
	require.NoError(t, err)

	f.moveTo(t, bus.ID, bay, 5, -5)
	_, err = f.svc.ConfirmParked(f.ctx, res.Allocation.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AllocationParked, f.allocation(t, res.Allocation.ID).Status)
}

func TestConfirmParked_OtherFloorDoesNotMatch(t *testing.T) {
	f := newFixture(t)
	bus := f.enter(t, "SBS003C")
	bay := f.bay(t, "A01")
	above := f.bay(t, "C01") // same coordinates, level 2

	res, err := f.svc.Assign(f.ctx, bay.ID, "SBS003C")
	require.NoError(t, err)

	f.moveTo(t, bus.ID, above, 0, 0)
	_, err = f.svc.ConfirmParked(f.ctx, res.Allocation.ID)
	requireKind(t, err, KindValidationFailed)
	assert.Equal(t, 1, f.allocation(t, res.Allocation.ID).WrongAttempts)
}

func TestConfirmParked_OverrideMovesToNearestFreeBay(t *testing.T) {
	f := newFixture(t)
	bus := f.enter(t, "SBS010A")
	other := f.enter(t, "SBS011B")
	a01, a02 := f.bay(t, "A01"), f.bay(t, "A02")

	res, err := f.svc.Assign(f.ctx, a01.ID, "SBS010A")
	require.NoError(t, err)
	allocID := res.Allocation.ID
	_, err = f.svc.Assign(f.ctx, a02.ID, "SBS011B")
	require.NoError(t, err)

	// Parked next to A02 (x=120), which is taken. A03 (x=160) is nearer than
	// A01 (x=80).
	f.moveTo(t, bus.ID, a02, 1, 0)
	for i := 0; i < 3; i++ {
		_, err = f.svc.ConfirmParked(f.ctx, allocID)
	}
	require.NoError(t, err)

	a := f.allocation(t, allocID)
	assert.Equal(t, model.AllocationOverrideParked, a.Status)
	a03 := f.bay(t, "A03")
	require.NotNil(t, a.OverrideBayID)
	assert.Equal(t, a03.ID, *a.OverrideBayID)

	assert.True(t, f.bay(t, "A01").IsAvailable, "allocated bay is released")
	require.NotNil(t, a03.CurrentBusID)
	assert.Equal(t, bus.ID, *a03.CurrentBusID)
	a02 = f.bay(t, "A02")
	require.NotNil(t, a02.CurrentBusID)
	assert.Equal(t, other.ID, *a02.CurrentBusID, "other bus keeps its bay")
	f.assertInvariants(t)
}

func TestConfirmParked_OverrideIsRecordedOnce(t *testing.T) {
	f := newFixture(t)
	bus := f.enter(t, "SBS020A")
	bay := f.bay(t, "B01")
	res, err := f.svc.Assign(f.ctx, bay.ID, "SBS020A")
	require.NoError(t, err)
	allocID := res.Allocation.ID

	f.moveTo(t, bus.ID, bay, 30, 0)
	for i := 0; i < 3; i++ {
		_, err = f.svc.ConfirmParked(f.ctx, allocID)
	}
	require.NoError(t, err)
	before := f.allocation(t, allocID)

	// Even a matching position no longer changes anything.
	f.moveTo(t, bus.ID, bay, 0, 0)
	_, err = f.svc.ConfirmParked(f.ctx, allocID)
	requireKind(t, err, KindConflict)
	assert.Contains(t, err.Error(), "already recorded")

	after := f.allocation(t, allocID)
	assert.Equal(t, before.WrongAttempts, after.WrongAttempts)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.OverrideBayID, after.OverrideBayID)
	assert.Len(t, f.notifier.calls(), 1)
}

func TestConfirmParked_Failures(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ConfirmParked(f.ctx, "missing")
	requireKind(t, err, KindNotFound)

	f.enter(t, "SBS030A")
	res, err := f.svc.Assign(f.ctx, f.bay(t, "A01").ID, "SBS030A")
	require.NoError(t, err)

	_, err = f.svc.ConfirmParked(f.ctx, res.Allocation.ID)
	requireKind(t, err, KindValidationFailed)
	assert.Contains(t, err.Error(), "no recent position")
	assert.Zero(t, f.allocation(t, res.Allocation.ID).WrongAttempts)

	bus, err := f.svc.BusByPlate(f.ctx, "SBS030A")
	require.NoError(t, err)
	_, err = f.svc.CloseAndFree(f.ctx, bus.ID)
	require.NoError(t, err)
	f.moveTo(t, bus.ID, f.bay(t, "A01"), 0, 0)
	_, err = f.svc.ConfirmParked(f.ctx, res.Allocation.ID)
	requireKind(t, err, KindConflict)
}

func TestConfirmParked_OverrideWithoutCandidates(t *testing.T) {
	f := newFixture(t)
	bus := f.enter(t, "SBS040A")
	bay := f.bay(t, "A01")
	res, err := f.svc.Assign(f.ctx, bay.ID, "SBS040A")
	require.NoError(t, err)

	// Every other bay is taken and the bus was moved off its own bay.
	require.NoError(t, f.db.Model(&model.Bay{}).Where("1 = 1").
		Updates(map[string]any{"is_available": false, "current_bus_id": "someone-else"}).Error)

	f.moveTo(t, bus.ID, bay, 20, 0)
	for i := 0; i < 3; i++ {
		_, err = f.svc.ConfirmParked(f.ctx, res.Allocation.ID)
	}
	require.NoError(t, err)

	a := f.allocation(t, res.Allocation.ID)
	assert.Equal(t, model.AllocationOverrideParked, a.Status)
	assert.Nil(t, a.OverrideBayID)
}

func TestNearestBay(t *testing.T) {
	pos := &model.Position{X: 0, Y: 0}
	assert.Nil(t, nearestBay(nil, pos))

	bays := []model.Bay{
		{ID: "c", X: 3, Y: 4},
		{ID: "b", X: 0, Y: 5},
		{ID: "a", X: 10, Y: 0},
		{ID: "d", X: -4, Y: 3},
	}
	// b, c and d are all at distance 5: the lowest id wins.
	assert.Equal(t, "b", nearestBay(bays, pos).ID)

	pos = &model.Position{X: 9, Y: 0}
	assert.Equal(t, "a", nearestBay(bays, pos).ID)

	// A bay directly above or below never beats one on the bus's own floor.
	mixed := []model.Bay{
		{ID: "up", FloorID: "f2", X: 0, Y: 0},
		{ID: "far", FloorID: "f1", X: 50, Y: 50},
	}
	assert.Equal(t, "far", nearestBay(mixed, &model.Position{FloorID: "f1"}).ID)
	assert.Equal(t, "up", nearestBay(mixed[:1], &model.Position{FloorID: "f1"}).ID)
}
