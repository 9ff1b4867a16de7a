package depot

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-depot-backend/internal/model"
)

func TestAssign(t *testing.T) {
	f := newFixture(t)
	a01 := f.bay(t, "A01")

	t.Run("creates the bus and occupies the bay", func(t *testing.T) {
		res, err := f.svc.Assign(f.ctx, a01.ID, " sbs 100 a ")
		require.NoError(t, err)
		assert.Equal(t, "SBS100A", res.Bus.PlateNumber)
		assert.Equal(t, model.AllocationAllocated, res.Allocation.Status)
		assert.Equal(t, model.PriorityManual, res.Allocation.PriorityReason)

		bay := f.bay(t, "A01")
		assert.False(t, bay.IsAvailable)
		require.NotNil(t, bay.CurrentBusID)
		assert.Equal(t, res.Bus.ID, *bay.CurrentBusID)
	})

	t.Run("rejects a taken bay", func(t *testing.T) {
		_, err := f.svc.Assign(f.ctx, a01.ID, "SBS101B")
		requireKind(t, err, KindConflict)
		assert.Equal(t, "Bay is no longer available.", err.Error())
	})

	t.Run("rejects a second open allocation", func(t *testing.T) {
		_, err := f.svc.Assign(f.ctx, f.bay(t, "A02").ID, "SBS100A")
		requireKind(t, err, KindConflict)
		assert.True(t, f.bay(t, "A02").IsAvailable, "rolled back with the allocation")
	})

	t.Run("unknown bay", func(t *testing.T) {
		_, err := f.svc.Assign(f.ctx, "nope", "SBS102C")
		requireKind(t, err, KindNotFound)
	})

	t.Run("invalid plate", func(t *testing.T) {
		_, err := f.svc.Assign(f.ctx, a01.ID, "  ")
		requireKind(t, err, KindValidationFailed)
	})

	t.Run("tags charging matches", func(t *testing.T) {
		_, err := f.svc.UpdatePreferences(f.ctx, "SBS103D", true, false)
		require.NoError(t, err)
		res, err := f.svc.Assign(f.ctx, f.bay(t, "A03").ID, "SBS103D")
		require.NoError(t, err)
		assert.Equal(t, model.PriorityChargingManual, res.Allocation.PriorityReason)
	})

	f.assertInvariants(t)
}

func TestAutoAssign(t *testing.T) {
	f := newFixture(t)

	t.Run("bus must have entered", func(t *testing.T) {
		_, err := f.svc.AutoAssign(f.ctx, "GHOST1")
		requireKind(t, err, KindNotFound)
		assert.Contains(t, err.Error(), "Ensure it has entered the depot")
	})

	t.Run("first free bay by area and lot", func(t *testing.T) {
		f.enter(t, "SBS200A")
		f.enter(t, "SBS201B")
		first, err := f.svc.AutoAssign(f.ctx, "SBS200A")
		require.NoError(t, err)
		second, err := f.svc.AutoAssign(f.ctx, "SBS201B")
		require.NoError(t, err)
		assert.Equal(t, "A01", first.Bay.BayCode)
		assert.Equal(t, "A02", second.Bay.BayCode)
		assert.Equal(t, model.PriorityDefault, second.Allocation.PriorityReason)
	})

	t.Run("charging buses get charging bays", func(t *testing.T) {
		// Leave only B and later areas free on level 1.
		require.NoError(t, f.db.Model(&model.Bay{}).Where("area_code = ? AND is_available = ?", "A", true).
			Updates(map[string]any{"is_available": false, "current_bus_id": "parked-elsewhere"}).Error)

		f.enter(t, "SBS202C")
		_, err := f.svc.UpdatePreferences(f.ctx, "SBS202C", true, false)
		require.NoError(t, err)

		res, err := f.svc.AutoAssign(f.ctx, "SBS202C")
		require.NoError(t, err)
		assert.Equal(t, "C01", res.Bay.BayCode)
		assert.True(t, res.Bay.IsChargingBay)
		assert.Equal(t, model.PriorityCharging, res.Allocation.PriorityReason)
	})

	t.Run("no matching bay", func(t *testing.T) {
		require.NoError(t, f.db.Model(&model.Bay{}).Where("is_charging_bay = ? AND is_available = ?", true, true).
			Updates(map[string]any{"is_available": false, "current_bus_id": "parked-elsewhere"}).Error)

		f.enter(t, "SBS203D")
		_, err := f.svc.UpdatePreferences(f.ctx, "SBS203D", true, false)
		require.NoError(t, err)

		_, err = f.svc.AutoAssign(f.ctx, "SBS203D")
		requireKind(t, err, KindConflict)
		assert.Equal(t, "No available charging bays.", err.Error())
	})

	f.assertInvariants(t)
}

func TestAssign_ConcurrentClaimsOfOneBay(t *testing.T) {
	f := newFixture(t)
	bay := f.bay(t, "B03")

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Assign(f.ctx, bay.ID, fmt.Sprintf("RACE%02d", i))
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		assert.Equal(t, KindConflict, KindOf(err))
	}
	assert.Equal(t, 1, won)

	var allocs int64
	require.NoError(t, f.db.Model(&model.Allocation{}).Where("bay_id = ?", bay.ID).Count(&allocs).Error)
	assert.Equal(t, int64(1), allocs)
	f.assertInvariants(t)
}
