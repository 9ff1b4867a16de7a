package depot

import (
	"context"
	"fmt"
)

// CloseAndFree completes every open allocation of the bus and frees the bays it
// holds. Calling it with nothing open is a no-op.
func (s *Service) CloseAndFree(ctx context.Context, busID string) (Result, error) {
	unlock := s.buses.Lock(busID)
	defer unlock()

	closed, freed, err := s.store.CloseAllocations(ctx, busID)
	if err != nil {
		s.log.Error().Err(err).Str("bus_id", busID).Msg("failed to close allocations")
		return Result{}, fromStore("Error closing allocations", err)
	}
	s.metrics.Closed(closed)
	if closed > 0 || freed > 0 {
		s.log.Info().Str("bus_id", busID).Int64("closed", closed).Int64("freed", freed).Msg("allocations closed")
	}
	return Result{Message: fmt.Sprintf("Closed %d allocation(s) and freed %d bay(s).", closed, freed)}, nil
}
