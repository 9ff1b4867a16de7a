// Package depot implements the bus lifecycle and bay allocation state machine:
// movement tracking, bay assignment, parking verification, override resolution
// and exit closure.
package depot

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/rs/zerolog"

	"bus-depot-backend/config"
	"bus-depot-backend/internal/metrics"
	"bus-depot-backend/internal/model"
	"bus-depot-backend/internal/parse"
	"bus-depot-backend/internal/store"
)

// Notifier is told about every recorded override incident.
type Notifier interface {
	NotifyOverride(allocationID string)
}

// Result is the success value of a depot operation.
type Result struct {
	Message    string            `json:"message"`
	Bus        *model.Bus        `json:"bus,omitempty"`
	Bay        *model.Bay        `json:"bay,omitempty"`
	Allocation *model.Allocation `json:"allocation,omitempty"`
	Position   *model.Position   `json:"position,omitempty"`
	Level      int               `json:"level,omitempty"`
}

// Service is the depot core. It is safe for concurrent use: mutations are
// serialized per bus and per bay.
type Service struct {
	store    store.Store
	rules    config.ParkingConfig
	log      zerolog.Logger
	metrics  *metrics.Recorder
	notifier Notifier
	pick     func(n int) int

	buses *keyedMutex
	bays  *keyedMutex
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.log = l } }

// WithMetrics sets the metrics recorder.
func WithMetrics(r *metrics.Recorder) Option { return func(s *Service) { s.metrics = r } }

// WithNotifier sets the override notifier.
func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

// WithPicker replaces the random choice used by simulated wrong-bay moves.
func WithPicker(pick func(n int) int) Option { return func(s *Service) { s.pick = pick } }

// NewService creates the depot core on top of st.
func NewService(st store.Store, rules config.ParkingConfig, opts ...Option) *Service {
	s := &Service{
		store: st,
		rules: rules,
		log:   zerolog.Nop(),
		pick:  rand.IntN,
		buses: newKeyedMutex(),
		bays:  newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func normalizePlate(raw string) (string, error) {
	plate, err := parse.NormalizePlate(raw)
	if err != nil {
		return "", &Error{Kind: KindValidationFailed, Msg: "Enter a valid plate number first.", Err: err}
	}
	return plate, nil
}

// EnsureBus returns the bus for the plate, creating it on first contact.
func (s *Service) EnsureBus(ctx context.Context, rawPlate string) (*model.Bus, error) {
	plate, err := normalizePlate(rawPlate)
	if err != nil {
		return nil, err
	}
	bus, err := s.store.UpsertBus(ctx, plate)
	if err != nil {
		return nil, fromStore("Error finding/creating bus", err)
	}
	return bus, nil
}

// BusByPlate returns an existing bus.
func (s *Service) BusByPlate(ctx context.Context, rawPlate string) (*model.Bus, error) {
	plate, err := normalizePlate(rawPlate)
	if err != nil {
		return nil, err
	}
	bus, err := s.store.FindBusByPlate(ctx, plate)
	if err != nil {
		return nil, fromStore(fmt.Sprintf("Bus %s not found. Ensure it has entered the depot.", plate), err)
	}
	return bus, nil
}

// SetBusStatus moves the bus to a lifecycle status.
func (s *Service) SetBusStatus(ctx context.Context, busID string, status model.BusStatus) error {
	if err := s.store.UpdateBusStatus(ctx, busID, status); err != nil {
		return fromStore("Error updating bus status", err)
	}
	return nil
}

// GateCheckpoint returns the reference checkpoint of a gate ("Entrance" or "Exit").
func (s *Service) GateCheckpoint(ctx context.Context, name string) (*model.Checkpoint, error) {
	cp, err := s.store.FindCheckpointByName(ctx, name)
	if err != nil {
		return nil, fromStore("Error fetching checkpoint "+name, err)
	}
	return cp, nil
}
