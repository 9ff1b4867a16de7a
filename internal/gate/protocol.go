// Package gate implements identification at the depot gates: a primary (ANPR)
// trigger with a timed fallback (RFID), and the per-bus session that tracks
// which level a bus is on while it moves through the depot.
package gate

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bus-depot-backend/internal/depot"
	"bus-depot-backend/internal/metrics"
	"bus-depot-backend/internal/model"
	"bus-depot-backend/internal/parse"
)

// Core is the part of the depot the gate protocol drives.
type Core interface {
	EnsureBus(ctx context.Context, plate string) (*model.Bus, error)
	BusByPlate(ctx context.Context, plate string) (*model.Bus, error)
	SetBusStatus(ctx context.Context, busID string, status model.BusStatus) error
	GateCheckpoint(ctx context.Context, name string) (*model.Checkpoint, error)
	RecordMovement(ctx context.Context, busID string, loc depot.Location, source model.PositionSource) (*model.Position, error)
	CloseAndFree(ctx context.Context, busID string) (depot.Result, error)
	Locate(ctx context.Context, plate string) (depot.Result, error)
	MoveToCheckpoint(ctx context.Context, busID string, level int, name string) (depot.Result, error)
	ChangeLevel(ctx context.Context, busID string, level int, dir parse.Direction) (depot.Result, error)
	MoveToAllocation(ctx context.Context, busID string, level int) (depot.Result, error)
	MoveToOpenBay(ctx context.Context, busID string, level int) (depot.Result, error)
}

// Config tunes the protocol.
type Config struct {
	// FallbackDelay is how long a gate waits for the primary trigger.
	FallbackDelay time.Duration
	// StartLevel is the level a bus is on after entering.
	StartLevel int
}

// Protocol holds one session per bus, keyed by normalized plate.
type Protocol struct {
	core    Core
	clock   Clock
	cfg     Config
	log     zerolog.Logger
	metrics *metrics.Recorder

	// ctx is used by fallback callbacks, which outlive the request that
	// started the gate event.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewProtocol creates a gate protocol. Close stops its pending timers.
func NewProtocol(core Core, clock Clock, cfg Config, log zerolog.Logger, rec *metrics.Recorder) *Protocol {
	if cfg.StartLevel == 0 {
		cfg.StartLevel = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Protocol{
		core:     core,
		clock:    clock,
		cfg:      cfg,
		log:      log,
		metrics:  rec,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
}

// Close cancels every pending fallback.
func (p *Protocol) Close() {
	p.cancel()
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.sessions {
		if s.timer != nil {
			s.timer.Stop()
		}
	}
}

func gateErr(kind depot.Kind, format string, args ...any) error {
	return &depot.Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// StartGateEvent registers a bus at a gate and arms the fallback timer. On exit
// the bus's allocations are closed before identification, since it is already
// leaving. A newer event for the same bus supersedes a pending one.
func (p *Protocol) StartGateEvent(ctx context.Context, plate string, g Gate) (depot.Result, error) {
	bus, err := p.core.EnsureBus(ctx, plate)
	if err != nil {
		return depot.Result{}, err
	}

	status := model.BusEntering
	if g == Exit {
		status = model.BusLeaving
	}
	if err := p.core.SetBusStatus(ctx, bus.ID, status); err != nil {
		return depot.Result{}, err
	}
	bus.Status = status

	if g == Exit {
		if _, err := p.core.CloseAndFree(ctx, bus.ID); err != nil {
			return depot.Result{}, &depot.Error{
				Kind: depot.KindPartiallyApplied,
				Msg:  fmt.Sprintf("Bus %s marked leaving, but closing its allocations failed", bus.PlateNumber),
				Err:  err,
			}
		}
	}

	sess := &Session{Plate: bus.PlateNumber, BusID: bus.ID, Gate: g, StartedAt: p.clock.Now(), level: p.cfg.StartLevel}

	p.mu.Lock()
	if old, ok := p.sessions[bus.PlateNumber]; ok {
		if g == Exit {
			sess.level = old.currentLevel()
		}
		if old.method.CompareAndSwap(int32(MethodUnset), int32(methodSuperseded)) && old.timer != nil {
			old.timer.Stop()
		}
	}
	sess.timer = p.clock.AfterFunc(p.cfg.FallbackDelay, func() { p.fallback(sess) })
	p.sessions[bus.PlateNumber] = sess
	p.mu.Unlock()

	p.log.Info().Str("plate", bus.PlateNumber).Str("gate", string(g)).Dur("fallback_in", p.cfg.FallbackDelay).Msg("gate event started")
	return depot.Result{
		Message: fmt.Sprintf("Bus %s detected at %s gate. Awaiting identification.", bus.PlateNumber, g),
		Bus:     bus,
		Level:   sess.currentLevel(),
	}, nil
}

// IdentifyPrimary completes the pending gate event of the bus via ANPR.
func (p *Protocol) IdentifyPrimary(ctx context.Context, plate string) (depot.Result, error) {
	return p.identify(ctx, plate, MethodPrimary)
}

// IdentifyFallback completes the pending gate event of the bus via RFID, as the
// timer would.
func (p *Protocol) IdentifyFallback(ctx context.Context, plate string) (depot.Result, error) {
	return p.identify(ctx, plate, MethodFallback)
}

func (p *Protocol) identify(ctx context.Context, plate string, m Method) (depot.Result, error) {
	sess, err := p.pending(plate)
	if err != nil {
		return depot.Result{}, err
	}
	if !sess.claim(m) {
		return depot.Result{}, gateErr(depot.KindConflict, "Bus %s already identified via %s.", sess.Plate, sess.Method())
	}
	p.mu.Lock()
	if sess.timer != nil {
		sess.timer.Stop()
	}
	p.mu.Unlock()
	return p.complete(ctx, sess, m)
}

// release hands a claimed session back after a failed identification, so a
// retry or the re-armed fallback timer can complete it.
func (p *Protocol) release(sess *Session, m Method) {
	if !sess.method.CompareAndSwap(int32(m), int32(MethodUnset)) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx.Err() != nil || p.sessions[sess.Plate] != sess {
		return
	}
	sess.timer = p.clock.AfterFunc(p.cfg.FallbackDelay, func() { p.fallback(sess) })
}

// fallback is the timer callback. It is inert when the session was superseded
// or identified in the meantime.
func (p *Protocol) fallback(sess *Session) {
	p.mu.Lock()
	current := p.sessions[sess.Plate] == sess
	p.mu.Unlock()
	if !current || !sess.claim(MethodFallback) {
		return
	}
	if _, err := p.complete(p.ctx, sess, MethodFallback); err != nil {
		p.log.Error().Err(err).Str("plate", sess.Plate).Str("gate", string(sess.Gate)).Msg("fallback identification failed")
	}
}

// pending returns the session awaiting identification for plate. An empty
// plate selects the only pending session, if there is exactly one.
func (p *Protocol) pending(plate string) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if plate == "" {
		var found *Session
		for _, s := range p.sessions {
			if s.Method() != MethodUnset {
				continue
			}
			if found != nil {
				return nil, gateErr(depot.KindValidationFailed, "Several gate events are pending; specify the plate number.")
			}
			found = s
		}
		if found == nil {
			return nil, gateErr(depot.KindNotFound, "No pending gate event.")
		}
		return found, nil
	}

	norm, err := parse.NormalizePlate(plate)
	if err != nil {
		return nil, &depot.Error{Kind: depot.KindValidationFailed, Msg: "Enter a valid plate number first.", Err: err}
	}
	s, ok := p.sessions[norm]
	if !ok || s.Method() != MethodUnset {
		return nil, gateErr(depot.KindNotFound, "No pending gate event for %s.", norm)
	}
	return s, nil
}

// complete applies the identification effects. The caller has claimed the
// session; the claim is released again unless the bus status was updated.
func (p *Protocol) complete(ctx context.Context, sess *Session, m Method) (depot.Result, error) {
	checkpoint, status := model.CheckpointEntrance, model.BusInside
	source := model.SourceANPREntry
	switch {
	case sess.Gate == Entry && m == MethodFallback:
		source = model.SourceRFIDEntry
	case sess.Gate == Exit && m == MethodPrimary:
		checkpoint, status, source = model.CheckpointExit, model.BusOutside, model.SourceANPRExit
	case sess.Gate == Exit:
		checkpoint, status, source = model.CheckpointExit, model.BusOutside, model.SourceRFIDExit
	}

	cp, err := p.core.GateCheckpoint(ctx, checkpoint)
	if err != nil {
		p.release(sess, m)
		return depot.Result{}, err
	}
	pos, err := p.core.RecordMovement(ctx, sess.BusID, depot.CheckpointLocation(cp), source)
	if err != nil {
		p.release(sess, m)
		return depot.Result{}, err
	}
	if err := p.core.SetBusStatus(ctx, sess.BusID, status); err != nil {
		p.release(sess, m)
		return depot.Result{}, &depot.Error{
			Kind: depot.KindPartiallyApplied,
			Msg:  fmt.Sprintf("Position recorded at %s, but updating bus status failed", checkpoint),
			Err:  err,
		}
	}

	// The bus is identified from here on; a failed close is reported but does
	// not undo the identification.
	var closeErr error
	if sess.Gate == Exit {
		if m == MethodFallback {
			if _, err := p.core.CloseAndFree(ctx, sess.BusID); err != nil {
				closeErr = &depot.Error{
					Kind: depot.KindPartiallyApplied,
					Msg:  fmt.Sprintf("Bus %s identified at exit, but closing its allocations failed", sess.Plate),
					Err:  err,
				}
			}
		}
		p.mu.Lock()
		if p.sessions[sess.Plate] == sess {
			delete(p.sessions, sess.Plate)
		}
		p.mu.Unlock()
		sess.setLevel(p.cfg.StartLevel)
	}

	p.metrics.Identification(string(sess.Gate), m.String())
	p.log.Info().
		Str("plate", sess.Plate).
		Str("gate", string(sess.Gate)).
		Str("method", m.String()).
		Str("status", string(status)).
		Msg("bus identified")

	res := depot.Result{
		Message:  fmt.Sprintf("Bus %s identified at %s gate via %s.", sess.Plate, sess.Gate, methodLabel(m)),
		Position: pos,
		Level:    sess.currentLevel(),
	}
	if closeErr != nil {
		return res, closeErr
	}
	return res, nil
}

func methodLabel(m Method) string {
	if m == MethodFallback {
		return "RFID"
	}
	return "ANPR"
}

func (s *Session) currentLevel() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

func (s *Session) setLevel(level int) {
	s.mu.Lock()
	s.level = level
	s.mu.Unlock()
}

// inside returns the session of a bus that is in the depot. A bus that is
// inside but has no session (e.g. after a restart) gets one rebuilt at the
// level of its latest position.
func (p *Protocol) inside(ctx context.Context, plate string) (*Session, error) {
	norm, err := parse.NormalizePlate(plate)
	if err != nil {
		return nil, &depot.Error{Kind: depot.KindValidationFailed, Msg: "Enter a valid plate number first.", Err: err}
	}

	p.mu.Lock()
	s, ok := p.sessions[norm]
	p.mu.Unlock()
	if ok && (s.Method() == MethodUnset || s.Method() == methodSuperseded) {
		return nil, gateErr(depot.KindConflict, "Bus %s has not been identified yet.", norm)
	}

	bus, err := p.core.BusByPlate(ctx, norm)
	if err != nil {
		return nil, err
	}
	if bus.Status != model.BusInside {
		return nil, gateErr(depot.KindConflict, "Bus %s is not inside the depot.", norm)
	}
	if ok {
		return s, nil
	}

	level := p.cfg.StartLevel
	if loc, err := p.core.Locate(ctx, norm); err == nil && loc.Level > 0 {
		level = loc.Level
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sessions[norm]; ok {
		return s, nil
	}
	s = &Session{Plate: bus.PlateNumber, BusID: bus.ID, Gate: Entry, StartedAt: p.clock.Now(), level: level}
	s.method.Store(int32(MethodRestored))
	p.sessions[norm] = s
	return s, nil
}

// MoveToCheckpoint moves the bus to a named checkpoint on its current level.
func (p *Protocol) MoveToCheckpoint(ctx context.Context, plate, name string) (depot.Result, error) {
	sess, err := p.inside(ctx, plate)
	if err != nil {
		return depot.Result{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return p.core.MoveToCheckpoint(ctx, sess.BusID, sess.level, name)
}

// ChangeLevel moves the bus one level up or down.
func (p *Protocol) ChangeLevel(ctx context.Context, plate string, dir parse.Direction) (depot.Result, error) {
	sess, err := p.inside(ctx, plate)
	if err != nil {
		return depot.Result{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	res, err := p.core.ChangeLevel(ctx, sess.BusID, sess.level, dir)
	if err != nil {
		return res, err
	}
	sess.level = res.Level
	return res, nil
}

// MoveToAllocation parks the bus at its allocated bay.
func (p *Protocol) MoveToAllocation(ctx context.Context, plate string) (depot.Result, error) {
	sess, err := p.inside(ctx, plate)
	if err != nil {
		return depot.Result{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return p.core.MoveToAllocation(ctx, sess.BusID, sess.level)
}

// MoveToOpenBay parks the bus at a random free bay of its current level.
func (p *Protocol) MoveToOpenBay(ctx context.Context, plate string) (depot.Result, error) {
	sess, err := p.inside(ctx, plate)
	if err != nil {
		return depot.Result{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return p.core.MoveToOpenBay(ctx, sess.BusID, sess.level)
}

// Session returns a snapshot of the bus's session.
func (p *Protocol) Session(plate string) (SessionView, bool) {
	norm, err := parse.NormalizePlate(plate)
	if err != nil {
		return SessionView{}, false
	}
	p.mu.Lock()
	s, ok := p.sessions[norm]
	p.mu.Unlock()
	if !ok {
		return SessionView{}, false
	}
	return s.view(), true
}

// Sessions returns snapshots of every session ordered by plate.
func (p *Protocol) Sessions() []SessionView {
	p.mu.Lock()
	list := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		list = append(list, s)
	}
	p.mu.Unlock()

	views := make([]SessionView, 0, len(list))
	for _, s := range list {
		views = append(views, s.view())
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Plate < views[j].Plate })
	return views
}
