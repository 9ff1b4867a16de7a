// Package metrics exposes prometheus counters for the bus lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder records depot lifecycle events. A nil *Recorder is valid and records nothing.
type Recorder struct {
	identifications *prometheus.CounterVec
	allocations     *prometheus.CounterVec
	verifications   *prometheus.CounterVec
	overrides       prometheus.Counter
	closures        prometheus.Counter
}

// New registers the depot metrics on reg. If reg is nil, the default registerer is
// used. Collectors that are already registered are reused.
func New(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	identifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "depot_gate_identifications_total",
		Help: "Gate identifications by gate and method",
	}, []string{"gate", "method"})
	allocations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "depot_allocations_total",
		Help: "Bay allocations by priority reason",
	}, []string{"reason"})
	verifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "depot_parking_verifications_total",
		Help: "Parking confirmations by outcome",
	}, []string{"outcome"})
	overrides := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "depot_parking_overrides_total",
		Help: "Allocations moved to override_parked",
	})
	closures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "depot_allocations_closed_total",
		Help: "Allocations completed on exit",
	})

	var err error
	if identifications, err = register(reg, identifications); err != nil {
		return nil, err
	}
	if allocations, err = register(reg, allocations); err != nil {
		return nil, err
	}
	if verifications, err = register(reg, verifications); err != nil {
		return nil, err
	}
	if overrides, err = register(reg, overrides); err != nil {
		return nil, err
	}
	if closures, err = register(reg, closures); err != nil {
		return nil, err
	}

	return &Recorder{
		identifications: identifications,
		allocations:     allocations,
		verifications:   verifications,
		overrides:       overrides,
		closures:        closures,
	}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Identification counts a completed gate identification.
func (r *Recorder) Identification(gate, method string) {
	if r == nil {
		return
	}
	r.identifications.WithLabelValues(gate, method).Inc()
}

// Allocation counts a created allocation.
func (r *Recorder) Allocation(reason string) {
	if r == nil {
		return
	}
	r.allocations.WithLabelValues(reason).Inc()
}

// Verification counts a parking confirmation outcome: parked, mismatch or override.
func (r *Recorder) Verification(outcome string) {
	if r == nil {
		return
	}
	r.verifications.WithLabelValues(outcome).Inc()
}

// Override counts an override incident.
func (r *Recorder) Override() {
	if r == nil {
		return
	}
	r.overrides.Inc()
}

// Closed counts allocations completed on exit.
func (r *Recorder) Closed(n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.closures.Add(float64(n))
}
