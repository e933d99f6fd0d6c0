// Package metrics implements the daemon's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HATransitionsTotal counts Host Association state transitions,
	// labeled by the state reached.
	HATransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hipd_ha_transitions_total",
			Help: "Total number of Host Association state transitions",
		},
		[]string{"state"},
	)

	// HAActive tracks the current number of Host Associations per state.
	HAActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hipd_ha_active",
			Help: "Current number of Host Associations by state",
		},
		[]string{"state"},
	)

	// PuzzlesSolvedTotal counts puzzles this node solved as an
	// initiator, by outcome.
	PuzzlesSolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hipd_puzzles_solved_total",
			Help: "Total number of puzzles solved as an initiator",
		},
		[]string{"outcome"},
	)

	// PuzzleSolveSeconds measures how long puzzle solving took as an
	// initiator.
	PuzzleSolveSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hipd_puzzle_solve_seconds",
			Help:    "Time spent solving a responder's puzzle",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		},
	)

	// PuzzleVerifyTotal counts puzzle solution verifications performed
	// as a responder, by outcome.
	PuzzleVerifyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hipd_puzzle_verify_total",
			Help: "Total number of puzzle solution verifications as a responder",
		},
		[]string{"outcome"},
	)

	// RetransmitsTotal counts control-plane packet retransmissions, by
	// packet type.
	RetransmitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hipd_retransmits_total",
			Help: "Total number of HIP control packet retransmissions",
		},
		[]string{"packet"},
	)

	// AssociationsFailedTotal counts Host Associations that were
	// abandoned after exhausting their retransmission budget.
	AssociationsFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hipd_associations_failed_total",
			Help: "Total number of Host Associations abandoned after retransmission exhaustion",
		},
	)

	// SAInstallsTotal counts ESP Security Association installs performed
	// while processing I2/R2, by direction and outcome.
	SAInstallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hipd_sa_installs_total",
			Help: "Total number of ESP Security Association installs",
		},
		[]string{"direction", "outcome"},
	)

	// KeyDerivationsTotal counts keymat derivations completed during the
	// base exchange, by outcome.
	KeyDerivationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hipd_key_derivations_total",
			Help: "Total number of KEYMAT derivations completed",
		},
		[]string{"outcome"},
	)
)

// Outcome label values shared across the counters above.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
)
