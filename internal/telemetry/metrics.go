package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine counters, exposed on /metrics. Conflict retries are the interesting
// one operationally: a rising rate means sessions are hot enough that
// optimistic transactions keep losing races.
var (
	TxConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_store_tx_conflicts_total",
		Help: "Atomic updates that lost an optimistic transaction race and were retried.",
	})

	AdmissionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_admissions_rejected_total",
		Help: "Player admissions rejected because the session was full.",
	})

	MatchesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_matches_started_total",
		Help: "Matches transitioned from idle to active.",
	})

	AnswersRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_answers_recorded_total",
		Help: "Answer records accepted (duplicates excluded).",
	})

	WinnersDeclared = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_winners_declared_total",
		Help: "Winner declarations committed, forfeits included.",
	})
)
