package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"filedesk/api/internal/merge"
	"filedesk/api/internal/record"
	"filedesk/api/internal/store"
)

var (
	proposalsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "filedesk",
		Subsystem: "workflow",
		Name:      "proposals_submitted_total",
		Help:      "Total number of proposals accepted, broken down by target kind.",
	}, []string{"kind"})

	submissionsRefused = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "filedesk",
		Subsystem: "workflow",
		Name:      "submissions_refused_total",
		Help:      "Total number of refused submissions broken down by error code.",
	}, []string{"code"})

	proposalTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "filedesk",
		Subsystem: "workflow",
		Name:      "transitions_total",
		Help:      "Total number of proposal status transitions broken down by resulting status.",
	}, []string{"status"})

	mergeConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "filedesk",
		Subsystem: "merge",
		Name:      "conflicts_total",
		Help:      "Total number of merge conflicts reported at approval broken down by kind.",
	}, []string{"kind"})

	writeRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "filedesk",
		Subsystem: "workflow",
		Name:      "write_retries_total",
		Help:      "Total number of record version conflicts retried, broken down by operation.",
	}, []string{"operation"})
)

func recordSubmitted(kind record.Kind) {
	proposalsSubmitted.WithLabelValues(string(kind)).Inc()
}

func recordRefused(code Code) {
	if code == "" {
		code = "other"
	}
	submissionsRefused.WithLabelValues(string(code)).Inc()
}

func recordTransition(status store.ProposalStatus) {
	proposalTransitions.WithLabelValues(string(status)).Inc()
}

func recordConflicts(report merge.Report) {
	for _, c := range report.Conflicts {
		mergeConflicts.WithLabelValues(string(c.Kind)).Inc()
	}
}

func recordRetry(operation string) {
	writeRetries.WithLabelValues(operation).Inc()
}
