package prometheus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	CallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kilorank_callbacks_total",
			Help: "Judge callbacks handled, by outcome",
		},
		[]string{"outcome"},
	)

	VerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kilorank_verdicts_total",
			Help: "Final submission verdicts, by status",
		},
		[]string{"status"},
	)

	MonitorOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kilorank_monitor_outcomes_total",
			Help: "Stalled submission sweep results, by outcome",
		},
		[]string{"outcome"},
	)

	FinalizationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kilorank_finalizations_total",
			Help: "Contest finalization runs, by result",
		},
		[]string{"result"},
	)

	JudgeRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kilorank_judge_request_duration_seconds",
			Help:    "Duration of requests to the judge, including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op", "result"},
	)
)

var registerOnce sync.Once

func register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(CallbacksTotal, VerdictsTotal, MonitorOutcomesTotal, FinalizationsTotal, JudgeRequestDuration)
	})
}
