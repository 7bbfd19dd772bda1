package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Dispatcher metrics

	DispatcherTicksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pybs",
		Name:      "dispatcher_ticks_total",
		Help:      "Total dispatcher claim-until-empty cycles run.",
	})

	JobsClaimedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pybs",
		Name:      "jobs_claimed_total",
		Help:      "Total jobs claimed by this node's dispatcher.",
	})

	ClaimErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pybs",
		Name:      "claim_errors_total",
		Help:      "Total errors encountered while claiming a job.",
	})

	// Capacity metrics

	CPUsUsed = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pybs",
		Name:      "cpus_used",
		Help:      "CPUs currently reserved by RUNNING jobs on this node.",
	})

	CPUsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pybs",
		Name:      "cpus_total",
		Help:      "Configured CPU capacity of this node.",
	})

	// Supervisor metrics

	JobExecutionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pybs",
		Name:      "job_execution_duration_seconds",
		Help:      "Wall-clock duration of a job's subprocess, from spawn to exit.",
		Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 300, 900, 3600},
	}, []string{"outcome"})

	JobsFinishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pybs",
		Name:      "jobs_finished_total",
		Help:      "Total jobs finished, by outcome.",
	}, []string{"outcome"})

	// RPC metrics

	RPCRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pybs",
		Name:      "rpc_requests_total",
		Help:      "Total RPC requests handled, by method and outcome.",
	}, []string{"method", "outcome"})

	RPCRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pybs",
		Name:      "rpc_request_duration_seconds",
		Help:      "RPC handler latency.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"method"})
)

func Register() {
	prometheus.MustRegister(
		DispatcherTicksTotal,
		JobsClaimedTotal,
		ClaimErrorsTotal,
		CPUsUsed,
		CPUsTotal,
		JobExecutionDuration,
		JobsFinishedTotal,
		RPCRequestsTotal,
		RPCRequestDuration,
	)
}

func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
