// Package metrics holds the Prometheus collectors shared by the API and worker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values.
const (
	ResultHit     = "hit"
	ResultMiss    = "miss"
	ResultError   = "error"
	ResultSuccess = "success"
	ResultAborted = "aborted"
	ResultSkipped = "skipped"
)

// Floor write modes.
const (
	WriteAppend  = "append"
	WriteCreate  = "create"
	WriteReplace = "replace"
)

var (
	HistoryScans = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tavern_phone_history_scans_total",
			Help: "History scans for a module block, by module kind and result.",
		},
		[]string{"kind", "result"},
	)

	AIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tavern_phone_ai_requests_total",
			Help: "AI requests, by view and result.",
		},
		[]string{"view", "result"},
	)

	Commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tavern_phone_commands_total",
			Help: "Embedded commands processed by the worker, by command and result.",
		},
		[]string{"command", "result"},
	)

	FloorWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tavern_phone_floor_writes_total",
			Help: "Floor writes made when persisting blocks, by mode.",
		},
		[]string{"mode"},
	)
)

func init() {
	prometheus.MustRegister(HistoryScans)
	prometheus.MustRegister(AIRequests)
	prometheus.MustRegister(Commands)
	prometheus.MustRegister(FloorWrites)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
