package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "smarthome"

var (
	SimulationTicks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "simulation",
		Name:      "ticks_total",
		Help:      "Number of simulation ticks started.",
	})

	SimulationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "simulation",
		Name:      "failed_ticks_total",
		Help:      "Number of simulation ticks aborted before broadcasting.",
	})

	ReadingsPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "readings",
		Name:      "persisted_total",
		Help:      "Number of sensor readings written to the store, by producer.",
	}, []string{"producer"})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "broadcast",
		Name:      "deliveries_total",
		Help:      "Number of event deliveries handed to connections, by event name.",
	}, []string{"event"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "broadcast",
		Name:      "dropped_total",
		Help:      "Number of event deliveries dropped because a connection was unavailable.",
	}, []string{"event"})

	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "hub",
		Name:      "connections",
		Help:      "Number of live hub connections.",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
