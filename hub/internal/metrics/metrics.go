// Package metrics collects and exposes Prometheus metrics for the hub.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics surface used by the router and API layers.
type Recorder interface {
	ConnectionOpened()
	ConnectionClosed()
	SetRooms(n int)
	RecordAdmission(result string)
	RecordMessage(kind string)
	RecordGeneration(d time.Duration, err error, reason string)
	RecordDroppedDelivery()
	RecordDocumentWrite(ok bool)
}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	connections     prometheus.Gauge
	rooms           prometheus.Gauge
	admissions      *prometheus.CounterVec
	messages        *prometheus.CounterVec
	genDuration     prometheus.Histogram
	genFailures     *prometheus.CounterVec
	droppedDelivery prometheus.Counter
	documentWrites  *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "syncroom_connections",
			Help: "Open client connections.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "syncroom_rooms",
			Help: "Project rooms with at least one member.",
		}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "syncroom_admissions_total",
			Help: "Connection attempts by admission result.",
		}, []string{"result"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "syncroom_messages_total",
			Help: "Inbound room messages by kind.",
		}, []string{"kind"}),
		genDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "syncroom_generation_duration_seconds",
			Help:    "Latency of AI generation calls.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		genFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "syncroom_generation_failures_total",
			Help: "Failed AI generation calls by reason.",
		}, []string{"reason"}),
		droppedDelivery: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "syncroom_deliveries_dropped_total",
			Help: "Messages dropped because a peer's outbound queue was full.",
		}),
		documentWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "syncroom_document_writes_total",
			Help: "File-tree writes by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.connections,
		c.rooms,
		c.admissions,
		c.messages,
		c.genDuration,
		c.genFailures,
		c.droppedDelivery,
		c.documentWrites,
	)
	return c
}

func (c *Collector) ConnectionOpened() { c.connections.Inc() }
func (c *Collector) ConnectionClosed() { c.connections.Dec() }
func (c *Collector) SetRooms(n int)    { c.rooms.Set(float64(n)) }

// RecordAdmission counts an admission attempt; result is "admitted" or the
// rejection code.
func (c *Collector) RecordAdmission(result string) {
	c.admissions.WithLabelValues(result).Inc()
}

// RecordMessage counts an inbound message; kind is "plain", "ai" or "dropped".
func (c *Collector) RecordMessage(kind string) {
	c.messages.WithLabelValues(kind).Inc()
}

// RecordGeneration observes a generation call. reason labels failures.
func (c *Collector) RecordGeneration(d time.Duration, err error, reason string) {
	c.genDuration.Observe(d.Seconds())
	if err != nil {
		c.genFailures.WithLabelValues(reason).Inc()
	}
}

func (c *Collector) RecordDroppedDelivery() { c.droppedDelivery.Inc() }

func (c *Collector) RecordDocumentWrite(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	c.documentWrites.WithLabelValues(result).Inc()
}

// Handler returns the HTTP handler for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything. Used where no registry is wired.
type Nop struct{}

func (Nop) ConnectionOpened()                             {}
func (Nop) ConnectionClosed()                             {}
func (Nop) SetRooms(int)                                  {}
func (Nop) RecordAdmission(string)                        {}
func (Nop) RecordMessage(string)                          {}
func (Nop) RecordGeneration(time.Duration, error, string) {}
func (Nop) RecordDroppedDelivery()                        {}
func (Nop) RecordDocumentWrite(bool)                      {}
