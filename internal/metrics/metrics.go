// Package metrics wires relayq's core counters and gauges — put-count,
// get-count, queue-size, journal-bytes, and open-read-count — onto
// Prometheus instruments.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Set is one queue's collection of instruments.
type Set struct {
	putCount      prometheus.Counter
	getCount      prometheus.Counter
	queueSize     prometheus.Gauge
	journalBytes  prometheus.Gauge
	openReads     prometheus.Gauge
	putDurability prometheus.Histogram
	getWait       prometheus.Histogram
}

// NewSet registers a queue's instruments against the default Prometheus
// registry, labeled by queue name.
func NewSet(queue string) *Set {
	return NewSetFor(queue, prometheus.DefaultRegisterer)
}

// NewSetFor registers against an explicit registerer, so tests and
// multi-queue processes can avoid colliding on the global default registry.
func NewSetFor(queue string, reg prometheus.Registerer) *Set {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"queue": queue}

	return &Set{
		putCount: factory.NewCounter(prometheus.CounterOpts{
			Name: "relayq_put_total", Help: "Puts accepted.", ConstLabels: labels,
		}),
		getCount: factory.NewCounter(prometheus.CounterOpts{
			Name: "relayq_get_total", Help: "Gets delivered.", ConstLabels: labels,
		}),
		queueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relayq_queue_size", Help: "Items currently buffered across all readers.", ConstLabels: labels,
		}),
		journalBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relayq_journal_bytes", Help: "Total bytes of writer files retained on disk, frame headers included.", ConstLabels: labels,
		}),
		openReads: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relayq_open_reads", Help: "Items delivered but not yet committed or aborted, across all readers.", ConstLabels: labels,
		}),
		putDurability: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "relayq_put_durability_seconds",
			Help:        "Time from put() to its durability future completing.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		getWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "relayq_get_wait_seconds",
			Help:        "Time a get() spent blocked before returning.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
	}
}

func (s *Set) IncPut()                              { s.putCount.Inc() }
func (s *Set) IncGet()                              { s.getCount.Inc() }
func (s *Set) SetQueueSize(n int)                   { s.queueSize.Set(float64(n)) }
func (s *Set) SetJournalBytes(n int64)              { s.journalBytes.Set(float64(n)) }
func (s *Set) SetOpenReads(n int)                   { s.openReads.Set(float64(n)) }
func (s *Set) ObservePutDurability(d time.Duration) { s.putDurability.Observe(d.Seconds()) }
func (s *Set) ObserveGetWait(d time.Duration)       { s.getWait.Observe(d.Seconds()) }
