// Package stats is Pierre's counter/histogram registry: every metric is
// pre-registered at construction and updated lock-free from the hot
// paths.
package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names. RTSP_AUDIO_CIPHERED counts successfully deciphered
// audio packets; the REMOTE_DMX_* trio counts send-queue outcomes
// (sent ok, replaced under backpressure, send/connect failure).
const (
	RTSPAudioCiphered = "RTSP_AUDIO_CIPHERED"
	SyncWait          = "SYNC_WAIT"
	RemoteElapsed     = "REMOTE_ELAPSED"
	RemoteRoundtrip   = "REMOTE_ROUNDTRIP"
	RemoteDMXQOK      = "REMOTE_DMX_QOK"
	RemoteDMXQRF      = "REMOTE_DMX_QRF"
	RemoteDMXQSF      = "REMOTE_DMX_QSF"
	RackCollision     = "RACK_COLLISION"
)

// Registry holds the counters and histograms Pierre exposes. It is
// constructed once in main and passed to every component, never global.
type Registry struct {
	Counters   map[string]prometheus.Counter
	Histograms map[string]prometheus.Histogram
	reg        *prometheus.Registry
}

// New builds a Registry with every named metric pre-registered so
// callers never race on first-use registration.
func New() *Registry {
	r := &Registry{
		Counters:   make(map[string]prometheus.Counter),
		Histograms: make(map[string]prometheus.Histogram),
		reg:        prometheus.NewRegistry(),
	}

	for _, name := range []string{
		RTSPAudioCiphered, RemoteDMXQOK, RemoteDMXQRF, RemoteDMXQSF, RackCollision,
	} {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricName(name),
			Help: name,
		})
		r.reg.MustRegister(c)
		r.Counters[name] = c
	}

	for _, name := range []string{SyncWait, RemoteElapsed, RemoteRoundtrip} {
		h := prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricName(name),
			Help:    name,
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		})
		r.reg.MustRegister(h)
		r.Histograms[name] = h
	}

	return r
}

func metricName(name string) string {
	return "pierre_" + toLower(name)
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Inc increments a named counter; a miss is a no-op (never fatal to the
// caller's pipeline).
func (r *Registry) Inc(name string) {
	if c, ok := r.Counters[name]; ok {
		c.Inc()
	}
}

// Observe records a duration-shaped sample on a named histogram.
func (r *Registry) Observe(name string, v float64) {
	if h, ok := r.Histograms[name]; ok {
		h.Observe(v)
	}
}

// Gatherer exposes the underlying registry for an HTTP /metrics handler.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
