package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	messagesComposed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secure_messages_composed_total",
			Help: "Secure messages created, by security level.",
		},
		[]string{"security_level"},
	)

	messageReads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secure_message_reads_total",
			Help: "Read attempts by outcome (ok/expired/read_limit/destroyed/decrypt_failed/error).",
		},
		[]string{"outcome"},
	)

	messagesDestroyed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secure_messages_destroyed_total",
			Help: "Self-destructed messages, by reason.",
		},
		[]string{"reason"},
	)

	fieldsStripped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sanitizer_fields_stripped_total",
			Help: "Metadata fields removed by the sanitizer, by category.",
		},
		[]string{"category"},
	)

	trustScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "identity_trust_score",
			Help:    "Distribution of identity verification trust scores.",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)
)

// MustRegister registers collectors with the default registry (idempotent).
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(
			messagesComposed, messageReads, messagesDestroyed,
			fieldsStripped, trustScore,
		)
	})
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func IncComposed(level string) {
	messagesComposed.WithLabelValues(norm(level)).Inc()
}

func IncRead(outcome string) {
	messageReads.WithLabelValues(norm(outcome)).Inc()
}

func IncDestroyed(reason string) {
	messagesDestroyed.WithLabelValues(norm(reason)).Inc()
}

func AddStripped(category string, n int) {
	if n <= 0 {
		return
	}
	fieldsStripped.WithLabelValues(norm(category)).Add(float64(n))
}

func ObserveTrustScore(score int) {
	trustScore.Observe(float64(score))
}
