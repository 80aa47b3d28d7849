// Package metrics exposes business counters for activations, verifications,
// key generation and billing webhooks.
package metrics

import (
	"strings"

	"activation-api/internal/apperr"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "activation_api"

// ResultSuccess is the result label value of a successful operation
const ResultSuccess = "success"

// Metrics holds the service counters. A nil *Metrics records nothing.
type Metrics struct {
	activations   *prometheus.CounterVec
	verifications *prometheus.CounterVec
	keysGenerated prometheus.Counter
	webhookEvents *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activations_total",
			Help:      "Total number of activation attempts by result.",
		}, []string{"result"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Total number of verification attempts by result.",
		}, []string{"result"}),
		keysGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "product_keys_generated_total",
			Help:      "Total number of product keys generated.",
		}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Total number of billing webhook events by type and outcome.",
		}, []string{"type", "outcome"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.activations, m.verifications, m.keysGenerated, m.webhookEvents} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}

	return m, nil
}

// Result maps an operation error to a result label value
func Result(err error) string {
	if err == nil {
		return ResultSuccess
	}
	return strings.ToLower(apperr.KindOf(err).Code())
}

// RecordActivation counts one activation attempt
func (m *Metrics) RecordActivation(err error) {
	if m == nil {
		return
	}
	m.activations.WithLabelValues(Result(err)).Inc()
}

// RecordVerification counts one verification attempt
func (m *Metrics) RecordVerification(err error) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(Result(err)).Inc()
}

// AddKeysGenerated counts generated keys
func (m *Metrics) AddKeysGenerated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.keysGenerated.Add(float64(n))
}

// RecordWebhookEvent counts one billing event
func (m *Metrics) RecordWebhookEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}
