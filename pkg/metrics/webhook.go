package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics counts processor event dispositions.
type WebhookMetrics struct {
	processed *prometheus.CounterVec
	dropped   *prometheus.CounterVec
}

// NewWebhookMetrics registers webhook ingestion counters on the provided
// registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_processed",
		Help: "Processor events applied by resource type and action.",
	}, []string{"resource_type", "action"})
	dropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_dropped",
		Help: "Processor events dropped by reason.",
	}, []string{"reason"})
	reg.MustRegister(processed, dropped)
	return &WebhookMetrics{processed: processed, dropped: dropped}
}

// IncProcessed counts an applied event.
func (w *WebhookMetrics) IncProcessed(resourceType, action string) {
	if w == nil || w.processed == nil {
		return
	}
	w.processed.WithLabelValues(normalizeLabel(resourceType), normalizeLabel(action)).Inc()
}

// IncDropped counts a discarded event.
func (w *WebhookMetrics) IncDropped(reason string) {
	if w == nil || w.dropped == nil {
		return
	}
	w.dropped.WithLabelValues(normalizeLabel(reason)).Inc()
}
