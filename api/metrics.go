package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertSignatureFailureSpike AlertType = "signature_failure_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// metricsCollector tracks a sliding window of rejected webhook signatures.
// A burst usually means the app secret was rotated on one side only, or
// someone is probing the endpoint.
type metricsCollector struct {
	mu sync.Mutex

	failures  []time.Time
	window    time.Duration
	threshold int

	now     func() time.Time
	alertFn AlertFunc
}

const (
	defaultSignatureFailureWindow    = 1 * time.Minute
	defaultSignatureFailureThreshold = 20
)

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		window:    defaultSignatureFailureWindow,
		threshold: defaultSignatureFailureThreshold,
		now:       time.Now,
		alertFn:   alertFn,
	}
}

// recordEvent inspects an audit event and updates the relevant counters.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	if event == AuditSignatureRejected {
		m.recordSignatureFailure()
	}
}

func (m *metricsCollector) recordSignatureFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.failures = append(m.failures, now)
	m.failures = trimWindow(m.failures, now, m.window)

	if len(m.failures) >= m.threshold {
		m.alertFn(AlertEvent{
			Type:      AlertSignatureFailureSpike,
			Message:   "webhook signature failure rate exceeds threshold",
			Count:     len(m.failures),
			Threshold: m.threshold,
			Timestamp: now,
		})
		// Reset to avoid repeated alerts within the same spike.
		m.failures = m.failures[:0]
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
