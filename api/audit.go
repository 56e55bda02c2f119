package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies a relay action worth recording.
type AuditEvent string

const (
	AuditSubscriptionVerified AuditEvent = "subscription_verified"
	AuditSubscriptionRejected AuditEvent = "subscription_rejected"
	AuditSignatureRejected    AuditEvent = "signature_rejected"
	AuditMessageIgnored       AuditEvent = "message_ignored"
	AuditMessageReceived      AuditEvent = "message_received"
	AuditReplySent            AuditEvent = "reply_sent"
	AuditReadReceiptFailed    AuditEvent = "read_receipt_failed"
	AuditTranscriptFailed     AuditEvent = "transcript_failed"
	AuditNotificationSent     AuditEvent = "notification_sent"
	AuditNotificationFailed   AuditEvent = "notification_failed"
)

// auditLogger wraps slog.Logger for structured relay audit logging.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

// log writes a structured audit entry. Callers pass session IDs and
// message IDs, never message bodies.
func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	baseAttrs = append(baseAttrs, attrs...)

	level := slog.LevelInfo
	switch event {
	case AuditSignatureRejected, AuditSubscriptionRejected,
		AuditReadReceiptFailed, AuditTranscriptFailed, AuditNotificationFailed:
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(r.Context(), level, "audit", baseAttrs...)
	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
}

// logFailure records a failed step with its reason.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, err error, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("error", err.Error()),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}
