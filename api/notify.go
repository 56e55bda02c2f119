package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/chatrelay/whatsapp"
)

// sessionParam is the query parameter carrying the agent's session ID.
const sessionParam = "X-SESSION"

// Notify sends the templated message for {event} to the user owning the
// session in ?X-SESSION. The caller always gets the event's ack text; every
// failure past the route lookup is logged and swallowed.
func (a *API) Notify(w http.ResponseWriter, r *http.Request) {
	event := chi.URLParam(r, "event")
	tmpl, ok := a.catalog.Lookup(event)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown notification event")
		return
	}
	defer writeJSON(w, http.StatusOK, FulfillmentResponse{FulfillmentText: tmpl.Ack})

	sessionID := r.URL.Query().Get(sessionParam)
	attrs := []slog.Attr{
		slog.String("notify_event", tmpl.Event),
		slog.String("template", tmpl.Name),
		slog.String("session_id", sessionID),
	}

	values, err := decodeFields(r.Body)
	if err != nil {
		a.audit.logFailure(AuditNotificationFailed, r, err, attrs...)
		return
	}

	user, found, err := a.sessions.ReverseResolve(r.Context(), sessionID)
	if err != nil {
		a.audit.logFailure(AuditNotificationFailed, r, err, attrs...)
		return
	}
	if !found {
		// Sent anyway with no recipient; the transport's rejection is logged.
		a.logger.Warn("notification for unknown session", "session_id", sessionID, "notify_event", tmpl.Event)
	}

	err = a.transport.SendTemplate(r.Context(), whatsapp.TemplateMessage{
		To:         user,
		Name:       tmpl.Name,
		Language:   tmpl.Language,
		Parameters: tmpl.Parameters(values, user),
	})
	if err != nil {
		a.audit.logFailure(AuditNotificationFailed, r, err, attrs...)
		return
	}
	a.audit.log(AuditNotificationSent, r, attrs...)
}

// decodeFields reads a flat JSON object and renders every value as text.
// An empty body yields no fields.
func decodeFields(body io.Reader) (map[string]string, error) {
	raw := make(map[string]any)
	dec := json.NewDecoder(io.LimitReader(body, maxWebhookBody))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("decoding notification body: %w", err)
	}
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v := v.(type) {
		case nil:
			values[k] = ""
		case string:
			values[k] = v
		case json.Number:
			values[k] = v.String()
		case bool:
			values[k] = fmt.Sprint(v)
		default:
			encoded, _ := json.Marshal(v)
			values[k] = string(encoded)
		}
	}
	return values, nil
}
