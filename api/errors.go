package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jmcleod/chatrelay/dialogflow"
	"github.com/jmcleod/chatrelay/session"
	"github.com/jmcleod/chatrelay/whatsapp"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

// mapError reports a pipeline failure as 500. The body names the failure
// class only; the wrapped detail goes to the log.
func mapError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var msg string
	switch {
	case errors.Is(err, session.ErrStorageUnavailable):
		msg = session.ErrStorageUnavailable.Error()
	case errors.Is(err, session.ErrCorruptSnapshot):
		msg = session.ErrCorruptSnapshot.Error()
	case errors.Is(err, dialogflow.ErrBackend):
		msg = dialogflow.ErrBackend.Error()
	case errors.Is(err, whatsapp.ErrTransport):
		msg = whatsapp.ErrTransport.Error()
	default:
		msg = "internal error"
	}
	logger.Error("webhook pipeline failed", "class", msg, "error", err)
	writeError(w, http.StatusInternalServerError, msg)
}
