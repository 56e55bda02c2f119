package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jmcleod/chatrelay/signature"
)

// eventReceived is the body acknowledging every accepted delivery.
const eventReceived = "EVENT_RECEIVED"

// VerifySubscription answers the platform's subscription handshake by
// echoing hub.challenge when hub.verify_token matches.
func (a *API) VerifySubscription(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")

	if mode != "subscribe" || a.verifyToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(a.verifyToken)) != 1 {
		a.audit.log(AuditSubscriptionRejected, r, slog.String("mode", mode))
		writeText(w, http.StatusForbidden, "Forbidden")
		return
	}
	a.audit.log(AuditSubscriptionVerified, r)
	writeText(w, http.StatusOK, q.Get("hub.challenge"))
}

// ReceiveMessage handles one webhook delivery. The signature is checked
// before anything else and a locked-out source only changes the rejection
// to 429; a text message is then answered by the agent and
// the reply sent back to the sender. Read receipt and transcripts follow
// the reply and never fail the request.
func (a *API) ReceiveMessage(w http.ResponseWriter, r *http.Request) {
	ip := a.extractClientIP(r)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	// A valid signature is always processed; the limiter only changes how
	// rejections are answered.
	if !a.verifier.Verify(body, r.Header.Get(signature.Header)) {
		a.audit.log(AuditSignatureRejected, r)
		if blocked, retryAfter := a.limiter.check(ip); blocked {
			writeRateLimited(w, retryAfter)
			return
		}
		a.limiter.recordFailure(ip)
		writeText(w, http.StatusForbidden, "Forbidden")
		return
	}
	a.limiter.recordSuccess(ip)

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		// Acknowledge so the platform does not keep resending it.
		a.audit.logFailure(AuditMessageIgnored, r, fmt.Errorf("decoding payload: %w", err))
		writeText(w, http.StatusOK, eventReceived)
		return
	}

	msg, meta, ok := payload.firstMessage()
	if !ok {
		writeText(w, http.StatusOK, eventReceived)
		return
	}
	if msg.Type != "text" || msg.Text == nil {
		a.audit.log(AuditMessageIgnored, r,
			slog.String("message_id", msg.ID),
			slog.String("type", msg.Type),
		)
		writeText(w, http.StatusOK, eventReceived)
		return
	}

	exchange := uuid.NewString()
	ctx := r.Context()

	sessionID, err := a.sessions.ResolveOrCreate(ctx, msg.From)
	if err != nil {
		mapError(w, a.logger.With("exchange_id", exchange), err)
		return
	}
	a.audit.log(AuditMessageReceived, r,
		slog.String("exchange_id", exchange),
		slog.String("session_id", sessionID),
		slog.String("message_id", msg.ID),
		slog.String("phone_number_id", meta.PhoneNumberID),
	)

	reply, err := a.agent.DetectIntent(ctx, msg.Text.Body, sessionID)
	if err != nil {
		mapError(w, a.logger.With("exchange_id", exchange), err)
		return
	}
	reply = sanitizeReply(reply)

	if err := a.transport.SendText(ctx, msg.From, reply, msg.ID); err != nil {
		mapError(w, a.logger.With("exchange_id", exchange), err)
		return
	}
	a.audit.log(AuditReplySent, r,
		slog.String("exchange_id", exchange),
		slog.String("session_id", sessionID),
	)

	a.followUp(ctx, r, exchange, msg, reply)
	writeText(w, http.StatusOK, eventReceived)
}

// followUp marks the message read and posts the transcript to every
// configured chat concurrently, waiting for all of them. Failures are
// logged only.
func (a *API) followUp(ctx context.Context, r *http.Request, exchange string, msg *InboundMessage, reply string) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.transport.MarkRead(ctx, msg.ID); err != nil {
			a.audit.logFailure(AuditReadReceiptFailed, r, err,
				slog.String("exchange_id", exchange),
				slog.String("message_id", msg.ID),
			)
		}
	}()

	if a.notifier != nil {
		transcript := formatTranscript(msg.From, msg.Text.Body, reply)
		for _, chatID := range a.notifyChats {
			wg.Add(1)
			go func(chatID string) {
				defer wg.Done()
				if err := a.notifier.SendMessage(ctx, chatID, transcript); err != nil {
					a.audit.logFailure(AuditTranscriptFailed, r, err,
						slog.String("exchange_id", exchange),
						slog.String("chat_id", chatID),
					)
				}
			}(chatID)
		}
	}

	wg.Wait()
}

func formatTranscript(user, text, reply string) string {
	return fmt.Sprintf("From: %s\nMessage: %s\nReply: %s", user, text, reply)
}

// sanitizeReply removes every backslash, then one leading and one trailing
// double quote if present.
func sanitizeReply(s string) string {
	s = strings.ReplaceAll(s, `\`, "")
	s = strings.TrimPrefix(s, `"`)
	s = strings.TrimSuffix(s, `"`)
	return s
}
