// Package api exposes the relay's HTTP surface: the messaging webhook
// (subscription handshake and inbound message pipeline) and the
// notification endpoints called by the conversational agent.
package api

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/chatrelay/notify"
	"github.com/jmcleod/chatrelay/session"
	"github.com/jmcleod/chatrelay/signature"
	"github.com/jmcleod/chatrelay/whatsapp"
)

// Agent produces the reply for one user utterance within a session.
type Agent interface {
	DetectIntent(ctx context.Context, text, sessionID string) (string, error)
}

// Transport delivers messages to users on the messaging platform.
type Transport interface {
	SendText(ctx context.Context, to, body, replyTo string) error
	SendTemplate(ctx context.Context, m whatsapp.TemplateMessage) error
	MarkRead(ctx context.Context, messageID string) error
}

// Notifier posts transcripts to the operators' chats.
type Notifier interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

// API holds the dependencies needed by the HTTP handlers.
type API struct {
	sessions  session.Store
	agent     Agent
	transport Transport

	notifier    Notifier
	notifyChats []string

	verifier    *signature.Verifier
	verifyToken string
	catalog     *notify.Catalog

	limiter        *signatureLimiter
	trustedProxies []netip.Prefix

	logger  *slog.Logger
	audit   *auditLogger
	alertFn AlertFunc
}

//go:embed openapi.yaml
var openapiSpec []byte

// maxWebhookBody caps the inbound webhook payload.
const maxWebhookBody = 1 << 20

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for handler and audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithVerifier sets the verifier for inbound webhook signatures. Without
// one every POST /webhook is rejected.
func WithVerifier(v *signature.Verifier) Option {
	return func(a *API) {
		a.verifier = v
	}
}

// WithVerifyToken sets the token expected in the subscription handshake.
// An empty token rejects every handshake.
func WithVerifyToken(token string) Option {
	return func(a *API) {
		a.verifyToken = token
	}
}

// WithNotifier enables transcripts of each exchange to the given chats.
// Empty chat IDs are skipped.
func WithNotifier(n Notifier, chatIDs ...string) Option {
	return func(a *API) {
		a.notifier = n
		a.notifyChats = a.notifyChats[:0]
		for _, id := range chatIDs {
			if id != "" {
				a.notifyChats = append(a.notifyChats, id)
			}
		}
	}
}

// WithCatalog replaces the default notification template catalog.
func WithCatalog(c *notify.Catalog) Option {
	return func(a *API) {
		a.catalog = c
	}
}

// WithAlertFunc registers a callback for signature-failure spikes.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.alertFn = fn
	}
}

// WithTrustedProxies sets the CIDR ranges whose forwarding headers are
// honored when keying the signature limiter. Bare IPs are accepted as
// single-host prefixes.
func WithTrustedProxies(cidrs []string) (Option, error) {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, raw := range cidrs {
		raw = strings.TrimSpace(raw)
		if !strings.Contains(raw, "/") {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
			}
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
		}
		prefixes = append(prefixes, prefix.Masked())
	}
	return func(a *API) {
		a.trustedProxies = prefixes
	}, nil
}

// New creates a new API instance.
func New(sessions session.Store, agent Agent, transport Transport, opts ...Option) *API {
	a := &API{
		sessions:  sessions,
		agent:     agent,
		transport: transport,
		limiter:   newSignatureLimiter(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	if a.catalog == nil {
		// The built-in descriptors are always valid.
		a.catalog, _ = notify.NewCatalog(notify.Defaults(notify.DefaultLanguage))
	}
	a.audit = newAuditLogger(a.logger)
	a.audit.metrics = newMetricsCollector(a.alertFn)
	return a
}

// Router returns a chi.Router with all relay routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/openapi.yaml",
		Path:    "docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/openapi.yaml",
		Path:    "redoc",
	}, nil))

	r.Get("/health", a.Health)

	r.Get("/webhook", a.VerifySubscription)
	r.Post("/webhook", a.ReceiveMessage)

	r.Post("/notify/{event}", a.Notify)

	return r
}

// Health reports liveness.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SweepLimiter drops expired signature-limiter records every interval until
// ctx is done.
func (a *API) SweepLimiter(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.limiter.sweep()
		}
	}
}
