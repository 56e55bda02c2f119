package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/chatrelay/api"
	"github.com/jmcleod/chatrelay/dialogflow"
	"github.com/jmcleod/chatrelay/notify"
	"github.com/jmcleod/chatrelay/signature"
	"github.com/jmcleod/chatrelay/telegram"
	"github.com/jmcleod/chatrelay/whatsapp"
)

// serverConfig holds the flags of the server command.
type serverConfig struct {
	port    int
	tlsCert string
	tlsKey  string

	verifyToken    string
	appSecret      string
	trustedProxies []string

	graphBaseURL    string
	graphAPIVersion string
	phoneNumberID   string
	accessToken     string

	dfProject     string
	dfLocation    string
	dfAgent       string
	dfLanguage    string
	dfCredentials string
	dfEndpoint    string

	telegramToken   string
	primaryChat     string
	secondaryChat   string
	templatesFile   string
	templateLang    string
	limiterInterval time.Duration
}

var srv serverConfig

// validate reports every missing required setting at once.
func (c serverConfig) validate() error {
	var errs []error
	required := []struct{ flag, value string }{
		{"verify-token", c.verifyToken},
		{"app-secret", c.appSecret},
		{"phone-number-id", c.phoneNumberID},
		{"access-token", c.accessToken},
		{"dialogflow-project", c.dfProject},
		{"dialogflow-agent", c.dfAgent},
	}
	for _, r := range required {
		if r.value == "" {
			errs = append(errs, fmt.Errorf("--%s (or %s) is required", r.flag, envName(r.flag)))
		}
	}
	if (c.tlsCert == "") != (c.tlsKey == "") {
		errs = append(errs, errors.New("--tls-cert and --tls-key must be set together"))
	}
	return errors.Join(errs...)
}

// catalog builds the notification templates, applying --templates over
// the defaults.
func (c serverConfig) catalog() (*notify.Catalog, error) {
	templates := notify.Defaults(c.templateLang)
	if c.templatesFile != "" {
		var err error
		if templates, err = notify.LoadFile(c.templatesFile, templates, c.templateLang); err != nil {
			return nil, err
		}
	}
	return notify.NewCatalog(templates)
}

func (c serverConfig) agent() (*dialogflow.Client, error) {
	var creds []byte
	if c.dfCredentials != "" {
		var err error
		if creds, err = os.ReadFile(c.dfCredentials); err != nil {
			return nil, fmt.Errorf("failed to read dialogflow credentials: %w", err)
		}
	}
	return dialogflow.NewClientWithCredentials(context.Background(), dialogflow.Options{
		Endpoint:     c.dfEndpoint,
		ProjectID:    c.dfProject,
		Location:     c.dfLocation,
		AgentID:      c.dfAgent,
		LanguageCode: c.dfLanguage,
	}, creds)
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the webhook relay server",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(logLevel)
		if err != nil {
			return err
		}
		if err := srv.validate(); err != nil {
			return err
		}
		catalog, err := srv.catalog()
		if err != nil {
			return fmt.Errorf("failed to load notification templates: %w", err)
		}

		sessions, closeStore, err := store.openSessions(cmd.Context(), logger)
		if err != nil {
			return err
		}
		defer closeStore()

		agent, err := srv.agent()
		if err != nil {
			return err
		}
		transport := whatsapp.NewClient(whatsapp.Options{
			BaseURL:       srv.graphBaseURL,
			APIVersion:    srv.graphAPIVersion,
			PhoneNumberID: srv.phoneNumberID,
			AccessToken:   srv.accessToken,
		})

		verifier := signature.NewVerifier([]byte(srv.appSecret))
		defer memguard.Purge()

		opts := []api.Option{
			api.WithLogger(logger),
			api.WithVerifier(verifier),
			api.WithVerifyToken(srv.verifyToken),
			api.WithCatalog(catalog),
			api.WithAlertFunc(func(e api.AlertEvent) {
				logger.Warn("security alert",
					"type", e.Type,
					"count", e.Count,
					"threshold", e.Threshold,
					"message", e.Message,
				)
			}),
		}
		if srv.telegramToken != "" {
			opts = append(opts, api.WithNotifier(
				telegram.NewClient(telegram.Options{Token: srv.telegramToken}),
				srv.primaryChat, srv.secondaryChat,
			))
		} else {
			logger.Warn("no telegram token configured; transcripts disabled")
		}
		if len(srv.trustedProxies) > 0 {
			opt, err := api.WithTrustedProxies(srv.trustedProxies)
			if err != nil {
				return err
			}
			opts = append(opts, opt)
		}
		a := api.New(sessions, agent, transport, opts...)

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Use(api.SecurityHeaders)
		r.Mount("/", a.Router())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", srv.port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			// Covers agent, reply and transcript calls in one request.
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		if srv.tlsCert != "" {
			cert, err := tls.LoadX509KeyPair(srv.tlsCert, srv.tlsKey)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			server.TLSConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		}

		sweepCtx, stopSweep := context.WithCancel(context.Background())
		defer stopSweep()
		go a.SweepLimiter(sweepCtx, srv.limiterInterval)

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			var err error
			if server.TLSConfig != nil {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner(cmd.OutOrStdout())
		logger.Info("starting server",
			"port", srv.port,
			"tls", server.TLSConfig != nil,
			"store", store.backend,
			"notify_events", catalog.Events(),
		)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("shutting down", "signal", sig.String())
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	f := serverCmd.Flags()
	f.IntVarP(&srv.port, "port", "p", 8080, "Port to listen on")
	f.StringVar(&srv.tlsCert, "tls-cert", "", "Path to TLS certificate file; plain HTTP when unset")
	f.StringVar(&srv.tlsKey, "tls-key", "", "Path to TLS key file")

	f.StringVar(&srv.verifyToken, "verify-token", "", "Token expected in the webhook subscription handshake")
	f.StringVar(&srv.appSecret, "app-secret", "", "App secret used to verify X-Hub-Signature-256")
	f.StringSliceVar(&srv.trustedProxies, "trusted-proxies", nil, "CIDRs whose forwarding headers identify the client")

	f.StringVar(&srv.graphBaseURL, "graph-base-url", "", "Graph API base URL (default https://graph.facebook.com)")
	f.StringVar(&srv.graphAPIVersion, "graph-api-version", "", "Graph API version (default "+whatsapp.DefaultAPIVersion+")")
	f.StringVar(&srv.phoneNumberID, "phone-number-id", "", "WhatsApp business phone number ID")
	f.StringVar(&srv.accessToken, "access-token", "", "WhatsApp Cloud API access token")

	f.StringVar(&srv.dfProject, "dialogflow-project", "", "Dialogflow CX project ID")
	f.StringVar(&srv.dfLocation, "dialogflow-location", "global", "Dialogflow CX agent location")
	f.StringVar(&srv.dfAgent, "dialogflow-agent", "", "Dialogflow CX agent ID")
	f.StringVar(&srv.dfLanguage, "dialogflow-language", "es", "Language code sent with each query")
	f.StringVar(&srv.dfCredentials, "dialogflow-credentials", "", "Service account JSON file; empty uses Application Default Credentials")
	f.StringVar(&srv.dfEndpoint, "dialogflow-endpoint", "", "Override the regional Dialogflow endpoint")

	f.StringVar(&srv.telegramToken, "telegram-token", "", "Telegram bot token; transcripts are disabled when empty")
	f.StringVar(&srv.primaryChat, "telegram-primary-chat", "", "Primary Telegram chat for transcripts")
	f.StringVar(&srv.secondaryChat, "telegram-secondary-chat", "", "Secondary Telegram chat for transcripts")

	f.StringVar(&srv.templatesFile, "templates", "", "YAML file overriding notification templates")
	f.StringVar(&srv.templateLang, "template-language", notify.DefaultLanguage, "Default notification template language")
	f.DurationVar(&srv.limiterInterval, "limiter-sweep-interval", 10*time.Minute, "How often expired signature limiter records are dropped")
}
