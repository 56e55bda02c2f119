package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	logLevel string
	store    storeConfig
)

var rootCmd = &cobra.Command{
	Use:   "chatrelay",
	Short: "chatrelay relays WhatsApp conversations to a Dialogflow agent",
	Long: `A webhook relay that answers WhatsApp messages with a Dialogflow CX agent,
mirrors each exchange to Telegram and sends templated notifications on the
agent's behalf.

Every flag can also be set through the environment as CHATRELAY_<FLAG>, with
dashes replaced by underscores (for example CHATRELAY_STORE_KEY).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return applyEnv(cmd.Flags())
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	store.register(rootCmd.PersistentFlags())
}

func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "", "info":
		l = slog.LevelInfo
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l})), nil
}
