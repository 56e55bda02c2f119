package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/chatrelay/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and repair the session snapshot",
	Long: `Commands operating on the same user-to-session snapshot the server uses.
Every read refreshes the local cache, so each invocation also leaves a
timestamped backup in --cache-dir.`,
}

// withSessions opens the configured store and hands it to fn.
func withSessions(cmd *cobra.Command, fn func(ctx context.Context, s *session.SnapshotStore) error) error {
	logger, err := newLogger(logLevel)
	if err != nil {
		return err
	}
	s, closeStore, err := store.openSessions(cmd.Context(), logger)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(cmd.Context(), s)
}

var sessionLookupCmd = &cobra.Command{
	Use:   "lookup <session-id>",
	Short: "Print the user owning a session ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessions(cmd, func(ctx context.Context, s *session.SnapshotStore) error {
			return runLookup(ctx, s, cmd.OutOrStdout(), args[0])
		})
	},
}

var sessionResolveCmd = &cobra.Command{
	Use:   "resolve <user>",
	Short: "Print the session ID of a user, creating one if needed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessions(cmd, func(ctx context.Context, s *session.SnapshotStore) error {
			return runResolve(ctx, s, cmd.OutOrStdout(), args[0])
		})
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every user and session ID",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessions(cmd, func(ctx context.Context, s *session.SnapshotStore) error {
			return runList(ctx, s, cmd.OutOrStdout())
		})
	},
}

var sessionBackupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List local snapshot backups, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessions(cmd, func(_ context.Context, s *session.SnapshotStore) error {
			return runBackups(s, cmd.OutOrStdout())
		})
	},
}

var sessionRestoreCmd = &cobra.Command{
	Use:   "restore <backup-file>",
	Short: "Upload a local backup as the current snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessions(cmd, func(ctx context.Context, s *session.SnapshotStore) error {
			return runRestore(ctx, s, cmd.OutOrStdout(), args[0])
		})
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionLookupCmd)
	sessionCmd.AddCommand(sessionResolveCmd)
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionBackupsCmd)
	sessionCmd.AddCommand(sessionRestoreCmd)
}

func runLookup(ctx context.Context, s session.Store, w io.Writer, sessionID string) error {
	user, ok, err := s.ReverseResolve(ctx, sessionID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no user for session %q", sessionID)
	}
	fmt.Fprintln(w, user)
	return nil
}

func runResolve(ctx context.Context, s session.Store, w io.Writer, user string) error {
	id, err := s.ResolveOrCreate(ctx, user)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, id)
	return nil
}

func runList(ctx context.Context, s session.Store, w io.Writer) error {
	m, err := s.Load(ctx)
	if err != nil {
		return err
	}
	users := make([]string, 0, len(m))
	for u := range m {
		users = append(users, u)
	}
	sort.Strings(users)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tSESSION")
	for _, u := range users {
		fmt.Fprintf(tw, "%s\t%s\n", u, m[u])
	}
	return tw.Flush()
}

func runBackups(s *session.SnapshotStore, w io.Writer) error {
	backups, err := s.Backups()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TAKEN\tPATH")
	for _, b := range backups {
		fmt.Fprintf(tw, "%s\t%s\n", b.Timestamp.UTC().Format(time.RFC3339Nano), b.Path)
	}
	return tw.Flush()
}

func runRestore(ctx context.Context, s *session.SnapshotStore, w io.Writer, path string) error {
	m, err := s.Restore(ctx, path)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "restored %d sessions from %s\n", len(m), path)
	return nil
}
