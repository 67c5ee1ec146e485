// Package main is the entry point for the sqlchat CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/duckmesh/sqlchat/internal/bootstrap"
	"github.com/duckmesh/sqlchat/internal/cli/console"
	"github.com/duckmesh/sqlchat/internal/cli/remote"
	"github.com/duckmesh/sqlchat/internal/config"
	"github.com/duckmesh/sqlchat/internal/observability"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type globalFlags struct {
	server  string
	apiKey  string
	tenant  string
	timeout time.Duration
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "sqlchat",
		Short:         "Ask questions about a database in plain language",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.server, "server", os.Getenv("SQLCHAT_SERVER"), "sqlchat-api base URL; empty runs against the local database")
	root.PersistentFlags().StringVar(&flags.apiKey, "api-key", os.Getenv("SQLCHAT_API_KEY"), "API key for the remote server")
	root.PersistentFlags().StringVar(&flags.tenant, "tenant", os.Getenv("SQLCHAT_TENANT_ID"), "tenant id sent as X-Tenant-ID")
	root.PersistentFlags().DurationVar(&flags.timeout, "timeout", 2*time.Minute, "remote request timeout")

	root.AddCommand(versionCmd(), chatCmd(flags), askCmd(flags), tablesCmd(flags), healthCmd(flags))
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("sqlchat %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func chatCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			asker, banner, closeFn, err := openAsker(ctx, flags)
			if err != nil {
				return err
			}
			defer closeFn()

			return console.Run(ctx, asker, console.Options{
				In:     cmd.InOrStdin(),
				Out:    cmd.OutOrStdout(),
				Err:    cmd.ErrOrStderr(),
				Banner: banner + "\nType /help for commands.",
			})
		},
	}
}

func askCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			asker, _, closeFn, err := openAsker(ctx, flags)
			if err != nil {
				return err
			}
			defer closeFn()
			return console.Ask(ctx, asker, strings.Join(args, " "), cmd.OutOrStdout())
		},
	}
}

func tablesCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the tables questions can be answered from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if flags.server != "" {
				body, err := remoteClient(flags).Get(ctx, "/v1/schema")
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), body)
				return nil
			}
			app, err := buildLocal(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()
			for _, name := range app.Schema.Names() {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func healthCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check readiness of a remote server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flags.server == "" {
				return fmt.Errorf("--server is required")
			}
			body, err := remoteClient(flags).Get(cmd.Context(), "/v1/ready")
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), body)
			return nil
		},
	}
}

func openAsker(ctx context.Context, flags *globalFlags) (console.Asker, string, func(), error) {
	if flags.server != "" {
		session, err := remoteClient(flags).OpenSession(ctx)
		if err != nil {
			return nil, "", nil, fmt.Errorf("open remote session: %w", err)
		}
		closeFn := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = session.Close(closeCtx)
		}
		return session, "Connected to " + flags.server, closeFn, nil
	}

	app, err := buildLocal(ctx)
	if err != nil {
		return nil, "", nil, err
	}
	session, err := app.NewSession("local")
	if err != nil {
		_ = app.Close()
		return nil, "", nil, err
	}
	banner := fmt.Sprintf("Connected to %s database with tables: %s", app.Schema.Dialect, strings.Join(app.Schema.Names(), ", "))
	return session, banner, func() { _ = app.Close() }, nil
}

func buildLocal(ctx context.Context) (*bootstrap.App, error) {
	cfg, err := config.LoadFromEnv("sqlchat")
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	// The console owns stdout, so logs go to stderr.
	logger := observability.NewLogger(cfg, os.Stderr)
	app, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", slog.Any("error", err))
		return nil, err
	}
	return app, nil
}

func remoteClient(flags *globalFlags) *remote.Client {
	return remote.New(remote.Options{
		BaseURL:  flags.server,
		APIKey:   flags.apiKey,
		TenantID: flags.tenant,
		Timeout:  flags.timeout,
	})
}
