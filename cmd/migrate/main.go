package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/ordersvc/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "OMS_POSTGRES_DSN"
)

// migrator покрывает операции Store, нужные CLI.
type migrator interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (postgres.MigrationState, error)
	Close() error
}

type openFunc func(ctx context.Context, dsn string) (migrator, error)

func openPostgres(ctx context.Context, dsn string) (migrator, error) {
	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func newRootCmd(open openFunc, lookup func(string) (string, bool)) *cobra.Command {
	var (
		dsn     string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the orders PostgreSQL schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", defaultTimeout, "overall operation timeout")

	// withStore открывает хранилище, выполняет fn и печатает итоговое состояние схемы.
	withStore := func(c *cobra.Command, label string, fn func(context.Context, migrator) error) error {
		resolved := strings.TrimSpace(dsn)
		if resolved == "" {
			if v, ok := lookup(envPostgresDSN); ok {
				resolved = strings.TrimSpace(v)
			}
		}
		if resolved == "" {
			return errors.New(envPostgresDSN + " (or --dsn) is required")
		}

		ctx, cancel := context.WithTimeout(c.Context(), timeout)
		defer cancel()

		store, err := open(ctx, resolved)
		if err != nil {
			return fmt.Errorf("open postgres store: %w", err)
		}
		defer store.Close()

		if fn != nil {
			if err := fn(ctx, store); err != nil {
				return fmt.Errorf("%s failed: %w", label, err)
			}
		}

		state, err := store.MigrationStatus(ctx)
		if err != nil {
			return fmt.Errorf("migration status failed: %w", err)
		}
		printState(c.OutOrStdout(), label, state)
		return nil
	}

	var upSteps int
	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return withStore(c, "migrate up", func(ctx context.Context, m migrator) error {
				return m.MigrateUp(ctx, upSteps)
			})
		},
	}
	up.Flags().IntVar(&upSteps, "steps", 0, "number of migrations to apply (0 = all)")

	var downSteps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return withStore(c, "migrate down", func(ctx context.Context, m migrator) error {
				return m.MigrateDown(ctx, downSteps)
			})
		},
	}
	down.Flags().IntVar(&downSteps, "steps", 1, "number of migrations to roll back")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show current schema version and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return withStore(c, "migration status", nil)
		},
	}

	cmd.AddCommand(up, down, status)
	return cmd
}

func printState(w io.Writer, label string, state postgres.MigrationState) {
	_, _ = fmt.Fprintf(w, "%s: version=%d applied=%d\n", label, state.CurrentVersion, state.Applied)
	for _, name := range state.Pending {
		_, _ = fmt.Fprintf(w, "  pending %s\n", name)
	}
}

func main() {
	if err := newRootCmd(openPostgres, os.LookupEnv).Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
