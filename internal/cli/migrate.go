package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/dynamicsolutions/dashboard-bfa-go/internal/infra/postgres"

	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate [up|down [version]|status|check]",
		Short: "Run database migrations",
		Long: `Run the Postgres schema migrations used by DATA_BACKEND=postgres.
Without arguments pending migrations are applied.`,
		Args: migrateArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			command := "up"
			if len(args) > 0 {
				command = args[0]
			}
			version := -1
			if len(args) > 1 {
				version, _ = strconv.Atoi(args[1])
			}

			dsn, _ := cmd.Flags().GetString("dsn")
			if dsn == "" {
				dsn = os.Getenv("DATABASE_URL")
			}
			if dsn == "" {
				return fmt.Errorf("--dsn or DATABASE_URL is required")
			}
			format, _ := cmd.Flags().GetString("format")

			return migrate(cmd.Context(), dsn, command, format, version, cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("dsn", "", "PostgreSQL DSN connection string (default is $DATABASE_URL)")
	cmd.Flags().StringP("format", "f", "text", "Output format (text or json)")
	return cmd
}

func migrateArgs(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return nil
	}
	if err := cobra.RangeArgs(0, 2)(cmd, args); err != nil {
		return err
	}

	switch args[0] {
	case "up", "down", "status", "check":
	default:
		return fmt.Errorf("invalid first argument: %q", args[0])
	}

	if len(args) == 2 {
		if args[0] != "down" {
			return fmt.Errorf("invalid argument combination: %q", args)
		}
		if version, err := strconv.Atoi(args[1]); err != nil || version < 0 {
			return fmt.Errorf("invalid version number: %q", args[1])
		}
	}
	return nil
}

func migrate(ctx context.Context, dsn, command, format string, version int, out io.Writer) error {
	db, err := postgres.Open(ctx, postgres.Config{DSN: dsn, MaxConns: 2}, zap.NewNop())
	if err != nil {
		return err
	}
	defer db.Close()

	// The provider only logs when verbose, so JSON output stays clean.
	provider, err := postgres.NewMigrator(db.SQL())
	if err != nil {
		return err
	}

	switch command {
	case "up":
		results, err := provider.Up(ctx)
		if err != nil {
			return err
		}
		return writeResults(out, format, results)
	case "down":
		var results []*goose.MigrationResult
		if version == -1 {
			result, err := provider.Down(ctx)
			if err != nil {
				return err
			}
			results = append(results, result)
		} else {
			if results, err = provider.DownTo(ctx, int64(version)); err != nil {
				return err
			}
		}
		return writeResults(out, format, results)
	case "status":
		return writeStatus(ctx, provider, format, out)
	case "check":
		return writeCheck(ctx, provider, format, out)
	}
	return nil
}

func writeResults(out io.Writer, format string, results []*goose.MigrationResult) error {
	if format == "json" {
		if results == nil {
			results = []*goose.MigrationResult{}
		}
		return json.NewEncoder(out).Encode(map[string]any{"applied": results})
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "No migrations to apply.")
	}
	for _, r := range results {
		fmt.Fprintf(out, "%-4s %s (%s)\n", r.Direction, r.Source.Path, r.Duration.Round(time.Millisecond))
	}
	return nil
}

func writeStatus(ctx context.Context, provider *goose.Provider, format string, out io.Writer) error {
	statuses, err := provider.Status(ctx)
	if err != nil {
		return err
	}
	if format == "json" {
		return json.NewEncoder(out).Encode(statuses)
	}

	fmt.Fprintln(out, "    Applied At                  Migration")
	fmt.Fprintln(out, "    =======================================")
	for _, s := range statuses {
		appliedAt := "Pending"
		if s.State == goose.StateApplied {
			appliedAt = s.AppliedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(out, "    %-24s -- %s\n", appliedAt, s.Source.Path)
	}
	return nil
}

func writeCheck(ctx context.Context, provider *goose.Provider, format string, out io.Writer) error {
	pending, err := provider.HasPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to check pending migrations: %w", err)
	}
	current, err := provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get database version: %w", err)
	}

	if format == "json" {
		status := "ok"
		if pending {
			status = "pending"
		}
		return json.NewEncoder(out).Encode(map[string]any{"status": status, "version": current})
	}
	if pending {
		return fmt.Errorf("migrations are pending: current version %d", current)
	}
	fmt.Fprintf(out, "Database is up to date (version %d)\n", current)
	return nil
}
