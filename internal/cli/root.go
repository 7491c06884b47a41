// Package cli implements obligationsctl, the maintenance command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/simaogato/obligations-backend/internal/adapter/events"
	"github.com/simaogato/obligations-backend/internal/adapter/lock"
	"github.com/simaogato/obligations-backend/internal/adapter/repository/postgres"
	"github.com/simaogato/obligations-backend/internal/app"
	"github.com/simaogato/obligations-backend/internal/config"
	"github.com/simaogato/obligations-backend/internal/domain"
)

// Opener builds the services a command runs against. The returned func
// releases whatever the services hold.
type Opener func(ctx context.Context, cfg *config.Config) (*app.Services, func(), error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string // "json" | "text"
	Config *config.Config
	Open   Opener
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. A nil open connects to Postgres.
func NewRootCommand(open Opener) *cobra.Command {
	if open == nil {
		open = OpenPostgres
	}
	opts := &RootOptions{Open: open}

	cmd := &cobra.Command{
		Use:   "obligationsctl",
		Short: "Maintenance tasks for the obligations engine",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.Config != nil {
				return nil
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			opts.Config = cfg
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSweepAlertsCommand(opts))
	cmd.AddCommand(NewResolveStaleCommand(opts))
	cmd.AddCommand(NewDetectDuplicatesCommand(opts))

	return cmd
}

// OpenPostgres connects to the configured database, redis and kafka
func OpenPostgres(ctx context.Context, cfg *config.Config) (*app.Services, func(), error) {
	logger := config.NewLogger(cfg.LogLevel, cfg.LogFormat)

	db, err := postgres.NewDB(cfg.DBConnStr)
	if err != nil {
		return nil, nil, err
	}
	closers := []func() error{db.Close}

	var locker domain.Locker = lock.NewLocalLocker()
	if cfg.RedisAddr != "" {
		rdb, err := lock.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		locker = lock.NewRedisLocker(rdb, "obligations:")
		closers = append(closers, rdb.Close)
	}

	var publisher domain.EventPublisher
	if len(cfg.KafkaBroker) > 0 {
		kafka := events.NewKafkaPublisher(cfg.KafkaBroker, cfg.KafkaTopic)
		publisher = kafka
		closers = append(closers, kafka.Close)
	}

	svc := app.New(app.PostgresRepositories(db), locker, publisher, cfg.Tuning, logger)
	release := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}
	return svc, release, nil
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func outputJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
