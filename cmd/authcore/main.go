// StudySync auth core
//
// This is the entry point for the StudySync authentication service. It
// issues and verifies credentials, maintains the revocation list, and
// authenticates realtime connections.
//
// Usage:
//
//	authcore serve --config configs/config.yaml
//	authcore migrate up|down|status
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/studysync/authcore/internal/api"
	"github.com/studysync/authcore/internal/audit"
	"github.com/studysync/authcore/internal/auth"
	"github.com/studysync/authcore/internal/infrastructure/config"
	"github.com/studysync/authcore/internal/infrastructure/database"
	"github.com/studysync/authcore/internal/infrastructure/influxdb"
	"github.com/studysync/authcore/internal/infrastructure/logging"
	"github.com/studysync/authcore/internal/infrastructure/mqtt"
	"github.com/studysync/authcore/internal/presence"
	"github.com/studysync/authcore/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnvVar      = "STUDYSYNC_CONFIG"
)

func main() {
	// Cancel on Ctrl+C and SIGTERM so run can shut down in order.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "authcore",
		Short:         "StudySync authentication and session revocation service",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(commandContext(cmd), configPath)
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", getConfigPath(), "Path to the YAML configuration file")

	cmd.AddCommand(newServeCommand(&configPath))
	cmd.AddCommand(newMigrateCommand(&configPath))
	return cmd
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and realtime API until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(commandContext(cmd), *configPath)
		},
	}
}

func newMigrateCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(commandContext(cmd), *configPath, func(ctx context.Context, db *database.DB) error {
				applied, err := db.Migrate(ctx, migrations.FS)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(commandContext(cmd), *configPath, func(ctx context.Context, db *database.DB) error {
				if err := db.Rollback(ctx, migrations.FS); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "rolled back 1 migration")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(commandContext(cmd), *configPath, func(ctx context.Context, db *database.DB) error {
				applied, pending, err := db.Status(ctx, migrations.FS)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "VERSION\tSTATE\tAPPLIED AT")
				for _, m := range applied {
					fmt.Fprintf(tw, "%s\tapplied\t%s\n", m.Version, m.AppliedAt.Format("2006-01-02 15:04:05"))
				}
				for _, m := range pending {
					fmt.Fprintf(tw, "%s\tpending\t-\n", m.Version)
				}
				return tw.Flush()
			})
		},
	})

	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// withDatabase loads configuration, opens the database and hands it to fn.
func withDatabase(ctx context.Context, configPath string, fn func(context.Context, *database.DB) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // read-mostly CLI session
	return fn(ctx, db)
}

// run starts the service and blocks until ctx is cancelled. Deferred
// cleanups run in reverse order of start-up.
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting StudySync auth core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete", "applied", applied)

	// Auth core
	codec, err := auth.NewCodec(cfg.Security.JWT.Secret, auth.SystemClock)
	if err != nil {
		return fmt.Errorf("creating credential codec: %w", err)
	}
	users := auth.NewUserRepository(db.DB, auth.SystemClock)
	revocations := auth.NewRevocations(auth.NewRevocationRepository(db.DB), codec, auth.RevocationOptions{
		FallbackWindow: cfg.Security.Revocation.FallbackWindowDuration(),
		SentinelTTL:    cfg.Security.Revocation.SentinelTTLDuration(),
		MaxLifetime:    max(cfg.Security.AccessTTL(), cfg.Security.RefreshTTL()),
	}, log)
	access := auth.NewAccessTokens(codec, cfg.Security.AccessTTL())
	refresh := auth.NewRefreshTokens(codec, cfg.Security.RefreshTTL(), users, log)
	authn := auth.NewAuthenticator(revocations, access, users, auth.SystemClock, log)
	sessions := auth.NewService(access, refresh, revocations, users, log)
	defer func() {
		log.Info("waiting for background authentication tasks")
		authn.Drain()
	}()

	events := audit.NewSQLiteRepository(db.DB, auth.SystemClock)

	seeded, err := auth.SeedAdmin(ctx, users, cfg.Security.Bootstrap.AdminEmail, log)
	if err != nil {
		return fmt.Errorf("seeding admin account: %w", err)
	}
	if seeded != "" {
		if recErr := events.Record(ctx, &audit.Event{
			Action:  audit.ActionAdminSeeded,
			Source:  audit.SourceSystem,
			Details: map[string]any{"email": cfg.Security.Bootstrap.AdminEmail},
		}); recErr != nil {
			log.Warn("failed to record admin seed event", "error", recErr)
		}
	}

	deps := api.Deps{
		Config:        cfg.API,
		WS:            cfg.WebSocket,
		Security:      cfg.Security,
		Logger:        log,
		Authenticator: authn,
		Sessions:      sessions,
		Revocations:   revocations,
		Presence:      presence.NewRegistry(),
		Audit:         events,
		DB:            db,
		Version:       version,
	}

	// Connect to MQTT broker (optional)
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT, log)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		deps.MQTT = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		deps.Telemetry = influxClient
	}

	// Revocation sweeper stops with its context, before Drain runs.
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	if interval := cfg.Security.Revocation.SweepIntervalDuration(); interval > 0 {
		go revocations.RunSweeper(sweepCtx, interval)
	}

	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal",
		"address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred cleanups run in reverse order:
	// 1. API server (hub disconnects every client)
	// 2. Revocation sweeper
	// 3. InfluxDB and MQTT (if enabled)
	// 4. Background authentication tasks
	// 5. Database

	return nil
}

// getConfigPath returns the configuration file path.
// Uses STUDYSYNC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}
