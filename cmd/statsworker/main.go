package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/moznion/go-optional"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rxtech-lab/argo-stats/internal/config"
	"github.com/rxtech-lab/argo-stats/internal/engine"
	"github.com/rxtech-lab/argo-stats/internal/logger"
	"github.com/rxtech-lab/argo-stats/internal/repository"
	"github.com/rxtech-lab/argo-stats/internal/types"
	"github.com/rxtech-lab/argo-stats/internal/worker"
)

// runAction is the core logic executed by the CLI command. It loads the
// configuration, wires the repositories into a stats driver, and processes
// one recomputation job to completion.
func runAction(ctx context.Context, cmd *cli.Command) error {
	// Retrieve flag values from the context
	configPath := cmd.String("config")
	entityFlag := cmd.String("entity")
	idFlag := cmd.String("id")
	recalc := cmd.Bool("recalc")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	l, err := logger.NewLoggerWithLevel(level)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() {
		_ = l.Sync()
	}()

	entityID, err := uuid.Parse(idFlag)
	if err != nil {
		return fmt.Errorf("invalid entity id %q: %w", idFlag, err)
	}

	job := types.StatsJob{
		Type:     types.EntityKind(entityFlag),
		EntityID: entityID,
		Recalc:   recalc,
	}
	if cmd.IsSet("from") {
		job.DateFrom = optional.Some(cmd.Timestamp("from").UTC())
	}
	if cmd.IsSet("to") {
		job.DateTo = optional.Some(cmd.Timestamp("to").UTC())
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	driver := engine.NewDriver(
		repository.NewPositionsRepository(db, l),
		repository.NewStatsRepository(db, l),
		repository.NewSubscriptionsRepository(db, l),
		l,
		engine.Options{
			ChunkSize:            cfg.Engine.ChunkSize,
			SingleQueryThreshold: cfg.Engine.SingleQueryThreshold,
			RatingWeights:        cfg.RatingWeights,
		},
	)

	pool := worker.NewPool(cfg.Worker.Workers, cfg.Worker.QueueDepth)
	service := worker.NewService(driver, pool, l, worker.WithRetryPolicy(cfg.Worker.Retry))
	defer service.Stop()

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, l)
	}

	// Cancel the fold on SIGINT/SIGTERM so partial work is abandoned before
	// shutdown instead of being killed mid-transaction.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	l.Info("Processing stats job",
		zap.String("entityType", string(job.Type)),
		zap.String("entityId", job.EntityID.String()),
		zap.Bool("recalc", job.Recalc))

	return service.Process(ctx, job)
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

func serveMetrics(addr string, l *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	if err := http.ListenAndServe(addr, mux); err != nil {
		l.Warn("Metrics listener stopped", zap.String("addr", addr), zap.Error(err))
	}
}

func main() {
	// Define the CLI application
	cmd := &cli.Command{
		Name:  "statsworker",
		Usage: "Recompute cumulative trade statistics for a trading entity",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				Value:   "config.yaml",
				Sources: cli.EnvVars("STATSWORKER_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "entity",
				Aliases: []string{"e"},
				Usage: fmt.Sprintf("Entity kind (%s, %s, %s, %s, %s, %s, %s)",
					types.EntityRobot, types.EntityPortfolio, types.EntityUserRobot,
					types.EntityUserPortfolio, types.EntitySignalSubscription,
					types.EntityUserSignalsAggr, types.EntityRobotSubscriptions),
				Required: true,
			},
			&cli.StringFlag{
				Name:     "id",
				Usage:    "Entity id (UUID)",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "recalc",
				Usage: "Discard stored statistics and recompute from the full history",
			},
			&cli.TimestampFlag{
				Name:  "from",
				Usage: "Lower exit-date bound in `YYYY-MM-DD` format (or other RFC3339 compatible)",
				Config: cli.TimestampConfig{
					Layouts: []string{"2006-01-02", "2006-01-02T15:04:05Z07:00"},
				},
			},
			&cli.TimestampFlag{
				Name:  "to",
				Usage: "Upper exit-date bound in `YYYY-MM-DD` format (or other RFC3339 compatible)",
				Config: cli.TimestampConfig{
					Layouts: []string{"2006-01-02", "2006-01-02T15:04:05Z07:00"},
				},
			},
		},
		Action: runAction,
	}

	// Run the CLI application
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
