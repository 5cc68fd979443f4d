package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/osmload/internal/config"
	"github.com/wegman-software/osmload/internal/docstream"
	"github.com/wegman-software/osmload/internal/errs"
	"github.com/wegman-software/osmload/internal/logger"
	"github.com/wegman-software/osmload/internal/metrics"
	"github.com/wegman-software/osmload/internal/pipeline"
	"github.com/wegman-software/osmload/internal/schema"
)

var (
	cfg             = config.DefaultConfig()
	tuningFile      string
	metricsInterval time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "osmload",
	Short: "Load an OSM XML dump into a normalized PostgreSQL schema",
	Long: `osmload streams an OSM XML file (optionally .gz, .zst or .bz2) into
PostgreSQL in a single pass:

  1. Creates the nodes, ways, relations, member and tag tables
  2. Parses the document incrementally, releasing each entity once written
  3. Numbers way nodes and relation members in document order
  4. Commits every 10,000 entities and once more at the end

The target database must not contain the tables yet.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: false,
	Run:           runImport,
}

// Execute runs the command line
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&cfg.InputFile, "input", "i", "", "The OSM input file to load into the database")
	flags.StringVarP(&cfg.DBHost, "host", "s", "", "The host where the PostgreSQL server is located")
	flags.IntVarP(&cfg.DBPort, "port", "p", cfg.DBPort, "The port number where the PostgreSQL server is located")
	flags.StringVarP(&cfg.DBName, "database", "d", "", "The database to create the new tables in")
	flags.StringVarP(&cfg.DBUser, "user", "u", "", "The username to access the PostgreSQL database")
	flags.StringVarP(&cfg.DBPassword, "password", "w", "", "The password to access the PostgreSQL database")
	for _, name := range []string{"input", "host", "port", "database", "user", "password"} {
		_ = rootCmd.MarkFlagRequired(name)
	}

	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose output")
	flags.StringVar(&cfg.LogFile, "log-file", "", "Path to log file for persistent logging (JSON format)")
	flags.DurationVar(&metricsInterval, "metrics-interval", 0, "Interval for process metrics logging, 0 disables (e.g. 30s)")
	flags.StringVar(&tuningFile, "tuning", "", "YAML file with batch_size, progress_interval, metrics_interval, entity_savepoints and log_* settings")
}

func runImport(cmd *cobra.Command, args []string) {
	if tuningFile != "" {
		tuning, err := config.LoadTuning(tuningFile)
		if err != nil {
			logger.Init(logOptions())
			exitWithError("invalid tuning file", err)
		}
		cfg.Apply(tuning)
	}
	if cmd.Flags().Changed("metrics-interval") {
		cfg.MetricsInterval = metricsInterval
	}

	logger.Init(logOptions())
	defer logger.Sync()
	log := logger.Get()

	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Starting osmload import",
		zap.String("input", cfg.InputFile),
		zap.String("output", fmt.Sprintf("%s:%d/%s", cfg.DBHost, cfg.DBPort, cfg.DBName)),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Bool("entity_savepoints", cfg.EntitySavepoints),
	)
	totalStart := time.Now()

	conn, err := pgx.Connect(ctx, cfg.ConnectionString())
	if err != nil {
		exitWithError("Database connection failed", fmt.Errorf("%w: %w", errs.ErrConnection, err))
	}
	defer conn.Close(context.Background())

	stream, err := docstream.Open(cfg.InputFile)
	if err != nil {
		exitWithError("Could not open input file", err)
	}
	defer stream.Close()

	if err := schema.Create(ctx, conn); err != nil {
		exitWithError("Tables could not be initialized", err)
	}

	writer := pipeline.NewWriter(conn, pipeline.WriterOptions{
		BatchSize:        cfg.BatchSize,
		Progress:         pipeline.NewProgressReporter(stream, cfg.ProgressInterval, log),
		EntitySavepoints: cfg.EntitySavepoints,
	})
	loader := pipeline.NewLoader(stream, writer)

	g, gctx := errgroup.WithContext(ctx)
	metricsCtx, stopMetrics := context.WithCancel(gctx)
	defer stopMetrics()

	if cfg.MetricsInterval > 0 {
		collector := metrics.NewCollector(cfg.MetricsInterval, log)
		g.Go(func() error {
			collector.Start(metricsCtx)
			return nil
		})
	}

	var stats *pipeline.ImportStats
	g.Go(func() error {
		defer stopMetrics()
		var err error
		stats, err = loader.Run(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		exitWithError("Import failed", err)
	}

	totalElapsed := time.Since(totalStart)
	log.Info("Import complete",
		zap.Duration("total_time", totalElapsed.Round(time.Second)),
		zap.Int64("nodes", stats.Nodes),
		zap.Int64("ways", stats.Ways),
		zap.Int64("relations", stats.Relations),
		zap.Int64("way_nodes", stats.WayNodes),
		zap.Int64("members", stats.Members),
		zap.Int64("tags", stats.Tags),
		zap.Int64("skipped_relation_members", stats.SkippedRelationMembers),
		zap.Int64("ignored_entities", stats.IgnoredEntities),
		zap.Int64("skipped_entities", stats.Writer.Skipped),
		zap.Int64("commits", stats.Writer.Commits),
		zap.Float64("throughput_mb_s", float64(stream.Size())/(1024*1024)/totalElapsed.Seconds()),
	)
}

func logOptions() logger.Options {
	return logger.Options{
		Debug: cfg.Verbose,
		File:  cfg.LogFile,
		Rotation: logger.Rotation{
			MaxSizeMB:  cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAgeDays: cfg.LogMaxAgeDays,
		},
		Input: cfg.InputFile,
	}
}

func exitWithError(msg string, err error) {
	log := logger.Get()
	if err != nil {
		log.Error(msg, zap.Error(err))
	} else {
		log.Error(msg)
	}
	logger.Sync()
	os.Exit(1)
}
