package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paulmach/osm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/osmload/internal/config"
	"github.com/wegman-software/osmload/internal/errs"
	"github.com/wegman-software/osmload/internal/export"
	"github.com/wegman-software/osmload/internal/logger"
)

var (
	exportCfg = config.DefaultExportConfig()
	showSQL   bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the loaded tables back out as OSM XML",
	Long: `Reads the tables created by an import and writes them as one OSM XML
document. Way nodes and relation members are written in their stored
sequence, node and way members merged into one list, so re-importing the
output reproduces the same rows.

Use --sql to print the queries without connecting.`,
	Args: cobra.NoArgs,
	Run:  runExport,
}

func init() {
	flags := exportCmd.Flags()
	flags.StringVarP(&exportCfg.DBHost, "host", "s", exportCfg.DBHost, "The host where the PostgreSQL server is located")
	flags.IntVarP(&exportCfg.DBPort, "port", "p", exportCfg.DBPort, "The port number where the PostgreSQL server is located")
	flags.StringVarP(&exportCfg.DBName, "database", "d", "osm", "The database holding the loaded tables")
	flags.StringVarP(&exportCfg.DBUser, "user", "u", "", "The username to access the PostgreSQL database")
	flags.StringVarP(&exportCfg.DBPassword, "password", "w", "", "The password to access the PostgreSQL database")
	flags.StringVarP(&exportCfg.OutputFile, "output", "o", exportCfg.OutputFile, "OSM XML output file, - for stdout")
	flags.StringSliceVarP(&exportCfg.Types, "types", "t", nil, "Entity kinds to export: node, way, relation (default all)")
	flags.BoolVar(&showSQL, "sql", false, "Print the queries an export runs and exit")
	flags.BoolVarP(&exportCfg.Verbose, "verbose", "v", false, "Enable verbose output")
	flags.StringVar(&exportCfg.LogFile, "log-file", "", "Path to log file for persistent logging (JSON format)")

	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) {
	// Logs must not interleave with a document written to stdout
	logger.Init(logger.Options{
		Debug:   exportCfg.Verbose,
		File:    exportCfg.LogFile,
		Console: os.Stderr,
	})
	defer logger.Sync()
	log := logger.Get()

	types, err := export.ParseTypes(exportCfg.Types)
	if err != nil {
		exitWithError("invalid --types", err)
	}

	if showSQL {
		printPlan(cmd.OutOrStdout(), types)
		return
	}

	if err := exportCfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	log.Info("Starting osmload export",
		zap.String("source", fmt.Sprintf("%s:%d/%s", exportCfg.DBHost, exportCfg.DBPort, exportCfg.DBName)),
		zap.String("output", exportCfg.OutputFile),
	)

	pool, err := connectPool(ctx, exportCfg.ConnectionString())
	if err != nil {
		exitWithError("Database connection failed", err)
	}
	defer pool.Close()

	out, closeOut, err := openOutput(exportCfg.OutputFile)
	if err != nil {
		exitWithError("Could not create output file", err)
	}

	stats, err := export.New(export.NewPgSource(pool), export.Options{Types: types}).Run(ctx, out)
	if cerr := closeOut(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close output: %w", cerr)
	}
	if err != nil {
		exitWithError("Export failed", err)
	}

	log.Info("Export complete",
		zap.Duration("total_time", time.Since(start).Round(time.Second)),
		zap.Int64("nodes", stats.Nodes),
		zap.Int64("ways", stats.Ways),
		zap.Int64("relations", stats.Relations),
		zap.Int64("way_nodes", stats.WayNodes),
		zap.Int64("members", stats.Members),
		zap.Int64("tags", stats.Tags),
		zap.Int64("orphans", stats.Orphans),
	)
}

// connectPool opens a pool large enough for every cursor an export holds
func connectPool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrConnection, err)
	}
	poolCfg.MaxConns = export.MaxOpenCursors + 1

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrConnection, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %w", errs.ErrConnection, err)
	}
	return pool, nil
}

func openOutput(path string) (io.Writer, func() error, error) {
	if path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func printPlan(w io.Writer, types []osm.Type) {
	for _, q := range export.Plan(types) {
		fmt.Fprintf(w, "-- %s\n%s;\n\n", q.Table, dedent(q.SQL))
	}
}

// dedent strips the source indentation from a query literal
func dedent(sql string) string {
	lines := strings.Split(strings.TrimSpace(sql), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.Join(lines, "\n")
}
