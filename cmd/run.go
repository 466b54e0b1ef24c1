package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/forcedeck/internal/adapters/auth"
	"github.com/okian/forcedeck/internal/adapters/fetch"
	"github.com/okian/forcedeck/internal/adapters/http/api"
	"github.com/okian/forcedeck/internal/adapters/sink"
	"github.com/okian/forcedeck/internal/adapters/vald"
	service "github.com/okian/forcedeck/internal/app"
	"github.com/okian/forcedeck/internal/config"
	"github.com/okian/forcedeck/internal/domain/scoring"
	"github.com/okian/forcedeck/pkg/logger"
)

// errNoDatabase is returned when a real run has nowhere to write.
var errNoDatabase = errors.New("database_url is required unless --dry-run is set")

func newRunCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "run [pipeline...]",
		Short: "Run pipelines (default: all, in run order)",
		Long: `Lists athletes and their tests once, then runs each pipeline back to back:
fetch trials in paced batches -> pick the best trial -> append one row per test.

Exits non-zero when any pipeline fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipelines(cmd, args, dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Keep rows in memory instead of writing to the database")
	return cmd
}

func runPipelines(cmd *cobra.Command, names []string, dryRun bool) error {
	ctx := cmd.Context()
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.ValidateRemote(); err != nil {
		return err
	}

	var stats scoring.Stats
	if service.NeedsStats(cfg, names) && cfg.StatsFile != "" {
		if stats, err = config.LoadStats(cfg.StatsFile); err != nil {
			return err
		}
	}
	pipelines, err := service.BuildPipelines(cfg, stats, names)
	if err != nil {
		return err
	}

	out, closeSink, err := openSink(ctx, cfg, dryRun, log)
	if err != nil {
		return err
	}
	defer closeSink()

	tokens := auth.NewCachedProvider(
		auth.NewClientCredentials(cfg.AuthURL, cfg.ClientID, cfg.ClientSecret),
		auth.WithCacheFile(cfg.TokenCacheFile),
		auth.WithLogger(log.Named("auth")),
	)
	client := vald.NewClient(vald.Endpoints{
		ProfileURL:    cfg.ProfileURL,
		ForceDecksURL: cfg.ForceDecksURL,
		TenantID:      cfg.TenantID,
	}, tokens, vald.WithLogger(log.Named("vald")))

	svc := service.New(client, client, tokens, out,
		service.WithLogger(log.Named("service")),
		service.WithModifiedFrom(cfg.ModifiedFromTime()),
		service.WithMaxProfiles(cfg.MaxProfiles),
		service.WithFetchOptions(
			fetch.WithConcurrency(cfg.Concurrency),
			fetch.WithBatchPause(cfg.BatchPause()),
			fetch.WithRequestTimeout(cfg.RequestTimeout()),
			fetch.WithRateLimit(cfg.RequestsPerSecond, cfg.Concurrency),
		),
	)

	if cfg.MetricsAddr != "" {
		srvCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		srv := api.NewServer(svc, api.WithLogger(log.Named("api")))
		go func() {
			if err := srv.Serve(srvCtx, cfg.MetricsAddr); err != nil {
				log.Error(ctx, "status server failed", logger.Error(err))
			}
		}()
	}

	start := time.Now()
	reports, runErr := svc.Run(ctx, pipelines)
	writeSummary(cmd.OutOrStdout(), reports)
	if mem, ok := out.(*sink.MemorySink); ok {
		writeDryRun(cmd.OutOrStdout(), mem)
	}

	failed := 0
	for _, r := range reports {
		if r.Failed() {
			failed++
		}
	}
	log.Info(ctx, "run finished",
		logger.Int("pipelines", len(reports)), logger.Int("failed", failed),
		logger.Duration("elapsed", time.Since(start)))

	if runErr != nil {
		return runErr
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", service.ErrPipelineFailed, failed, len(reports))
	}
	return nil
}

func openSink(ctx context.Context, cfg *config.Config, dryRun bool, log logger.Logger) (sink.Sink, func(), error) {
	if dryRun {
		return sink.NewMemorySink(sink.WithMemoryLogger(log.Named("sink"))), func() {}, nil
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, errNoDatabase
	}
	pg, err := sink.Connect(ctx, cfg.DatabaseURL, sink.WithLogger(log.Named("sink")))
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

func writeSummary(w io.Writer, reports []service.Report) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PIPELINE\tTABLE\tTESTS\tRECORDS\tDROPPED\tUPLOADED\tDURATION\tSTATUS")
	for _, r := range reports {
		status := "ok"
		if r.Failed() {
			status = "FAILED: " + r.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			r.Pipeline, r.Table, r.Tests, r.Records, r.Dropped, r.Uploaded, r.Duration.Round(time.Millisecond), status)
	}
	_ = tw.Flush()
}

func writeDryRun(w io.Writer, mem *sink.MemorySink) {
	tables := mem.Tables()
	names := make([]string, 0, len(tables))
	for t := range tables {
		names = append(names, t)
	}
	sort.Strings(names)
	for _, t := range names {
		fmt.Fprintf(w, "dry run: %d rows for %s\n", tables[t], t)
	}
}
