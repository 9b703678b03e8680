// Package runner wires a scan together: candidates, admission, probing,
// streaming output, reports and the console summary.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/maxvaer/apihunter/internal/admission"
	"github.com/maxvaer/apihunter/internal/config"
	"github.com/maxvaer/apihunter/internal/logging"
	"github.com/maxvaer/apihunter/internal/metrics"
	"github.com/maxvaer/apihunter/internal/output"
	"github.com/maxvaer/apihunter/internal/probe"
	"github.com/maxvaer/apihunter/internal/resume"
	"github.com/maxvaer/apihunter/internal/scanner"
	"github.com/maxvaer/apihunter/internal/scoring"
	"github.com/maxvaer/apihunter/internal/telemetry"
	"github.com/maxvaer/apihunter/pkg/version"
)

// Run executes one scan, or rebuilds the artifacts of an earlier one when
// a resume file is given. Only configuration and setup failures are
// returned as errors; a scan cut short by its deadline is a success.
func Run(ctx context.Context, opts *config.Options) error {
	if opts.NoColor {
		color.NoColor = true
	}
	logger := logging.New(os.Stderr, opts.Verbose, opts.Debug, opts.Quiet)

	if opts.ResumeFile != "" {
		return runResume(ctx, opts, logger)
	}

	candidates, err := collectCandidates(opts, logger)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		if !opts.Quiet {
			fmt.Fprintf(os.Stderr, "[!] No candidates left to probe\n")
		}
		return nil
	}

	if err := output.EnsureDir(opts.OutputDir); err != nil {
		return err
	}
	paths := output.PathsIn(opts.OutputDir)

	var collector *metrics.Collector
	if opts.MetricsAddr != "" {
		collector = metrics.New()
		if err := collector.Serve(ctx, opts.MetricsAddr, logger); err != nil {
			return fmt.Errorf("starting metrics server: %w", err)
		}
	}

	shutdown, err := telemetry.Setup(ctx, telemetry.Options{
		Endpoint:       opts.OTLPEndpoint,
		Insecure:       opts.OTLPInsecure,
		ServiceVersion: version.Version,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			logger.Warn("trace export did not finish", slog.String("error", err.Error()))
		}
	}()

	scanCfg := opts.ScanConfig()
	sinks, err := startSinks(paths, scanCfg.SinkBuffer, logger, collector)
	if err != nil {
		return err
	}

	ctrl := admission.New(admission.Config{
		Global:        scanCfg.Concurrency,
		PerHost:       scanCfg.PerHost,
		RatePerSecond: scanCfg.RateLimit,
	}, admission.WithLogger(logger), admission.WithObserver(collector))
	defer ctrl.Close()

	client, err := probe.NewClient(probe.ClientConfig{
		Timeout:         scanCfg.Timeout,
		Concurrency:     scanCfg.Concurrency,
		Proxy:           opts.Proxy,
		FollowRedirects: opts.FollowRedirects,
	})
	if err != nil {
		sinks.Close()
		return err
	}
	prober := probe.New(client, scanCfg,
		probe.WithUserAgent(opts.UserAgent),
		probe.WithHeaders(opts.Headers),
		probe.WithCoolDowner(ctrl),
		probe.WithObserver(collector),
		probe.WithLogger(logger))

	if !opts.Quiet {
		printBanner(opts, len(candidates))
	}

	pauser, restore := startStdinToggle(opts.Quiet)
	defer restore()

	progress := output.NewProgress(len(candidates), opts.Quiet)
	pipeline := scanner.New(scanCfg, ctrl, prober, sinks,
		scanner.WithLogger(logger),
		scanner.WithObserver(collector),
		scanner.WithPauser(pauser),
		scanner.WithProgress(progress))

	progress.Start()
	summary, err := pipeline.Run(ctx, candidates)
	progress.Stop()
	if err != nil {
		return err
	}

	writeReports(paths, summary.Outcomes, logger)

	if !opts.Quiet {
		printSummary(summary, paths)
		output.PrintTree(os.Stderr, summary.Outcomes, scoring.Gated)
	}
	return nil
}

func runResume(ctx context.Context, opts *config.Options, logger *slog.Logger) error {
	outs, err := resume.Load(opts.ResumeFile)
	if err != nil {
		return err
	}
	if err := resume.Reemit(ctx, outs, opts.OutputDir, logger); err != nil {
		return err
	}
	if !opts.Quiet {
		fmt.Fprintf(os.Stderr, "[+] Re-emitted %d outcomes from %s into %s\n", len(outs), opts.ResumeFile, opts.OutputDir)
		printTop(outs)
		output.PrintTree(os.Stderr, outs, scoring.Gated)
	}
	return nil
}

// startSinks opens the streaming artifacts, truncating earlier runs. Each
// sink buffers up to buffer outcomes.
func startSinks(paths output.Paths, buffer int, logger *slog.Logger, collector *metrics.Collector) (output.Fanout, error) {
	jw, err := output.CreateJSONL(paths.Raw)
	if err != nil {
		return nil, err
	}
	cw, err := output.CreateCSV(paths.StreamCSV)
	if err != nil {
		jw.Close()
		return nil, err
	}
	return output.Fanout{
		output.StartSink("jsonl", jw, buffer, logger, collector),
		output.StartSink("csv", cw, buffer, logger, collector),
	}, nil
}

// writeReports writes the sorted CSV and the top list side by side. A
// failed report is logged; the streamed artifacts are already complete.
func writeReports(paths output.Paths, outs []*probe.Outcome, logger *slog.Logger) {
	var g errgroup.Group
	g.Go(func() error { return output.WriteSortedCSV(paths.SortedCSV, outs) })
	g.Go(func() error { return output.WriteTopFile(paths.Top, outs) })
	if err := g.Wait(); err != nil {
		logger.Error("writing report failed", slog.String("error", err.Error()))
	}
}
