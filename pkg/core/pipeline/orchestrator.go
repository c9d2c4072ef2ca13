// Package pipeline runs the batch job in two stages:
//  1. extract: discover the latest archives, fetch and sanitize each one,
//     consolidate and write the consolidated table.
//  2. transform: read the consolidated table, join the registry, aggregate,
//     write the remaining tables and package the bundle.
//
// Every call writes a run report next to the outputs.
package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"disclosure_pipeline/pkg/core/calc"
	"disclosure_pipeline/pkg/core/consolidate"
	"disclosure_pipeline/pkg/core/ingest"
	"disclosure_pipeline/pkg/core/registry"
	"disclosure_pipeline/pkg/core/report"
	"disclosure_pipeline/pkg/core/sanitize"
	"disclosure_pipeline/pkg/core/store"
	"disclosure_pipeline/pkg/models"
	"disclosure_pipeline/pkg/platform/config"
	"disclosure_pipeline/pkg/platform/logger"
	"disclosure_pipeline/pkg/platform/metrics"
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// ErrNoArchives is returned when extract has no archive to consolidate. The
// consolidated table on disk is left untouched.
var ErrNoArchives = errors.New("pipeline: no archive extracted")

// Discoverer lists the most recent archive URLs.
type Discoverer interface {
	Discover(ctx context.Context, count int) ([]string, error)
}

// ArchiveFetcher downloads one archive and returns its sanitized batches.
type ArchiveFetcher interface {
	FetchAndExtract(ctx context.Context, url string) (*ingest.ArchiveResult, error)
}

// Enricher joins the registry onto consolidated records.
type Enricher interface {
	Enrich(ctx context.Context, consolidated []models.ConsolidatedRecord) (*registry.Result, error)
}

// Options tunes the orchestrator.
type Options struct {
	PeriodCount  int
	FetchWorkers int // 1 fetches archives sequentially
	BundleName   string
}

// Orchestrator wires the stages together.
type Orchestrator struct {
	discoverer Discoverer
	fetcher    ArchiveFetcher
	enricher   Enricher
	store      *store.TableStore
	opts       Options
	metrics    *metrics.Metrics
	log        *zap.Logger
}

// New creates an Orchestrator. m and log may be nil.
func New(d Discoverer, f ArchiveFetcher, e Enricher, s *store.TableStore, opts Options, m *metrics.Metrics, log *zap.Logger) *Orchestrator {
	if opts.PeriodCount < 1 {
		opts.PeriodCount = 3
	}
	if opts.FetchWorkers < 1 {
		opts.FetchWorkers = 1
	}
	if opts.BundleName == "" {
		opts.BundleName = store.DefaultBundleName
	}
	return &Orchestrator{
		discoverer: d,
		fetcher:    f,
		enricher:   e,
		store:      s,
		opts:       opts,
		metrics:    m,
		log:        logger.OrNop(log),
	}
}

// FromConfig builds an Orchestrator backed by the regulator's HTTP host.
func FromConfig(cfg config.Config, m *metrics.Metrics, log *zap.Logger) *Orchestrator {
	client := ingest.NewClient(ingest.ClientConfig{
		UserAgent:     cfg.UserAgent,
		RetryAttempts: cfg.RetryAttempts,
		RetryInitial:  cfg.RetryInitial.Duration,
		RateLimit:     cfg.RateLimit,
		RateBurst:     cfg.RateBurst,
	}, m, log)

	rawDir := ""
	if cfg.KeepRaw {
		rawDir = filepath.Join(cfg.DataDir, "raw")
	}
	sanitizer := sanitize.New(sanitize.Options{ConflictPolicy: sanitize.ParseConflictPolicy(cfg.ConflictPolicy)})

	return New(
		ingest.NewDiscoverer(client, cfg.BaseURL, cfg.ListingTimeout.Duration, log),
		ingest.NewFetcher(client, cfg.ArchiveTimeout.Duration, sanitizer, rawDir, log),
		registry.NewEnricher(client, cfg.RegistryURL, cfg.RegistryTimeout.Duration, log),
		store.NewTableStore(cfg.DataDir),
		Options{PeriodCount: cfg.PeriodCount, FetchWorkers: cfg.FetchWorkers, BundleName: cfg.BundleName},
		m, log,
	)
}

// =============================================================================
// ENTRY POINTS
// =============================================================================

// Extract runs the extract stage only.
func (o *Orchestrator) Extract(ctx context.Context) *Summary {
	return o.execute(ctx, o.extract)
}

// Transform runs the transform stage only, reading the consolidated table
// written by a previous extract.
func (o *Orchestrator) Transform(ctx context.Context) *Summary {
	return o.execute(ctx, o.transform)
}

// Run runs extract then transform. Transform is skipped when extract fails.
func (o *Orchestrator) Run(ctx context.Context) *Summary {
	return o.execute(ctx, o.extract, o.transform)
}

type stageFunc func(ctx context.Context, run *report.Run, sum *Summary) Result

func (o *Orchestrator) execute(ctx context.Context, stages ...stageFunc) *Summary {
	run := &report.Run{ID: uuid.NewString(), StartedAt: time.Now()}
	sum := &Summary{RunID: run.ID}
	log := o.log.With(zap.String("run_id", run.ID))

	for _, stage := range stages {
		res := stage(ctx, run, sum)
		sum.Results = append(sum.Results, res)
		run.Stages = append(run.Stages, report.Stage{
			Name:     res.Stage,
			Status:   string(res.Status),
			Duration: res.Duration,
			Warnings: res.Warnings,
		})
		o.metrics.ObserveStage(res.Stage, string(res.Status), res.Duration)

		fields := []zap.Field{
			zap.String("stage", res.Stage),
			zap.String("status", string(res.Status)),
			zap.Int("skipped", res.SkippedCount()),
			zap.Duration("took", res.Duration),
		}
		if res.Fatal() {
			log.Error("stage failed", append(fields, zap.Error(res.Err))...)
			break
		}
		log.Info("stage finished", fields...)
	}

	run.FinishedAt = time.Now()
	mdPath, _, err := report.Write(o.store.Dir(), run)
	if err != nil {
		log.Warn("run report not written", zap.Error(err))
	} else {
		sum.ReportPath = mdPath
	}
	return sum
}

// =============================================================================
// EXTRACT
// =============================================================================

func (o *Orchestrator) extract(ctx context.Context, run *report.Run, _ *Summary) Result {
	start := time.Now()
	res := Result{Stage: StageExtract}
	log := o.log.With(zap.String("stage", StageExtract))

	urls, err := o.discoverer.Discover(ctx, o.opts.PeriodCount)
	if err != nil {
		res.warnf("discovery truncated after %d archives: %v", len(urls), err)
	}
	if len(urls) < o.opts.PeriodCount {
		res.warnf("discovered %d of %d requested archives", len(urls), o.opts.PeriodCount)
	}
	log.Info("archives discovered", zap.Strings("urls", urls))

	results, err := o.fetchAll(ctx, urls)
	if err != nil {
		res.fail(eris.Wrap(err, "pipeline: fetch archives"))
		res.settle(start)
		return res
	}

	var batches []models.SanitizedBatch
	for i, url := range urls {
		r := results[i]
		if r.err != nil {
			res.skip(url, r.err)
			run.Archives = append(run.Archives, report.Archive{URL: url, Error: r.err.Error()})
			o.metrics.ObserveArchive(false, 0, 0)
			log.Warn("archive skipped", zap.String("url", url), zap.Error(r.err))
			continue
		}

		a := r.archive
		for _, f := range a.SkippedFiles {
			res.warnf("skipped file %s in %s", f, a.Name)
		}
		dropped := a.Findings.RowsIn - a.Findings.RowsOut + a.SkippedLines
		o.metrics.ObserveArchive(true, a.RowCount(), dropped)
		run.Findings.Add(a.Findings)
		run.Archives = append(run.Archives, report.Archive{
			URL:    url,
			Period: a.PeriodQuarter + "/" + a.PeriodYear,
			Files:  len(a.Files),
			Rows:   a.RowCount(),
		})
		batches = append(batches, a.Batches...)
	}

	if len(batches) == 0 {
		res.fail(eris.Wrapf(ErrNoArchives, "%d discovered, %d skipped", len(urls), res.SkippedCount()))
		res.settle(start)
		return res
	}

	records, cs := consolidate.Consolidate(batches)
	run.ConsolidatedRows = cs.Records
	run.MergedRows = cs.MergedRows

	path, err := o.store.WriteConsolidated(records)
	if err != nil {
		res.fail(err)
		res.settle(start)
		return res
	}
	run.Outputs = append(run.Outputs, path)
	log.Info("consolidated table written",
		zap.String("path", path),
		zap.Int("records", cs.Records),
		zap.Int("merged_rows", cs.MergedRows))

	res.settle(start)
	return res
}

type fetchOutcome struct {
	archive *ingest.ArchiveResult
	err     error
}

// fetchAll fetches every URL with at most FetchWorkers in flight. Per-archive
// failures are returned in the outcomes; only cancellation fails the call.
func (o *Orchestrator) fetchAll(ctx context.Context, urls []string) ([]fetchOutcome, error) {
	out := make([]fetchOutcome, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.FetchWorkers)

	for i, url := range urls {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			a, err := o.fetcher.FetchAndExtract(gctx, url)
			out[i] = fetchOutcome{archive: a, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// TRANSFORM
// =============================================================================

func (o *Orchestrator) transform(ctx context.Context, run *report.Run, sum *Summary) Result {
	start := time.Now()
	res := Result{Stage: StageTransform}
	log := o.log.With(zap.String("stage", StageTransform))

	fail := func(err error) Result {
		res.fail(err)
		res.settle(start)
		return res
	}

	consolidated, err := o.store.ReadConsolidated()
	if err != nil {
		return fail(err)
	}
	deduped := consolidate.DropExactDuplicates(consolidated)
	run.ConsolidatedRows = len(consolidated)
	run.DuplicateRows = len(consolidated) - len(deduped)

	enriched, err := o.enricher.Enrich(ctx, deduped)
	if err != nil {
		return fail(err)
	}
	run.RegistryRows = len(enriched.Registry)
	run.RegistryDuplicates = enriched.Summary.Duplicates
	run.UnmatchedRecords = enriched.Unmatched

	regPath, err := o.store.WriteRegistry(enriched.Registry)
	if err != nil {
		return fail(err)
	}

	aggregated := calc.Aggregate(enriched.Enriched)
	run.AggregatedRows = len(aggregated)
	aggPath, err := o.store.WriteAggregated(aggregated)
	if err != nil {
		return fail(err)
	}

	bundle, err := o.store.Package(o.opts.BundleName)
	if err != nil {
		return fail(err)
	}
	sum.BundlePath = bundle
	run.Outputs = append(run.Outputs, regPath, aggPath, bundle)

	top := calc.Summarize(aggregated, calc.DefaultTopN)
	log.Info("outputs packaged",
		zap.String("bundle", bundle),
		zap.Int("entities", top.Entities),
		zap.Float64("total_expense", top.TotalExpense))

	res.settle(start)
	return res
}
