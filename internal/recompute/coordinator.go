package recompute

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/podrollup/internal/audience"
	"github.com/onnwee/podrollup/internal/blob"
	"github.com/onnwee/podrollup/internal/jobs"
	"github.com/onnwee/podrollup/internal/summary"
	"github.com/onnwee/podrollup/internal/tracing"
)

// Step names used in the result's times map.
const (
	StepListDailies = "listDailies"
	StepDailies     = "dailies"
	StepAggregates  = "aggregates"
	StepAudience    = "audience"
)

// Result is what a recomputation run reports back: elapsed milliseconds per
// step and, when the audience phase ran, its outcome.
type Result struct {
	Times    map[string]int64 `json:"times"`
	Audience *audience.Result `json:"audience,omitempty"`
}

// Coordinator runs the phases of a recomputation job against one store.
type Coordinator struct {
	store   blob.Store
	logger  *slog.Logger
	metrics *jobs.Metrics
}

// NewCoordinator creates a coordinator. metrics may be nil.
func NewCoordinator(store blob.Store, logger *slog.Logger, metrics *jobs.Metrics) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: store, logger: logger, metrics: metrics}
}

// Run executes the job's phases in order: dailies, aggregates, audience.
// Each daily recomputation is independent and idempotent, so a failed run
// leaves no state that a later full run would not overwrite.
func (c *Coordinator) Run(ctx context.Context, job *Job) (*Result, error) {
	result := &Result{Times: make(map[string]int64)}
	logger := c.logger.With(
		slog.String("show", job.ShowUUID),
		slog.String("month", job.Month))

	var dailyKeys []string
	if job.wantsPhase(PhaseDailies) || job.wantsPhase(PhaseAggregates) {
		start := time.Now()
		keys, err := c.store.List(ctx, summary.ShowDailyPrefix(job.ShowUUID, job.Month))
		result.Times[StepListDailies] = time.Since(start).Milliseconds()
		if err != nil {
			return nil, fmt.Errorf("list dailies: %w", err)
		}
		dailyKeys = keys
	}

	if job.wantsPhase(PhaseDailies) {
		if err := c.timed(ctx, job, result, StepDailies, func(ctx context.Context) error {
			return c.runDailies(ctx, job, logger, dailyKeys)
		}); err != nil {
			return nil, err
		}
	}

	if job.wantsPhase(PhaseAggregates) {
		if err := c.timed(ctx, job, result, StepAggregates, func(ctx context.Context) error {
			return c.runAggregates(ctx, job, logger, dailyKeys)
		}); err != nil {
			return nil, err
		}
	}

	if job.wantsPhase(PhaseAudience) {
		reducer := &audience.Reducer{Store: c.store, Logger: logger}
		if c.metrics != nil {
			reducer.OnRetry = c.metrics.RecordBlobRetry
		}
		if err := c.timed(ctx, job, result, StepAudience, func(ctx context.Context) error {
			res, err := reducer.RecomputeMonth(ctx, job.ShowUUID, job.Month, job.AudiencePart)
			if err != nil {
				return err
			}
			result.Audience = res
			return nil
		}); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// timed runs one phase inside a span, records its elapsed milliseconds, and
// reports job metrics.
func (c *Coordinator) timed(ctx context.Context, job *Job, result *Result, step string, fn func(context.Context) error) error {
	ctx, span := tracing.StartPhaseSpan(ctx, step, job.ShowUUID, job.Month)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	result.Times[step] = elapsed.Milliseconds()

	if c.metrics != nil {
		c.metrics.ObservePhase(step, err == nil, elapsed)
	}
	if job.Log {
		if err != nil {
			c.logger.Error("phase failed", slog.String("phase", step), slog.String("error", err.Error()))
		} else {
			c.logger.Info("phase complete", slog.String("phase", step), slog.Duration("elapsed", elapsed))
		}
	}
	if err != nil {
		tracing.RecordError(span, err)
	}
	return err
}

// runDailies recomputes each selected day and persists its summary and
// audience file, the two writes in parallel. Days run concurrently unless
// the job asked for sequential order.
func (c *Coordinator) runDailies(ctx context.Context, job *Job, logger *slog.Logger, dailyKeys []string) error {
	keys := filterDailyKeys(dailyKeys, job.StartDay, job.MaxDays, job.MaxDaysSet)

	if job.Sequential {
		for _, key := range keys {
			if err := c.computeAndSaveDaily(ctx, job, logger, key); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			return c.computeAndSaveDaily(gctx, job, logger, key)
		})
	}
	return g.Wait()
}

func (c *Coordinator) computeAndSaveDaily(ctx context.Context, job *Job, logger *slog.Logger, key string) error {
	date := summary.DateFromKey(key)
	s, aud, err := summary.ComputeDaily(ctx, c.store, job.ShowUUID, key, date)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := summary.SaveSummary(gctx, c.store, s)
		return err
	})
	g.Go(func() error {
		_, err := summary.SaveDailyAudience(gctx, c.store, aud)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if job.Log {
		logger.Info("daily recomputed",
			slog.String("date", date),
			slog.Int64("downloads", summary.Total(s.HourlyDownloads)),
			slog.Int("audience", len(aud.IDs)))
	}
	return nil
}

// runAggregates sums the month's daily summaries and folds the result into
// the show's overall record.
func (c *Coordinator) runAggregates(ctx context.Context, job *Job, logger *slog.Logger, dailyKeys []string) error {
	inputKeys := make([]string, 0, len(dailyKeys))
	for _, key := range dailyKeys {
		inputKeys = append(inputKeys, summary.SummaryKeyForDailyKey(job.ShowUUID, key))
	}

	agg, err := summary.AggregateSummaries(ctx, c.store, job.ShowUUID, inputKeys, job.Month)
	if err != nil {
		return err
	}
	wrote, err := summary.MergeOverall(ctx, c.store, agg)
	if err != nil {
		return err
	}
	if job.Log {
		logger.Info("aggregates recomputed",
			slog.Int("inputs", len(agg.Sources)),
			slog.Bool("overallUpdated", wrote))
	}
	return nil
}

// filterDailyKeys applies the startDay/maxDays window. maxDays=0 selects
// nothing; an unset maxDays leaves the window open-ended above.
func filterDailyKeys(keys []string, startDay, maxDays int, maxDaysSet bool) []string {
	if maxDaysSet && maxDays == 0 {
		return nil
	}
	if startDay == 0 && !maxDaysSet {
		return keys
	}

	lower := startDay
	if lower == 0 {
		lower = 1
	}
	upper := 31
	if maxDaysSet {
		upper = lower + maxDays - 1
	}

	var selected []string
	for _, key := range keys {
		date := summary.DateFromKey(key)
		if len(date) != len("2006-01-02") {
			continue
		}
		day, err := strconv.Atoi(date[8:])
		if err != nil {
			continue
		}
		if day >= lower && day <= upper {
			selected = append(selected, key)
		}
	}
	return selected
}
