// Package processor orchestrates the tagging pipeline: it reprocesses the
// raw activities in scope into processed activities with tag links and
// publishes per-activity progress through the job runner.
package processor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chronicle-dev/chronicle/internal/jobs"
	"github.com/chronicle-dev/chronicle/internal/logging"
	"github.com/chronicle-dev/chronicle/internal/storage"
	"github.com/chronicle-dev/chronicle/internal/tagger"
	"github.com/chronicle-dev/chronicle/internal/taxonomy"
	"github.com/chronicle-dev/chronicle/internal/types"
)

// Options scope one processing run. Empty dates are open sentinels; with
// both empty the whole raw activity table is reprocessed.
type Options struct {
	DateStart string
	DateEnd   string
	// UseDatabase selects the stored raw activity table as the input
	// corpus. The store is the only wired source, so false degrades to
	// true with a warning.
	UseDatabase bool
	// RegenerateSystemTags forces a taxonomy rebuild before tagging.
	RegenerateSystemTags bool
}

// Matcher groups raw activities into multi-source units before tagging.
// The default pipeline runs without one and emits one processed activity
// per raw activity.
type Matcher interface {
	Match(ctx context.Context, raws []*types.RawActivity) ([][]*types.RawActivity, error)
}

// RegenPolicy decides when a run rebuilds the taxonomy from the corpus
// without being asked to. Disabled by default.
type RegenPolicy struct {
	Enabled bool
	// Ratio triggers a rebuild when |tags| / |activities| exceeds it.
	Ratio float64
}

// Processor runs the tagging pipeline over a date scope.
type Processor struct {
	store   storage.Store
	tagger  *tagger.Tagger
	builder *taxonomy.Builder // nil disables all regeneration
	matcher Matcher           // nil disables multi-source grouping
	regen   RegenPolicy
	log     *slog.Logger
}

// New creates a Processor. builder may be nil when taxonomy regeneration
// is not wired.
func New(store storage.Store, tg *tagger.Tagger, builder *taxonomy.Builder, regen RegenPolicy) *Processor {
	return &Processor{
		store:   store,
		tagger:  tg,
		builder: builder,
		regen:   regen,
		log:     logging.Component("processor"),
	}
}

// SetMatcher installs a multi-source matcher. Admitted by the data model
// but off by default.
func (p *Processor) SetMatcher(m Matcher) { p.matcher = m }

// Run executes one processing job: delete processed rows in range,
// reprocess raw activities in store order, report progress per activity.
// Per-activity failures are logged and counted, never fatal. Cancellation
// is checked between activities.
func (p *Processor) Run(ctx context.Context, opts Options, prog *jobs.Progress) (types.JobCounters, error) {
	var counters types.JobCounters

	if !opts.UseDatabase {
		p.log.Warn("use_database=false requested; the store is the only wired activity source")
	}

	raws, err := p.store.ListRawActivitiesInRange(ctx, opts.DateStart, opts.DateEnd)
	if err != nil {
		return counters, fmt.Errorf("loading raw activities: %w", err)
	}
	counters.RawActivities = len(raws)

	if err := p.maybeRegenerate(ctx, opts, len(raws)); err != nil {
		// A failed rebuild degrades to the active taxonomy.
		p.log.Warn("taxonomy regeneration failed, tagging with active taxonomy", "error", err)
	}

	if _, err := p.store.DeleteProcessedActivitiesInRange(ctx, opts.DateStart, opts.DateEnd); err != nil {
		return counters, fmt.Errorf("clearing processed activities: %w", err)
	}

	if p.matcher != nil {
		p.log.Debug("matcher configured but multi-source grouping is disabled in this pipeline")
	}

	uniqueTags := make(map[string]bool)
	totalTags := 0

	for i, raw := range raws {
		if err := ctx.Err(); err != nil {
			return counters, fmt.Errorf("cancelled after %d of %d activities: %w", i, len(raws), err)
		}

		_, dec, err := p.tagger.TagActivity(ctx, raw)
		if err != nil {
			counters.Failed++
			p.log.Warn("tagging activity failed, skipping",
				"raw_id", raw.ID, "date", raw.Date, "error", err)
			continue
		}
		counters.ProcessedActivities++
		totalTags += len(dec.Tags)

		names := make([]string, len(dec.Tags))
		for j, tag := range dec.Tags {
			names[j] = tag.Name
			uniqueTags[tag.Name] = true
		}
		if prog != nil {
			prog.Publish(i+1, len(raws), raw.Details, names)
		}
	}

	counters.UniqueTags = len(uniqueTags)
	if counters.ProcessedActivities > 0 {
		counters.AverageTagsPerActivity = float64(totalTags) / float64(counters.ProcessedActivities)
	}

	p.log.Info("processing run finished",
		"raw", counters.RawActivities,
		"processed", counters.ProcessedActivities,
		"failed", counters.Failed,
		"unique_tags", counters.UniqueTags,
	)
	return counters, nil
}

// maybeRegenerate rebuilds the taxonomy when forced or when the regen
// policy's tag-to-activity ratio is exceeded.
func (p *Processor) maybeRegenerate(ctx context.Context, opts Options, activityCount int) error {
	if p.builder == nil {
		return nil
	}

	rebuild := opts.RegenerateSystemTags
	if !rebuild && p.regen.Enabled && activityCount > 0 {
		_, total, err := p.store.ListTags(ctx, types.TagListOptions{Limit: 1})
		if err != nil {
			return fmt.Errorf("counting tags: %w", err)
		}
		ratio := p.regen.Ratio
		if ratio <= 0 {
			ratio = 0.3
		}
		rebuild = float64(total)/float64(activityCount) > ratio
	}
	if !rebuild {
		return nil
	}

	if _, _, _, err := p.builder.Build(ctx, taxonomy.BuildOptions{
		DateStart: opts.DateStart,
		DateEnd:   opts.DateEnd,
	}); err != nil {
		return err
	}
	return p.tagger.ReloadTaxonomy(ctx)
}
