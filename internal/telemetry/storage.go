package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/chronicle-dev/chronicle/internal/storage"
	"github.com/chronicle-dev/chronicle/internal/types"
)

const storageScopeName = "github.com/chronicle-dev/chronicle/storage"

// InstrumentedStore wraps storage.Store with OTel tracing and metrics.
// Every method gets a span and is counted in chronicle.storage.* metrics.
// Use WrapStore to create one; it returns the original store unchanged when
// telemetry is disabled.
type InstrumentedStore struct {
	inner    storage.Store
	tracer   trace.Tracer
	ops      metric.Int64Counter
	dur      metric.Float64Histogram
	errs     metric.Int64Counter
	rowGauge metric.Int64Gauge
}

// WrapStore returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is with zero overhead.
func WrapStore(s storage.Store) storage.Store {
	if !Enabled() {
		return s
	}
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("chronicle.storage.operations",
		metric.WithDescription("Total storage operations executed"),
	)
	dur, _ := m.Float64Histogram("chronicle.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("chronicle.storage.errors",
		metric.WithDescription("Total storage operation errors"),
	)
	rowGauge, _ := m.Int64Gauge("chronicle.table.rows",
		metric.WithDescription("Current row counts by table (snapshot from Stats)"),
	)
	return &InstrumentedStore{
		inner:    s,
		tracer:   Tracer(storageScopeName),
		ops:      ops,
		dur:      dur,
		errs:     errs,
		rowGauge: rowGauge,
	}
}

// op starts a span and records a metric for the named storage operation.
func (s *InstrumentedStore) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error.
func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

// ── Raw activities ──────────────────────────────────────────────────────────

func (s *InstrumentedStore) UpsertRawActivity(ctx context.Context, a *types.RawActivity) (int64, bool, error) {
	attrs := []attribute.KeyValue{attribute.String("chronicle.source", string(a.Source))}
	ctx, span, t := s.op(ctx, "UpsertRawActivity", attrs...)
	id, inserted, err := s.inner.UpsertRawActivity(ctx, a)
	s.done(ctx, span, t, err, attrs...)
	return id, inserted, err
}

func (s *InstrumentedStore) GetRawActivity(ctx context.Context, id int64) (*types.RawActivity, error) {
	attrs := []attribute.KeyValue{attribute.Int64("chronicle.activity.id", id)}
	ctx, span, t := s.op(ctx, "GetRawActivity", attrs...)
	v, err := s.inner.GetRawActivity(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) ListRawActivities(ctx context.Context, filter types.ActivityFilter) ([]*types.RawActivity, int, error) {
	ctx, span, t := s.op(ctx, "ListRawActivities")
	v, total, err := s.inner.ListRawActivities(ctx, filter)
	if err == nil {
		span.SetAttributes(attribute.Int("chronicle.result.count", len(v)))
	}
	s.done(ctx, span, t, err)
	return v, total, err
}

func (s *InstrumentedStore) ListRawActivitiesInRange(ctx context.Context, dateStart, dateEnd string) ([]*types.RawActivity, error) {
	attrs := []attribute.KeyValue{
		attribute.String("chronicle.range.start", dateStart),
		attribute.String("chronicle.range.end", dateEnd),
	}
	ctx, span, t := s.op(ctx, "ListRawActivitiesInRange", attrs...)
	v, err := s.inner.ListRawActivitiesInRange(ctx, dateStart, dateEnd)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) GetRawActivitiesByIDs(ctx context.Context, ids []int64) ([]*types.RawActivity, error) {
	attrs := []attribute.KeyValue{attribute.Int("chronicle.id.count", len(ids))}
	ctx, span, t := s.op(ctx, "GetRawActivitiesByIDs", attrs...)
	v, err := s.inner.GetRawActivitiesByIDs(ctx, ids)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

// ── Note pages and blocks ───────────────────────────────────────────────────

func (s *InstrumentedStore) UpsertNotePage(ctx context.Context, p *types.NotePage) error {
	attrs := []attribute.KeyValue{attribute.String("chronicle.page.id", p.PageID)}
	ctx, span, t := s.op(ctx, "UpsertNotePage", attrs...)
	err := s.inner.UpsertNotePage(ctx, p)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) GetNotePage(ctx context.Context, pageID string) (*types.NotePage, error) {
	attrs := []attribute.KeyValue{attribute.String("chronicle.page.id", pageID)}
	ctx, span, t := s.op(ctx, "GetNotePage", attrs...)
	v, err := s.inner.GetNotePage(ctx, pageID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) ListNotePages(ctx context.Context) ([]*types.NotePage, error) {
	ctx, span, t := s.op(ctx, "ListNotePages")
	v, err := s.inner.ListNotePages(ctx)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStore) UpsertNoteBlock(ctx context.Context, b *types.NoteBlock) error {
	attrs := []attribute.KeyValue{attribute.String("chronicle.block.id", b.BlockID)}
	ctx, span, t := s.op(ctx, "UpsertNoteBlock", attrs...)
	err := s.inner.UpsertNoteBlock(ctx, b)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) GetNoteBlock(ctx context.Context, blockID string) (*types.NoteBlock, error) {
	attrs := []attribute.KeyValue{attribute.String("chronicle.block.id", blockID)}
	ctx, span, t := s.op(ctx, "GetNoteBlock", attrs...)
	v, err := s.inner.GetNoteBlock(ctx, blockID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) SetBlockAbstract(ctx context.Context, blockID, abstract string) error {
	attrs := []attribute.KeyValue{attribute.String("chronicle.block.id", blockID)}
	ctx, span, t := s.op(ctx, "SetBlockAbstract", attrs...)
	err := s.inner.SetBlockAbstract(ctx, blockID, abstract)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) ListLeafBlocks(ctx context.Context, filter storage.LeafFilter) ([]*types.NoteBlock, error) {
	ctx, span, t := s.op(ctx, "ListLeafBlocks")
	v, err := s.inner.ListLeafBlocks(ctx, filter)
	if err == nil {
		span.SetAttributes(attribute.Int("chronicle.result.count", len(v)))
	}
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStore) CountChildBlocks(ctx context.Context, blockID string) (int, error) {
	attrs := []attribute.KeyValue{attribute.String("chronicle.block.id", blockID)}
	ctx, span, t := s.op(ctx, "CountChildBlocks", attrs...)
	v, err := s.inner.CountChildBlocks(ctx, blockID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) AppendBlockEdit(ctx context.Context, blockID string, editedAt time.Time) error {
	attrs := []attribute.KeyValue{attribute.String("chronicle.block.id", blockID)}
	ctx, span, t := s.op(ctx, "AppendBlockEdit", attrs...)
	err := s.inner.AppendBlockEdit(ctx, blockID, editedAt)
	s.done(ctx, span, t, err, attrs...)
	return err
}

// ── Embeddings ──────────────────────────────────────────────────────────────

func (s *InstrumentedStore) UpsertEmbedding(ctx context.Context, e *types.Embedding) error {
	attrs := []attribute.KeyValue{attribute.String("chronicle.embed.model", e.Model)}
	ctx, span, t := s.op(ctx, "UpsertEmbedding", attrs...)
	err := s.inner.UpsertEmbedding(ctx, e)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) GetEmbedding(ctx context.Context, blockID, model string) (*types.Embedding, error) {
	attrs := []attribute.KeyValue{attribute.String("chronicle.embed.model", model)}
	ctx, span, t := s.op(ctx, "GetEmbedding", attrs...)
	v, err := s.inner.GetEmbedding(ctx, blockID, model)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) GetEmbeddings(ctx context.Context, model string, blockIDs []string) (map[string]*types.Embedding, error) {
	attrs := []attribute.KeyValue{
		attribute.String("chronicle.embed.model", model),
		attribute.Int("chronicle.id.count", len(blockIDs)),
	}
	ctx, span, t := s.op(ctx, "GetEmbeddings", attrs...)
	v, err := s.inner.GetEmbeddings(ctx, model, blockIDs)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

// ── Tags ────────────────────────────────────────────────────────────────────

func (s *InstrumentedStore) CreateTag(ctx context.Context, tag *types.Tag) (*types.Tag, error) {
	attrs := []attribute.KeyValue{attribute.String("chronicle.tag.name", tag.Name)}
	ctx, span, t := s.op(ctx, "CreateTag", attrs...)
	v, err := s.inner.CreateTag(ctx, tag)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) GetTag(ctx context.Context, id int64) (*types.Tag, error) {
	attrs := []attribute.KeyValue{attribute.Int64("chronicle.tag.id", id)}
	ctx, span, t := s.op(ctx, "GetTag", attrs...)
	v, err := s.inner.GetTag(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) GetTagByName(ctx context.Context, name string) (*types.Tag, error) {
	attrs := []attribute.KeyValue{attribute.String("chronicle.tag.name", name)}
	ctx, span, t := s.op(ctx, "GetTagByName", attrs...)
	v, err := s.inner.GetTagByName(ctx, name)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) ListTags(ctx context.Context, opts types.TagListOptions) ([]*types.Tag, int, error) {
	ctx, span, t := s.op(ctx, "ListTags")
	v, total, err := s.inner.ListTags(ctx, opts)
	s.done(ctx, span, t, err)
	return v, total, err
}

func (s *InstrumentedStore) UpdateTag(ctx context.Context, id int64, updates map[string]interface{}) (*types.Tag, error) {
	attrs := []attribute.KeyValue{
		attribute.Int64("chronicle.tag.id", id),
		attribute.Int("chronicle.update.count", len(updates)),
	}
	ctx, span, t := s.op(ctx, "UpdateTag", attrs...)
	v, err := s.inner.UpdateTag(ctx, id, updates)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) DeleteTag(ctx context.Context, id int64) error {
	attrs := []attribute.KeyValue{attribute.Int64("chronicle.tag.id", id)}
	ctx, span, t := s.op(ctx, "DeleteTag", attrs...)
	err := s.inner.DeleteTag(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) RecomputeTagUsage(ctx context.Context, tagIDs []int64) error {
	attrs := []attribute.KeyValue{attribute.Int("chronicle.id.count", len(tagIDs))}
	ctx, span, t := s.op(ctx, "RecomputeTagUsage", attrs...)
	err := s.inner.RecomputeTagUsage(ctx, tagIDs)
	s.done(ctx, span, t, err, attrs...)
	return err
}

// ── Processed activities ────────────────────────────────────────────────────

func (s *InstrumentedStore) CreateProcessedActivity(ctx context.Context, p *types.ProcessedActivity) (int64, error) {
	attrs := []attribute.KeyValue{attribute.Int("chronicle.raw.count", len(p.RawActivityIDs))}
	ctx, span, t := s.op(ctx, "CreateProcessedActivity", attrs...)
	id, err := s.inner.CreateProcessedActivity(ctx, p)
	s.done(ctx, span, t, err, attrs...)
	return id, err
}

func (s *InstrumentedStore) GetProcessedActivity(ctx context.Context, id int64) (*types.ProcessedActivity, error) {
	attrs := []attribute.KeyValue{attribute.Int64("chronicle.activity.id", id)}
	ctx, span, t := s.op(ctx, "GetProcessedActivity", attrs...)
	v, err := s.inner.GetProcessedActivity(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) ListProcessedActivities(ctx context.Context, filter types.ProcessedFilter) ([]*types.ProcessedActivity, int, error) {
	ctx, span, t := s.op(ctx, "ListProcessedActivities")
	v, total, err := s.inner.ListProcessedActivities(ctx, filter)
	if err == nil {
		span.SetAttributes(attribute.Int("chronicle.result.count", len(v)))
	}
	s.done(ctx, span, t, err)
	return v, total, err
}

func (s *InstrumentedStore) DeleteProcessedActivitiesInRange(ctx context.Context, dateStart, dateEnd string) (int64, error) {
	attrs := []attribute.KeyValue{
		attribute.String("chronicle.range.start", dateStart),
		attribute.String("chronicle.range.end", dateEnd),
	}
	ctx, span, t := s.op(ctx, "DeleteProcessedActivitiesInRange", attrs...)
	n, err := s.inner.DeleteProcessedActivitiesInRange(ctx, dateStart, dateEnd)
	s.done(ctx, span, t, err, attrs...)
	return n, err
}

// ── Activity tags ───────────────────────────────────────────────────────────

func (s *InstrumentedStore) AddActivityTag(ctx context.Context, at *types.ActivityTag) error {
	attrs := []attribute.KeyValue{attribute.Int64("chronicle.tag.id", at.TagID)}
	ctx, span, t := s.op(ctx, "AddActivityTag", attrs...)
	err := s.inner.AddActivityTag(ctx, at)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) DeleteActivityTagsForTag(ctx context.Context, tagID int64, dateStart, dateEnd string) (int64, error) {
	attrs := []attribute.KeyValue{attribute.Int64("chronicle.tag.id", tagID)}
	ctx, span, t := s.op(ctx, "DeleteActivityTagsForTag", attrs...)
	n, err := s.inner.DeleteActivityTagsForTag(ctx, tagID, dateStart, dateEnd)
	s.done(ctx, span, t, err, attrs...)
	return n, err
}

func (s *InstrumentedStore) MergeActivityTags(ctx context.Context, fromTagID, toTagID int64, dateStart, dateEnd string) (int64, error) {
	attrs := []attribute.KeyValue{
		attribute.Int64("chronicle.tag.from", fromTagID),
		attribute.Int64("chronicle.tag.to", toTagID),
	}
	ctx, span, t := s.op(ctx, "MergeActivityTags", attrs...)
	n, err := s.inner.MergeActivityTags(ctx, fromTagID, toTagID, dateStart, dateEnd)
	s.done(ctx, span, t, err, attrs...)
	return n, err
}

func (s *InstrumentedStore) ListTagsUsedInRange(ctx context.Context, dateStart, dateEnd string) ([]*types.Tag, error) {
	ctx, span, t := s.op(ctx, "ListTagsUsedInRange")
	v, err := s.inner.ListTagsUsedInRange(ctx, dateStart, dateEnd)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStore) SampleTagActivities(ctx context.Context, tagID int64, limit int, dateStart, dateEnd string) ([]string, error) {
	attrs := []attribute.KeyValue{attribute.Int64("chronicle.tag.id", tagID)}
	ctx, span, t := s.op(ctx, "SampleTagActivities", attrs...)
	v, err := s.inner.SampleTagActivities(ctx, tagID, limit, dateStart, dateEnd)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

// ── Insights ────────────────────────────────────────────────────────────────

func (s *InstrumentedStore) Overview(ctx context.Context, dateStart, dateEnd string) (*types.Overview, error) {
	ctx, span, t := s.op(ctx, "Overview")
	v, err := s.inner.Overview(ctx, dateStart, dateEnd)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStore) TimeDistribution(ctx context.Context, dateStart, dateEnd string, groupBy types.GroupBy) (*types.TimeDistribution, error) {
	attrs := []attribute.KeyValue{attribute.String("chronicle.group_by", string(groupBy))}
	ctx, span, t := s.op(ctx, "TimeDistribution", attrs...)
	v, err := s.inner.TimeDistribution(ctx, dateStart, dateEnd, groupBy)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) Stats(ctx context.Context) (*types.SystemStats, error) {
	ctx, span, t := s.op(ctx, "Stats")
	v, err := s.inner.Stats(ctx)
	s.done(ctx, span, t, err)
	if err == nil && v != nil {
		// Snapshot current table sizes as gauges.
		tableAttr := func(table string) metric.MeasurementOption {
			return metric.WithAttributes(attribute.String("table", table))
		}
		s.rowGauge.Record(ctx, int64(v.RawActivities), tableAttr("raw_activities"))
		s.rowGauge.Record(ctx, int64(v.ProcessedActivities), tableAttr("processed_activities"))
		s.rowGauge.Record(ctx, int64(v.Tags), tableAttr("tags"))
		s.rowGauge.Record(ctx, int64(v.NoteBlocks), tableAttr("note_blocks"))
		s.rowGauge.Record(ctx, int64(v.Embeddings), tableAttr("embeddings"))
	}
	return v, err
}

// ── Jobs ────────────────────────────────────────────────────────────────────

func (s *InstrumentedStore) PutJob(ctx context.Context, j *types.Job) error {
	attrs := []attribute.KeyValue{
		attribute.String("chronicle.job.id", j.JobID),
		attribute.String("chronicle.job.status", string(j.Status)),
	}
	ctx, span, t := s.op(ctx, "PutJob", attrs...)
	err := s.inner.PutJob(ctx, j)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) GetJob(ctx context.Context, jobID string) (*types.Job, error) {
	attrs := []attribute.KeyValue{attribute.String("chronicle.job.id", jobID)}
	ctx, span, t := s.op(ctx, "GetJob", attrs...)
	v, err := s.inner.GetJob(ctx, jobID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) ListRecentJobs(ctx context.Context, limit int) ([]*types.Job, error) {
	ctx, span, t := s.op(ctx, "ListRecentJobs")
	v, err := s.inner.ListRecentJobs(ctx, limit)
	s.done(ctx, span, t, err)
	return v, err
}

// ── Resources ───────────────────────────────────────────────────────────────

func (s *InstrumentedStore) PutResource(ctx context.Context, namespace, name, content string) (int, error) {
	attrs := []attribute.KeyValue{attribute.String("chronicle.resource", namespace + "/" + name)}
	ctx, span, t := s.op(ctx, "PutResource", attrs...)
	v, err := s.inner.PutResource(ctx, namespace, name, content)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) GetLatestResource(ctx context.Context, namespace, name string) (string, int, error) {
	attrs := []attribute.KeyValue{attribute.String("chronicle.resource", namespace + "/" + name)}
	ctx, span, t := s.op(ctx, "GetLatestResource", attrs...)
	content, version, err := s.inner.GetLatestResource(ctx, namespace, name)
	s.done(ctx, span, t, err, attrs...)
	return content, version, err
}

// ── Transactions ────────────────────────────────────────────────────────────

func (s *InstrumentedStore) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	ctx, span, t := s.op(ctx, "RunInTransaction")
	err := s.inner.RunInTransaction(ctx, fn)
	s.done(ctx, span, t, err)
	return err
}

// ── Lifecycle ───────────────────────────────────────────────────────────────

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	return s.inner.Ping(ctx)
}

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}

func (s *InstrumentedStore) Path() string {
	return s.inner.Path()
}
