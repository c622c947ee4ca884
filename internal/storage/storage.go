// Package storage provides shared types for activity storage.
//
// The concrete storage implementation lives in the sqlite sub-package.
// This package holds interface and value types that are referenced by
// both the sqlite implementation and its consumers (ingestors, tagger,
// cleaner, processor, API).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/chronicle-dev/chronicle/internal/types"
)

// ErrNotFound is returned when a requested entity does not exist in the database.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned on a unique constraint violation or conflicting state.
var ErrConflict = errors.New("conflict")

// ErrConnection is returned when the pool or database file is unreachable.
var ErrConnection = errors.New("connection error")

// ErrOperation is returned when a store operation fails for a non-connection reason.
var ErrOperation = errors.New("operation failed")

// ErrSchema is returned when schema initialization or migration fails.
var ErrSchema = errors.New("schema error")

// LeafFilter restricts leaf block queries to an edited-time window.
// Zero bounds are open.
type LeafFilter struct {
	EditedAfter  time.Time
	EditedBefore time.Time
	MissingIndex bool // only leaves lacking an abstract or an embedding for Model
	Model        string
	Limit        int
}

// TagCleanupCandidate pairs a tag with sample activity details for analysis.
type TagCleanupCandidate struct {
	Tag     *types.Tag
	Samples []string
}

// Store is the interface satisfied by *sqlite.Store.
// Consumers depend on this interface rather than on the concrete type so
// that fakes can be substituted in tests.
type Store interface {
	// Raw activities
	UpsertRawActivity(ctx context.Context, a *types.RawActivity) (id int64, inserted bool, err error)
	GetRawActivity(ctx context.Context, id int64) (*types.RawActivity, error)
	ListRawActivities(ctx context.Context, filter types.ActivityFilter) ([]*types.RawActivity, int, error)
	ListRawActivitiesInRange(ctx context.Context, dateStart, dateEnd string) ([]*types.RawActivity, error)
	GetRawActivitiesByIDs(ctx context.Context, ids []int64) ([]*types.RawActivity, error)

	// Note pages and blocks
	UpsertNotePage(ctx context.Context, p *types.NotePage) error
	GetNotePage(ctx context.Context, pageID string) (*types.NotePage, error)
	ListNotePages(ctx context.Context) ([]*types.NotePage, error)
	UpsertNoteBlock(ctx context.Context, b *types.NoteBlock) error
	GetNoteBlock(ctx context.Context, blockID string) (*types.NoteBlock, error)
	SetBlockAbstract(ctx context.Context, blockID, abstract string) error
	ListLeafBlocks(ctx context.Context, filter LeafFilter) ([]*types.NoteBlock, error)
	CountChildBlocks(ctx context.Context, blockID string) (int, error)
	AppendBlockEdit(ctx context.Context, blockID string, editedAt time.Time) error

	// Embeddings
	UpsertEmbedding(ctx context.Context, e *types.Embedding) error
	GetEmbedding(ctx context.Context, blockID, model string) (*types.Embedding, error)
	GetEmbeddings(ctx context.Context, model string, blockIDs []string) (map[string]*types.Embedding, error)

	// Tags
	CreateTag(ctx context.Context, t *types.Tag) (*types.Tag, error)
	GetTag(ctx context.Context, id int64) (*types.Tag, error)
	GetTagByName(ctx context.Context, name string) (*types.Tag, error)
	ListTags(ctx context.Context, opts types.TagListOptions) ([]*types.Tag, int, error)
	UpdateTag(ctx context.Context, id int64, updates map[string]interface{}) (*types.Tag, error)
	DeleteTag(ctx context.Context, id int64) error
	RecomputeTagUsage(ctx context.Context, tagIDs []int64) error

	// Processed activities
	CreateProcessedActivity(ctx context.Context, p *types.ProcessedActivity) (int64, error)
	GetProcessedActivity(ctx context.Context, id int64) (*types.ProcessedActivity, error)
	ListProcessedActivities(ctx context.Context, filter types.ProcessedFilter) ([]*types.ProcessedActivity, int, error)
	DeleteProcessedActivitiesInRange(ctx context.Context, dateStart, dateEnd string) (int64, error)

	// Activity tags
	AddActivityTag(ctx context.Context, at *types.ActivityTag) error
	DeleteActivityTagsForTag(ctx context.Context, tagID int64, dateStart, dateEnd string) (int64, error)
	MergeActivityTags(ctx context.Context, fromTagID, toTagID int64, dateStart, dateEnd string) (int64, error)
	ListTagsUsedInRange(ctx context.Context, dateStart, dateEnd string) ([]*types.Tag, error)
	SampleTagActivities(ctx context.Context, tagID int64, limit int, dateStart, dateEnd string) ([]string, error)

	// Insights
	Overview(ctx context.Context, dateStart, dateEnd string) (*types.Overview, error)
	TimeDistribution(ctx context.Context, dateStart, dateEnd string, groupBy types.GroupBy) (*types.TimeDistribution, error)
	Stats(ctx context.Context) (*types.SystemStats, error)

	// Jobs
	PutJob(ctx context.Context, j *types.Job) error
	GetJob(ctx context.Context, jobID string) (*types.Job, error)
	ListRecentJobs(ctx context.Context, limit int) ([]*types.Job, error)

	// Versioned resources (taxonomy artifacts)
	PutResource(ctx context.Context, namespace, name, content string) (version int, err error)
	GetLatestResource(ctx context.Context, namespace, name string) (content string, version int, err error)

	// Transactions
	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
	Path() string
}

// Transaction exposes the subset of store methods that execute within a
// single database transaction. This enables atomic workflows where multiple
// operations must either all succeed or all fail (e.g., persisting a
// processed activity together with its tag links).
//
// Semantics:
//   - All operations within the transaction share the same database connection.
//   - Changes are not visible to other connections until commit.
//   - If the callback returns an error or panics, the transaction is rolled back.
//   - On successful return from the callback, the transaction is committed.
type Transaction interface {
	UpsertRawActivity(ctx context.Context, a *types.RawActivity) (id int64, inserted bool, err error)

	CreateProcessedActivity(ctx context.Context, p *types.ProcessedActivity) (int64, error)
	DeleteProcessedActivitiesInRange(ctx context.Context, dateStart, dateEnd string) (int64, error)

	CreateTag(ctx context.Context, t *types.Tag) (*types.Tag, error)
	GetTagByName(ctx context.Context, name string) (*types.Tag, error)
	DeleteTag(ctx context.Context, id int64) error
	RecomputeTagUsage(ctx context.Context, tagIDs []int64) error

	AddActivityTag(ctx context.Context, at *types.ActivityTag) error
	DeleteActivityTagsForTag(ctx context.Context, tagID int64, dateStart, dateEnd string) (int64, error)
	MergeActivityTags(ctx context.Context, fromTagID, toTagID int64, dateStart, dateEnd string) (int64, error)

	PutResource(ctx context.Context, namespace, name, content string) (version int, err error)
	GetLatestResource(ctx context.Context, namespace, name string) (content string, version int, err error)
}
