package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chronicle-dev/chronicle/internal/storage"
	"github.com/chronicle-dev/chronicle/internal/types"
)

// RunInTransaction executes fn inside a single BEGIN IMMEDIATE transaction
// on a dedicated connection. The write lock is taken up front so concurrent
// writers queue at BEGIN instead of deadlocking mid-transaction. Any error
// from fn rolls the whole transaction back.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	if s.closed.Load() {
		return fmt.Errorf("run in transaction: %w: store is closed", storage.ErrConnection)
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return wrapDBError("acquire connection", err)
	}
	defer conn.Close()

	if err := beginImmediateWithRetry(ctx, conn, 5, 10*time.Millisecond); err != nil {
		return err
	}

	committed := false
	defer func() {
		if p := recover(); p != nil {
			// Roll back on a fresh context: ctx may already be done.
			conn.ExecContext(context.Background(), "ROLLBACK")
			panic(p)
		}
		if !committed {
			conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(&txStore{conn: conn}); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return wrapDBError("commit transaction", err)
	}
	committed = true
	return nil
}

// beginImmediateWithRetry issues BEGIN IMMEDIATE with linear backoff while
// another writer holds the reserved lock.
func beginImmediateWithRetry(ctx context.Context, conn *sql.Conn, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		_, err = conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err == nil {
			return nil
		}
		if !isLockedError(err) {
			return wrapDBError("begin transaction", err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("begin transaction: %w", ctx.Err())
		case <-time.After(time.Duration(i+1) * delay):
		}
	}
	return wrapDBError("begin transaction", err)
}

// txStore exposes the write operations that participate in multi-statement
// transactions. It shares the SQL helpers with Store; the connection holds
// an open transaction for its whole lifetime.
type txStore struct {
	conn *sql.Conn
}

var _ storage.Transaction = (*txStore)(nil)

func (t *txStore) UpsertRawActivity(ctx context.Context, a *types.RawActivity) (int64, bool, error) {
	return upsertRawActivity(ctx, t.conn, a)
}

func (t *txStore) CreateProcessedActivity(ctx context.Context, p *types.ProcessedActivity) (int64, error) {
	return createProcessedActivity(ctx, t.conn, p)
}

func (t *txStore) DeleteProcessedActivitiesInRange(ctx context.Context, dateStart, dateEnd string) (int64, error) {
	return deleteProcessedActivitiesInRange(ctx, t.conn, dateStart, dateEnd)
}

func (t *txStore) CreateTag(ctx context.Context, tag *types.Tag) (*types.Tag, error) {
	return createTag(ctx, t.conn, tag)
}

func (t *txStore) GetTagByName(ctx context.Context, name string) (*types.Tag, error) {
	return getTagByName(ctx, t.conn, name)
}

func (t *txStore) DeleteTag(ctx context.Context, id int64) error {
	return deleteTag(ctx, t.conn, id)
}

func (t *txStore) RecomputeTagUsage(ctx context.Context, tagIDs []int64) error {
	return recomputeTagUsage(ctx, t.conn, tagIDs)
}

func (t *txStore) AddActivityTag(ctx context.Context, at *types.ActivityTag) error {
	return addActivityTag(ctx, t.conn, at)
}

func (t *txStore) DeleteActivityTagsForTag(ctx context.Context, tagID int64, dateStart, dateEnd string) (int64, error) {
	return deleteActivityTagsForTag(ctx, t.conn, tagID, dateStart, dateEnd)
}

func (t *txStore) MergeActivityTags(ctx context.Context, fromTagID, toTagID int64, dateStart, dateEnd string) (int64, error) {
	return mergeActivityTags(ctx, t.conn, fromTagID, toTagID, dateStart, dateEnd)
}

func (t *txStore) PutResource(ctx context.Context, namespace, name, content string) (int, error) {
	return putResource(ctx, t.conn, namespace, name, content)
}

func (t *txStore) GetLatestResource(ctx context.Context, namespace, name string) (string, int, error) {
	return getLatestResource(ctx, t.conn, namespace, name)
}
