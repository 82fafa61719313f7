package cloudsync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/zawalid/watchfolio/internal/library/schema"
	"github.com/zawalid/watchfolio/internal/library/store"
)

// SyncToCloud upserts every local item to the cloud. Remote rows missing
// locally are left alone; deletions only travel through RemoveFromCloud and
// ClearRemote.
func (e *Engine) SyncToCloud(ctx context.Context) error {
	return e.runCycle(ctx, "Push", true, e.push)
}

func (e *Engine) push(ctx context.Context) error {
	libraryID, err := e.ensureLibrary(ctx)
	if err != nil {
		return err
	}
	items, err := e.store.AllItems(ctx)
	if err != nil {
		return fmt.Errorf("failed to read local library: %w", err)
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	p := pool.New().WithMaxGoroutines(e.cfg.PushConcurrency)
	for _, item := range items {
		p.Go(func() {
			if err := e.upload(ctx, libraryID, item); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", item.ID, err))
				mu.Unlock()
			}
		})
	}
	p.Wait()

	if len(errs) > 0 {
		for _, err := range errs[1:] {
			e.logger.Printf("Warning: push failed for %v", err)
		}
		return fmt.Errorf("failed to push %d of %d items: %w", len(errs), len(items), errs[0])
	}
	e.logger.Printf("Pushed %d items", len(items))
	return nil
}

func (e *Engine) upload(ctx context.Context, libraryID string, item *schema.LibraryItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := item.Clone()
	c.LibraryID = libraryID
	return e.adapter.UpsertItem(ctx, libraryID, c)
}

// SyncItem pushes one item immediately, bypassing the debounce.
func (e *Engine) SyncItem(ctx context.Context, item *schema.LibraryItem) error {
	if item == nil {
		return fmt.Errorf("item cannot be nil")
	}
	return e.runCycle(ctx, "Push "+item.ID, true, func(ctx context.Context) error {
		libraryID, err := e.ensureLibrary(ctx)
		if err != nil {
			return err
		}
		return e.upload(ctx, libraryID, item)
	})
}

// RemoveFromCloud deletes one row from the cloud. It is the only path that
// deletes individual remote rows. Any failure queues the deletion for the
// next drain; the local row is already gone, so nothing else records it.
func (e *Engine) RemoveFromCloud(ctx context.Context, mediaType schema.MediaType, tmdbID int) error {
	key := schema.ItemID(mediaType, tmdbID)
	err := e.runCycle(ctx, "Remove "+key, true, func(ctx context.Context) error {
		libraryID, err := e.ensureLibrary(ctx)
		if err != nil {
			return err
		}
		return e.adapter.DeleteItem(ctx, libraryID, key)
	})

	if err != nil {
		qctx := context.WithoutCancel(ctx)
		if qerr := e.store.EnqueueOperation(qctx, schema.SyncOperation{Key: key, Type: schema.OpDelete}); qerr != nil {
			e.logger.Printf("Warning: failed to queue deletion of %s: %v", key, qerr)
		} else {
			e.refreshPending(qctx)
		}
	}
	return err
}

// ClearRemote deletes every remote row of the user's library and drops the
// offline queue. It returns the number of rows deleted; after a partial
// failure the remaining rows stay in the cloud.
func (e *Engine) ClearRemote(ctx context.Context) (int, error) {
	var deleted int
	err := e.runCycle(ctx, "Clear", false, func(ctx context.Context) error {
		libraryID, err := e.ensureLibrary(ctx)
		if err != nil {
			return err
		}
		deleted, err = e.adapter.ClearLibrary(ctx, libraryID)
		if err != nil {
			return err
		}
		if err := e.store.ClearQueue(ctx); err != nil {
			return fmt.Errorf("failed to clear offline queue: %w", err)
		}
		return nil
	})
	if err == nil {
		e.refreshPending(ctx)
	}
	return deleted, err
}

// TriggerSync is the manual retry: it drains the offline queue, pushes every
// local item and pulls the cloud copy.
func (e *Engine) TriggerSync(ctx context.Context) error {
	return e.runCycle(ctx, "Sync", true, func(ctx context.Context) error {
		if err := e.drainQueue(ctx); err != nil {
			return err
		}
		if err := e.push(ctx); err != nil {
			return err
		}
		_, err := e.pull(ctx, MergeOptions{})
		return err
	})
}

// drainQueue replays queued operations oldest first and stops at the first
// failure. Create and update operations push the current local row.
func (e *Engine) drainQueue(ctx context.Context) error {
	ops, err := e.store.PendingOperations(ctx)
	if err != nil {
		return fmt.Errorf("failed to read offline queue: %w", err)
	}
	if len(ops) == 0 {
		return nil
	}
	libraryID, err := e.ensureLibrary(ctx)
	if err != nil {
		return err
	}

	defer e.refreshPending(ctx)
	for _, op := range ops {
		if err := e.replay(ctx, libraryID, op); err != nil {
			return fmt.Errorf("failed to replay %s %s: %w", op.Type, op.Key, err)
		}
		if err := e.store.RemoveOperation(ctx, op.Key, op.ID); err != nil {
			return err
		}
	}
	e.logger.Printf("Replayed %d queued operations", len(ops))
	return nil
}

func (e *Engine) replay(ctx context.Context, libraryID string, op schema.SyncOperation) error {
	if op.Type == schema.OpDelete {
		return e.adapter.DeleteItem(ctx, libraryID, op.Key)
	}

	item, err := e.store.GetItem(ctx, op.Key)
	if errors.Is(err, store.ErrNotFound) {
		// Deleted after queueing without going through the queue.
		return e.adapter.DeleteItem(ctx, libraryID, op.Key)
	}
	if err != nil {
		return err
	}
	return e.upload(ctx, libraryID, item)
}
