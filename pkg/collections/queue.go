package collections

import (
	"context"
	"fmt"

	"github.com/plaenen/cartflow/pkg/statestore"
)

// Queue is a durable FIFO. The index is the ordered list of item ids.
type Queue[T any] struct {
	c collection
}

// NewQueue returns a handle on the queue called name inside store.
func NewQueue[T any](store statestore.Store, name string, opts ...Option) *Queue[T] {
	const owner = "FineGrainQueueManager"
	return &Queue[T]{c: newCollection(store, owner, fmt.Sprintf("%s.Queue(%s)", owner, name), opts)}
}

// Enqueue appends v. The item is written before the index so the new id is
// never visible without its value.
func (q *Queue[T]) Enqueue(ctx context.Context, v T) error {
	return q.c.locked(func() error {
		ids, err := loadIndex[[]string](ctx, &q.c)
		if err != nil {
			return err
		}

		id := q.c.newID()
		if err := saveItem(ctx, &q.c, q.c.itemKey("Item", id), v); err != nil {
			return err
		}
		return saveIndex(ctx, &q.c, append(ids, id))
	})
}

// Dequeue removes and returns the head of the queue. Ids whose item has
// gone missing are dropped on the way.
func (q *Queue[T]) Dequeue(ctx context.Context) (statestore.ConditionalValue[T], error) {
	result := statestore.None[T]()
	err := q.c.locked(func() error {
		ids, err := loadIndex[[]string](ctx, &q.c)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		consumed := 0
		for consumed < len(ids) && !result.HasValue {
			key := q.c.itemKey("Item", ids[consumed])
			consumed++

			item, err := loadItem[T](ctx, &q.c, key)
			if err != nil {
				return err
			}
			if item.HasValue {
				if err := q.c.removeItem(ctx, key); err != nil {
					return err
				}
				result = item
			}
		}
		return saveIndex(ctx, &q.c, ids[consumed:])
	})
	if err != nil {
		return statestore.None[T](), err
	}
	return result, nil
}

// Peek returns the head without removing it.
func (q *Queue[T]) Peek(ctx context.Context) (statestore.ConditionalValue[T], error) {
	result := statestore.None[T]()
	err := q.c.locked(func() error {
		ids, err := loadIndex[[]string](ctx, &q.c)
		if err != nil {
			return err
		}
		for _, id := range ids {
			item, err := loadItem[T](ctx, &q.c, q.c.itemKey("Item", id))
			if err != nil {
				return err
			}
			if item.HasValue {
				result = item
				return nil
			}
		}
		return nil
	})
	return result, err
}

// Len returns the number of queued items.
func (q *Queue[T]) Len(ctx context.Context) (int, error) {
	ids, err := loadIndex[[]string](ctx, &q.c)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Purge removes every item and the index itself.
func (q *Queue[T]) Purge(ctx context.Context) error {
	return q.c.locked(func() error {
		ids, err := loadIndex[[]string](ctx, &q.c)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := q.c.removeItem(ctx, q.c.itemKey("Item", id)); err != nil {
				return err
			}
		}
		return q.c.removeIndex(ctx)
	})
}
