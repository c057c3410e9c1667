package actor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/plaenen/cartflow/pkg/collections"
	"github.com/plaenen/cartflow/pkg/statestore"
)

// SystemScope is the store scope holding host-wide records.
const SystemScope = "__system"

// Reminder is a durable wake-up registered by an entity.
type Reminder struct {
	Address Address       `json:"address"`
	Name    string        `json:"name"`
	DueAt   time.Time     `json:"due_at"`
	Period  time.Duration `json:"period"`
}

// Key identifies the reminder across all entities.
func (r Reminder) Key() string {
	return reminderKey(r.Address, r.Name)
}

// Periodic reports whether the reminder repeats after firing.
func (r Reminder) Periodic() bool {
	return r.Period > 0
}

func (r Reminder) sameSchedule(o Reminder) bool {
	return r.DueAt.Equal(o.DueAt) && r.Period == o.Period
}

func reminderKey(addr Address, name string) string {
	return addr.String() + "/" + name
}

// Reminders is the durable registry of reminders, kept in a collections
// Dictionary so it survives restarts on any persistent store.
type Reminders struct {
	// mu orders register/unregister against the scheduler's
	// read-compare-write updates.
	mu   sync.Mutex
	dict *collections.Dictionary[string, Reminder]
	now  func() time.Time
}

// NewReminders returns the registry stored in store's system scope.
func NewReminders(store statestore.Store, opts ...collections.Option) *Reminders {
	return &Reminders{
		dict: collections.NewDictionary[string, Reminder](statestore.Scoped(store, SystemScope), "reminders", opts...),
		now:  time.Now,
	}
}

// Register adds or replaces the reminder called name on addr, first due in
// dueIn. A period of zero or less makes it one-shot.
func (r *Reminders) Register(ctx context.Context, addr Address, name string, dueIn, period time.Duration) error {
	if err := addr.Validate(); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("reminder name is required")
	}
	if period < 0 {
		period = 0
	}

	rem := Reminder{
		Address: addr,
		Name:    name,
		DueAt:   r.now().Add(dueIn).UTC(),
		Period:  period,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.dict.TryAddOrUpdate(ctx, rem.Key(), rem); err != nil {
		return fmt.Errorf("failed to register reminder %s: %w", rem.Key(), err)
	}
	return nil
}

// Unregister removes the reminder and reports whether it existed.
func (r *Reminders) Unregister(ctx context.Context, addr Address, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed, err := r.dict.TryRemove(ctx, reminderKey(addr, name))
	if err != nil {
		return false, fmt.Errorf("failed to unregister reminder %s: %w", reminderKey(addr, name), err)
	}
	return removed.HasValue, nil
}

// Get returns the reminder called name on addr.
func (r *Reminders) Get(ctx context.Context, addr Address, name string) (statestore.ConditionalValue[Reminder], error) {
	return r.dict.TryGet(ctx, reminderKey(addr, name))
}

// IsRegistered reports whether the reminder exists.
func (r *Reminders) IsRegistered(ctx context.Context, addr Address, name string) (bool, error) {
	rem, err := r.Get(ctx, addr, name)
	if err != nil {
		return false, err
	}
	return rem.HasValue, nil
}

// Due returns every reminder due at or before now, in registration order.
func (r *Reminders) Due(ctx context.Context, now time.Time) ([]Reminder, error) {
	var due []Reminder
	err := r.dict.Range(ctx, func(_ string, rem Reminder) bool {
		if !rem.DueAt.After(now) {
			due = append(due, rem)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan reminders: %w", err)
	}
	return due, nil
}

// Len returns the number of registered reminders.
func (r *Reminders) Len(ctx context.Context) (int, error) {
	return r.dict.Len(ctx)
}

// claim confirms that fired is still registered with the same schedule
// and, for periodic reminders, moves it to its next due time. It reports
// false when the entity unregistered or re-registered it since the scan.
func (r *Reminders) claim(ctx context.Context, fired Reminder) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.dict.TryGet(ctx, fired.Key())
	if err != nil {
		return false, err
	}
	if !current.HasValue || !current.Value.sameSchedule(fired) {
		return false, nil
	}
	if !fired.Periodic() {
		return true, nil
	}

	next := fired
	next.DueAt = r.now().Add(fired.Period).UTC()
	if _, err := r.dict.TryAddOrUpdate(ctx, next.Key(), next); err != nil {
		return false, err
	}
	return true, nil
}

// complete removes a fired one-shot reminder, unless the entity registered a
// new schedule under the same name while it ran.
func (r *Reminders) complete(ctx context.Context, fired Reminder) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.dict.TryGet(ctx, fired.Key())
	if err != nil {
		return err
	}
	if !current.HasValue || !current.Value.sameSchedule(fired) {
		return nil
	}
	_, err = r.dict.TryRemove(ctx, fired.Key())
	return err
}
