package actor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/plaenen/cartflow/pkg/statestore"
)

// ReminderFlagKey is the state key an entity uses to remember that it has
// registered the reminder called name.
func ReminderFlagKey(name string) string {
	return "ReminderIsRegistered_" + name
}

// Context is handed to a Factory when an entity is activated. It stays valid
// for the lifetime of the activation.
type Context struct {
	// Address of the entity.
	Address Address

	// State is the entity's private store. Keys are scoped to the address.
	State statestore.Store

	// Logger carries the entity address.
	Logger *slog.Logger

	host *Host
}

// Host returns the host running the entity, for calls to other entities.
func (c *Context) Host() *Host {
	return c.host
}

// RegisterReminder registers or replaces the reminder called name. A period
// of zero or less registers a one-shot reminder.
func (c *Context) RegisterReminder(ctx context.Context, name string, dueIn, period time.Duration) error {
	return c.host.reminders.Register(ctx, c.Address, name, dueIn, period)
}

// UnregisterReminder removes the reminder called name. Removing an unknown
// reminder is not an error.
func (c *Context) UnregisterReminder(ctx context.Context, name string) error {
	_, err := c.host.reminders.Unregister(ctx, c.Address, name)
	return err
}

// ActivateReminderSafe registers the reminder unless the entity's state says
// it is already registered. The flag is written only after the reminder is,
// so a failed registration is retried by the next call. A running reminder
// keeps its schedule.
func (c *Context) ActivateReminderSafe(ctx context.Context, name string, dueIn, period time.Duration) error {
	flag := ReminderFlagKey(name)
	registered, err := statestore.TryGet[bool](ctx, c.State, flag)
	if err != nil {
		return fmt.Errorf("failed to read reminder flag %s: %w", flag, err)
	}
	if registered.OrElse(false) {
		return nil
	}

	if err := c.RegisterReminder(ctx, name, dueIn, period); err != nil {
		return fmt.Errorf("failed to register reminder %s: %w", name, err)
	}
	if err := statestore.Put(ctx, c.State, flag, true); err != nil {
		return fmt.Errorf("failed to set reminder flag %s: %w", flag, err)
	}
	return nil
}

// DeactivateReminderSafe unregisters the reminder if the entity's state says
// it is registered, then clears the flag. The flag stays set when the
// reminder could not be removed.
func (c *Context) DeactivateReminderSafe(ctx context.Context, name string) error {
	flag := ReminderFlagKey(name)
	registered, err := statestore.TryGet[bool](ctx, c.State, flag)
	if err != nil {
		return fmt.Errorf("failed to read reminder flag %s: %w", flag, err)
	}
	if !registered.OrElse(false) {
		return nil
	}

	if err := c.UnregisterReminder(ctx, name); err != nil {
		return fmt.Errorf("failed to unregister reminder %s: %w", name, err)
	}
	if _, err := c.State.Remove(ctx, flag); err != nil {
		return fmt.Errorf("failed to clear reminder flag %s: %w", flag, err)
	}
	return nil
}

// IsReminderActive reports the entity's own record of the reminder flag.
func (c *Context) IsReminderActive(ctx context.Context, name string) (bool, error) {
	registered, err := statestore.TryGet[bool](ctx, c.State, ReminderFlagKey(name))
	if err != nil {
		return false, err
	}
	return registered.OrElse(false), nil
}
