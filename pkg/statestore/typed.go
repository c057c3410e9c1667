package statestore

import (
	"context"
	"encoding/json"
	"fmt"
)

// TryGet loads key and decodes it into T.
func TryGet[T any](ctx context.Context, s Store, key string) (ConditionalValue[T], error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil {
		return None[T](), err
	}
	if !ok {
		return None[T](), nil
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return None[T](), fmt.Errorf("failed to decode state %q: %w", key, err)
	}
	return Some(v), nil
}

// Put encodes v and stores it under key.
func Put[T any](ctx context.Context, s Store, key string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode state %q: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}

// AddOrUpdate is the typed form of Store.AddOrUpdate.
func AddOrUpdate[T any](ctx context.Context, s Store, key string, add T, update func(current T) (T, error)) (T, error) {
	var zero T

	addRaw, err := json.Marshal(add)
	if err != nil {
		return zero, fmt.Errorf("failed to encode state %q: %w", key, err)
	}

	stored, err := s.AddOrUpdate(ctx, key, addRaw, func(currentRaw []byte) ([]byte, error) {
		var current T
		if err := json.Unmarshal(currentRaw, &current); err != nil {
			return nil, fmt.Errorf("failed to decode state %q: %w", key, err)
		}
		next, err := update(current)
		if err != nil {
			return nil, err
		}
		return json.Marshal(next)
	})
	if err != nil {
		return zero, err
	}

	var out T
	if err := json.Unmarshal(stored, &out); err != nil {
		return zero, fmt.Errorf("failed to decode state %q: %w", key, err)
	}
	return out, nil
}
