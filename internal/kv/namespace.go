package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultPrefix is the key namespace the mutation logs live under.
const DefaultPrefix = "jsonplaceholder_"

// ErrUndecodable marks a stored value that is not valid JSON for its target,
// as opposed to a store that could not be read.
var ErrUndecodable = errors.New("undecodable value")

// Namespace scopes a Store to a key prefix and stores JSON values.
type Namespace struct {
	store  Store
	prefix string
}

func NewNamespace(store Store, prefix string) *Namespace {
	return &Namespace{store: store, prefix: prefix}
}

func (n *Namespace) key(k string) string {
	return n.prefix + k
}

// GetJSON decodes the value under key into dest. found is false, with dest
// untouched, when the key is absent.
func (n *Namespace) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	raw, found, err := n.store.Get(ctx, n.key(key))
	if err != nil {
		return false, fmt.Errorf("get %s: %w", n.key(key), err)
	}
	if !found || len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("decode %s: %w: %w", n.key(key), ErrUndecodable, err)
	}
	return true, nil
}

func (n *Namespace) SetJSON(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", n.key(key), err)
	}
	if err := n.store.Set(ctx, n.key(key), raw); err != nil {
		return fmt.Errorf("set %s: %w", n.key(key), err)
	}
	return nil
}

func (n *Namespace) Remove(ctx context.Context, key string) error {
	if err := n.store.Remove(ctx, n.key(key)); err != nil {
		return fmt.Errorf("remove %s: %w", n.key(key), err)
	}
	return nil
}

// Clear drops every key of this namespace and nothing else.
func (n *Namespace) Clear(ctx context.Context) error {
	if err := n.store.Clear(ctx, n.prefix); err != nil {
		return fmt.Errorf("clear %s*: %w", n.prefix, err)
	}
	return nil
}
