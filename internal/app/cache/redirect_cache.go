// Package cache holds the optional redirect accelerators in front of the binding store.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Entry is the compound value cached per token.
type Entry struct {
	Destination string `json:"destination"`
	BindingID   uint64 `json:"binding_id"`
}

// RedirectCache stores resolved bindings keyed by token. Implementations must treat
// deleting a missing key as success.
type RedirectCache interface {
	Get(ctx context.Context, token string) (Entry, bool, error)
	Set(ctx context.Context, token string, entry Entry, ttl time.Duration) error
	Delete(ctx context.Context, token string) error
}

func encodeEntry(entry Entry) ([]byte, error) {
	return json.Marshal(entry)
}

func decodeEntry(raw []byte) (Entry, error) {
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, fmt.Errorf("cache: decode entry: %w", err)
	}
	if entry.Destination == "" || entry.BindingID == 0 {
		return Entry{}, fmt.Errorf("cache: incomplete entry %q", raw)
	}
	return entry, nil
}
