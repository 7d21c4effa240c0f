package edge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
)

// KVStore is the key-value binding surface a worker environment exposes.
// A missing key is not an error: Get returns (nil, nil) so callers can
// distinguish absence from storage failure without sentinel errors.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string, limit int) ([]string, error)
}

// ValidateKey rejects keys the binding cannot represent. Control characters
// break the wire listing format and the path-like reserved names collide
// with store internals.
func ValidateKey(key string) error {
	if len(key) == 0 || len(key) > 1024 {
		return fmt.Errorf("edge: key length must be 1-1024 bytes")
	}
	if strings.ContainsAny(key, "\r\n") {
		return fmt.Errorf("edge: key cannot contain line breaks")
	}
	if key == "." || key == ".." {
		return fmt.Errorf("edge: key cannot be %q", key)
	}
	return nil
}

// MemoryKV is an in-process store for tests and ephemeral bindings.
type MemoryKV struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryKV returns an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{objects: make(map[string][]byte)}
}

// Get returns the stored value, or (nil, nil) when the key is absent. The
// returned slice is always non-nil for a present key, so an empty value
// stays distinguishable from absence.
func (kv *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	v, ok := kv.objects[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Put stores value under key, replacing any previous value.
func (kv *MemoryKV) Put(_ context.Context, key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.objects[key] = append([]byte(nil), value...)
	return nil
}

// Delete removes key. Deleting an absent key is a no-op.
func (kv *MemoryKV) Delete(_ context.Context, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.objects, key)
	return nil
}

// List returns up to limit keys with the given prefix in sorted order. A
// non-positive limit returns every match.
func (kv *MemoryKV) List(_ context.Context, prefix string, limit int) ([]string, error) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	var keys []string
	for k := range kv.objects {
		if prefix == "" || strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

// PebbleKV is a durable store backed by a Pebble database. It serves
// long-lived worker bindings and the demo server's /v1/kv endpoints.
type PebbleKV struct {
	db *pebble.DB
}

// OpenPebbleKV opens (or creates) a Pebble database at path.
func OpenPebbleKV(path string) (*PebbleKV, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("edge: open pebble at %s: %w", path, err)
	}
	return &PebbleKV{db: db}, nil
}

// Close releases the underlying database.
func (kv *PebbleKV) Close() error {
	if kv.db == nil {
		return nil
	}
	err := kv.db.Close()
	kv.db = nil
	return err
}

// Get returns the stored value, or (nil, nil) when the key is absent. The
// value is copied out before the pebble closer releases it; as with
// MemoryKV, a present key always yields a non-nil slice.
func (kv *PebbleKV) Get(_ context.Context, key string) ([]byte, error) {
	v, closer, err := kv.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]byte, len(v))
	copy(out, v)
	if closer != nil {
		_ = closer.Close()
	}
	return out, nil
}

// Put stores value under key with a synced write.
func (kv *PebbleKV) Put(_ context.Context, key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	return kv.db.Set([]byte(key), value, pebble.Sync)
}

// Delete removes key with a synced write.
func (kv *PebbleKV) Delete(_ context.Context, key string) error {
	return kv.db.Delete([]byte(key), pebble.Sync)
}

// List returns up to limit keys with the given prefix in key order.
func (kv *PebbleKV) List(_ context.Context, prefix string, limit int) ([]string, error) {
	iter, err := kv.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	p := []byte(prefix)
	var keys []string
	for iter.SeekGE(p); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), p) {
			break
		}
		keys = append(keys, string(iter.Key()))
		if limit > 0 && len(keys) >= limit {
			break
		}
	}
	return keys, iter.Error()
}
