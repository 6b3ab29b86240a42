package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// KVStore is a string key/value view over the kv table. It satisfies
// exitintent.KV so suppression records survive process restarts.
type KVStore struct {
	s       *Store
	timeout time.Duration
}

// KV returns the key/value view of the store.
func (s *Store) KV() *KVStore {
	return &KVStore{s: s, timeout: 5 * time.Second}
}

// Get returns the stored value. ok is false when the key is absent.
func (k *KVStore) Get(key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()

	k.s.mu.RLock()
	defer k.s.mu.RUnlock()

	var value string
	err := k.s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read kv %q: %w", key, err)
	}
	return value, true, nil
}

// Set upserts key.
func (k *KVStore) Set(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()

	k.s.mu.Lock()
	defer k.s.mu.Unlock()

	_, err := k.s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to write kv %q: %w", key, err)
	}
	return nil
}

// Remove deletes key. Removing an absent key is not an error.
func (k *KVStore) Remove(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()

	k.s.mu.Lock()
	defer k.s.mu.Unlock()

	if _, err := k.s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete kv %q: %w", key, err)
	}
	return nil
}
