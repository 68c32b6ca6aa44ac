package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/repochat-ai/assistant-platform/internal/storage"
)

// KVStore adapts a JetStream KeyValue bucket to storage.KV so
// conversation snapshots survive process restarts.
type KVStore struct {
	bucket jetstream.KeyValue
}

// NewKVStore binds to the named bucket, creating it on first use.
func NewKVStore(ctx context.Context, client *Client, bucket string, ttl time.Duration) (*KVStore, error) {
	js := client.JetStream()

	kv, err := js.KeyValue(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      bucket,
			Description: "conversation snapshots",
			Storage:     jetstream.FileStorage,
			TTL:         ttl,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open KV bucket %q: %w", bucket, err)
	}

	return &KVStore{bucket: kv}, nil
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.bucket.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, storage.ErrKeyNotFound
		}
		return nil, fmt.Errorf("kv get %q: %w", key, err)
	}
	return entry.Value(), nil
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	if _, err := s.bucket.Put(ctx, key, value); err != nil {
		return fmt.Errorf("kv put %q: %w", key, err)
	}
	return nil
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	if err := s.bucket.Delete(ctx, key); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil
		}
		return fmt.Errorf("kv delete %q: %w", key, err)
	}
	return nil
}

func (s *KVStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("kv keys: %w", err)
	}
	return keys, nil
}
