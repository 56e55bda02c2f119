// Package redis provides a Redis-backed blob store.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jmcleod/chatrelay/storage"
)

// Store implements storage.BlobStore on top of Redis strings. Objects are
// stored without expiry.
type Store struct {
	client *goredis.Client
	prefix string
}

var _ storage.BlobStore = (*Store)(nil)

// NewStore wraps an existing client. prefix is prepended to every key.
func NewStore(client *goredis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

// NewStoreFromAddr dials addr and verifies the connection with a PING.
func NewStoreFromAddr(addr, password, prefix string) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return NewStore(client, prefix), nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(name string) string {
	return s.prefix + name
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	return s.client.Set(ctx, s.key(key), data, 0).Err()
}
