package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "storefront"

// Redis is a Store namespaced to one client context, for storefront renderers
// that keep the customer slot outside process memory.
// Key format: storefront:<client_context>:<key>
type Redis struct {
	client    *redis.Client
	namespace string
}

// NewRedis wraps client for the given client context. An empty contextID
// allocates a fresh one.
func NewRedis(client *redis.Client, contextID string) *Redis {
	if contextID == "" {
		contextID = uuid.NewString()
	}
	return &Redis{client: client, namespace: contextID}
}

// ContextID returns the client context the store is scoped to.
func (r *Redis) ContextID() string { return r.namespace }

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv get: %w", err)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("kv set: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("kv delete: %w", err)
	}
	return nil
}

func (r *Redis) key(k string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, r.namespace, k)
}
