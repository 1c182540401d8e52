package cache

import (
	"context"
	"time"
)

// SessionCache stores short-lived string values such as the Ecount API
// session id, keyed per credential set.
type SessionCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type NoopSessionCache struct{}

func (NoopSessionCache) Get(_ context.Context, _ string) (string, bool, error) {
	return "", false, nil
}

func (NoopSessionCache) Set(_ context.Context, _ string, _ string, _ time.Duration) error {
	return nil
}

func (NoopSessionCache) Delete(_ context.Context, _ string) error {
	return nil
}
