package cache

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// LocalCache keeps entries in process memory. It is used when no Redis is
// configured.
type LocalCache struct {
	store *gocache.Cache
}

func NewLocal(defaultTTL time.Duration) *LocalCache {
	return &LocalCache{store: gocache.New(defaultTTL, 2*defaultTTL)}
}

func (l *LocalCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok := l.store.Get(key)
	if !ok {
		return nil, false, nil
	}
	return v.([]byte), true, nil
}

func (l *LocalCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	l.store.Set(key, value, ttl)
	return nil
}

func (l *LocalCache) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		l.store.Delete(k)
	}
	return nil
}

func (l *LocalCache) DeletePrefix(ctx context.Context, prefix string) error {
	for k := range l.store.Items() {
		if strings.HasPrefix(k, prefix) {
			l.store.Delete(k)
		}
	}
	return nil
}
