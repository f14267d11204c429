// Package redislease implements a best-effort mutual exclusion lease on top
// of Redis, used so that only one replica runs a scheduled job per tick.
package redislease

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes KEYS[1] only while it still holds ARGV[1], so an
// expired lease taken over by another replica is left alone.
var releaseScript = redis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
end
return 0
`)

// Lease is a named lock with a TTL.
type Lease struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// New creates a Lease stored under key. The TTL bounds how long a crashed
// holder can block other replicas.
func New(client redis.UniversalClient, key string, ttl time.Duration) *Lease {
	return &Lease{client: client, key: key, ttl: ttl}
}

// Acquire tries to take the lease without waiting. When acquired is false
// another holder owns it and release is nil.
func (l *Lease) Acquire(ctx context.Context) (release func(context.Context) error, acquired bool, err error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, errors.Wrapf(err, "acquire lease %s", l.key)
	}
	if !ok {
		return nil, false, nil
	}

	release = func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			return errors.Wrapf(err, "release lease %s", l.key)
		}
		return nil
	}
	return release, true, nil
}

// Ping reports whether Redis is reachable.
func (l *Lease) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
