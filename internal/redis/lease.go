package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease is a coarse worker mutex: a drain tick runs only while its holder
// owns the named lease, so two workers cannot process the same batch. The
// TTL bounds how long a crashed holder blocks the others.
type Lease struct {
	client *redis.Client
	name   string
	ttl    time.Duration
	token  string
}

func NewLease(client *redis.Client, name string, ttl time.Duration) *Lease {
	return &Lease{
		client: client,
		name:   name,
		ttl:    ttl,
		token:  uuid.NewString(),
	}
}

func (l *Lease) key() string {
	return fmt.Sprintf("lease:%s", l.name)
}

// Acquire takes the lease if it is free. It reports false when another
// holder owns it.
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(), l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.name, err)
	}
	return ok, nil
}

// Release frees the lease if this holder still owns it. A lease taken over
// after TTL expiry is left alone.
func (l *Lease) Release(ctx context.Context) error {
	_, err := unlockScript.Run(ctx, l.client, []string{l.key()}, l.token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease %s: %w", l.name, err)
	}
	return nil
}
