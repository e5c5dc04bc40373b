// Package lock provides a Redis lease used to keep periodic jobs to a single
// replica.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Redis struct {
	Client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{Client: client, prefix: "ticketing:lock:"}
}

// Acquire takes name for ttl on behalf of owner. It reports false when
// someone else holds it.
func (r *Redis) Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	ok, err := r.Client.SetNX(ctx, r.prefix+name, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return ok, nil
}

// Release gives the lock up if owner still holds it.
func (r *Redis) Release(ctx context.Context, name, owner string) error {
	err := releaseScript.Run(ctx, r.Client, []string{r.prefix + name}, owner).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}
