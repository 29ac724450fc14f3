package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lockKeyPrefix = "chat_pair_lock:"
	lockRetryStep = 20 * time.Millisecond
)

// ErrLockTimeout is returned when the lock could not be taken before ctx ended.
var ErrLockTimeout = errors.New("redis lock: timeout")

// releaseScript deletes the key only if it still holds our token, so a holder
// whose ttl expired cannot release someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Client is the cross-process PairLocker: SET NX PX on chat_pair_lock:{key}.
type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// Lock spins on SET NX until it wins or ctx is done. The lock self-expires
// after ttl if the holder dies.
func (c *Client) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	rkey := lockKeyPrefix + key
	for {
		ok, err := c.cli.SetNX(ctx, rkey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
		case <-time.After(lockRetryStep):
		}
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, c.cli, []string{rkey}, token).Err()
	}, nil
}
