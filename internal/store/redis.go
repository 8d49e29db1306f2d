package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/arena/internal/errors"
	"github.com/victornm/arena/internal/telemetry"
)

// maxTxRetries bounds how often a lost optimistic transaction is replayed
// before the conflict is surfaced to the caller as a "try again" outcome.
const maxTxRetries = 8

const changeChannelSuffix = ":changes"

type Config struct {
	Redis  redis.UniversalClient
	Prefix string
}

// Client is the Redis-backed Store. Documents are JSON blobs under
// "{prefix}:{key}"; atomicity comes from WATCH/MULTI optimistic locking, and
// change subscriptions ride Redis pub/sub.
type Client struct {
	redis  redis.UniversalClient
	prefix string
}

func NewClient(c Config) *Client {
	return &Client{
		redis:  c.Redis,
		prefix: c.Prefix,
	}
}

func (c *Client) key(k string) string {
	return fmt.Sprintf("%s:%s", c.prefix, k)
}

func (c *Client) AtomicUpdate(ctx context.Context, key string, fn UpdateFunc) ([]byte, error) {
	k := c.key(key)

	var committed []byte
	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, k).Bytes()
		if stderrors.Is(err, redis.Nil) {
			cur = nil
		} else if err != nil {
			return fmt.Errorf("get %s: %w", k, err)
		}

		// TIME on the watched connection; anything fn derives from it
		// commits or fails together with the document.
		now, err := tx.Time(ctx).Result()
		if err != nil {
			return fmt.Errorf("server time: %w", err)
		}

		next, err := fn(cur, now)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, k)
			} else {
				pipe.Set(ctx, k, next, 0)
			}
			return nil
		})
		if err != nil {
			return err
		}

		committed = next
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err := c.redis.Watch(ctx, txf, k)
		if stderrors.Is(err, redis.TxFailedErr) {
			telemetry.TxConflicts.Inc()
			continue
		}
		if err != nil {
			return nil, err
		}

		c.publishChange(ctx, k, committed)
		return committed, nil
	}

	return nil, errors.New(errors.CodeAborted,
		errors.WithMessagef("update lost the race %d times: key=%s", maxTxRetries, key))
}

func (c *Client) Read(ctx context.Context, key string) ([]byte, error) {
	b, err := c.redis.Get(ctx, c.key(key)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("not found: key=%s", key))
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}

	return b, nil
}

func (c *Client) Set(ctx context.Context, key string, value []byte) error {
	if err := c.redis.Set(ctx, c.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}

	c.publishChange(ctx, c.key(key), value)
	return nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.redis.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}

	c.publishChange(ctx, c.key(key), nil)
	return nil
}

// publishChange is best-effort: a dropped notification only delays observers
// until the next change, the document itself is already committed.
func (c *Client) publishChange(ctx context.Context, fullKey string, value []byte) {
	if err := c.redis.Publish(ctx, fullKey+changeChannelSuffix, value).Err(); err != nil {
		slog.ErrorContext(ctx, "store: publish change failed",
			"key", fullKey,
			"error", err,
		)
	}
}

func (c *Client) Subscribe(ctx context.Context, key string, onChange func([]byte)) (func(), error) {
	sub := c.redis.Subscribe(ctx, c.key(key)+changeChannelSuffix)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", key, err)
	}

	go func() {
		for msg := range sub.Channel() {
			onChange([]byte(msg.Payload))
		}
	}()

	return func() { _ = sub.Close() }, nil
}

func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	t, err := c.redis.Time(ctx).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("server time: %w", err)
	}

	return t, nil
}
