package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis keeps the document in a hash and fans deltas out over pub/sub. A
// delta is applied with HSET/HDEL and published in one MULTI/EXEC so
// subscribers see changes in commit order.
type Redis struct {
	client  *redis.Client
	hash    string
	channel string
	log     *zap.Logger
	closed  atomic.Bool
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Document names the shared grid; replicas sharing it see each other.
	Document string
}

func OpenRedis(ctx context.Context, opts RedisOptions, logger *zap.Logger) (*Redis, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Document == "" {
		opts.Document = "default"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	return &Redis{
		client:  client,
		hash:    "lifegrid:doc:" + opts.Document,
		channel: "lifegrid:changes:" + opts.Document,
		log:     logger,
	}, nil
}

func (r *Redis) Submit(ctx context.Context, d Delta) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if len(d) == 0 {
		return nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode delta: %w", err)
	}
	var sets []any
	var dels []string
	for _, k := range d.Keys() {
		if e := d[k]; e.Deleted {
			dels = append(dels, k)
		} else {
			sets = append(sets, k, e.Value)
		}
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if len(sets) > 0 {
			p.HSet(ctx, r.hash, sets...)
		}
		if len(dels) > 0 {
			p.HDel(ctx, r.hash, dels...)
		}
		p.Publish(ctx, r.channel, b)
		return nil
	})
	if err != nil {
		return fmt.Errorf("submit delta: %w", err)
	}
	return nil
}

func (r *Redis) Snapshot(ctx context.Context) (map[string]string, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	doc, err := r.client.HGetAll(ctx, r.hash).Result()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return doc, nil
}

func (r *Redis) Subscribe(ctx context.Context) (<-chan Change, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	ps := r.client.Subscribe(ctx, r.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	out := make(chan Change, 64)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var d Delta
				if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
					r.log.Warn("dropping malformed delta", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				for _, c := range d.Changes() {
					select {
					case out <- c:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}

func (r *Redis) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := r.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}
