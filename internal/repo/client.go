package repo

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// pingTimeout bounds the startup reachability check.
const pingTimeout = 500 * time.Millisecond

// RedisClient is the mirror's connection. It identifies itself with
// CLIENT SETNAME so mirror writers show up by prefix in CLIENT LIST.
type RedisClient struct {
	*redis.Client
	log *zap.Logger
}

func newRedisClient(log *zap.Logger, opts Options) *RedisClient {
	return &RedisClient{
		Client: redis.NewClient(&redis.Options{
			Addr:         opts.Address,
			DB:           opts.DB,
			ClientName:   opts.Prefix + "-mirror",
			DialTimeout:  2 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: opts.WriteTimeout,
			PoolSize:     opts.PoolSize,
			MinIdleConns: 1,
			MaxRetries:   1,
		}),
		log: log.Named("redis").With(zap.String("addr", opts.Address), zap.Int("db", opts.DB)),
	}
}

// Ping reports whether Redis answers within pingTimeout.
func (c *RedisClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	start := time.Now()
	if err := c.Client.Ping(ctx).Err(); err != nil {
		c.log.Warn("mirror unreachable", zap.Error(err), zap.Duration("rtt", time.Since(start)))
		return err
	}
	c.log.Info("mirror connected", zap.Duration("rtt", time.Since(start)))
	return nil
}
