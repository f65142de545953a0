// Package repo mirrors mixer state into Redis for out-of-process front ends
// (tray, web UI). The daemon's in-memory state stays authoritative; Redis is
// write-mostly from this side and readers must treat it as a snapshot.
package repo

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultPrefix namespaces every key.
const DefaultPrefix = "wavemix"

type Options struct {
	Address      string
	DB           int
	Prefix       string        // defaults to DefaultPrefix; also names the connection
	PoolSize     int           // defaults to 4
	WriteTimeout time.Duration // per-command write deadline; defaults to 200ms
}

func (o *Options) setDefaults() {
	if o.Prefix == "" {
		o.Prefix = DefaultPrefix
	}
	if o.PoolSize <= 0 {
		o.PoolSize = 4
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 200 * time.Millisecond
	}
}

type Repository struct {
	log    *zap.Logger
	client *RedisClient

	Channels *ChannelStateRepository
	Levels   *LevelRepository
}

func NewRepository(log *zap.Logger, opts Options) *Repository {
	log = log.Named("repo")
	opts.setDefaults()
	client := newRedisClient(log, opts)

	return &Repository{
		log,
		client,
		newChannelStateRepository(log, client, opts.Prefix),
		newLevelRepository(log, client, opts.Prefix),
	}
}

// Ping reports whether Redis answers.
func (r *Repository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx)
}

func (r *Repository) Close() error {
	return r.client.Close()
}
