package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/edirooss/wavemix/internal/domain/mixer"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNoLevels means no level snapshot is currently stored.
var ErrNoLevels = errors.New("no level snapshot")

// levelTTL lets the last snapshot expire once the feed stops.
const levelTTL = 2 * time.Second

// LevelRepository stores the latest level snapshot at <prefix>:levels and
// publishes every snapshot on the channel of the same name.
type LevelRepository struct {
	client *RedisClient
	log    *zap.Logger
	prefix string
}

func newLevelRepository(log *zap.Logger, client *RedisClient, prefix string) *LevelRepository {
	return &LevelRepository{
		log:    log.Named("levels"),
		client: client,
		prefix: prefix,
	}
}

// Channel is the key and pub/sub channel name.
func (r *LevelRepository) Channel() string { return r.prefix + ":levels" }

// PublishLevels stores and publishes one snapshot.
func (r *LevelRepository) PublishLevels(ctx context.Context, snap mixer.LevelSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.Channel(), payload, levelTTL)
	pipe.Publish(ctx, r.Channel(), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	return nil
}

// Latest returns the last stored snapshot, or ErrNoLevels.
func (r *LevelRepository) Latest(ctx context.Context) (mixer.LevelSnapshot, error) {
	raw, err := r.client.Get(ctx, r.Channel()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return mixer.LevelSnapshot{}, ErrNoLevels
		}
		return mixer.LevelSnapshot{}, fmt.Errorf("get: %w", err)
	}
	var snap mixer.LevelSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return mixer.LevelSnapshot{}, fmt.Errorf("decode: %w", err)
	}
	return snap, nil
}

// Subscribe delivers published snapshots until ctx is done. Undecodable
// messages are dropped.
func (r *LevelRepository) Subscribe(ctx context.Context) <-chan mixer.LevelSnapshot {
	out := make(chan mixer.LevelSnapshot, 8)
	ps := r.client.Subscribe(ctx, r.Channel())
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
				var snap mixer.LevelSnapshot
				if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
					r.log.Debug("drop level message", zap.Error(err))
					continue
				}
				select {
				case out <- snap:
				default:
				}
			}
		}
	}()
	return out
}
