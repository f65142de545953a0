package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/edirooss/wavemix/internal/domain/mixer"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ChannelStateRepository stores one JSON document per channel at
// <prefix>:channel:<name> plus the ordered name list at <prefix>:channels.
type ChannelStateRepository struct {
	client *RedisClient
	log    *zap.Logger
	prefix string
}

func newChannelStateRepository(log *zap.Logger, client *RedisClient, prefix string) *ChannelStateRepository {
	return &ChannelStateRepository{
		log:    log.Named("channels"),
		client: client,
		prefix: prefix,
	}
}

func (r *ChannelStateRepository) listKey() string            { return r.prefix + ":channels" }
func (r *ChannelStateRepository) channelKey(n string) string { return r.prefix + ":channel:" + n }

// SaveChannelStates replaces the mirrored channel set. Channels no longer
// present are removed.
func (r *ChannelStateRepository) SaveChannelStates(ctx context.Context, states []mixer.ChannelState) error {
	old, err := r.client.LRange(ctx, r.listKey(), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("lrange: %w", err)
	}

	keep := make(map[string]struct{}, len(states))
	names := make([]any, 0, len(states))
	pipe := r.client.TxPipeline()
	for _, st := range states {
		payload, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("encode %s: %w", st.Name, err)
		}
		pipe.Set(ctx, r.channelKey(st.Name), payload, 0)
		keep[st.Name] = struct{}{}
		names = append(names, st.Name)
	}
	for _, name := range old {
		if _, ok := keep[name]; !ok {
			pipe.Del(ctx, r.channelKey(name))
		}
	}
	pipe.Del(ctx, r.listKey())
	if len(names) > 0 {
		pipe.RPush(ctx, r.listKey(), names...)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	return nil
}

// GetAll returns the mirrored channels in configuration order.
//
// Not strongly consistent: the name list and the documents are read with two
// calls. Names without a document are skipped.
func (r *ChannelStateRepository) GetAll(ctx context.Context) ([]mixer.ChannelState, error) {
	names, err := r.client.LRange(ctx, r.listKey(), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("lrange: %w", err)
	}
	if len(names) == 0 {
		return []mixer.ChannelState{}, nil
	}

	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = r.channelKey(n)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget: %w", err)
	}

	out := make([]mixer.ChannelState, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			r.log.Warn("channel state missing during MGET", zap.String("key", keys[i]))
			continue
		}
		var st mixer.ChannelState
		if err := json.Unmarshal([]byte(s), &st); err != nil {
			r.log.Warn("channel state decode", zap.String("key", keys[i]), zap.Error(err))
			continue
		}
		out = append(out, st)
	}
	return out, nil
}
