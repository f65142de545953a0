package repo

import (
	"context"
	"testing"
	"time"

	"github.com/edirooss/wavemix/internal/domain/mixer"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestRepository connects to a local Redis under a throwaway prefix and
// removes its keys afterwards. Skips when Redis is not running.
func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	prefix := "wavemix-test-" + uuid.NewString()
	r := NewRepository(zap.NewNop(), Options{Address: "localhost:6379", Prefix: prefix})
	if err := r.Ping(context.Background()); err != nil {
		_ = r.Close()
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := r.client.Keys(ctx, prefix+":*").Result()
		if len(keys) > 0 {
			r.client.Del(ctx, keys...)
		}
		_ = r.Close()
	})
	return r
}

func TestNewRepository_ClientOptions(t *testing.T) {
	r := NewRepository(zap.NewNop(), Options{Address: "localhost:6379", DB: 3, Prefix: "studio"})
	defer r.Close()

	opts := r.client.Options()
	assert.Equal(t, "studio-mirror", opts.ClientName)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, 4, opts.PoolSize)
	assert.Equal(t, 200*time.Millisecond, opts.WriteTimeout)
	assert.Equal(t, "studio:levels", r.Levels.Channel())

	r2 := NewRepository(zap.NewNop(), Options{Address: "localhost:6379", PoolSize: 8})
	defer r2.Close()
	assert.Equal(t, DefaultPrefix+"-mirror", r2.client.Options().ClientName)
	assert.Equal(t, 8, r2.client.Options().PoolSize)
}

func TestRepository_PingUnreachable(t *testing.T) {
	r := NewRepository(zap.NewNop(), Options{Address: "127.0.0.1:1"})
	defer r.Close()

	assert.Error(t, r.Ping(context.Background()))
}

func TestChannelStateRepository(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()

	got, err := r.Channels.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	states := []mixer.ChannelState{
		{Name: "Music", VolumeStream: 80, VolumeMonitor: 100},
		{Name: "Game", VolumeStream: 100, VolumeMonitor: 40, Muted: true},
	}
	require.NoError(t, r.Channels.SaveChannelStates(ctx, states))

	got, err = r.Channels.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, states, got)

	// Reconfigured: Game is gone.
	require.NoError(t, r.Channels.SaveChannelStates(ctx, states[:1]))
	got, err = r.Channels.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, states[:1], got)

	n, err := r.client.Exists(ctx, r.Channels.channelKey("Game")).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLevelRepository(t *testing.T) {
	r := newTestRepository(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := r.Levels.Latest(ctx)
	assert.ErrorIs(t, err, ErrNoLevels)

	sub := r.Levels.Subscribe(ctx)
	time.Sleep(100 * time.Millisecond) // let SUBSCRIBE land

	v := 0.75
	snap := mixer.LevelSnapshot{Seq: 7, At: time.Now().UTC().Truncate(time.Millisecond), Levels: mixer.Levels{"Music": {Stream: &v}}}
	require.NoError(t, r.Levels.PublishLevels(ctx, snap))

	latest, err := r.Levels.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), latest.Seq)
	assert.True(t, snap.At.Equal(latest.At))
	require.NotNil(t, latest.Levels["Music"].Stream)
	assert.InDelta(t, 0.75, *latest.Levels["Music"].Stream, 0.0001)

	select {
	case got := <-sub:
		assert.Equal(t, uint64(7), got.Seq)
	case <-time.After(2 * time.Second):
		t.Fatal("no published snapshot")
	}

	ttl, err := r.client.TTL(ctx, r.Levels.Channel()).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
