package service

import (
	"context"
	"sync"
	"time"

	"github.com/edirooss/wavemix/internal/domain/mixer"
	"go.uber.org/zap"
)

// LevelSource yields one level sample.
type LevelSource interface {
	Levels(ctx context.Context) (mixer.Levels, error)
}

// LevelPublisher forwards snapshots out of process.
type LevelPublisher interface {
	PublishLevels(ctx context.Context, snap mixer.LevelSnapshot) error
}

type LevelFeedOptions struct {
	Interval  time.Duration  // default 50ms, about 20 Hz
	Buffer    int            // per-subscriber channel size; default 4
	Publisher LevelPublisher // optional
}

func (o *LevelFeedOptions) setDefaults() {
	if o.Interval <= 0 {
		o.Interval = 50 * time.Millisecond
	}
	if o.Buffer <= 0 {
		o.Buffer = 4
	}
}

// LevelFeed samples a LevelSource on a fixed cadence and fans snapshots out.
// Delivery is non-blocking: a subscriber whose buffer is full misses frames.
type LevelFeed struct {
	log  *zap.Logger
	src  LevelSource
	opts LevelFeedOptions

	mu     sync.Mutex
	subs   map[uint64]chan mixer.LevelSnapshot
	nextID uint64
	seq    uint64
}

func NewLevelFeed(log *zap.Logger, src LevelSource, opts LevelFeedOptions) *LevelFeed {
	opts.setDefaults()
	return &LevelFeed{
		log:  log.Named("level_feed"),
		src:  src,
		opts: opts,
		subs: map[uint64]chan mixer.LevelSnapshot{},
	}
}

// Subscribe registers a receiver. The returned cancel func unregisters it and
// closes the channel; it is safe to call more than once.
func (f *LevelFeed) Subscribe() (<-chan mixer.LevelSnapshot, func()) {
	ch := make(chan mixer.LevelSnapshot, f.opts.Buffer)

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			close(ch)
		})
	}
}

// Run samples until ctx is cancelled.
func (f *LevelFeed) Run(ctx context.Context) error {
	t := time.NewTicker(f.opts.Interval)
	defer t.Stop()

	f.log.Info("level feed started", zap.Duration("interval", f.opts.Interval))
	for {
		select {
		case <-ctx.Done():
			f.log.Info("level feed stopped")
			return nil
		case <-t.C:
			f.tick(ctx)
		}
	}
}

func (f *LevelFeed) tick(ctx context.Context) {
	levels, err := f.src.Levels(ctx)
	if err != nil {
		f.log.Debug("sample skipped", zap.Error(err))
		return
	}

	f.mu.Lock()
	f.seq++
	snap := mixer.LevelSnapshot{Seq: f.seq, At: time.Now(), Levels: levels}
	for _, ch := range f.subs {
		select {
		case ch <- snap:
		default:
		}
	}
	f.mu.Unlock()

	if f.opts.Publisher != nil {
		if err := f.opts.Publisher.PublishLevels(ctx, snap); err != nil {
			f.log.Debug("publish levels", zap.Error(err))
		}
	}
}
