package service

import (
	"context"
	"fmt"
	"time"

	"github.com/edirooss/wavemix/internal/domain/mixer"
	"github.com/edirooss/wavemix/internal/infrastructure/pactlexec"
	"github.com/edirooss/wavemix/pkg/pactl"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TopologyOptions shapes the routing graph and the build pacing.
type TopologyOptions struct {
	OutputDevice    string
	LatencyMS       int
	Settle          time.Duration // grace period between creation phases
	ResolveTimeout  time.Duration // budget for created loopbacks to appear
	ResolveInterval time.Duration // delay between resolve attempts
}

func (o *TopologyOptions) setDefaults() {
	if o.LatencyMS <= 0 {
		o.LatencyMS = 20
	}
	if o.ResolveTimeout <= 0 {
		o.ResolveTimeout = 2 * time.Second
	}
	if o.ResolveInterval <= 0 {
		o.ResolveInterval = 100 * time.Millisecond
	}
}

// BuildReport summarizes one topology build. Only a failed probe makes Build
// return an error; everything else lands here.
type BuildReport struct {
	BuildID    string        `json:"build_id"`
	Channels   int           `json:"channels"`
	Removed    int           `json:"removed"`
	Created    int           `json:"created"`
	Failed     int           `json:"failed"`
	Unresolved []string      `json:"unresolved,omitempty"`
	SettleErr  error         `json:"-"`
	Took       time.Duration `json:"took"`
}

// TopologyBuilder tears down and recreates the whole routing graph.
type TopologyBuilder struct {
	log      *zap.Logger
	runner   pactlexec.Runner
	cache    *IndexCache
	state    *StateStore
	channels []mixer.Channel
	opts     TopologyOptions
}

// NewTopologyBuilder wires a builder over the shared cache and state store.
func NewTopologyBuilder(log *zap.Logger, runner pactlexec.Runner, cache *IndexCache, state *StateStore, channels []mixer.Channel, opts TopologyOptions) *TopologyBuilder {
	opts.setDefaults()
	return &TopologyBuilder{
		log:      log.Named("topology"),
		runner:   runner,
		cache:    cache,
		state:    state,
		channels: channels,
		opts:     opts,
	}
}

// Build probes the service, removes every null-sink and loopback module,
// recreates AppSinks, RecordSinks and loopbacks in channel order, waits for
// the loopbacks to show up and pins everything to 100%.
//
// Every step after the probe is best-effort: failed commands are counted and
// logged, never abort the build.
func (b *TopologyBuilder) Build(ctx context.Context) (BuildReport, error) {
	start := time.Now()
	rep := BuildReport{BuildID: uuid.NewString(), Channels: len(b.channels)}
	log := b.log.With(zap.String("build_id", rep.BuildID))

	if _, err := b.runner.Run(ctx, pactl.Info()...); err != nil {
		log.Error("audio service unreachable", zap.Error(err))
		return rep, fmt.Errorf("%w: %v", ErrEnvironmentUnavailable, err)
	}

	run := func(args []string) (pactlexec.Result, bool) {
		res, err := b.runner.Run(ctx, args...)
		if err != nil {
			rep.Failed++
			return res, false
		}
		return res, true
	}

	rep.Removed += b.unloadKind(ctx, pactl.ModuleLoopback, run)
	rep.Removed += b.unloadKind(ctx, pactl.ModuleNullSink, run)

	b.cache.Reset()
	b.state.Reset()

	for _, ch := range b.channels {
		if _, ok := run(pactl.LoadNullSink(ch.AppSink(), ch.AppSinkDescription())); ok {
			rep.Created++
		}
		run(pactl.SetSinkVolume(ch.AppSink(), mixer.DefaultVolume))
	}
	sleep(ctx, b.opts.Settle)

	for _, ch := range b.channels {
		if _, ok := run(pactl.LoadNullSink(ch.RecordSink(), ch.RecordSink())); ok {
			rep.Created++
		}
	}
	sleep(ctx, b.opts.Settle)
	b.pinRecordSinks(run)
	sleep(ctx, b.opts.Settle)

	for _, ch := range b.channels {
		targets := [2]string{mixer.LegStream: ch.RecordSink(), mixer.LegMonitor: b.opts.OutputDevice}
		for _, leg := range []mixer.Leg{mixer.LegStream, mixer.LegMonitor} {
			res, ok := run(pactl.LoadLoopback(ch.MonitorSource(), targets[leg], b.opts.LatencyMS))
			if !ok || res.Output() == "" {
				log.Warn("loopback not created", zap.String("channel", ch.Name), zap.Stringer("leg", leg))
				continue
			}
			b.cache.SetModuleID(ch.Name, leg, res.Output())
			rep.Created++
		}
	}
	sleep(ctx, b.opts.Settle)

	if err := b.awaitResolved(ctx); err != nil {
		rep.SettleErr = err
		log.Warn("continuing with unresolved loopbacks", zap.Strings("unresolved", b.cache.Unresolved()), zap.Error(err))
	}

	for _, ch := range b.channels {
		for _, leg := range []mixer.Leg{mixer.LegStream, mixer.LegMonitor} {
			if idx, ok := b.cache.Lookup(ch.Name, leg); ok {
				run(pactl.SetSinkInputVolume(idx, mixer.DefaultVolume))
			}
		}
	}

	// Recreated RecordSinks may come back at a stale restored volume.
	sleep(ctx, b.opts.Settle/2)
	b.pinRecordSinks(run)

	rep.Unresolved = b.cache.Unresolved()
	rep.Took = time.Since(start)
	log.Info("topology built",
		zap.Int("channels", rep.Channels),
		zap.Int("removed", rep.Removed),
		zap.Int("created", rep.Created),
		zap.Int("failed", rep.Failed),
		zap.Strings("unresolved", rep.Unresolved),
		zap.Duration("took", rep.Took),
	)
	return rep, nil
}

// unloadKind removes every module of kind found in a short module listing.
// Modules are matched by kind, never by name, so leftovers of a crashed run
// are removed as well.
func (b *TopologyBuilder) unloadKind(ctx context.Context, kind string, run func([]string) (pactlexec.Result, bool)) int {
	res, ok := run(pactl.ListShort(pactl.KindModules))
	if !ok {
		return 0
	}
	n := 0
	for _, row := range pactl.ParseShort(res.Stdout) {
		if row.Name != kind {
			continue
		}
		if _, ok := run(pactl.UnloadModule(row.Index)); ok {
			n++
		}
	}
	if n > 0 {
		b.log.Debug("modules unloaded", zap.String("kind", kind), zap.Int("count", n))
	}
	return n
}

func (b *TopologyBuilder) pinRecordSinks(run func([]string) (pactlexec.Result, bool)) {
	for _, ch := range b.channels {
		run(pactl.SetSinkVolume(ch.RecordSink(), mixer.DefaultVolume))
	}
}

// awaitResolved rebuilds the cache until every created loopback resolves or
// the resolve budget runs out.
func (b *TopologyBuilder) awaitResolved(ctx context.Context) error {
	deadline := time.Now().Add(b.opts.ResolveTimeout)
	for attempt := 1; ; attempt++ {
		if err := b.cache.Rebuild(ctx); err != nil {
			b.log.Debug("resolve attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		if len(b.cache.Unresolved()) == 0 {
			return nil
		}
		if ctx.Err() != nil || !time.Now().Add(b.opts.ResolveInterval).Before(deadline) {
			return fmt.Errorf("%w after %d attempts", ErrSettleTimeout, attempt)
		}
		sleep(ctx, b.opts.ResolveInterval)
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
