package service

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/edirooss/wavemix/internal/domain/mixer"
	"github.com/edirooss/wavemix/internal/infrastructure/pactlexec"
	"go.uber.org/zap"
)

// StateMirror receives every channel state change, e.g. to publish it for
// out-of-process front ends. Errors are logged and otherwise ignored.
type StateMirror interface {
	SaveChannelStates(ctx context.Context, states []mixer.ChannelState) error
}

// commandHistory is implemented by runners that keep a recent-command log.
type commandHistory interface {
	Recent(n int) []pactlexec.Invocation
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	Channels []string
	Topology TopologyOptions
	Mirror   StateMirror // optional
}

// Engine owns the channel state, the index cache and every component working
// on them. Build and Reconfigure run exclusively; all other operations may
// run concurrently with each other.
type Engine struct {
	log    *zap.Logger
	runner pactlexec.Runner
	mirror StateMirror

	mu       sync.RWMutex
	opts     EngineOptions
	channels []mixer.Channel
	state    *StateStore
	cache    *IndexCache
	builder  *TopologyBuilder
	ctl      *Controller
	router   *Router
	sampler  *Sampler
	built    bool
}

// NewEngine validates the channel list and wires all components. Nothing is
// sent to the audio service until Build.
func NewEngine(log *zap.Logger, runner pactlexec.Runner, opts EngineOptions) (*Engine, error) {
	if err := mixer.ValidateNames(opts.Channels); err != nil {
		return nil, fmt.Errorf("channels: %w", err)
	}
	e := &Engine{
		log:    log.Named("engine"),
		runner: runner,
		mirror: opts.Mirror,
	}
	e.wire(opts)
	return e, nil
}

func (e *Engine) wire(opts EngineOptions) {
	opts.Channels = slices.Clone(opts.Channels)
	e.opts = opts
	e.channels = mixer.NewChannels(opts.Channels)
	e.state = NewStateStore(e.channels)
	e.cache = NewIndexCache(e.log, e.runner, e.channels, opts.Topology.OutputDevice)
	e.builder = NewTopologyBuilder(e.log, e.runner, e.cache, e.state, e.channels, opts.Topology)
	e.ctl = NewController(e.log, e.runner, e.cache, e.state, e.channels)
	e.router = NewRouter(e.log, e.runner, e.channels)
	e.sampler = NewSampler(e.runner, e.cache)
	e.built = false
}

// Build (re)creates the routing graph. The error is non-nil only when the
// audio service cannot be reached; in that case nothing was changed.
func (e *Engine) Build(ctx context.Context) (BuildReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buildLocked(ctx)
}

// Reconfigure swaps in a new channel list and topology options, then rebuilds.
// Every AppSink and RecordSink of the old configuration is removed by the
// build's cleanup.
func (e *Engine) Reconfigure(ctx context.Context, opts EngineOptions) (BuildReport, error) {
	if err := mixer.ValidateNames(opts.Channels); err != nil {
		return BuildReport{}, fmt.Errorf("channels: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if opts.Mirror == nil {
		opts.Mirror = e.mirror
	}
	e.mirror = opts.Mirror
	e.wire(opts)
	return e.buildLocked(ctx)
}

func (e *Engine) buildLocked(ctx context.Context) (BuildReport, error) {
	rep, err := e.builder.Build(ctx)
	if err != nil {
		return rep, err
	}
	e.built = true
	e.mirrorStates(ctx)
	return rep, nil
}

// Built reports whether the last Build got past the probe.
func (e *Engine) Built() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.built
}

// OutputDevice returns the physical sink the monitor loopbacks play into.
func (e *Engine) OutputDevice() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.opts.Topology.OutputDevice
}

// Channels returns every channel's requested state in configuration order.
func (e *Engine) Channels() []mixer.ChannelState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.List()
}

// Channel returns one channel's requested state.
func (e *Engine) Channel(name string) (mixer.ChannelState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.state.Get(name)
	if !ok {
		return mixer.ChannelState{}, fmt.Errorf("%w: %s", ErrUnknownChannel, name)
	}
	return st, nil
}

// SetStreamVolume sets the recording-feed fader of a channel.
func (e *Engine) SetStreamVolume(ctx context.Context, channel string, percent int) mixer.Outcome {
	return e.setVolume(ctx, channel, mixer.LegStream, percent)
}

// SetMonitorVolume sets the headphones fader of a channel.
func (e *Engine) SetMonitorVolume(ctx context.Context, channel string, percent int) mixer.Outcome {
	return e.setVolume(ctx, channel, mixer.LegMonitor, percent)
}

func (e *Engine) setVolume(ctx context.Context, channel string, leg mixer.Leg, percent int) mixer.Outcome {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := e.ctl.SetVolume(ctx, channel, leg, percent)
	if out.Reason != mixer.ReasonUnknownChannel {
		e.mirrorStates(ctx)
	}
	return out
}

// Mute silences both loopbacks of a channel.
func (e *Engine) Mute(ctx context.Context, channel string) mixer.Outcome {
	return e.setMuted(ctx, channel, true)
}

// Unmute re-enables both loopbacks of a channel. Volumes are untouched.
func (e *Engine) Unmute(ctx context.Context, channel string) mixer.Outcome {
	return e.setMuted(ctx, channel, false)
}

func (e *Engine) setMuted(ctx context.Context, channel string, muted bool) mixer.Outcome {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := e.ctl.SetMuted(ctx, channel, muted)
	if out.Reason != mixer.ReasonUnknownChannel {
		e.mirrorStates(ctx)
	}
	return out
}

// Applications lists live application streams with their routing.
func (e *Engine) Applications(ctx context.Context) ([]mixer.Application, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.router.List(ctx)
}

// Route moves an application stream onto a channel.
func (e *Engine) Route(ctx context.Context, index, channel string) mixer.Outcome {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.router.Route(ctx, index, channel)
}

// Levels samples the per-channel level approximation once.
func (e *Engine) Levels(ctx context.Context) (mixer.Levels, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sampler.Sample(ctx)
}

// RefreshIndices forces a cache rebuild.
func (e *Engine) RefreshIndices(ctx context.Context) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cache.Rebuild(ctx)
}

// Indices returns the currently cached channel to index mapping.
func (e *Engine) Indices() map[string]Indices {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cache.Snapshot()
}

// ModuleIDs returns the recorded loopback module ids per channel.
func (e *Engine) ModuleIDs() map[string]Indices {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]Indices, len(e.channels))
	for _, ch := range e.channels {
		ids := Indices{
			Stream:  e.cache.ModuleID(ch.Name, mixer.LegStream),
			Monitor: e.cache.ModuleID(ch.Name, mixer.LegMonitor),
		}
		if ids != (Indices{}) {
			out[ch.Name] = ids
		}
	}
	return out
}

// RecentCommands returns up to n of the latest pactl invocations, newest
// first, when the runner keeps a history.
func (e *Engine) RecentCommands(n int) []pactlexec.Invocation {
	if h, ok := e.runner.(commandHistory); ok {
		return h.Recent(n)
	}
	return nil
}

func (e *Engine) mirrorStates(ctx context.Context) {
	if e.mirror == nil {
		return
	}
	if err := e.mirror.SaveChannelStates(ctx, e.state.List()); err != nil {
		e.log.Warn("mirror channel state", zap.Error(err))
	}
}
