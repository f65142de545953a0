package service

import (
	"context"
	"sync"

	"github.com/edirooss/wavemix/internal/domain/mixer"
	"github.com/edirooss/wavemix/internal/infrastructure/pactlexec"
	"github.com/edirooss/wavemix/pkg/pactl"
	"go.uber.org/zap"
)

// Controller applies fader and mute intents.
//
// The state store is written before anything else, so reads reflect the last
// request even when the loopback is missing or the command fails. Mutations of
// one channel are serialized so a mute always covers both legs before the next
// request for that channel runs.
type Controller struct {
	log    *zap.Logger
	runner pactlexec.Runner
	cache  *IndexCache
	state  *StateStore

	gates map[string]*sync.Mutex
}

// NewController wires a controller over the shared cache and state store.
func NewController(log *zap.Logger, runner pactlexec.Runner, cache *IndexCache, state *StateStore, channels []mixer.Channel) *Controller {
	gates := make(map[string]*sync.Mutex, len(channels))
	for _, ch := range channels {
		gates[ch.Name] = &sync.Mutex{}
	}
	return &Controller{
		log:    log.Named("controller"),
		runner: runner,
		cache:  cache,
		state:  state,
		gates:  gates,
	}
}

// SetVolume records and applies a leg volume. Percent is passed through as is
// (amplification above 100 is allowed).
func (c *Controller) SetVolume(ctx context.Context, channel string, leg mixer.Leg, percent int) mixer.Outcome {
	gate, ok := c.gates[channel]
	if !ok {
		return mixer.NotApplied(mixer.ReasonUnknownChannel)
	}
	gate.Lock()
	defer gate.Unlock()

	c.state.SetVolume(channel, leg, percent)
	out := c.apply(ctx, channel, leg, func(idx string) []string {
		return pactl.SetSinkInputVolume(idx, percent)
	})
	c.log.Debug("volume", zap.String("channel", channel), zap.Stringer("leg", leg), zap.Int("percent", percent), zap.String("reason", out.Reason))
	return out
}

// SetMuted records and applies the mute flag to both legs of a channel.
func (c *Controller) SetMuted(ctx context.Context, channel string, muted bool) mixer.Outcome {
	gate, ok := c.gates[channel]
	if !ok {
		return mixer.NotApplied(mixer.ReasonUnknownChannel)
	}
	gate.Lock()
	defer gate.Unlock()

	c.state.SetMuted(channel, muted)
	cmd := func(idx string) []string { return pactl.SetSinkInputMute(idx, muted) }
	out := mixer.Join(
		c.apply(ctx, channel, mixer.LegStream, cmd),
		c.apply(ctx, channel, mixer.LegMonitor, cmd),
	)
	c.log.Debug("mute", zap.String("channel", channel), zap.Bool("muted", muted), zap.String("reason", out.Reason))
	return out
}

func (c *Controller) apply(ctx context.Context, channel string, leg mixer.Leg, cmd func(idx string) []string) mixer.Outcome {
	idx, ok := c.cache.Resolve(ctx, channel, leg)
	if !ok {
		return mixer.NotApplied(mixer.ReasonUnresolved)
	}
	if _, err := c.runner.Run(ctx, cmd(idx)...); err != nil {
		// The index may be stale; let the next call re-resolve it.
		c.cache.Invalidate(channel, leg)
		return mixer.NotApplied(mixer.ReasonCommandFailed)
	}
	return mixer.Applied()
}
