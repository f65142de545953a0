package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/edirooss/wavemix/internal/domain/mixer"
	"github.com/edirooss/wavemix/internal/infrastructure/pactlexec"
	"github.com/edirooss/wavemix/pkg/pactl"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Indices is the resolved sink-input index of each leg of a channel. Empty
// means unresolved.
type Indices struct {
	Stream  string `json:"stream,omitempty"`
	Monitor string `json:"monitor,omitempty"`
}

type legSlots [2]string // indexed by mixer.Leg

type legRef struct {
	channel string
	leg     mixer.Leg
}

// IndexCache maps channels to the live sink-input indices of their loopbacks.
//
// Module ids are recorded when the loopbacks are created and stay valid for
// the loopback's lifetime. Sink-input indices are not stable (the service may
// renumber or recreate streams), so they are only ever derived from a full
// listing, correlated by module id. Callers that find an index missing trigger
// a rebuild; concurrent rebuilds are coalesced.
type IndexCache struct {
	log      *zap.Logger
	runner   pactlexec.Runner
	channels []mixer.Channel
	output   string

	mu      sync.RWMutex
	modules map[string]*legSlots
	indices map[string]*legSlots

	sg singleflight.Group
}

// NewIndexCache returns an empty cache for channels. output is the physical
// sink the monitor loopbacks play into, matched as a substring of the
// stream's destination; empty accepts any destination.
func NewIndexCache(log *zap.Logger, runner pactlexec.Runner, channels []mixer.Channel, output string) *IndexCache {
	return &IndexCache{
		log:      log.Named("index_cache"),
		runner:   runner,
		channels: channels,
		output:   output,
		modules:  map[string]*legSlots{},
		indices:  map[string]*legSlots{},
	}
}

// Reset forgets every module id and index.
func (c *IndexCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modules = map[string]*legSlots{}
	c.indices = map[string]*legSlots{}
}

// SetModuleID records the module id returned when a loopback was created.
func (c *IndexCache) SetModuleID(channel string, leg mixer.Leg, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	slots, ok := c.modules[channel]
	if !ok {
		slots = &legSlots{}
		c.modules[channel] = slots
	}
	slots[leg] = id
}

// ModuleID returns the recorded module id of a leg, or "".
func (c *IndexCache) ModuleID(channel string, leg mixer.Leg) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if slots, ok := c.modules[channel]; ok {
		return slots[leg]
	}
	return ""
}

// Lookup returns the cached index of a leg without touching the service.
func (c *IndexCache) Lookup(channel string, leg mixer.Leg) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if slots, ok := c.indices[channel]; ok && slots[leg] != "" {
		return slots[leg], true
	}
	return "", false
}

// Invalidate drops the cached index of one leg, e.g. after a command against
// it failed. The next Resolve rebuilds.
func (c *IndexCache) Invalidate(channel string, leg mixer.Leg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if slots, ok := c.indices[channel]; ok {
		slots[leg] = ""
	}
}

// Resolve returns the index of a leg, rebuilding the cache once on a miss.
// A leg whose loopback was never created stays unresolved without a rebuild.
func (c *IndexCache) Resolve(ctx context.Context, channel string, leg mixer.Leg) (string, bool) {
	if idx, ok := c.Lookup(channel, leg); ok {
		return idx, true
	}
	if c.ModuleID(channel, leg) == "" {
		return "", false
	}
	if err := c.Rebuild(ctx); err != nil {
		c.log.Debug("refresh on miss failed", zap.String("channel", channel), zap.Stringer("leg", leg), zap.Error(err))
	}
	return c.Lookup(channel, leg)
}

// Rebuild discards every cached index and re-derives them from a full
// sink-input listing.
func (c *IndexCache) Rebuild(ctx context.Context) error {
	_, err, _ := c.sg.Do("rebuild", func() (any, error) {
		return nil, c.rebuild(ctx)
	})
	return err
}

func (c *IndexCache) rebuild(ctx context.Context) error {
	c.mu.Lock()
	c.indices = map[string]*legSlots{}
	owners := c.ownersLocked()
	c.mu.Unlock()

	res, err := c.runner.Run(ctx, pactl.List(pactl.KindSinkInputs)...)
	if err != nil {
		return fmt.Errorf("list sink-inputs: %w", err)
	}

	dest := c.destinationResolver(ctx)
	fresh := map[string]*legSlots{}
	resolved := 0
	for _, in := range pactl.ParseSinkInputs(res.Stdout) {
		ref, ok := owners[in.ModuleID]
		if !ok || in.ModuleID == "" {
			continue // application stream
		}
		if !c.destinationMatches(ref, dest(in)) {
			continue
		}
		slots, ok := fresh[ref.channel]
		if !ok {
			slots = &legSlots{}
			fresh[ref.channel] = slots
		}
		if slots[ref.leg] == "" {
			slots[ref.leg] = in.Index
			resolved++
		}
	}

	c.mu.Lock()
	c.indices = fresh
	c.mu.Unlock()

	c.log.Debug("indices rebuilt", zap.Int("resolved", resolved), zap.Int("loopbacks", len(owners)))
	return nil
}

func (c *IndexCache) destinationMatches(ref legRef, dest string) bool {
	if ref.leg == mixer.LegStream {
		return strings.Contains(dest, mixer.Channel{Name: ref.channel}.RecordSink())
	}
	return strings.Contains(dest, c.output)
}

// destinationResolver returns a func giving a stream's destination sink name.
// target.object is used when present; otherwise the "Sink:" index is looked up
// in a short sink listing, fetched at most once.
func (c *IndexCache) destinationResolver(ctx context.Context) func(pactl.SinkInput) string {
	var names map[string]string
	return func(in pactl.SinkInput) string {
		if in.Target != "" {
			return in.Target
		}
		if in.SinkIndex == "" {
			return ""
		}
		if names == nil {
			names = map[string]string{}
			if res, err := c.runner.Run(ctx, pactl.ListShort(pactl.KindSinks)...); err == nil {
				names = pactl.NameIndex(pactl.ParseShort(res.Stdout))
			}
		}
		return names[in.SinkIndex]
	}
}

// ownersLocked maps module id to the leg it backs. c.mu must be held.
func (c *IndexCache) ownersLocked() map[string]legRef {
	out := map[string]legRef{}
	for _, ch := range c.channels {
		slots, ok := c.modules[ch.Name]
		if !ok {
			continue
		}
		for _, leg := range []mixer.Leg{mixer.LegStream, mixer.LegMonitor} {
			if slots[leg] != "" {
				out[slots[leg]] = legRef{channel: ch.Name, leg: leg}
			}
		}
	}
	return out
}

func (c *IndexCache) moduleOwners() map[string]legRef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ownersLocked()
}

// Unresolved lists "<channel>/<leg>" for every created loopback without an index.
func (c *IndexCache) Unresolved() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for _, ch := range c.channels {
		mods, ok := c.modules[ch.Name]
		if !ok {
			continue
		}
		idx := c.indices[ch.Name]
		for _, leg := range []mixer.Leg{mixer.LegStream, mixer.LegMonitor} {
			if mods[leg] == "" {
				continue
			}
			if idx == nil || idx[leg] == "" {
				out = append(out, ch.Name+"/"+leg.String())
			}
		}
	}
	return out
}

// Snapshot returns the current channel to index mapping. Channels without any
// resolved leg are absent.
func (c *IndexCache) Snapshot() map[string]Indices {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Indices, len(c.indices))
	for name, slots := range c.indices {
		out[name] = Indices{Stream: slots[mixer.LegStream], Monitor: slots[mixer.LegMonitor]}
	}
	return out
}
