package service

import (
	"context"
	"fmt"

	"github.com/edirooss/wavemix/internal/domain/mixer"
	"github.com/edirooss/wavemix/internal/infrastructure/pactlexec"
	"github.com/edirooss/wavemix/pkg/pactl"
)

// Sampler reports per-channel levels for meters.
//
// The "level" is the loopback's volume setting scaled to [0,1], not a peak or
// RMS reading of the signal. pactl exposes no meter data.
type Sampler struct {
	runner pactlexec.Runner
	cache  *IndexCache
}

// NewSampler returns a sampler over the module ids recorded in cache.
func NewSampler(runner pactlexec.Runner, cache *IndexCache) *Sampler {
	return &Sampler{runner: runner, cache: cache}
}

// Sample lists live streams once and reports each matched loopback. A leg
// found without a volume line reads 0. Channels with no matched leg are left
// out of the result.
func (s *Sampler) Sample(ctx context.Context) (mixer.Levels, error) {
	owners := s.cache.moduleOwners()
	if len(owners) == 0 {
		return mixer.Levels{}, nil
	}

	res, err := s.runner.Run(ctx, pactl.List(pactl.KindSinkInputs)...)
	if err != nil {
		return nil, fmt.Errorf("list sink-inputs: %w", err)
	}

	levels := mixer.Levels{}
	for _, in := range pactl.ParseSinkInputs(res.Stdout) {
		ref, ok := owners[in.ModuleID]
		if !ok || in.ModuleID == "" {
			continue
		}
		v := 0.0
		if in.HasVolume {
			v = min(max(in.Volume/100, 0), 1)
		}
		lv := levels[ref.channel]
		if ref.leg == mixer.LegStream {
			if lv.Stream == nil {
				lv.Stream = &v
			}
		} else if lv.Monitor == nil {
			lv.Monitor = &v
		}
		levels[ref.channel] = lv
	}
	return levels, nil
}
