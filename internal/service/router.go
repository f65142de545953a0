package service

import (
	"context"
	"fmt"
	"math"

	"github.com/edirooss/wavemix/internal/domain/mixer"
	"github.com/edirooss/wavemix/internal/infrastructure/pactlexec"
	"github.com/edirooss/wavemix/pkg/pactl"
	"go.uber.org/zap"
)

// Router lists application streams and moves them between channels.
type Router struct {
	log      *zap.Logger
	runner   pactlexec.Runner
	channels []mixer.Channel
}

// NewRouter returns a router for the configured channels.
func NewRouter(log *zap.Logger, runner pactlexec.Runner, channels []mixer.Channel) *Router {
	return &Router{
		log:      log.Named("router"),
		runner:   runner,
		channels: channels,
	}
}

// List returns every live stream that carries an application name. Loopback
// streams carry none and are skipped.
func (r *Router) List(ctx context.Context) ([]mixer.Application, error) {
	res, err := r.runner.Run(ctx, pactl.List(pactl.KindSinkInputs)...)
	if err != nil {
		return nil, fmt.Errorf("list sink-inputs: %w", err)
	}

	sinkNames := map[string]string{}
	if sres, err := r.runner.Run(ctx, pactl.ListShort(pactl.KindSinks)...); err == nil {
		sinkNames = pactl.NameIndex(pactl.ParseShort(sres.Stdout))
	}

	apps := []mixer.Application{}
	for _, in := range pactl.ParseSinkInputs(res.Stdout) {
		if in.AppName == "" {
			continue
		}
		sink := sinkNames[in.SinkIndex]
		if sink == "" {
			sink = in.Target
		}
		app := mixer.Application{
			Index:       in.Index,
			Name:        in.DisplayName(),
			Application: in.AppName,
			Sink:        sink,
			Channel:     r.channelOf(sink),
			Volume:      mixer.DefaultVolume,
		}
		if in.HasVolume {
			app.Volume = int(math.Round(in.Volume))
		}
		apps = append(apps, app)
	}
	return apps, nil
}

// Route moves stream index onto channel's AppSink. Applied reflects only the
// exit status of the move; the result is not read back.
func (r *Router) Route(ctx context.Context, index, channel string) mixer.Outcome {
	ch, ok := r.channel(channel)
	if !ok {
		return mixer.NotApplied(mixer.ReasonUnknownChannel)
	}
	if _, err := r.runner.Run(ctx, pactl.MoveSinkInput(index, ch.AppSink())...); err != nil {
		return mixer.NotApplied(mixer.ReasonCommandFailed)
	}
	r.log.Info("application routed", zap.String("index", index), zap.String("channel", channel))
	return mixer.Applied()
}

func (r *Router) channel(name string) (mixer.Channel, bool) {
	for _, ch := range r.channels {
		if ch.Name == name {
			return ch, true
		}
	}
	return mixer.Channel{}, false
}

func (r *Router) channelOf(sink string) string {
	if sink == "" {
		return ""
	}
	for _, ch := range r.channels {
		if ch.AppSink() == sink {
			return ch.Name
		}
	}
	return ""
}
