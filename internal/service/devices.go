package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/edirooss/wavemix/internal/domain/mixer"
	"github.com/edirooss/wavemix/internal/infrastructure/pactlexec"
	"github.com/edirooss/wavemix/pkg/pactl"
	"go.uber.org/zap"
)

// FallbackOutputDevice is used when neither the default sink nor any USB sink
// can be found.
const FallbackOutputDevice = "alsa_output.usb-Maono_ProStudio_2x2_Lite-analog-stereo"

type DeviceListerOptions struct {
	TTL time.Duration // cache TTL for OutputDevices; default 5s
}

func (o *DeviceListerOptions) setDefaults() {
	if o.TTL <= 0 {
		o.TTL = 5 * time.Second
	}
}

// DeviceLister offers the sinks usable as the physical monitoring output.
// Sinks created by the mixer itself are never offered.
type DeviceLister struct {
	log    *zap.Logger
	runner pactlexec.Runner

	mu      sync.RWMutex
	cache   []mixer.OutputDevice
	expires time.Time
	opts    DeviceListerOptions
	now     func() time.Time // for tests; default time.Now
}

func NewDeviceLister(log *zap.Logger, runner pactlexec.Runner, opts DeviceListerOptions) *DeviceLister {
	opts.setDefaults()
	return &DeviceLister{
		log:    log.Named("devices"),
		runner: runner,
		opts:   opts,
		now:    time.Now,
	}
}

// Invalidate clears the cache so the next call refetches immediately.
func (d *DeviceLister) Invalidate() {
	d.mu.Lock()
	d.cache = nil
	d.expires = time.Time{}
	d.mu.Unlock()
}

// OutputDevices returns the available output sinks (cached).
func (d *DeviceLister) OutputDevices(ctx context.Context) ([]mixer.OutputDevice, error) {
	d.mu.RLock()
	if d.cache != nil && d.now().Before(d.expires) {
		out := make([]mixer.OutputDevice, len(d.cache))
		copy(out, d.cache)
		d.mu.RUnlock()
		return out, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	// Another goroutine could have already refreshed; re-check
	if d.cache != nil && d.now().Before(d.expires) {
		out := make([]mixer.OutputDevice, len(d.cache))
		copy(out, d.cache)
		return out, nil
	}

	res, err := d.runner.Run(ctx, pactl.List(pactl.KindSinks)...)
	if err != nil {
		return nil, fmt.Errorf("list sinks: %w", err)
	}
	devices := []mixer.OutputDevice{}
	for _, s := range pactl.ParseSinks(res.Stdout) {
		if mixer.IsManagedSink(s.Name) {
			continue
		}
		devices = append(devices, mixer.OutputDevice{Name: s.Name, Description: s.Description})
	}
	d.cache = devices
	d.expires = d.now().Add(d.opts.TTL)

	out := make([]mixer.OutputDevice, len(devices))
	copy(out, devices)
	return out, nil
}

// DefaultOutput picks the monitoring output: the service's default sink, else
// the first sink whose short listing row mentions "usb", else
// FallbackOutputDevice.
func (d *DeviceLister) DefaultOutput(ctx context.Context) string {
	if res, err := d.runner.Run(ctx, pactl.GetDefaultSink()...); err == nil {
		if name := res.Output(); name != "" && !mixer.IsManagedSink(name) {
			return name
		}
	}
	if res, err := d.runner.Run(ctx, pactl.ListShort(pactl.KindSinks)...); err == nil {
		for _, row := range pactl.ParseShort(res.Stdout) {
			line := strings.ToLower(strings.Join(row.Fields, "\t"))
			if strings.Contains(line, "usb") && !mixer.IsManagedSink(row.Name) {
				return row.Name
			}
		}
	}
	d.log.Warn("no output device detected, using fallback", zap.String("device", FallbackOutputDevice))
	return FallbackOutputDevice
}
