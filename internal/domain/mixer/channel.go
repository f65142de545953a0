package mixer

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Sink name suffixes. RecordSink names are what capture software (OBS) binds
// to, so they stay stable across releases.
const (
	appSinkSuffix    = "_Apps"
	recordSinkSuffix = "_OBS"
	appDescSuffix    = "_Applications"
	monitorSuffix    = ".monitor"
)

// Channel is a named routing bus: applications play into AppSink, a stream
// loopback copies AppSink's monitor into RecordSink, and a monitor loopback
// copies it into the physical output.
type Channel struct {
	Name string
}

// NewChannels converts an ordered name list, preserving order.
func NewChannels(names []string) []Channel {
	out := make([]Channel, len(names))
	for i, n := range names {
		out[i] = Channel{Name: n}
	}
	return out
}

// AppSink is the sink applications are routed to.
func (c Channel) AppSink() string { return c.Name + appSinkSuffix }

// AppSinkDescription is the human label of AppSink.
func (c Channel) AppSinkDescription() string { return c.Name + appDescSuffix }

// RecordSink is the virtual sink that mirrors the channel for capture.
func (c Channel) RecordSink() string { return c.Name + recordSinkSuffix }

// MonitorSource is AppSink's monitor, the source of both loopbacks.
func (c Channel) MonitorSource() string { return c.AppSink() + monitorSuffix }

var channelNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateNames checks a configured channel list: at least one entry, every
// name usable inside a sink name, no duplicates.
func ValidateNames(names []string) error {
	if len(names) == 0 {
		return errors.New("at least one channel is required")
	}
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if len(n) > 64 {
			return fmt.Errorf("channel %q: must be at most 64 characters", n)
		}
		if !channelNameRe.MatchString(n) {
			return fmt.Errorf("channel %q: only letters, digits, '_' and '-' are allowed", n)
		}
		if _, dup := seen[n]; dup {
			return fmt.Errorf("channel %q: duplicate", n)
		}
		seen[n] = struct{}{}
	}
	return nil
}

// IsManagedSink reports whether name looks like an AppSink or RecordSink.
func IsManagedSink(name string) bool {
	return strings.HasSuffix(name, appSinkSuffix) || strings.HasSuffix(name, recordSinkSuffix)
}
