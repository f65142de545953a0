// Package mixer holds the domain types of the channel mixer.
package mixer

import "time"

// Leg selects one of a channel's two loopbacks.
type Leg int

const (
	LegStream  Leg = iota // AppSink monitor → RecordSink
	LegMonitor            // AppSink monitor → physical output
)

func (l Leg) String() string {
	switch l {
	case LegStream:
		return "stream"
	case LegMonitor:
		return "monitor"
	default:
		return "unknown"
	}
}

// Default fader position applied on every topology build.
const DefaultVolume = 100

// ChannelState is the requested fader/mute intent of a channel. It is
// authoritative whether or not the backing loopbacks currently resolve.
type ChannelState struct {
	Name          string `json:"name"`
	VolumeStream  int    `json:"volume_stream"`
	VolumeMonitor int    `json:"volume_monitor"`
	Muted         bool   `json:"mute"`
}

// Application is a live application stream. Never persisted.
type Application struct {
	Index       string `json:"index"`
	Name        string `json:"name"`
	Application string `json:"application"`
	Sink        string `json:"sink"`
	Channel     string `json:"current_channel,omitempty"` // empty when not on a managed AppSink
	Volume      int    `json:"volume"`
}

// ChannelLevels holds per-leg level approximations in [0,1]. A nil leg was not
// found in the live graph.
type ChannelLevels struct {
	Stream  *float64 `json:"stream,omitempty"`
	Monitor *float64 `json:"monitor,omitempty"`
}

// Levels maps channel name to its levels. Channels with no live loopback are
// absent, not zero.
type Levels map[string]ChannelLevels

// LevelSnapshot is one tick of the level feed.
type LevelSnapshot struct {
	Seq    uint64    `json:"seq"`
	At     time.Time `json:"at"`
	Levels Levels    `json:"levels"`
}

// OutputDevice is a sink offered as the physical monitoring output.
type OutputDevice struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}
