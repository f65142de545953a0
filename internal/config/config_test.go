package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, []string{"Music", "Game", "Voice", "System"}, cfg.Audio.Channels)
	assert.Equal(t, 20, cfg.Audio.LatencyMS)
	assert.Equal(t, "pactl", cfg.Pactl.Binary)
	assert.Equal(t, 5*time.Second, cfg.Pactl.Timeout())
	assert.Equal(t, 200*time.Millisecond, cfg.Topology.Settle())
	assert.Equal(t, 50*time.Millisecond, cfg.Feed.Interval())
	assert.Empty(t, cfg.Redis.Address)
	require.NoError(t, cfg.Validate())

	// Defaults must not alias the package-level slice.
	cfg.Audio.Channels[0] = "Changed"
	assert.Equal(t, "Music", DefaultChannels[0])
}

func TestLoad_OverridesKeepDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wavemix.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
audio:
  channels: [Chat, Game]
  output_device: alsa_output.pci-0000_00_1f.3.analog-stereo
redis:
  address: localhost:6379
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Chat", "Game"}, cfg.Audio.Channels)
	assert.Equal(t, "alsa_output.pci-0000_00_1f.3.analog-stereo", cfg.Audio.OutputDevice)
	assert.Equal(t, 20, cfg.Audio.LatencyMS)
	assert.Equal(t, 2000, cfg.Topology.ResolveTimeoutMS)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
}

func TestParse_EmptyChannelsFallBack(t *testing.T) {
	cfg, err := Parse([]byte("audio:\n  channels: []\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultChannels, cfg.Audio.Channels)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"duplicate channel": "audio:\n  channels: [Music, Music]\n",
		"bad channel name":  "audio:\n  channels: [\"My Music\"]\n",
		"zero latency":      "audio:\n  latency_ms: 0\n",
		"negative settle":   "topology:\n  settle_ms: -1\n",
		"zero feed":         "feed:\n  interval_ms: 0\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := Parse([]byte("audio: [not, a, map]"))
	assert.Error(t, err)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSameTopology(t *testing.T) {
	a, b := Default(), Default()
	assert.True(t, a.SameTopology(b))

	b.Feed.IntervalMS = 100
	assert.True(t, a.SameTopology(b), "feed cadence does not shape the graph")

	b.Audio.LatencyMS = 40
	assert.False(t, a.SameTopology(b))
}
