package service

import (
	"context"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/edirooss/wavemix/internal/domain/mixer"
	"github.com/edirooss/wavemix/internal/testutil/pulsesim"
	"github.com/edirooss/wavemix/pkg/pactl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

var testChannels = []string{"Music", "Game", "Voice", "System"}

type recordingMirror struct {
	mu    sync.Mutex
	saves [][]mixer.ChannelState
}

func (m *recordingMirror) SaveChannelStates(_ context.Context, states []mixer.ChannelState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves = append(m.saves, states)
	return nil
}

func (m *recordingMirror) last() []mixer.ChannelState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saves) == 0 {
		return nil
	}
	return m.saves[len(m.saves)-1]
}

// EngineTestSuite drives the engine against an in-memory audio service.
type EngineTestSuite struct {
	suite.Suite
	ctx    context.Context
	sim    *pulsesim.Server
	mirror *recordingMirror
	engine *Engine
}

func (s *EngineTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.sim = pulsesim.New()
	s.mirror = &recordingMirror{}
	s.engine = s.newEngine(testChannels...)
}

func (s *EngineTestSuite) newEngine(channels ...string) *Engine {
	e, err := NewEngine(zap.NewNop(), s.sim, EngineOptions{
		Channels: channels,
		Topology: TopologyOptions{
			OutputDevice:    pulsesim.HardwareSink,
			LatencyMS:       20,
			ResolveTimeout:  200 * time.Millisecond,
			ResolveInterval: 5 * time.Millisecond,
		},
		Mirror: s.mirror,
	})
	s.Require().NoError(err)
	return e
}

func (s *EngineTestSuite) build() BuildReport {
	rep, err := s.engine.Build(s.ctx)
	s.Require().NoError(err)
	s.Require().NoError(rep.SettleErr)
	return rep
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func (s *EngineTestSuite) TestBuild_CreatesFullGraph() {
	rep := s.build()

	s.Equal(4, rep.Channels)
	s.Equal(16, rep.Created) // 2 sinks + 2 loopbacks per channel
	s.Zero(rep.Failed)
	s.Empty(rep.Unresolved)
	s.NotEmpty(rep.BuildID)
	s.True(s.engine.Built())

	idx := s.engine.Indices()
	for _, name := range testChannels {
		s.NotEmpty(idx[name].Stream, name)
		s.NotEmpty(idx[name].Monitor, name)

		ids := s.engine.ModuleIDs()[name]
		stream := s.sim.StreamsOfModule(ids.Stream)
		s.Require().Len(stream, 1)
		s.Equal(name+"_OBS", stream[0].Sink)
		monitor := s.sim.StreamsOfModule(ids.Monitor)
		s.Require().Len(monitor, 1)
		s.Equal(pulsesim.HardwareSink, monitor[0].Sink)
	}
}

func (s *EngineTestSuite) TestBuild_TwiceLeavesOneOfEach() {
	s.build()
	rep := s.build()

	s.Equal(16, rep.Removed)
	for _, name := range testChannels {
		s.Equal(1, s.sim.CountSinks(name+"_Apps"), name)
		s.Equal(1, s.sim.CountSinks(name+"_OBS"), name)
	}
	s.Equal(8, s.sim.CountModules(pactl.ModuleNullSink))
	s.Equal(8, s.sim.CountModules(pactl.ModuleLoopback))
	s.Equal(1, s.sim.CountSinks(pulsesim.HardwareSink), "hardware sink survives cleanup")
}

func (s *EngineTestSuite) TestBuild_SingleChannel() {
	s.engine = s.newEngine("Solo")
	s.build()
	s.build()
	s.Equal(1, s.sim.CountSinks("Solo_Apps"))
	s.Equal(1, s.sim.CountSinks("Solo_OBS"))
}

func (s *EngineTestSuite) TestBuild_RemovesLeftoversByKind() {
	// A crashed run left sinks under names the current config does not know.
	old := s.newEngine("Legacy")
	_, err := old.Build(s.ctx)
	s.Require().NoError(err)
	s.Require().Equal(1, s.sim.CountSinks("Legacy_OBS"))

	s.build()
	s.Zero(s.sim.CountSinks("Legacy_Apps"))
	s.Zero(s.sim.CountSinks("Legacy_OBS"))
}

func (s *EngineTestSuite) TestBuild_PinsRestoredRecordSinkVolume() {
	s.build()
	s.sim.SetSinkVolumeDirect("Music_OBS", 40)

	s.build()
	s.Equal(100, s.sim.SinkVolume("Music_OBS"))
	s.Equal(100, s.sim.SinkVolume("Music_Apps"))
}

func (s *EngineTestSuite) TestBuild_Unreachable() {
	s.sim.SetUnreachable(true)

	_, err := s.engine.Build(s.ctx)
	s.ErrorIs(err, ErrEnvironmentUnavailable)
	s.False(s.engine.Built())
	s.Len(s.sim.Calls(), 1, "nothing after the probe")
}

func (s *EngineTestSuite) TestBuild_SettleTimeout() {
	s.sim.FailWhen(func(args []string) bool {
		return slices.Equal(args, pactl.List(pactl.KindSinkInputs))
	})

	rep, err := s.engine.Build(s.ctx)
	s.Require().NoError(err, "only the probe is fatal")
	s.ErrorIs(rep.SettleErr, ErrSettleTimeout)
	s.Len(rep.Unresolved, 8)
	s.Equal(8, s.sim.CountModules(pactl.ModuleLoopback), "remaining steps still ran")
}

func (s *EngineTestSuite) TestBuild_CommandFailuresAreBestEffort() {
	s.sim.FailWhen(func(args []string) bool {
		return slices.Contains(args, "source=Game_Apps.monitor")
	})

	rep := s.build()
	s.Equal(2, rep.Failed)
	s.Empty(rep.Unresolved, "legs never created are not waited for")
	s.Equal(1, s.sim.CountSinks("Voice_OBS"), "later channels still built")

	out := s.engine.SetStreamVolume(s.ctx, "Game", 50)
	s.Equal(mixer.NotApplied(mixer.ReasonUnresolved), out)
}

func (s *EngineTestSuite) TestBuild_ResetsState() {
	s.build()
	s.engine.SetStreamVolume(s.ctx, "Music", 30)
	s.engine.Mute(s.ctx, "Music")

	s.build()
	st, err := s.engine.Channel("Music")
	s.Require().NoError(err)
	s.Equal(mixer.ChannelState{Name: "Music", VolumeStream: 100, VolumeMonitor: 100}, st)
}

func (s *EngineTestSuite) TestVolume_ReadBackWithoutIndex() {
	// Never built: nothing resolves, the request is still recorded.
	out := s.engine.SetStreamVolume(s.ctx, "Music", 42)
	s.Equal(mixer.NotApplied(mixer.ReasonUnresolved), out)

	out = s.engine.SetMonitorVolume(s.ctx, "Music", 7)
	s.Equal(mixer.NotApplied(mixer.ReasonUnresolved), out)

	st, err := s.engine.Channel("Music")
	s.Require().NoError(err)
	s.Equal(42, st.VolumeStream)
	s.Equal(7, st.VolumeMonitor)
	s.Empty(s.sim.Calls(), "no listing without a module id")
}

func (s *EngineTestSuite) TestVolume_Applied() {
	s.build()

	s.Equal(mixer.Applied(), s.engine.SetStreamVolume(s.ctx, "Music", 55))
	s.Equal(mixer.Applied(), s.engine.SetMonitorVolume(s.ctx, "Music", 130))

	ids := s.engine.ModuleIDs()["Music"]
	s.Equal(55, s.sim.StreamsOfModule(ids.Stream)[0].Volume)
	s.Equal(130, s.sim.StreamsOfModule(ids.Monitor)[0].Volume, "amplification passes through")

	st := s.engine.Channels()[0]
	s.Equal(mixer.ChannelState{Name: "Music", VolumeStream: 55, VolumeMonitor: 130}, st)
	s.Equal(s.engine.Channels(), s.mirror.last())
}

func (s *EngineTestSuite) TestVolume_NegativeIsSentAsZero() {
	s.build()
	s.Equal(mixer.Applied(), s.engine.SetStreamVolume(s.ctx, "Music", -5))

	ids := s.engine.ModuleIDs()["Music"]
	s.Equal(0, s.sim.StreamsOfModule(ids.Stream)[0].Volume)
	st, _ := s.engine.Channel("Music")
	s.Equal(-5, st.VolumeStream, "stored as requested")
}

func (s *EngineTestSuite) TestVolume_UnknownChannel() {
	s.build()
	before := s.engine.Channels()

	s.Equal(mixer.NotApplied(mixer.ReasonUnknownChannel), s.engine.SetStreamVolume(s.ctx, "Nope", 10))
	s.Equal(mixer.NotApplied(mixer.ReasonUnknownChannel), s.engine.Mute(s.ctx, "Nope"))
	s.Equal(before, s.engine.Channels())

	_, err := s.engine.Channel("Nope")
	s.ErrorIs(err, ErrUnknownChannel)
}

func (s *EngineTestSuite) TestVolume_CommandFailed() {
	s.build()
	s.sim.FailWhen(func(args []string) bool { return args[0] == "set-sink-input-volume" })

	out := s.engine.SetStreamVolume(s.ctx, "Voice", 20)
	s.Equal(mixer.NotApplied(mixer.ReasonCommandFailed), out)
	st, _ := s.engine.Channel("Voice")
	s.Equal(20, st.VolumeStream)
}

func (s *EngineTestSuite) TestMute_KeepsVolume() {
	s.build()
	s.engine.SetStreamVolume(s.ctx, "Game", 70)
	ids := s.engine.ModuleIDs()["Game"]

	s.Equal(mixer.Applied(), s.engine.Mute(s.ctx, "Game"))
	s.True(s.sim.StreamsOfModule(ids.Stream)[0].Muted)
	s.True(s.sim.StreamsOfModule(ids.Monitor)[0].Muted)
	st, _ := s.engine.Channel("Game")
	s.True(st.Muted)

	s.Equal(mixer.Applied(), s.engine.Unmute(s.ctx, "Game"))
	s.False(s.sim.StreamsOfModule(ids.Stream)[0].Muted)
	s.False(s.sim.StreamsOfModule(ids.Monitor)[0].Muted)

	st, _ = s.engine.Channel("Game")
	s.False(st.Muted)
	s.Equal(70, st.VolumeStream)
	s.Equal(100, st.VolumeMonitor)
	s.Equal(70, s.sim.StreamsOfModule(ids.Stream)[0].Volume)
}

func (s *EngineTestSuite) TestMute_OneLegMissing() {
	s.build()
	s.sim.DropStreams(s.engine.ModuleIDs()["Voice"].Monitor)
	s.Require().NoError(s.engine.RefreshIndices(s.ctx))

	out := s.engine.Mute(s.ctx, "Voice")
	s.Equal(mixer.NotApplied(mixer.ReasonUnresolved), out)
	st, _ := s.engine.Channel("Voice")
	s.True(st.Muted)

	ids := s.engine.ModuleIDs()["Voice"]
	s.True(s.sim.StreamsOfModule(ids.Stream)[0].Muted, "resolved leg still muted")
}

func (s *EngineTestSuite) TestRefresh_Deterministic() {
	s.build()
	s.Require().NoError(s.engine.RefreshIndices(s.ctx))
	first := s.engine.Indices()
	s.Require().NoError(s.engine.RefreshIndices(s.ctx))
	s.Equal(first, s.engine.Indices())
	s.Len(first, 4)
}

func (s *EngineTestSuite) TestRefreshOnMiss() {
	s.build()

	// A failed listing leaves the cache empty.
	s.sim.FailWhen(func(args []string) bool { return slices.Equal(args, pactl.List(pactl.KindSinkInputs)) })
	s.Error(s.engine.RefreshIndices(s.ctx))
	s.Empty(s.engine.Indices())
	s.sim.FailWhen(nil)

	s.Equal(mixer.Applied(), s.engine.SetStreamVolume(s.ctx, "System", 25))
	s.NotEmpty(s.engine.Indices()["System"].Stream)
}

func (s *EngineTestSuite) TestRenumberHeals() {
	s.build()
	before := s.engine.Indices()["Music"].Stream
	s.sim.Renumber()

	// The cached index is stale: the command fails and the index is dropped.
	s.Equal(mixer.NotApplied(mixer.ReasonCommandFailed), s.engine.SetStreamVolume(s.ctx, "Music", 60))

	s.Equal(mixer.Applied(), s.engine.SetStreamVolume(s.ctx, "Music", 60))
	after := s.engine.Indices()["Music"].Stream
	s.NotEqual(before, after)
	st, ok := s.sim.Stream(after)
	s.Require().True(ok)
	s.Equal(60, st.Volume)
}

func (s *EngineTestSuite) TestLegacyFormat() {
	s.sim.SetLegacy(true)
	rep := s.build()
	s.Empty(rep.Unresolved)

	s.Equal(mixer.Applied(), s.engine.SetMonitorVolume(s.ctx, "Voice", 33))
	levels, err := s.engine.Levels(s.ctx)
	s.Require().NoError(err)
	s.Require().NotNil(levels["Voice"].Monitor)
	s.InDelta(0.33, *levels["Voice"].Monitor, 0.001)
}

func (s *EngineTestSuite) TestLevels() {
	levels, err := s.engine.Levels(s.ctx)
	s.Require().NoError(err)
	s.Empty(levels, "nothing created yet")

	s.build()
	s.engine.SetStreamVolume(s.ctx, "Music", 50)
	s.engine.SetMonitorVolume(s.ctx, "Music", 150)

	levels, err = s.engine.Levels(s.ctx)
	s.Require().NoError(err)
	s.Len(levels, 4)
	s.Require().NotNil(levels["Music"].Stream)
	s.InDelta(0.5, *levels["Music"].Stream, 0.001)
	s.InDelta(1.0, *levels["Music"].Monitor, 0.001, "clamped")
	s.InDelta(1.0, *levels["Game"].Stream, 0.001)
}

func (s *EngineTestSuite) TestLevels_OmitsUnresolvedChannel() {
	s.sim.FailWhen(func(args []string) bool {
		return slices.Contains(args, "source=Game_Apps.monitor")
	})
	s.build()

	levels, err := s.engine.Levels(s.ctx)
	s.Require().NoError(err)
	s.NotContains(levels, "Game")
	s.Contains(levels, "Music")
}

func (s *EngineTestSuite) TestApplications_AndRoute() {
	s.build()
	idx := s.sim.AddApp("Firefox", "YouTube", pulsesim.HardwareSink, 87)
	s.sim.AddApp("spotify", "", "Music_Apps", 64)

	apps, err := s.engine.Applications(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(apps, 2, "loopbacks are not applications")
	s.Equal(mixer.Application{Index: idx, Name: "YouTube", Application: "Firefox", Sink: pulsesim.HardwareSink, Volume: 87}, apps[0])
	s.Equal("spotify", apps[1].Name)
	s.Equal("Music", apps[1].Channel)

	s.Equal(mixer.Applied(), s.engine.Route(s.ctx, idx, "Game"))
	st, ok := s.sim.Stream(idx)
	s.Require().True(ok)
	s.Equal("Game_Apps", st.Sink)

	apps, err = s.engine.Applications(s.ctx)
	s.Require().NoError(err)
	s.Equal("Game", apps[0].Channel)
}

func (s *EngineTestSuite) TestRoute_Failures() {
	s.build()
	before := s.engine.Channels()

	s.Equal(mixer.NotApplied(mixer.ReasonCommandFailed), s.engine.Route(s.ctx, "9999", "Music"))
	s.Equal(mixer.NotApplied(mixer.ReasonUnknownChannel), s.engine.Route(s.ctx, "1", "Nope"))
	s.Equal(before, s.engine.Channels())
}

func (s *EngineTestSuite) TestReconfigure() {
	s.build()

	rep, err := s.engine.Reconfigure(s.ctx, EngineOptions{
		Channels: []string{"Chat"},
		Topology: TopologyOptions{OutputDevice: pulsesim.HardwareSink, ResolveInterval: 5 * time.Millisecond},
	})
	s.Require().NoError(err)
	s.Empty(rep.Unresolved)

	s.Zero(s.sim.CountSinks("Music_Apps"))
	s.Equal(1, s.sim.CountSinks("Chat_OBS"))
	s.Equal([]mixer.ChannelState{{Name: "Chat", VolumeStream: 100, VolumeMonitor: 100}}, s.engine.Channels())
	s.Equal(s.engine.Channels(), s.mirror.last(), "mirror kept across reconfigure")

	_, err = s.engine.Reconfigure(s.ctx, EngineOptions{Channels: []string{"bad name"}})
	s.Error(err)
	s.Equal("Chat", s.engine.Channels()[0].Name)
}

func (s *EngineTestSuite) TestConcurrentMutations() {
	s.build()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ch := testChannels[i%len(testChannels)]
			s.engine.SetStreamVolume(s.ctx, ch, i)
			if i%2 == 0 {
				s.engine.Mute(s.ctx, ch)
			}
			_, _ = s.engine.Levels(s.ctx)
		}(i)
	}
	wg.Wait()
	s.Len(s.engine.Channels(), 4)
}

func TestNewEngine_InvalidChannels(t *testing.T) {
	_, err := NewEngine(zap.NewNop(), pulsesim.New(), EngineOptions{})
	require.Error(t, err)

	_, err = NewEngine(zap.NewNop(), pulsesim.New(), EngineOptions{Channels: []string{"A", "A"}})
	assert.True(t, strings.Contains(err.Error(), "duplicate"))
}
