package service

import (
	"sync"

	"github.com/edirooss/wavemix/internal/domain/mixer"
)

// StateStore holds the requested fader and mute intent per channel. It never
// talks to the audio service; whatever was last requested is what it returns.
type StateStore struct {
	mu     sync.RWMutex
	order  []string
	states map[string]*mixer.ChannelState
}

// NewStateStore seeds one entry per channel at defaults, preserving order.
func NewStateStore(channels []mixer.Channel) *StateStore {
	s := &StateStore{
		order:  make([]string, 0, len(channels)),
		states: make(map[string]*mixer.ChannelState, len(channels)),
	}
	for _, ch := range channels {
		s.order = append(s.order, ch.Name)
		s.states[ch.Name] = defaultState(ch.Name)
	}
	return s
}

func defaultState(name string) *mixer.ChannelState {
	return &mixer.ChannelState{
		Name:          name,
		VolumeStream:  mixer.DefaultVolume,
		VolumeMonitor: mixer.DefaultVolume,
	}
}

// Reset puts every channel back to 100/100/unmuted.
func (s *StateStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range s.order {
		s.states[name] = defaultState(name)
	}
}

// Get returns a copy of one channel's state.
func (s *StateStore) Get(name string) (mixer.ChannelState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[name]
	if !ok {
		return mixer.ChannelState{}, false
	}
	return *st, true
}

// List returns every channel's state in configuration order.
func (s *StateStore) List() []mixer.ChannelState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]mixer.ChannelState, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, *s.states[name])
	}
	return out
}

// SetVolume records the requested percent for one leg. Reports false for an
// unknown channel.
func (s *StateStore) SetVolume(name string, leg mixer.Leg, percent int) bool {
	return s.update(name, func(st *mixer.ChannelState) {
		if leg == mixer.LegMonitor {
			st.VolumeMonitor = percent
		} else {
			st.VolumeStream = percent
		}
	})
}

// SetMuted records the mute flag. Reports false for an unknown channel.
func (s *StateStore) SetMuted(name string, muted bool) bool {
	return s.update(name, func(st *mixer.ChannelState) { st.Muted = muted })
}

func (s *StateStore) update(name string, fn func(*mixer.ChannelState)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[name]
	if !ok {
		return false
	}
	fn(st)
	return true
}
