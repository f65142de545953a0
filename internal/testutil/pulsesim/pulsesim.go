// Package pulsesim is an in-memory stand-in for a pipewire-pulse server as seen
// through pactl. It implements pactlexec.Runner, keeps a small object graph
// (modules, sinks, sink-inputs) and renders listings in the real text format.
//
// Beyond the happy path it can drop off the bus, fail selected commands,
// renumber streams, omit PipeWire-only properties and restore stale sink
// volumes on recreation, which is what the engine has to survive in the wild.
package pulsesim

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/edirooss/wavemix/internal/infrastructure/pactlexec"
)

// HardwareSink is the physical output present from the start.
const HardwareSink = "alsa_output.usb-Test_Card-00.analog-stereo"

type module struct {
	id   int
	kind string
	args string
}

type sink struct {
	index  int
	name   string
	desc   string
	module int // 0 for hardware
	volume int
}

type input struct {
	index  int
	module int // 0 for application streams
	sink   int
	props  map[string]string
	volume int
	muted  bool
}

// Server is the simulated audio service. The zero value is not usable; call New.
type Server struct {
	mu sync.Mutex

	nextModule int
	nextSink   int
	nextInput  int

	modules map[int]*module
	sinks   map[int]*sink
	inputs  map[int]*input

	// restored holds the last volume seen per sink name; new sinks with that
	// name come back at it, like module-stream-restore does.
	restored map[string]int

	unreachable bool
	legacy      bool
	failFn      func(args []string) bool
	calls       [][]string
}

// New returns a server with one hardware sink (owned by a card module) and no
// streams.
func New() *Server {
	s := &Server{
		nextModule: 536870912,
		nextSink:   40,
		nextInput:  60,
		modules:    map[int]*module{},
		sinks:      map[int]*sink{},
		inputs:     map[int]*input{},
		restored:   map[string]int{},
	}
	card := s.addModule("module-alsa-card", "device_id=\"0\"")
	s.sinks[0] = &sink{index: 0, name: HardwareSink, desc: "Test Card Analog Stereo", module: card, volume: 100}
	return s
}

// SetUnreachable makes every command fail as if the daemon were down.
func (s *Server) SetUnreachable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unreachable = v
}

// SetLegacy drops target.object and pulse.module.id from stream listings, as
// classic PulseAudio prints them.
func (s *Server) SetLegacy(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.legacy = v
}

// FailWhen makes commands for which fn returns true exit 1. nil clears it.
func (s *Server) FailWhen(fn func(args []string) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFn = fn
}

// Calls returns a copy of every argv received.
func (s *Server) Calls() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.calls))
	for i, c := range s.calls {
		out[i] = append([]string(nil), c...)
	}
	return out
}

// ResetCalls forgets recorded calls.
func (s *Server) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// AddApp attaches an application stream to the named sink and returns its index.
func (s *Server) AddApp(app, media, sinkName string, volume int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	sk := s.sinkByName(sinkName)
	if sk == nil {
		sk = s.sinks[0]
	}
	props := map[string]string{"application.name": app, "node.name": app}
	if media != "" {
		props["media.name"] = media
	}
	in := &input{index: s.nextInput, sink: sk.index, props: props, volume: volume}
	s.nextInput++
	s.inputs[in.index] = in
	return strconv.Itoa(in.index)
}

// Renumber gives every stream a fresh index, as a daemon restart of the
// loopback nodes would. Module ids are kept.
func (s *Server) Renumber() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fresh := make(map[int]*input, len(s.inputs))
	for _, idx := range sortedKeys(s.inputs) {
		in := s.inputs[idx]
		in.index = s.nextInput
		s.nextInput++
		fresh[in.index] = in
	}
	s.inputs = fresh
}

// DropStreams removes every stream owned by module id without unloading it.
func (s *Server) DropStreams(moduleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, _ := strconv.Atoi(moduleID)
	for idx, in := range s.inputs {
		if in.module == id {
			delete(s.inputs, idx)
		}
	}
}

// CountSinks returns how many live sinks carry name.
func (s *Server) CountSinks(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sk := range s.sinks {
		if sk.name == name {
			n++
		}
	}
	return n
}

// CountModules returns how many live modules are of kind.
func (s *Server) CountModules(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.modules {
		if m.kind == kind {
			n++
		}
	}
	return n
}

// SinkVolume returns the volume of the named sink, or -1.
func (s *Server) SinkVolume(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sk := s.sinkByName(name); sk != nil {
		return sk.volume
	}
	return -1
}

// SetSinkVolumeDirect changes a sink volume behind the engine's back.
func (s *Server) SetSinkVolumeDirect(name string, v int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sk := s.sinkByName(name); sk != nil {
		sk.volume = v
		s.restored[name] = v
	}
}

// Stream describes a live stream for assertions.
type Stream struct {
	Index    string
	ModuleID string
	Sink     string
	Volume   int
	Muted    bool
}

// Stream returns the stream with index, if alive.
func (s *Server) Stream(index string) (Stream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := strconv.Atoi(index)
	if err != nil {
		return Stream{}, false
	}
	in, ok := s.inputs[idx]
	if !ok {
		return Stream{}, false
	}
	return s.describe(in), true
}

// StreamsOfModule returns the streams owned by module id.
func (s *Server) StreamsOfModule(moduleID string) []Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, _ := strconv.Atoi(moduleID)
	var out []Stream
	for _, idx := range sortedKeys(s.inputs) {
		if in := s.inputs[idx]; in.module == id {
			out = append(out, s.describe(in))
		}
	}
	return out
}

func (s *Server) describe(in *input) Stream {
	st := Stream{Index: strconv.Itoa(in.index), Volume: in.volume, Muted: in.muted}
	if in.module != 0 {
		st.ModuleID = strconv.Itoa(in.module)
	}
	if sk, ok := s.sinks[in.sink]; ok {
		st.Sink = sk.name
	}
	return st
}

// Run implements pactlexec.Runner.
func (s *Server) Run(ctx context.Context, args ...string) (pactlexec.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	s.calls = append(s.calls, append([]string(nil), args...))
	res := pactlexec.Result{Args: args}

	fail := func(msg string) (pactlexec.Result, error) {
		res.ExitCode = 1
		res.Stderr = msg
		res.Duration = time.Since(start)
		return res, fmt.Errorf("%w: exit 1: %s", pactlexec.ErrCommandFailed, msg)
	}

	if err := ctx.Err(); err != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("%w: %v", pactlexec.ErrTimeout, err)
	}
	if s.unreachable {
		return fail("Connection failure: Connection refused")
	}
	if s.failFn != nil && s.failFn(args) {
		return fail("Failure: Operation failed")
	}
	if len(args) == 0 {
		return fail("No valid command specified.")
	}

	out, errMsg := s.dispatch(args)
	if errMsg != "" {
		return fail(errMsg)
	}
	res.Stdout = out
	res.Duration = time.Since(start)
	return res, nil
}

func (s *Server) dispatch(args []string) (string, string) {
	switch args[0] {
	case "info":
		return "Server String: /run/user/1000/pulse/native\nServer Name: PulseAudio (on PipeWire 1.0.5)\n", ""
	case "get-default-sink":
		return HardwareSink + "\n", ""
	case "list":
		return s.list(args[1:])
	case "load-module":
		return s.loadModule(args[1:])
	case "unload-module":
		if len(args) < 2 {
			return "", "Failure: Invalid argument"
		}
		return "", s.unload(args[1])
	case "set-sink-volume":
		if len(args) < 3 {
			return "", "Failure: Invalid argument"
		}
		sk := s.sinkByRef(args[1])
		if sk == nil {
			return "", "Failure: No such entity"
		}
		v, ok := parsePercent(args[2])
		if !ok {
			return "", "Failure: Invalid volume specification"
		}
		sk.volume = v
		s.restored[sk.name] = v
		return "", ""
	case "set-sink-input-volume", "set-sink-input-mute", "move-sink-input":
		if len(args) < 3 {
			return "", "Failure: Invalid argument"
		}
		in := s.inputByRef(args[1])
		if in == nil {
			return "", "Failure: No such entity"
		}
		return "", s.mutateInput(in, args[0], args[2])
	default:
		return "", "Unknown command: " + args[0]
	}
}

func (s *Server) mutateInput(in *input, verb, arg string) string {
	switch verb {
	case "set-sink-input-volume":
		v, ok := parsePercent(arg)
		if !ok {
			return "Failure: Invalid volume specification"
		}
		in.volume = v
	case "set-sink-input-mute":
		switch arg {
		case "1", "true", "yes":
			in.muted = true
		case "0", "false", "no":
			in.muted = false
		case "toggle":
			in.muted = !in.muted
		default:
			return "Failure: Invalid mute specification"
		}
	case "move-sink-input":
		sk := s.sinkByRef(arg)
		if sk == nil {
			return "Failure: No such entity"
		}
		in.sink = sk.index
	}
	return ""
}

func (s *Server) list(args []string) (string, string) {
	short := false
	if len(args) > 0 && args[0] == "short" {
		short = true
		args = args[1:]
	}
	if len(args) == 0 {
		return "", "Failure: Invalid argument"
	}

	var b strings.Builder
	switch args[0] {
	case "modules":
		for _, id := range sortedKeys(s.modules) {
			m := s.modules[id]
			if short {
				fmt.Fprintf(&b, "%d\t%s\t%s\t\n", m.id, m.kind, m.args)
			} else {
				fmt.Fprintf(&b, "Module #%d\n\tName: %s\n\tArgument: %s\n\tUsage counter: n/a\n\n", m.id, m.kind, m.args)
			}
		}
	case "sinks":
		for _, idx := range sortedKeys(s.sinks) {
			sk := s.sinks[idx]
			if short {
				fmt.Fprintf(&b, "%d\t%s\tPipeWire\tfloat32le 2ch 48000Hz\tIDLE\n", sk.index, sk.name)
			} else {
				fmt.Fprintf(&b, "Sink #%d\n\tState: IDLE\n\tName: %s\n\tDescription: %s\n\tDriver: PipeWire\n\tOwner Module: %d\n%s\n",
					sk.index, sk.name, sk.desc, sk.module, volumeLine(sk.volume))
			}
		}
	case "sink-inputs":
		for _, idx := range sortedKeys(s.inputs) {
			in := s.inputs[idx]
			if short {
				fmt.Fprintf(&b, "%d\t%d\t-\tPipeWire\tfloat32le 2ch 48000Hz\n", in.index, in.sink)
				continue
			}
			s.renderInput(&b, in)
		}
	default:
		return "", "Failure: Invalid argument"
	}
	return b.String(), ""
}

func (s *Server) renderInput(b *strings.Builder, in *input) {
	owner := "n/a"
	if s.legacy && in.module != 0 {
		owner = strconv.Itoa(in.module)
	}
	mute := "no"
	if in.muted {
		mute = "yes"
	}
	fmt.Fprintf(b, "Sink Input #%d\n", in.index)
	fmt.Fprintf(b, "\tDriver: PipeWire\n\tOwner Module: %s\n\tClient: 42\n\tSink: %d\n", owner, in.sink)
	fmt.Fprintf(b, "\tSample Specification: float32le 2ch 48000Hz\n\tChannel Map: front-left,front-right\n")
	fmt.Fprintf(b, "\tCorked: no\n\tMute: %s\n%s\n\t        balance 0.00\n", mute, volumeLine(in.volume))
	fmt.Fprintf(b, "\tBuffer Latency: 0 usec\n\tSink Latency: 0 usec\n\tResample method: PipeWire\n\tProperties:\n")
	for _, k := range sortedStrings(in.props) {
		fmt.Fprintf(b, "\t\t%s = \"%s\"\n", k, in.props[k])
	}
	if in.module != 0 && !s.legacy {
		if sk, ok := s.sinks[in.sink]; ok {
			fmt.Fprintf(b, "\t\ttarget.object = \"%s\"\n", sk.name)
		}
		fmt.Fprintf(b, "\t\tpulse.module.id = \"%d\"\n", in.module)
	}
	b.WriteString("\n")
}

func (s *Server) loadModule(args []string) (string, string) {
	if len(args) == 0 {
		return "", "Failure: Invalid argument"
	}
	kv := map[string]string{}
	for _, a := range args[1:] {
		if k, v, ok := strings.Cut(a, "="); ok {
			kv[k] = v
		}
	}

	switch args[0] {
	case "module-null-sink":
		name := kv["sink_name"]
		if name == "" {
			return "", "Failure: Module initialization failed"
		}
		desc := strings.TrimPrefix(kv["sink_properties"], "device.description=")
		id := s.addModule(args[0], strings.Join(args[1:], " "))
		vol := 100
		if v, ok := s.restored[name]; ok {
			vol = v
		}
		s.sinks[s.nextSink] = &sink{index: s.nextSink, name: name, desc: desc, module: id, volume: vol}
		s.nextSink++
		return strconv.Itoa(id) + "\n", ""

	case "module-loopback":
		src := strings.TrimSuffix(kv["source"], ".monitor")
		if s.sinkByName(src) == nil {
			return "", "Failure: Module initialization failed"
		}
		dst := s.sinkByName(kv["sink"])
		if dst == nil {
			return "", "Failure: Module initialization failed"
		}
		id := s.addModule(args[0], strings.Join(args[1:], " "))
		in := &input{
			index:  s.nextInput,
			module: id,
			sink:   dst.index,
			props:  map[string]string{"media.name": "Loopback from " + kv["source"], "node.name": fmt.Sprintf("output.loopback-%d", id)},
			volume: 100,
		}
		s.nextInput++
		s.inputs[in.index] = in
		return strconv.Itoa(id) + "\n", ""

	default:
		return "", "Failure: Module initialization failed"
	}
}

func (s *Server) addModule(kind, args string) int {
	id := s.nextModule
	s.nextModule++
	s.modules[id] = &module{id: id, kind: kind, args: args}
	return id
}

func (s *Server) unload(ref string) string {
	id, err := strconv.Atoi(ref)
	if err != nil {
		return "Failure: Invalid argument"
	}
	if _, ok := s.modules[id]; !ok {
		return "Failure: No such entity"
	}
	delete(s.modules, id)

	for idx, in := range s.inputs {
		if in.module == id {
			delete(s.inputs, idx)
		}
	}
	for idx, sk := range s.sinks {
		if sk.module != id {
			continue
		}
		delete(s.sinks, idx)
		for _, in := range s.inputs {
			if in.sink == idx {
				in.sink = 0
			}
		}
	}
	return ""
}

func (s *Server) sinkByName(name string) *sink {
	for _, idx := range sortedKeys(s.sinks) {
		if sk := s.sinks[idx]; sk.name == name {
			return sk
		}
	}
	return nil
}

func (s *Server) sinkByRef(ref string) *sink {
	if idx, err := strconv.Atoi(ref); err == nil {
		return s.sinks[idx]
	}
	return s.sinkByName(ref)
}

func (s *Server) inputByRef(ref string) *input {
	idx, err := strconv.Atoi(ref)
	if err != nil {
		return nil
	}
	return s.inputs[idx]
}

func volumeLine(pct int) string {
	raw := pct * 65536 / 100
	return fmt.Sprintf("\tVolume: front-left: %d / %3d%% / 0.00 dB,   front-right: %d / %3d%% / 0.00 dB", raw, pct, raw, pct)
}

func parsePercent(arg string) (int, bool) {
	if strings.HasPrefix(arg, "-") || strings.HasPrefix(arg, "+") {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSuffix(arg, "%"))
	if err != nil {
		return 0, false
	}
	return v, true
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func sortedStrings(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
