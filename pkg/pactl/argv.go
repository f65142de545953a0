package pactl

import (
	"strconv"
	"strings"
)

// Binary is the default control utility name.
const Binary = "pactl"

// Module kinds managed by the engine, as printed in `list short modules`.
const (
	ModuleNullSink = "module-null-sink"
	ModuleLoopback = "module-loopback"
)

// Object kinds accepted by `list` and `list short`.
const (
	KindSinkInputs = "sink-inputs"
	KindSinks      = "sinks"
	KindModules    = "modules"
)

// Builder constructs pactl argument vectors.
//
// The Builder implements a fluent API; it is NOT concurrency-safe.
// argv[0] (the binary) is not part of Args; the runner owns the binary path.
type Builder struct {
	args []string
}

// NewBuilder returns a Builder seeded with the verb words, e.g. "list", "short".
func NewBuilder(verb ...string) *Builder {
	b := &Builder{}
	for _, v := range verb {
		b.WithArg(v)
	}
	return b
}

// WithArg appends a positional argument if non-empty.
func (b *Builder) WithArg(arg string) *Builder {
	if arg != "" {
		b.args = append(b.args, arg)
	}
	return b
}

// WithKV appends key=value if value is non-empty.
func (b *Builder) WithKV(key, val string) *Builder {
	if val != "" {
		b.args = append(b.args, key+"="+val)
	}
	return b
}

// WithIntKV appends key=value with a base-10 int value (always emitted).
func (b *Builder) WithIntKV(key string, val int) *Builder {
	b.args = append(b.args, key+"="+strconv.Itoa(val))
	return b
}

// Args returns a copy of the argument vector.
func (b *Builder) Args() []string {
	out := make([]string, len(b.args))
	copy(out, b.args)
	return out
}

// String renders the invocation as a shell-quoted command line for logs.
func (b *Builder) String() string {
	return CommandString(Binary, b.args)
}

// CommandString shell-quotes binary and args into a single line.
func CommandString(binary string, args []string) string {
	quoted := make([]string, 0, len(args)+1)
	quoted = append(quoted, shQuote(binary))
	for _, a := range args {
		quoted = append(quoted, shQuote(a))
	}
	return strings.Join(quoted, " ")
}

// Percent formats an absolute volume argument. Negative values are sent as 0%
// because pactl reads a leading "-" as a relative decrement.
func Percent(p int) string {
	if p < 0 {
		p = 0
	}
	return strconv.Itoa(p) + "%"
}

// Info is the reachability probe.
func Info() []string { return NewBuilder("info").Args() }

// GetDefaultSink asks for the current default output sink name.
func GetDefaultSink() []string { return NewBuilder("get-default-sink").Args() }

// List requests a detailed listing of kind.
func List(kind string) []string { return NewBuilder("list", kind).Args() }

// ListShort requests a tab separated short listing of kind.
func ListShort(kind string) []string { return NewBuilder("list", "short", kind).Args() }

// LoadNullSink creates a virtual sink; stdout carries the new module id.
func LoadNullSink(sinkName, description string) []string {
	b := NewBuilder("load-module", ModuleNullSink).WithKV("sink_name", sinkName)
	if description != "" {
		b.WithKV("sink_properties", "device.description="+description)
	}
	return b.Args()
}

// LoadLoopback creates a standing route from source into sink; stdout
// carries the new module id.
func LoadLoopback(source, sink string, latencyMS int) []string {
	return NewBuilder("load-module", ModuleLoopback).
		WithKV("source", source).
		WithKV("sink", sink).
		WithIntKV("latency_msec", latencyMS).
		Args()
}

// UnloadModule destroys a module and every object it owns.
func UnloadModule(id string) []string { return NewBuilder("unload-module", id).Args() }

// SetSinkVolume sets a sink (by name or index) to an absolute percentage.
func SetSinkVolume(sink string, percent int) []string {
	return NewBuilder("set-sink-volume", sink, Percent(percent)).Args()
}

// SetSinkInputVolume sets a stream to an absolute percentage.
func SetSinkInputVolume(index string, percent int) []string {
	return NewBuilder("set-sink-input-volume", index, Percent(percent)).Args()
}

// SetSinkInputMute mutes or unmutes a stream.
func SetSinkInputMute(index string, muted bool) []string {
	flag := "0"
	if muted {
		flag = "1"
	}
	return NewBuilder("set-sink-input-mute", index, flag).Args()
}

// MoveSinkInput re-targets a stream to another sink.
func MoveSinkInput(index, sink string) []string {
	return NewBuilder("move-sink-input", index, sink).Args()
}

// shQuote returns a POSIX-safe single-quoted token.
func shQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
