// Package pactl reads and writes the text protocol spoken by the `pactl`
// control utility of PulseAudio and PipeWire (pipewire-pulse).
//
// Design:
//
//   - This layer is pure: no execution, no I/O. Callers hand in captured
//     stdout and get back records; argv construction lives in argv.go.
//   - Parsing is tolerant. A field is set only when its key literal, its
//     separator and a usable value are all present. The first occurrence in a
//     block wins. A missing or mangled field is "unset", never an error, so
//     empty input, truncated lines and unbalanced quotes are all legal.
//
// Listing shapes handled:
//
//	list sink-inputs   blocks delimited by "Sink Input #<index>"
//	list sinks         blocks delimited by "Sink #<index>"
//	list modules       blocks delimited by "Module #<index>"
//	list short <kind>  one tab separated row per object: index<TAB>name<TAB>...
package pactl

import (
	"strconv"
	"strings"
)

// Record delimiters of the detailed listings.
const (
	SinkInputDelimiter = "Sink Input #"
	SinkDelimiter      = "Sink #"
	ModuleDelimiter    = "Module #"
)

// Block is one object of a detailed listing.
type Block struct {
	ID    string   // first token after the delimiter
	Lines []string // remaining lines, untrimmed
}

// SplitBlocks cuts a detailed listing into per-object blocks.
// Text before the first delimiter is discarded, as are blocks whose first line
// carries no id token.
func SplitBlocks(dump, delimiter string) []Block {
	if dump == "" || delimiter == "" {
		return nil
	}

	sections := strings.Split(dump, delimiter)
	blocks := make([]Block, 0, len(sections)-1)
	for _, section := range sections[1:] {
		lines := strings.Split(section, "\n")
		head := strings.Fields(lines[0])
		if len(head) == 0 {
			continue
		}
		blocks = append(blocks, Block{ID: head[0], Lines: lines[1:]})
	}
	return blocks
}

// Property returns the value of a `key = "value"` property line.
// A line without a closing quote yields the remainder of the line.
func (b Block) Property(key string) (string, bool) {
	needle := key + ` = "`
	for _, line := range b.Lines {
		i := strings.Index(line, needle)
		if i < 0 {
			continue
		}
		rest := strings.TrimRight(line[i+len(needle):], "\r")
		if j := strings.IndexByte(rest, '"'); j >= 0 {
			rest = rest[:j]
		}
		if rest == "" {
			continue
		}
		return rest, true
	}
	return "", false
}

// Attr returns the trimmed value of a `Key: value` header line, e.g. "Sink: 3"
// or "Owner Module: 12". Only lines that start with the key (after indentation)
// qualify, so "Sink:" never matches "Sink Input".
func (b Block) Attr(key string) (string, bool) {
	prefix := key + ":"
	for _, line := range b.Lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, prefix) {
			continue
		}
		val := strings.TrimSpace(trimmed[len(prefix):])
		if val == "" {
			continue
		}
		return val, true
	}
	return "", false
}

// AttrToken returns the first whitespace separated token of Attr(key).
func (b Block) AttrToken(key string) (string, bool) {
	val, ok := b.Attr(key)
	if !ok {
		return "", false
	}
	return strings.Fields(val)[0], true
}

// FrontLeftPercent returns the percentage of the first channel of a volume
// descriptor:
//
//	Volume: front-left: 65536 / 100% / 0.00 dB,   front-right: 65536 / 100% / 0.00 dB
//
// The text after "front-left:" is split on "/", the second token is taken and
// its "%" stripped. The dB token is ignored so locales writing "0,00 dB" parse.
func (b Block) FrontLeftPercent() (float64, bool) {
	for _, line := range b.Lines {
		_, after, found := strings.Cut(line, "front-left:")
		if !found {
			continue
		}
		parts := strings.Split(after, "/")
		if len(parts) < 2 {
			continue
		}
		raw := strings.TrimSpace(strings.ReplaceAll(parts[1], "%", ""))
		pct, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		return pct, true
	}
	return 0, false
}

// Row is one line of a short listing.
type Row struct {
	Index  string
	Name   string
	Fields []string // every tab separated column, including index and name
}

// ParseShort reads a `pactl list short <kind>` dump. Lines with fewer than two
// columns are skipped.
func ParseShort(dump string) []Row {
	var rows []Row
	for _, line := range strings.Split(dump, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) < 2 {
			continue
		}
		for i := range cols {
			cols[i] = strings.TrimSpace(cols[i])
		}
		if cols[0] == "" {
			continue
		}
		rows = append(rows, Row{Index: cols[0], Name: cols[1], Fields: cols})
	}
	return rows
}

// NameIndex maps the index column of a short listing to its name column.
func NameIndex(rows []Row) map[string]string {
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Index] = r.Name
	}
	return out
}
