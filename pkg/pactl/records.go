package pactl

// Property keys read from stream blocks.
const (
	PropModuleID  = "pulse.module.id"
	PropTarget    = "target.object"
	PropAppName   = "application.name"
	PropMediaName = "media.name"
)

// SinkInput is the subset of a `list sink-inputs` block the engine cares about.
// Empty strings mean "not present in the dump".
type SinkInput struct {
	Index     string
	ModuleID  string // pulse.module.id, else "Owner Module:"
	Target    string // target.object (PipeWire) destination sink name
	SinkIndex string // "Sink:" destination sink index
	AppName   string // application.name
	MediaName string // media.name
	Volume    float64
	HasVolume bool
}

// DisplayName prefers the user facing media title over the application name.
func (s SinkInput) DisplayName() string {
	if s.MediaName != "" {
		return s.MediaName
	}
	return s.AppName
}

// ParseSinkInputs reads a `pactl list sink-inputs` dump.
func ParseSinkInputs(dump string) []SinkInput {
	blocks := SplitBlocks(dump, SinkInputDelimiter)
	out := make([]SinkInput, 0, len(blocks))
	for _, b := range blocks {
		in := SinkInput{Index: b.ID}
		if v, ok := b.Property(PropModuleID); ok {
			in.ModuleID = v
		} else if v, ok := b.AttrToken("Owner Module"); ok && v != "n/a" {
			in.ModuleID = v
		}
		in.Target, _ = b.Property(PropTarget)
		in.SinkIndex, _ = b.AttrToken("Sink")
		in.AppName, _ = b.Property(PropAppName)
		in.MediaName, _ = b.Property(PropMediaName)
		in.Volume, in.HasVolume = b.FrontLeftPercent()
		out = append(out, in)
	}
	return out
}

// Sink is the subset of a `list sinks` block used for device selection.
type Sink struct {
	Index       string `json:"index"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ParseSinks reads a `pactl list sinks` dump. Blocks without a Name line are
// dropped since nothing can address them.
func ParseSinks(dump string) []Sink {
	blocks := SplitBlocks(dump, SinkDelimiter)
	out := make([]Sink, 0, len(blocks))
	for _, b := range blocks {
		name, ok := b.Attr("Name")
		if !ok {
			continue
		}
		desc, _ := b.Attr("Description")
		out = append(out, Sink{Index: b.ID, Name: name, Description: desc})
	}
	return out
}
