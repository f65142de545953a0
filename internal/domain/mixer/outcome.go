package mixer

// Outcome reasons.
const (
	ReasonApplied        = "applied"
	ReasonUnresolved     = "unresolved"      // loopback index not found, even after a cache rebuild
	ReasonCommandFailed  = "command_failed"  // pactl exited non-zero or timed out
	ReasonUnknownChannel = "unknown_channel" // channel not configured
)

// Outcome reports what a mutation actually did. Applied is true only when the
// command was issued and exited cleanly; it does not confirm the service kept
// the change.
type Outcome struct {
	Applied bool   `json:"applied"`
	Reason  string `json:"reason"`
}

func Applied() Outcome                 { return Outcome{Applied: true, Reason: ReasonApplied} }
func NotApplied(reason string) Outcome { return Outcome{Reason: reason} }

// Join combines the outcomes of a multi-leg mutation. The result is applied
// only if every part was; otherwise it carries the first failure reason.
func Join(outcomes ...Outcome) Outcome {
	for _, o := range outcomes {
		if !o.Applied {
			return o
		}
	}
	return Applied()
}
