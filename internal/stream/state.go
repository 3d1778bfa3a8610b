// Package stream reads a command's output one line per pull.
package stream

// State represents where a stream is in its lifecycle.
type State int

const (
	// StateUnopened is the initial state; no process has been spawned.
	StateUnopened State = iota

	// StateOpen means the process is running and output is being read.
	StateOpen

	// StateExhausted means all output was delivered and the process released.
	StateExhausted

	// StateErrored means the stream ended with an error.
	StateErrored
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpen:
		return "open"
	case StateExhausted:
		return "exhausted"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if no further records can be produced.
func (s State) IsTerminal() bool {
	return s == StateExhausted || s == StateErrored
}
