// Package efm builds EDB Failover Manager command lines.
package efm

import "fmt"

// Operation names one cluster-management action.
type Operation string

const (
	OpClusterStatus    Operation = "cluster-status"
	OpAllowNode        Operation = "allow-node"
	OpDisallowNode     Operation = "disallow-node"
	OpFailover         Operation = "failover"
	OpSwitchover       Operation = "switchover"
	OpResumeMonitoring Operation = "resume-monitoring"
	OpSetPriority      Operation = "set-priority"
	OpListProperties   Operation = "list-properties"
)

// Operations lists every operation in display order.
var Operations = []Operation{
	OpClusterStatus,
	OpAllowNode,
	OpDisallowNode,
	OpFailover,
	OpSwitchover,
	OpResumeMonitoring,
	OpSetPriority,
	OpListProperties,
}

// OutputMode selects the cluster-status output format.
type OutputMode string

const (
	ModeText OutputMode = "text"
	ModeJSON OutputMode = "json"
)

// ParseOutputMode validates a cluster-status mode.
func ParseOutputMode(s string) (OutputMode, error) {
	switch OutputMode(s) {
	case ModeText, ModeJSON:
		return OutputMode(s), nil
	default:
		return "", fmt.Errorf("%w: unknown output mode %q for cluster-status (want text or json)", ErrInvalidArgument, s)
	}
}

// Keyword returns the efm subcommand for this mode.
func (m OutputMode) Keyword() string {
	if m == ModeJSON {
		return "cluster-status-json"
	}
	return "cluster-status"
}

// Spec describes how an operation maps onto efm.
type Spec struct {
	// Keyword is the efm subcommand.
	Keyword string

	// FixedArgs are appended after the cluster name regardless of input.
	FixedArgs []string

	// Args is the number of caller-supplied arguments.
	Args int

	// Streaming operations return output lines instead of an exit status.
	Streaming bool

	// IgnoreErrors makes spawn and exit failures end a stream silently.
	IgnoreErrors bool
}

var specs = map[Operation]Spec{
	OpClusterStatus:    {Keyword: "cluster-status", Args: 1, Streaming: true, IgnoreErrors: true},
	OpAllowNode:        {Keyword: "allow-node", Args: 1},
	OpDisallowNode:     {Keyword: "disallow-node", Args: 1},
	OpFailover:         {Keyword: "promote"},
	OpSwitchover:       {Keyword: "promote", FixedArgs: []string{"-switchover"}},
	OpResumeMonitoring: {Keyword: "resume"},
	OpSetPriority:      {Keyword: "set-priority", Args: 2},
	OpListProperties:   {Args: 0, Streaming: true, IgnoreErrors: false},
}

// Lookup returns the catalogue entry for op.
func Lookup(op Operation) (Spec, error) {
	s, ok := specs[op]
	if !ok {
		return Spec{}, fmt.Errorf("%w: unknown operation %q", ErrInvalidArgument, op)
	}
	return s, nil
}

// CheckArgs verifies that args has the length op expects.
func CheckArgs(op Operation, args []string) error {
	s, err := Lookup(op)
	if err != nil {
		return err
	}
	if len(args) != s.Args {
		return fmt.Errorf("%w: %s takes %d argument(s), got %d", ErrInvalidArgument, op, s.Args, len(args))
	}
	return nil
}
