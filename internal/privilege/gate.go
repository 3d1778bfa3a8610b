// Package privilege decides whether the caller may run efm operations.
package privilege

import (
	"fmt"
	"slices"

	"golang.org/x/sys/unix"

	"github.com/randomizedcoder/go-efm-ctl/internal/efm"
)

// ErrPermission is efm.ErrPermission, re-exported for callers that only
// deal with the gate.
var ErrPermission = efm.ErrPermission

// Gate reports whether the current caller is an elevated principal.
type Gate interface {
	IsElevated() bool
}

// RequireElevated returns ErrPermission unless g reports elevation.
func RequireElevated(g Gate) error {
	if g == nil || !g.IsElevated() {
		return fmt.Errorf("%w: only superuser may access generic file functions", ErrPermission)
	}
	return nil
}

// UnixGate treats effective UID 0, or any UID in AllowedUIDs, as elevated.
type UnixGate struct {
	AllowedUIDs []int

	// geteuid is replaced in tests.
	geteuid func() int
}

// NewUnixGate returns a gate for the running process.
func NewUnixGate(allowed []int) *UnixGate {
	return &UnixGate{
		AllowedUIDs: slices.Clone(allowed),
		geteuid:     unix.Geteuid,
	}
}

// IsElevated implements Gate.
func (g *UnixGate) IsElevated() bool {
	euid := g.EffectiveUID()
	return euid == 0 || slices.Contains(g.AllowedUIDs, euid)
}

// EffectiveUID returns the UID the gate checks.
func (g *UnixGate) EffectiveUID() int {
	if g.geteuid == nil {
		return unix.Geteuid()
	}
	return g.geteuid()
}

// Static is a Gate with a fixed answer.
type Static bool

// IsElevated implements Gate.
func (s Static) IsElevated() bool { return bool(s) }

const (
	Elevated   = Static(true)
	Unelevated = Static(false)
)
