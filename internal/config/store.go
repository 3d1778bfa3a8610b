package config

import (
	"errors"
	"sync"
)

// ErrInFlight is returned by Store.Replace while an operation holds a lease.
var ErrInFlight = errors.New("config: operation in flight")

// Store holds the active configuration.
//
// Operations take a Lease for their whole lifetime and read an immutable
// snapshot through it. Replacing the configuration is refused while any
// lease is outstanding, so an in-flight operation never observes a change.
type Store struct {
	mu       sync.Mutex
	cfg      *Config
	inFlight int
}

// NewStore creates a store holding a copy of cfg.
func NewStore(cfg *Config) *Store {
	return &Store{cfg: cfg.Clone()}
}

// Lease pins a configuration snapshot until Release is called.
type Lease struct {
	store    *Store
	cfg      *Config
	released bool
}

// Acquire returns a lease on the current configuration.
func (s *Store) Acquire() *Lease {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight++
	return &Lease{store: s, cfg: s.cfg}
}

// Config returns the leased snapshot. Callers must not modify it.
func (l *Lease) Config() *Config {
	return l.cfg
}

// Release returns the lease. Safe to call more than once.
func (l *Lease) Release() {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	l.store.inFlight--
}

// Replace swaps in a new configuration. It fails with ErrInFlight when any
// lease is outstanding. The caller is responsible for validation.
func (s *Store) Replace(cfg *Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight > 0 {
		return ErrInFlight
	}
	s.cfg = cfg.Clone()
	return nil
}

// Snapshot returns a copy of the current configuration.
func (s *Store) Snapshot() *Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Clone()
}

// InFlight returns the number of outstanding leases.
func (s *Store) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}
