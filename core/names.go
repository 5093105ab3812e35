package core

import (
	"sort"

	"github.com/pkg/errors"
)

// Register binds name to pid. It fails with ErrNameCollision when name is
// already bound, leaving the existing binding untouched.
func (s *System) Register(name string, pid PID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, exists := s.names[name]; exists {
		return errors.Wrapf(ErrNameCollision, "%q is bound to %s", name, owner)
	}
	if _, ok := s.procs[pid]; !ok {
		return errors.Wrapf(ErrNoProcess, "register %q to %s", name, pid)
	}

	s.names[name] = pid
	return nil
}

// Registered returns the PID bound to name.
func (s *System) Registered(name string) (PID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pid, ok := s.names[name]
	return pid, ok
}

// Unregister removes every name bound to pid.
func (s *System) Unregister(pid PID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unregisterLocked(pid)
}

// Names returns all registered names in sorted order.
func (s *System) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.names))
	for name := range s.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *System) unregisterLocked(pid PID) {
	for name, owner := range s.names {
		if owner == pid {
			delete(s.names, name)
		}
	}
}

func (s *System) namesOfLocked(pid PID) []string {
	var names []string
	for name, owner := range s.names {
		if owner == pid {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
