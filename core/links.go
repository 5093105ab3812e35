package core

import (
	"sort"

	"github.com/pkg/errors"
)

// ErrNoProcess is returned when an operation targets a PID that is not alive.
var ErrNoProcess = errors.New("no such process")

// link inserts the symmetric edge a<->b.
func (s *System) link(a, b PID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.procs[b]; !ok {
		return errors.Wrapf(ErrNoProcess, "link %s", b)
	}
	if _, ok := s.procs[a]; !ok {
		return errors.Wrapf(ErrNoProcess, "link %s", a)
	}
	s.linkLocked(a, b)
	return nil
}

func (s *System) linkLocked(a, b PID) {
	if a == b {
		return
	}
	s.links[a][b] = struct{}{}
	s.links[b][a] = struct{}{}
}

// unlink removes the symmetric edge a<->b.
func (s *System) unlink(a, b PID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if peers, ok := s.links[a]; ok {
		delete(peers, b)
	}
	if peers, ok := s.links[b]; ok {
		delete(peers, a)
	}
}

func (s *System) linksOf(pid PID) []PID {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.linksOfLocked(pid)
}

func (s *System) linksOfLocked(pid PID) []PID {
	peers := make([]PID, 0, len(s.links[pid]))
	for peer := range s.links[pid] {
		peers = append(peers, peer)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers
}

// Linked reports whether a and b are linked.
func (s *System) Linked(a, b PID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.links[a][b]
	return ok
}
