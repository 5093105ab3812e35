package core

import (
	"sort"
)

// Put stores value under key in the process dictionary and returns the
// previous value.
func (p *Process) Put(key string, value any) any {
	s := p.system
	s.mu.Lock()
	defer s.mu.Unlock()

	old := p.dict[key]
	p.dict[key] = value
	return old
}

// Get returns the dictionary value stored under key.
func (p *Process) Get(key string) (any, bool) {
	s := p.system
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := p.dict[key]
	return v, ok
}

// Dictionary returns a copy of the whole process dictionary.
func (p *Process) Dictionary() map[string]any {
	s := p.system
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]any, len(p.dict))
	for k, v := range p.dict {
		out[k] = v
	}
	return out
}

// Keys returns the dictionary keys in sorted order.
func (p *Process) Keys() []string {
	s := p.system
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(p.dict))
	for k := range p.dict {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Erase removes key from the dictionary and returns its value.
func (p *Process) Erase(key string) (any, bool) {
	s := p.system
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := p.dict[key]
	delete(p.dict, key)
	return v, ok
}

// EraseAll clears the dictionary and returns its previous contents.
func (p *Process) EraseAll() map[string]any {
	s := p.system
	s.mu.Lock()
	defer s.mu.Unlock()

	old := p.dict
	p.dict = make(map[string]any)
	return old
}
