// Package registry stores the ordered set of rules installed on a mock
// server and resolves incoming requests against them.
package registry

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/alexliesenfeld/httpmock/pkg/rule"
)

// Registry errors.
var (
	ErrNotFound    = errors.New("rule not found")
	ErrDuplicateID = errors.New("rule with this ID already installed")
)

// Registry holds installed rules in insertion order. A single RWMutex
// guards the rule set; hit counters are atomics so matching only ever takes
// the read lock.
type Registry struct {
	mu    sync.RWMutex
	rules []*rule.Rule
	hits  map[string]*atomic.Int64
	seq   int
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{hits: make(map[string]*atomic.Int64)}
}

// Add installs a rule and returns its ID. A rule without an ID is assigned
// one. Insertion order determines match priority.
func (g *Registry) Add(r *rule.Rule) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, exists := g.hits[r.ID]; exists {
		return "", ErrDuplicateID
	}
	g.seq++
	r.Seq = g.seq
	g.rules = append(g.rules, r)
	g.hits[r.ID] = new(atomic.Int64)
	return r.ID, nil
}

// Remove uninstalls a rule and discards its hit counter.
func (g *Registry) Remove(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.hits[id]; !exists {
		return ErrNotFound
	}
	delete(g.hits, id)
	for i, r := range g.rules {
		if r.ID == id {
			g.rules = append(g.rules[:i], g.rules[i+1:]...)
			break
		}
	}
	return nil
}

// Reset removes every rule and its hit counter.
func (g *Registry) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rules = nil
	g.hits = make(map[string]*atomic.Int64)
}

// Get returns an installed rule by ID.
func (g *Registry) Get(id string) (*rule.Rule, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, r := range g.rules {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, ErrNotFound
}

// List returns the installed rules in insertion order.
func (g *Registry) List() []*rule.Rule {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*rule.Rule, len(g.rules))
	copy(out, g.rules)
	return out
}

// Len returns the number of installed rules.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rules)
}

// Hits returns how many requests a rule has matched.
func (g *Registry) Hits(id string) (int64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, exists := g.hits[id]
	if !exists {
		return 0, ErrNotFound
	}
	return c.Load(), nil
}

// Match evaluates the request against installed rules in insertion order
// and returns the first rule whose matchers all hold, incrementing its hit
// counter. Later rules are never consulted once one matches, so overlapping
// rules resolve deterministically by installation order.
func (g *Registry) Match(v *rule.RequestView) (*rule.Rule, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, r := range g.rules {
		if r.Matches(v) {
			g.hits[r.ID].Add(1)
			return r, true
		}
	}
	return nil, false
}
