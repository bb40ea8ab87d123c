package discovery

import (
	"fmt"
	"net"
	"sort"
	"sync"
	"time"
)

// Assignment is the identity handed to one discovering module.
type Assignment struct {
	Module     string
	Identifier string
	Addr       *net.UDPAddr
	LastSeen   time.Time
}

// IdentityTable hands out identifiers to discovering modules. A module that
// declares its own identifier keeps it. Otherwise each requester address gets
// its own <name>-<n>, so two instances of one module never share an
// identifier while retries from the same instance keep theirs.
type IdentityTable struct {
	mu          sync.RWMutex
	assignments map[string]*Assignment // module:declared or module@addr -> assignment
	next        map[string]int         // module -> next sequence
}

// NewIdentityTable creates an empty table
func NewIdentityTable() *IdentityTable {
	return &IdentityTable{
		assignments: make(map[string]*Assignment),
		next:        make(map[string]int),
	}
}

// Assign looks up or creates the identity for module requested from addr,
// the address replies go to.
func (t *IdentityTable) Assign(module, declared string, addr *net.UDPAddr, now time.Time) Assignment {
	key := module + ":" + declared
	if declared == "" {
		key = module + "@" + addr.String()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if a, ok := t.assignments[key]; ok {
		a.Addr = addr
		a.LastSeen = now
		return *a
	}

	id := declared
	if id == "" {
		t.next[module]++
		id = fmt.Sprintf("%s-%d", module, t.next[module])
	}
	a := &Assignment{Module: module, Identifier: id, Addr: addr, LastSeen: now}
	t.assignments[key] = a
	return *a
}

// All returns a copy of every assignment sorted by identifier
func (t *IdentityTable) All() []Assignment {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Assignment, 0, len(t.assignments))
	for _, a := range t.assignments {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

// Forget drops assignments not seen since before cutoff, returning how many.
func (t *IdentityTable) Forget(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, a := range t.assignments {
		if a.LastSeen.Before(cutoff) {
			delete(t.assignments, key)
			removed++
		}
	}
	return removed
}

// Count returns the number of assignments
func (t *IdentityTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.assignments)
}
