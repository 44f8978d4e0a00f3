// Package resource defines resource limits and the pool-wide budget that
// gates agent spawning.
package resource

import "sync"

// Limits defines the resource ceiling for one agent.
type Limits struct {
	CPU      float64 `json:"cpu" yaml:"cpu"`             // cores
	MemoryMB int     `json:"memory_mb" yaml:"memory_mb"` // megabytes
}

// Merge returns a new Limits where non-zero fields from override replace base.
func Merge(base, override Limits) Limits {
	out := base
	if override.CPU > 0 {
		out.CPU = override.CPU
	}
	if override.MemoryMB > 0 {
		out.MemoryMB = override.MemoryMB
	}
	return out
}

// Cap returns a new Limits where each field is capped at the corresponding
// ceiling value. A zero ceiling field means no cap for that field.
func Cap(limits, ceiling Limits) Limits {
	out := limits
	if ceiling.CPU > 0 && out.CPU > ceiling.CPU {
		out.CPU = ceiling.CPU
	}
	if ceiling.MemoryMB > 0 && out.MemoryMB > ceiling.MemoryMB {
		out.MemoryMB = ceiling.MemoryMB
	}
	return out
}

// Budget tracks committed resources across all agents against a total
// ceiling. A zero ceiling field means unlimited.
type Budget struct {
	mu        sync.Mutex
	total     Limits
	committed map[string]Limits // agent ID -> reserved
}

// NewBudget creates a budget with the given total ceiling.
func NewBudget(total Limits) *Budget {
	return &Budget{
		total:     total,
		committed: make(map[string]Limits),
	}
}

// Reserve commits limits for an agent. It reports false when the reservation
// would exceed the total budget; the reservation is not recorded in that case.
func (b *Budget) Reserve(agentID string, l Limits) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	var cpu float64
	var mem int
	for _, c := range b.committed {
		cpu += c.CPU
		mem += c.MemoryMB
	}
	if b.total.CPU > 0 && cpu+l.CPU > b.total.CPU {
		return false
	}
	if b.total.MemoryMB > 0 && mem+l.MemoryMB > b.total.MemoryMB {
		return false
	}
	b.committed[agentID] = l
	return true
}

// Release frees an agent's reservation. Releasing an unknown ID is a no-op.
func (b *Budget) Release(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.committed, agentID)
}

// Committed returns the currently reserved totals.
func (b *Budget) Committed() Limits {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out Limits
	for _, c := range b.committed {
		out.CPU += c.CPU
		out.MemoryMB += c.MemoryMB
	}
	return out
}
