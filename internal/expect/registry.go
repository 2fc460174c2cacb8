// Package expect holds short-lived causal claims: "if this target changes
// soon, this cause did it". A handler that foresees a secondary change
// registers a claim; the handler of that secondary change consumes it.
package expect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"voxelprism.ai/internal/activity"
	"voxelprism.ai/internal/world"
)

const DefaultTTL = 2 * time.Second

type Policy string

const (
	// LastWriterWins lets a newer claim replace a pending one.
	LastWriterWins Policy = "last_writer_wins"
	// FirstWriterWins keeps the pending claim until it is consumed or expires.
	FirstWriterWins Policy = "first_writer_wins"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", LastWriterWins:
		return LastWriterWins, nil
	case FirstWriterWins:
		return FirstWriterWins, nil
	}
	return "", fmt.Errorf("unknown expectation policy %q", s)
}

type keyKind uint8

const (
	kindEntity keyKind = iota + 1
	kindBlock
)

// Key identifies the target of a claim.
type Key struct {
	kind   keyKind
	entity uuid.UUID
	world  string
	pos    world.Coordinate
}

func EntityKey(id uuid.UUID) Key { return Key{kind: kindEntity, entity: id} }

func BlockKey(worldID string, pos world.Coordinate) Key {
	return Key{kind: kindBlock, world: worldID, pos: pos}
}

func (k Key) String() string {
	if k.kind == kindEntity {
		return "entity:" + k.entity.String()
	}
	return "block:" + k.world + ":" + k.pos.String()
}

type entry struct {
	cause   activity.Cause
	expires time.Time
}

type Options struct {
	TTL    time.Duration
	Policy Policy
	Now    func() time.Time
}

type Registry struct {
	ttl    time.Duration
	policy Policy
	now    func() time.Time

	mu      sync.Mutex
	entries map[Key]entry
}

func NewRegistry(opts Options) *Registry {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Policy == "" {
		opts.Policy = LastWriterWins
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		ttl:     opts.TTL,
		policy:  opts.Policy,
		now:     opts.Now,
		entries: map[Key]entry{},
	}
}

// Expect registers cause as the anticipated cause of the next change to key.
// It reports whether the claim was stored.
func (r *Registry) Expect(key Key, cause activity.Cause) bool {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[key]; ok && r.policy == FirstWriterWins && now.Before(cur.expires) {
		return false
	}
	r.entries[key] = entry{cause: cause, expires: now.Add(r.ttl)}
	return true
}

// Consult removes and returns the pending claim for key, if one is live.
func (r *Registry) Consult(key Key) (activity.Cause, bool) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return activity.Cause{}, false
	}
	delete(r.entries, key)
	if !now.Before(e.expires) {
		return activity.Cause{}, false
	}
	return e.cause, true
}

// Len counts stored claims, including expired ones not yet swept.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep drops expired claims and returns how many were removed.
func (r *Registry) Sweep() int {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, e := range r.entries {
		if !now.Before(e.expires) {
			delete(r.entries, k)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = r.ttl
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			r.Sweep()
		}
	}
}

// Reset drops every claim; used on shutdown.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.entries)
}
