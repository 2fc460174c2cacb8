// Package handlers turns host mutation events into activities. Each handler
// runs synchronously on the dispatching goroutine: it reads a world.View,
// claims or consults expectations, and submits to the recording sink. Nothing
// here blocks on I/O or returns an error to the host.
package handlers

import (
	"log"
	"time"

	"voxelprism.ai/internal/action"
	"voxelprism.ai/internal/activity"
	"voxelprism.ai/internal/expect"
	"voxelprism.ai/internal/spatial"
	"voxelprism.ai/internal/world"
)

// Policy decides which action types are recorded.
type Policy interface {
	IsEnabled(key string) bool
}

// Sink accepts activities for persistence; recording.Queue implements it.
type Sink interface {
	Submit(a activity.Activity) error
}

type State int

// A Recorded outcome may still carry Rejected > 0 when the sink refused
// part of the closure. Failed means it refused all of it.
const (
	Skipped State = iota
	Recorded
	Failed
)

func (s State) String() string {
	switch s {
	case Recorded:
		return "recorded"
	case Failed:
		return "failed"
	}
	return "skipped"
}

// Outcome reports what one handler invocation did.
type Outcome struct {
	State      State
	Activities []activity.Activity

	// Rejected counts activities the sink refused.
	Rejected int
}

// settle marks an outcome whose every submission was refused.
func (o Outcome) settle() Outcome {
	if o.State == Recorded && o.Rejected > 0 && len(o.Activities) == 0 {
		o.State = Failed
	}
	return o
}

type Handlers struct {
	Policy       Policy
	Actions      *action.Registry
	Expectations *expect.Registry
	Sink         Sink
	Clock        func() time.Time
	Logger       *log.Logger

	// HangingRadius bounds the search for hanging entities around a broken
	// block; 0 disables hanging expectations.
	HangingRadius int
}

func (h *Handlers) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

func (h *Handlers) enabled(key string) bool {
	return h.Policy != nil && h.Policy.IsEnabled(key)
}

// expectHanging claims every hanging entity mounted on loc for cause, so a
// following hanging-break event is attributed to it.
func (h *Handlers) expectHanging(v world.View, loc world.Coordinate, cause activity.Cause) int {
	if !h.enabled(action.HangingBreak) {
		return 0
	}
	n := 0
	for _, e := range spatial.HangingEntities(v, loc, h.HangingRadius) {
		h.Expectations.Expect(expect.EntityKey(e.ID), cause)
		n++
	}
	return n
}

// removal collects the closure of each root: detachables, then fallers, then
// the root itself. A coordinate is recorded at most once across all roots.
func removal(v world.View, roots []world.Block) []world.Block {
	seen := make(map[world.Coordinate]struct{}, len(roots)*4)
	var out []world.Block
	add := func(bs ...world.Block) {
		for _, b := range bs {
			if _, dup := seen[b.Pos]; dup {
				continue
			}
			seen[b.Pos] = struct{}{}
			out = append(out, b)
		}
	}
	for _, r := range roots {
		add(spatial.Detachables(v, r)...)
		add(spatial.Gravity(v, r)...)
		add(r)
	}
	return out
}

func (h *Handlers) recordRemovals(worldID, key string, blocks []world.Block, cause activity.Cause) Outcome {
	at := h.now()
	out := Outcome{State: Recorded, Activities: make([]activity.Activity, 0, len(blocks))}
	for _, b := range blocks {
		a := h.Actions.Create(key, action.Removed(b.State))
		h.submit(&out, activity.New(a, worldID, b.Pos, cause, at))
	}
	return out.settle()
}

func (h *Handlers) submit(out *Outcome, a activity.Activity) {
	if err := h.Sink.Submit(a); err != nil {
		out.Rejected++
		if out.Rejected == 1 && h.Logger != nil {
			h.Logger.Printf("submit rejected action=%s pos=%s err=%v", a.Action.Type, a.Location, err)
		}
		return
	}
	out.Activities = append(out.Activities, a)
}
