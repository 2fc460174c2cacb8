package handlers

import (
	"voxelprism.ai/internal/action"
	"voxelprism.ai/internal/activity"
	"voxelprism.ai/internal/expect"
	"voxelprism.ai/internal/spatial"
	"voxelprism.ai/internal/world"
)

// BlockBreakEvent is delivered before the block is removed.
type BlockBreakEvent struct {
	World     string
	Player    world.Actor
	Block     world.Block
	Cancelled bool
}

// BlockBurnEvent is delivered before fire destroys the block. Igniter is
// set when the host knows who lit the fire.
type BlockBurnEvent struct {
	World     string
	Block     world.Block
	Igniter   *world.Actor
	Cancelled bool
}

// BlockExplodeEvent is delivered before the explosion removes Blocks.
type BlockExplodeEvent struct {
	World      string
	Blocks     []world.Block
	Source     *world.Actor
	SourceName string
	Cancelled  bool
}

// BlockPlaceEvent is delivered after Placed replaced the Replaced state.
type BlockPlaceEvent struct {
	World     string
	Player    world.Actor
	Placed    world.Block
	Replaced  world.BlockState
	Cancelled bool
}

func (h *Handlers) BlockBreak(v world.View, ev BlockBreakEvent) Outcome {
	if ev.Cancelled {
		return Outcome{State: Skipped}
	}
	cause := activity.ByActor(ev.Player)
	root := spatial.RootBlock(v, ev.Block)

	// Hanging claims follow the hanging-break flag, not block-break.
	h.expectHanging(v, root.Pos, cause)

	if !h.enabled(action.BlockBreak) {
		return Outcome{State: Skipped}
	}
	return h.recordRemovals(ev.World, action.BlockBreak, removal(v, []world.Block{root}), cause)
}

func (h *Handlers) BlockBurn(v world.View, ev BlockBurnEvent) Outcome {
	if ev.Cancelled {
		return Outcome{State: Skipped}
	}
	root := spatial.RootBlock(v, ev.Block)
	cause := h.burnCause(ev, root)

	h.expectHanging(v, root.Pos, cause)

	if !h.enabled(action.BlockBurn) {
		return Outcome{State: Skipped}
	}
	return h.recordRemovals(ev.World, action.BlockBurn, removal(v, []world.Block{root}), cause)
}

// burnCause prefers the reported igniter, then a claim left by whoever placed
// the fire next to the block, then plain fire.
func (h *Handlers) burnCause(ev BlockBurnEvent, root world.Block) activity.Cause {
	if ev.Igniter != nil {
		return activity.ByActor(*ev.Igniter)
	}
	if c, ok := h.Expectations.Consult(expect.BlockKey(ev.World, ev.Block.Pos)); ok {
		return c
	}
	if root.Pos != ev.Block.Pos {
		if c, ok := h.Expectations.Consult(expect.BlockKey(ev.World, root.Pos)); ok {
			return c
		}
	}
	return activity.Named(activity.CauseFire)
}

func (h *Handlers) BlockExplode(v world.View, ev BlockExplodeEvent) Outcome {
	if ev.Cancelled {
		return Outcome{State: Skipped}
	}
	cause := activity.Named(activity.CauseExplosion)
	switch {
	case ev.Source != nil:
		cause = activity.ByActor(*ev.Source)
	case ev.SourceName != "":
		cause = activity.Named(ev.SourceName)
	}

	roots := make([]world.Block, 0, len(ev.Blocks))
	for _, b := range ev.Blocks {
		root := spatial.RootBlock(v, b)
		h.expectHanging(v, root.Pos, cause)
		roots = append(roots, root)
	}

	if !h.enabled(action.BlockExplode) {
		return Outcome{State: Skipped}
	}
	return h.recordRemovals(ev.World, action.BlockExplode, removal(v, roots), cause)
}

func (h *Handlers) BlockPlace(v world.View, ev BlockPlaceEvent) Outcome {
	if ev.Cancelled {
		return Outcome{State: Skipped}
	}
	cause := activity.ByActor(ev.Player)

	// A placed fire source claims the blocks it may burn.
	if def, ok := v.Def(ev.Placed.State.Material); ok && def.Ignites && h.enabled(action.BlockBurn) {
		for _, f := range world.Faces {
			h.Expectations.Expect(expect.BlockKey(ev.World, ev.Placed.Pos.Offset(f)), cause)
		}
	}

	if !h.enabled(action.BlockPlace) {
		return Outcome{State: Skipped}
	}
	out := Outcome{State: Recorded}
	a := h.Actions.Create(action.BlockPlace, action.Replaced(ev.Replaced, ev.Placed.State))
	h.submit(&out, activity.New(a, ev.World, ev.Placed.Pos, cause, h.now()))
	return out.settle()
}
