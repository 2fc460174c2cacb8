package handlers

import (
	"voxelprism.ai/internal/action"
	"voxelprism.ai/internal/activity"
	"voxelprism.ai/internal/expect"
	"voxelprism.ai/internal/world"
)

// HangingBreakEvent is delivered when a hanging entity is about to drop.
// Remover is set only when the host attributes the break directly.
type HangingBreakEvent struct {
	World     string
	Entity    world.Entity
	Remover   *world.Actor
	CauseName string
	Cancelled bool
}

func (h *Handlers) HangingBreak(_ world.View, ev HangingBreakEvent) Outcome {
	if ev.Cancelled || !h.enabled(action.HangingBreak) {
		return Outcome{State: Skipped}
	}

	// Always take the claim so it cannot leak onto a later break.
	claimed, hasClaim := h.Expectations.Consult(expect.EntityKey(ev.Entity.ID))
	var cause activity.Cause
	switch {
	case ev.Remover != nil:
		cause = activity.ByActor(*ev.Remover)
	case hasClaim:
		cause = claimed
	case ev.CauseName != "":
		cause = activity.Named(ev.CauseName)
	default:
		cause = activity.Named(activity.CausePhysics)
	}

	out := Outcome{State: Recorded}
	a := h.Actions.Create(action.HangingBreak, action.EntityTarget{Entity: ev.Entity})
	h.submit(&out, activity.New(a, ev.World, ev.Entity.AttachedTo, cause, h.now()))
	return out.settle()
}
