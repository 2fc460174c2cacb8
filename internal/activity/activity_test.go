package activity

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"voxelprism.ai/internal/action"
	"voxelprism.ai/internal/world"
)

func TestNew_IDsSortByTime(t *testing.T) {
	reg := action.NewRegistry()
	a := reg.Create(action.BlockBreak, action.Removed(world.BlockState{Material: "STONE"}))
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	first := New(a, "world_1", world.C(1, 2, 3), Named(CauseFire), t0)
	second := New(a, "world_1", world.C(1, 2, 3), Named(CauseFire), t0)
	later := New(a, "world_1", world.C(1, 2, 3), Named(CauseFire), t0.Add(time.Second))

	if first.ID.Compare(second.ID) >= 0 {
		t.Fatalf("ids within one millisecond must be monotonic: %s >= %s", first.ID, second.ID)
	}
	if second.ID.Compare(later.ID) >= 0 {
		t.Fatalf("ids must sort by time: %s >= %s", second.ID, later.ID)
	}
	if err := first.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_RejectsMissingAction(t *testing.T) {
	act := New(action.Action{}, "world_1", world.C(0, 0, 0), Cause{}, time.Now())
	if err := act.Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err=%v want ErrInvalid", err)
	}
	if err := (Activity{Action: action.Action{Type: action.BlockBreak}}).Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("zero id err=%v want ErrInvalid", err)
	}
}

func TestCause_StringAndJSON(t *testing.T) {
	id := uuid.New()
	c := ByActor(world.Actor{ID: id, Name: "steve", Kind: world.ActorPlayer})
	if c.String() != "steve" {
		t.Fatalf("String=%q", c.String())
	}
	if Named(CausePhysics).String() != "physics" || (Cause{}).String() != "unknown" {
		t.Fatalf("named/zero cause strings mismatch")
	}

	b, err := json.Marshal(Named(CauseFire))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"name":"fire"}` {
		t.Fatalf("json=%s", b)
	}
}
