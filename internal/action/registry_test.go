package action

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"voxelprism.ai/internal/world"
)

func TestCreate_BlockActionsCopySnapshots(t *testing.T) {
	r := NewRegistry()
	before := world.BlockState{Material: "STONE"}
	a := r.Create(BlockBreak, Removed(before))
	if a.Type != BlockBreak || a.Family != FamilyBlock {
		t.Fatalf("action=%+v", a)
	}
	if a.Before == nil || a.Before.Material != "STONE" || a.After != nil {
		t.Fatalf("before/after=%v/%v", a.Before, a.After)
	}

	target := Replaced(world.BlockState{Material: "AIR"}, world.BlockState{Material: "TORCH"})
	p := r.Create(BlockPlace, target)
	target.After.Material = "LANTERN"
	if p.After.Material != "TORCH" {
		t.Fatalf("action must not alias the target snapshot, after=%q", p.After.Material)
	}
}

func TestCreate_EntityAction(t *testing.T) {
	r := NewRegistry()
	e := world.Entity{ID: uuid.New(), Kind: "item_frame"}
	a := r.Create(HangingBreak, EntityTarget{Entity: e})
	if a.Entity == nil || a.Entity.ID != e.ID || a.Family != FamilyEntity {
		t.Fatalf("action=%+v", a)
	}
}

func TestCreate_PanicsOnProgrammerErrors(t *testing.T) {
	r := NewRegistry()
	cases := []struct {
		name   string
		key    string
		target Target
		want   string
	}{
		{name: "unknown", key: "block-melt", target: Removed(world.BlockState{}), want: "unknown type"},
		{name: "family", key: HangingBreak, target: Removed(world.BlockState{}), want: "entity target"},
		{name: "nil", key: BlockBreak, target: nil, want: "block target"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				rec := recover()
				if rec == nil {
					t.Fatalf("expected panic")
				}
				if msg, _ := rec.(string); !strings.Contains(msg, tc.want) {
					t.Fatalf("panic=%v want contains %q", rec, tc.want)
				}
			}()
			r.Create(tc.key, tc.target)
		})
	}
}

func TestRegistry_Keys(t *testing.T) {
	keys := NewRegistry().Keys()
	want := []string{BlockBreak, BlockBurn, BlockExplode, BlockPlace, HangingBreak}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Fatalf("keys=%v want=%v", keys, want)
	}
}
