package world

import (
	"testing"

	"github.com/google/uuid"

	"voxelprism.ai/internal/catalogs"
)

func testCatalogs(t *testing.T) *catalogs.Catalogs {
	t.Helper()
	c, err := catalogs.Default()
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	return c
}

func TestSnapshot_BoundsClipLookups(t *testing.T) {
	s := NewSnapshot(testCatalogs(t)).WithBounds(Bounds{Min: C(-1, 0, -1), Max: C(1, 2, 1)})
	s.Set(C(0, 0, 0), BlockState{Material: "STONE"})
	s.Set(C(5, 0, 0), BlockState{Material: "STONE"})

	if b, ok := s.Block(C(0, 0, 0)); !ok || b.State.Material != "STONE" {
		t.Fatalf("Block(0,0,0)=%+v ok=%v", b, ok)
	}
	if _, ok := s.Block(C(5, 0, 0)); ok {
		t.Fatalf("out of bounds cell must be unknown")
	}
	if _, ok := s.Block(C(0, 1, 0)); ok {
		t.Fatalf("unset cell must be unknown")
	}
}

func TestSnapshot_EntitiesWithinChebyshevRadius(t *testing.T) {
	s := NewSnapshot(testCatalogs(t))
	near := Entity{ID: uuid.New(), Kind: "painting", Pos: C(2, 2, -2)}
	far := Entity{ID: uuid.New(), Kind: "painting", Pos: C(3, 0, 0)}
	s.AddEntity(near).AddEntity(far)

	got := s.Entities(C(0, 0, 0), 2)
	if len(got) != 1 || got[0].ID != near.ID {
		t.Fatalf("Entities=%+v want only near", got)
	}
	if got := s.Entities(C(0, 0, 0), -1); got != nil {
		t.Fatalf("negative radius=%+v want nil", got)
	}
}

func TestFace_OppositeAndDelta(t *testing.T) {
	for _, f := range Faces {
		d := f.Delta()
		o := f.Opposite().Delta()
		if d.X+o.X != 0 || d.Y+o.Y != 0 || d.Z+o.Z != 0 {
			t.Fatalf("face %s: delta %v opposite %v do not cancel", f, d, o)
		}
	}
	if C(1, 2, 3).Offset(FaceEast) != C(2, 2, 3) {
		t.Fatalf("offset east mismatch")
	}
}

func TestCoordinate_LessIsXYZ(t *testing.T) {
	if !C(0, 5, 5).Less(C(1, 0, 0)) || !C(1, 0, 9).Less(C(1, 1, 0)) || !C(1, 1, 0).Less(C(1, 1, 1)) {
		t.Fatalf("Less ordering mismatch")
	}
	if C(1, 1, 1).Less(C(1, 1, 1)) {
		t.Fatalf("Less must be strict")
	}
}
