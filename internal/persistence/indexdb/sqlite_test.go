package indexdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"voxelprism.ai/internal/action"
	"voxelprism.ai/internal/activity"
	"voxelprism.ai/internal/catalogs"
	"voxelprism.ai/internal/world"
)

func openTemp(t *testing.T) *SQLiteIndex {
	t.Helper()
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index", "activities.sqlite"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestSQLiteIndex_PersistIsIdempotent(t *testing.T) {
	idx := openTemp(t)
	ctx := context.Background()
	reg := action.NewRegistry()
	steve := world.Actor{ID: uuid.New(), Name: "steve", Kind: world.ActorPlayer}
	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	batch := []activity.Activity{
		activity.New(reg.Create(action.BlockBreak, action.Removed(world.BlockState{Material: "STONE"})), "world_1", world.C(0, 64, 0), activity.ByActor(steve), at),
		activity.New(reg.Create(action.BlockBreak, action.Removed(world.BlockState{Material: "OAK_WALL_SIGN", Facing: world.FaceNorth})), "world_1", world.C(0, 64, -1), activity.ByActor(steve), at),
	}
	for i := 0; i < 2; i++ {
		if err := idx.Persist(ctx, batch); err != nil {
			t.Fatalf("persist %d: %v", i, err)
		}
	}
	n, err := idx.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("count=%d want=2", n)
	}

	got, err := idx.Query(ctx, Filter{Actor: "steve"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("query=%d want=2", len(got))
	}
	byID := map[string]activity.Activity{}
	for _, a := range got {
		byID[a.ID.String()] = a
	}
	sign := byID[batch[1].ID.String()]
	if sign.Action.Before == nil || sign.Action.Before.Facing != world.FaceNorth || sign.Cause.Actor == nil || sign.Cause.Actor.ID != steve.ID {
		t.Fatalf("roundtrip=%+v", sign)
	}
}

func TestSQLiteIndex_QueryFilters(t *testing.T) {
	idx := openTemp(t)
	ctx := context.Background()
	reg := action.NewRegistry()
	alex := world.Actor{ID: uuid.New(), Name: "alex", Kind: world.ActorPlayer}
	t0 := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	batch := []activity.Activity{
		activity.New(reg.Create(action.BlockBreak, action.Removed(world.BlockState{Material: "STONE"})), "world_1", world.C(0, 64, 0), activity.ByActor(alex), t0),
		activity.New(reg.Create(action.BlockBurn, action.Removed(world.BlockState{Material: "OAK_PLANKS"})), "world_1", world.C(3, 64, 3), activity.Named(activity.CauseFire), t0.Add(time.Minute)),
		activity.New(reg.Create(action.BlockPlace, action.Replaced(world.BlockState{Material: "AIR"}, world.BlockState{Material: "TORCH"})), "world_1", world.C(50, 70, 50), activity.ByActor(alex), t0.Add(2*time.Minute)),
		activity.New(reg.Create(action.BlockBreak, action.Removed(world.BlockState{Material: "STONE"})), "world_2", world.C(0, 64, 0), activity.ByActor(alex), t0.Add(3*time.Minute)),
	}
	if err := idx.Persist(ctx, batch); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		f    Filter
		want int
	}{
		{name: "all", f: Filter{}, want: 4},
		{name: "world", f: Filter{World: "world_1"}, want: 3},
		{name: "actor_name", f: Filter{Actor: "alex"}, want: 3},
		{name: "actor_id", f: Filter{Actor: alex.ID.String()}, want: 3},
		{name: "non_actor_cause", f: Filter{Actor: "fire"}, want: 1},
		{name: "action", f: Filter{Action: action.BlockPlace}, want: 1},
		{name: "subject_placed", f: Filter{Subject: "TORCH"}, want: 1},
		{name: "near", f: Filter{World: "world_1", Near: &world.Coordinate{X: 1, Y: 64, Z: 1}, Radius: 2}, want: 2},
		{name: "since", f: Filter{Since: t0.Add(90 * time.Second)}, want: 2},
		{name: "until", f: Filter{Until: t0.Add(90 * time.Second)}, want: 2},
		{name: "limit", f: Filter{Limit: 1}, want: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := idx.Query(ctx, tc.f)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tc.want {
				t.Fatalf("got=%d want=%d", len(got), tc.want)
			}
		})
	}

	newest, err := idx.Query(ctx, Filter{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if newest[0].ID != batch[3].ID {
		t.Fatalf("newest=%s want=%s", newest[0].ID, batch[3].ID)
	}
}

func TestSQLiteIndex_PlaceOverWaterIndexedByPlaced(t *testing.T) {
	idx := openTemp(t)
	ctx := context.Background()
	reg := action.NewRegistry()
	alex := world.Actor{ID: uuid.New(), Name: "alex", Kind: world.ActorPlayer}

	placed := activity.New(reg.Create(action.BlockPlace, action.Replaced(world.BlockState{Material: "WATER"}, world.BlockState{Material: "OAK_PLANKS"})), "world_1", world.C(4, 62, 4), activity.ByActor(alex), time.Now())
	if err := idx.Persist(ctx, []activity.Activity{placed}); err != nil {
		t.Fatal(err)
	}
	for subject, want := range map[string]int{"OAK_PLANKS": 1, "WATER": 0} {
		got, err := idx.Query(ctx, Filter{Subject: subject})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != want {
			t.Fatalf("subject=%s got=%d want=%d", subject, len(got), want)
		}
	}
}

func TestSQLiteIndex_UpsertCatalogs(t *testing.T) {
	idx := openTemp(t)
	ctx := context.Background()
	cats, err := catalogs.Default()
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.UpsertCatalogs(ctx, cats); err != nil {
		t.Fatal(err)
	}
	d, err := idx.CatalogDigest(ctx, "blocks")
	if err != nil {
		t.Fatal(err)
	}
	if d != cats.Blocks.Digest {
		t.Fatalf("digest=%q want=%q", d, cats.Blocks.Digest)
	}
	if d, _ := idx.CatalogDigest(ctx, "missing"); d != "" {
		t.Fatalf("missing digest=%q", d)
	}
}
