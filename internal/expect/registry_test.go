package expect

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"pgregory.net/rapid"

	"voxelprism.ai/internal/activity"
	"voxelprism.ai/internal/world"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func player(name string) activity.Cause {
	return activity.ByActor(world.Actor{ID: uuid.New(), Name: name, Kind: world.ActorPlayer})
}

func TestConsult_TakesClaimOnce(t *testing.T) {
	clk := newClock()
	r := NewRegistry(Options{Now: clk.Now})
	key := EntityKey(uuid.New())

	r.Expect(key, player("alex"))
	got, ok := r.Consult(key)
	if !ok || got.String() != "alex" {
		t.Fatalf("consult=%v,%v want alex,true", got, ok)
	}
	if _, ok := r.Consult(key); ok {
		t.Fatalf("second consult must miss")
	}
	if r.Len() != 0 {
		t.Fatalf("len=%d want=0", r.Len())
	}
}

func TestExpect_LastWriterWins(t *testing.T) {
	clk := newClock()
	r := NewRegistry(Options{Now: clk.Now})
	key := BlockKey("world_1", world.C(4, 64, 4))

	if !r.Expect(key, player("alex")) || !r.Expect(key, player("sam")) {
		t.Fatalf("both claims must be stored")
	}
	got, _ := r.Consult(key)
	if got.String() != "sam" {
		t.Fatalf("cause=%s want=sam", got)
	}
}

func TestExpect_FirstWriterWins(t *testing.T) {
	clk := newClock()
	r := NewRegistry(Options{Now: clk.Now, Policy: FirstWriterWins, TTL: time.Second})
	key := BlockKey("world_1", world.C(4, 64, 4))

	r.Expect(key, player("alex"))
	if r.Expect(key, player("sam")) {
		t.Fatalf("live claim must not be replaced")
	}
	got, _ := r.Consult(key)
	if got.String() != "alex" {
		t.Fatalf("cause=%s want=alex", got)
	}

	r.Expect(key, player("alex"))
	clk.Advance(time.Second)
	if !r.Expect(key, player("sam")) {
		t.Fatalf("expired claim must be replaceable")
	}
	got, _ = r.Consult(key)
	if got.String() != "sam" {
		t.Fatalf("cause=%s want=sam", got)
	}
}

func TestConsult_IgnoresExpired(t *testing.T) {
	clk := newClock()
	r := NewRegistry(Options{Now: clk.Now, TTL: 500 * time.Millisecond})
	key := EntityKey(uuid.New())

	r.Expect(key, player("alex"))
	clk.Advance(499 * time.Millisecond)
	if _, ok := r.Consult(key); !ok {
		t.Fatalf("claim must be live before ttl")
	}

	r.Expect(key, player("alex"))
	clk.Advance(500 * time.Millisecond)
	if _, ok := r.Consult(key); ok {
		t.Fatalf("claim must expire at ttl")
	}
	if r.Len() != 0 {
		t.Fatalf("expired claim must be removed on consult, len=%d", r.Len())
	}
}

func TestSweep(t *testing.T) {
	clk := newClock()
	r := NewRegistry(Options{Now: clk.Now, TTL: time.Second})
	for i := 0; i < 3; i++ {
		r.Expect(EntityKey(uuid.New()), activity.Named(activity.CausePhysics))
	}
	clk.Advance(600 * time.Millisecond)
	fresh := EntityKey(uuid.New())
	r.Expect(fresh, activity.Named(activity.CausePhysics))
	clk.Advance(400 * time.Millisecond)

	if n := r.Sweep(); n != 3 {
		t.Fatalf("swept=%d want=3", n)
	}
	if _, ok := r.Consult(fresh); !ok {
		t.Fatalf("fresh claim must survive sweep")
	}
}

func TestKeys_DoNotCollide(t *testing.T) {
	r := NewRegistry(Options{})
	r.Expect(BlockKey("a", world.C(1, 2, 3)), player("alex"))
	if _, ok := r.Consult(BlockKey("b", world.C(1, 2, 3))); ok {
		t.Fatalf("keys in different worlds must not collide")
	}
	if _, ok := r.Consult(EntityKey(uuid.Nil)); ok {
		t.Fatalf("entity key must not match a block key")
	}
}

func TestConsult_ConcurrentTakersGetOneWinner(t *testing.T) {
	r := NewRegistry(Options{})
	key := EntityKey(uuid.New())
	r.Expect(key, player("alex"))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		hits int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.Consult(key); ok {
				mu.Lock()
				hits++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if hits != 1 {
		t.Fatalf("hits=%d want=1", hits)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	r := NewRegistry(Options{TTL: time.Millisecond})
	r.Expect(EntityKey(uuid.New()), player("alex"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, time.Millisecond) }()

	deadline := time.Now().Add(2 * time.Second)
	for r.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("run err=%v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("background sweep did not run")
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy(""); err != nil || p != LastWriterWins {
		t.Fatalf("default=%q,%v", p, err)
	}
	if _, err := ParsePolicy("random"); err == nil {
		t.Fatalf("expected error")
	}
}

// A consult hits only if a claim was stored within the TTL and not yet taken.
func TestRegistry_ModelProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		clk := newClock()
		ttl := 100 * time.Millisecond
		r := NewRegistry(Options{Now: clk.Now, TTL: ttl})
		keys := []Key{EntityKey(uuid.New()), BlockKey("w", world.C(0, 0, 0)), BlockKey("w", world.C(0, 1, 0))}
		model := map[Key]time.Time{}

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			k := keys[rapid.IntRange(0, len(keys)-1).Draw(t, "key")]
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				r.Expect(k, activity.Named(activity.CausePhysics))
				model[k] = clk.Now().Add(ttl)
			case 1:
				_, ok := r.Consult(k)
				exp, stored := model[k]
				want := stored && clk.Now().Before(exp)
				delete(model, k)
				if ok != want {
					t.Fatalf("consult=%v want=%v", ok, want)
				}
			case 2:
				clk.Advance(time.Duration(rapid.IntRange(0, 80).Draw(t, "ms")) * time.Millisecond)
			}
		}
	})
}
