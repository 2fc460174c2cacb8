package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"voxelprism.ai/internal/action"
	"voxelprism.ai/internal/activity"
	"voxelprism.ai/internal/persistence/indexdb"
	"voxelprism.ai/internal/persistence/kv"
	persistlog "voxelprism.ai/internal/persistence/log"
	"voxelprism.ai/internal/world"
)

func fixture() []activity.Activity {
	steve := world.Actor{ID: uuid.New(), Name: "steve", Kind: world.ActorPlayer}
	alex := world.Actor{ID: uuid.New(), Name: "alex", Kind: world.ActorPlayer}
	now := time.Now().UTC().Add(-time.Minute)
	return []activity.Activity{
		activity.New(actions.Create(action.BlockBreak, action.Removed(world.BlockState{Material: "STONE"})), "world", world.C(0, 64, 0), activity.ByActor(steve), now),
		activity.New(actions.Create(action.BlockPlace, action.Replaced(world.BlockState{Material: "AIR"}, world.BlockState{Material: "OAK_PLANKS"})), "world", world.C(1, 64, 0), activity.ByActor(alex), now.Add(time.Second)),
		activity.New(actions.Create(action.BlockBurn, action.Removed(world.BlockState{Material: "OAK_LOG"})), "world", world.C(50, 64, 50), activity.Named(activity.CauseFire), now.Add(2*time.Second)),
	}
}

func TestDescribe(t *testing.T) {
	as := fixture()
	got := describe(as[1])
	if !strings.Contains(got, "alex placed OAK_PLANKS at 1,64,0 in world") {
		t.Fatalf("describe=%q", got)
	}
	if got := describe(as[2]); !strings.Contains(got, "fire burned OAK_LOG at 50,64,50") {
		t.Fatalf("describe=%q", got)
	}
}

func TestParseCoord(t *testing.T) {
	c, err := parseCoord(" 1, -2 ,3")
	if err != nil || c != world.C(1, -2, 3) {
		t.Fatalf("coord=%v err=%v", c, err)
	}
	for _, bad := range []string{"", "1,2", "a,b,c"} {
		if _, err := parseCoord(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestLookupCmd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index", "activities.sqlite")
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := idx.Persist(context.Background(), fixture()); err != nil {
		t.Fatalf("persist: %v", err)
	}
	_ = idx.Close()

	var out bytes.Buffer
	if err := lookupCmd([]string{"-data", dir, "-near", "0,64,0", "-radius", "3"}, &out); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "alex") || !strings.Contains(lines[1], "steve broke STONE") {
		t.Fatalf("lookup output:\n%s", out.String())
	}

	out.Reset()
	if err := lookupCmd([]string{"-data", dir, "-actor", "nobody"}, &out); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if strings.TrimSpace(out.String()) != "no matching activities" {
		t.Fatalf("output=%q", out.String())
	}

	if err := lookupCmd([]string{"-data", dir, "-since", "soon"}, &out); err == nil {
		t.Fatalf("expected bad -since error")
	}
}

func TestScanCmd(t *testing.T) {
	dir := t.TempDir()
	db, err := kv.Open(kv.Options{DataDir: filepath.Join(dir, "kv")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Persist(context.Background(), fixture()); err != nil {
		t.Fatalf("persist: %v", err)
	}
	_ = db.Close()

	var out bytes.Buffer
	if err := scanCmd([]string{"-data", dir, "-limit", "2"}, &out); err != nil {
		t.Fatalf("scan: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "steve") {
		t.Fatalf("scan output:\n%s", out.String())
	}
}

func TestArchiveAndDeadLetterCmds(t *testing.T) {
	dir := t.TempDir()
	as := fixture()

	arch := persistlog.NewArchiveLog(dir)
	if err := arch.Persist(context.Background(), as); err != nil {
		t.Fatalf("archive: %v", err)
	}
	_ = arch.Close()
	dl := persistlog.NewDeadLetterLog(dir)
	if err := dl.Park(as[:1], "persist: disk full"); err != nil {
		t.Fatalf("park: %v", err)
	}
	_ = dl.Close()

	var out bytes.Buffer
	if err := archiveCmd([]string{"-data", dir, "-actor", "steve"}, &out); err != nil {
		t.Fatalf("archive cmd: %v", err)
	}
	if !strings.HasSuffix(strings.TrimSpace(out.String()), "1 activities") {
		t.Fatalf("archive output:\n%s", out.String())
	}

	out.Reset()
	if err := deadLetterCmd([]string{"-data", dir}, &out); err != nil {
		t.Fatalf("deadletter cmd: %v", err)
	}
	if !strings.Contains(out.String(), "[persist: disk full]") || !strings.Contains(out.String(), "1 parked activities") {
		t.Fatalf("deadletter output:\n%s", out.String())
	}

	out.Reset()
	if err := deadLetterCmd([]string{"-data", t.TempDir()}, &out); err != nil {
		t.Fatalf("empty deadletter: %v", err)
	}
	if strings.TrimSpace(out.String()) != "0 parked activities" {
		t.Fatalf("output=%q", out.String())
	}
}

func TestStatsCmd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/stats" {
			http.NotFound(rw, r)
			return
		}
		_, _ = rw.Write([]byte(`{"world_id":"world"}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	if err := statsCmd([]string{"-url", srv.URL + "/"}, &out); err != nil {
		t.Fatalf("stats: %v", err)
	}
	if strings.TrimSpace(out.String()) != `{"world_id":"world"}` {
		t.Fatalf("output=%q", out.String())
	}
}
