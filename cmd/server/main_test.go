package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"voxelprism.ai/internal/action"
	"voxelprism.ai/internal/activity"
	"voxelprism.ai/internal/catalogs"
	"voxelprism.ai/internal/config"
	"voxelprism.ai/internal/expect"
	"voxelprism.ai/internal/handlers"
	persistlog "voxelprism.ai/internal/persistence/log"
	"voxelprism.ai/internal/recording"
	"voxelprism.ai/internal/transport/ws"
	"voxelprism.ai/internal/world"
)

func testConfig(t *testing.T, backend string) config.Config {
	t.Helper()
	t.Setenv("VOXELPRISM_DATA_DIR", t.TempDir())
	t.Setenv("VOXELPRISM_STORAGE_BACKEND", backend)
	cfg, err := config.Load("", action.NewRegistry().Keys())
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func sampleBatch() []activity.Activity {
	reg := action.NewRegistry()
	steve := world.Actor{ID: uuid.New(), Name: "steve", Kind: world.ActorPlayer}
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	var out []activity.Activity
	for i := 0; i < 3; i++ {
		a := reg.Create(action.BlockBreak, action.Removed(world.BlockState{Material: "STONE"}))
		out = append(out, activity.New(a, "world", world.C(i, 64, 0), activity.ByActor(steve), at))
	}
	return out
}

func TestOpenStores_SQLiteWithArchive(t *testing.T) {
	cfg := testConfig(t, config.BackendSQLite)
	cats, err := catalogs.Default()
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	logger := log.New(io.Discard, "", 0)

	st, err := openStores(context.Background(), cfg, cats, logger)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if st.index == nil || st.deadLetter == nil || len(st.persister.Mirrors) != 1 {
		t.Fatalf("stores=%+v", st)
	}
	if err := st.persister.Persist(context.Background(), sampleBatch()); err != nil {
		t.Fatalf("persist: %v", err)
	}
	n, err := st.index.Count(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("count=%d err=%v", n, err)
	}
	if d, err := st.index.CatalogDigest(context.Background(), "blocks"); err != nil || d != cats.Blocks.Digest {
		t.Fatalf("digest=%q err=%v", d, err)
	}
	archiveDir := st.persister.Mirrors[0].(*persistlog.ArchiveLog).Dir()
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	files, err := persistlog.Files(archiveDir)
	if err != nil || len(files) != 1 {
		t.Fatalf("archive files=%v err=%v", files, err)
	}
}

func TestOpenStores_Pebble(t *testing.T) {
	cfg := testConfig(t, config.BackendPebble)
	cfg.Storage.Archive = false
	cfg.Storage.DeadLetter = false
	cats, _ := catalogs.Default()

	st, err := openStores(context.Background(), cfg, cats, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()
	if st.kv == nil || st.deadLetterSink() != nil || len(st.persister.Mirrors) != 0 {
		t.Fatalf("stores=%+v", st)
	}
	batch := sampleBatch()
	if err := st.persister.Persist(context.Background(), batch); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if _, ok, err := st.kv.Get(batch[1].ID); err != nil || !ok {
		t.Fatalf("get ok=%v err=%v", ok, err)
	}
}

type nopPersister struct{}

func (nopPersister) Persist(context.Context, []activity.Activity) error { return nil }

func TestRuntimeMux(t *testing.T) {
	cfg := testConfig(t, config.BackendSQLite)
	cats, _ := catalogs.Default()
	reg := prometheus.NewRegistry()
	q := recording.Start(nopPersister{}, recording.Config{FlushInterval: 5 * time.Millisecond, Registerer: reg})
	defer q.Close(context.Background())
	exp := expect.NewRegistry(expect.Options{})
	h := &handlers.Handlers{Policy: cfg.Policy(), Actions: action.NewRegistry(), Expectations: exp, Sink: q}
	rt := &runtime{cfg: cfg, queue: q, exp: exp, ingest: ws.NewServer(h, cats, ws.Options{WorldID: cfg.WorldID}), reg: reg}

	for _, a := range sampleBatch() {
		if err := q.Submit(a); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	srv := httptest.NewServer(rt.mux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz resp=%v err=%v", resp, err)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	var st statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if st.WorldID != "world" || st.Backend != config.BackendSQLite || st.Queue.Submitted != 3 {
		t.Fatalf("stats=%+v", st)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(b), "voxelprism_recording_submitted_total 3") {
		t.Fatalf("metrics missing submitted counter:\n%s", b)
	}
}

func TestEnabledActions(t *testing.T) {
	cfg := testConfig(t, config.BackendSQLite)
	cfg.Actions[action.BlockBurn] = false
	got := enabledActions(cfg, action.NewRegistry())
	want := "block-break,block-explode,block-place,hanging-break"
	if strings.Join(got, ",") != want {
		t.Fatalf("enabled=%v want=%s", got, want)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5000": true,
		"[::1]:5000":     true,
		"10.0.0.8:5000":  false,
		"garbage":        false,
	}
	for in, want := range cases {
		if got := isLoopbackRemote(in); got != want {
			t.Fatalf("%s: got=%v want=%v", in, got, want)
		}
	}
}
