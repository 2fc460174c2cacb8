package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"voxelprism.ai/internal/action"
	"voxelprism.ai/internal/catalogs"
	"voxelprism.ai/internal/config"
	"voxelprism.ai/internal/expect"
	"voxelprism.ai/internal/handlers"
	"voxelprism.ai/internal/recording"
	"voxelprism.ai/internal/transport/ws"
)

func main() {
	var (
		configPath  = flag.String("config", "./configs/voxelprism.yaml", "config file path (empty: defaults + VOXELPRISM_* env)")
		addr        = flag.String("addr", "", "http listen address (overrides server.addr)")
		enablePprof = flag.Bool("pprof", false, "serve /debug/pprof on loopback requests")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	actions := action.NewRegistry()
	cfg, err := config.Load(*configPath, actions.Keys())
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if strings.TrimSpace(*addr) != "" {
		cfg.Server.Addr = strings.TrimSpace(*addr)
	}
	policy, err := expect.ParsePolicy(cfg.Expectations.Policy)
	if err != nil {
		logger.Fatalf("expectations: %v", err)
	}

	cats, err := catalogs.Load(cfg.CatalogsDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStores(ctx, cfg, cats, log.New(os.Stdout, "[store] ", log.LstdFlags|log.Lmicroseconds))
	if err != nil {
		logger.Fatalf("open stores: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	queue := recording.Start(st.persister, recording.Config{
		BatchSize:      cfg.Recording.BatchSize,
		FlushInterval:  cfg.Recording.FlushInterval(),
		MaxAttempts:    cfg.Recording.MaxAttempts,
		InitialBackoff: cfg.Recording.InitialBackoff(),
		MaxBackoff:     cfg.Recording.MaxBackoff(),
		OnExhausted:    recording.Exhaustion(cfg.Recording.OnExhausted),
		WarnDepth:      cfg.Recording.WarnDepth,
		DeadLetter:     st.deadLetterSink(),
		Logger:         log.New(os.Stdout, "[recording] ", log.LstdFlags|log.Lmicroseconds),
		Registerer:     reg,
	})

	exp := expect.NewRegistry(expect.Options{TTL: cfg.Expectations.TTL(), Policy: policy})
	h := &handlers.Handlers{
		Policy:        cfg.Policy(),
		Actions:       actions,
		Expectations:  exp,
		Sink:          queue,
		Logger:        log.New(os.Stdout, "[handlers] ", log.LstdFlags|log.Lmicroseconds),
		HangingRadius: cfg.Expectations.HangingRadius,
	}
	ingest := ws.NewServer(h, cats, ws.Options{
		WorldID: cfg.WorldID,
		Token:   cfg.Server.IngestToken,
		Actions: enabledActions(cfg, actions),
		Logger:  log.New(os.Stdout, "[ingest] ", log.LstdFlags|log.Lmicroseconds),
	})

	rt := &runtime{cfg: cfg, queue: queue, exp: exp, ingest: ingest, stores: st, reg: reg}
	mux := rt.mux()
	if *enablePprof {
		mux.HandleFunc("/debug/pprof/", loopbackOnly(pprof.Index))
		mux.HandleFunc("/debug/pprof/cmdline", loopbackOnly(pprof.Cmdline))
		mux.HandleFunc("/debug/pprof/profile", loopbackOnly(pprof.Profile))
		mux.HandleFunc("/debug/pprof/symbol", loopbackOnly(pprof.Symbol))
		mux.HandleFunc("/debug/pprof/trace", loopbackOnly(pprof.Trace))
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Printf("listening on %s world=%s backend=%s", cfg.Server.Addr, cfg.WorldID, cfg.Storage.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := exp.Run(gctx, cfg.Expectations.SweepInterval()); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		err := srv.Shutdown(ctx2)
		return errors.Join(err, ingest.Shutdown(ctx2))
	})
	if err := g.Wait(); err != nil {
		logger.Printf("server stopped: %v", err)
	}

	// Ingest sessions are closed; drain what they already submitted.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Recording.DrainTimeout())
	defer drainCancel()
	if err := queue.Close(drainCtx); err != nil {
		logger.Printf("recording drain: %v", err)
	}
	if err := st.Close(); err != nil {
		logger.Printf("close stores: %v", err)
	}
	s := queue.Stats()
	logger.Printf("stopped persisted=%d dropped=%d parked=%d", s.Persisted, s.Dropped, s.Parked)
}

// runtime is what the HTTP surface needs to see.
type runtime struct {
	cfg    config.Config
	queue  *recording.Queue
	exp    *expect.Registry
	ingest *ws.Server
	stores *stores
	reg    *prometheus.Registry
}

type statsResponse struct {
	WorldID      string          `json:"world_id"`
	Backend      string          `json:"backend"`
	Queue        recording.Stats `json:"queue"`
	QueueError   string          `json:"queue_error,omitempty"`
	Expectations int             `json:"expectations"`
	Ingest       ws.Stats        `json:"ingest"`
	Remote       any             `json:"remote,omitempty"`
}

func (rt *runtime) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		if err := rt.queue.Err(); err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(rt.reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/v1/stats", func(rw http.ResponseWriter, r *http.Request) {
		resp := statsResponse{
			WorldID:      rt.cfg.WorldID,
			Backend:      rt.cfg.Storage.Backend,
			Queue:        rt.queue.Stats(),
			Expectations: rt.exp.Len(),
			Ingest:       rt.ingest.Stats(),
		}
		if err := rt.queue.Err(); err != nil {
			resp.QueueError = err.Error()
		}
		if rt.stores != nil && rt.stores.remote != nil {
			resp.Remote = rt.stores.remote.Stats()
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	})
	mux.HandleFunc("/v1/info", rt.ingest.InfoHandler())
	mux.HandleFunc("/v1/ingest", rt.ingest.Handler())
	return mux
}

func enabledActions(cfg config.Config, actions *action.Registry) []string {
	p := cfg.Policy()
	var out []string
	for _, k := range actions.Keys() {
		if p.IsEnabled(k) {
			out = append(out, k)
		}
	}
	return out
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func loopbackOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		next(rw, r)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
