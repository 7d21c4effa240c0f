// Package app assembles the demo process: the kernel from NewKernel served
// through the socket adapter, a host-side ops listener for metrics and
// docs, and an optional scheduled worker sweeping the scratch KV namespace.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/joho/godotenv"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/sync/errgroup"

	"portico/pkg/adapter"
	"portico/pkg/adapter/edge"
	"portico/pkg/adapter/httpserver"
	"portico/pkg/banner"
	"portico/pkg/config"
	"portico/pkg/logger"
	"portico/pkg/telemetry"
	"portico/pkg/utils"
)

// drainTimeout bounds how long Stop waits for in-flight requests before the
// listeners are torn down hard.
const drainTimeout = 10 * time.Second

// scratchPrefix is the KV namespace cleared by the scheduled sweep. Entries
// written under it survive only until the next cron run.
const scratchPrefix = "tmp:"

// App owns the demo process lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	kv      edge.KVStore
	kvClose func() error

	server *httpserver.Adapter
	worker *edge.WorkerAdapter
	cron   *edge.CronRunner

	mu    sync.Mutex
	opsLn net.Listener
}

// New initializes everything that does not require a running context: the
// KV store, the kernel, the server adapter and the optional scheduled
// worker. Call Run to start serving and block until shutdown.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	if eff.Config == nil {
		eff.Config = &config.Config{}
	}
	a := &App{eff: eff, version: version, commit: commit, buildDate: buildDate}

	// Durable KV at the configured path, in-memory when none is set.
	if eff.KVPath != "" {
		pkv, err := edge.OpenPebbleKV(eff.KVPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.KVPath, err)
		}
		a.kv = pkv
		a.kvClose = pkv.Close
	} else {
		a.kv = edge.NewMemoryKV()
	}

	h := NewKernel(KernelDeps{
		Version:   version,
		KV:        a.kv,
		RateRPS:   eff.Config.Demo.RateRPS,
		RateBurst: eff.Config.Demo.RateBurst,
	})

	cfg := adapter.Config{
		Handler:      h,
		Logger:       logger.Log,
		Timeout:      eff.Config.Adapter.Timeout.Duration(),
		MaxBodyBytes: eff.Config.Adapter.MaxBodyBytes.Int64(),
		Metrics:      telemetry.Default(),
		Production:   eff.Config.Adapter.Production,
	}

	srv, err := httpserver.New(cfg, httpserver.WithEngine(eff.Config.Engine()))
	if err != nil {
		return nil, err
	}
	a.server = srv

	if expr := eff.Config.Edge.Cron; expr != "" {
		bindings := edge.Env{
			KV:            map[string]edge.KVStore{"default": a.kv},
			DeployContext: eff.Config.Edge.DeployContext,
		}
		w, err := edge.NewWorker(cfg, bindings, sweepScratch(a.kv))
		if err != nil {
			return nil, err
		}
		cr, err := edge.NewCronRunner(w, expr)
		if err != nil {
			return nil, err
		}
		a.worker, a.cron = w, cr
	}

	return a, nil
}

// Run starts the kernel server, the ops listener and the scheduled worker,
// then blocks until ctx is canceled or one of them fails. Shutdown drains
// in-flight requests for up to drainTimeout.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	if err := a.server.StartServer(a.eff.Addr); err != nil {
		return err
	}

	opsAddr := a.eff.Config.OpsAddr()
	opsLn, err := net.Listen("tcp", opsAddr)
	if err != nil {
		_ = a.server.Stop(context.Background())
		return fmt.Errorf("ops listen %s: %w", opsAddr, err)
	}
	a.mu.Lock()
	a.opsLn = opsLn
	a.mu.Unlock()

	ops := &http.Server{Handler: a.opsHandler()}
	logger.Info("ops_started", "addr", opsLn.Addr().String())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case err := <-a.server.Err():
			return err
		case <-gctx.Done():
			drain, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
			return a.server.Stop(drain)
		}
	})

	g.Go(func() error {
		err := ops.Serve(opsLn)
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		drain, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := ops.Shutdown(drain); err != nil {
			_ = ops.Close()
			return err
		}
		return nil
	})

	if a.cron != nil {
		g.Go(func() error {
			a.cron.Run(gctx)
			return nil
		})
	}

	err = g.Wait()
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return err
}

// Addr returns the kernel listener address once Run has bound it.
func (a *App) Addr() string { return a.server.Addr() }

// OpsAddr returns the ops listener address once Run has bound it.
func (a *App) OpsAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.opsLn == nil {
		return ""
	}
	return a.opsLn.Addr().String()
}

func (a *App) close() error {
	a.mu.Lock()
	a.opsLn = nil
	a.mu.Unlock()
	if a.kvClose == nil {
		return nil
	}
	err := a.kvClose()
	a.kvClose = nil
	return err
}

// opsHandler serves the host-side endpoints. These never enter the kernel:
// metrics and docs are process concerns, so they bypass the adapter's body
// cap, timeout and rate limiting.
func (a *App) opsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.healthzHandler)
	mux.Handle("/docs/", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	mux.Handle("/openapi.yaml", http.FileServer(http.Dir("./docs")))
	mux.Handle("/metrics", telemetry.Handler())
	return mux
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	ver := a.version
	if ver == "" {
		ver = "dev"
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok", "version": ver})
}

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "" && a.commit != "none" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "" && a.buildDate != "unknown" {
		verStr += " @ " + a.buildDate
	}
	banner.PrintWithEff(a.eff, verStr)
}

// sweepScratch returns the demo cron handler: it deletes every key under
// the scratch prefix.
func sweepScratch(kv edge.KVStore) edge.CronHandler {
	return func(ctx context.Context, ev edge.ScheduledEvent) error {
		keys, err := kv.List(ctx, scratchPrefix, 0)
		if err != nil {
			return fmt.Errorf("list scratch: %w", err)
		}
		for _, k := range keys {
			if err := kv.Delete(ctx, k); err != nil {
				return fmt.Errorf("delete %s: %w", k, err)
			}
		}
		logger.Info("scratch_swept", "cron", ev.Cron, "deleted", len(keys))
		return nil
	}
}
