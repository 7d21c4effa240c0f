package edge

import (
	"context"
	"os"
	"time"

	"github.com/adhocore/gronx"

	"portico/pkg/adapter"
)

// Env is the bindings object a worker host provisions alongside the code:
// plain variables, named key-value stores, and the deploy context the host
// stamps on deployed (as opposed to locally previewed) workers.
type Env struct {
	Vars          map[string]string
	KV            map[string]KVStore
	DeployContext string
}

// ScheduledEvent is the payload of a timer trigger.
type ScheduledEvent struct {
	Cron          string    `json:"cron"`
	ScheduledTime time.Time `json:"scheduledTime"`
}

// CronHandler runs application work when a timer trigger fires.
type CronHandler func(ctx context.Context, ev ScheduledEvent) error

// WorkerAdapter extends the fetch adapter for hosts that provision
// bindings and timer triggers. Capability probes return absence sentinels
// rather than errors, so application code can feature-test its bindings
// without error plumbing.
type WorkerAdapter struct {
	*Adapter
	bindings Env
	cron     CronHandler
}

// NewWorker builds a worker adapter around the given bindings. cron may be
// nil when the worker serves fetch traffic only.
func NewWorker(cfg adapter.Config, bindings Env, cron CronHandler) (*WorkerAdapter, error) {
	if cfg.Handler == nil && cfg.Builder == nil {
		return nil, adapter.ErrNoHandler
	}
	w := &WorkerAdapter{
		Adapter: &Adapter{
			cfg:      cfg.Normalize(),
			platform: adapter.PlatformWorker,
		},
		bindings: bindings,
		cron:     cron,
	}
	w.Adapter.env = adapter.ResolveEnvironmentFrom(adapter.PlatformWorker, w.lookupVar)
	return w, nil
}

// lookupVar is the tiered variable lookup: binding vars shadow process env.
func (w *WorkerAdapter) lookupVar(key string) (string, bool) {
	if v, ok := w.bindings.Vars[key]; ok {
		return v, true
	}
	return os.LookupEnv(key)
}

// GetVar returns the named binding variable. A missing binding is
// (_, false), never an error.
func (w *WorkerAdapter) GetVar(name string) (string, bool) {
	v, ok := w.bindings.Vars[name]
	return v, ok
}

// KV returns the named key-value store, or nil when the binding is absent.
func (w *WorkerAdapter) KV(name string) KVStore {
	return w.bindings.KV[name]
}

// IsDeployEnvironment reports whether the worker runs deployed rather than
// in a local preview: the bindings' deploy context, or a non-empty
// DEPLOY_CONTEXT variable (binding vars first, then process env).
func (w *WorkerAdapter) IsDeployEnvironment() bool {
	if w.bindings.DeployContext != "" {
		return true
	}
	v, ok := w.lookupVar("DEPLOY_CONTEXT")
	return ok && v != ""
}

// Scheduled is the timer-triggered entry point. Nothing escapes to the
// host: an invalid expression, a missing handler or a failed run is logged
// and counted, and the invocation ends.
func (w *WorkerAdapter) Scheduled(ctx context.Context, ev ScheduledEvent) {
	log := w.cfg.Logger.With("cron", ev.Cron)
	if !gronx.IsValid(ev.Cron) {
		log.Error("scheduled_invalid_cron")
		w.cfg.Metrics.RecordScheduledRun("invalid_cron")
		return
	}

	at := ev.ScheduledTime
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if next, err := gronx.NextTickAfter(ev.Cron, at, false); err == nil {
		log.Info("scheduled_trigger", "scheduled_time", at.Format(time.RFC3339), "next", next.Format(time.RFC3339))
	}

	if w.cron == nil {
		log.Warn("scheduled_no_handler")
		w.cfg.Metrics.RecordScheduledRun("error")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("scheduled_panic", "panic", r)
			w.cfg.Metrics.RecordScheduledRun("error")
		}
	}()
	if err := w.cron(ctx, ev); err != nil {
		log.Error("scheduled_run_failed", "error", err)
		w.cfg.Metrics.RecordScheduledRun("error")
		return
	}
	w.cfg.Metrics.RecordScheduledRun("ok")
}
