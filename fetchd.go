// Package fetchd assembles the media-fetching host daemon: an event log,
// restart-state persistence, a restart-policy supervisor with memory
// monitoring and emergency cleanup, and the optional status/metrics
// surfaces.
//
// The daemon never relaunches itself. A restart is an exit with code 0; the
// hosting process manager (container runtime, systemd Restart=on-success)
// supplies the relaunch guarantee.
package fetchd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/loykin/fetchd/internal/config"
	"github.com/loykin/fetchd/internal/eventlog"
	"github.com/loykin/fetchd/internal/history"
	historysqlite "github.com/loykin/fetchd/internal/history/sqlite"
	"github.com/loykin/fetchd/internal/metrics"
	"github.com/loykin/fetchd/internal/server"
	"github.com/loykin/fetchd/internal/state"
	"github.com/loykin/fetchd/internal/supervisor"
)

// Environment variables the hosting process manager may set on relaunch.
// Both are informational; absence is not an error.
const (
	EnvRestarted    = "FETCHD_RESTARTED"
	EnvRestartCount = "FETCHD_RESTART_COUNT"
)

// LoadConfig reads a TOML configuration file.
func LoadConfig(path string) (*config.FileConfig, error) { return config.Load(path) }

// Daemon wires the supervisor and its collaborators from a loaded config.
type Daemon struct {
	cfg     *config.FileConfig
	events  *eventlog.Logger
	store   *state.Store
	sup     *supervisor.Supervisor
	coord   *supervisor.Coordinator
	monitor *supervisor.Monitor
	cleanup *supervisor.CleanupManager
	hist    history.Sink
	httpSrv *http.Server
}

// New constructs the daemon. Nothing is started yet; Run does that.
func New(cfg *config.FileConfig) (*Daemon, error) {
	events, err := eventlog.New(cfg.EventLog.Path)
	if err != nil {
		return nil, fmt.Errorf("event log: %w", err)
	}
	store := state.New(cfg.Supervisor.StateFile, cfg.Supervisor.PIDFile)
	cleanup := supervisor.NewCleanupManager(cfg.Supervisor.TempDir, cfg.Supervisor.TempPatterns)

	sup := supervisor.New(cfg.PolicyConfig(), events, store, cleanup)
	if st, ok := store.Load(); ok {
		sup.Restore(st)
	}

	classifier := supervisor.NewClassifier(cfg.Supervisor.CriticalErrorPatterns)
	coord := supervisor.NewCoordinator(sup, classifier, events)
	monitor := supervisor.NewMonitor(cfg.PolicyConfig(), events, sup)
	monitor.SetOnSample(sup.ObserveMemory)

	d := &Daemon{
		cfg:     cfg,
		events:  events,
		store:   store,
		sup:     sup,
		coord:   coord,
		monitor: monitor,
		cleanup: cleanup,
	}

	if cfg.History.Enabled {
		sink, err := historysqlite.New(cfg.History.Path)
		if err != nil {
			// History is an observability extra, never a startup blocker.
			slog.Warn("failed to open history database", "path", cfg.History.Path, "error", err)
		} else {
			d.hist = sink
			sup.SetHistorySink(sink)
		}
	}
	return d, nil
}

// Supervisor exposes the restart policy for collaborators that need to
// report failures or register caches.
func (d *Daemon) Supervisor() *supervisor.Supervisor { return d.sup }

// Coordinator exposes the failure ingestion point for download wrappers and
// other collaborators.
func (d *Daemon) Coordinator() *supervisor.Coordinator { return d.coord }

// Cleanup exposes the emergency cleanup manager so the application can
// register in-memory caches for clearing.
func (d *Daemon) Cleanup() *supervisor.CleanupManager { return d.cleanup }

// Run installs the handlers, starts the monitor and the configured
// listeners, then blocks until ctx is cancelled. Process exit normally
// happens inside the supervisor, not by returning from Run.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.store.WritePIDFile(); err != nil {
		return err
	}
	d.coord.Install()
	d.monitor.Start(ctx)

	if err := d.events.Log("startup", map[string]any{"pid": os.Getpid()}); err != nil {
		return fmt.Errorf("event log not writable: %w", err)
	}
	d.emitRestartSuccess()

	if d.cfg.Metrics.Enabled {
		if err := metrics.RegisterDefault(); err != nil {
			slog.Warn("failed to register metrics", "error", err)
		}
		if d.cfg.Metrics.Listen != "" {
			d.coord.Go(func() {
				if err := metrics.Serve(d.cfg.Metrics.Listen); err != nil {
					slog.Error("metrics server stopped", "error", err)
				}
			})
		}
	}

	if d.cfg.Server.Enabled && d.cfg.Server.Listen != "" {
		srv, err := server.NewServer(d.cfg.Server.Listen, d.cfg.Server.BasePath, d.sup, d.hist)
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		d.httpSrv = srv
		slog.Info("status server listening", "addr", d.cfg.Server.Listen, "base_path", d.cfg.Server.BasePath)
	}

	<-ctx.Done()
	return d.Close()
}

// emitRestartSuccess logs a restart_success event when the process manager
// indicates this run follows a supervisor-initiated restart.
func (d *Daemon) emitRestartSuccess() {
	if os.Getenv(EnvRestarted) != "true" {
		return
	}
	data := map[string]any{}
	if raw := os.Getenv(EnvRestartCount); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			data["previous_restart_count"] = n
		}
	}
	_ = d.events.Log("restart_success", data)
}

// Close releases resources owned by the daemon. Best-effort; used when Run
// returns through context cancellation rather than a supervisor exit.
func (d *Daemon) Close() error {
	d.monitor.Stop()
	if d.httpSrv != nil {
		_ = d.httpSrv.Close()
	}
	if d.hist != nil {
		_ = d.hist.Close()
	}
	return d.events.Close()
}
