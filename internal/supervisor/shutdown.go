package supervisor

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"

	"github.com/loykin/fetchd/internal/eventlog"
)

// Coordinator installs the process-wide failure and signal handlers and is
// the single ingestion point for uncaught errors. Nothing escapes the
// process without passing through classification and logging; termination
// always happens by an explicit exit call in the supervisor.
type Coordinator struct {
	sup        *Supervisor
	classifier *Classifier
	events     *eventlog.Logger

	installOnce sync.Once
	sigCh       chan os.Signal
}

func NewCoordinator(sup *Supervisor, classifier *Classifier, events *eventlog.Logger) *Coordinator {
	return &Coordinator{sup: sup, classifier: classifier, events: events}
}

// Install registers the termination-signal handlers exactly once. Each
// signal in the table routes to GracefulShutdown with the signal name as
// the cause.
func (c *Coordinator) Install() {
	c.installOnce.Do(func() {
		c.sigCh = make(chan os.Signal, 1)
		signal.Notify(c.sigCh, shutdownSignals...)
		go func() {
			for sig := range c.sigCh {
				c.sup.GracefulShutdown(sig.String())
			}
		}()
	})
}

// HandleError ingests an uncaught failure. Critical failures (per the
// configured patterns) route to the restart policy; everything else is
// logged and the process continues. A failure of the event log while
// handling an error escalates to a forced exit, since the supervisor can no
// longer trust its own observability.
func (c *Coordinator) HandleError(err error) {
	if err == nil {
		return
	}
	msg := err.Error()
	code := ErrnoCode(err)
	critical := c.classifier.Critical(msg, code)

	typ := "uncaught_error"
	if critical {
		typ = "critical_error"
	}
	if logErr := c.events.Log(typ, map[string]any{"error": msg, "code": code}); logErr != nil {
		slog.Error("event log failed while handling error, forcing exit", "error", logErr, "original", msg)
		c.sup.ForceExit()
		return
	}
	if critical {
		c.sup.RequestRestart(fmt.Sprintf("critical error: %s", msg))
	}
}

// Recover is meant to be deferred at the top of every long-lived goroutine.
// A recovered panic goes through the same ingestion path as any other
// uncaught failure.
func (c *Coordinator) Recover() {
	if r := recover(); r != nil {
		if err, ok := r.(error); ok {
			c.HandleError(fmt.Errorf("panic: %w", err))
			return
		}
		c.HandleError(fmt.Errorf("panic: %v", r))
	}
}

// Go runs fn on a new goroutine with panic ingestion attached.
func (c *Coordinator) Go(fn func()) {
	go func() {
		defer c.Recover()
		fn()
	}()
}
