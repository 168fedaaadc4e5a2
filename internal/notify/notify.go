// Package notify delivers "an event occurred" signals to the monitoring
// consumer. Dispatch is best-effort: the write path never waits on it and
// a failed dispatch is logged and lost (the consumer can always poll the
// event log).
package notify

import (
	"context"
	"sync"
	"time"
)

// Dispatcher sends one event identifier to the monitoring consumer.
type Dispatcher interface {
	Dispatch(ctx context.Context, eventID string) error
}

// Logger is the logging interface the async wrapper reports failures to.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

// Notifier is what the lifecycle engine sees: a dispatch that cannot fail
// and does not block. Tests substitute a synchronous recorder.
type Notifier interface {
	Dispatch(eventID string)
}

// Async wraps a Dispatcher in a detached goroutine per dispatch. Failures
// are swallowed and logged; they never surface to the triggering
// operation. Wait lets tests and shutdown drain in-flight dispatches.
type Async struct {
	dispatcher Dispatcher
	logger     Logger
	timeout    time.Duration
	wg         sync.WaitGroup
}

// NewAsync creates the fire-and-forget wrapper.
func NewAsync(dispatcher Dispatcher, logger Logger) *Async {
	return &Async{
		dispatcher: dispatcher,
		logger:     logger,
		timeout:    10 * time.Second,
	}
}

// Dispatch launches the delivery and returns immediately.
func (a *Async) Dispatch(eventID string) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.dispatcher.Dispatch(ctx, eventID); err != nil {
			a.logger.Error("notifier dispatch failed", "event_id", eventID, "error", err)
			return
		}
		a.logger.Debug("notifier dispatched", "event_id", eventID)
	}()
}

// Wait blocks until every launched dispatch has finished.
func (a *Async) Wait() {
	a.wg.Wait()
}

// Nop is a Notifier that drops every dispatch. Used when notifications are
// disabled by configuration.
type Nop struct{}

// Dispatch discards the event id.
func (Nop) Dispatch(eventID string) {}
