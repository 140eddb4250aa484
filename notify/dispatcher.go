package notify

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Center owns the pending reminder set. The sqlite cache provides the real
// implementation; tests use an in-memory fake.
type Center interface {
	PendingRequests(ctx context.Context) ([]Request, error)
	Add(ctx context.Context, req Request) error
	RemovePending(ctx context.Context, ids []string) error
}

// Delivery receives a reminder at its fire time.
type Delivery interface {
	Deliver(ctx context.Context, req Request) error
}

// DeliveryFunc adapts a function to the Delivery interface.
type DeliveryFunc func(ctx context.Context, req Request) error

func (f DeliveryFunc) Deliver(ctx context.Context, req Request) error { return f(ctx, req) }

// Dispatcher fires pending reminders when they come due. It polls the center
// rather than holding a timer per request; the pending set is small (at most
// one burst cycle of occurrences) and changes on every reconciliation.
type Dispatcher struct {
	center   Center
	delivery Delivery
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	done chan struct{}
}

// NewDispatcher creates a dispatcher that checks for due reminders at the
// given interval.
func NewDispatcher(center Center, delivery Delivery, logger *slog.Logger, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Dispatcher{
		center:   center,
		delivery: delivery,
		logger:   logger.With("component", "dispatcher"),
		interval: interval,
		now:      time.Now,
	}
}

// Start launches the dispatch loop. Returns immediately; the loop exits when
// ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.done != nil {
		d.mu.Unlock()
		return
	}
	d.done = make(chan struct{})
	d.mu.Unlock()

	go d.loop(ctx)
}

// Wait blocks until the dispatch loop has exited.
func (d *Dispatcher) Wait() {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher shutting down")
			return
		case <-ticker.C:
			if err := d.DispatchDue(ctx); err != nil {
				d.logger.Warn("reminder dispatch failed", "error", err)
			}
		}
	}
}

// DispatchDue delivers every pending request whose fire time has passed and
// removes it from the pending set. Delivery failures leave the request
// pending so the next tick retries it.
func (d *Dispatcher) DispatchDue(ctx context.Context) error {
	pending, err := d.center.PendingRequests(ctx)
	if err != nil {
		return err
	}

	now := d.now()
	due := pending[:0:0]
	for _, req := range pending {
		if !req.FireAt.After(now) {
			due = append(due, req)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].FireAt.Before(due[j].FireAt) })

	var delivered []string
	for _, req := range due {
		if err := d.delivery.Deliver(ctx, req); err != nil {
			d.logger.Warn("reminder delivery failed", "identifier", req.Identifier, "error", err)
			continue
		}
		d.logger.Debug("reminder delivered", "identifier", req.Identifier, "fire_at", req.FireAt)
		delivered = append(delivered, req.Identifier)
	}

	if len(delivered) == 0 {
		return nil
	}
	return d.center.RemovePending(ctx, delivered)
}
