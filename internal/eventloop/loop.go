// Package eventloop implements the single-consumer mailbox that serializes
// every mutation of the routing table. ControlListener reifies each RPC as
// an event and hands it to Loop; Loop is the only piece of code in vhgate
// allowed to call Table.Put or Table.Delete.
package eventloop

import (
	"context"
	"errors"
	"log/slog"

	"vhgate/internal/routing"
)

// ErrMailboxClosed is returned by Put, Delete and List once the loop has
// stopped draining events, and by Run when its mailbox channel is closed
// out from under it.
var ErrMailboxClosed = errors.New("eventloop: mailbox closed")

// defaultMailboxSize bounds the event mailbox; a full mailbox applies
// backpressure to ControlListener callers rather than growing unbounded.
const defaultMailboxSize = 256

// Loop drains a mailbox of routing-table mutation events, one at a time,
// in the exact order they were submitted (FIFO). It is the sole writer of
// the routing.Table it was constructed with; every ConnectionHandler only
// ever reads from the same table concurrently.
type Loop struct {
	table   *routing.Table
	mailbox chan event
	logger  *slog.Logger

	done chan struct{}
}

// NewLoop constructs a Loop bound to table. Call Run in its own goroutine
// before submitting any events.
func NewLoop(table *routing.Table, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		table:   table,
		mailbox: make(chan event, defaultMailboxSize),
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Run drains the mailbox until ctx is cancelled or the mailbox is closed.
// It is meant to be the loop's only goroutine; events are applied serially,
// so a single Run call is the entire implementation of the single-writer
// discipline the routing table relies on.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("eventloop: stopping", "reason", ctx.Err())
			return ctx.Err()
		case ev, ok := <-l.mailbox:
			if !ok {
				l.logger.Info("eventloop: mailbox closed")
				return ErrMailboxClosed
			}
			ev.apply(l.table)
		}
	}
}

// Put submits a PutBackend event and waits for it to be applied. Put is
// idempotent: an existing hostname is silently overwritten.
func (l *Loop) Put(ctx context.Context, b routing.Backend) error {
	reply := make(chan error, 1)
	if err := l.send(ctx, putEvent{backend: b, reply: reply}); err != nil {
		return err
	}
	return l.await(ctx, reply)
}

// Delete submits a DeleteBackend event and waits for it to be applied.
// Deleting an absent hostname is a no-op success.
func (l *Loop) Delete(ctx context.Context, hostname string) error {
	reply := make(chan error, 1)
	if err := l.send(ctx, deleteEvent{hostname: hostname, reply: reply}); err != nil {
		return err
	}
	return l.await(ctx, reply)
}

// List submits a ListBackend event and waits for a snapshot, sorted by
// hostname ascending.
func (l *Loop) List(ctx context.Context) ([]routing.Backend, error) {
	reply := make(chan listResult, 1)
	if err := l.send(ctx, listEvent{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-reply:
		return res.backends, res.err
	}
}

func (l *Loop) send(ctx context.Context, ev event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrMailboxClosed
	case l.mailbox <- ev:
		return nil
	}
}

func (l *Loop) await(ctx context.Context, reply <-chan error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-reply:
		return err
	}
}
