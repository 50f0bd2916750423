package eventloop

import "vhgate/internal/routing"

// event is a mailbox message: one of putEvent, deleteEvent, listEvent. Each
// carries a single-shot reply channel, created by the sender and fired
// exactly once by Loop.Run.
type event interface {
	apply(t *routing.Table)
}

type putEvent struct {
	backend routing.Backend
	reply   chan<- error
}

func (e putEvent) apply(t *routing.Table) {
	t.Put(e.backend)
	e.reply <- nil
}

type deleteEvent struct {
	hostname string
	reply    chan<- error
}

func (e deleteEvent) apply(t *routing.Table) {
	t.Delete(e.hostname)
	e.reply <- nil
}

type listResult struct {
	backends []routing.Backend
	err      error
}

type listEvent struct {
	reply chan<- listResult
}

func (e listEvent) apply(t *routing.Table) {
	e.reply <- listResult{backends: t.List()}
}
