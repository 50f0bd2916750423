// Package control implements the routing-table control plane: three RPCs
// (Put, Delete, List) served over net/rpc+jsonrpc, each translated into an
// event submitted to the single-writer event loop.
//
// net/rpc+jsonrpc is used instead of gRPC/protobuf: it needs no code
// generation step, and a JSON-RPC wire format is plenty for a handful of
// low-volume administrative calls, so PutBackend/DeleteBackend/ListBackends
// are exposed as plain Go methods on a registered RPC receiver.
package control

import (
	"context"
	"errors"
	"log/slog"

	"vhgate/internal/routing"
)

// Loop is the subset of eventloop.Loop the RPC service needs. Kept as an
// interface so tests can submit events without a live mailbox goroutine.
type Loop interface {
	Put(ctx context.Context, b routing.Backend) error
	Delete(ctx context.Context, hostname string) error
	List(ctx context.Context) ([]routing.Backend, error)
}

// PutBackendArgs is the RPC argument for Service.PutBackend.
type PutBackendArgs struct {
	Hostname     string
	RedirectIP   string
	RedirectPort uint16
}

// DeleteBackendArgs is the RPC argument for Service.DeleteBackend.
type DeleteBackendArgs struct {
	Hostname string
}

// Empty is the RPC reply for mutating calls that carry no payload.
type Empty struct{}

// ListBackendsArgs is unused but kept so the RPC method has the
// (args, reply) signature net/rpc requires.
type ListBackendsArgs struct{}

// ListBackendsReply carries the materialized routing table. net/rpc has no
// server-streaming primitive, so the whole table is returned as one
// message rather than as a stream of entries.
type ListBackendsReply struct {
	Backends []routing.Backend
}

// internalServerError is the single error string ever returned to an RPC
// caller: callers should never learn the internal cause of a failure. The
// real cause is logged, not returned.
const internalServerError = "internal server error"

// Service is the net/rpc receiver registered on the control listener.
// Every exported method has the (args, *reply) error signature net/rpc
// requires.
type Service struct {
	loop   Loop
	logger *slog.Logger
}

// NewService constructs a Service bound to loop. loop is normally an
// *eventloop.Loop already running in its own goroutine.
func NewService(loop Loop, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{loop: loop, logger: logger}
}

// PutBackend inserts or overwrites a routing table entry.
func (s *Service) PutBackend(args PutBackendArgs, reply *Empty) error {
	b := routing.Backend{
		Hostname:     args.Hostname,
		RedirectIP:   args.RedirectIP,
		RedirectPort: args.RedirectPort,
	}
	if err := s.loop.Put(context.Background(), b); err != nil {
		s.logger.Error("control: put failed", "hostname", args.Hostname, "err", err)
		return errors.New(internalServerError)
	}
	*reply = Empty{}
	return nil
}

// DeleteBackend removes a routing table entry. Deleting an unknown
// hostname is not an error.
func (s *Service) DeleteBackend(args DeleteBackendArgs, reply *Empty) error {
	if err := s.loop.Delete(context.Background(), args.Hostname); err != nil {
		s.logger.Error("control: delete failed", "hostname", args.Hostname, "err", err)
		return errors.New(internalServerError)
	}
	*reply = Empty{}
	return nil
}

// ListBackends returns every routing table entry, sorted by hostname.
func (s *Service) ListBackends(_ ListBackendsArgs, reply *ListBackendsReply) error {
	backends, err := s.loop.List(context.Background())
	if err != nil {
		s.logger.Error("control: list failed", "err", err)
		return errors.New(internalServerError)
	}
	reply.Backends = backends
	return nil
}
