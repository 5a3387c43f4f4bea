package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.lsp.dev/jsonrpc2"
	"go.uber.org/zap"

	"github.com/wycleffsean/linthost/internal/queue"
)

// CodeRequestCancelled is the LSP error code for a request the client
// cancelled.
const CodeRequestCancelled jsonrpc2.Code = -32800

var ErrNotInFlight = errors.New("request is not in flight")

// Sender is the outbound half of the connection. Send must not block on
// the peer.
type Sender interface {
	Send(msg jsonrpc2.Message) error
}

// Notifier sends notifications and schedules follow-up tasks onto the event
// loop. It is safe for concurrent use.
type Notifier struct {
	sender  Sender
	reentry *queue.Queue[Task]
	logger  *zap.Logger
}

func (n *Notifier) Notify(method string, params any) error {
	msg, err := jsonrpc2.NewNotification(method, params)
	if err != nil {
		return fmt.Errorf("encoding %s notification: %w", method, err)
	}
	return n.sender.Send(msg)
}

// Schedule queues t for dispatch on the event loop. Tasks are dispatched in
// the order they were scheduled. After shutdown the task is dropped.
func (n *Notifier) Schedule(t Task) {
	if !n.reentry.Push(t) {
		n.logger.Debug("dropping task scheduled after shutdown", zap.Stringer("mode", t.mode))
	}
}

type inflight struct {
	cancel    context.CancelFunc
	cancelled bool
}

// Responder answers client requests. It is safe for concurrent use.
type Responder struct {
	sender Sender
	logger *zap.Logger

	mu       sync.Mutex
	requests map[jsonrpc2.ID]*inflight
}

func (r *Responder) track(parent context.Context, id jsonrpc2.ID) context.Context {
	ctx, cancel := context.WithCancel(parent)
	r.mu.Lock()
	r.requests[id] = &inflight{cancel: cancel}
	r.mu.Unlock()
	return ctx
}

// Respond sends the response for request id. A request cancelled by the
// client is answered with CodeRequestCancelled regardless of result.
func (r *Responder) Respond(id jsonrpc2.ID, result any, err error) error {
	r.mu.Lock()
	req, ok := r.requests[id]
	delete(r.requests, id)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %v", ErrNotInFlight, id)
	}
	req.cancel()
	if req.cancelled {
		result, err = nil, jsonrpc2.NewError(CodeRequestCancelled, "request cancelled")
	}

	resp, encErr := jsonrpc2.NewResponse(id, result, err)
	if encErr != nil {
		r.logger.Error("failed to encode response", zap.String("id", fmt.Sprint(id)), zap.Error(encErr))
		resp, _ = jsonrpc2.NewResponse(id, nil, jsonrpc2.Errorf(jsonrpc2.InternalError, "encoding result: %v", encErr))
	}
	return r.sender.Send(resp)
}

// Cancel cancels the context of an in-flight request. It reports whether the
// request was still running.
func (r *Responder) Cancel(id jsonrpc2.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return false
	}
	req.cancelled = true
	req.cancel()
	return true
}

func (r *Responder) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

// Requester sends requests to the client. It belongs to the event loop and
// is only handed to local tasks.
type Requester struct {
	sender  Sender
	pending *pendingTable
	logger  *zap.Logger
}

// Request sends method to the client and parks handler until the matching
// response arrives. It never waits for the response.
func (r *Requester) Request(method string, params any, handler ResponseHandler) (jsonrpc2.ID, error) {
	id := r.pending.nextID()
	call, err := jsonrpc2.NewCall(id, method, params)
	if err != nil {
		return id, fmt.Errorf("encoding %s request: %w", method, err)
	}
	r.pending.insert(id, method, handler)
	if err := r.sender.Send(call); err != nil {
		r.pending.remove(id)
		return id, fmt.Errorf("sending %s request: %w", method, err)
	}
	r.logger.Debug("sent request", zap.String("method", method), zap.String("id", fmt.Sprint(id)))
	return id, nil
}

// Pending is the number of requests still waiting for the client.
func (r *Requester) Pending() int { return r.pending.len() }

// Cancel abandons an outgoing request. The client is told through
// $/cancelRequest and the handler is invoked with ErrRequestCancelled; the
// returned task is its continuation.
func (r *Requester) Cancel(id jsonrpc2.ID) Task {
	req, ok := r.pending.remove(id)
	if !ok {
		return Nothing()
	}
	if msg, err := jsonrpc2.NewNotification(MethodCancelRequest, &cancelParams{ID: id}); err == nil {
		if err := r.sender.Send(msg); err != nil {
			r.logger.Warn("failed to send cancellation", zap.String("method", req.method), zap.Error(err))
		}
	}
	return req.handler(nil, ErrRequestCancelled)
}

// MethodCancelRequest is the protocol's cancellation notification.
const MethodCancelRequest = "$/cancelRequest"

type cancelParams struct {
	ID jsonrpc2.ID `json:"id"`
}
