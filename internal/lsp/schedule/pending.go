package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.lsp.dev/jsonrpc2"
)

// ErrRequestCancelled is passed to a ResponseHandler whose request was
// cancelled before the client answered.
var ErrRequestCancelled = errors.New("request cancelled before a response arrived")

// ResponseHandler turns the client's answer to an outgoing request into the
// task that continues the work. err is the client's error, if any.
type ResponseHandler func(result json.RawMessage, err error) Task

// Expect decodes the result into T before calling fn. A decode failure is
// reported to fn as err.
func Expect[T any](fn func(result T, err error) Task) ResponseHandler {
	return func(raw json.RawMessage, err error) Task {
		var v T
		if err == nil && len(raw) > 0 && string(raw) != "null" {
			if derr := json.Unmarshal(raw, &v); derr != nil {
				err = fmt.Errorf("decoding response: %w", derr)
			}
		}
		return fn(v, err)
	}
}

type pendingRequest struct {
	method  string
	handler ResponseHandler
	sent    time.Time
}

// pendingTable maps outgoing request IDs to their continuations. It has a
// single owner, the event loop, and does no locking.
type pendingTable struct {
	next     int32
	requests map[jsonrpc2.ID]pendingRequest
}

func newPendingTable() *pendingTable {
	return &pendingTable{requests: make(map[jsonrpc2.ID]pendingRequest)}
}

// nextID allocates a fresh identifier. IDs increase monotonically and are
// never handed out twice.
func (p *pendingTable) nextID() jsonrpc2.ID {
	p.next++
	return jsonrpc2.NewNumberID(p.next)
}

func (p *pendingTable) insert(id jsonrpc2.ID, method string, handler ResponseHandler) {
	p.requests[id] = pendingRequest{method: method, handler: handler, sent: time.Now()}
}

func (p *pendingTable) remove(id jsonrpc2.ID) (pendingRequest, bool) {
	req, ok := p.requests[id]
	if ok {
		delete(p.requests, id)
	}
	return req, ok
}

func (p *pendingTable) len() int { return len(p.requests) }
