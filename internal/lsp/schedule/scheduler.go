package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.lsp.dev/jsonrpc2"
	"go.uber.org/zap"

	"github.com/wycleffsean/linthost/internal/queue"
	"github.com/wycleffsean/linthost/internal/session"
)

// Scheduler dispatches tasks and correlates responses to outgoing requests.
// Apart from the Notifier and Responder it hands out, it must only be used
// from the event loop goroutine.
type Scheduler struct {
	session *session.Session
	pool    *Pool
	logger  *zap.Logger

	notifier  *Notifier
	responder *Responder
	requester *Requester

	reentryQueue *queue.Queue[Task]
	reentry      chan Task
	done         chan struct{}
	pumpDone     chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func New(s *session.Session, workers int, sender Sender, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	reentry := queue.New[Task]()
	sch := &Scheduler{
		session: s,
		pool:    NewPool(workers, logger.Named("pool")),
		logger:  logger,
		notifier: &Notifier{
			sender:  sender,
			reentry: reentry,
			logger:  logger,
		},
		responder: &Responder{
			sender:   sender,
			logger:   logger,
			requests: make(map[jsonrpc2.ID]*inflight),
		},
		requester: &Requester{
			sender:  sender,
			pending: newPendingTable(),
			logger:  logger,
		},
		reentryQueue: reentry,
		reentry:      make(chan Task),
		done:         make(chan struct{}),
		pumpDone:     make(chan struct{}),
	}
	go sch.pump()
	return sch
}

// pump moves scheduled tasks from the unbounded queue to the channel the
// event loop selects on, so Schedule never blocks.
func (s *Scheduler) pump() {
	defer close(s.pumpDone)
	for {
		t, ok := s.reentryQueue.Pop()
		if !ok {
			return
		}
		select {
		case s.reentry <- t:
		case <-s.done:
			return
		}
	}
}

// Reentry yields tasks queued through Notifier.Schedule, in order.
func (s *Scheduler) Reentry() <-chan Task { return s.reentry }

func (s *Scheduler) Notifier() *Notifier   { return s.notifier }
func (s *Scheduler) Responder() *Responder { return s.responder }
func (s *Scheduler) Requester() *Requester { return s.requester }
func (s *Scheduler) Workers() int          { return s.pool.Size() }

// Pending is the number of outgoing requests awaiting a response.
func (s *Scheduler) Pending() int { return s.requester.Pending() }

// Request sends a request to the client; see Requester.Request.
func (s *Scheduler) Request(method string, params any, handler ResponseHandler) (jsonrpc2.ID, error) {
	return s.requester.Request(method, params, handler)
}

// Response correlates a response from the client with the request that
// caused it and returns the continuation. A response nobody is waiting for
// is logged and yields a no-op task.
func (s *Scheduler) Response(resp *jsonrpc2.Response) Task {
	id := resp.ID()
	req, ok := s.requester.pending.remove(id)
	if !ok {
		s.logger.Error("received response for unknown request", zap.String("id", fmt.Sprint(id)))
		return Nothing()
	}
	s.logger.Debug("received response",
		zap.String("method", req.method),
		zap.String("id", fmt.Sprint(id)),
		zap.Duration("elapsed", time.Since(req.sent)),
	)
	return req.handler(resp.Result(), resp.Err())
}

// Dispatch runs local tasks in place and hands background tasks to the pool.
// It returns without waiting for background work.
func (s *Scheduler) Dispatch(ctx context.Context, t Task) {
	if t.request != nil {
		ctx = s.responder.track(ctx, *t.request)
	}
	switch t.mode {
	case ModeImmediate:
	case ModeLocal:
		func() {
			defer s.recoverTask(t)
			t.local(ctx, s.session, s.notifier, s.requester, s.responder)
		}()
	case ModeBackground:
		run, ok := s.snapshot(t)
		if !ok {
			return
		}
		if run == nil {
			s.answer(t, nil, nil)
			return
		}
		submitted := s.pool.Submit(func() {
			defer s.recoverTask(t)
			run(ctx, s.notifier, s.responder)
		})
		if !submitted {
			s.logger.Warn("worker pool closed, dropping background task")
			s.answer(t, nil, jsonrpc2.NewError(jsonrpc2.InternalError, "server is shutting down"))
		}
	}
}

// snapshot runs the dispatch-time half of a background task. ok is false if
// it panicked, in which case the request has already been answered.
func (s *Scheduler) snapshot(t Task) (run BackgroundFunc, ok bool) {
	defer s.recoverTask(t)
	return t.snapshot(s.session), true
}

// answer responds to the request t serves, if any.
func (s *Scheduler) answer(t Task, result any, err error) {
	if t.request == nil {
		return
	}
	if rerr := s.responder.Respond(*t.request, result, err); rerr != nil {
		s.logger.Error("failed to answer request", zap.String("id", fmt.Sprint(*t.request)), zap.Error(rerr))
	}
}

// recoverTask contains a panicking task. Requests get an internal error so
// the client is not left waiting.
func (s *Scheduler) recoverTask(t Task) {
	r := recover()
	if r == nil {
		return
	}
	s.logger.Error("task panicked", zap.Stringer("mode", t.mode), zap.Any("panic", r), zap.Stack("stack"))
	if t.request != nil {
		err := jsonrpc2.Errorf(jsonrpc2.InternalError, "request handler panicked: %v", r)
		if rerr := s.responder.Respond(*t.request, nil, err); rerr != nil {
			s.logger.Debug("could not answer panicked request", zap.Error(rerr))
		}
	}
}

// Close stops the re-entry path, waits for queued background work to finish
// and drops outstanding requests. No response handler runs after Close.
func (s *Scheduler) Close() error {
	s.closeOnce.Do(func() {
		s.reentryQueue.Close()
		close(s.done)
		<-s.pumpDone
		s.closeErr = s.pool.Close()
		if n := s.Pending(); n > 0 {
			s.logger.Info("abandoning requests without a response", zap.Int("count", n))
		}
	})
	return s.closeErr
}
