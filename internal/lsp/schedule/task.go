// Package schedule decides where the work produced by each protocol message
// runs. Tasks that touch the session run inline on the event loop goroutine;
// everything else is snapshotted there and handed to a fixed worker pool.
package schedule

import (
	"context"

	"go.lsp.dev/jsonrpc2"

	"github.com/wycleffsean/linthost/internal/session"
)

// Mode is fixed when a Task is built.
type Mode int

const (
	// ModeImmediate tasks have nothing left to do.
	ModeImmediate Mode = iota
	// ModeLocal tasks run on the event loop with exclusive session access.
	ModeLocal
	// ModeBackground tasks run on the worker pool without session access.
	ModeBackground
)

func (m Mode) String() string {
	switch m {
	case ModeLocal:
		return "local"
	case ModeBackground:
		return "background"
	default:
		return "immediate"
	}
}

// LocalFunc is the body of a local task. The session and the requester are
// only valid for the duration of the call and must not be retained.
type LocalFunc func(ctx context.Context, s *session.Session, n *Notifier, r *Requester, resp *Responder)

// BackgroundFunc is the body of a background task.
type BackgroundFunc func(ctx context.Context, n *Notifier, resp *Responder)

// SnapshotFunc runs on the event loop at dispatch time and captures whatever
// the background body needs. Returning nil means there is nothing to run.
type SnapshotFunc func(v session.View) BackgroundFunc

// Task is one unit of work. It is executed at most once by Dispatch.
type Task struct {
	mode     Mode
	local    LocalFunc
	snapshot SnapshotFunc
	request  *jsonrpc2.ID
}

func Local(fn LocalFunc) Task {
	return Task{mode: ModeLocal, local: fn}
}

func Background(fn SnapshotFunc) Task {
	return Task{mode: ModeBackground, snapshot: fn}
}

// Nothing returns a task whose dispatch has no effect.
func Nothing() Task {
	return Task{mode: ModeImmediate}
}

func (t Task) Mode() Mode { return t.mode }

// ForRequest marks t as answering the client request id. The scheduler then
// tracks the request for cancellation and answers it with an internal error
// if the task panics.
func (t Task) ForRequest(id jsonrpc2.ID) Task {
	if t.mode == ModeImmediate {
		return t
	}
	t.request = &id
	return t
}
