package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/uri"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wycleffsean/linthost/internal/session"
)

type recorder struct {
	mu   sync.Mutex
	msgs []jsonrpc2.Message
}

func (r *recorder) Send(msg jsonrpc2.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) messages() []jsonrpc2.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]jsonrpc2.Message(nil), r.msgs...)
}

func (r *recorder) waitFor(t *testing.T, n int) []jsonrpc2.Message {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.messages()) >= n }, time.Second, 5*time.Millisecond)
	return r.messages()
}

var doc = uri.File("/ws/a.txt")

func newScheduler(t *testing.T, workers int) (*Scheduler, *session.Session, *recorder) {
	t.Helper()
	s, err := session.New(afero.NewMemMapFs(), []uri.URI{uri.File("/ws")}, nil, nil)
	require.NoError(t, err)
	rec := &recorder{}
	sch := New(s, workers, rec, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = sch.Close() })
	return sch, s, rec
}

func openDoc(version int32, text string) Task {
	return Local(func(_ context.Context, s *session.Session, _ *Notifier, _ *Requester, _ *Responder) {
		if version == 1 {
			s.Open(doc, "plaintext", version, text)
			return
		}
		_ = s.Update(doc, version, text)
	})
}

func TestNothingHasNoEffect(t *testing.T) {
	sch, s, rec := newScheduler(t, 1)
	sch.Dispatch(context.Background(), Nothing())
	sch.Dispatch(context.Background(), Nothing().ForRequest(jsonrpc2.NewNumberID(1)))
	require.Empty(t, rec.messages())
	require.Zero(t, sch.Pending())
	require.Zero(t, sch.Responder().InFlight())
	require.Empty(t, s.Documents())
}

func TestLocalTasksApplyInOrder(t *testing.T) {
	sch, s, _ := newScheduler(t, 2)
	ctx := context.Background()

	var seen []int32
	var mu sync.Mutex
	slow := Background(func(v session.View) BackgroundFunc {
		return func(context.Context, *Notifier, *Responder) { time.Sleep(5 * time.Millisecond) }
	})
	record := Local(func(_ context.Context, s *session.Session, _ *Notifier, _ *Requester, _ *Responder) {
		snap, _ := s.Snapshot(doc)
		mu.Lock()
		seen = append(seen, snap.Version)
		mu.Unlock()
	})

	sch.Dispatch(ctx, openDoc(1, "v1"))
	for v := int32(2); v <= 10; v++ {
		sch.Dispatch(ctx, slow)
		sch.Dispatch(ctx, openDoc(v, fmt.Sprintf("v%d", v)))
		sch.Dispatch(ctx, record)
	}
	snap, ok := s.Snapshot(doc)
	require.True(t, ok)
	require.Equal(t, "v10", snap.Text)
	require.Equal(t, []int32{2, 3, 4, 5, 6, 7, 8, 9, 10}, seen)
}

func TestBackgroundSeesSnapshotTakenAtDispatch(t *testing.T) {
	sch, _, _ := newScheduler(t, 1)
	ctx := context.Background()
	gate := make(chan struct{})
	got := make(chan string, 1)

	sch.Dispatch(ctx, openDoc(1, "v1"))
	sch.Dispatch(ctx, Background(func(v session.View) BackgroundFunc {
		snap, _ := v.Snapshot(doc)
		return func(context.Context, *Notifier, *Responder) {
			<-gate
			got <- snap.Text
		}
	}))
	sch.Dispatch(ctx, openDoc(2, "v2"))
	close(gate)

	select {
	case text := <-got:
		require.Equal(t, "v1", text)
	case <-time.After(time.Second):
		t.Fatal("background task did not run")
	}
}

func TestSingleWorkerRunsSeriallyWithoutBlockingDispatch(t *testing.T) {
	sch, s, _ := newScheduler(t, 1)
	ctx := context.Background()
	gate := make(chan struct{})
	var running, peak atomic.Int32
	var finished sync.WaitGroup

	blocker := Background(func(session.View) BackgroundFunc {
		finished.Add(1)
		return func(context.Context, *Notifier, *Responder) {
			defer finished.Done()
			n := running.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			<-gate
			running.Add(-1)
		}
	})

	returned := make(chan struct{})
	go func() {
		sch.Dispatch(ctx, blocker)
		sch.Dispatch(ctx, blocker)
		// a third message is still processed while both are outstanding
		sch.Dispatch(ctx, openDoc(1, "third"))
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("dispatch blocked on busy worker pool")
	}
	_, ok := s.Snapshot(doc)
	require.True(t, ok)

	close(gate)
	finished.Wait()
	require.Equal(t, int32(1), peak.Load())
}

func TestResponseCorrelation(t *testing.T) {
	sch, _, rec := newScheduler(t, 1)
	ctx := context.Background()

	calls := map[string]int{}
	results := map[string]string{}
	handler := func(name string) ResponseHandler {
		return Expect(func(v string, err error) Task {
			require.NoError(t, err)
			calls[name]++
			results[name] = v
			return Nothing()
		})
	}

	registerID, err := sch.Request("client/registerCapability", map[string]any{}, handler("register"))
	require.NoError(t, err)
	otherID, err := sch.Request("workspace/configuration", map[string]any{}, handler("other"))
	require.NoError(t, err)
	require.NotEqual(t, registerID, otherID)
	require.Equal(t, 2, sch.Pending())

	msgs := rec.messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "client/registerCapability", msgs[0].(*jsonrpc2.Call).Method())

	respond := func(id jsonrpc2.ID, v string) *jsonrpc2.Response {
		resp, err := jsonrpc2.NewResponse(id, v, nil)
		require.NoError(t, err)
		return resp
	}

	// an unrelated response for an id nobody is waiting on
	sch.Dispatch(ctx, sch.Response(respond(jsonrpc2.NewNumberID(999), "stray")))
	require.Equal(t, 2, sch.Pending())

	sch.Dispatch(ctx, sch.Response(respond(otherID, "second")))
	sch.Dispatch(ctx, sch.Response(respond(registerID, "first")))
	require.Equal(t, map[string]int{"register": 1, "other": 1}, calls)
	require.Equal(t, "first", results["register"])
	require.Equal(t, "second", results["other"])

	// a duplicate response does not reach the handler again
	sch.Dispatch(ctx, sch.Response(respond(registerID, "again")))
	require.Equal(t, 1, calls["register"])
	require.Zero(t, sch.Pending())
}

func TestRequestIDsAreMonotonic(t *testing.T) {
	sch, _, _ := newScheduler(t, 1)
	seen := map[jsonrpc2.ID]bool{}
	for i := 0; i < 50; i++ {
		id, err := sch.Request("m", nil, func(json.RawMessage, error) Task { return Nothing() })
		require.NoError(t, err)
		require.False(t, seen[id], "id reused")
		seen[id] = true
	}
	require.Equal(t, 50, sch.Pending())
}

func TestResponseErrorReachesHandler(t *testing.T) {
	sch, _, _ := newScheduler(t, 1)
	var gotErr error
	id, err := sch.Request("m", nil, func(_ json.RawMessage, err error) Task {
		gotErr = err
		return Nothing()
	})
	require.NoError(t, err)
	resp, err := jsonrpc2.NewResponse(id, nil, jsonrpc2.NewError(jsonrpc2.InternalError, "nope"))
	require.NoError(t, err)
	sch.Dispatch(context.Background(), sch.Response(resp))
	require.Error(t, gotErr)
}

func TestCancelOutgoingRequest(t *testing.T) {
	sch, _, rec := newScheduler(t, 1)
	calls := 0
	var gotErr error
	id, err := sch.Request("m", nil, func(_ json.RawMessage, err error) Task {
		calls++
		gotErr = err
		return Nothing()
	})
	require.NoError(t, err)

	sch.Dispatch(context.Background(), sch.Requester().Cancel(id))
	require.Equal(t, 1, calls)
	require.ErrorIs(t, gotErr, ErrRequestCancelled)
	require.Zero(t, sch.Pending())

	msgs := rec.messages()
	require.Equal(t, MethodCancelRequest, msgs[len(msgs)-1].(*jsonrpc2.Notification).Method())

	resp, _ := jsonrpc2.NewResponse(id, nil, nil)
	sch.Dispatch(context.Background(), sch.Response(resp))
	require.Equal(t, 1, calls)

	// cancelling twice is harmless
	require.Equal(t, ModeImmediate, sch.Requester().Cancel(id).Mode())
}

func TestPanickingBackgroundRequestIsAnswered(t *testing.T) {
	sch, s, rec := newScheduler(t, 1)
	id := jsonrpc2.NewNumberID(7)
	sch.Dispatch(context.Background(), Background(func(session.View) BackgroundFunc {
		return func(context.Context, *Notifier, *Responder) { panic("boom") }
	}).ForRequest(id))

	msgs := rec.waitFor(t, 1)
	resp := msgs[0].(*jsonrpc2.Response)
	require.Equal(t, id, resp.ID())
	var rpcErr *jsonrpc2.Error
	require.True(t, errors.As(resp.Err(), &rpcErr))
	require.Equal(t, jsonrpc2.InternalError, rpcErr.Code)

	// the scheduler keeps working
	sch.Dispatch(context.Background(), openDoc(1, "after"))
	_, ok := s.Snapshot(doc)
	require.True(t, ok)
}

func TestPanickingLocalTaskIsContained(t *testing.T) {
	sch, s, _ := newScheduler(t, 1)
	sch.Dispatch(context.Background(), Local(func(context.Context, *session.Session, *Notifier, *Requester, *Responder) {
		panic("local boom")
	}))
	sch.Dispatch(context.Background(), openDoc(1, "after"))
	_, ok := s.Snapshot(doc)
	require.True(t, ok)
}

func TestClientCancellationOfInflightRequest(t *testing.T) {
	sch, _, rec := newScheduler(t, 1)
	id := jsonrpc2.NewStringID("req-1")
	started := make(chan struct{})
	sch.Dispatch(context.Background(), Background(func(session.View) BackgroundFunc {
		return func(ctx context.Context, _ *Notifier, resp *Responder) {
			close(started)
			<-ctx.Done()
			_ = resp.Respond(id, "late result", nil)
		}
	}).ForRequest(id))

	<-started
	require.True(t, sch.Responder().Cancel(id))
	msgs := rec.waitFor(t, 1)
	var rpcErr *jsonrpc2.Error
	require.True(t, errors.As(msgs[0].(*jsonrpc2.Response).Err(), &rpcErr))
	require.Equal(t, CodeRequestCancelled, rpcErr.Code)
	require.False(t, sch.Responder().Cancel(id))
}

func TestRespondTwiceIsRejected(t *testing.T) {
	sch, _, rec := newScheduler(t, 1)
	id := jsonrpc2.NewNumberID(3)
	sch.Dispatch(context.Background(), Local(func(_ context.Context, _ *session.Session, _ *Notifier, _ *Requester, resp *Responder) {
		require.NoError(t, resp.Respond(id, "ok", nil))
		require.ErrorIs(t, resp.Respond(id, "again", nil), ErrNotInFlight)
	}).ForRequest(id))
	require.Len(t, rec.messages(), 1)
}

func TestBackgroundReentersEventLoop(t *testing.T) {
	sch, s, _ := newScheduler(t, 2)
	ctx := context.Background()
	sch.Dispatch(ctx, openDoc(1, "v1"))
	sch.Dispatch(ctx, Background(func(v session.View) BackgroundFunc {
		snap, _ := v.Snapshot(doc)
		return func(_ context.Context, n *Notifier, _ *Responder) {
			n.Schedule(openDoc(snap.Version+1, "from background"))
		}
	}))

	select {
	case task := <-sch.Reentry():
		require.Equal(t, ModeLocal, task.Mode())
		sch.Dispatch(ctx, task)
	case <-time.After(time.Second):
		t.Fatal("no task re-entered the loop")
	}
	snap, _ := s.Snapshot(doc)
	require.Equal(t, "from background", snap.Text)
}

func TestReentryPreservesOrder(t *testing.T) {
	sch, _, _ := newScheduler(t, 1)
	for i := 0; i < 20; i++ {
		n := i
		sch.Notifier().Schedule(Local(func(context.Context, *session.Session, *Notifier, *Requester, *Responder) {
			_ = n
		}))
	}
	for i := 0; i < 20; i++ {
		select {
		case <-sch.Reentry():
		case <-time.After(time.Second):
			t.Fatalf("missing re-entry task %d", i)
		}
	}
}

func TestScheduleAfterCloseIsDropped(t *testing.T) {
	sch, _, _ := newScheduler(t, 1)
	require.NoError(t, sch.Close())
	sch.Notifier().Schedule(Nothing())
	require.False(t, sch.pool.Submit(func() {}))
}

func TestPanickingSnapshotIsAnsweredOnce(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s, err := session.New(afero.NewMemMapFs(), []uri.URI{uri.File("/ws")}, nil, nil)
	require.NoError(t, err)
	rec := &recorder{}
	sch := New(s, 1, rec, zap.New(core))
	t.Cleanup(func() { _ = sch.Close() })

	id := jsonrpc2.NewNumberID(8)
	sch.Dispatch(context.Background(), Background(func(session.View) BackgroundFunc {
		panic("snapshot boom")
	}).ForRequest(id))

	msgs := rec.messages()
	require.Len(t, msgs, 1)
	var rpcErr *jsonrpc2.Error
	require.True(t, errors.As(msgs[0].(*jsonrpc2.Response).Err(), &rpcErr))
	require.Equal(t, jsonrpc2.InternalError, rpcErr.Code)
	require.Zero(t, logs.FilterMessage("failed to answer request").Len())
	require.Zero(t, sch.Responder().InFlight())
}

func TestBackgroundRequestAfterCloseIsAnswered(t *testing.T) {
	sch, _, rec := newScheduler(t, 1)
	require.NoError(t, sch.Close())

	id := jsonrpc2.NewNumberID(9)
	sch.Dispatch(context.Background(), Background(func(session.View) BackgroundFunc {
		return func(context.Context, *Notifier, *Responder) {}
	}).ForRequest(id))

	msgs := rec.messages()
	require.Len(t, msgs, 1)
	resp := msgs[0].(*jsonrpc2.Response)
	require.Equal(t, id, resp.ID())
	require.Error(t, resp.Err())
	require.Zero(t, sch.Responder().InFlight())
}
