package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/zap"

	"github.com/wycleffsean/linthost/internal/lsp/schedule"
	"github.com/wycleffsean/linthost/internal/session"
)

type requestHandler func(s *Server, id jsonrpc2.ID, params json.RawMessage) (schedule.Task, error)

type notificationHandler func(s *Server, params json.RawMessage) (schedule.Task, error)

var (
	requests      map[string]requestHandler
	notifications map[string]notificationHandler
)

func init() {
	requests = map[string]requestHandler{
		protocol.MethodTextDocumentFormatting:      request(formatting),
		protocol.MethodTextDocumentRangeFormatting: request(rangeFormatting),
		protocol.MethodTextDocumentCodeAction:      request(codeAction),
		MethodTextDocumentDiagnostic:               request(documentDiagnostic),
		MethodDebugInfo:                            request(debugInfo),
	}
	notifications = map[string]notificationHandler{
		protocol.MethodInitialized:                        notification(initialized),
		protocol.MethodTextDocumentDidOpen:                notification(didOpen),
		protocol.MethodTextDocumentDidChange:              notification(didChange),
		protocol.MethodTextDocumentDidClose:               notification(didClose),
		protocol.MethodTextDocumentDidSave:                notification(didSave),
		protocol.MethodWorkspaceDidChangeConfiguration:    notification(didChangeConfiguration),
		protocol.MethodWorkspaceDidChangeWorkspaceFolders: notification(didChangeWorkspaceFolders),
		protocol.MethodWorkspaceDidChangeWatchedFiles:     notification(didChangeWatchedFiles),
		schedule.MethodCancelRequest:                      notification(cancelRequest),
	}
}

// request adapts a typed handler. The task it builds answers id.
func request[P any](fn func(s *Server, id jsonrpc2.ID, params *P) schedule.Task) requestHandler {
	return func(s *Server, id jsonrpc2.ID, raw json.RawMessage) (schedule.Task, error) {
		var params P
		if err := decodeParams(raw, &params); err != nil {
			return schedule.Nothing(), err
		}
		return fn(s, id, &params).ForRequest(id), nil
	}
}

func notification[P any](fn func(s *Server, params *P) schedule.Task) notificationHandler {
	return func(s *Server, raw json.RawMessage) (schedule.Task, error) {
		var params P
		if err := decodeParams(raw, &params); err != nil {
			return schedule.Nothing(), err
		}
		return fn(s, &params), nil
	}
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding params: %w", err)
	}
	return nil
}

// classifyCall turns a client request into the task that answers it.
func classifyCall(s *Server, call *jsonrpc2.Call) schedule.Task {
	handler, ok := requests[call.Method()]
	if !ok {
		log.Debug("method not found", zap.String("method", call.Method()))
		return replyError(call.ID(), jsonrpc2.Errorf(jsonrpc2.MethodNotFound, "method not found: %s", call.Method()))
	}
	task, err := handler(s, call.ID(), call.Params())
	if err != nil {
		log.Error("invalid request params", zap.String("method", call.Method()), zap.Error(err))
		return replyError(call.ID(), jsonrpc2.Errorf(jsonrpc2.InvalidParams, "%v", err))
	}
	return task
}

// classifyNotification turns a client notification into a task. Unknown
// notifications and undecodable params produce a no-op.
func classifyNotification(s *Server, n *jsonrpc2.Notification) schedule.Task {
	handler, ok := notifications[n.Method()]
	if !ok {
		if !strings.HasPrefix(n.Method(), "$/") {
			log.Debug("ignoring unknown notification", zap.String("method", n.Method()))
		}
		return schedule.Nothing()
	}
	task, err := handler(s, n.Params())
	if err != nil {
		log.Error("invalid notification params", zap.String("method", n.Method()), zap.Error(err))
		return schedule.Nothing()
	}
	return task
}

func replyError(id jsonrpc2.ID, err *jsonrpc2.Error) schedule.Task {
	return schedule.Local(func(_ context.Context, _ *session.Session, _ *schedule.Notifier, _ *schedule.Requester, resp *schedule.Responder) {
		if rerr := resp.Respond(id, nil, err); rerr != nil {
			log.Error("failed to send error response", zap.Error(rerr))
		}
	}).ForRequest(id)
}
