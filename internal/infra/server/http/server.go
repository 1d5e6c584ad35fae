// Package httpserver exposes the gateway's client, protocol and health endpoints.
package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/coachpo/beckn-gateway/errs"
	"github.com/coachpo/beckn-gateway/internal/app/orchestrator"
	"github.com/coachpo/beckn-gateway/internal/app/poll"
	"github.com/coachpo/beckn-gateway/internal/domain/correlationstore"
	"github.com/coachpo/beckn-gateway/internal/domain/protocol"
	"github.com/coachpo/beckn-gateway/internal/infra/config"
	"github.com/coachpo/beckn-gateway/internal/infra/logging"
	"github.com/coachpo/beckn-gateway/internal/infra/participant"
	"github.com/coachpo/beckn-gateway/lib/async"
)

const (
	maxJSONBodyBytes int64 = 1 << 20 // 1 MiB

	clientPrefix   = "/client/v1/"
	protocolPrefix = "/protocol/v1/"
	healthPath     = "/healthz"
	openAPIPath    = "/docs/openapi.json"

	messageIDParam = "messageId"
)

type handlerFunc func(http.ResponseWriter, *http.Request)

// ActionHandler dispatches client actions.
type ActionHandler interface {
	Handle(ctx context.Context, action protocol.Action, req orchestrator.Request) (orchestrator.Result, error)
}

// CallbackIngester validates and records participant callbacks.
type CallbackIngester interface {
	Prepare(action protocol.Action, cb protocol.Callback) (correlationstore.Record, error)
	Append(ctx context.Context, rec correlationstore.Record) error
}

// Poller aggregates recorded callbacks.
type Poller interface {
	Poll(ctx context.Context, action protocol.Action, messageID string) (poll.Aggregated, error)
}

// TaskSubmitter runs work off the request goroutine.
type TaskSubmitter interface {
	Submit(ctx context.Context, fn async.Task) error
}

// Options wires the handler's collaborators. Pool and Health are optional.
type Options struct {
	Environment  config.Environment
	Orchestrator ActionHandler
	Callbacks    CallbackIngester
	Poll         Poller
	Pool         TaskSubmitter
	Health       func(context.Context) error
	Logger       *logrus.Entry
}

type httpServer struct {
	orchestrator ActionHandler
	callbacks    CallbackIngester
	poller       Poller
	pool         TaskSubmitter
	health       func(context.Context) error
	logger       *logrus.Entry
}

type dispatchReport struct {
	Participant string `json:"participant"`
	Outcome     string `json:"outcome"`
	Reason      string `json:"reason,omitempty"`
	Attempts    int    `json:"attempts"`
}

type clientResponse struct {
	Context  *protocol.Context   `json:"context,omitempty"`
	Message  protocol.AckMessage `json:"message"`
	Error    *protocol.Error     `json:"error,omitempty"`
	Dispatch []dispatchReport    `json:"dispatch,omitempty"`
}

type pollResponse struct {
	Context *protocol.Context `json:"context,omitempty"`
	Message pollMessage       `json:"message"`
}

type pollMessage struct {
	Responses []poll.Response `json:"responses"`
}

// NewHandler creates the gateway HTTP handler.
func NewHandler(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	server := &httpServer{
		orchestrator: opts.Orchestrator,
		callbacks:    opts.Callbacks,
		poller:       opts.Poll,
		pool:         opts.Pool,
		health:       opts.Health,
		logger:       logger.WithField("component", "httpserver"),
	}
	mux := http.NewServeMux()

	mux.Handle(clientPrefix, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet:  server.pollCallbacks,
		http.MethodPost: server.clientAction,
	}))
	mux.Handle(protocolPrefix, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.ingestCallback,
	}))
	mux.Handle(healthPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.healthz,
	}))

	if opts.Environment == config.EnvDev {
		mux.Handle(openAPIPath, server.methodHandlers(map[string]handlerFunc{
			http.MethodGet: server.serveOpenAPI,
		}))
	}

	return withCORS(mux)
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	if len(handlers) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

func pathName(r *http.Request, prefix string) string {
	return strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
}

func (s *httpServer) clientAction(w http.ResponseWriter, r *http.Request) {
	name := pathName(r, clientPrefix)
	action, ok := protocol.ParseAction(name)
	if !ok {
		writeNack(w, nil, errs.New("httpserver", errs.CodeInvalid,
			errs.WithHTTP(http.StatusNotFound),
			errs.WithMessage("unknown action "+name)))
		return
	}

	var req orchestrator.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	result, err := s.orchestrator.Handle(r.Context(), action, req)
	resp := clientResponse{Dispatch: reports(result.Outcomes)}
	if result.Context.MessageID != "" {
		ctx := result.Context
		resp.Context = &ctx
	}
	if err != nil {
		resp.Message = protocol.NewNack(nil, nil).Message
		resp.Error = protocolError(err)
		writeJSON(w, errs.HTTPStatus(err), resp)
		return
	}
	resp.Message = protocol.NewAck(nil).Message
	writeJSON(w, http.StatusOK, resp)
}

func reports(outcomes []participant.Outcome) []dispatchReport {
	if len(outcomes) == 0 {
		return nil
	}
	out := make([]dispatchReport, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, dispatchReport{
			Participant: o.Participant,
			Outcome:     string(o.Kind),
			Reason:      o.Reason(),
			Attempts:    o.Attempts,
		})
	}
	return out
}

func (s *httpServer) ingestCallback(w http.ResponseWriter, r *http.Request) {
	name := pathName(r, protocolPrefix)
	action, ok := protocol.ParseCallback(name)
	if !ok {
		writeNack(w, nil, errs.New("httpserver", errs.CodeInvalid,
			errs.WithHTTP(http.StatusNotFound),
			errs.WithMessage("unknown callback "+name)))
		return
	}

	var cb protocol.Callback
	if err := decodeJSON(w, r, &cb); err != nil {
		writeDecodeError(w, err)
		return
	}

	rec, err := s.callbacks.Prepare(action, cb)
	if err != nil {
		writeNack(w, cb.Context, err)
		return
	}

	if s.pool != nil {
		submitErr := s.pool.Submit(r.Context(), func(ctx context.Context) error {
			return s.callbacks.Append(ctx, rec)
		})
		if submitErr == nil {
			writeJSON(w, http.StatusOK, protocol.NewAck(cb.Context))
			return
		}
		s.logger.WithField("message_id", rec.MessageID).WithError(submitErr).Debug("httpserver: callback pool unavailable, appending inline")
	}
	// Append logs its own failures; the participant is acknowledged regardless.
	_ = s.callbacks.Append(r.Context(), rec)
	writeJSON(w, http.StatusOK, protocol.NewAck(cb.Context))
}

func (s *httpServer) pollCallbacks(w http.ResponseWriter, r *http.Request) {
	name := pathName(r, clientPrefix)
	action, ok := protocol.ParseCallback(name)
	if !ok {
		writeNack(w, nil, errs.New("httpserver", errs.CodeInvalid,
			errs.WithHTTP(http.StatusNotFound),
			errs.WithMessage("unknown callback "+name)))
		return
	}
	messageID := strings.TrimSpace(r.URL.Query().Get(messageIDParam))
	if messageID == "" {
		writeNack(w, nil, errs.New("httpserver", errs.CodeInvalid, errs.WithMessage(messageIDParam+" is required")))
		return
	}

	result, err := s.poller.Poll(r.Context(), action, messageID)
	if err != nil {
		writeNack(w, nil, err)
		return
	}
	resp := pollResponse{Message: pollMessage{Responses: result.Responses}}
	if len(result.Responses) > 0 {
		ctx := result.Responses[0].Context
		resp.Context = &ctx
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *httpServer) healthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.logger.WithError(err).Warn("httpserver: health check failed")
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *httpServer) serveOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(openAPISpec))
}

func protocolError(err error) *protocol.Error {
	return &protocol.Error{Code: errs.ProtocolCodeOf(err), Message: errs.MessageOf(err)}
}

func writeNack(w http.ResponseWriter, ctx *protocol.Context, err error) {
	writeJSON(w, errs.HTTPStatus(err), protocol.NewNack(ctx, protocolError(err)))
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

func withCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

func limitRequestBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
}

// decodeJSON buffers the limited body so an oversized request surfaces as
// *http.MaxBytesError rather than a syntax error.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	limitRequestBody(w, r)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func writeDecodeError(w http.ResponseWriter, err error) {
	if isRequestTooLarge(err) {
		writeNack(w, nil, errs.New("httpserver", errs.CodeInvalid,
			errs.WithHTTP(http.StatusRequestEntityTooLarge),
			errs.WithMessage("request body too large")))
		return
	}
	writeNack(w, nil, errs.New("httpserver", errs.CodeInvalid,
		errs.WithMessage("invalid JSON payload"),
		errs.WithCause(err)))
}

func isRequestTooLarge(err error) bool {
	if err == nil {
		return false
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}
