package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/beckn-gateway/errs"
	"github.com/coachpo/beckn-gateway/internal/app/callback"
	"github.com/coachpo/beckn-gateway/internal/app/poll"
	"github.com/coachpo/beckn-gateway/internal/domain/correlationstore"
	"github.com/coachpo/beckn-gateway/internal/domain/protocol"
	"github.com/coachpo/beckn-gateway/internal/infra/config"
	"github.com/coachpo/beckn-gateway/internal/infra/participant"
	"github.com/coachpo/beckn-gateway/internal/infra/persistence/memory"
	"github.com/coachpo/beckn-gateway/internal/infra/registry"
	"github.com/coachpo/beckn-gateway/internal/pkg/clock"
	"github.com/coachpo/beckn-gateway/pkg/dispatcher"
)

type bpp struct {
	server   *httptest.Server
	hits     atomic.Int32
	received chan protocol.Envelope
}

func newBPP(t *testing.T, respond func(w http.ResponseWriter)) *bpp {
	t.Helper()
	b := &bpp{received: make(chan protocol.Envelope, 64)}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.hits.Add(1)
		var env protocol.Envelope
		_ = json.NewDecoder(r.Body).Decode(&env)
		b.received <- env
		respond(w)
	}))
	t.Cleanup(b.server.Close)
	return b
}

func respondAck(w http.ResponseWriter) {
	_, _ = w.Write([]byte(`{"message":{"ack":{"status":"ACK"}}}`))
}

func respondNack(w http.ResponseWriter) {
	_, _ = w.Write([]byte(`{"message":{"ack":{"status":"NACK"}},"error":{"type":"DOMAIN-ERROR","code":"30001","message":"provider not found"}}`))
}

func respondDown(w http.ResponseWriter) {
	w.WriteHeader(http.StatusServiceUnavailable)
}

type subscriber struct {
	ID     string `json:"subscriber_id"`
	URL    string `json:"subscriber_url"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

func newRegistry(t *testing.T, subscribers ...subscriber) (*registry.Client, *atomic.Value) {
	t.Helper()
	var last atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		last.Store(req)
		matched := make([]subscriber, 0, len(subscribers))
		for _, s := range subscribers {
			if req["subscriber_id"] != "" && req["subscriber_id"] != s.ID {
				continue
			}
			if req["type"] != "" && req["type"] != s.Type {
				continue
			}
			matched = append(matched, s)
		}
		_ = json.NewEncoder(w).Encode(matched)
	}))
	t.Cleanup(srv.Close)
	client, err := registry.NewClient(registry.Options{BaseURL: srv.URL})
	require.NoError(t, err)
	return client, &last
}

type harness struct {
	orchestrator *Orchestrator
	store        *memory.CallbackStore
	callbacks    *callback.Service
	poll         *poll.Service
	ids          atomic.Int32
}

func newHarness(t *testing.T, directory Directory, retry int) *harness {
	t.Helper()
	cfg := config.Default().Participants
	cfg.Retry.MaxAttempts = retry
	cfg.Retry.InitialInterval = 5 * time.Millisecond
	d := participant.NewDispatcher(participant.Options{Config: cfg})
	t.Cleanup(d.Close)

	h := &harness{store: memory.NewCallbackStore()}
	contexts := protocol.NewContextFactory(protocol.Defaults{
		BapID:   "bap.example.com",
		BapURI:  "https://bap.example.com/protocol/v1/",
		Domain:  "nic2004:52110",
		City:    "std:080",
		Country: "IND",
	}, clock.NewFake(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)), func() string {
		return fmt.Sprintf("id-%d", h.ids.Add(1))
	})
	orch, err := New(Options{
		Contexts:   contexts,
		Directory:  directory,
		Dispatcher: d,
		Fanout:     dispatcher.NewFanout(nil, 4),
		Store:      h.store,
	})
	require.NoError(t, err)
	h.orchestrator = orch
	h.callbacks = callback.NewService(h.store, callback.Options{})
	h.poll = poll.NewService(h.store, poll.Options{})
	return h
}

func searchRequest() Request {
	return Request{Message: json.RawMessage(`{"intent":{"item":{"descriptor":{"name":"masala dosa"}}}}`)}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	require.Equal(t, errs.CodeInvalid, errs.CodeOf(err))
}

func TestSearchRoutesToGatewayAndTracksMessage(t *testing.T) {
	gw := newBPP(t, respondAck)
	directory, last := newRegistry(t, subscriber{ID: "bg-1", URL: gw.server.URL, Type: "BG", Status: "SUBSCRIBED"})
	h := newHarness(t, directory, 1)

	result, err := h.orchestrator.Handle(context.Background(), protocol.ActionSearch, searchRequest())
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)
	require.Equal(t, participant.KindAck, result.Outcomes[0].Kind)

	env := <-gw.received
	require.Equal(t, result.Context.MessageID, env.Context.MessageID)
	require.Equal(t, "search", env.Context.Action)
	require.Equal(t, "bap.example.com", env.Context.BapID)
	require.Equal(t, protocol.CoreVersion, env.Context.CoreVersion)

	lookup := last.Load().(map[string]string)
	require.Equal(t, "BG", lookup["type"])
	require.Equal(t, "std:080", lookup["city"])

	known, err := h.store.Exists(context.Background(), result.Context.MessageID)
	require.NoError(t, err)
	require.True(t, known)
}

func TestSearchWithProviderRoutesToThatProvider(t *testing.T) {
	gw := newBPP(t, respondAck)
	provider := newBPP(t, respondAck)
	directory, last := newRegistry(t,
		subscriber{ID: "bg-1", URL: gw.server.URL, Type: "BG", Status: "SUBSCRIBED"},
		subscriber{ID: "bpp-1", URL: provider.server.URL, Type: "BPP", Status: "SUBSCRIBED"},
	)
	h := newHarness(t, directory, 1)

	req := searchRequest()
	req.Context.BppID = "bpp-1"
	_, err := h.orchestrator.Handle(context.Background(), protocol.ActionSearch, req)
	require.NoError(t, err)
	require.Equal(t, int32(0), gw.hits.Load())
	require.Equal(t, int32(1), provider.hits.Load())
	require.Equal(t, "bpp-1", last.Load().(map[string]string)["subscriber_id"])
}

func TestProviderActionsRequireBppID(t *testing.T) {
	directory, _ := newRegistry(t)
	h := newHarness(t, directory, 1)

	_, err := h.orchestrator.Handle(context.Background(), protocol.ActionSelect, Request{Message: json.RawMessage(`{"order":{}}`)})
	require.Equal(t, errs.CodeInvalid, errs.CodeOf(err))
	require.Equal(t, 400, errs.HTTPStatus(err))
}

func TestHandleRejectsEmptyMessage(t *testing.T) {
	directory, _ := newRegistry(t)
	h := newHarness(t, directory, 1)

	_, err := h.orchestrator.Handle(context.Background(), protocol.ActionSearch, Request{})
	require.Equal(t, errs.CodeInvalid, errs.CodeOf(err))
}

func TestHandlePreservesClientTransactionID(t *testing.T) {
	gw := newBPP(t, respondAck)
	directory, _ := newRegistry(t, subscriber{ID: "bg-1", URL: gw.server.URL, Type: "BG", Status: "SUBSCRIBED"})
	h := newHarness(t, directory, 1)

	req := searchRequest()
	req.Context.TransactionID = "txn-client"
	result, err := h.orchestrator.Handle(context.Background(), protocol.ActionSearch, req)
	require.NoError(t, err)
	require.Equal(t, "txn-client", result.Context.TransactionID)
	require.NotEqual(t, "txn-client", result.Context.MessageID)
}

func TestFanoutAckAndNackIsAcknowledgedWithBothOutcomes(t *testing.T) {
	acking := newBPP(t, respondAck)
	nacking := newBPP(t, respondNack)
	h := newHarness(t, staticDirectory{
		{SubscriberID: "bpp-ack", BaseURL: acking.server.URL, Type: protocol.TypeBPP},
		{SubscriberID: "bpp-nack", BaseURL: nacking.server.URL, Type: protocol.TypeBPP},
	}, 3)

	req := Request{Context: protocol.ClientContext{BppID: "bpp"}, Message: json.RawMessage(`{"order":{}}`)}
	result, err := h.orchestrator.Handle(context.Background(), protocol.ActionSelect, req)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 2)
	require.Equal(t, participant.KindAck, result.Outcomes[0].Kind)
	require.Equal(t, participant.KindNack, result.Outcomes[1].Kind)
	require.Equal(t, "provider not found", result.Outcomes[1].Reason())
	require.Equal(t, int32(1), nacking.hits.Load())
}

func TestEmptyDirectoryIsNoParticipantFound(t *testing.T) {
	directory, _ := newRegistry(t)
	h := newHarness(t, directory, 1)

	result, err := h.orchestrator.Handle(context.Background(), protocol.ActionSearch, searchRequest())
	require.Equal(t, errs.CodeNoParticipant, errs.CodeOf(err))
	require.Equal(t, 404, errs.HTTPStatus(err))
	require.Equal(t, errs.ProtocolNoParticipant, errs.ProtocolCodeOf(err))
	require.Empty(t, result.Outcomes)

	known, existsErr := h.store.Exists(context.Background(), result.Context.MessageID)
	require.NoError(t, existsErr)
	require.False(t, known)
}

func TestRegistryFailureIsRegistryError(t *testing.T) {
	h := newHarness(t, failingDirectory{}, 1)

	_, err := h.orchestrator.Handle(context.Background(), protocol.ActionSearch, searchRequest())
	require.Equal(t, errs.CodeRegistry, errs.CodeOf(err))
	require.Equal(t, errs.ProtocolRegistry, errs.ProtocolCodeOf(err))
}

func TestDuplicateCallbacksAreAggregated(t *testing.T) {
	gw := newBPP(t, respondAck)
	directory, _ := newRegistry(t, subscriber{ID: "bg-1", URL: gw.server.URL, Type: "BG", Status: "SUBSCRIBED"})
	h := newHarness(t, directory, 1)
	ctx := context.Background()

	result, err := h.orchestrator.Handle(ctx, protocol.ActionSearch, searchRequest())
	require.NoError(t, err)

	cbContext := result.Context
	cbContext.Action = "on_search"
	cbContext.BppID = "bpp-1"
	cb := protocol.Callback{Context: &cbContext, Message: json.RawMessage(`{"catalog":{"bpp/descriptor":{"name":"Dosa Corner"}}}`)}
	require.NoError(t, h.callbacks.Ingest(ctx, protocol.ActionSearch, cb))
	require.NoError(t, h.callbacks.Ingest(ctx, protocol.ActionSearch, cb))

	aggregated, err := h.poll.Poll(ctx, protocol.ActionSearch, result.Context.MessageID)
	require.NoError(t, err)
	require.Len(t, aggregated.Responses, 2)
	require.Equal(t, "bpp-1", aggregated.Responses[0].Context.BppID)
}

func TestTrackedWithoutCallbackPollsAsPending(t *testing.T) {
	gw := newBPP(t, respondAck)
	directory, _ := newRegistry(t, subscriber{ID: "bg-1", URL: gw.server.URL, Type: "BG", Status: "SUBSCRIBED"})
	h := newHarness(t, directory, 1)
	ctx := context.Background()

	result, err := h.orchestrator.Handle(ctx, protocol.ActionSearch, searchRequest())
	require.NoError(t, err)

	_, pending := h.poll.Poll(ctx, protocol.ActionSearch, result.Context.MessageID)
	_, unknown := h.poll.Poll(ctx, protocol.ActionSearch, "never-issued")
	require.Equal(t, errs.CodePending, errs.CodeOf(pending))
	require.Equal(t, errs.CodeNotFound, errs.CodeOf(unknown))
	require.Equal(t, errs.HTTPStatus(unknown), errs.HTTPStatus(pending))
	require.Equal(t, errs.ProtocolCodeOf(unknown), errs.ProtocolCodeOf(pending))
}

func TestAllFailuresPreferNackOverTransport(t *testing.T) {
	down := newBPP(t, respondDown)
	nacking := newBPP(t, respondNack)
	h := newHarness(t, staticDirectory{
		{SubscriberID: "bpp-down", BaseURL: down.server.URL},
		{SubscriberID: "bpp-nack", BaseURL: nacking.server.URL},
	}, 2)

	req := Request{Context: protocol.ClientContext{BppID: "bpp"}, Message: json.RawMessage(`{"order":{}}`)}
	result, err := h.orchestrator.Handle(context.Background(), protocol.ActionInit, req)
	require.Equal(t, errs.CodeNack, errs.CodeOf(err))
	require.Equal(t, "30001", errs.ProtocolCodeOf(err))
	require.Equal(t, "provider not found", errs.MessageOf(err))
	require.Len(t, result.Outcomes, 2)
	require.Equal(t, participant.KindTransportFailure, result.Outcomes[0].Kind)
	require.Equal(t, int32(2), down.hits.Load())
}

func TestTransportFailureSurfacesAsParticipantError(t *testing.T) {
	down := newBPP(t, respondDown)
	h := newHarness(t, staticDirectory{{SubscriberID: "bpp-down", BaseURL: down.server.URL}}, 1)

	req := Request{Context: protocol.ClientContext{BppID: "bpp-down"}, Message: json.RawMessage(`{"order":{}}`)}
	_, err := h.orchestrator.Handle(context.Background(), protocol.ActionStatus, req)
	require.Equal(t, errs.CodeTransport, errs.CodeOf(err))
	require.Equal(t, 500, errs.HTTPStatus(err))
	require.Equal(t, errs.ProtocolParticipant, errs.ProtocolCodeOf(err))
	require.Equal(t, "BPP returned error", errs.MessageOf(err))
}

func TestAggregatePrecedence(t *testing.T) {
	cases := []struct {
		name  string
		kinds []participant.Kind
		want  errs.Code
	}{
		{"any ack wins", []participant.Kind{participant.KindCircuitOpen, participant.KindAck}, ""},
		{"transport beats circuit", []participant.Kind{participant.KindCircuitOpen, participant.KindTransportFailure}, errs.CodeTransport},
		{"circuit only", []participant.Kind{participant.KindCircuitOpen}, errs.CodeCircuitOpen},
		{"nack beats all", []participant.Kind{participant.KindTransportFailure, participant.KindCircuitOpen, participant.KindNack}, errs.CodeNack},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outcomes := make([]participant.Outcome, 0, len(tc.kinds))
			for i, kind := range tc.kinds {
				outcomes = append(outcomes, participant.Outcome{Participant: fmt.Sprintf("p-%d", i), Kind: kind})
			}
			require.Equal(t, tc.want, errs.CodeOf(aggregate(outcomes)))
		})
	}
}

func TestTrackFailureAbortsBeforeDispatch(t *testing.T) {
	gw := newBPP(t, respondAck)
	directory, _ := newRegistry(t, subscriber{ID: "bg-1", URL: gw.server.URL, Type: "BG", Status: "SUBSCRIBED"})
	d := participant.NewDispatcher(participant.Options{Config: config.Default().Participants})
	defer d.Close()
	orch, err := New(Options{Directory: directory, Dispatcher: d, Store: untrackableStore{memory.NewCallbackStore()}})
	require.NoError(t, err)

	_, err = orch.Handle(context.Background(), protocol.ActionSearch, searchRequest())
	require.Equal(t, errs.CodeStore, errs.CodeOf(err))
	require.Equal(t, int32(0), gw.hits.Load())
}

func TestConcurrentHandlesUseDistinctMessageIDs(t *testing.T) {
	gw := newBPP(t, respondAck)
	directory, _ := newRegistry(t, subscriber{ID: "bg-1", URL: gw.server.URL, Type: "BG", Status: "SUBSCRIBED"})
	h := newHarness(t, directory, 1)

	var mu sync.Mutex
	seen := make(map[string]struct{})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := h.orchestrator.Handle(context.Background(), protocol.ActionSearch, searchRequest())
			if err != nil {
				t.Errorf("handle: %v", err)
				return
			}
			mu.Lock()
			seen[result.Context.MessageID] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, seen, 16)
}

type staticDirectory []protocol.Participant

func (s staticDirectory) Lookup(context.Context, protocol.Criteria) ([]protocol.Participant, error) {
	return append([]protocol.Participant(nil), s...), nil
}

type failingDirectory struct{}

func (failingDirectory) Lookup(context.Context, protocol.Criteria) ([]protocol.Participant, error) {
	return nil, errs.New("registry", errs.CodeRegistry, errs.WithMessage("lookup returned status 500"))
}

type untrackableStore struct {
	correlationstore.Store
}

func (untrackableStore) Track(context.Context, string, protocol.Action) error {
	return errors.New("disk full")
}
