package registry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/beckn-gateway/errs"
	"github.com/coachpo/beckn-gateway/internal/domain/protocol"
)

func newRegistry(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(Options{BaseURL: srv.URL + "/"})
	require.NoError(t, err)
	return client
}

var criteria = protocol.Criteria{
	Type:    protocol.TypeGateway,
	Domain:  "nic2004:52110",
	City:    "std:080",
	Country: "IND",
}

func TestLookupReturnsSubscribedParticipants(t *testing.T) {
	var got lookupRequest
	client := newRegistry(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/lookup", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`[
			{"subscriber_id":"bg-1","subscriber_url":"https://bg1.example.com","type":"BG","domain":"nic2004:52110","status":"SUBSCRIBED"},
			{"subscriber_id":"bg-2","subscriber_url":"https://bg2.example.com/","type":"BG","domain":"nic2004:52110","status":"UNSUBSCRIBED"}
		]`))
	})

	participants, err := client.Lookup(context.Background(), criteria)
	require.NoError(t, err)
	require.Len(t, participants, 1)
	require.Equal(t, "bg-1", participants[0].SubscriberID)
	require.Equal(t, "https://bg1.example.com/", participants[0].BaseURL)
	require.Equal(t, "BG", got.Type)
	require.Equal(t, "std:080", got.City)
	require.Empty(t, got.SubscriberID)
}

func TestLookupServerErrorIsRegistryError(t *testing.T) {
	client := newRegistry(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := client.Lookup(context.Background(), criteria)
	require.Error(t, err)
	require.Equal(t, errs.CodeRegistry, errs.CodeOf(err))
}

func TestLookupEmptyIsNoParticipant(t *testing.T) {
	for _, body := range []string{`[]`, ``, `null`} {
		client := newRegistry(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(body))
		})
		_, err := client.Lookup(context.Background(), criteria)
		require.Error(t, err, body)
		require.Equal(t, errs.CodeNoParticipant, errs.CodeOf(err), body)
	}
}

func TestLookupWithoutSubscribedEntriesIsNoParticipant(t *testing.T) {
	client := newRegistry(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[
			{"subscriber_id":"bg-1","subscriber_url":"https://bg1.example.com","type":"BG","status":"INITIATED"},
			{"subscriber_id":"bg-2","subscriber_url":"https://bg2.example.com","type":"BG","status":"EXPIRED"}
		]`))
	})
	_, err := client.Lookup(context.Background(), criteria)
	require.Error(t, err)
	require.Equal(t, errs.CodeNoParticipant, errs.CodeOf(err))
}

func TestLookupMalformedBodyIsRegistryError(t *testing.T) {
	client := newRegistry(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"not":"a list"}`))
	})
	_, err := client.Lookup(context.Background(), criteria)
	require.Equal(t, errs.CodeRegistry, errs.CodeOf(err))
}

func TestLookupIsIdempotent(t *testing.T) {
	client := newRegistry(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"subscriber_id":"bpp-1","subscriber_url":"https://bpp.example.com","type":"BPP","status":"SUBSCRIBED"}]`))
	})
	byID := criteria
	byID.Type = protocol.TypeBPP
	byID.SubscriberID = "bpp-1"
	first, err := client.Lookup(context.Background(), byID)
	require.NoError(t, err)
	second, err := client.Lookup(context.Background(), byID)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestLookupUnreachableIsRegistryError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	client, err := NewClient(Options{BaseURL: url})
	require.NoError(t, err)
	_, err = client.Lookup(context.Background(), criteria)
	require.Equal(t, errs.CodeRegistry, errs.CodeOf(err))
}

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient(Options{})
	require.Error(t, err)
}
