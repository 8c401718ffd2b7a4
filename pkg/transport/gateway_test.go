package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreflux/eventcore/pkg/message"
)

type fakeSender struct {
	lastCmd message.Command
	events  message.EventStream
	err     error
}

func (f *fakeSender) Execute(ctx context.Context, cmd message.Command) (message.EventStream, error) {
	f.lastCmd = cmd
	return f.events, f.err
}

func newTestServer(t *testing.T, sender Sender) (*httptest.Server, *Client) {
	t.Helper()
	gw := NewCommandGateway(sender)
	mux := http.NewServeMux()
	path, handler := gw.Handler()
	mux.Handle(path, handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, NewClient(srv.Client(), srv.URL)
}

func TestClientSendRoundTripsCommandAndEvents(t *testing.T) {
	sender := &fakeSender{
		events: message.EventStream{
			{Type: "opened", AggregateID: "a1", AggregateVersion: message.Ptr(uint64(1)), Payload: map[string]any{"balance": float64(100)}},
		},
	}
	_, client := newTestServer(t, sender)

	events, err := client.Send(context.Background(), message.Command{
		Type:        "open",
		AggregateID: "a1",
		Payload:     map[string]any{"initial": float64(100)},
	})
	require.NoError(t, err)
	require.Equal(t, "open", sender.lastCmd.Type)
	require.Equal(t, "a1", sender.lastCmd.AggregateID)

	require.Len(t, events, 1)
	require.Equal(t, "opened", events[0].Type)
	payload, ok := events[0].Payload.(map[string]any)
	require.True(t, ok)
	require.Equal(t, float64(100), payload["balance"])
}

func TestClientSendSurfacesSenderError(t *testing.T) {
	sender := &fakeSender{err: errors.New("concurrency conflict")}
	_, client := newTestServer(t, sender)

	_, err := client.Send(context.Background(), message.Command{Type: "open", AggregateID: "a1"})
	require.Error(t, err)
}
