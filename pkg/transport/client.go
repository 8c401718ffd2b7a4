package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"connectrpc.com/connect"

	"github.com/coreflux/eventcore/pkg/message"
)

// Client calls a remote CommandGateway.
type Client struct {
	inner *connect.Client[CommandEnvelope, CommandResult]
}

// NewClient builds a Client against baseURL (e.g. "http://localhost:8080")
// using httpClient, or http.DefaultClient if nil.
func NewClient(httpClient connect.HTTPClient, baseURL string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		inner: connect.NewClient[CommandEnvelope, CommandResult](
			httpClient, baseURL+sendProcedure, connect.WithCodec(plainJSONCodec{}),
		),
	}
}

// Send dispatches cmd to the remote gateway and returns the committed
// events it produced.
func (c *Client) Send(ctx context.Context, cmd message.Command) (message.EventStream, error) {
	payload, err := json.Marshal(cmd.Payload)
	if err != nil {
		return nil, fmt.Errorf("transport client: encode payload: %w", err)
	}
	ctxJSON, err := json.Marshal(cmd.Context)
	if err != nil {
		return nil, fmt.Errorf("transport client: encode context: %w", err)
	}

	req := connect.NewRequest(&CommandEnvelope{
		Type:             cmd.Type,
		AggregateID:      cmd.AggregateID,
		AggregateVersion: cmd.AggregateVersion,
		SagaID:           cmd.SagaID,
		SagaVersion:      cmd.SagaVersion,
		Payload:          payload,
		Context:          ctxJSON,
	})

	resp, err := c.inner.CallUnary(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("transport client: send: %w", err)
	}

	events := make(message.EventStream, 0, len(resp.Msg.Events))
	for _, env := range resp.Msg.Events {
		var payload any
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				return nil, fmt.Errorf("transport client: decode payload: %w", err)
			}
		}
		events = append(events, message.Event{
			Type:             env.Type,
			AggregateID:      env.AggregateID,
			AggregateVersion: env.AggregateVersion,
			SagaID:           env.SagaID,
			SagaVersion:      env.SagaVersion,
			Payload:          payload,
		})
	}
	return events, nil
}
