// Package transport exposes a Sender (such as
// handler.AggregateCommandHandler) remotely over Connect-RPC: a
// single unary procedure accepting an envelope and returning either the
// committed event stream or a structured error. The teacher repository
// depends on connectrpc.com/connect but never wires a handler against it;
// this package is that missing wiring, generalized onto the opaque
// message.Command/Event model instead of generated protobuf request types,
// using a plain-JSON connect.Codec in place of the protobuf codec
// connect-go defaults to (there is no .proto for an opaque payload to
// generate from).
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"connectrpc.com/connect"

	"github.com/coreflux/eventcore/pkg/message"
)

const sendProcedure = "/eventcore.v1.CommandGateway/Send"

// CommandEnvelope is the request shape Send accepts: a message.Command
// whose opaque Payload/Context already traveled as JSON over the wire.
type CommandEnvelope struct {
	Type             string          `json:"type"`
	AggregateID      any             `json:"aggregateId,omitempty"`
	AggregateVersion *uint64         `json:"aggregateVersion,omitempty"`
	SagaID           any             `json:"sagaId,omitempty"`
	SagaVersion      *uint64         `json:"sagaVersion,omitempty"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	Context          json.RawMessage `json:"context,omitempty"`
}

// CommandResult is the response shape Send returns.
type CommandResult struct {
	Events []EventEnvelope `json:"events"`
}

// EventEnvelope mirrors CommandEnvelope for committed events in a response.
type EventEnvelope struct {
	Type             string          `json:"type"`
	AggregateID      any             `json:"aggregateId,omitempty"`
	AggregateVersion *uint64         `json:"aggregateVersion,omitempty"`
	SagaID           any             `json:"sagaId,omitempty"`
	SagaVersion      *uint64         `json:"sagaVersion,omitempty"`
	Payload          json.RawMessage `json:"payload,omitempty"`
}

// Sender is the subset of handler.AggregateCommandHandler a CommandGateway
// dispatches through; it is also satisfied by anything layering retries or
// auth in front of it.
type Sender interface {
	Execute(ctx context.Context, cmd message.Command) (message.EventStream, error)
}

// CommandGateway is a Connect-RPC handler wrapping a Sender.
type CommandGateway struct {
	sender Sender
}

// NewCommandGateway builds a CommandGateway over sender.
func NewCommandGateway(sender Sender) *CommandGateway {
	return &CommandGateway{sender: sender}
}

// Handler returns the mount path and http.Handler to register on a mux —
// the Connect-RPC equivalent of a generated service's *Handler constructor.
func (g *CommandGateway) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	allOpts := append([]connect.HandlerOption{connect.WithCodec(plainJSONCodec{})}, opts...)
	handler := connect.NewUnaryHandler(sendProcedure, g.send, allOpts...)
	return sendProcedure, handler
}

func (g *CommandGateway) send(ctx context.Context, req *connect.Request[CommandEnvelope]) (*connect.Response[CommandResult], error) {
	cmd, err := decodeCommand(req.Msg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	events, err := g.sender.Execute(ctx, cmd)
	if err != nil {
		return nil, connect.NewError(connect.CodeFailedPrecondition, err)
	}

	result := &CommandResult{Events: make([]EventEnvelope, 0, len(events))}
	for _, e := range events {
		env, err := encodeEvent(e)
		if err != nil {
			return nil, connect.NewError(connect.CodeInternal, err)
		}
		result.Events = append(result.Events, env)
	}
	return connect.NewResponse(result), nil
}

func decodeCommand(env *CommandEnvelope) (message.Command, error) {
	cmd := message.Command{
		Type:             env.Type,
		AggregateID:      env.AggregateID,
		AggregateVersion: env.AggregateVersion,
		SagaID:           env.SagaID,
		SagaVersion:      env.SagaVersion,
	}
	if len(env.Payload) > 0 {
		var payload any
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return message.Command{}, fmt.Errorf("transport: decode payload: %w", err)
		}
		cmd.Payload = payload
	}
	if len(env.Context) > 0 {
		var ctx any
		if err := json.Unmarshal(env.Context, &ctx); err != nil {
			return message.Command{}, fmt.Errorf("transport: decode context: %w", err)
		}
		cmd.Context = ctx
	}
	return cmd, nil
}

func encodeEvent(e message.Event) (EventEnvelope, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("transport: encode payload: %w", err)
	}
	return EventEnvelope{
		Type:             e.Type,
		AggregateID:      e.AggregateID,
		AggregateVersion: e.AggregateVersion,
		SagaID:           e.SagaID,
		SagaVersion:      e.SagaVersion,
		Payload:          payload,
	}, nil
}

// plainJSONCodec replaces connect-go's default protobuf-backed "json" codec
// with encoding/json over plain Go structs, since CommandEnvelope/
// CommandResult aren't generated protobuf messages.
type plainJSONCodec struct{}

func (plainJSONCodec) Name() string { return "json" }

func (plainJSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (plainJSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
