// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

// Package gateway implements the Command Gateway (C6): a thin,
// stateless translator between the external RPC surface (spec.md §6)
// and the Supervisor/Hub/Registry collaborators. It validates requests
// at the edge, dispatches to the domain, and maps results to the wire
// shapes spec.md §6's table names, exactly as the teacher's
// internal/grpc.CoreServer does for HandleCommand/Authenticate — minus
// the transport: wasmstream has no generated service stubs to bind to
// (see DESIGN.md's gateway/rpcgrpc scoping decision), so this package
// carries the semantic layer in plain Go and is reachable from any
// transport, including internal/rpcgrpc.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/wasmstream/core/internal/core"
	"github.com/wasmstream/core/internal/hub"
	"github.com/wasmstream/core/internal/registry"
	"github.com/wasmstream/core/internal/supervisor"
)

// Router is the subset of *supervisor.Supervisor the gateway needs,
// narrowed so gateway tests can substitute a fake without standing up a
// real wasm host.
type Router interface {
	Route(ctx context.Context, category, id string, cmd core.Command) ([]core.Event, error)
}

// Publisher is the subset of *registry.FilesystemRegistry the gateway
// needs for Publish and its pre-dispatch schema check.
type Publisher interface {
	Publish(ctx context.Context, category, version string, wasmBytes, schema []byte) error
	ValidatePayload(category string, payload []byte) error
}

// Subscriber is the subset of *hub.Hub the gateway needs for
// SubscribeToEvents and AcknowledgeEvent.
type Subscriber interface {
	Subscribe(ctx context.Context, name string, filters []hub.Filter) (*hub.Subscription, error)
}

// Authenticator is the subset of *auth.Authenticator the gateway needs
// to gate Publish. Publish loads and runs arbitrary wasm bytecode, so
// unlike Execute/SubscribeToEvents it requires a credential check
// before the request ever reaches the module registry. A nil
// Authenticator disables the check (used in tests and in single-tenant
// deployments where the gRPC transport's mTLS client cert is the only
// credential).
type Authenticator interface {
	Authenticate(principal, presentedKey string) error
}

// Gateway is the stateless C6 translator. It holds no mutable state of
// its own; every call is a pure request/response round trip to its
// collaborators.
type Gateway struct {
	router     Router
	publisher  Publisher
	subscriber Subscriber
	authn      Authenticator
}

// New wires a Gateway to its collaborators. authn may be nil.
func New(router Router, publisher Publisher, subscriber Subscriber, authn Authenticator) *Gateway {
	return &Gateway{router: router, publisher: publisher, subscriber: subscriber, authn: authn}
}

// ExecuteRequest is the wire shape of spec.md §6's Execute request.
type ExecuteRequest struct {
	Category    string
	ID          string
	Command     string
	Payload     []byte
	CausationID string
}

// ExecuteResult is the wire shape of spec.md §6's Execute response.
// Events is empty on failure, per the spec's table note.
type ExecuteResult struct {
	Success bool
	Message string
	Events  []Message
}

// Message is spec.md §6's wire Message shape, used both in ExecuteResult
// and in events delivered over a subscription.
type Message struct {
	ID         string
	GlobalID   uint64
	Position   uint64
	StreamName string
	MsgType    string
	Data       []byte
	TimeMillis int64
}

func toMessage(ev core.Event) Message {
	return Message{
		ID:         ev.ID,
		GlobalID:   ev.GlobalID,
		Position:   ev.StreamSequence,
		StreamName: ev.StreamName,
		MsgType:    ev.EventType,
		Data:       ev.Data,
		TimeMillis: ev.TimeMillis,
	}
}

// Execute validates req, runs the command through the router, and maps
// the result to the wire shape. Malformed requests (empty category/id,
// payload that does not parse as JSON) are rejected before reaching the
// router, per spec.md §4.6. A module-reported domain error comes back
// as a normal ExecuteResult with Success false and no events, never as
// a Go error; a Go error return means the request itself could not be
// serviced (unknown category, I/O fault, deadline).
func (g *Gateway) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error) {
	identity := core.Identity{Category: req.Category, ID: req.ID}
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	if req.Command == "" {
		return nil, core.InvalidInput("command must not be empty")
	}
	if !json.Valid(req.Payload) {
		return nil, core.InvalidInput("payload must be valid JSON")
	}
	if err := g.publisher.ValidatePayload(req.Category, req.Payload); err != nil {
		if core.IsDomainError(err) {
			return &ExecuteResult{Success: false, Message: err.Error()}, nil
		}
		return nil, err
	}

	cmd := core.Command{
		Identity:    identity,
		Name:        req.Command,
		Payload:     req.Payload,
		CausationID: req.CausationID,
	}

	events, err := g.router.Route(ctx, req.Category, req.ID, cmd)
	if err != nil {
		if core.IsDomainError(err) {
			slog.InfoContext(ctx, "command rejected by module",
				"category", req.Category, "id", req.ID, "command", req.Command, "error", err)
			return &ExecuteResult{Success: false, Message: err.Error()}, nil
		}
		return nil, err
	}

	out := make([]Message, len(events))
	for i, ev := range events {
		out[i] = toMessage(ev)
	}
	return &ExecuteResult{Success: true, Events: out}, nil
}

// PublishRequest is the wire shape of spec.md §6's Publish request,
// generalized from a bare name to the (category, version) pair the
// module registry indexes on.
type PublishRequest struct {
	Category    string
	Version     string
	ModuleBytes []byte
	Schema      []byte
	Principal   string
	APIKey      string
}

// PublishResult is the wire shape of spec.md §6's Publish response.
type PublishResult struct {
	Success bool
	Message string
}

// Publish authenticates the caller, then validates and registers a new
// Module Entry. Validation failures (bad category, non-semver version,
// empty bytes) and authentication failures both surface as a Go error,
// since both indicate a request that cannot be serviced rather than a
// module-reported outcome.
func (g *Gateway) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	if g.authn != nil {
		if err := g.authn.Authenticate(req.Principal, req.APIKey); err != nil {
			return nil, err
		}
	}
	if err := g.publisher.Publish(ctx, req.Category, req.Version, req.ModuleBytes, req.Schema); err != nil {
		return nil, err
	}
	return &PublishResult{Success: true, Message: "published"}, nil
}

// SubscribeRequest is the wire shape of spec.md §6's SubscribeToEvents
// request.
type SubscribeRequest struct {
	Name    string
	Filters []hub.Filter
}

// EventStream is what SubscribeToEvents hands back: a channel of wire
// Messages plus an Ack/Close surface, mirroring hub.Subscription's
// shape without leaking the hub package into RPC-facing code.
type EventStream struct {
	sub *hub.Subscription
}

// Messages returns the channel of events matching the subscription's
// filters, mapped to the wire Message shape.
func (s *EventStream) Messages(ctx context.Context) <-chan Message {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case ev, ok := <-s.sub.Events():
				if !ok {
					return
				}
				select {
				case out <- toMessage(ev):
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Ack acknowledges globalID on the underlying subscription, per
// spec.md §6's AcknowledgeEvent.
func (s *EventStream) Ack(ctx context.Context, globalID uint64) error {
	return s.sub.Ack(ctx, globalID)
}

// Close releases the subscription's resources.
func (s *EventStream) Close() { s.sub.Close() }

// SubscribeToEvents opens a durable, filtered event stream for name,
// replaying from its persisted cursor (or the start of time on first
// subscribe) before switching to live delivery, per spec.md §4.5.
func (g *Gateway) SubscribeToEvents(ctx context.Context, req SubscribeRequest) (*EventStream, error) {
	sub, err := g.subscriber.Subscribe(ctx, req.Name, req.Filters)
	if err != nil {
		return nil, err
	}
	return &EventStream{sub: sub}, nil
}

// AcknowledgeRequest is the wire shape of spec.md §6's AcknowledgeEvent
// request. It is serviced directly against a live EventStream rather
// than by name lookup, since acknowledgement is only meaningful for a
// subscription the caller is actively holding open.
type AcknowledgeRequest struct {
	GlobalID uint64
}

// AcknowledgeResult is the wire shape of spec.md §6's AcknowledgeEvent
// response.
type AcknowledgeResult struct {
	Success bool
	Message string
}

// AcknowledgeEvent advances stream's persisted cursor to req.GlobalID.
func (g *Gateway) AcknowledgeEvent(ctx context.Context, stream *EventStream, req AcknowledgeRequest) (*AcknowledgeResult, error) {
	if err := stream.Ack(ctx, req.GlobalID); err != nil {
		return nil, err
	}
	return &AcknowledgeResult{Success: true, Message: "acknowledged"}, nil
}
