package audit

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/TimurManjosov/tgforwarder/internal/rules"
)

type actorKey struct{}

// ContextWithActor records who is making the request.
func ContextWithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFromContext falls back to an anonymous actor.
func ActorFromContext(ctx context.Context) Actor {
	if a, ok := ctx.Value(actorKey{}).(Actor); ok {
		return a
	}
	return Actor{Kind: ActorKindAnonymous, Display: "anonymous"}
}

// EventBuilder provides a fluent API for constructing audit events.
//
//	event := audit.NewEventBuilder(r).
//		ForRule(rule.ID).
//		WithAction(audit.ActionUpdated).
//		WithBefore(&before).
//		WithAfter(&rule).
//		Build()
type EventBuilder struct {
	event Event
}

// NewEventBuilder starts an event from the request's id, actor and origin.
// RealIP middleware has already resolved forwarded addresses into RemoteAddr.
func NewEventBuilder(r *http.Request) *EventBuilder {
	return &EventBuilder{
		event: Event{
			RequestID: middleware.GetReqID(r.Context()),
			Actor:     ActorFromContext(r.Context()),
			Source: Source{
				IPAddress: r.RemoteAddr,
				UserAgent: r.UserAgent(),
			},
			Status: StatusSuccess,
		},
	}
}

func (b *EventBuilder) ForRule(id string) *EventBuilder {
	b.event.RuleID = id
	return b
}

// FromSession tags events produced by saving an editor session.
func (b *EventBuilder) FromSession(id string) *EventBuilder {
	b.event.SessionID = id
	return b
}

func (b *EventBuilder) WithAction(action string) *EventBuilder {
	b.event.Action = action
	return b
}

func (b *EventBuilder) WithBefore(r *rules.FilterRule) *EventBuilder {
	b.event.BeforeState = RuleState(r)
	return b
}

func (b *EventBuilder) WithAfter(r *rules.FilterRule) *EventBuilder {
	b.event.AfterState = RuleState(r)
	return b
}

// Failure marks the event as failed and sets an error message.
func (b *EventBuilder) Failure(errorMsg string) *EventBuilder {
	b.event.Status = StatusFailure
	b.event.ErrorMessage = errorMsg
	return b
}

func (b *EventBuilder) Build() Event {
	return b.event
}
