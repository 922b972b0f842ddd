package audit

import (
	"context"

	"github.com/codetutor/tutorgate/internal/ctxkey"
)

// Meta is request metadata copied onto events recorded below the HTTP layer.
type Meta struct {
	RequestID string
	RemoteIP  string
}

// WithMeta returns a context carrying m.
func WithMeta(ctx context.Context, m Meta) context.Context {
	return context.WithValue(ctx, ctxkey.RequestMetaKey{}, m)
}

// MetaFromContext returns the Meta stored in ctx, or the zero value.
func MetaFromContext(ctx context.Context) Meta {
	m, _ := ctx.Value(ctxkey.RequestMetaKey{}).(Meta)
	return m
}

// NewEvent builds an event stamped with the request metadata in ctx.
func NewEvent(ctx context.Context, typ EventType, outcome, userID string) Event {
	m := MetaFromContext(ctx)
	return Event{
		Type:      typ,
		Outcome:   outcome,
		UserID:    userID,
		RequestID: m.RequestID,
		RemoteIP:  m.RemoteIP,
	}
}

// With returns a copy of e with detail k=v added.
func (e Event) With(k, v string) Event {
	d := make(map[string]string, len(e.Detail)+1)
	for dk, dv := range e.Detail {
		d[dk] = dv
	}
	d[k] = v
	e.Detail = d
	return e
}
