package sessionx

import (
	"context"

	"github.com/isabella232/pg-db-session/pkg/errorx"
)

type sessionCtxKey struct{}

// WithSession - bind a Session to the context so every descendant of the
// call chain resolves it through FromContext.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, s)
}

// FromContext - the innermost Session bound to the context, if any.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionCtxKey{}).(*Session)
	return s, ok
}

// Bind - run fn with the session bound to its context.
func Bind(ctx context.Context, s *Session, fn Func) error {
	return fn(WithSession(ctx, s))
}

// GetConnection - acquire a connection from the session bound to the calling
// context. Inside a transaction or atomic scope this resolves to the
// innermost subsession, so the request serializes onto that scope's single
// connection.
func GetConnection(ctx context.Context) (*ConnPair, error) {
	s, ok := FromContext(ctx)
	if !ok {
		return nil, errorx.ErrNoSession
	}

	return s.GetConnection(ctx)
}
