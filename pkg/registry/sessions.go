package registry

import (
	"context"

	"github.com/remora-db/remora/pkg/driver"
)

// Session bindings are context values keyed per alias. Storing them in the
// context (rather than in the registry or a package global) is what keeps
// concurrent transactions on separate goroutines from corrupting each
// other's binding: each unit of work carries its own.
type sessionKey struct{ alias string }

// WithSession returns a context carrying sess as the bound session for
// alias. Passing a nil session clears the binding in the derived context.
func WithSession(ctx context.Context, alias string, sess driver.Session) context.Context {
	if alias == "" {
		alias = DefaultAlias
	}
	return context.WithValue(ctx, sessionKey{alias: alias}, sess)
}

// CurrentSession returns the session bound to alias in ctx, or nil when the
// context is outside any transaction scope for that alias.
func CurrentSession(ctx context.Context, alias string) driver.Session {
	if alias == "" {
		alias = DefaultAlias
	}
	sess, _ := ctx.Value(sessionKey{alias: alias}).(driver.Session)
	return sess
}
