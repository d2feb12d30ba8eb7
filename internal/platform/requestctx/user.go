// Package requestctx carries the authenticated request identity through
// context, from token verification at the transport edge down to session
// operations.
package requestctx

import "context"

type userContextKey struct{}

// User is the authenticated identity attached to a request.
type User struct {
	ID   string
	Name string
}

// WithUser stores the authenticated identity in context.
func WithUser(ctx context.Context, user User) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext returns the identity stored in context, if any.
func UserFromContext(ctx context.Context) (User, bool) {
	if ctx == nil {
		return User{}, false
	}
	user, ok := ctx.Value(userContextKey{}).(User)
	return user, ok && user.ID != ""
}

// WithUserID stores a bare user identifier in context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return WithUser(ctx, User{ID: userID})
}

// UserIDFromContext returns the user identifier stored in context.
func UserIDFromContext(ctx context.Context) string {
	user, _ := UserFromContext(ctx)
	return user.ID
}
