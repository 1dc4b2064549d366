package middleware

import "context"

type contextKey string

const identityKey contextKey = "identity"

type Role string

const (
	RoleVisitor Role = "visitor"
	RoleAdmin   Role = "admin"
)

// Identity is the authenticated caller, set by Authenticate.
type Identity struct {
	UserID int64
	Role   Role
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity returns the caller's identity; ok is false for anonymous requests.
func GetIdentity(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// CurrentAdminID returns the acting admin's id, or nil when the caller is not an admin.
func CurrentAdminID(ctx context.Context) *int64 {
	id, ok := GetIdentity(ctx)
	if !ok || id.Role != RoleAdmin {
		return nil
	}
	v := id.UserID
	return &v
}

// VisitorID returns the signed-in visitor's id, or nil.
func VisitorID(ctx context.Context) *int64 {
	id, ok := GetIdentity(ctx)
	if !ok || id.Role != RoleVisitor {
		return nil
	}
	v := id.UserID
	return &v
}
