package middleware

import (
	"context"

	"github.com/google/uuid"

	internalorders "github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

type identityKey struct{}

// identity is what Auth learned about the caller. Fields are set
// independently so tests can seed only what a handler reads.
type identity struct {
	userID string
	role   enums.ActorRole
}

func identityFrom(ctx context.Context) identity {
	if ctx == nil {
		return identity{}
	}
	id, _ := ctx.Value(identityKey{}).(identity)
	return id
}

func withIdentity(ctx context.Context, mutate func(*identity)) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	id := identityFrom(ctx)
	mutate(&id)
	return context.WithValue(ctx, identityKey{}, id)
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return withIdentity(ctx, func(id *identity) { id.userID = userID })
}

func WithRole(ctx context.Context, role enums.ActorRole) context.Context {
	return withIdentity(ctx, func(id *identity) { id.role = role })
}

func UserIDFromContext(ctx context.Context) string { return identityFrom(ctx).userID }

func RoleFromContext(ctx context.Context) enums.ActorRole { return identityFrom(ctx).role }

// ActorFromContext rebuilds the authenticated caller seeded by Auth.
func ActorFromContext(ctx context.Context) (internalorders.Actor, error) {
	id := identityFrom(ctx)
	userID, err := uuid.Parse(id.userID)
	if err != nil {
		return internalorders.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !id.role.IsValid() {
		return internalorders.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor role missing")
	}
	return internalorders.Actor{ID: userID, Role: id.role}, nil
}
