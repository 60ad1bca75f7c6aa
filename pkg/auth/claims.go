package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// AccessTokenPayload is what the identity service puts in a token.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Role   enums.ActorRole
	JTI    string
}

// AccessTokenClaims carries the user id in the standard "sub" claim.
// UserID is filled from it by ParseAccessToken.
type AccessTokenClaims struct {
	Role   enums.ActorRole `json:"role"`
	UserID uuid.UUID       `json:"-"`
	jwt.RegisteredClaims
}

func (c *AccessTokenClaims) IsAdmin() bool {
	return c != nil && c.Role == enums.ActorRoleAdmin
}
