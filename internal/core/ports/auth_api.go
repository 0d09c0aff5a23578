package ports

import (
	"context"

	"github.com/99minutos/storefront-gateway/internal/core/domain"
)

// Credentials is the login payload sent to the remote API.
type Credentials struct {
	Identifier string
	Secret     string
	RememberMe bool
}

// LoginResult is the unwrapped login envelope.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	Principal    domain.Principal
}

// RefreshResult carries a renewed access token. RefreshToken is set only
// when the remote API rotates it.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
}

// AuthAPI is the remote API's authentication surface, per domain.
type AuthAPI interface {
	Login(ctx context.Context, d domain.Domain, c Credentials) (*LoginResult, error)
	Refresh(ctx context.Context, d domain.Domain, refreshToken string) (*RefreshResult, error)
	Logout(ctx context.Context, d domain.Domain, refreshToken string) error
}
