package security

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/threadflow/internal/model"
)

// UserProvisioner is the part of the conversation store the IdentityResolver needs.
type UserProvisioner interface {
	UpsertUser(ctx context.Context, profile model.UserProfile) (*model.User, error)
}

// IdentityResolver maps an Authorization header to a canonical user,
// provisioning the user on first sight and refreshing profile claims.
type IdentityResolver struct {
	tokens *TokenResolver
	users  UserProvisioner
}

func NewIdentityResolver(tokens *TokenResolver, users UserProvisioner) *IdentityResolver {
	return &IdentityResolver{tokens: tokens, users: users}
}

// Resolve returns the user behind the header. Credential failures wrap
// ErrUnauthenticated; store failures do not.
func (r *IdentityResolver) Resolve(ctx context.Context, authorization string) (*model.User, error) {
	token, err := BearerToken(authorization)
	if err != nil {
		return nil, err
	}
	profile, err := r.tokens.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	user, err := r.users.UpsertUser(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("provision user %s: %w", profile.Subject, err)
	}
	log.Debug("Resolved identity", "user", user.ID)
	return user, nil
}
