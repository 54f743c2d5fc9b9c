// Package identity loads the signed-in user's id and role once per session.
package identity

import (
	"context"
	"fmt"

	"tutorchat/pkg/interfaces"
	"tutorchat/pkg/types"
)

// Resolver reads GET /users/me
type Resolver struct {
	source interfaces.IdentitySource
}

func NewResolver(source interfaces.IdentitySource) *Resolver {
	return &Resolver{source: source}
}

// Resolve returns the session identity. Callers hold on to the result; it is
// not re-read when the credential changes.
func (r *Resolver) Resolve(ctx context.Context) (types.Identity, error) {
	me, err := r.source.Me(ctx)
	if err != nil {
		return types.Identity{}, fmt.Errorf("resolve identity: %w", err)
	}

	identity := me.Identity()
	if err := identity.Validate(); err != nil {
		return types.Identity{}, fmt.Errorf("resolve identity: %w", err)
	}
	return identity, nil
}
