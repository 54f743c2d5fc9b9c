// Package sidebar resolves the selectable counterparts for a session.
// Students see their matched tutors; tutors see their existing conversations.
package sidebar

import (
	"context"
	"fmt"
	"log"

	"tutorchat/pkg/interfaces"
	"tutorchat/pkg/types"
)

// Resolver builds the role-partitioned sidebar
type Resolver struct {
	matches       interfaces.MatchSource
	conversations interfaces.ConversationSource
}

// NewResolver creates a sidebar resolver over the match and conversation endpoints
func NewResolver(matches interfaces.MatchSource, conversations interfaces.ConversationSource) *Resolver {
	return &Resolver{matches: matches, conversations: conversations}
}

// Resolve returns items of exactly one variant, in server order
func (r *Resolver) Resolve(ctx context.Context, identity types.Identity) ([]types.SidebarItem, error) {
	switch identity.Role {
	case types.RoleStudent:
		matches, err := r.resolveMatches(ctx)
		if err != nil {
			return nil, err
		}
		items := make([]types.SidebarItem, len(matches))
		for i, m := range matches {
			items[i] = m
		}
		return items, nil

	case types.RoleTutor:
		refs, err := r.conversations.ListConversations(ctx)
		if err != nil {
			return nil, fmt.Errorf("list conversations: %w", err)
		}
		items := make([]types.SidebarItem, len(refs))
		for i, ref := range refs {
			items[i] = ref
		}
		return items, nil

	default:
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidRole, identity.Role)
	}
}

// resolveMatches loads the saved match set and overlays freshly computed scores.
// A failed refresh keeps the saved scores; an empty set is never refreshed.
func (r *Resolver) resolveMatches(ctx context.Context) ([]types.Match, error) {
	saved, err := r.matches.ListMatches(ctx)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	if len(saved) == 0 {
		return saved, nil
	}

	scores, err := r.matches.RefreshMatches(ctx)
	if err != nil {
		log.Printf("Match refresh failed, keeping saved scores: %v", err)
		return saved, nil
	}

	return OverlayScores(saved, scores), nil
}

// OverlayScores replaces SimilarityScore by tutor id. Scores for tutors not in
// saved are ignored and order is preserved. saved is not modified.
func OverlayScores(saved []types.Match, scores []types.MatchScore) []types.Match {
	byTutor := make(map[int64]float64, len(scores))
	for _, s := range scores {
		byTutor[s.TutorID] = s.SimilarityScore
	}

	out := make([]types.Match, len(saved))
	for i, m := range saved {
		if score, ok := byTutor[m.TutorID]; ok {
			m.SimilarityScore = score
		}
		out[i] = m
	}
	return out
}

// Find returns the item whose counterpart is userID
func Find(items []types.SidebarItem, userID int64) (types.SidebarItem, bool) {
	for _, item := range items {
		if item.CounterpartID() == userID {
			return item, true
		}
	}
	return nil, false
}
