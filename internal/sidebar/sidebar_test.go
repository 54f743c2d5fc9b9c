package sidebar

import (
	"context"
	"errors"
	"testing"

	"tutorchat/pkg/types"
)

type stubBackend struct {
	matches      []types.Match
	matchesErr   error
	scores       []types.MatchScore
	refreshErr   error
	refreshCalls int
	refs         []types.ConversationRef
	refsErr      error
}

func (s *stubBackend) ListMatches(ctx context.Context) ([]types.Match, error) {
	return s.matches, s.matchesErr
}

func (s *stubBackend) RefreshMatches(ctx context.Context) ([]types.MatchScore, error) {
	s.refreshCalls++
	return s.scores, s.refreshErr
}

func (s *stubBackend) ListConversations(ctx context.Context) ([]types.ConversationRef, error) {
	return s.refs, s.refsErr
}

func (s *stubBackend) OpenConversation(ctx context.Context, otherUserID int64) (*types.Conversation, error) {
	return nil, errors.New("not used")
}

var (
	student = types.Identity{UserID: 1, Role: types.RoleStudent}
	tutor   = types.Identity{UserID: 2, Role: types.RoleTutor}
)

func TestResolve_StudentOverlaysScores(t *testing.T) {
	backend := &stubBackend{
		matches: []types.Match{
			{TutorID: 10, TutorFirstName: "Ada", SimilarityScore: 0.1},
			{TutorID: 11, TutorFirstName: "Bo", SimilarityScore: 0.2},
		},
		scores: []types.MatchScore{{TutorID: 11, SimilarityScore: 0.9}, {TutorID: 99, SimilarityScore: 1}},
	}

	items, err := NewResolver(backend, backend).Resolve(context.Background(), student)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items (no fabricated tutor 99), got %d", len(items))
	}

	first, ok := items[0].(types.Match)
	if !ok || first.TutorID != 10 || first.SimilarityScore != 0.1 {
		t.Errorf("Unexpected first item %+v", items[0])
	}
	second := items[1].(types.Match)
	if second.TutorID != 11 || second.SimilarityScore != 0.9 {
		t.Errorf("Expected refreshed score on tutor 11, got %+v", second)
	}
	if backend.matches[1].SimilarityScore != 0.2 {
		t.Error("Overlay must not modify the saved slice")
	}
}

func TestResolve_StudentRefreshFailureKeepsSaved(t *testing.T) {
	backend := &stubBackend{
		matches:    []types.Match{{TutorID: 10, SimilarityScore: 0.4}},
		refreshErr: errors.New("boom"),
	}

	items, err := NewResolver(backend, backend).Resolve(context.Background(), student)
	if err != nil {
		t.Fatalf("Refresh failure must not fail Resolve: %v", err)
	}
	if len(items) != 1 || items[0].(types.Match).SimilarityScore != 0.4 {
		t.Errorf("Expected saved match, got %+v", items)
	}
}

func TestResolve_StudentEmptySkipsRefresh(t *testing.T) {
	backend := &stubBackend{}

	items, err := NewResolver(backend, backend).Resolve(context.Background(), student)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("Expected empty sidebar, got %d items", len(items))
	}
	if backend.refreshCalls != 0 {
		t.Errorf("Refresh must be skipped for an empty match set, called %d times", backend.refreshCalls)
	}
}

func TestResolve_StudentListFailure(t *testing.T) {
	backend := &stubBackend{matchesErr: errors.New("down")}
	if _, err := NewResolver(backend, backend).Resolve(context.Background(), student); err == nil {
		t.Error("Expected error when the saved match set cannot be read")
	}
}

func TestResolve_TutorConversations(t *testing.T) {
	backend := &stubBackend{
		refs:    []types.ConversationRef{{ConversationID: 5, OtherUserID: 1}, {ConversationID: 3, OtherUserID: 4}},
		matches: []types.Match{{TutorID: 10}},
	}

	items, err := NewResolver(backend, backend).Resolve(context.Background(), tutor)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	for _, item := range items {
		if _, ok := item.(types.ConversationRef); !ok {
			t.Errorf("Tutor sidebar must contain only conversation refs, got %T", item)
		}
	}
	if items[0].Key() != "conversation:5" {
		t.Errorf("Server order must be preserved, got %s first", items[0].Key())
	}
	if backend.refreshCalls != 0 {
		t.Error("Tutor resolve must not touch matches")
	}
}

func TestResolve_InvalidRole(t *testing.T) {
	backend := &stubBackend{}
	_, err := NewResolver(backend, backend).Resolve(context.Background(), types.Identity{UserID: 1, Role: "admin"})
	if !errors.Is(err, types.ErrInvalidRole) {
		t.Errorf("Expected ErrInvalidRole, got %v", err)
	}
}

func TestFind(t *testing.T) {
	items := []types.SidebarItem{types.Match{TutorID: 10}, types.Match{TutorID: 11}}
	if item, ok := Find(items, 11); !ok || item.CounterpartID() != 11 {
		t.Errorf("Find(11) = %v, %v", item, ok)
	}
	if _, ok := Find(items, 12); ok {
		t.Error("Find should miss unknown counterparts")
	}
}
