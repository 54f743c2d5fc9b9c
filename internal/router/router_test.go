package router

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"tutorchat/internal/database"
	dbconfig "tutorchat/pkg/database"
	"tutorchat/pkg/interfaces"
	"tutorchat/pkg/types"
)

type recordingPublisher struct {
	mu        sync.Mutex
	published []*types.Message
	err       error
}

func (p *recordingPublisher) Publish(message *types.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, message)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

type fixture struct {
	db           *database.Manager
	publisher    *recordingPublisher
	router       *Router
	student      *types.UserMe
	tutor        *types.UserMe
	outsider     *types.UserMe
	conversation *types.Conversation
}

func setup(t *testing.T, perMinute int) *fixture {
	t.Helper()
	config := dbconfig.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "router.db")

	db, err := database.NewManager(config)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	ctx := context.Background()
	f := &fixture{db: db, publisher: &recordingPublisher{}}
	f.student, _ = db.CreateUser(ctx, "Sam", "Student", true)
	f.tutor, _ = db.CreateUser(ctx, "Ada", "Lovelace", false)
	f.outsider, _ = db.CreateUser(ctx, "Eve", "", true)
	f.conversation, err = db.GetOrCreateConversation(ctx, f.student.ID, f.tutor.ID)
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}
	f.router = NewRouter(db, f.publisher, NewRateLimiter(perMinute))
	return f
}

func TestRouter_InterfaceCompliance(t *testing.T) {
	var _ interfaces.MessageRouter = &Router{}
}

func TestRouteMessage_PersistsThenPublishes(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()

	message := &types.Message{ID: 999, ConversationID: f.conversation.ID, SenderID: f.student.ID, Content: "  hello  "}
	if err := f.router.RouteMessage(ctx, message); err != nil {
		t.Fatalf("RouteMessage failed: %v", err)
	}

	if message.ID == 999 || message.ID <= 0 {
		t.Errorf("Expected a server-assigned id, got %d", message.ID)
	}
	if message.Content != "hello" {
		t.Errorf("Expected trimmed content, got %q", message.Content)
	}
	if f.publisher.count() != 1 || f.publisher.published[0].ID != message.ID {
		t.Errorf("Expected the stored message to be published once")
	}

	stored, err := f.db.ListMessages(ctx, f.conversation.ID, 0, 10)
	if err != nil || len(stored) != 1 || stored[0].ID != message.ID {
		t.Fatalf("ListMessages = %v, %v", stored, err)
	}

	notes, err := f.db.ListNotifications(ctx, f.tutor.ID, 10)
	if err != nil || len(notes) != 1 {
		t.Fatalf("Expected one notification for the counterpart, got %v, %v", notes, err)
	}
	if notes[0].EventType != "message" || notes[0].Body != "hello" || notes[0].IsRead {
		t.Errorf("Unexpected notification %+v", notes[0])
	}
	if own, _ := f.db.ListNotifications(ctx, f.student.ID, 10); len(own) != 0 {
		t.Errorf("Sender should not be notified, got %v", own)
	}
}

func TestRouteMessage_Validation(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()

	tests := []struct {
		name    string
		message *types.Message
		want    error
	}{
		{"empty", &types.Message{ConversationID: f.conversation.ID, SenderID: f.student.ID, Content: " \n "}, types.ErrEmptyContent},
		{"too large", &types.Message{ConversationID: f.conversation.ID, SenderID: f.student.ID, Content: strings.Repeat("x", types.MaxContentBytes+1)}, types.ErrContentTooLarge},
		{"no sender", &types.Message{ConversationID: f.conversation.ID, Content: "hi"}, ErrInvalidMessage},
		{"outsider", &types.Message{ConversationID: f.conversation.ID, SenderID: f.outsider.ID, Content: "hi"}, ErrSenderNotParticipant},
		{"unknown conversation", &types.Message{ConversationID: 404, SenderID: f.student.ID, Content: "hi"}, ErrSenderNotParticipant},
		{"attachment on text path", &types.Message{ConversationID: f.conversation.ID, SenderID: f.student.ID, Content: "hi", Attachment: &types.Attachment{}}, ErrUnexpectedAttachment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := f.router.RouteMessage(ctx, tt.message); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}

	if f.publisher.count() != 0 {
		t.Errorf("Rejected messages must not be published")
	}
	if stored, _ := f.db.ListMessages(ctx, f.conversation.ID, 0, 10); len(stored) != 0 {
		t.Errorf("Rejected messages must not be stored, got %v", stored)
	}
}

func TestRouteAttachment_AllowsEmptyCaption(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()

	message := &types.Message{
		ConversationID: f.conversation.ID,
		SenderID:       f.tutor.ID,
		Attachment:     &types.Attachment{FileName: "notes.pdf", MimeType: "application/pdf", SizeBytes: 8},
	}
	if err := f.router.RouteAttachment(ctx, message, "key-1"); err != nil {
		t.Fatalf("RouteAttachment failed: %v", err)
	}
	if message.Attachment.ID <= 0 || message.Attachment.MessageID != message.ID {
		t.Errorf("Expected attachment ids to be assigned, got %+v", message.Attachment)
	}

	notes, _ := f.db.ListNotifications(ctx, f.student.ID, 10)
	if len(notes) != 1 || notes[0].Body != "notes.pdf" {
		t.Errorf("Expected file name as notification body, got %v", notes)
	}

	if err := f.router.RouteAttachment(ctx, &types.Message{ConversationID: f.conversation.ID, SenderID: f.tutor.ID}, "key-2"); !errors.Is(err, ErrMissingAttachment) {
		t.Errorf("Expected ErrMissingAttachment, got %v", err)
	}
}

func TestRouteMessage_PublishFailureStillPersists(t *testing.T) {
	f := setup(t, 0)
	f.publisher.err = errors.New("queue full")
	ctx := context.Background()

	message := &types.Message{ConversationID: f.conversation.ID, SenderID: f.student.ID, Content: "hi"}
	if err := f.router.RouteMessage(ctx, message); err != nil {
		t.Fatalf("Publish failure should not fail the send: %v", err)
	}
	if stored, _ := f.db.ListMessages(ctx, f.conversation.ID, 0, 10); len(stored) != 1 {
		t.Errorf("Expected the message to be stored, got %v", stored)
	}
}

func TestRouteMessage_NilPublisher(t *testing.T) {
	f := setup(t, 0)
	router := NewRouter(f.db, nil, nil)

	message := &types.Message{ConversationID: f.conversation.ID, SenderID: f.student.ID, Content: "hi"}
	if err := router.RouteMessage(context.Background(), message); err != nil {
		t.Fatalf("RouteMessage failed: %v", err)
	}
}

func TestRouteMessage_RateLimited(t *testing.T) {
	f := setup(t, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		message := &types.Message{ConversationID: f.conversation.ID, SenderID: f.student.ID, Content: "hi"}
		if err := f.router.RouteMessage(ctx, message); err != nil {
			t.Fatalf("Message %d failed: %v", i, err)
		}
	}

	message := &types.Message{ConversationID: f.conversation.ID, SenderID: f.student.ID, Content: "hi"}
	if err := f.router.RouteMessage(ctx, message); !errors.Is(err, ErrRateLimitExceeded) {
		t.Errorf("Expected ErrRateLimitExceeded, got %v", err)
	}

	other := &types.Message{ConversationID: f.conversation.ID, SenderID: f.tutor.ID, Content: "hi"}
	if err := f.router.RouteMessage(ctx, other); err != nil {
		t.Errorf("Limits are per sender, got %v", err)
	}
}

func TestRateLimiter_WindowAndCleanup(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1)
	rl.now = func() time.Time { return now }

	if !rl.Allow(1) {
		t.Fatal("First message should pass")
	}
	if rl.Allow(1) {
		t.Fatal("Second message in the window should be limited")
	}

	now = now.Add(time.Minute)
	if !rl.Allow(1) {
		t.Fatal("New window should reset the budget")
	}

	rl.Allow(2)
	now = now.Add(6 * time.Minute)
	rl.Cleanup()
	if rl.tracked() != 0 {
		t.Errorf("Expected idle senders to be removed, %d remain", rl.tracked())
	}
}

func TestRateLimiter_RunCleanupStops(t *testing.T) {
	rl := NewRateLimiter(10)
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		rl.RunCleanup(time.Millisecond, stop)
		close(done)
	}()

	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunCleanup did not return after stop")
	}
}
