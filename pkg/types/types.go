package types

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Role is the signed-in user's side of the marketplace
type Role string

const (
	RoleStudent Role = "student"
	RoleTutor   Role = "tutor"
)

// Identity is loaded once per session from GET /users/me and never mutated afterwards
type Identity struct {
	UserID int64 `json:"user_id"`
	Role   Role  `json:"role"`
}

// IsStudent reports whether the identity resolves to the student sidebar
func (i Identity) IsStudent() bool {
	return i.Role == RoleStudent
}

// UserMe is the wire shape of GET /users/me
type UserMe struct {
	ID        int64  `json:"id"`
	IsStudent bool   `json:"is_student"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// Identity converts the wire shape into the session identity
func (u UserMe) Identity() Identity {
	role := RoleTutor
	if u.IsStudent {
		role = RoleStudent
	}
	return Identity{UserID: u.ID, Role: role}
}

// SidebarItem is a selectable counterpart entry. Only Match and ConversationRef
// implement it; a resolved sidebar never mixes the two.
type SidebarItem interface {
	// Key is stable for the life of the entry and unique within one sidebar
	Key() string
	// CounterpartID is the other user's id
	CounterpartID() int64
	// Title is the text rendered in the sidebar row
	Title() string

	sidebarItem()
}

// Match is a matched-tutor candidate shown to students
type Match struct {
	TutorID         int64   `json:"tutor_id"`
	TutorFirstName  string  `json:"tutor_first_name"`
	TutorLastName   string  `json:"tutor_last_name"`
	SimilarityScore float64 `json:"similarity_score"`
}

func (m Match) Key() string          { return "match:" + strconv.FormatInt(m.TutorID, 10) }
func (m Match) CounterpartID() int64 { return m.TutorID }
func (m Match) Title() string {
	return strings.TrimSpace(m.TutorFirstName + " " + m.TutorLastName)
}
func (Match) sidebarItem() {}

// MatchScore is one row of POST /matches/me/refresh
type MatchScore struct {
	TutorID         int64   `json:"tutor_id"`
	SimilarityScore float64 `json:"similarity_score"`
}

// ConversationRef is an existing conversation shown to tutors
type ConversationRef struct {
	ConversationID int64    `json:"id"`
	User1ID        int64    `json:"user1_id,omitempty"`
	User2ID        int64    `json:"user2_id,omitempty"`
	OtherUserID    int64    `json:"other_user_id"`
	OtherFirstName *string  `json:"other_user_first_name,omitempty"`
	OtherLastName  *string  `json:"other_user_last_name,omitempty"`
	LastMessage    *Message `json:"last_message,omitempty"`
}

func (c ConversationRef) Key() string          { return "conversation:" + strconv.FormatInt(c.ConversationID, 10) }
func (c ConversationRef) CounterpartID() int64 { return c.OtherUserID }
func (c ConversationRef) Title() string        { return c.DisplayName() }
func (ConversationRef) sidebarItem()           {}

// DisplayName joins the counterpart's names, falling back to "User <id>"
// when the server does not know them
func (c ConversationRef) DisplayName() string {
	var parts []string
	if c.OtherFirstName != nil && strings.TrimSpace(*c.OtherFirstName) != "" {
		parts = append(parts, strings.TrimSpace(*c.OtherFirstName))
	}
	if c.OtherLastName != nil && strings.TrimSpace(*c.OtherLastName) != "" {
		parts = append(parts, strings.TrimSpace(*c.OtherLastName))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("User %d", c.OtherUserID)
	}
	return strings.Join(parts, " ")
}

// Conversation is a persistent pairing between two users.
// The server keeps user1_id < user2_id.
type Conversation struct {
	ID        int64     `json:"id"`
	User1ID   int64     `json:"user1_id"`
	User2ID   int64     `json:"user2_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Counterpart returns the participant that is not self
func (c Conversation) Counterpart(self int64) int64 {
	if c.User1ID == self {
		return c.User2ID
	}
	return c.User1ID
}

// HasParticipant reports whether userID is one of the pair
func (c Conversation) HasParticipant(userID int64) bool {
	return c.User1ID == userID || c.User2ID == userID
}

// Message is append-only. ID is the only ordering and deduplication key.
type Message struct {
	ID             int64       `json:"id"`
	ConversationID int64       `json:"conversation_id,omitempty"`
	SenderID       int64       `json:"sender_id"`
	Content        string      `json:"content"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Attachment always belongs to exactly one message
type Attachment struct {
	ID        int64     `json:"id"`
	MessageID int64     `json:"message_id"`
	FileName  string    `json:"file_name"`
	MimeType  string    `json:"mime_type"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// AvailabilitySlot is a half-open local time-of-day interval. DayOfWeek 0 is Monday.
type AvailabilitySlot struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"user_id"`
	DayOfWeek int    `json:"day_of_week"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// Notification is one row of GET /notifications/me
type Notification struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	EventType string    `json:"event_type"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// OutboundFrame is the only frame a client writes to the live channel
type OutboundFrame struct {
	Content string `json:"content"`
}

// ErrorFrame is pushed by the server instead of a Message when a frame is rejected
type ErrorFrame struct {
	Error string `json:"error"`
}

// CreateConversationRequest is the body of POST /messages/conversations
type CreateConversationRequest struct {
	OtherUserID int64 `json:"other_user_id"`
}

// SendMessageRequest is the body of POST /messages/conversations/{id}/messages
type SendMessageRequest struct {
	Content string `json:"content"`
}

// FileUpload is one file handed to the multipart attachment endpoint
type FileUpload struct {
	FileName string
	MimeType string
	Size     int64
	Body     io.Reader
}
