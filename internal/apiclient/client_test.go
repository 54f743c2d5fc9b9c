package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"tutorchat/pkg/interfaces"
	"tutorchat/pkg/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(server.URL+"/", "tok-1", 5*time.Second)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_MeSendsBearerToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/me" || r.Method != http.MethodGet {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Expected bearer token, got %q", got)
		}
		writeJSON(w, types.UserMe{ID: 4, IsStudent: true})
	})

	me, err := client.Me(context.Background())
	if err != nil {
		t.Fatalf("Me failed: %v", err)
	}
	if me.ID != 4 || !me.IsStudent {
		t.Errorf("Unexpected user %+v", me)
	}
}

func TestClient_SetTokenAppliesToNextRequest(t *testing.T) {
	var seen atomic.Value
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Get("Authorization"))
		writeJSON(w, []types.Match{})
	})

	client.SetToken("rotated")
	if _, err := client.ListMatches(context.Background()); err != nil {
		t.Fatalf("ListMatches failed: %v", err)
	}
	if seen.Load() != "Bearer rotated" {
		t.Errorf("Expected rotated token, got %v", seen.Load())
	}

	client.SetToken("")
	_, _ = client.ListMatches(context.Background())
	if seen.Load() != "" {
		t.Errorf("Empty token should send no Authorization header, got %v", seen.Load())
	}
}

func TestClient_StatusErrorMapping(t *testing.T) {
	tests := []struct {
		code   int
		body   string
		target error
		detail string
	}{
		{http.StatusUnauthorized, `{"detail":"Could not validate credentials"}`, interfaces.ErrUnauthorized, "Could not validate credentials"},
		{http.StatusForbidden, `{"message":"nope"}`, interfaces.ErrUnauthorized, "nope"},
		{http.StatusNotFound, `{"detail":"Conversation not found"}`, interfaces.ErrNotFound, "Conversation not found"},
		{http.StatusBadRequest, `plain text`, nil, "plain text"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := client.OpenConversation(context.Background(), 9)
			var statusErr *StatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("Expected StatusError, got %v", err)
			}
			if statusErr.Code != tt.code || statusErr.Detail != tt.detail {
				t.Errorf("Unexpected status error %+v", statusErr)
			}
			if tt.target != nil && !errors.Is(err, tt.target) {
				t.Errorf("Expected errors.Is(%v), got %v", tt.target, err)
			}
		})
	}
}

func TestClient_OnUnauthorizedHook(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	var calls int32
	client.OnUnauthorized(func() { atomic.AddInt32(&calls, 1) })

	_, _ = client.Me(context.Background())
	_, _ = client.ListNotifications(context.Background(), 50)
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("Expected hook to run twice, ran %d", got)
	}
}

func TestClient_ConversationAndMessages(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/messages/conversations":
			var req types.CreateConversationRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.OtherUserID != 9 {
				t.Errorf("Expected other_user_id 9, got %d", req.OtherUserID)
			}
			writeJSON(w, types.Conversation{ID: 3, User1ID: 4, User2ID: 9})
		case r.Method == http.MethodGet && r.URL.Path == "/messages/conversations/3/messages":
			if r.URL.Query().Get("skip") != "100" || r.URL.Query().Get("limit") != "50" {
				t.Errorf("Unexpected paging %s", r.URL.RawQuery)
			}
			writeJSON(w, []types.Message{{ID: 1}, {ID: 2}})
		case r.Method == http.MethodPost && r.URL.Path == "/messages/conversations/3/messages":
			var req types.SendMessageRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			writeJSON(w, types.Message{ID: 10, ConversationID: 3, SenderID: 4, Content: req.Content})
		default:
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	ctx := context.Background()
	conv, err := client.OpenConversation(ctx, 9)
	if err != nil || conv.ID != 3 {
		t.Fatalf("OpenConversation = %+v, %v", conv, err)
	}

	page, err := client.ListMessages(ctx, 3, 100, 50)
	if err != nil || len(page) != 2 {
		t.Fatalf("ListMessages = %v, %v", page, err)
	}

	msg, err := client.SendMessage(ctx, 3, "hi")
	if err != nil || msg.ID != 10 || msg.Content != "hi" {
		t.Fatalf("SendMessage = %+v, %v", msg, err)
	}

	if _, err := client.SendMessage(ctx, 0, "hi"); !errors.Is(err, ErrInvalidID) {
		t.Errorf("Expected ErrInvalidID, got %v", err)
	}
}

func TestClient_UploadAttachmentMultipart(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages/conversations/3/messages/attachment" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm failed: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if got := r.FormValue("content"); got != "see attached" {
			t.Errorf("Expected content field, got %q", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile failed: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "notes.pdf" || string(data) != "%PDF-1.4" {
			t.Errorf("Unexpected file %s %q", header.Filename, data)
		}
		if ct := header.Header.Get("Content-Type"); ct != "application/pdf" {
			t.Errorf("Expected application/pdf part, got %s", ct)
		}
		writeJSON(w, types.Message{ID: 11, Attachment: &types.Attachment{ID: 5, FileName: header.Filename}})
	})

	msg, err := client.UploadAttachment(context.Background(), 3, "see attached", types.FileUpload{
		FileName: "notes.pdf",
		MimeType: "application/pdf",
		Body:     strings.NewReader("%PDF-1.4"),
	})
	if err != nil {
		t.Fatalf("UploadAttachment failed: %v", err)
	}
	if msg.Attachment == nil || msg.Attachment.ID != 5 {
		t.Errorf("Unexpected message %+v", msg)
	}
}

func TestClient_UploadAttachmentServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusRequestEntityTooLarge)
	})

	_, err := client.UploadAttachment(context.Background(), 3, "", types.FileUpload{
		FileName: "big.pdf",
		MimeType: "application/pdf",
		Body:     strings.NewReader(strings.Repeat("x", 1<<16)),
	})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("Expected 413 StatusError, got %v", err)
	}
}

func TestClient_AttachmentDownloadURL(t *testing.T) {
	client := New("http://api.example.com/", "a&b", time.Second)

	got, err := client.AttachmentDownloadURL(12)
	if err != nil {
		t.Fatalf("AttachmentDownloadURL failed: %v", err)
	}
	if want := "http://api.example.com/messages/attachments/12/download?token=a%26b"; got != want {
		t.Errorf("AttachmentDownloadURL = %q, want %q", got, want)
	}

	client.SetToken("")
	if _, err := client.AttachmentDownloadURL(12); !errors.Is(err, ErrNoCredential) {
		t.Errorf("Expected ErrNoCredential, got %v", err)
	}
}

func TestClient_AvailabilityAndNotifications(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/availability/users/9":
			writeJSON(w, []types.AvailabilitySlot{{ID: 1, UserID: 9, DayOfWeek: 0, StartTime: "09:00", EndTime: "10:00"}})
		case "/notifications/me":
			if r.URL.Query().Get("limit") != "25" {
				t.Errorf("Expected limit 25, got %s", r.URL.RawQuery)
			}
			writeJSON(w, []types.Notification{{ID: 1}, {ID: 2, IsRead: true}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	slots, err := client.ListAvailability(context.Background(), 9)
	if err != nil || len(slots) != 1 || slots[0].StartTime != "09:00" {
		t.Fatalf("ListAvailability = %v, %v", slots, err)
	}

	notes, err := client.ListNotifications(context.Background(), 25)
	if err != nil || len(notes) != 2 {
		t.Fatalf("ListNotifications = %v, %v", notes, err)
	}
}
