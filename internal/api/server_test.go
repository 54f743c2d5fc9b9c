package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"tutorchat/internal/database"
	"tutorchat/internal/router"
	"tutorchat/internal/websocket"
	dbconfig "tutorchat/pkg/database"
	"tutorchat/pkg/types"
)

type testEnv struct {
	server       *Server
	db           *database.Manager
	studentToken string
	tutorToken   string
	outsiderTok  string
	student      *types.UserMe
	tutor        *types.UserMe
}

func setupServer(t *testing.T) *testEnv {
	t.Helper()
	config := dbconfig.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "api.db")

	db, err := database.NewManager(config)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	ctx := context.Background()
	env := &testEnv{db: db}
	env.student, _ = db.CreateUser(ctx, "Sam", "Student", true)
	env.tutor, _ = db.CreateUser(ctx, "Ada", "Lovelace", false)
	outsider, _ := db.CreateUser(ctx, "Eve", "", true)
	env.studentToken, _ = db.IssueToken(ctx, env.student.ID)
	env.tutorToken, _ = db.IssueToken(ctx, env.tutor.ID)
	env.outsiderTok, _ = db.IssueToken(ctx, outsider.ID)

	env.server = NewServer(db, router.NewRouter(db, nil, nil), websocket.NewRegistry(), nil, Settings{
		StorageDir:     filepath.Join(t.TempDir(), "attachments"),
		MaxUploadBytes: 64,
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode %q: %v", w.Body.String(), err)
	}
	return out
}

func (e *testEnv) openConversation(t *testing.T) types.Conversation {
	t.Helper()
	w := e.do(t, http.MethodPost, "/messages/conversations", e.studentToken, types.CreateConversationRequest{OtherUserID: e.tutor.ID})
	if w.Code != http.StatusOK {
		t.Fatalf("Create conversation status %d: %s", w.Code, w.Body.String())
	}
	return decode[types.Conversation](t, w)
}

func TestServer_Authentication(t *testing.T) {
	env := setupServer(t)

	w := env.do(t, http.MethodGet, "/users/me", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/users/me", "bogus", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for unknown token, got %d", w.Code)
	}
	if resp := decode[ErrorResponse](t, w); resp.Detail != "Could not validate credentials" {
		t.Errorf("Unexpected detail %q", resp.Detail)
	}

	w = env.do(t, http.MethodGet, "/users/me", env.studentToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	me := decode[types.UserMe](t, w)
	if me.ID != env.student.ID || !me.IsStudent || me.FirstName != "Sam" {
		t.Errorf("Unexpected user %+v", me)
	}
}

func TestServer_Matches(t *testing.T) {
	env := setupServer(t)
	ctx := context.Background()
	_ = env.db.SaveMatch(ctx, env.student.ID, env.tutor.ID, 0.8)

	w := env.do(t, http.MethodGet, "/matches/me", env.studentToken, nil)
	matches := decode[[]types.Match](t, w)
	if len(matches) != 1 || matches[0].TutorID != env.tutor.ID || matches[0].TutorFirstName != "Ada" {
		t.Fatalf("Unexpected matches %+v", matches)
	}

	w = env.do(t, http.MethodPost, "/matches/me/refresh", env.studentToken, nil)
	scores := decode[[]types.MatchScore](t, w)
	if len(scores) != 1 || scores[0].SimilarityScore != 0.8 {
		t.Errorf("Unexpected scores %+v", scores)
	}

	if w := env.do(t, http.MethodGet, "/matches/me", env.tutorToken, nil); w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for tutor, got %d", w.Code)
	}
}

func TestServer_Conversations(t *testing.T) {
	env := setupServer(t)

	first := env.openConversation(t)
	if first.User1ID != env.student.ID || first.User2ID != env.tutor.ID {
		t.Errorf("Expected canonical pairing, got %+v", first)
	}

	w := env.do(t, http.MethodPost, "/messages/conversations", env.tutorToken, types.CreateConversationRequest{OtherUserID: env.student.ID})
	if again := decode[types.Conversation](t, w); again.ID != first.ID {
		t.Errorf("Expected create-or-get to return %d, got %d", first.ID, again.ID)
	}

	w = env.do(t, http.MethodPost, "/messages/conversations", env.studentToken, types.CreateConversationRequest{OtherUserID: env.student.ID})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 on self conversation, got %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/messages/conversations", env.studentToken, types.CreateConversationRequest{OtherUserID: 999})
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown user, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/messages/conversations", env.tutorToken, nil)
	refs := decode[[]types.ConversationRef](t, w)
	if len(refs) != 1 || refs[0].OtherUserID != env.student.ID || refs[0].DisplayName() != "Sam Student" {
		t.Errorf("Unexpected conversation refs %+v", refs)
	}

	path := "/messages/conversations/" + itoa(first.ID)
	if w := env.do(t, http.MethodGet, path, env.outsiderTok, nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for non-participant, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/messages/conversations/abc", env.studentToken, nil); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for a bad id, got %d", w.Code)
	}
}

func TestServer_MessagesAndPaging(t *testing.T) {
	env := setupServer(t)
	conv := env.openConversation(t)
	path := "/messages/conversations/" + itoa(conv.ID) + "/messages"

	for _, content := range []string{"one", "two", "three"} {
		w := env.do(t, http.MethodPost, path, env.studentToken, types.SendMessageRequest{Content: content})
		if w.Code != http.StatusOK {
			t.Fatalf("Send status %d: %s", w.Code, w.Body.String())
		}
		if msg := decode[types.Message](t, w); msg.ID <= 0 || msg.SenderID != env.student.ID {
			t.Errorf("Unexpected message %+v", msg)
		}
	}

	w := env.do(t, http.MethodGet, path+"?skip=1&limit=1", env.tutorToken, nil)
	page := decode[[]types.Message](t, w)
	if len(page) != 1 || page[0].Content != "two" {
		t.Errorf("Unexpected page %+v", page)
	}

	tests := []struct {
		name  string
		query string
		code  int
	}{
		{"default", "", http.StatusOK},
		{"negative skip", "?skip=-1", http.StatusUnprocessableEntity},
		{"zero limit", "?limit=0", http.StatusUnprocessableEntity},
		{"limit above cap", "?limit=101", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(t, http.MethodGet, path+tt.query, env.studentToken, nil); w.Code != tt.code {
				t.Errorf("Expected %d, got %d", tt.code, w.Code)
			}
		})
	}

	if w := env.do(t, http.MethodPost, path, env.studentToken, types.SendMessageRequest{Content: "   "}); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for blank content, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, path, env.outsiderTok, types.SendMessageRequest{Content: "hi"}); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for non-participant send, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, path, env.outsiderTok, nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for non-participant history, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/notifications/me?limit=2", env.tutorToken, nil)
	notes := decode[[]types.Notification](t, w)
	if len(notes) != 2 || notes[0].Body != "three" {
		t.Errorf("Expected newest notifications first, got %+v", notes)
	}
	if w := env.do(t, http.MethodGet, "/notifications/me?limit=201", env.tutorToken, nil); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 above the notification cap, got %d", w.Code)
	}
}

func multipartBody(t *testing.T, content, fileName, mimeType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	_ = writer.WriteField("content", content)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
	if mimeType != "" {
		header.Set("Content-Type", mimeType)
	}
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("CreatePart failed: %v", err)
	}
	_, _ = part.Write(data)
	_ = writer.Close()
	return body, writer.FormDataContentType()
}

func TestServer_AttachmentUploadAndDownload(t *testing.T) {
	env := setupServer(t)
	conv := env.openConversation(t)
	path := "/messages/conversations/" + itoa(conv.ID) + "/messages/attachment"

	body, contentType := multipartBody(t, "", "notes.pdf", "", []byte("%PDF-1.4"))
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Authorization", "Bearer "+env.studentToken)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	env.server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Upload status %d: %s", w.Code, w.Body.String())
	}
	msg := decode[types.Message](t, w)
	if msg.Attachment == nil || msg.Attachment.MimeType != DefaultAttachmentMime || msg.Attachment.SizeBytes != 8 {
		t.Fatalf("Unexpected attachment message %+v", msg)
	}

	download := "/messages/attachments/" + itoa(msg.Attachment.ID) + "/download?token=" + env.tutorToken
	w = env.do(t, http.MethodGet, download, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Download status %d: %s", w.Code, w.Body.String())
	}
	if w.Body.String() != "%PDF-1.4" {
		t.Errorf("Unexpected bytes %q", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("Expected application/pdf, got %s", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "notes.pdf") {
		t.Errorf("Expected file name in Content-Disposition, got %s", cd)
	}

	outsider := "/messages/attachments/" + itoa(msg.Attachment.ID) + "/download?token=" + env.outsiderTok
	if w := env.do(t, http.MethodGet, outsider, "", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for non-participant download, got %d", w.Code)
	}
}

func TestServer_AttachmentTooLarge(t *testing.T) {
	env := setupServer(t)
	conv := env.openConversation(t)
	path := "/messages/conversations/" + itoa(conv.ID) + "/messages/attachment"

	body, contentType := multipartBody(t, "big", "big.pdf", "application/pdf", bytes.Repeat([]byte("x"), 65))
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Authorization", "Bearer "+env.studentToken)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	env.server.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("Expected 413, got %d: %s", w.Code, w.Body.String())
	}
	if msgs, _ := env.db.ListMessages(context.Background(), conv.ID, 0, 10); len(msgs) != 0 {
		t.Errorf("Rejected upload must not create a message, got %v", msgs)
	}
}

func TestServer_Availability(t *testing.T) {
	env := setupServer(t)

	slot := types.AvailabilitySlot{DayOfWeek: 2, StartTime: "09:00", EndTime: "10:30"}
	if w := env.do(t, http.MethodPost, "/availability/me", env.studentToken, slot); w.Code != http.StatusCreated {
		t.Fatalf("Add availability status %d: %s", w.Code, w.Body.String())
	}
	bad := types.AvailabilitySlot{DayOfWeek: 7, StartTime: "09:00", EndTime: "10:00"}
	if w := env.do(t, http.MethodPost, "/availability/me", env.studentToken, bad); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid day, got %d", w.Code)
	}

	w := env.do(t, http.MethodGet, "/availability/users/"+itoa(env.student.ID), env.tutorToken, nil)
	slots := decode[[]types.AvailabilitySlot](t, w)
	if len(slots) != 1 || slots[0].UserID != env.student.ID || slots[0].DayOfWeek != 2 {
		t.Errorf("Unexpected slots %+v", slots)
	}

	w = env.do(t, http.MethodGet, "/availability/users/"+itoa(env.tutor.ID), env.tutorToken, nil)
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("Expected empty list to encode as [], got %s", w.Body.String())
	}
}

func TestServer_HealthAndCORS(t *testing.T) {
	env := setupServer(t)

	w := env.do(t, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected healthy, got %d", w.Code)
	}
	if health := decode[HealthResponse](t, w); health.Status != "healthy" || health.Connections == nil {
		t.Errorf("Unexpected health %+v", health)
	}

	w = env.do(t, http.MethodOptions, "/messages/conversations", "", nil)
	if w.Code != http.StatusOK || w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("Expected CORS preflight to pass, got %d", w.Code)
	}

	if w := env.do(t, http.MethodDelete, "/users/me", env.studentToken, nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", w.Code)
	}

	_ = env.db.Close()
	if w := env.do(t, http.MethodGet, "/health", "", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 after the store closed, got %d", w.Code)
	}
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?n=abc&m=5", nil)
	if _, err := queryInt(req, "n", 1, 0, 10); err == nil {
		t.Error("Expected error for non-integer")
	}
	if v, err := queryInt(req, "m", 1, 0, 10); err != nil || v != 5 {
		t.Errorf("queryInt = %d, %v", v, err)
	}
	if v, _ := queryInt(req, "missing", 7, 0, 10); v != 7 {
		t.Errorf("Expected fallback 7, got %d", v)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
