package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tutorchat/pkg/types"
)

type stubSource struct {
	uploaded *types.FileUpload
	content  string
	data     []byte
	err      error
}

func (s *stubSource) UploadAttachment(ctx context.Context, conversationID int64, content string, file types.FileUpload) (*types.Message, error) {
	data, err := io.ReadAll(file.Body)
	if err != nil {
		return nil, err
	}
	s.uploaded, s.content, s.data = &file, content, data
	if s.err != nil {
		return nil, s.err
	}
	return &types.Message{
		ID:             20,
		ConversationID: conversationID,
		Content:        content,
		Attachment:     &types.Attachment{ID: 3, MessageID: 20, FileName: file.FileName, MimeType: file.MimeType, SizeBytes: int64(len(data))},
	}, nil
}

func (s *stubSource) AttachmentDownloadURL(attachmentID int64) (string, error) {
	return "http://api/messages/attachments/3/download?token=t", nil
}

func TestSendWithAttachment(t *testing.T) {
	source := &stubSource{}
	transfer := New(source, 1024)

	msg, err := transfer.SendWithAttachment(context.Background(), 7, "  notes  ", File{
		Name: "/tmp/week1.pdf",
		Body: strings.NewReader("%PDF"),
	})
	if err != nil {
		t.Fatalf("SendWithAttachment failed: %v", err)
	}
	if msg.Attachment == nil || msg.Attachment.FileName != "week1.pdf" {
		t.Errorf("Unexpected message %+v", msg)
	}
	if source.content != "notes" {
		t.Errorf("Expected trimmed content, got %q", source.content)
	}
	if source.uploaded.MimeType != "application/pdf" || string(source.data) != "%PDF" {
		t.Errorf("Unexpected upload %+v %q", source.uploaded, source.data)
	}
}

func TestSendWithAttachment_Validation(t *testing.T) {
	transfer := New(&stubSource{}, 4)
	ctx := context.Background()

	if _, err := transfer.SendWithAttachment(ctx, 7, "", File{Name: "", Body: strings.NewReader("x")}); !errors.Is(err, ErrInvalidFile) {
		t.Errorf("Expected ErrInvalidFile for empty name, got %v", err)
	}
	if _, err := transfer.SendWithAttachment(ctx, 7, "", File{Name: "a.pdf"}); !errors.Is(err, ErrInvalidFile) {
		t.Errorf("Expected ErrInvalidFile for nil body, got %v", err)
	}
	if _, err := transfer.SendWithAttachment(ctx, 7, "", File{Name: "a.pdf", Size: 5, Body: strings.NewReader("12345")}); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("Expected ErrFileTooLarge for declared size, got %v", err)
	}
}

func TestSendWithAttachment_StreamLimit(t *testing.T) {
	transfer := New(&stubSource{}, 4)

	// Size unknown: the stream itself trips the limit
	_, err := transfer.SendWithAttachment(context.Background(), 7, "", File{Name: "a.pdf", Body: strings.NewReader("12345")})
	if !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("Expected ErrFileTooLarge while streaming, got %v", err)
	}

	// Exactly at the limit is fine
	if _, err := transfer.SendWithAttachment(context.Background(), 7, "", File{Name: "a.pdf", Body: strings.NewReader("1234")}); err != nil {
		t.Errorf("File at the limit should upload, got %v", err)
	}
}

// pipeSource drains the body on another goroutine through an io.Pipe and
// wraps whatever the read side reports, the way the REST client streams uploads
type pipeSource struct {
	stubSource
	respondEarly error
}

func (s *pipeSource) UploadAttachment(ctx context.Context, conversationID int64, content string, file types.FileUpload) (*types.Message, error) {
	if s.respondEarly != nil {
		// The server answered before the body was read
		return nil, s.respondEarly
	}

	pr, pw := io.Pipe()
	go func() {
		_, err := io.Copy(pw, file.Body)
		pw.CloseWithError(err)
	}()
	if _, err := io.ReadAll(pr); err != nil {
		return nil, fmt.Errorf("POST /messages/conversations/%d/messages/attachment: %w", conversationID, err)
	}
	return &types.Message{ID: 21, ConversationID: conversationID}, nil
}

func TestSendWithAttachment_StreamLimitAcrossPipe(t *testing.T) {
	transfer := New(&pipeSource{}, 4)

	_, err := transfer.SendWithAttachment(context.Background(), 7, "", File{Name: "a.pdf", Body: strings.NewReader("12345")})
	if !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("Expected ErrFileTooLarge through the pipe, got %v", err)
	}

	msg, err := transfer.SendWithAttachment(context.Background(), 7, "", File{Name: "a.pdf", Body: strings.NewReader("1234")})
	if err != nil || msg.ID != 21 {
		t.Errorf("File at the limit should upload, got %+v, %v", msg, err)
	}
}

func TestSendWithAttachment_EarlyResponseIsNotTooLarge(t *testing.T) {
	transfer := New(&pipeSource{respondEarly: errors.New("POST: 403 Forbidden")}, 4)

	_, err := transfer.SendWithAttachment(context.Background(), 7, "", File{Name: "a.pdf", Body: strings.NewReader("12345")})
	if err == nil || errors.Is(err, ErrFileTooLarge) {
		t.Errorf("Expected the server's error, got %v", err)
	}
}

func TestSendWithAttachment_ServerFailure(t *testing.T) {
	transfer := New(&stubSource{err: errors.New("500")}, 0)
	_, err := transfer.SendWithAttachment(context.Background(), 7, "", File{Name: "a.pdf", Body: strings.NewReader("x")})
	if err == nil || errors.Is(err, ErrFileTooLarge) {
		t.Errorf("Expected upload failure, got %v", err)
	}
}

func TestMimeTypeFor(t *testing.T) {
	tests := map[string]string{
		"report.pdf": "application/pdf",
		"noext":      DefaultMimeType,
		"weird.zzz9": DefaultMimeType,
	}
	for name, want := range tests {
		if got := MimeTypeFor(name); got != want {
			t.Errorf("MimeTypeFor(%q) = %q, want %q", name, got, want)
		}
	}
	if got := MimeTypeFor("photo.PNG"); got != "image/png" {
		t.Errorf("Expected image/png for upper-case extension, got %q", got)
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "syllabus.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.7"), 0644); err != nil {
		t.Fatal(err)
	}

	file, closer, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer closer.Close()

	if file.Name != "syllabus.pdf" || file.Size != 8 || file.MimeType != "application/pdf" {
		t.Errorf("Unexpected file %+v", file)
	}

	if _, _, err := Open(dir); !errors.Is(err, ErrInvalidFile) {
		t.Errorf("Expected ErrInvalidFile for a directory, got %v", err)
	}
}

func TestDownloadURL(t *testing.T) {
	got, err := New(&stubSource{}, 0).DownloadURL(3)
	if err != nil || !strings.Contains(got, "/messages/attachments/3/download") {
		t.Errorf("DownloadURL = %q, %v", got, err)
	}
}
