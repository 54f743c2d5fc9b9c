// Package attachment uploads a file together with an optional text body and
// builds authenticated download links.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"tutorchat/pkg/interfaces"
	"tutorchat/pkg/types"
)

// DefaultMimeType is used when the extension is unknown
const DefaultMimeType = "application/pdf"

// File describes one upload. Size may be zero when unknown; the limit is then
// enforced while streaming.
type File struct {
	Name     string
	MimeType string
	Size     int64
	Body     io.Reader
}

// Transfer performs uploads through the backend
type Transfer struct {
	source   interfaces.AttachmentSource
	maxBytes int64
}

// New creates a Transfer. maxBytes <= 0 disables the client-side size check.
func New(source interfaces.AttachmentSource, maxBytes int64) *Transfer {
	return &Transfer{source: source, maxBytes: maxBytes}
}

// SendWithAttachment uploads file to the conversation and returns the server's message.
// The caller merges the result; nothing is written anywhere on failure.
func (t *Transfer) SendWithAttachment(ctx context.Context, conversationID int64, text string, file File) (*types.Message, error) {
	if strings.TrimSpace(file.Name) == "" || file.Body == nil {
		return nil, ErrInvalidFile
	}
	if t.maxBytes > 0 && file.Size > t.maxBytes {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrFileTooLarge, file.Size, t.maxBytes)
	}

	mimeType := file.MimeType
	if mimeType == "" {
		mimeType = MimeTypeFor(file.Name)
	}

	body := file.Body
	if t.maxBytes > 0 {
		body = &limitReader{r: file.Body, remaining: t.maxBytes}
	}

	message, err := t.source.UploadAttachment(ctx, conversationID, strings.TrimSpace(text), types.FileUpload{
		FileName: filepath.Base(file.Name),
		MimeType: mimeType,
		Size:     file.Size,
		Body:     body,
	})
	if err != nil {
		// The limit error travels back through the transport's body read
		if errors.Is(err, ErrFileTooLarge) {
			return nil, fmt.Errorf("%w: more than %d bytes", ErrFileTooLarge, t.maxBytes)
		}
		return nil, fmt.Errorf("upload attachment: %w", err)
	}
	return message, nil
}

// DownloadURL returns a link usable without an Authorization header
func (t *Transfer) DownloadURL(attachmentID int64) (string, error) {
	return t.source.AttachmentDownloadURL(attachmentID)
}

// MimeTypeFor guesses from the extension and falls back to DefaultMimeType
func MimeTypeFor(name string) string {
	if ext := filepath.Ext(name); ext != "" {
		if mt := mime.TypeByExtension(strings.ToLower(ext)); mt != "" {
			return mt
		}
	}
	return DefaultMimeType
}

// Open prepares a local file for upload. The caller closes the returned file.
func Open(path string) (File, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return File{}, nil, err
	}
	if info.IsDir() {
		f.Close()
		return File{}, nil, fmt.Errorf("%w: %s is a directory", ErrInvalidFile, path)
	}
	return File{
		Name:     filepath.Base(path),
		MimeType: MimeTypeFor(path),
		Size:     info.Size(),
		Body:     f,
	}, f, nil
}

// limitReader fails the stream with ErrFileTooLarge once more than remaining
// bytes are read. It is only touched by whichever goroutine drains the body.
type limitReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrFileTooLarge
	}
	// Read one byte past the limit so an exact-size file is not rejected
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return 0, ErrFileTooLarge
	}
	return n, err
}
