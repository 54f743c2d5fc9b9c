// Package apiclient implements interfaces.Backend over the marketplace REST API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"tutorchat/pkg/interfaces"
	"tutorchat/pkg/types"
)

// Client is safe for concurrent use. The bearer token can be swapped at any time.
type Client struct {
	Base string
	HTTP *http.Client

	mu             sync.RWMutex
	token          string
	onUnauthorized func()
}

var _ interfaces.Backend = (*Client)(nil)

// New creates a client for base (e.g. http://localhost:8000) with a request timeout
func New(base, token string, timeout time.Duration) *Client {
	return &Client{
		Base:  strings.TrimRight(base, "/"),
		HTTP:  &http.Client{Timeout: timeout},
		token: token,
	}
}

// SetToken replaces the credential used by subsequent requests
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// OnUnauthorized registers fn to run (on the requesting goroutine) after any 401 response
func (c *Client) OnUnauthorized(fn func()) {
	c.mu.Lock()
	c.onUnauthorized = fn
	c.mu.Unlock()
}

func (c *Client) Me(ctx context.Context) (*types.UserMe, error) {
	var out types.UserMe
	if err := c.getJSON(ctx, "/users/me", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListMatches(ctx context.Context) ([]types.Match, error) {
	var out []types.Match
	if err := c.getJSON(ctx, "/matches/me", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) RefreshMatches(ctx context.Context) ([]types.MatchScore, error) {
	var out []types.MatchScore
	if err := c.post(ctx, "/matches/me/refresh", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListConversations(ctx context.Context) ([]types.ConversationRef, error) {
	var out []types.ConversationRef
	if err := c.getJSON(ctx, "/messages/conversations", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) OpenConversation(ctx context.Context, otherUserID int64) (*types.Conversation, error) {
	if otherUserID <= 0 {
		return nil, ErrInvalidID
	}
	var out types.Conversation
	if err := c.post(ctx, "/messages/conversations", types.CreateConversationRequest{OtherUserID: otherUserID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMessages returns one page in ascending id order
func (c *Client) ListMessages(ctx context.Context, conversationID int64, skip, limit int) ([]types.Message, error) {
	if conversationID <= 0 {
		return nil, ErrInvalidID
	}
	q := url.Values{}
	q.Set("skip", strconv.Itoa(skip))
	q.Set("limit", strconv.Itoa(limit))

	var out []types.Message
	if err := c.getJSON(ctx, conversationPath(conversationID)+"/messages?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SendMessage(ctx context.Context, conversationID int64, content string) (*types.Message, error) {
	if conversationID <= 0 {
		return nil, ErrInvalidID
	}
	var out types.Message
	if err := c.post(ctx, conversationPath(conversationID)+"/messages", types.SendMessageRequest{Content: content}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadAttachment streams a multipart body with an optional content field and one file part
func (c *Client) UploadAttachment(ctx context.Context, conversationID int64, content string, file types.FileUpload) (*types.Message, error) {
	if conversationID <= 0 {
		return nil, ErrInvalidID
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeMultipart(mw, content, file))
	}()

	path := conversationPath(conversationID) + "/messages/attachment"
	req, err := c.newRequest(ctx, http.MethodPost, path, pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out types.Message
	if err := c.do(req, path, &out); err != nil {
		pr.Close()
		return nil, err
	}
	return &out, nil
}

func writeMultipart(mw *multipart.Writer, content string, file types.FileUpload) error {
	if content != "" {
		if err := mw.WriteField("content", content); err != nil {
			return err
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(file.FileName)))
	header.Set("Content-Type", file.MimeType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file.Body); err != nil {
		return err
	}
	return mw.Close()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// AttachmentDownloadURL builds a link that authenticates through the token query parameter
func (c *Client) AttachmentDownloadURL(attachmentID int64) (string, error) {
	if attachmentID <= 0 {
		return "", ErrInvalidID
	}
	token := c.Token()
	if token == "" {
		return "", ErrNoCredential
	}
	return fmt.Sprintf("%s/messages/attachments/%d/download?token=%s", c.Base, attachmentID, url.QueryEscape(token)), nil
}

func (c *Client) ListAvailability(ctx context.Context, userID int64) ([]types.AvailabilitySlot, error) {
	if userID <= 0 {
		return nil, ErrInvalidID
	}
	var out []types.AvailabilitySlot
	if err := c.getJSON(ctx, "/availability/users/"+strconv.FormatInt(userID, 10), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListNotifications(ctx context.Context, limit int) ([]types.Notification, error) {
	var out []types.Notification
	if err := c.getJSON(ctx, "/notifications/me?limit="+strconv.Itoa(limit), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func conversationPath(conversationID int64) string {
	return "/messages/conversations/" + strconv.FormatInt(conversationID, 10)
}

func (c *Client) post(ctx context.Context, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return err
		}
		body = buf
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, path, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, path, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, path string, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		statusErr := &StatusError{
			Method: req.Method,
			Path:   stripQuery(path),
			Code:   resp.StatusCode,
			Detail: readDetail(resp.Body),
		}
		if resp.StatusCode == http.StatusUnauthorized {
			c.unauthorized()
		}
		return statusErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", req.Method, path, err)
	}
	return nil
}

func (c *Client) unauthorized() {
	c.mu.RLock()
	fn := c.onUnauthorized
	c.mu.RUnlock()

	if fn != nil {
		fn()
	} else {
		log.Printf("API request rejected: credential is missing or expired")
	}
}

func stripQuery(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}

// readDetail extracts a FastAPI-style {"detail"} or a {"message"} reason from an error body
func readDetail(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}

	var parsed struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return strings.TrimSpace(string(data))
	}
	if len(parsed.Detail) > 0 {
		var s string
		if json.Unmarshal(parsed.Detail, &s) == nil {
			return s
		}
		return string(parsed.Detail)
	}
	return parsed.Message
}
