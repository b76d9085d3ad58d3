package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/matheus3301/bbsync/internal/store"
)

// APIError is a non-2xx response from the bridge.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bridge returned %d: %s", e.StatusCode, e.Message)
}

// Client is the HTTP side of the bridge API. Every response is wrapped in
// a {status, message, data} envelope except attachment downloads, which
// stream raw bytes.
type Client struct {
	baseURL  string
	password string
	http     *http.Client
}

// NewClient creates a client for the given bridge. No request timeout is
// set on the underlying http.Client; callers bound requests through ctx.
func NewClient(baseURL, password string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		password: password,
		http:     &http.Client{},
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) (json.RawMessage, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("password", c.password)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var env apiResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 400 {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return nil, fmt.Errorf("parse response envelope: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: env.Message}
	}
	return env.Data, nil
}

// Ping verifies the bridge is reachable and the password is accepted.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/api/v1/ping", nil, nil, "")
	return err
}

// ServerInfo returns the bridge's version information.
func (c *Client) ServerInfo(ctx context.Context) (*ServerInfo, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/v1/server/info", nil, nil, "")
	if err != nil {
		return nil, err
	}
	var info ServerInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse server info: %w", err)
	}
	return &info, nil
}

// Chats fetches a page of conversations, newest activity first, with
// their participants and last message embedded.
func (c *Client) Chats(ctx context.Context, offset, limit int) ([]*store.Conversation, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("with", "lastMessage,participants")
	data, err := c.do(ctx, http.MethodGet, "/api/v1/chat", q, nil, "")
	if err != nil {
		return nil, err
	}
	var dtos []chatDTO
	if err := json.Unmarshal(data, &dtos); err != nil {
		return nil, fmt.Errorf("parse chats: %w", err)
	}
	convs := make([]*store.Conversation, 0, len(dtos))
	for i := range dtos {
		convs = append(convs, dtos[i].toStore())
	}
	return convs, nil
}

// Messages fetches a page of a chat's messages, newest first, with
// attachments and handles embedded. Attachments come back flattened with
// their owning message guid set.
func (c *Client) Messages(ctx context.Context, chatGUID string, offset, limit int) ([]*store.Message, []store.Attachment, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("sort", "DESC")
	q.Set("with", "attachment,handle")
	path := "/api/v1/chat/" + url.PathEscape(chatGUID) + "/message"
	data, err := c.do(ctx, http.MethodGet, path, q, nil, "")
	if err != nil {
		return nil, nil, err
	}
	var dtos []messageDTO
	if err := json.Unmarshal(data, &dtos); err != nil {
		return nil, nil, fmt.Errorf("parse messages: %w", err)
	}
	var msgs []*store.Message
	var atts []store.Attachment
	for i := range dtos {
		m, a := dtos[i].toStore(chatGUID)
		msgs = append(msgs, m)
		atts = append(atts, a...)
	}
	return msgs, atts, nil
}

// SendText submits a text message. The returned message carries the
// server-issued guid the provisional row will be promoted to.
func (c *Client) SendText(ctx context.Context, chatGUID, tempGUID, text, subject, replyToGUID string) (*store.Message, error) {
	body, err := json.Marshal(sendTextRequest{
		ChatGUID:    chatGUID,
		Message:     text,
		Method:      "private-api",
		TempGUID:    tempGUID,
		Subject:     subject,
		ReplyToGUID: replyToGUID,
	})
	if err != nil {
		return nil, err
	}
	data, err := c.do(ctx, http.MethodPost, "/api/v1/message/text", nil, bytes.NewReader(body), "application/json")
	if err != nil {
		return nil, err
	}
	var dto messageDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, fmt.Errorf("parse sent message: %w", err)
	}
	msg, _ := dto.toStore(chatGUID)
	return msg, nil
}

// SendAttachment uploads one file as its own message on the chat. The
// upload carries no temp guid: attachment messages are committed from
// their socket echo and must never match a pending text send.
func (c *Client) SendAttachment(ctx context.Context, chatGUID, filePath string) (*store.Message, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("chat_guid", chatGUID); err != nil {
		return nil, err
	}
	if err := w.WriteField("name", filepath.Base(filePath)); err != nil {
		return nil, err
	}
	part, err := w.CreateFormFile("attachment", filepath.Base(filePath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	data, err := c.do(ctx, http.MethodPost, "/api/v1/message/attachment", nil, &buf, w.FormDataContentType())
	if err != nil {
		return nil, err
	}
	var dto messageDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, fmt.Errorf("parse sent attachment: %w", err)
	}
	msg, _ := dto.toStore(chatGUID)
	return msg, nil
}

// MarkRead tells the bridge the chat was read on this device.
func (c *Client) MarkRead(ctx context.Context, chatGUID string) error {
	path := "/api/v1/chat/" + url.PathEscape(chatGUID) + "/read"
	_, err := c.do(ctx, http.MethodPost, path, nil, nil, "")
	return err
}

// DownloadAttachment streams an attachment's bytes into dst. progress, if
// non-nil, is called as data arrives with the byte counts; total is -1
// when the server does not announce a length.
func (c *Client) DownloadAttachment(ctx context.Context, guid string, dst io.Writer, progress func(received, total int64)) error {
	u := c.baseURL + "/api/v1/attachment/" + url.PathEscape(guid) + "/download"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("password", c.password)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	total := resp.ContentLength
	var received int64
	buf := make([]byte, 32*1024)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			received += int64(n)
			if progress != nil {
				progress(received, total)
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}
