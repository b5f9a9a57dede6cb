// Package api is the request/response side of the chat backend protocol.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultTimeout       = 15 * time.Second
	DefaultUploadTimeout = 30 * time.Second

	MaxUploadSize   = 10 << 20
	maxResponseSize = 10 << 20
)

var ErrFileTooLarge = errors.New("api: file exceeds 10MB upload limit")

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: unexpected status %d: %s", e.Code, e.Body)
}

type Options struct {
	BaseURL       string
	Timeout       time.Duration
	UploadTimeout time.Duration
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

type Client struct {
	baseURL string
	http    *http.Client
	upload  *http.Client
	now     func() time.Time
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = DefaultUploadTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    &http.Client{Timeout: opts.Timeout, Transport: opts.Transport},
		upload:  &http.Client{Timeout: opts.UploadTimeout, Transport: opts.Transport},
		now:     time.Now,
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) SendMessage(ctx context.Context, req SendRequest) (SendResponse, error) {
	if req.ConversationHistory == nil {
		req.ConversationHistory = []HistoryEntry{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return SendResponse{}, fmt.Errorf("api: encode send request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+PathChat, bytes.NewReader(body))
	if err != nil {
		return SendResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var resp SendResponse
	if err := c.do(c.http, httpReq, &resp); err != nil {
		return SendResponse{}, err
	}
	return resp, nil
}

func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PathStatus, nil)
	if err != nil {
		return StatusResponse{}, err
	}
	var resp StatusResponse
	if err := c.do(c.http, httpReq, &resp); err != nil {
		return StatusResponse{}, err
	}
	return resp, nil
}

// Messages fetches the server-side history of a conversation, bypassing caches.
func (c *Client) Messages(ctx context.Context, conversationID string) (HistoryResponse, error) {
	if conversationID == "" {
		return HistoryResponse{}, errors.New("api: missing conversation id")
	}
	u := c.baseURL + PathMessages + "/" + url.PathEscape(conversationID) +
		"?cacheBuster=" + strconv.FormatInt(c.now().UnixMilli(), 10)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return HistoryResponse{}, err
	}
	httpReq.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	httpReq.Header.Set("Pragma", "no-cache")

	var resp HistoryResponse
	if err := c.do(c.http, httpReq, &resp); err != nil {
		return HistoryResponse{}, err
	}
	return resp, nil
}

// DeleteConversation drops a conversation and its messages on the server.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return errors.New("api: missing conversation id")
	}
	u := c.baseURL + PathMessages + "/" + url.PathEscape(conversationID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	return c.do(c.http, httpReq, nil)
}

func (c *Client) Upload(ctx context.Context, f File, conversationID string) (UploadResponse, error) {
	if f.Size > MaxUploadSize {
		return UploadResponse{}, ErrFileTooLarge
	}
	if f.Body == nil {
		return UploadResponse{}, errors.New("api: missing file body")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	name := f.Name
	if name == "" {
		name = "file"
	}
	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(name)))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return UploadResponse{}, err
	}
	n, err := io.Copy(part, io.LimitReader(f.Body, MaxUploadSize+1))
	if err != nil {
		return UploadResponse{}, fmt.Errorf("api: read upload body: %w", err)
	}
	if n > MaxUploadSize {
		return UploadResponse{}, ErrFileTooLarge
	}
	if conversationID != "" {
		if err := mw.WriteField("conversation_id", conversationID); err != nil {
			return UploadResponse{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return UploadResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+PathUpload, &buf)
	if err != nil {
		return UploadResponse{}, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	var resp UploadResponse
	if err := c.do(c.upload, httpReq, &resp); err != nil {
		return UploadResponse{}, err
	}
	if resp.FileURL == "" {
		return UploadResponse{}, errors.New("api: upload response without fileUrl")
	}
	return resp, nil
}

func (c *Client) do(hc *http.Client, req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("api: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("api: decode response: %w", err)
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }
