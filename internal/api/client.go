package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TokenStore supplies the bearer credential attached to every request
// and allows it to be cleared when the backend rejects it.
type TokenStore interface {
	// Token returns the stored credential, or "" if none is stored.
	Token() (string, error)

	// Clear removes the stored credential. Clearing an absent
	// credential is a no-op.
	Clear() error
}

// protectedPrefix covers every backend route that requires a session.
// Auth endpoints themselves are exempt so login probes can see a plain
// 401 without tearing the session down.
const (
	protectedPrefix = "/api/"
	authPrefix      = "/api/auth/"
)

// Client is the HTTP transport to the Servibot backend. It attaches the
// stored bearer credential to every request, retries transient failures
// with exponential backoff, and normalizes all failures to *APIError
// (or *AuthError for a rejected session).
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenStore
	logger     *zap.Logger

	maxRetries int
	baseDelay  time.Duration

	// onAuthExpired is the client-side analog of a redirect to the
	// login page. It fires at most once per 401 response.
	onAuthExpired func()
}

// NewClient creates a transport client for the backend at baseURL.
func NewClient(baseURL string, tokens TokenStore, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		tokens:     tokens,
		logger:     logger,
		maxRetries: 3,
		baseDelay:  500 * time.Millisecond,
	}
}

// SetRetryPolicy overrides the default retry budget and base delay.
func (c *Client) SetRetryPolicy(maxRetries int, baseDelay time.Duration) {
	if maxRetries >= 0 {
		c.maxRetries = maxRetries
	}
	if baseDelay > 0 {
		c.baseDelay = baseDelay
	}
}

// SetTimeout overrides the per-request HTTP timeout.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.httpClient.Timeout = d
	}
}

// SetAuthExpiredHandler registers the hook invoked after a 401 on a
// protected route clears the stored credential.
func (c *Client) SetAuthExpiredHandler(fn func()) {
	c.onAuthExpired = fn
}

// BaseURL returns the configured backend root URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Tokens returns the credential store so companion clients (the event
// stream) can authenticate the same way.
func (c *Client) Tokens() TokenStore {
	return c.tokens
}

// Get performs an HTTP GET request and unmarshals the JSON response.
func (c *Client) Get(ctx context.Context, path string, result any) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

// Post performs an HTTP POST request with a JSON body and unmarshals
// the JSON response.
func (c *Client) Post(ctx context.Context, path string, body, result any) error {
	return c.do(ctx, http.MethodPost, path, body, result)
}

// Put performs an HTTP PUT request with a JSON body and unmarshals the
// JSON response.
func (c *Client) Put(ctx context.Context, path string, body, result any) error {
	return c.do(ctx, http.MethodPut, path, body, result)
}

// Delete performs an HTTP DELETE request and unmarshals the JSON
// response if there is one.
func (c *Client) Delete(ctx context.Context, path string, result any) error {
	return c.do(ctx, http.MethodDelete, path, nil, result)
}

// do is the core request loop: build, authenticate, send, classify,
// retry. The identical request is resubmitted on every retryable
// failure until the budget runs out.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		payload = data
	}

	var contentType string
	if payload != nil {
		contentType = "application/json"
	}

	return c.send(ctx, method, path, payload, contentType, result, nil)
}

// send runs the retry loop over a fully materialized request body so
// retries resubmit byte-identical payloads. rawResult, when non-nil,
// receives the raw response body instead of JSON decoding into result.
func (c *Client) send(
	ctx context.Context,
	method, path string,
	payload []byte,
	contentType string,
	result any,
	rawResult *[]byte,
) error {
	reqURL := c.baseURL + path

	var lastErr *APIError
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay << (attempt - 1)
			c.logger.Debug("retrying request",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}

		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Accept", "application/json")
		c.attachToken(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			// Context aborts are terminal; anything else that
			// produced no response at all is retryable.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = &APIError{Message: err.Error()}
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = &APIError{Message: fmt.Sprintf("reading response body: %v", readErr)}
			continue
		}

		if resp.StatusCode == http.StatusUnauthorized {
			return c.handleUnauthorized(path, respBody)
		}

		if retryableStatuses[resp.StatusCode] {
			lastErr = normalizeError(resp.StatusCode, respBody)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return normalizeError(resp.StatusCode, respBody)
		}

		if rawResult != nil {
			*rawResult = respBody
			return nil
		}
		if result == nil || resp.StatusCode == http.StatusNoContent || len(respBody) == 0 {
			return nil
		}
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshaling response from %s %s: %w", method, path, err)
		}
		return nil
	}

	c.logger.Warn("retry budget exhausted",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("max_retries", c.maxRetries),
	)
	return lastErr
}

// attachToken adds the bearer credential if one is stored.
func (c *Client) attachToken(req *http.Request) {
	if c.tokens == nil {
		return
	}
	token, err := c.tokens.Token()
	if err != nil || token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}

// handleUnauthorized applies the session-expiry policy. A 401 under the
// protected prefix clears the stored credential and fires the
// auth-expired hook exactly once; a 401 elsewhere is an ordinary
// terminal error. Neither consumes retry budget.
func (c *Client) handleUnauthorized(path string, respBody []byte) error {
	if !isProtectedPath(path) {
		return normalizeError(http.StatusUnauthorized, respBody)
	}

	if c.tokens != nil {
		if err := c.tokens.Clear(); err != nil {
			c.logger.Warn("clearing stored credential", zap.Error(err))
		}
	}
	if c.onAuthExpired != nil {
		c.onAuthExpired()
	}
	return &AuthError{Message: "session expired"}
}

// isProtectedPath reports whether a 401 on this path should tear the
// session down. Query strings are ignored.
func isProtectedPath(path string) bool {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return strings.HasPrefix(path, protectedPrefix) && !strings.HasPrefix(path, authPrefix)
}

// normalizeError folds an error response into the one client-facing
// shape. The backend reports failures as {"detail": "..."}; other
// shapes fall back to the raw body.
func normalizeError(status int, body []byte) *APIError {
	msg := http.StatusText(status)

	var detail struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &detail) == nil {
		if detail.Detail != "" {
			msg = detail.Detail
		} else if detail.Message != "" {
			msg = detail.Message
		}
	} else if len(body) > 0 {
		msg = string(body)
	}

	return &APIError{
		Message: msg,
		Status:  status,
		Data:    json.RawMessage(body),
	}
}

// Chat posts a conversational turn to the backend.
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var resp ChatResponse
	if err := c.Post(ctx, "/api/chat", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ResolveAction posts a confirmation decision for a pending action to
// the chat endpoint. The reply shape is identical to a normal turn.
func (c *Client) ResolveAction(ctx context.Context, req *ConfirmationRequest) (*ChatResponse, error) {
	var resp ChatResponse
	if err := c.Post(ctx, "/api/chat", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Me returns the authenticated user, if any.
func (c *Client) Me(ctx context.Context) (*MeResponse, error) {
	var resp MeResponse
	if err := c.Get(ctx, "/api/auth/me", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout tells the backend to end the session. The caller is expected
// to clear the stored credential afterwards.
func (c *Client) Logout(ctx context.Context) error {
	return c.Post(ctx, "/api/auth/logout", nil, nil)
}

// ProgressFunc reports upload progress as (bytesSent, totalBytes).
type ProgressFunc func(sent, total int64)

// Upload posts a file as multipart form data with optional progress
// reporting. The multipart body is materialized up front so transient
// failures can resubmit the identical request.
func (c *Client) Upload(
	ctx context.Context,
	path string,
	fieldName string,
	filename string,
	content io.Reader,
	progress ProgressFunc,
	result any,
) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile(fieldName, filename)
	if err != nil {
		return fmt.Errorf("creating multipart field: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return fmt.Errorf("buffering upload %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("finalizing multipart body: %w", err)
	}

	payload := buf.Bytes()
	if progress != nil {
		return c.sendWithProgress(ctx, path, payload, mw.FormDataContentType(), progress, result)
	}
	return c.send(ctx, http.MethodPost, path, payload, mw.FormDataContentType(), result, nil)
}

// sendWithProgress wraps the payload in a counting reader. Progress
// restarts from zero if a transient failure forces a resubmit.
func (c *Client) sendWithProgress(
	ctx context.Context,
	path string,
	payload []byte,
	contentType string,
	progress ProgressFunc,
	result any,
) error {
	total := int64(len(payload))

	var lastErr *APIError
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.baseDelay << (attempt - 1)):
			}
		}

		reader := &progressReader{
			r:        bytes.NewReader(payload),
			total:    total,
			progress: progress,
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("creating upload request: %w", err)
		}
		req.ContentLength = total
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Accept", "application/json")
		c.attachToken(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = &APIError{Message: err.Error()}
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = &APIError{Message: fmt.Sprintf("reading response body: %v", readErr)}
			continue
		}

		if resp.StatusCode == http.StatusUnauthorized {
			return c.handleUnauthorized(path, respBody)
		}
		if retryableStatuses[resp.StatusCode] {
			lastErr = normalizeError(resp.StatusCode, respBody)
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return normalizeError(resp.StatusCode, respBody)
		}

		if result == nil || len(respBody) == 0 {
			return nil
		}
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshaling upload response: %w", err)
		}
		return nil
	}

	return lastErr
}

// progressReader counts bytes as the HTTP client consumes the body.
type progressReader struct {
	r        io.Reader
	total    int64
	sent     int64
	progress ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.progress(p.sent, p.total)
	}
	return n, err
}

// Download fetches a binary payload (e.g., a generated document or
// synthesized audio file) and returns the raw bytes.
func (c *Client) Download(ctx context.Context, path string) ([]byte, error) {
	var raw []byte
	if err := c.send(ctx, http.MethodGet, path, nil, "", nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// UploadDocument sends a document to the backend's indexing pipeline.
func (c *Client) UploadDocument(ctx context.Context, filename string, content io.Reader, progress ProgressFunc) (*UploadResult, error) {
	var result UploadResult
	if err := c.Upload(ctx, "/api/upload", "file", filename, content, progress, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UploadStatus reports the indexing state of an uploaded document.
func (c *Client) UploadStatus(ctx context.Context, fileID string) (*UploadStatus, error) {
	var status UploadStatus
	if err := c.Get(ctx, "/api/upload/status/"+url.PathEscape(fileID), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListUploads returns the uploaded documents known to the backend.
func (c *Client) ListUploads(ctx context.Context) (*UploadListResponse, error) {
	var resp UploadListResponse
	if err := c.Get(ctx, "/api/upload/list", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReindexDocument asks the backend to rebuild the index for a document.
func (c *Client) ReindexDocument(ctx context.Context, fileID string) error {
	return c.Post(ctx, "/api/upload/reindex/"+url.PathEscape(fileID), nil, nil)
}

// DeleteDocument removes an uploaded document and its index entries.
func (c *Client) DeleteDocument(ctx context.Context, fileID string) error {
	return c.Delete(ctx, "/api/upload/file/"+url.PathEscape(fileID), nil)
}

// Transcribe sends recorded audio for speech-to-text.
func (c *Client) Transcribe(ctx context.Context, filename string, audio io.Reader) (*TranscriptionResult, error) {
	var result TranscriptionResult
	if err := c.Upload(ctx, "/api/voice/transcribe", "file", filename, audio, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Synthesize asks the backend to render text to speech.
func (c *Client) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResult, error) {
	var result SynthesizeResult
	if err := c.Post(ctx, "/api/voice/synthesize", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// VoiceStatus reports which voice capabilities the backend offers.
func (c *Client) VoiceStatus(ctx context.Context) (*VoiceStatus, error) {
	var status VoiceStatus
	if err := c.Get(ctx, "/api/voice/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}
