package mobile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fieldops/internal/models"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type ClientOptions struct {
	BaseURL string
	Token   string
	// SendIdempotencyKey attaches each operation's key as an Idempotency-Key
	// header so the server can answer a replayed write with the original
	// record.
	SendIdempotencyKey bool
	Timeout            time.Duration
	Transport          http.RoundTripper
}

// APIClient talks to the fieldops API over HTTP.
type APIClient struct {
	baseURL            string
	token              string
	sendIdempotencyKey bool
	http               *http.Client
}

type LeadPayload struct {
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
	Source  string `json:"source,omitempty"`
}

type PhotoPayload struct {
	JobID   string `json:"job_id"`
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func NewAPIClient(options ClientOptions) *APIClient {
	transport := options.Transport
	if transport == nil {
		transport = otelhttp.NewTransport(http.DefaultTransport)
	}
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &APIClient{
		baseURL:            strings.TrimRight(options.BaseURL, "/"),
		token:              options.Token,
		sendIdempotencyKey: options.SendIdempotencyKey,
		http:               &http.Client{Timeout: timeout, Transport: transport},
	}
}

func (c *APIClient) SetToken(token string) {
	c.token = token
}

// Replay sends one queued operation. Errors wrapping ErrPermanent mean the
// server rejected the request itself and retrying cannot help.
func (c *APIClient) Replay(ctx context.Context, op Operation) error {
	var (
		path string
		body interface{}
	)
	switch op.Type {
	case OpCreateLead:
		var lead LeadPayload
		if err := json.Unmarshal(op.Payload, &lead); err != nil {
			return fmt.Errorf("%w: decode lead payload: %v", ErrPermanent, err)
		}
		path, body = "/api/leads", lead
	case OpUploadPhoto:
		var photo PhotoPayload
		if err := json.Unmarshal(op.Payload, &photo); err != nil {
			return fmt.Errorf("%w: decode photo payload: %v", ErrPermanent, err)
		}
		if photo.JobID == "" {
			return fmt.Errorf("%w: photo payload has no job_id", ErrPermanent)
		}
		path = "/api/jobs/" + url.PathEscape(photo.JobID) + "/photos"
		body = struct {
			URL     string `json:"url"`
			Caption string `json:"caption,omitempty"`
		}{URL: photo.URL, Caption: photo.Caption}
	default:
		return fmt.Errorf("%w: unknown operation type %q", ErrPermanent, op.Type)
	}

	headers := map[string]string{}
	if c.sendIdempotencyKey && op.IdempotencyKey != "" {
		headers["Idempotency-Key"] = op.IdempotencyKey
	}
	resp, err := c.do(ctx, http.MethodPost, path, body, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return classify(resp)
}

type snapshotBody struct {
	Kind    models.Kind       `json:"kind"`
	Records []json.RawMessage `json:"records"`
}

func (c *APIClient) Fetch(ctx context.Context, kind models.Kind) ([]json.RawMessage, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/snapshots/"+url.PathEscape(string(kind)), nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := classify(resp); err != nil {
		return nil, err
	}
	var snapshot snapshotBody
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snapshot.Records == nil {
		snapshot.Records = []json.RawMessage{}
	}
	return snapshot.Records, nil
}

type loginResult struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      models.User `json:"user"`
}

// Login exchanges credentials for a bearer token and keeps it for later
// calls.
func (c *APIClient) Login(ctx context.Context, email, password string) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := classify(resp); err != nil {
		return "", err
	}
	var result loginResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode login: %w", err)
	}
	if result.Token == "" {
		return "", errors.New("login response has no token")
	}
	c.token = result.Token
	return result.Token, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: encode body: %v", ErrPermanent, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

// classify turns a non-2xx response into an error. Timeouts, conflicts,
// rate limiting, expired tokens and server errors are worth retrying; any
// other 4xx is permanent.
func classify(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg := http.StatusText(resp.StatusCode)
	var body apiError
	if raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); err == nil && json.Unmarshal(raw, &body) == nil && body.Error.Message != "" {
		msg = body.Error.Code + ": " + body.Error.Message
	}
	err := fmt.Errorf("server returned %d: %s", resp.StatusCode, msg)
	if isTransientStatus(resp.StatusCode) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrPermanent, err)
}

func isTransientStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests, http.StatusUnauthorized:
		return true
	}
	return status >= 500
}
