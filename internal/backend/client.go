// Package backend is the HTTP client for the ITSM backend's kiosk API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultTimeout = 5 * time.Second

	// maxResponseSize bounds JSON response reads. Kiosk API responses are a
	// few kilobytes; anything near this is a broken server.
	maxResponseSize int64 = 4 << 20

	HeaderDeviceID       = "X-Device-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
)

var (
	// ErrUnreachable wraps transport failures: DNS, refused connections,
	// timeouts. Anything carrying an HTTP status is not ErrUnreachable.
	ErrUnreachable     = errors.New("backend unreachable")
	ErrVersionConflict = errors.New("config version conflict")
	ErrUnauthorized    = errors.New("unauthorized")
)

type Config struct {
	URL         string        `mapstructure:"url"`
	DeviceID    string        `mapstructure:"device_id"`
	DeviceToken string        `mapstructure:"device_token"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// StatusError is returned for responses outside the expected status range.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

type Client struct {
	baseURL     string
	deviceID    string
	deviceToken string
	httpClient  *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.URL, "/"),
		deviceID:    cfg.DeviceID,
		deviceToken: cfg.DeviceToken,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

// HTTPClient exposes the timeout-bounded client for the connectivity probe.
func (c *Client) HTTPClient() *http.Client { return c.httpClient }

// SubmitTicket delivers one queued submission. The id travels as the
// idempotency key so a redelivery after a lost response is harmless.
func (c *Client) SubmitTicket(ctx context.Context, id string, payload map[string]any) error {
	resp, body, err := c.do(ctx, http.MethodPost, "/api/v1/kiosk/tickets", payload, map[string]string{
		HeaderIdempotencyKey: id,
	})
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp, body)
	}

	slog.Debug("Ticket delivered", "submission_id", id, "status_code", resp.StatusCode)
	return nil
}

func (c *Client) FetchConfig(ctx context.Context) (RemoteConfig, error) {
	resp, body, err := c.do(ctx, http.MethodGet, "/api/v1/kiosk/config", nil, nil)
	if err != nil {
		return RemoteConfig{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return RemoteConfig{}, statusError(resp, body)
	}

	var cfg RemoteConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return RemoteConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// PushConfig sends a local edit made against baseVersion and returns the
// version the backend assigned to the result.
func (c *Client) PushConfig(ctx context.Context, baseVersion int64, fields map[string]any) (int64, error) {
	resp, body, err := c.do(ctx, http.MethodPut, "/api/v1/kiosk/config", ConfigPushRequest{
		BaseVersion: baseVersion,
		Fields:      fields,
	}, nil)
	if err != nil {
		return 0, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusConflict:
		return 0, fmt.Errorf("%w: base version %d", ErrVersionConflict, baseVersion)
	default:
		return 0, statusError(resp, body)
	}

	var out ConfigPushResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("failed to decode config push response: %w", err)
	}
	return out.Version, nil
}

// ValidatePIN asks the backend to check an admin PIN. A rejected PIN is
// ErrUnauthorized.
func (c *Client) ValidatePIN(ctx context.Context, pin string) (PINValidation, error) {
	resp, body, err := c.do(ctx, http.MethodPost, "/api/v1/kiosk/admin/validate-pin", PINValidateRequest{PIN: pin}, nil)
	if err != nil {
		return PINValidation{}, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return PINValidation{}, ErrUnauthorized
	default:
		return PINValidation{}, statusError(resp, body)
	}

	var out PINValidation
	if err := json.Unmarshal(body, &out); err != nil {
		return PINValidation{}, fmt.Errorf("failed to decode pin validation: %w", err)
	}
	if !out.Valid {
		return PINValidation{}, ErrUnauthorized
	}
	return out, nil
}

// CheckActivation returns whatever the backend answered. Only transport
// failures are errors.
func (c *Client) CheckActivation(ctx context.Context) (ActivationResponse, error) {
	resp, body, err := c.do(ctx, http.MethodGet, "/api/v1/kiosk/activation", nil, nil)
	if err != nil {
		return ActivationResponse{}, err
	}

	out := ActivationResponse{StatusCode: resp.StatusCode}
	if resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(body, &out); err != nil {
			return ActivationResponse{}, fmt.Errorf("failed to decode activation: %w", err)
		}
		out.StatusCode = resp.StatusCode
	} else {
		out.Message = truncate(string(body), 256)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in any, headers map[string]string) (*http.Response, []byte, error) {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.deviceToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.deviceToken)
	}
	if c.deviceID != "" {
		req.Header.Set(HeaderDeviceID, c.deviceID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s %s: %v", ErrUnreachable, method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to read response body: %v", ErrUnreachable, err)
	}
	return resp, body, nil
}

func statusError(resp *http.Response, body []byte) error {
	return &StatusError{
		Method:     resp.Request.Method,
		Path:       resp.Request.URL.Path,
		StatusCode: resp.StatusCode,
		Body:       truncate(string(body), 256),
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
