// Package client implements the HTTP client for the MsgBlast backend.
// Every authenticated request carries the bearer token and the device
// id; 401 responses with forceLogout are routed to a single registered
// handler so forced-logout handling is not duplicated per caller.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/msgblast/msgblast-go/internal/api"
	"github.com/msgblast/msgblast-go/internal/config"
	"github.com/msgblast/msgblast-go/internal/device"
	"github.com/msgblast/msgblast-go/internal/store"
)

// UnauthorizedHandler is invoked when the backend answers 401 with
// forceLogout set. It must be idempotent; the client may call it from
// any request path.
type UnauthorizedHandler func(message string)

// Client talks to the MsgBlast backend.
type Client struct {
	baseURL  string
	http     *http.Client
	store    store.Store
	identity *device.Identity
	breaker  *Breaker
	logger   *zap.Logger

	mu             sync.RWMutex
	onUnauthorized UnauthorizedHandler
}

// New creates a Client. The store supplies the bearer token; identity
// supplies the device id.
func New(cfg *config.APIConfig, s store.Store, identity *device.Identity, logger *zap.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		http: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		store:    s,
		identity: identity,
		breaker:  NewBreaker(&cfg.CircuitBreaker, logger),
		logger:   logger,
	}
}

// OnUnauthorized registers the forced-logout handler.
func (c *Client) OnUnauthorized(fn UnauthorizedHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthorized = fn
}

// Token returns the persisted bearer token, or "" when logged out.
func (c *Client) Token() string {
	token, err := c.store.Get(store.KeyToken)
	if err != nil {
		return ""
	}
	return token
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	return c.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if err := c.setAuthHeaders(req); err != nil {
			return err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer func() {
			if err := resp.Body.Close(); err != nil {
				c.logger.Warn("Failed to close response body", zap.Error(err))
			}
		}()

		if resp.StatusCode >= 400 {
			return c.decodeError(resp)
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("failed to decode response: %w", err)
			}
		}
		return nil
	})
}

// setAuthHeaders attaches the device id, and the bearer token when a
// session exists.
func (c *Client) setAuthHeaders(req *http.Request) error {
	deviceID, err := c.identity.DeviceID()
	if err != nil {
		return err
	}
	req.Header.Set("x-device-id", deviceID)
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// decodeError turns a non-2xx response into an APIError and feeds forced
// logouts to the registered handler.
func (c *Client) decodeError(resp *http.Response) error {
	var payload api.Error
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		payload = api.Error{}
	}

	apiErr := &APIError{
		StatusCode:    resp.StatusCode,
		Message:       payload.Message,
		ForceLogout:   payload.ForceLogout,
		RemainingTime: payload.RemainingTime,
	}

	c.logger.Debug("API error response",
		zap.Int("status", resp.StatusCode),
		zap.String("message", payload.Message),
		zap.Bool("forceLogout", payload.ForceLogout))

	if resp.StatusCode == http.StatusUnauthorized && payload.ForceLogout {
		c.mu.RLock()
		handler := c.onUnauthorized
		c.mu.RUnlock()
		if handler != nil {
			handler(payload.Message)
		}
	}

	return apiErr
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, "", out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	return c.do(ctx, http.MethodPost, path, body, "application/json", out)
}

// CheckSession probes session liveness.
func (c *Client) CheckSession(ctx context.Context) error {
	return c.getJSON(ctx, "/check-session", nil)
}

// Logout tears down the server-side session. Best-effort callers swallow
// the error.
func (c *Client) Logout(ctx context.Context) error {
	return c.postJSON(ctx, "/logout", nil, nil)
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, req api.LoginRequest) (*api.LoginResponse, error) {
	var resp api.LoginResponse
	if err := c.postJSON(ctx, "/login", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UserInstance reports whether the account already owns an instance.
func (c *Client) UserInstance(ctx context.Context) (*api.UserInstanceResponse, error) {
	var resp api.UserInstanceResponse
	if err := c.getJSON(ctx, "/user-instance", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SaveInstance provisions a new messaging instance.
func (c *Client) SaveInstance(ctx context.Context, req api.SaveInstanceRequest) error {
	return c.postJSON(ctx, "/save-instance", req, nil)
}

// Status fetches the device-link state of an instance.
func (c *Client) Status(ctx context.Context, instanceID string) (*api.StatusResponse, error) {
	var resp api.StatusResponse
	if err := c.getJSON(ctx, "/"+instanceID+"/status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QRCode fetches the pairing QR payload for an instance.
func (c *Client) QRCode(ctx context.Context, instanceID string) (*api.QRCodeResponse, error) {
	var resp api.QRCodeResponse
	if err := c.getJSON(ctx, "/"+instanceID+"/qrcode", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reset invalidates the current device link.
func (c *Client) Reset(ctx context.Context, instanceID string) error {
	return c.postJSON(ctx, "/"+instanceID+"/reset", struct{}{}, nil)
}

// UploadCSV sends a recipient table for parsing.
func (c *Client) UploadCSV(ctx context.Context, instanceID, filename string, r io.Reader) (*api.CSVUploadResponse, error) {
	var resp api.CSVUploadResponse
	if err := c.uploadFile(ctx, "/"+instanceID+"/upload-csv", filename, r, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UploadMedia stages a media attachment.
func (c *Client) UploadMedia(ctx context.Context, instanceID, filename string, r io.Reader) (*api.MediaUploadResponse, error) {
	var resp api.MediaUploadResponse
	if err := c.uploadFile(ctx, "/"+instanceID+"/upload-media", filename, r, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) uploadFile(ctx context.Context, path, filename string, r io.Reader, out any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("failed to create multipart field: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("failed to read upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize multipart body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, &buf, w.FormDataContentType(), out)
}

// SendMedia dispatches a personalized batch.
func (c *Client) SendMedia(ctx context.Context, instanceID string, req api.SendMediaRequest) (*api.SendMediaResponse, error) {
	var resp api.SendMediaResponse
	if err := c.postJSON(ctx, "/"+instanceID+"/send-media", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckSubscription asks the entitlement gate.
func (c *Client) CheckSubscription(ctx context.Context, instanceID string) (*api.CheckSubscriptionResponse, error) {
	var resp api.CheckSubscriptionResponse
	if err := c.getJSON(ctx, "/"+instanceID+"/check-subscription", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Subscription fetches usage stats.
func (c *Client) Subscription(ctx context.Context, instanceID string) (*api.SubscriptionResponse, error) {
	var resp api.SubscriptionResponse
	if err := c.getJSON(ctx, "/"+instanceID+"/subscription", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SampleCSV downloads the recipient template users fill in before
// uploading. The payload is raw CSV, not JSON.
func (c *Client) SampleCSV(ctx context.Context) ([]byte, error) {
	var data []byte
	err := c.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sample.csv", nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		if err := c.setAuthHeaders(req); err != nil {
			return err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer func() {
			if err := resp.Body.Close(); err != nil {
				c.logger.Warn("Failed to close response body", zap.Error(err))
			}
		}()

		if resp.StatusCode >= 400 {
			return c.decodeError(resp)
		}
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read sample file: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// BreakerStatus exposes the circuit breaker state for diagnostics.
func (c *Client) BreakerStatus() (state string, requests, failures uint32) {
	requests, failures = c.breaker.Counts()
	return c.breaker.State().String(), requests, failures
}
