package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/and161185/memgate/internal/authctx"
)

// client is a thin JSON-over-HTTP wrapper around the gate's endpoints.
type client struct {
	base string
	key  string
	http *http.Client
}

func newClient(base, key string, hc *http.Client) *client {
	return &client{base: strings.TrimRight(base, "/"), key: key, http: hc}
}

// apiError is a non-2xx response decoded from the server's error body.
type apiError struct {
	Status            int    `json:"-"`
	Code              string `json:"error"`
	Message           string `json:"message"`
	AttemptsRemaining *int   `json:"attempts_remaining"`
	RetryAfter        int    `json:"retry_after"`
}

func (e *apiError) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.AttemptsRemaining != nil {
		fmt.Fprintf(&b, " (%d attempts remaining)", *e.AttemptsRemaining)
	}
	if e.RetryAfter > 0 {
		fmt.Fprintf(&b, " (retry after %ds)", e.RetryAfter)
	}
	return b.String()
}

func (c *client) call(ctx context.Context, method, path string, in any) (int, []byte, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return 0, nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.key != "" {
		req.Header.Set(authctx.HeaderAPIKey, c.key)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, raw, err
}

func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	status, raw, err := c.call(ctx, method, path, in)
	if err != nil {
		return err
	}
	if status >= 300 {
		return decodeError(status, raw)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func decodeError(status int, raw []byte) error {
	ae := &apiError{Status: status}
	if err := json.Unmarshal(raw, ae); err != nil || ae.Code == "" {
		ae.Code = http.StatusText(status)
		ae.Message = strings.TrimSpace(string(raw))
	}
	return ae
}

type device struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type credential struct {
	APIKey   string    `json:"api_key"`
	DeviceID string    `json:"device_id"`
	User     string    `json:"user"`
	IssuedAt time.Time `json:"issued_at"`
}

// login runs the two-step handshake and returns the issued credential.
func (c *client) login(ctx context.Context, user, passphrase string, d device) (credential, error) {
	var kr struct {
		Challenge string `json:"challenge"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/knock", map[string]any{"device": d}, &kr); err != nil {
		return credential{}, err
	}
	var cred credential
	err := c.do(ctx, http.MethodPost, "/auth/exchange", map[string]any{
		"challenge":  kr.Challenge,
		"passphrase": passphrase,
		"user_id":    user,
	}, &cred)
	return cred, err
}

type deviceRow struct {
	DeviceID string    `json:"device_id"`
	Type     string    `json:"type"`
	Name     string    `json:"name"`
	IssuedAt time.Time `json:"issued_at"`
	LastUsed time.Time `json:"last_used"`
	Active   bool      `json:"active"`
}

func (c *client) devices(ctx context.Context) ([]deviceRow, error) {
	var out struct {
		Devices []deviceRow `json:"devices"`
	}
	err := c.do(ctx, http.MethodGet, "/auth/devices", nil, &out)
	return out.Devices, err
}

type verifyResult struct {
	Verified      bool    `json:"verified"`
	UserID        string  `json:"userId"`
	Confidence    float64 `json:"confidence"`
	RecoveryToken string  `json:"recoveryToken"`
}

// verify submits a writing sample. A non-match is a result, not an error.
func (c *client) verify(ctx context.Context, sample string) (verifyResult, error) {
	var res verifyResult
	status, raw, err := c.call(ctx, http.MethodPost, "/auth/verify-stylometry", map[string]string{"sample": sample})
	if err != nil {
		return res, err
	}
	if status != http.StatusOK && status != http.StatusUnauthorized {
		return res, decodeError(status, raw)
	}
	if err := json.Unmarshal(raw, &res); err != nil || (status == http.StatusUnauthorized && res.Verified) {
		return res, decodeError(status, raw)
	}
	return res, nil
}
