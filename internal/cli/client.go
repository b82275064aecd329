package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/privymarket/internal/crypto"
)

// APIError is a non-2xx response from the ledger API.
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api: HTTP %d", e.Status)
	}
	return fmt.Sprintf("api: %s (HTTP %d): %s", e.Code, e.Status, e.Message)
}

// Client calls the ledger HTTP API. Requests are signed when a signer is set.
type Client struct {
	base   *url.URL
	signer *crypto.Signer
	http   *http.Client
	now    func() time.Time
}

// NewClient creates a Client for the server at baseURL. signer may be nil for
// read-only use.
func NewClient(baseURL string, signer *crypto.Signer, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("cli: parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("cli: server url must be http or https, got %q", baseURL)
	}
	return &Client{
		base:   u,
		signer: signer,
		http:   &http.Client{Timeout: timeout},
		now:    time.Now,
	}, nil
}

// Get issues an unsigned GET and decodes the response into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, false, out)
}

// Post issues a signed POST with body encoded as JSON.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, true, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, sign bool, out any) error {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = query.Encode()

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("cli: encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("cli: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sign {
		if c.signer == nil {
			return fmt.Errorf("cli: %s %s needs a key (--key-file or --private-key)", method, path)
		}
		headers, err := c.signer.RequestHeaders(c.now().Unix(), method, req.URL.RequestURI(), payload)
		if err != nil {
			return fmt.Errorf("cli: sign request: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cli: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("cli: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("cli: decode response: %w", err)
	}
	return nil
}
