package cmd

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

	"github.com/GoPolymarket/polyguard/internal/middleware"
	"github.com/GoPolymarket/polyguard/internal/pkg/apperrors"
)

// Client is a thin JSON client for /v1/admin.
type Client struct {
	base string
	key  string
	http *http.Client
}

func NewClient(base, key string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		key:  key,
		http: &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx response carrying the server's error body.
type APIError struct {
	Status int
	Body   apperrors.AppError
}

func (e *APIError) Error() string {
	if e.Body.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	msg := fmt.Sprintf("%s (%d): %s", e.Body.Type, e.Status, e.Body.Message)
	if e.Body.Suggestion != "" {
		msg += "\n  hint: " + e.Body.Suggestion
	}
	return msg
}

func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+"/v1/admin"+path, r)
	if err != nil {
		return err
	}
	req.Header.Set(middleware.HeaderAdminKey, c.key)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, &apiErr.Body)
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
