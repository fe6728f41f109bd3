package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/lora-relay/internal/api"
)

const requestTimeout = 15 * time.Second

// client calls the relay management API.
type client struct {
	baseURL string
	token   string
	http    *http.Client
}

func newClient(baseURL, token string) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// apiError is a structured error response from the relay.
type apiError struct {
	body api.Error
}

func (e *apiError) Error() string {
	if e.body.Message == "" {
		return fmt.Sprintf("relay returned %d %s", e.body.Status, e.body.Code)
	}
	return fmt.Sprintf("relay returned %d %s: %s", e.body.Status, e.body.Code, e.body.Message)
}

// do sends body as JSON (when non-nil) and decodes the response into out
// (when non-nil). Non-2xx responses are returned as *apiError.
func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e apiError
		if decErr := json.NewDecoder(resp.Body).Decode(&e.body); decErr != nil || e.body.Code == "" {
			e.body = api.Error{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode)}
		}
		return &e
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
