package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// QueryResult is the body returned by the payment query endpoint.
type QueryResult struct {
	Success bool   `json:"success"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}

// Terminal is true for a confirmed success or failure.
func (r *QueryResult) Terminal() bool {
	return r.Outcome == "success" || r.Outcome == "failed"
}

// Client calls GET /payments/query on a running server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Query asks the server for the current outcome of a provider handle. Auth and
// lookup failures are returned as StopError; server errors are plain errors so
// the poller tries again.
func (c *Client) Query(ctx context.Context, handle string) (*QueryResult, error) {
	endpoint := c.baseURL + "/payments/query?handle=" + url.QueryEscape(handle)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, Stop(err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var result QueryResult
	decodeErr := json.Unmarshal(raw, &result)

	switch {
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound:
		return nil, Stop(fmt.Errorf("query rejected with status %d: %s", resp.StatusCode, result.Message))
	case decodeErr != nil:
		return nil, fmt.Errorf("decode query response (status %d): %w", resp.StatusCode, decodeErr)
	case resp.StatusCode >= http.StatusInternalServerError:
		return &result, fmt.Errorf("query returned status %d: %s", resp.StatusCode, result.Message)
	}
	return &result, nil
}

// Await polls the query endpoint until the payment reaches a terminal outcome.
func (c *Client) Await(ctx context.Context, p *Poller, handle string) (*QueryResult, error) {
	var last *QueryResult
	err := p.Poll(ctx, func(ctx context.Context, attempt int) (bool, error) {
		res, err := c.Query(ctx, handle)
		if res != nil {
			last = res
		}
		if err != nil {
			return false, err
		}
		return res.Terminal(), nil
	})
	return last, err
}
