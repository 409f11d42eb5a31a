package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/TimurManjosov/tgforwarder/internal/engine"
	"github.com/TimurManjosov/tgforwarder/internal/rules"
)

// ErrNotFound is returned when the server answers 404.
var ErrNotFound = errors.New("not found")

// Client is an HTTP client for the forwarder API
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// APIError carries the server's error envelope.
type APIError struct {
	Status  int               `json:"-"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("API error (status %d): %s", e.Status, e.Message)
	if e.Code != "" {
		msg = fmt.Sprintf("API error (status %d, %s): %s", e.Status, e.Code, e.Message)
	}
	for _, field := range slices.Sorted(maps.Keys(e.Fields)) {
		msg += fmt.Sprintf("\n  %s: %s", field, e.Fields[field])
	}
	return msg
}

func (e *APIError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// do sends body as JSON and decodes a 2xx response into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(bodyBytes, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = string(bodyBytes)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// ListRules pages through every stored rule.
func (c *Client) ListRules(ctx context.Context) ([]rules.FilterRule, error) {
	const page = 1000
	var all []rules.FilterRule
	for offset := 0; ; offset += page {
		q := url.Values{}
		q.Set("offset", strconv.Itoa(offset))
		q.Set("limit", strconv.Itoa(page))

		var batch []rules.FilterRule
		if err := c.do(ctx, http.MethodGet, "/rules?"+q.Encode(), nil, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < page {
			return all, nil
		}
	}
}

func (c *Client) GetRule(ctx context.Context, id string) (*rules.FilterRule, error) {
	var rule rules.FilterRule
	if err := c.do(ctx, http.MethodGet, "/rules/"+url.PathEscape(id), nil, &rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

// CreateRule stores rule and returns it with its assigned id.
func (c *Client) CreateRule(ctx context.Context, rule rules.FilterRule) (*rules.FilterRule, error) {
	var created rules.FilterRule
	if err := c.do(ctx, http.MethodPost, "/rules", rule, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateRule sends a partial update. Only the keys present in patch change.
func (c *Client) UpdateRule(ctx context.Context, id string, patch map[string]any) (*rules.FilterRule, error) {
	var updated rules.FilterRule
	if err := c.do(ctx, http.MethodPatch, "/rules/"+url.PathEscape(id), patch, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (c *Client) DeleteRule(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/rules/"+url.PathEscape(id), nil, nil)
}

// TestRule evaluates a stored rule against text.
func (c *Client) TestRule(ctx context.Context, id, text string) (bool, error) {
	var resp struct {
		Matches bool `json:"matches"`
	}
	body := map[string]string{"rule_id": id, "message_text": text}
	if err := c.do(ctx, http.MethodPost, "/rules/test", body, &resp); err != nil {
		return false, err
	}
	return resp.Matches, nil
}

// Evaluation is the result of evaluating an ad-hoc tree.
type Evaluation struct {
	Matched     bool                `json:"matched"`
	Diagnostics []engine.Diagnostic `json:"diagnostics"`
	Trace       engine.Trace        `json:"trace"`
}

func (c *Client) Evaluate(ctx context.Context, tree rules.LogicNode, msg engine.MessageRecord) (*Evaluation, error) {
	var out Evaluation
	body := map[string]any{"tree": tree, "message": msg}
	if err := c.do(ctx, http.MethodPost, "/v1/evaluate", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Generate asks the server to turn a description into a filter tree.
func (c *Client) Generate(ctx context.Context, prompt string) (*rules.LogicNode, error) {
	var out struct {
		Tree rules.LogicNode `json:"tree"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/generate", map[string]string{"prompt": prompt}, &out); err != nil {
		return nil, err
	}
	return &out.Tree, nil
}
