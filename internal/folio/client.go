// Package folio mirrors a session's unpaid items into the guest folio of a
// property-management system. The folio is a downstream convenience, never
// the source of truth: every call here is best-effort and the order flow
// does not block on it.
package folio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Line is one charge on a guest folio.
type Line struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Source      string          `json:"source"`
	CreatedBy   string          `json:"created_by,omitempty"`
}

// AddItemRequest is the body of an add-charge call.
type AddItemRequest struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Source      string          `json:"source"`
	CreatedBy   string          `json:"created_by,omitempty"`
}

// Client is the folio-ledger surface the engine consumes.
type Client interface {
	ListItems(ctx context.Context, folioID, source string) ([]Line, error)
	AddItem(ctx context.Context, folioID string, req AddItemRequest) (Line, error)
	RemoveItem(ctx context.Context, folioID, itemID string) error
}

// HTTPClient talks JSON to the property-management system's folio API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPClient) ListItems(ctx context.Context, folioID, source string) ([]Line, error) {
	path := fmt.Sprintf("/folios/%s/items", url.PathEscape(folioID))
	if source != "" {
		path += "?source=" + url.QueryEscape(source)
	}
	var lines []Line
	if err := c.do(ctx, http.MethodGet, path, nil, &lines); err != nil {
		return nil, err
	}
	return lines, nil
}

func (c *HTTPClient) AddItem(ctx context.Context, folioID string, req AddItemRequest) (Line, error) {
	path := fmt.Sprintf("/folios/%s/items", url.PathEscape(folioID))
	var line Line
	if err := c.do(ctx, http.MethodPost, path, req, &line); err != nil {
		return Line{}, err
	}
	return line, nil
}

func (c *HTTPClient) RemoveItem(ctx context.Context, folioID, itemID string) error {
	path := fmt.Sprintf("/folios/%s/items/%s",
		url.PathEscape(folioID), url.PathEscape(itemID))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = strings.NewReader(string(data))
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
