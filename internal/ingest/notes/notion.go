package notes

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

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultBaseURL is the Notion REST endpoint.
	DefaultBaseURL = "https://api.notion.com/v1"

	notionVersion   = "2022-06-28"
	defaultPageSize = 100
	maxFetchRetries = 3

	// DefaultRequestDelay spaces requests out below the provider's rate
	// limit (~3 req/s).
	DefaultRequestDelay = 350 * time.Millisecond
)

// textBearingTypes are the block types whose rich text participates in leaf
// detection. Container-only types (child_page, table, divider, ...) never
// become leaves themselves.
var textBearingTypes = map[string]bool{
	"paragraph":          true,
	"heading_1":          true,
	"heading_2":          true,
	"heading_3":          true,
	"bulleted_list_item": true,
	"numbered_list_item": true,
	"to_do":              true,
	"quote":              true,
	"callout":            true,
	"toggle":             true,
	"code":               true,
}

// NotionClient implements PageSource against the Notion REST API.
type NotionClient struct {
	BaseURL      string
	APIToken     string
	PageSize     int
	RequestDelay time.Duration
	HTTPClient   *http.Client

	// newBackOff returns a fresh retry policy per fetch. Overridden in tests.
	newBackOff func() backoff.BackOff
}

// NewNotionClient creates a client with production defaults. An empty
// baseURL falls back to the public endpoint.
func NewNotionClient(apiToken, baseURL string) *NotionClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &NotionClient{
		BaseURL:      strings.TrimSuffix(baseURL, "/"),
		APIToken:     apiToken,
		PageSize:     defaultPageSize,
		RequestDelay: DefaultRequestDelay,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type listResponse struct {
	Results    []json.RawMessage `json:"results"`
	HasMore    bool              `json:"has_more"`
	NextCursor string            `json:"next_cursor"`
}

// SearchPages discovers every page in the workspace, following cursors
// until exhausted.
func (c *NotionClient) SearchPages(ctx context.Context) ([]Page, error) {
	var pages []Page
	cursor := ""
	for {
		body := map[string]interface{}{
			"filter":    map[string]string{"property": "object", "value": "page"},
			"page_size": c.pageSize(),
		}
		if cursor != "" {
			body["start_cursor"] = cursor
		}
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal search request: %w", err)
		}

		respBody, err := c.fetchWithRetry(ctx, "POST", c.BaseURL+"/search", data)
		if err != nil {
			return nil, fmt.Errorf("search pages: %w", err)
		}

		var list listResponse
		if err := json.Unmarshal(respBody, &list); err != nil {
			return nil, fmt.Errorf("parse search response: %w", err)
		}
		for _, raw := range list.Results {
			p, err := parsePage(raw)
			if err != nil {
				continue
			}
			pages = append(pages, p)
		}

		if !list.HasMore || list.NextCursor == "" {
			return pages, nil
		}
		cursor = list.NextCursor
	}
}

// GetPage fetches a single page by id.
func (c *NotionClient) GetPage(ctx context.Context, pageID string) (*Page, error) {
	respBody, err := c.fetchWithRetry(ctx, "GET", c.BaseURL+"/pages/"+url.PathEscape(pageID), nil)
	if err != nil {
		return nil, fmt.Errorf("get page %s: %w", pageID, err)
	}
	p, err := parsePage(respBody)
	if err != nil {
		return nil, fmt.Errorf("parse page %s: %w", pageID, err)
	}
	return &p, nil
}

// ChildBlocks lists the direct children of a page or block, following
// cursors until exhausted.
func (c *NotionClient) ChildBlocks(ctx context.Context, blockID string) ([]Block, error) {
	var blocks []Block
	cursor := ""
	for {
		params := url.Values{"page_size": {fmt.Sprintf("%d", c.pageSize())}}
		if cursor != "" {
			params.Set("start_cursor", cursor)
		}
		apiURL := fmt.Sprintf("%s/blocks/%s/children?%s", c.BaseURL, url.PathEscape(blockID), params.Encode())

		respBody, err := c.fetchWithRetry(ctx, "GET", apiURL, nil)
		if err != nil {
			return nil, fmt.Errorf("children of %s: %w", blockID, err)
		}

		var list listResponse
		if err := json.Unmarshal(respBody, &list); err != nil {
			return nil, fmt.Errorf("parse children response: %w", err)
		}
		for _, raw := range list.Results {
			b, err := parseBlock(raw)
			if err != nil {
				continue
			}
			blocks = append(blocks, b)
		}

		if !list.HasMore || list.NextCursor == "" {
			return blocks, nil
		}
		cursor = list.NextCursor
	}
}

func (c *NotionClient) pageSize() int {
	if c.PageSize > 0 {
		return c.PageSize
	}
	return defaultPageSize
}

// apiError carries the provider status code for retry classification.
type apiError struct {
	StatusCode int
	Body       string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("notion API returned %d: %s", e.StatusCode, e.Body)
}

func (e *apiError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// fetchBackOff builds the per-fetch retry policy. BackOff implementations
// are stateful; always use a fresh instance.
func (c *NotionClient) fetchBackOff() backoff.BackOff {
	if c.newBackOff != nil {
		return c.newBackOff()
	}
	return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxFetchRetries)
}

// fetchWithRetry runs one request under exponential backoff. Rate limits,
// server errors, and transport failures retry up to maxFetchRetries; other
// statuses fail immediately.
func (c *NotionClient) fetchWithRetry(ctx context.Context, method, apiURL string, body []byte) ([]byte, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}

	bo := c.fetchBackOff()
	var out []byte
	op := func() error {
		respBody, err := c.doRequest(ctx, method, apiURL, body)
		if err != nil {
			var httpErr *apiError
			if errors.As(err, &httpErr) && !httpErr.retryable() {
				return backoff.Permanent(err)
			}
			return err
		}
		out = respBody
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return out, nil
}

// throttle enforces the inter-request delay.
func (c *NotionClient) throttle(ctx context.Context) error {
	if c.RequestDelay <= 0 {
		return nil
	}
	select {
	case <-time.After(c.RequestDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// doRequest executes an authenticated request and returns the response body.
func (c *NotionClient) doRequest(ctx context.Context, method, apiURL string, body []byte) ([]byte, error) {
	if c.APIToken == "" {
		return nil, fmt.Errorf("notion API token not configured")
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.APIToken)
	req.Header.Set("Notion-Version", notionVersion)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &apiError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

type richText struct {
	PlainText string `json:"plain_text"`
}

// parsePage maps a provider page object. The title lives in whichever
// property carries type "title".
func parsePage(raw json.RawMessage) (Page, error) {
	var p struct {
		ID             string                     `json:"id"`
		URL            string                     `json:"url"`
		LastEditedTime time.Time                  `json:"last_edited_time"`
		Properties     map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return Page{}, fmt.Errorf("parse page object: %w", err)
	}
	if p.ID == "" {
		return Page{}, fmt.Errorf("page object has no id")
	}

	title := ""
	for _, propRaw := range p.Properties {
		var prop struct {
			Type  string     `json:"type"`
			Title []richText `json:"title"`
		}
		if err := json.Unmarshal(propRaw, &prop); err != nil {
			continue
		}
		if prop.Type == "title" {
			title = joinPlainText(prop.Title)
			break
		}
	}

	return Page{
		ID:           p.ID,
		Title:        title,
		URL:          p.URL,
		LastEditedAt: p.LastEditedTime,
	}, nil
}

// parseBlock maps a provider block object. The text payload lives in the
// field named after the block type.
func parseBlock(raw json.RawMessage) (Block, error) {
	var b struct {
		ID             string    `json:"id"`
		Type           string    `json:"type"`
		HasChildren    bool      `json:"has_children"`
		LastEditedTime time.Time `json:"last_edited_time"`
	}
	if err := json.Unmarshal(raw, &b); err != nil {
		return Block{}, fmt.Errorf("parse block object: %w", err)
	}
	if b.ID == "" {
		return Block{}, fmt.Errorf("block object has no id")
	}

	text := ""
	if textBearingTypes[b.Type] {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err == nil {
			var payload struct {
				RichText []richText `json:"rich_text"`
			}
			if err := json.Unmarshal(fields[b.Type], &payload); err == nil {
				text = joinPlainText(payload.RichText)
			}
		}
	}

	return Block{
		ID:           b.ID,
		Type:         b.Type,
		HasChildren:  b.HasChildren,
		TextBearing:  textBearingTypes[b.Type],
		Text:         text,
		LastEditedAt: b.LastEditedTime,
	}, nil
}

func joinPlainText(parts []richText) string {
	var sb strings.Builder
	for _, rt := range parts {
		sb.WriteString(rt.PlainText)
	}
	return sb.String()
}
