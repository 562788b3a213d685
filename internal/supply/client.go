// Package supply is the client for the marketplace fulfillment API: paginated
// order discovery, batched order details, and bundle composition resolution.
// All calls are sequential and rate-limit aware; one shared limit upstream
// means no fan-out here.
package supply

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"leadtime-engine/internal/domain"
	"leadtime-engine/internal/observability"
)

// Default configuration values.
const (
	DefaultTimeout       = 20 * time.Second
	DefaultRetryAfterCap = 2500 * time.Millisecond
	DefaultListLimit     = 100
	DefaultGetBatch      = 50

	listPath   = "/v3/supply-order/list"
	getPath    = "/v3/supply-order/get"
	bundlePath = "/v1/supply-order/bundle"
)

// Client talks to the fulfillment API.
type Client struct {
	baseURL       string
	clientID      string
	apiKey        string
	client        *http.Client
	retryAfterCap time.Duration
	getBatch      int

	// lastRetryAfter holds the server-hinted delay from the most recent
	// rate-limit response. Calls are sequential, so no locking.
	lastRetryAfter time.Duration

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration)
}

// Option configures Client.
type Option func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithRetryAfterCap caps how long a server-hinted rate-limit delay is honored.
func WithRetryAfterCap(d time.Duration) Option {
	return func(c *Client) {
		c.retryAfterCap = d
	}
}

// WithGetBatch sets the detail-call batch cap.
func WithGetBatch(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.getBatch = n
		}
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// NewClient creates a fulfillment API client. Credentials ride in request
// headers on every call.
func NewClient(baseURL, clientID, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:       baseURL,
		clientID:      clientID,
		apiKey:        apiKey,
		client:        &http.Client{Timeout: DefaultTimeout},
		retryAfterCap: DefaultRetryAfterCap,
		getBatch:      DefaultGetBatch,
		sleep: func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListOrderIDs returns one page of order ids in the given statuses, plus the
// cursor for the next page. If the primary paging key shows no forward
// progress, the alternate key is tried once; upstream has silently renamed
// the cursor field before.
func (c *Client) ListOrderIDs(ctx context.Context, statuses []string, fromID int64, limit int) ([]int64, int64, error) {
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	normalized := make([]string, 0, len(statuses))
	seen := make(map[string]bool)
	for _, s := range statuses {
		norm := domain.NormalizeStatus(s)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		normalized = append(normalized, norm)
	}

	call := func(pagingKey string) ([]int64, int64, error) {
		payload := map[string]any{
			"filter": map[string]any{"states": normalized},
			"paging": map[string]any{pagingKey: fromID, "limit": limit},
		}
		var body envelope
		if err := c.postJSON(ctx, listPath, payload, &body); err != nil {
			return nil, 0, err
		}
		ids := body.pickIDList("order_ids", "supply_order_id", "ids")
		next := body.pickInt64("last_supply_order_id", "last_order_id", "last_id")
		return ids, next, nil
	}

	ids, next, err := call("from_supply_order_id")
	if err != nil {
		return nil, 0, err
	}

	// Stagnant cursor past the first page: try the alternate paging key and
	// keep whichever response actually moves forward.
	if fromID > 0 && next <= fromID {
		altIDs, altNext, altErr := call("from_order_id")
		if altErr == nil && (len(altIDs) > 0 || (altNext > next && altNext != fromID)) {
			return altIDs, altNext, nil
		}
	}
	return ids, next, nil
}

// GetOrders fetches full order details for up to the batch cap of ids.
func (c *Client) GetOrders(ctx context.Context, ids []int64) ([]Order, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > c.getBatch {
		ids = ids[:c.getBatch]
	}
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = strconv.FormatInt(id, 10)
	}
	var body envelope
	if err := c.postJSON(ctx, getPath, map[string]any{"order_ids": strIDs}, &body); err != nil {
		return nil, err
	}
	raw, ok := body.pick("orders")
	if !ok {
		return nil, nil
	}
	var orders []Order
	if err := json.Unmarshal(raw, &orders); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}
	return orders, nil
}

// ResolveBundle pages through one bundle's composition and returns its
// (sku, quantity) pairs. Non-positive quantities default to 1.
func (c *Client) ResolveBundle(ctx context.Context, bundleID string) ([]domain.CompositionItem, error) {
	var items []domain.CompositionItem
	lastID := ""
	for {
		payload := map[string]any{
			"bundle_ids": []string{bundleID},
			"limit":      100,
			"is_asc":     true,
		}
		if lastID != "" {
			payload["last_id"] = lastID
		}
		var page bundlePage
		if err := c.postJSON(ctx, bundlePath, payload, &page); err != nil {
			return nil, err
		}
		for _, it := range page.Items {
			if it.SKU == 0 {
				continue
			}
			qty := 1.0
			if it.Quantity != nil && *it.Quantity > 0 {
				qty = *it.Quantity
			}
			items = append(items, domain.CompositionItem{SKU: it.SKU, Quantity: qty})
		}
		if !page.HasNext || page.LastID == "" {
			return items, nil
		}
		lastID = page.LastID
	}
}

// postJSON performs one POST. On a rate-limit response it sleeps for
// min(server-hinted delay, cap) plus jitter and retries the same request
// once before giving up on the page.
func (c *Client) postJSON(ctx context.Context, path string, payload, result any) error {
	status, err := c.doPost(ctx, path, payload, result)
	if err != nil {
		return err
	}
	if status != http.StatusTooManyRequests {
		return nil
	}
	c.sleep(ctx, c.rateLimitDelay())
	status, err = c.doPost(ctx, path, payload, result)
	if err != nil {
		return err
	}
	if status == http.StatusTooManyRequests {
		return fmt.Errorf("%s: rate limited twice", path)
	}
	return nil
}

func (c *Client) doPost(ctx context.Context, path string, payload, result any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("request %s: %w", path, err)
	}
	req.Header.Set("Client-Id", c.clientID)
	req.Header.Set("Api-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		observability.DefaultMetrics.RateLimitHits.Inc()
		c.lastRetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, result); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
	}
	return resp.StatusCode, nil
}

func (c *Client) rateLimitDelay() time.Duration {
	delay := c.lastRetryAfter
	if delay <= 0 {
		delay = time.Second
	}
	if delay > c.retryAfterCap {
		delay = c.retryAfterCap
	}
	return delay + time.Duration(rand.Int63n(int64(200*time.Millisecond)))
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(header, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return 0
}
