package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pos-sync-service/internal/store"
)

// Client speaks the billing server's HTTP protocol: form-encoded sale posts
// and JSON read APIs. It is the only component that knows the wire format.
type Client struct {
	baseURL  string
	salePath string
	http     *http.Client
}

func NewClient(baseURL, salePath string, timeout time.Duration) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		salePath: salePath,
		http: &http.Client{
			Timeout: timeout,
			// Sale posts are acknowledged with a redirect; following it would
			// re-render a page we do not need.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// SaleError is a non-2xx acknowledgement from the server.
type SaleError struct {
	StatusCode int
}

func (e *SaleError) Error() string {
	return fmt.Sprintf("server rejected sale: status %d", e.StatusCode)
}

// RecordSale posts one sale. idempotencyKey is the client-generated token the
// server deduplicates on; it must be identical on every replay of the same
// queued operation. Any 2xx (or the server's post-redirect 3xx) counts as an
// acknowledgement.
func (c *Client) RecordSale(ctx context.Context, saleType string, itemID int64, quantity float64, unitPrice, paidAmount float64, customerID int64, idempotencyKey string) error {
	form := url.Values{}
	form.Set("sale_type", saleType)
	form.Set("item_id", strconv.FormatInt(itemID, 10))
	form.Set("quantity", strconv.FormatFloat(quantity, 'f', -1, 64))
	form.Set("unit_price", strconv.FormatFloat(unitPrice, 'f', -1, 64))
	form.Set("paid_amount", strconv.FormatFloat(paidAmount, 'f', -1, 64))
	form.Set("idempotency_key", idempotencyKey)
	if customerID != 0 {
		form.Set("customer_id", strconv.FormatInt(customerID, 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.salePath, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build sale request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Idempotency-Key", idempotencyKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sale request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return nil
	}
	return &SaleError{StatusCode: resp.StatusCode}
}

func (c *Client) ListCustomers(ctx context.Context) ([]*store.Customer, error) {
	var out []*store.Customer
	if err := c.getJSON(ctx, "/api/customers", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SearchCustomers(ctx context.Context, query string) ([]*store.Customer, error) {
	var out []*store.Customer
	path := "/api/customers/search?q=" + url.QueryEscape(query)
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListItems(ctx context.Context) ([]*store.Item, error) {
	var out []*store.Item
	if err := c.getJSON(ctx, "/api/items", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", path, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("GET %s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("GET %s: decode failed: %w", path, err)
	}
	return nil
}
