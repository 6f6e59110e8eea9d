package keeper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"veilperp/internal/query"
)

// Client reads the ledger's query API. Responses are projection reads and
// may trail the engine; the engine re-validates every command anyway.
type Client struct {
	baseURL string
	limit   int
	http    *http.Client
}

func NewClient(baseURL string, scanLimit int) *Client {
	return &Client{
		baseURL: baseURL,
		limit:   scanLimit,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) Instruments(ctx context.Context) ([]query.InstrumentResponse, error) {
	var resp struct {
		Instruments []query.InstrumentResponse `json:"instruments"`
	}
	if err := c.get(ctx, "/v1/instruments", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Instruments, nil
}

func (c *Client) OpenPositions(ctx context.Context) ([]query.PositionResponse, error) {
	var resp struct {
		Positions []query.PositionResponse `json:"positions"`
	}
	params := url.Values{"limit": {strconv.Itoa(c.limit)}}
	if err := c.get(ctx, "/v1/positions/open", params, &resp); err != nil {
		return nil, err
	}
	return resp.Positions, nil
}

func (c *Client) PendingOrders(ctx context.Context) ([]query.OrderResponse, error) {
	var resp struct {
		Orders []query.OrderResponse `json:"orders"`
	}
	params := url.Values{"limit": {strconv.Itoa(c.limit)}}
	if err := c.get(ctx, "/v1/orders/pending", params, &resp); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}
