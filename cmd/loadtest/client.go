package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

type stock struct {
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
	Reserved  int64  `json:"reserved"`
}

// shopClient — минимальный клиент складских эндпоинтов shop-service.
type shopClient struct {
	base string
	http *http.Client
}

func newShopClient(cfg config) *shopClient {
	return &shopClient{
		base: cfg.addr,
		http: &http.Client{
			Timeout: cfg.timeout,
			Transport: &http.Transport{
				MaxIdleConns:        cfg.concurrency,
				MaxIdleConnsPerHost: cfg.concurrency,
			},
		},
	}
}

func (c *shopClient) do(ctx context.Context, method, path string, out interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
		}
		return resp.StatusCode, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func inventoryPath(productID, suffix string) string {
	return "/api/inventory/" + url.PathEscape(productID) + suffix
}

func (c *shopClient) stock(ctx context.Context, productID string) (stock, error) {
	var s stock
	status, err := c.do(ctx, http.MethodGet, inventoryPath(productID, ""), &s)
	if err != nil {
		return stock{}, err
	}
	if status != http.StatusOK {
		return stock{}, fmt.Errorf("unexpected status %d", status)
	}
	return s, nil
}

func (c *shopClient) available(ctx context.Context, productID string) (int, error) {
	return c.do(ctx, http.MethodGet, inventoryPath(productID, "/available"), nil)
}

func (c *shopClient) reserve(ctx context.Context, productID string, qty int64) (int, error) {
	return c.do(ctx, http.MethodPut, inventoryPath(productID, fmt.Sprintf("/reserve?quantity=%d", qty)), nil)
}

func (c *shopClient) restock(ctx context.Context, productID string, qty int64) (int, error) {
	return c.do(ctx, http.MethodPost, inventoryPath(productID, fmt.Sprintf("/restock?quantity=%d", qty)), nil)
}
