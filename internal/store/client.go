package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to the record-store service. The store exposes generic
// collection routes:
//
//	GET   /{collection}/getOne/{id}
//	POST  /{collection}/create
//	PATCH /{collection}/update/{id}
type Client struct {
	baseURL string
	client  *http.Client
}

// Record is one row of a collection, loosely typed the way the store
// returns it.
type Record map[string]any

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Get fetches one record by id.
func (c *Client) Get(ctx context.Context, collection, id string) (Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/%s/getOne/%s", c.baseURL, collection, id), nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// Create inserts a record.
func (c *Client) Create(ctx context.Context, collection string, fields Record) (Record, error) {
	req, err := c.jsonRequest(ctx, http.MethodPost,
		fmt.Sprintf("%s/%s/create", c.baseURL, collection), fields)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// Update patches an existing record.
func (c *Client) Update(ctx context.Context, collection, id string, fields Record) error {
	req, err := c.jsonRequest(ctx, http.MethodPatch,
		fmt.Sprintf("%s/%s/update/%s", c.baseURL, collection, id), fields)
	if err != nil {
		return err
	}
	_, err = c.do(req)
	return err
}

func (c *Client) jsonRequest(ctx context.Context, method, url string, fields Record) (*http.Request, error) {
	body, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request) (Record, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("store request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("store returned %d: %s", resp.StatusCode, string(body))
	}

	var rec Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode store response: %w", err)
	}
	return rec, nil
}

// str reads a string field from a record.
func (r Record) str(key string) string {
	s, _ := r[key].(string)
	return s
}

// num reads a numeric field from a record; JSON numbers arrive as float64.
func (r Record) num(key string) int {
	switch v := r[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
