// Package apiclient talks to the board API on behalf of drag clients.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pinboard/api/internal/boardtree"
)

// Client wraps http.Client with the board API routes.
type Client struct {
	BaseURL string
	Bearer  string
	HTTP    *http.Client
}

// New creates a new Client.
func New(baseURL, bearer string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Bearer:  bearer,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

// StatusError is a non-2xx API response.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("board api: status %d", e.Status)
	}
	return fmt.Sprintf("board api: status %d: %s: %s", e.Status, e.Code, e.Message)
}

// FetchTree loads the authoritative tree of boardID.
func (c *Client) FetchTree(ctx context.Context, boardID string) (boardtree.Tree, error) {
	var tree boardtree.Tree
	err := c.do(ctx, http.MethodGet, "/api/boards/"+url.PathEscape(boardID)+"/tree", nil, &tree)
	return tree, err
}

// ReorderCard moves cardID and returns the card as stored by the server.
func (c *Client) ReorderCard(ctx context.Context, cardID string, move boardtree.CardMove) (boardtree.Card, error) {
	var card boardtree.Card
	err := c.do(ctx, http.MethodPut, "/api/cards/"+url.PathEscape(cardID)+"/reorder", move, &card)
	return card, err
}

// ReorderList moves listID within its board.
func (c *Client) ReorderList(ctx context.Context, listID string, move boardtree.ListMove) (boardtree.List, error) {
	var list boardtree.List
	err := c.do(ctx, http.MethodPut, "/api/lists/"+url.PathEscape(listID)+"/reorder", move, &list)
	return list, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		return &StatusError{Status: resp.StatusCode, Code: payload.Code, Message: payload.Error}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return nil
}
