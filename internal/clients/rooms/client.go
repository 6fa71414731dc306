// Package rooms is the HTTP client for the Room Inventory service. Occupy and
// Release are the remote compare-and-set pair the stay service relies on, so
// every call runs through a circuit breaker and maps transport failures to the
// unavailable error kind.
package rooms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/caresuite/go-ebe/internal/domain/errs"
	"github.com/caresuite/go-ebe/internal/domain/hospitalization"
	"github.com/caresuite/go-ebe/pkg/circuitbreaker"
)

// Client implements hospitalization.RoomInventory against the inventory API.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// New creates a room inventory client.
func New(baseURL string, breakers *circuitbreaker.Manager, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb, err := breakers.GetOrCreate("room-inventory", circuitbreaker.DefaultConfig("room-inventory"))
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
		breaker: cb,
		logger:  logger,
	}, nil
}

var _ hospitalization.RoomInventory = (*Client)(nil)

func (c *Client) Get(ctx context.Context, roomID string) (*hospitalization.Room, error) {
	return c.roomCall(ctx, http.MethodGet, fmt.Sprintf("/rooms/%s", roomID), roomID)
}

// Occupy claims one unit of capacity. The inventory service performs the
// occupancy check-and-increment atomically and answers 409 when the room is
// full; that maps to ErrRoomUnavailable so callers can branch on it.
func (c *Client) Occupy(ctx context.Context, roomID string) (*hospitalization.Room, error) {
	return c.roomCall(ctx, http.MethodPost, fmt.Sprintf("/rooms/%s/occupy", roomID), roomID)
}

func (c *Client) Release(ctx context.Context, roomID string) error {
	_, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		return nil, c.do(ctx, http.MethodPost, fmt.Sprintf("/rooms/%s/release", roomID), roomID, nil)
	})
	return err
}

func (c *Client) roomCall(ctx context.Context, method, path, roomID string) (*hospitalization.Room, error) {
	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		room := &hospitalization.Room{}
		if err := c.do(ctx, method, path, roomID, room); err != nil {
			return nil, err
		}
		return room, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*hospitalization.Room), nil
}

func (c *Client) do(ctx context.Context, method, path, roomID string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Unavailable(err, "room inventory: %s %s", method, path)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errs.NotFound("room %s not found", roomID)
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("room %s: %w", roomID, hospitalization.ErrRoomUnavailable)
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errs.Unavailable(
			fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(body)),
			"room inventory: %s %s", method, path)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Unavailable(err, "room inventory: decode %s response", path)
	}
	return nil
}
