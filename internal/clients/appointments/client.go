// Package appointments is the HTTP client for the appointment registry.
// Billing only needs existence checks from it.
package appointments

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/caresuite/go-ebe/internal/domain/billing"
	"github.com/caresuite/go-ebe/internal/domain/errs"
	"github.com/caresuite/go-ebe/pkg/circuitbreaker"
)

// Client implements billing.AppointmentService against the registry API.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// New creates an appointment registry client.
func New(baseURL string, breakers *circuitbreaker.Manager, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb, err := breakers.GetOrCreate("appointment-registry", circuitbreaker.DefaultConfig("appointment-registry"))
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 3 * time.Second},
		breaker: cb,
		logger:  logger,
	}, nil
}

var _ billing.AppointmentService = (*Client)(nil)

// Exists reports whether the appointment is known to the registry. A HEAD
// request keeps the hot OpenBill path cheap.
func (c *Client) Exists(ctx context.Context, appointmentID string) (bool, error) {
	path := fmt.Sprintf("/appointments/%s", appointmentID)
	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+path, nil)
		if err != nil {
			return false, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return false, errs.Unavailable(err, "appointment registry: HEAD %s", path)
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			return true, nil
		case resp.StatusCode == http.StatusNotFound:
			return false, nil
		default:
			return false, errs.Unavailable(
				fmt.Errorf("status %d", resp.StatusCode),
				"appointment registry: HEAD %s", path)
		}
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}
