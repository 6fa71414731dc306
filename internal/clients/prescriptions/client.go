// Package prescriptions is the HTTP client for the pharmacy's prescription
// service, the source of truth for medication line items.
package prescriptions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/caresuite/go-ebe/internal/domain/billing"
	"github.com/caresuite/go-ebe/internal/domain/errs"
	"github.com/caresuite/go-ebe/pkg/circuitbreaker"
)

// Client implements billing.PrescriptionService against the pharmacy API.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// New creates a prescription service client.
func New(baseURL string, breakers *circuitbreaker.Manager, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb, err := breakers.GetOrCreate("prescription-service", circuitbreaker.DefaultConfig("prescription-service"))
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

var _ billing.PrescriptionService = (*Client)(nil)

func (c *Client) ListByAppointment(ctx context.Context, appointmentID string) ([]*billing.Prescription, error) {
	path := fmt.Sprintf("/appointments/%s/prescriptions", appointmentID)
	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		var rxs []*billing.Prescription
		if err := c.get(ctx, path, &rxs); err != nil {
			return nil, err
		}
		return rxs, nil
	})
	if err != nil {
		// An appointment with no prescriptions is an empty list, not an error.
		if errs.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return result.([]*billing.Prescription), nil
}

func (c *Client) Get(ctx context.Context, prescriptionID string) (*billing.Prescription, error) {
	path := fmt.Sprintf("/prescriptions/%s", prescriptionID)
	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		rx := &billing.Prescription{}
		if err := c.get(ctx, path, rx); err != nil {
			return nil, err
		}
		return rx, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*billing.Prescription), nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Unavailable(err, "prescription service: GET %s", path)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errs.NotFound("prescription resource %s not found", path)
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errs.Unavailable(
			fmt.Errorf("status %d: %s", resp.StatusCode, body),
			"prescription service: GET %s", path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Unavailable(err, "prescription service: decode %s response", path)
	}
	return nil
}
