// Package orders defines the commerce lookup collaborator. The pipeline
// only reads order and customer snapshots; it never mutates order state.
package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ridgelineparts/triage/internal/model"
)

// ErrOrderNotFound is returned when an order number does not resolve.
var ErrOrderNotFound = errors.New("order not found")

// Lookup resolves order numbers and customer emails against the commerce
// backend.
type Lookup interface {
	// OrderByNumber returns the normalized snapshot for an order number.
	OrderByNumber(ctx context.Context, number string) (*model.OrderSnapshot, error)

	// CustomerByEmail returns the profile and history for an email address.
	CustomerByEmail(ctx context.Context, email string) (*model.CustomerProfile, error)
}

// HTTPLookup implements Lookup against the commerce backend's REST API.
type HTTPLookup struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPLookup creates a lookup client.
func NewHTTPLookup(baseURL, token string) *HTTPLookup {
	return &HTTPLookup{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// OrderByNumber fetches one order snapshot.
func (l *HTTPLookup) OrderByNumber(ctx context.Context, number string) (*model.OrderSnapshot, error) {
	var snap model.OrderSnapshot
	if err := l.get(ctx, "/internal/orders/"+url.PathEscape(number), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// CustomerByEmail fetches one customer profile.
func (l *HTTPLookup) CustomerByEmail(ctx context.Context, email string) (*model.CustomerProfile, error) {
	var prof model.CustomerProfile
	if err := l.get(ctx, "/internal/customers?email="+url.QueryEscape(email), &prof); err != nil {
		return nil, err
	}
	return &prof, nil
}

func (l *HTTPLookup) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+l.token)
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("commerce lookup: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrOrderNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("commerce lookup: unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("commerce lookup: decode: %w", err)
	}
	return nil
}
