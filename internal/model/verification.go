package model

import (
	"time"
)

// VerificationStatus is the per-thread identity verification state.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationFlagged  VerificationStatus = "flagged"
	VerificationNotFound VerificationStatus = "not_found"
)

// OrderSnapshot is a normalized order record returned by the commerce
// lookup collaborator and consumed verbatim by the pipeline.
type OrderSnapshot struct {
	OrderNumber       string     `json:"order_number"`
	Email             string     `json:"email"`
	Status            string     `json:"status"`
	FulfillmentStatus string     `json:"fulfillment_status"`
	TrackingNumber    string     `json:"tracking_number,omitempty"`
	TrackingURL       string     `json:"tracking_url,omitempty"`
	LineItems         []LineItem `json:"line_items,omitempty"`
	PlacedAt          time.Time  `json:"placed_at"`
}

// LineItem is one purchased item on an order.
type LineItem struct {
	SKU        string `json:"sku"`
	Title      string `json:"title"`
	Quantity   int    `json:"quantity"`
	VehicleTag string `json:"vehicle_tag,omitempty"`
}

// CustomerProfile is the customer history attached to a verified order.
type CustomerProfile struct {
	Email         string   `json:"email"`
	Name          string   `json:"name,omitempty"`
	LifetimeValue float64  `json:"lifetime_value"`
	OrderCount    int      `json:"order_count"`
	RecentOrders  []string `json:"recent_orders,omitempty"`
	PriorTickets  int      `json:"prior_tickets"`
	RiskFlags     []string `json:"risk_flags,omitempty"`
}

// VerificationResult is the verification gate's output for one message. The
// latest record for a thread is authoritative.
type VerificationResult struct {
	Status   VerificationStatus `json:"status"`
	Order    *OrderSnapshot     `json:"order,omitempty"`
	Customer *CustomerProfile   `json:"customer,omitempty"`
	Flags    []string           `json:"flags,omitempty"`
}

// VerificationRecord is the durable form of a VerificationResult.
type VerificationRecord struct {
	ID        string             `json:"id"`
	ThreadID  string             `json:"thread_id"`
	Status    VerificationStatus `json:"status"`
	Order     *OrderSnapshot     `json:"order,omitempty"`
	Customer  *CustomerProfile   `json:"customer,omitempty"`
	Flags     []string           `json:"flags,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}
