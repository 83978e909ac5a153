package verification

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridgelineparts/triage/internal/model"
	"github.com/ridgelineparts/triage/internal/orders"
	"github.com/ridgelineparts/triage/pkg/logger"
)

type fakeLookup struct {
	orders    map[string]*model.OrderSnapshot
	customers map[string]*model.CustomerProfile
	err       error
}

func (f *fakeLookup) OrderByNumber(ctx context.Context, number string) (*model.OrderSnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	if o, ok := f.orders[number]; ok {
		return o, nil
	}
	return nil, orders.ErrOrderNotFound
}

func (f *fakeLookup) CustomerByEmail(ctx context.Context, email string) (*model.CustomerProfile, error) {
	if c, ok := f.customers[email]; ok {
		return c, nil
	}
	return nil, errors.New("customer not found")
}

func TestExtractOrderNumbers(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"hash prefix", "My order #4013 hasn't arrived", []string{"4013"}},
		{"order keyword", "order 40213 is late", []string{"40213"}},
		{"order no dot", "Regarding order no. RP-10442, any update?", []string{"RP-10442"}},
		{"bare long number", "tracking says 882211 delivered but nothing here", []string{"882211"}},
		{"dedup", "order #4013 ... again, #4013", []string{"4013"}},
		{"none", "when will my order ship?", nil},
		{"no short bare numbers", "I ordered 2 sets of 4 pads", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractOrderNumbers(tt.text))
		})
	}
}

func TestVerifyPendingWithoutIdentifier(t *testing.T) {
	gate := NewGate(&fakeLookup{}, logger.NewNop())

	res := gate.Verify(context.Background(), "sam@example.com", "When will my order ship?")
	assert.Equal(t, model.VerificationPending, res.Status)
	assert.Nil(t, res.Order)
}

func TestVerifyMatchesOrderAndSender(t *testing.T) {
	lookup := &fakeLookup{
		orders: map[string]*model.OrderSnapshot{
			"4013": {OrderNumber: "4013", Email: "sam@example.com", Status: "paid", FulfillmentStatus: "fulfilled"},
		},
		customers: map[string]*model.CustomerProfile{
			"sam@example.com": {Email: "sam@example.com", OrderCount: 3},
		},
	}
	gate := NewGate(lookup, logger.NewNop())

	res := gate.Verify(context.Background(), "sam@example.com", "Order #4013 still hasn't shipped")
	assert.Equal(t, model.VerificationVerified, res.Status)
	require.NotNil(t, res.Order)
	assert.Equal(t, "4013", res.Order.OrderNumber)
	require.NotNil(t, res.Customer)
	assert.Equal(t, 3, res.Customer.OrderCount)
}

func TestVerifyEmailMismatch(t *testing.T) {
	lookup := &fakeLookup{
		orders: map[string]*model.OrderSnapshot{
			"4013": {OrderNumber: "4013", Email: "owner@example.com"},
		},
	}
	gate := NewGate(lookup, logger.NewNop())

	res := gate.Verify(context.Background(), "someone-else@example.com", "please update me on #4013")
	assert.Equal(t, model.VerificationNotFound, res.Status)
	assert.Contains(t, res.Flags, "email_mismatch")
}

func TestVerifyFlaggedCustomer(t *testing.T) {
	lookup := &fakeLookup{
		orders: map[string]*model.OrderSnapshot{
			"4013": {OrderNumber: "4013", Email: "sam@example.com"},
		},
		customers: map[string]*model.CustomerProfile{
			"sam@example.com": {Email: "sam@example.com", RiskFlags: []string{"prior_chargeback"}},
		},
	}
	gate := NewGate(lookup, logger.NewNop())

	res := gate.Verify(context.Background(), "sam@example.com", "where is #4013")
	assert.Equal(t, model.VerificationFlagged, res.Status)
	assert.Contains(t, res.Flags, "prior_chargeback")
}

func TestVerifyUnknownOrder(t *testing.T) {
	gate := NewGate(&fakeLookup{}, logger.NewNop())

	res := gate.Verify(context.Background(), "sam@example.com", "my order #99999 vanished")
	assert.Equal(t, model.VerificationNotFound, res.Status)
	assert.Empty(t, res.Flags)
}

func TestVerifyLookupFailure(t *testing.T) {
	gate := NewGate(&fakeLookup{err: errors.New("503")}, logger.NewNop())

	res := gate.Verify(context.Background(), "sam@example.com", "checking on #4013")
	assert.Equal(t, model.VerificationNotFound, res.Status)
	assert.Contains(t, res.Flags, "lookup_unavailable")
}

func TestVerifyWithoutLookupConfigured(t *testing.T) {
	gate := NewGate(nil, logger.NewNop())

	res := gate.Verify(context.Background(), "sam@example.com", "checking on #4013")
	assert.Equal(t, model.VerificationNotFound, res.Status)
	assert.Contains(t, res.Flags, "lookup_unavailable")
}

func TestVerifyCustomerLookupBestEffort(t *testing.T) {
	lookup := &fakeLookup{
		orders: map[string]*model.OrderSnapshot{
			"4013": {OrderNumber: "4013", Email: "sam@example.com"},
		},
	}
	gate := NewGate(lookup, logger.NewNop())

	// Profile lookup fails; the order match alone verifies.
	res := gate.Verify(context.Background(), "sam@example.com", "update on #4013 please")
	assert.Equal(t, model.VerificationVerified, res.Status)
	assert.Nil(t, res.Customer)
}
