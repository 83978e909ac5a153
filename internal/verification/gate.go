// Package verification implements the identity verification gate for
// protected intents. The gate only reads order data and records an outcome;
// it is re-evaluated fresh on every inbound message.
package verification

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ridgelineparts/triage/internal/model"
	"github.com/ridgelineparts/triage/internal/orders"
	"github.com/ridgelineparts/triage/pkg/logger"
	"github.com/ridgelineparts/triage/pkg/metrics"
)

// orderNumberPattern matches order identifiers customers quote: "#4013",
// "order 4013", "order no. RP-10442", or a bare 4+ digit number.
var orderNumberPattern = regexp.MustCompile(`(?i)(?:#|\border(?:\s+(?:no|number|id))?\.?\s*[:#]?\s*)([A-Z]{0,3}-?\d{4,})|\b(\d{5,})\b`)

// Gate decides whether a message sender is a confirmed customer tied to a
// real order.
type Gate struct {
	lookup orders.Lookup
	logger *logger.Logger
}

// NewGate creates a verification gate.
func NewGate(lookup orders.Lookup, log *logger.Logger) *Gate {
	return &Gate{lookup: lookup, logger: log}
}

// Verify computes a fresh verification outcome for one inbound message.
// text should include attachment-extracted content, since order numbers are
// regularly smuggled in as screenshots and invoices.
func (g *Gate) Verify(ctx context.Context, sender, text string) model.VerificationResult {
	numbers := ExtractOrderNumbers(text)
	if len(numbers) == 0 {
		metrics.VerificationsTotal.WithLabelValues(string(model.VerificationPending)).Inc()
		return model.VerificationResult{Status: model.VerificationPending}
	}

	if g.lookup == nil {
		metrics.VerificationsTotal.WithLabelValues(string(model.VerificationNotFound)).Inc()
		return model.VerificationResult{
			Status: model.VerificationNotFound,
			Flags:  []string{"lookup_unavailable"},
		}
	}

	var lastErr error
	for _, number := range numbers {
		order, err := g.lookup.OrderByNumber(ctx, number)
		if err != nil {
			if !errors.Is(err, orders.ErrOrderNotFound) {
				lastErr = err
			}
			continue
		}
		return g.resolve(ctx, sender, order)
	}

	if lastErr != nil {
		// Lookup service failure, not a missing order: treat as not_found
		// so the thread blocks auto-send, but record why.
		g.logger.Warn("order lookup failed", zap.Error(lastErr))
		metrics.VerificationsTotal.WithLabelValues(string(model.VerificationNotFound)).Inc()
		return model.VerificationResult{
			Status: model.VerificationNotFound,
			Flags:  []string{"lookup_unavailable"},
		}
	}

	metrics.VerificationsTotal.WithLabelValues(string(model.VerificationNotFound)).Inc()
	return model.VerificationResult{Status: model.VerificationNotFound}
}

// resolve checks that the located order belongs to the sender and inspects
// the customer's risk flags.
func (g *Gate) resolve(ctx context.Context, sender string, order *model.OrderSnapshot) model.VerificationResult {
	if !strings.EqualFold(strings.TrimSpace(order.Email), strings.TrimSpace(sender)) {
		metrics.VerificationsTotal.WithLabelValues(string(model.VerificationNotFound)).Inc()
		return model.VerificationResult{
			Status: model.VerificationNotFound,
			Flags:  []string{"email_mismatch"},
		}
	}

	result := model.VerificationResult{
		Status: model.VerificationVerified,
		Order:  order,
	}

	customer, err := g.lookup.CustomerByEmail(ctx, order.Email)
	if err != nil {
		// Profile enrichment is best-effort; the order match alone verifies.
		g.logger.Warn("customer profile lookup failed", zap.Error(err))
	} else {
		result.Customer = customer
		if len(customer.RiskFlags) > 0 {
			result.Status = model.VerificationFlagged
			result.Flags = customer.RiskFlags
		}
	}

	metrics.VerificationsTotal.WithLabelValues(string(result.Status)).Inc()
	return result
}

// ExtractOrderNumbers pulls candidate order identifiers out of free text,
// preserving first-seen order and dropping duplicates.
func ExtractOrderNumbers(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range orderNumberPattern.FindAllStringSubmatch(text, -1) {
		candidate := m[1]
		if candidate == "" {
			candidate = m[2]
		}
		candidate = strings.ToUpper(strings.TrimSpace(candidate))
		if candidate == "" || seen[candidate] {
			continue
		}
		seen[candidate] = true
		out = append(out, candidate)
	}
	return out
}
