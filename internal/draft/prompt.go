package draft

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ridgelineparts/triage/internal/model"
)

// CitationMarker formats the marker the model is instructed to cite KB
// excerpts with, e.g. [KB-2].
func CitationMarker(index int) string {
	return fmt.Sprintf("[KB-%d]", index+1)
}

// buildPrompt layers the generation context in a fixed order: staleness
// warning, customer profile, verified order data, KB excerpts, conversation
// history, attachment facts, and finally the literal customer message.
func buildPrompt(in GenerateInput, maxHistoryChars int, staleAfter time.Duration, now time.Time) string {
	var b strings.Builder

	if !in.ThreadCreatedAt.IsZero() && now.Sub(in.ThreadCreatedAt) > staleAfter {
		age := now.Sub(in.ThreadCreatedAt).Round(time.Hour)
		fmt.Fprintf(&b, `NOTE: this conversation has been open for %s. Do not use generic "we aim to respond within..." language; acknowledge the wait and apologize for it.

`, age)
	}

	if in.Customer != nil {
		b.WriteString("CUSTOMER:\n")
		if in.Customer.Name != "" {
			fmt.Fprintf(&b, "- name: %s\n", in.Customer.Name)
		}
		fmt.Fprintf(&b, "- orders placed: %d\n", in.Customer.OrderCount)
		fmt.Fprintf(&b, "- lifetime value: $%.2f\n", in.Customer.LifetimeValue)
		fmt.Fprintf(&b, "- prior support tickets: %d\n", in.Customer.PriorTickets)
		b.WriteString("\n")
	}

	if in.Order != nil {
		b.WriteString("VERIFIED ORDER (this data is already in front of you; answer from it directly, never say \"I'll check\"):\n")
		fmt.Fprintf(&b, "- order %s, status %s, fulfillment %s\n",
			in.Order.OrderNumber, in.Order.Status, in.Order.FulfillmentStatus)
		if in.Order.TrackingNumber != "" {
			fmt.Fprintf(&b, "- tracking: %s %s\n", in.Order.TrackingNumber, in.Order.TrackingURL)
		}
		for _, item := range in.Order.LineItems {
			fmt.Fprintf(&b, "- item: %dx %s (%s)\n", item.Quantity, item.Title, item.SKU)
		}
		b.WriteString("\n")
	}

	if len(in.Knowledge) > 0 {
		b.WriteString("KNOWLEDGE BASE (cite with the bracketed marker when you use an excerpt):\n")
		for i, res := range in.Knowledge {
			text := res.Document.Content
			if res.Chunk != nil {
				text = res.Chunk.Text
			}
			fmt.Fprintf(&b, "%s %s\n%s\n\n", CitationMarker(i), res.Document.Title, text)
		}
	}

	if len(in.History) > 0 {
		b.WriteString(`CONVERSATION SO FAR (do not re-ask questions already answered below; if our team confirmed something earlier, treat it as authoritative):
`)
		for _, msg := range in.History {
			body := msg.Body
			if len(body) > maxHistoryChars {
				cut := maxHistoryChars
				for cut > 0 && !utf8.RuneStart(body[cut]) {
					cut--
				}
				body = body[:cut] + "…"
			}
			who := "customer"
			if msg.Direction == model.DirectionOutbound {
				who = "support"
			}
			fmt.Fprintf(&b, "[%s] %s\n", who, body)
		}
		b.WriteString("\n")
	}

	if in.AttachmentText != "" {
		b.WriteString("FROM ATTACHMENTS:\n")
		b.WriteString(in.AttachmentText)
		b.WriteString("\n\n")
	}

	b.WriteString("CUSTOMER MESSAGE:\n")
	if in.Subject != "" {
		fmt.Fprintf(&b, "Subject: %s\n", in.Subject)
	}
	b.WriteString(in.Body)

	return b.String()
}

// systemPrompt is the fixed generation preamble, extended by the cached
// operator instructions when present.
func systemPrompt(instructions, intent string) string {
	var b strings.Builder
	b.WriteString(`You draft support replies for Ridgeline Parts, an auto-parts retailer. Write a complete, warm, specific reply to the customer message. Never promise refunds, replacements, or delivery dates. Never speculate about order data you were not given.`)
	if intent != "" && intent != model.IntentUnknown {
		fmt.Fprintf(&b, "\nThe request was classified as %s.", intent)
	}
	if instructions != "" {
		b.WriteString("\n\nAdditional team instructions:\n")
		b.WriteString(instructions)
	}
	return b.String()
}
