package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckCleanText(t *testing.T) {
	gate := NewGate()

	res := gate.Check("Your brake pads shipped yesterday. The tracking number is 1Z999. Let me know if anything else comes up.")
	assert.True(t, res.OK)
	assert.Empty(t, res.Reasons)
}

func TestCheckEmptyText(t *testing.T) {
	gate := NewGate()
	assert.True(t, gate.Check("").OK)
	assert.True(t, gate.Check("   \n\t").OK)
}

func TestCheckViolations(t *testing.T) {
	gate := NewGate()

	tests := []struct {
		name     string
		text     string
		category string
	}{
		{"refund promise", "Don't worry, we'll issue a full refund right away.", "refund_promise"},
		{"refund promise variant", "You qualify for a free replacement.", "refund_promise"},
		{"timeline promise", "Your order will arrive by 5pm tomorrow, guaranteed.", "timeline_promise"},
		{"legal admission", "We are not liable for installation damage.", "legal"},
		{"competitor mention", "You could also check RockAuto for that part.", "competitor"},
		{"deflection", "Unfortunately that's not our problem once it ships.", "deflection"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := gate.Check(tt.text)
			assert.False(t, res.OK)
			assert.Contains(t, Categories(res), tt.category)
		})
	}
}

func TestCheckIsDeterministic(t *testing.T) {
	gate := NewGate()
	text := "We'll process a refund and nothing we can do about the delay."

	first := gate.Check(text)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, gate.Check(text))
	}
}

func TestCheckDeduplicatesReasons(t *testing.T) {
	gate := NewGate()

	// Both refund rules match; the shared reason appears once.
	res := gate.Check("We will issue a refund, specifically a full refund.")
	assert.False(t, res.OK)

	counts := make(map[string]int)
	for _, r := range res.Reasons {
		counts[r]++
	}
	for reason, n := range counts {
		assert.Equal(t, 1, n, "reason %q repeated", reason)
	}
}

func TestCategories(t *testing.T) {
	res := Result{OK: false, Reasons: []string{
		"refund_promise: promises a refund or replacement",
		"legal: makes a legal claim or admission",
	}}
	assert.Equal(t, []string{"refund_promise", "legal"}, Categories(res))
}
