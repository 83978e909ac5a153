package lifecycle

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ridgelineparts/triage/internal/model"
)

var allStates = []model.ThreadState{
	model.StateNew,
	model.StateAwaitingInfo,
	model.StateInProgress,
	model.StateEscalated,
	model.StateHumanHandling,
	model.StateResolved,
}

var allActions = []model.Action{
	model.ActionNoReply,
	model.ActionAskClarifying,
	model.ActionSendPreapproved,
	model.ActionEscalate,
	model.ActionEscalateWithDraft,
}

var knownStates = map[model.ThreadState]bool{
	model.StateNew:           true,
	model.StateAwaitingInfo:  true,
	model.StateInProgress:    true,
	model.StateEscalated:     true,
	model.StateHumanHandling: true,
	model.StateResolved:      true,
}

func TestNextIsTotal(t *testing.T) {
	intents := []string{
		model.IntentOrderStatus,
		model.IntentThankYouClose,
		model.IntentVendorSpam,
		model.IntentChargebackDispute,
		model.IntentUnknown,
		"RETURN_REQUEST",
		"",
	}

	for _, state := range allStates {
		for _, action := range allActions {
			for _, intent := range intents {
				for _, blocked := range []bool{false, true} {
					for _, missing := range []bool{false, true} {
						name := fmt.Sprintf("%s/%s/%s/blocked=%v/missing=%v", state, action, intent, blocked, missing)
						t.Run(name, func(t *testing.T) {
							next := Next(state, action, intent, blocked, missing)
							assert.True(t, knownStates[next], "undefined state %q", next)
							assert.NotEmpty(t, Reason(action, intent, blocked, missing))
						})
					}
				}
			}
		}
	}
}

func TestAbsorbingStates(t *testing.T) {
	for _, state := range []model.ThreadState{model.StateResolved, model.StateEscalated, model.StateHumanHandling} {
		for _, action := range allActions {
			assert.Equal(t, state, Next(state, action, model.IntentOrderStatus, false, false),
				"state %s must absorb action %s", state, action)
		}
	}
}

func TestPolicyBlockForcesEscalation(t *testing.T) {
	for _, state := range []model.ThreadState{model.StateNew, model.StateAwaitingInfo, model.StateInProgress} {
		for _, action := range allActions {
			assert.Equal(t, model.StateEscalated, Next(state, action, model.IntentOrderStatus, true, false))
		}
	}
	assert.Equal(t, model.ActionEscalateWithDraft, Effective(model.ActionSendPreapproved, model.IntentOrderStatus, true, false))
	// Policy block wins even over missing info.
	assert.Equal(t, model.ActionEscalateWithDraft, Effective(model.ActionSendPreapproved, model.IntentOrderStatus, true, true))
}

func TestMissingInfoForcesAwaitingInfo(t *testing.T) {
	assert.Equal(t, model.ActionAskClarifying, Effective(model.ActionSendPreapproved, model.IntentOrderStatus, false, true))
	assert.Equal(t, model.StateAwaitingInfo, Next(model.StateNew, model.ActionSendPreapproved, model.IntentOrderStatus, false, true))
	assert.Equal(t, model.StateAwaitingInfo, Next(model.StateInProgress, model.ActionSendPreapproved, model.IntentOrderStatus, false, true))
}

func TestClosingIntentResolves(t *testing.T) {
	for _, intent := range []string{model.IntentThankYouClose, model.IntentVendorSpam} {
		assert.Equal(t, model.ActionNoReply, Effective(model.ActionSendPreapproved, intent, false, false))
		assert.Equal(t, model.StateResolved, Next(model.StateNew, model.ActionNoReply, intent, false, false))
		assert.Equal(t, model.StateResolved, Next(model.StateInProgress, model.ActionNoReply, intent, false, false))
	}
}

func TestChargebackForcesEscalation(t *testing.T) {
	assert.Equal(t, model.ActionEscalate, Effective(model.ActionSendPreapproved, model.IntentChargebackDispute, false, false))
	assert.Equal(t, model.StateEscalated, Next(model.StateNew, model.ActionSendPreapproved, model.IntentChargebackDispute, false, false))
}

func TestSuccessfulDraftMovesToInProgress(t *testing.T) {
	assert.Equal(t, model.StateInProgress, Next(model.StateNew, model.ActionSendPreapproved, model.IntentOrderStatus, false, false))
	assert.Equal(t, model.StateInProgress, Next(model.StateAwaitingInfo, model.ActionSendPreapproved, model.IntentOrderStatus, false, false))
}

func TestNoReplyWithoutClosingIntentKeepsState(t *testing.T) {
	// A NO_REPLY on a non-closing intent leaves the thread where it was,
	// except NEW normalizes to IN_PROGRESS once a message was processed.
	assert.Equal(t, model.StateInProgress, Next(model.StateNew, model.ActionNoReply, model.IntentOrderStatus, false, false))
	assert.Equal(t, model.StateAwaitingInfo, Next(model.StateAwaitingInfo, model.ActionNoReply, model.IntentOrderStatus, false, false))
	assert.Equal(t, model.StateInProgress, Next(model.StateInProgress, model.ActionNoReply, model.IntentOrderStatus, false, false))
}
