// Package lifecycle implements the thread state machine. Next and Reason are
// pure functions: they are the only authority on lifecycle transitions, and
// every input combination is defined.
package lifecycle

import (
	"github.com/ridgelineparts/triage/internal/model"
)

// closingIntents resolve a thread with no reply once acted on.
var closingIntents = map[string]bool{
	model.IntentThankYouClose: true,
	model.IntentVendorSpam:    true,
}

// forcedEscalationIntents bypass confidence and go straight to a human.
var forcedEscalationIntents = map[string]bool{
	model.IntentChargebackDispute: true,
}

// IsClosing reports whether the intent resolves the thread without a reply.
func IsClosing(intent string) bool {
	return closingIntents[intent]
}

// ForcesEscalation reports whether the intent escalates regardless of
// anything else the pipeline decided.
func ForcesEscalation(intent string) bool {
	return forcedEscalationIntents[intent]
}

// Effective returns the action after applying the overrides that upstream
// components cannot bypass: a policy block forces ESCALATE_WITH_DRAFT and
// missing required info forces ASK_CLARIFYING_QUESTIONS.
func Effective(action model.Action, intent string, policyBlocked, missingInfo bool) model.Action {
	if policyBlocked {
		return model.ActionEscalateWithDraft
	}
	if missingInfo {
		return model.ActionAskClarifying
	}
	if ForcesEscalation(intent) {
		return model.ActionEscalate
	}
	if IsClosing(intent) {
		return model.ActionNoReply
	}
	return action
}

// Next maps (current state, chosen action, intent, policy outcome,
// info-completeness) to the next lifecycle state.
//
// HUMAN_HANDLING is entered and exited only through the observation
// controller; RESOLVED and ESCALATED absorb everything except explicit human
// release.
func Next(current model.ThreadState, action model.Action, intent string, policyBlocked, missingInfo bool) model.ThreadState {
	switch current {
	case model.StateHumanHandling, model.StateResolved, model.StateEscalated:
		return current
	}

	switch Effective(action, intent, policyBlocked, missingInfo) {
	case model.ActionEscalate, model.ActionEscalateWithDraft:
		return model.StateEscalated
	case model.ActionAskClarifying:
		return model.StateAwaitingInfo
	case model.ActionNoReply:
		if IsClosing(intent) {
			return model.StateResolved
		}
		return normalized(current)
	case model.ActionSendPreapproved:
		return model.StateInProgress
	default:
		return normalized(current)
	}
}

// Reason produces the human-readable explanation recorded alongside a
// transition in the event log.
func Reason(action model.Action, intent string, policyBlocked, missingInfo bool) string {
	switch {
	case policyBlocked:
		return "draft blocked by policy gate; escalated with draft for review"
	case missingInfo:
		return "required information missing; asked clarifying questions"
	case ForcesEscalation(intent):
		return "intent " + intent + " forces immediate escalation"
	case IsClosing(intent):
		return "closing intent " + intent + "; no reply needed"
	}

	switch Effective(action, intent, policyBlocked, missingInfo) {
	case model.ActionEscalate:
		return "escalated for human response"
	case model.ActionEscalateWithDraft:
		return "escalated with draft attached for review"
	case model.ActionSendPreapproved:
		return "reply drafted and cleared by policy gate"
	case model.ActionNoReply:
		return "no reply required"
	default:
		return "awaiting customer response"
	}
}

// normalized keeps a thread out of NEW once a message has been processed
// without producing a terminal or waiting state.
func normalized(current model.ThreadState) model.ThreadState {
	if current == model.StateNew {
		return model.StateInProgress
	}
	return current
}
