// Package protocol defines the Beckn wire types exchanged with network participants.
package protocol

import "strings"

// Action names a protocol operation dispatched to participants.
type Action string

// Supported client-originated actions.
const (
	ActionSearch  Action = "search"
	ActionSelect  Action = "select"
	ActionInit    Action = "init"
	ActionConfirm Action = "confirm"
	ActionStatus  Action = "status"
	ActionTrack   Action = "track"
	ActionCancel  Action = "cancel"
	ActionUpdate  Action = "update"
	ActionRating  Action = "rating"
	ActionSupport Action = "support"
)

const callbackPrefix = "on_"

var actions = []Action{
	ActionSearch,
	ActionSelect,
	ActionInit,
	ActionConfirm,
	ActionStatus,
	ActionTrack,
	ActionCancel,
	ActionUpdate,
	ActionRating,
	ActionSupport,
}

// Actions returns every supported action in a stable order.
func Actions() []Action {
	return append([]Action(nil), actions...)
}

// ParseAction resolves a raw action name.
func ParseAction(raw string) (Action, bool) {
	candidate := Action(strings.ToLower(strings.TrimSpace(raw)))
	for _, a := range actions {
		if a == candidate {
			return a, true
		}
	}
	return "", false
}

// ParseCallback resolves an "on_<action>" name into its originating action.
func ParseCallback(raw string) (Action, bool) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if !strings.HasPrefix(trimmed, callbackPrefix) {
		return "", false
	}
	return ParseAction(strings.TrimPrefix(trimmed, callbackPrefix))
}

// Callback returns the callback name participants use to answer the action.
func (a Action) Callback() string {
	return callbackPrefix + string(a)
}

func (a Action) String() string { return string(a) }

// TargetsGateway reports whether the action is routed through a search gateway
// when no provider is named.
func (a Action) TargetsGateway() bool {
	return a == ActionSearch
}
