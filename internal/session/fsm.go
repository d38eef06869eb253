package session

import (
	"strings"
	"unicode"
)

// State is where a session's conversation stands with respect to pending user input.
type State string

const (
	StateIdle                   State = "idle"
	StateAwaitingConfirmation   State = "awaiting_confirmation"
	StateAwaitingAppealDecision State = "awaiting_appeal_decision"
	StateAwaitingPassword       State = "awaiting_password"
)

// Reply is a user message reduced to the token class the FSM keys on.
type Reply string

const (
	ReplyEmpty   Reply = "empty"
	ReplyConfirm Reply = "confirm"
	ReplyCancel  Reply = "cancel"
	ReplyOther   Reply = "other"
)

// Effect is the side effect a transition asks the caller to perform.
type Effect string

const (
	EffectNone          Effect = ""
	EffectConfirm       Effect = "confirm"
	EffectCancel        Effect = "cancel"
	EffectApproveAppeal Effect = "approve_appeal"
	EffectRejectAppeal  Effect = "reject_appeal"
	// EffectVerifyPassword asks the caller to check the message as the override secret.
	// The next state is decided by the outcome, see Conversation.PasswordResult.
	EffectVerifyPassword Effect = "verify_password"
)

var confirmTokens = map[string]bool{
	"确认": true, "确定": true, "是": true, "允许": true, "同意": true,
	"confirm": true, "yes": true, "y": true, "ok": true, "approve": true, "allow": true,
}

var cancelTokens = map[string]bool{
	"取消": true, "否": true, "拒绝": true, "不": true, "不要": true,
	"cancel": true, "no": true, "n": true, "reject": true, "deny": true, "abort": true,
}

// NormalizeReply classifies a user message. Case, surrounding whitespace and trailing
// punctuation are ignored; anything that is not exactly a known token is ReplyOther.
func NormalizeReply(text string) Reply {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.TrimRightFunc(t, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
	switch {
	case t == "":
		return ReplyEmpty
	case confirmTokens[t]:
		return ReplyConfirm
	case cancelTokens[t]:
		return ReplyCancel
	}
	return ReplyOther
}

type transitionKey struct {
	from  State
	reply Reply
}

type transition struct {
	to       State
	effect   Effect
	consumed bool
}

// transitions is the complete reply table. Pairs that are absent keep the current
// state, have no effect and leave the message for the agent.
var transitions = map[transitionKey]transition{
	{StateAwaitingConfirmation, ReplyConfirm}: {StateIdle, EffectConfirm, true},
	{StateAwaitingConfirmation, ReplyCancel}:  {StateIdle, EffectCancel, true},

	{StateAwaitingAppealDecision, ReplyConfirm}: {StateIdle, EffectApproveAppeal, true},
	{StateAwaitingAppealDecision, ReplyCancel}:  {StateIdle, EffectRejectAppeal, true},

	// A secret may spell a reply token, so only cancel leaves the password state.
	{StateAwaitingPassword, ReplyCancel}:  {StateIdle, EffectCancel, true},
	{StateAwaitingPassword, ReplyConfirm}: {StateAwaitingPassword, EffectVerifyPassword, true},
	{StateAwaitingPassword, ReplyOther}:   {StateAwaitingPassword, EffectVerifyPassword, true},
}

// Transition looks up the next state for a reply. consumed reports whether the
// message was an answer to the pending prompt and must not reach the agent.
func Transition(from State, r Reply) (to State, effect Effect, consumed bool) {
	t, ok := transitions[transitionKey{from, r}]
	if !ok {
		return from, EffectNone, false
	}
	return t.to, t.effect, t.consumed
}
