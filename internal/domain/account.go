package domain

import "strings"

// Plan is an account trust tier.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
	PlanSudo    Plan = "sudo"
	PlanBanned  Plan = "banned"
)

// ParsePlan normalizes s; unknown or empty values are free.
func ParsePlan(s string) (Plan, bool) {
	switch Plan(strings.ToLower(strings.TrimSpace(s))) {
	case PlanFree:
		return PlanFree, true
	case PlanPremium:
		return PlanPremium, true
	case PlanSudo:
		return PlanSudo, true
	case PlanBanned:
		return PlanBanned, true
	}
	return PlanFree, false
}

// Mode is the bot's operating mode.
type Mode string

const (
	ModePublic  Mode = "public"
	ModePrivate Mode = "private"
)

func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModePublic:
		return ModePublic, true
	case ModePrivate:
		return ModePrivate, true
	}
	return ModePublic, false
}

// TriggerType selects which events a reaction rule considers.
type TriggerType string

const (
	TriggerAny     TriggerType = "any"
	TriggerText    TriggerType = "text"
	TriggerImage   TriggerType = "image"
	TriggerVideo   TriggerType = "video"
	TriggerAudio   TriggerType = "audio"
	TriggerSticker TriggerType = "sticker"
)

// ReactionRule reacts with Emoji to events matching Trigger (and Value, for text).
type ReactionRule struct {
	Trigger TriggerType `json:"trigger_type"`
	Value   string      `json:"trigger_value,omitempty"`
	Emoji   string      `json:"emoji"`
}

func ParseTrigger(s string) (TriggerType, bool) {
	switch t := TriggerType(strings.ToLower(strings.TrimSpace(s))); t {
	case TriggerAny, TriggerText, TriggerImage, TriggerVideo, TriggerAudio, TriggerSticker:
		return t, true
	}
	return "", false
}

// Matches reports whether an event of kind with text fires the rule. A
// non-empty Value must appear in the text, ignoring case.
func (r ReactionRule) Matches(kind, text string) bool {
	if r.Emoji == "" {
		return false
	}
	if r.Trigger != TriggerAny && string(r.Trigger) != kind {
		return false
	}
	if v := strings.TrimSpace(r.Value); v != "" {
		return strings.Contains(strings.ToLower(text), strings.ToLower(v))
	}
	return true
}
