// Package events publishes dispatch audit events.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DispatchEvent records the outcome of one command lookup.
type DispatchEvent struct {
	ID         string        `json:"id"`
	AccountID  string        `json:"account_id"`
	ChatID     string        `json:"chat_id"`
	Sender     string        `json:"sender"`
	Command    string        `json:"command"`
	Outcome    string        `json:"outcome"`
	Reason     string        `json:"reason,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// NewDispatchEvent fills ID and OccurredAt.
func NewDispatchEvent(accountID, chatID, sender, command, outcome, reason string, took time.Duration) *DispatchEvent {
	return &DispatchEvent{
		ID:         uuid.NewString(),
		AccountID:  accountID,
		ChatID:     chatID,
		Sender:     sender,
		Command:    command,
		Outcome:    outcome,
		Reason:     reason,
		Duration:   took,
		OccurredAt: time.Now().UTC(),
	}
}

type Publisher interface {
	PublishDispatch(ctx context.Context, event *DispatchEvent) error
}

// NoOpPublisher drops every event.
type NoOpPublisher struct{}

func (NoOpPublisher) PublishDispatch(context.Context, *DispatchEvent) error { return nil }

// CallbackPublisher hands events to a function; tests use it to capture them.
type CallbackPublisher struct {
	callback func(ctx context.Context, event *DispatchEvent) error
}

func NewCallbackPublisher(cb func(ctx context.Context, event *DispatchEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

func (p *CallbackPublisher) PublishDispatch(ctx context.Context, event *DispatchEvent) error {
	return p.callback(ctx, event)
}
