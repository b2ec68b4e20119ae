// Package msgctx turns one inbound transport event into a resolved request context.
package msgctx

import (
	"strings"
	"time"

	"github.com/park285/chat-dispatch-bot/internal/domain"
	"github.com/park285/chat-dispatch-bot/internal/identity"
	"github.com/park285/chat-dispatch-bot/internal/irisfast"
)

// Quoted is the message a request replies to.
type Quoted struct {
	ID           string
	Type         string
	Text         string
	Sender       string
	SenderDigits string
}

// Context is built once per event and is read-only after it reaches a handler.
type Context struct {
	ChatID  string
	IsGroup bool
	Key     irisfast.MessageKey

	// Sender is the raw handle; SenderID is the canonical phone identity used
	// for storage, tiers and blocks.
	Sender       string
	SenderDigits string
	SenderID     string
	Resolution   identity.Resolution
	PushName     string

	BotDigits string

	Timestamp time.Time
	Type      string
	Text      string

	IsCommand bool
	Prefix    string
	Command   string
	Args      []string

	Quoted   *Quoted
	Mentions []string

	Group *irisfast.GroupMetadata

	IsAdmin    bool
	IsBotAdmin bool
	IsOwner    bool
	IsSudo     bool
	IsPremium  bool
	IsBanned   bool
	Tier       domain.Plan
}

// ArgText returns the arguments joined by single spaces.
func (c *Context) ArgText() string {
	return strings.Join(c.Args, " ")
}

// Participants returns the group participant list, or nil outside groups.
func (c *Context) Participants() []irisfast.Participant {
	if c.Group == nil {
		return nil
	}
	return c.Group.Participants
}
