// Package command holds command descriptors and the registry that indexes them.
package command

import (
	"context"
	"errors"

	"github.com/park285/chat-dispatch-bot/internal/msgctx"
	"github.com/park285/chat-dispatch-bot/internal/store"
)

var (
	ErrNoName    = errors.New("command: descriptor has no name")
	ErrNoHandler = errors.New("command: descriptor has no handler")
)

// Flags are the permission requirements enforced by the dispatch gate.
// Handlers must not re-check them.
type Flags struct {
	OwnerOnly        bool `yaml:"owner_only"`
	SudoOnly         bool `yaml:"sudo_only"`
	PremiumOnly      bool `yaml:"premium_only"`
	GroupOnly        bool `yaml:"group_only"`
	AdminOnly        bool `yaml:"admin_only"`
	BotAdminRequired bool `yaml:"bot_admin_required"`
}

// Request is everything a handler gets: the resolved context, the remote
// store and reply helpers bound to the originating chat.
type Request struct {
	Msg     *msgctx.Context
	API     store.API
	Command *Descriptor
	Reply   func(ctx context.Context, text string) error
	React   func(ctx context.Context, emoji string) error
}

type HandlerFunc func(ctx context.Context, req *Request) error

// Bindings maps the handler keys used in descriptor files to Go handlers.
type Bindings map[string]HandlerFunc

// Descriptor is immutable once registered.
type Descriptor struct {
	Name        string   `yaml:"name"`
	Aliases     []string `yaml:"aliases"`
	Category    string   `yaml:"category"`
	Description string   `yaml:"description"`
	Usage       string   `yaml:"usage"`
	Binding     string   `yaml:"handler"`
	Flags       `yaml:",inline"`

	Handler HandlerFunc `yaml:"-"`
}

