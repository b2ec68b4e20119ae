package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chat-dispatch-bot/internal/command"
	"github.com/park285/chat-dispatch-bot/internal/domain"
	"github.com/park285/chat-dispatch-bot/internal/events"
	"github.com/park285/chat-dispatch-bot/internal/irisfast"
	"github.com/park285/chat-dispatch-bot/internal/msgcat"
	"github.com/park285/chat-dispatch-bot/internal/msgctx"
	"github.com/park285/chat-dispatch-bot/internal/obslog"
	"github.com/park285/chat-dispatch-bot/internal/store"
)

type Outcome int

const (
	Dropped Outcome = iota
	Handled
	Errored
)

func (o Outcome) String() string {
	switch o {
	case Handled:
		return "handled"
	case Errored:
		return "errored"
	}
	return "dropped"
}

// Reasons attached to a Result.
const (
	ReasonEmpty          = "empty"
	ReasonBanned         = "banned"
	ReasonPrivate        = "private"
	ReasonBlocked        = "blocked"
	ReasonPassive        = "passive"
	ReasonUnknownCommand = "unknown_command"
	ReasonOK             = "ok"
	ReasonHandlerError   = "handler_error"
	ReasonDenied         = "denied_"
)

// Result is the terminal state of one event. A permission denial is Handled
// with a denied_* reason because it produces a reply.
type Result struct {
	Outcome Outcome
	Reason  string
	Command string
}

func (r Result) Denied() bool {
	return strings.HasPrefix(r.Reason, ReasonDenied)
}

// Outbound is the part of the transport the gate and handlers reply through.
type Outbound interface {
	SendReply(ctx context.Context, room, message, quotedID string) error
	SendReaction(ctx context.Context, room string, key irisfast.MessageKey, emoji string) error
}

// Listener receives every event that is not a command.
type Listener func(ctx context.Context, req *command.Request) error

type namedListener struct {
	name string
	fn   Listener
}

type GateOptions struct {
	Builder   *msgctx.Builder
	Registry  *command.Registry
	State     *State
	API       store.API
	Out       Outbound
	Catalog   *msgcat.Catalog
	Publisher events.Publisher
	// AckReaction is sent on every recognised command when non-empty.
	AckReaction string
	Logger      *zap.Logger
}

// Gate runs the per-message pipeline from raw event to handler or drop.
// It never returns an error; every expected condition is a Result.
type Gate struct {
	builder   *msgctx.Builder
	registry  *command.Registry
	state     *State
	api       store.API
	out       Outbound
	catalog   *msgcat.Catalog
	publisher events.Publisher
	ack       string
	logger    *zap.Logger

	mu        sync.RWMutex
	listeners []namedListener

	bg sync.WaitGroup
}

func NewGate(opts GateOptions) *Gate {
	g := &Gate{
		builder:   opts.Builder,
		registry:  opts.Registry,
		state:     opts.State,
		api:       opts.API,
		out:       opts.Out,
		catalog:   opts.Catalog,
		publisher: opts.Publisher,
		ack:       opts.AckReaction,
		logger:    obslog.Or(opts.Logger),
	}
	if g.publisher == nil {
		g.publisher = events.NoOpPublisher{}
	}
	if g.catalog == nil {
		g.catalog = msgcat.MustDefault()
	}
	return g
}

// AddListener registers a passive listener; listeners run in registration order.
func (g *Gate) AddListener(name string, fn Listener) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, namedListener{name: name, fn: fn})
}

// Handle processes one inbound event.
func (g *Gate) Handle(ctx context.Context, msg *irisfast.Message) Result {
	if msg == nil || msg.Content.Empty() {
		return Result{Outcome: Dropped, Reason: ReasonEmpty}
	}
	c := g.builder.Build(ctx, msg)

	// owner messages always proceed
	if !c.IsOwner {
		if c.IsBanned {
			return g.drop(c, ReasonBanned)
		}
		if g.state.Mode(ctx) == domain.ModePrivate {
			return g.drop(c, ReasonPrivate)
		}
		if g.state.IsBlocked(ctx, c.SenderID) {
			return g.drop(c, ReasonBlocked)
		}
	}

	req := g.request(c)
	if !msg.Key.FromMe {
		g.react(ctx, c)
	}

	if !c.IsCommand {
		g.runListeners(ctx, req)
		return Result{Outcome: Handled, Reason: ReasonPassive}
	}

	start := time.Now()
	desc, ok := g.registry.Lookup(c.Command)
	if !ok {
		res := g.drop(c, ReasonUnknownCommand)
		res.Command = c.Command
		g.publish(ctx, c, res, time.Since(start))
		return res
	}
	req.Command = desc

	if g.ack != "" {
		g.reactAsync(ctx, c, g.ack)
	}

	res := g.authorizeAndRun(ctx, desc, req)
	g.publish(ctx, c, res, time.Since(start))
	return res
}

func (g *Gate) authorizeAndRun(ctx context.Context, desc *command.Descriptor, req *command.Request) Result {
	c := req.Msg
	if reason := Deny(c, desc.Flags); reason != "" {
		g.logger.Debug("command_denied", zap.String("command", desc.Name), zap.String("sender", c.SenderID), zap.String("reason", reason))
		text := g.catalog.Text("denied."+reason, g.templateData(c, desc), "Permission denied.")
		if err := req.Reply(ctx, text); err != nil {
			g.logger.Warn("denial_reply_failed", zap.String("command", desc.Name), zap.Error(err))
		}
		return Result{Outcome: Handled, Reason: ReasonDenied + reason, Command: desc.Name}
	}

	if err := g.invoke(ctx, desc, req); err != nil {
		g.logger.Error("command_failed", zap.String("command", desc.Name), zap.String("chat_id", c.ChatID), zap.Error(err))
		text := g.catalog.Text("errors.generic", g.templateData(c, desc), "Something went wrong.")
		if rerr := req.Reply(ctx, text); rerr != nil {
			g.logger.Warn("error_reply_failed", zap.String("command", desc.Name), zap.Error(rerr))
		}
		return Result{Outcome: Errored, Reason: ReasonHandlerError, Command: desc.Name}
	}
	g.logger.Debug("command_handled", zap.String("command", desc.Name), zap.String("chat_id", c.ChatID))
	return Result{Outcome: Handled, Reason: ReasonOK, Command: desc.Name}
}

// Deny returns the first failing permission, in order owner, sudo, premium,
// group, admin, botadmin, or "" when every check passes. The owner satisfies
// the trust checks; group and bot-admin requirements still apply.
func Deny(c *msgctx.Context, f command.Flags) string {
	switch {
	case f.OwnerOnly && !c.IsOwner:
		return "owner"
	case f.SudoOnly && !c.IsSudo && !c.IsOwner:
		return "sudo"
	case f.PremiumOnly && !c.IsPremium && !c.IsOwner:
		return "premium"
	case f.GroupOnly && !c.IsGroup:
		return "group"
	case f.AdminOnly && !c.IsAdmin && !c.IsOwner:
		return "admin"
	case f.BotAdminRequired && !c.IsBotAdmin:
		return "botadmin"
	}
	return ""
}

func (g *Gate) invoke(ctx context.Context, desc *command.Descriptor, req *command.Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("command_panic", zap.String("command", desc.Name), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("command %s panicked: %v", desc.Name, r)
		}
	}()
	return desc.Handler(ctx, req)
}

func (g *Gate) runListeners(ctx context.Context, req *command.Request) {
	g.mu.RLock()
	ls := append([]namedListener(nil), g.listeners...)
	g.mu.RUnlock()
	for _, l := range ls {
		g.runListener(ctx, l, req)
	}
}

func (g *Gate) runListener(ctx context.Context, l namedListener, req *command.Request) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("listener_panic", zap.String("listener", l.name), zap.Any("panic", r))
		}
	}()
	if err := l.fn(ctx, req); err != nil {
		g.logger.Error("listener_failed", zap.String("listener", l.name), zap.Error(err))
	}
}

// react fires the first matching reaction rule.
func (g *Gate) react(ctx context.Context, c *msgctx.Context) {
	for _, rule := range g.state.Reactions(ctx) {
		if rule.Matches(c.Type, c.Text) {
			g.reactAsync(ctx, c, rule.Emoji)
			return
		}
	}
}

func (g *Gate) reactAsync(ctx context.Context, c *msgctx.Context, emoji string) {
	if g.out == nil {
		return
	}
	g.bg.Add(1)
	go func() {
		defer g.bg.Done()
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := g.out.SendReaction(rctx, c.ChatID, c.Key, emoji); err != nil {
			g.logger.Warn("reaction_failed", zap.String("chat_id", c.ChatID), zap.String("emoji", emoji), zap.Error(err))
		}
	}()
}

func (g *Gate) request(c *msgctx.Context) *command.Request {
	return &command.Request{
		Msg: c,
		API: g.api,
		Reply: func(ctx context.Context, text string) error {
			if g.out == nil {
				return nil
			}
			return g.out.SendReply(ctx, c.ChatID, text, c.Key.ID)
		},
		React: func(ctx context.Context, emoji string) error {
			if g.out == nil {
				return nil
			}
			return g.out.SendReaction(ctx, c.ChatID, c.Key, emoji)
		},
	}
}

func (g *Gate) drop(c *msgctx.Context, reason string) Result {
	g.logger.Debug("event_dropped", zap.String("chat_id", c.ChatID), zap.String("sender", c.SenderID), zap.String("reason", reason))
	return Result{Outcome: Dropped, Reason: reason}
}

func (g *Gate) publish(ctx context.Context, c *msgctx.Context, res Result, took time.Duration) {
	outcome := res.Outcome.String()
	if res.Denied() {
		outcome = "denied"
	}
	ev := events.NewDispatchEvent(g.state.AccountID(), c.ChatID, c.SenderID, res.Command, outcome, res.Reason, took)
	g.bg.Add(1)
	go func() {
		defer g.bg.Done()
		if err := g.publisher.PublishDispatch(context.WithoutCancel(ctx), ev); err != nil {
			g.logger.Debug("dispatch_event_failed", zap.String("id", ev.ID), zap.Error(err))
		}
	}()
}

func (g *Gate) templateData(c *msgctx.Context, desc *command.Descriptor) map[string]string {
	return map[string]string{"Prefix": c.Prefix, "Command": desc.Name, "Usage": desc.Usage}
}

// Wait blocks until background reactions and event publishes finish.
func (g *Gate) Wait() { g.bg.Wait() }
