// Package builtin binds the bundled command descriptors to their handlers.
package builtin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/park285/chat-dispatch-bot/internal/command"
	"github.com/park285/chat-dispatch-bot/internal/dispatch"
	"github.com/park285/chat-dispatch-bot/internal/domain"
	"github.com/park285/chat-dispatch-bot/internal/identity"
	"github.com/park285/chat-dispatch-bot/internal/msgcat"
	"github.com/park285/chat-dispatch-bot/internal/msgctx"
	"github.com/park285/chat-dispatch-bot/internal/wordchain"
)

type Deps struct {
	State   *dispatch.State
	Game    *wordchain.Engine
	Catalog *msgcat.Catalog
}

// Handlers implements the bundled commands. The registry is attached after it
// is built from Bindings, since menu reads it.
type Handlers struct {
	Deps
	registry *command.Registry
}

func New(d Deps) *Handlers {
	if d.Catalog == nil {
		d.Catalog = msgcat.MustDefault()
	}
	return &Handlers{Deps: d}
}

func (h *Handlers) AttachRegistry(r *command.Registry) { h.registry = r }

// Bindings returns the handler table keyed like the embedded descriptors.
func (h *Handlers) Bindings() command.Bindings {
	b := command.Bindings{
		"general.ping":         h.ping,
		"general.menu":         h.menu,
		"general.plan":         h.plan,
		"owner.mode":           h.mode,
		"owner.block":          h.block,
		"owner.unblock":        h.unblock,
		"owner.setplan":        h.setPlan,
		"owner.setprefix":      h.setPrefix,
		"owner.addreaction":    h.addReaction,
		"owner.clearreactions": h.clearReactions,
	}
	if h.Game != nil {
		b["games.wordchain"] = h.Game.HandleCommand
	}
	return b
}

func (h *Handlers) say(ctx context.Context, req *command.Request, key string, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	data["Prefix"] = req.Msg.Prefix
	if req.Command != nil {
		data["Command"] = req.Command.Name
		data["Usage"] = req.Command.Usage
	}
	return req.Reply(ctx, h.Catalog.Text(key, data, key))
}

func (h *Handlers) usage(ctx context.Context, req *command.Request) error {
	return h.say(ctx, req, "errors.usage", nil)
}

func (h *Handlers) ping(ctx context.Context, req *command.Request) error {
	latency := time.Since(req.Msg.Timestamp).Round(time.Millisecond)
	if latency < 0 {
		latency = 0
	}
	return h.say(ctx, req, "general.pong", map[string]any{"Latency": latency.String()})
}

func (h *Handlers) menu(ctx context.Context, req *command.Request) error {
	if h.registry == nil {
		return fmt.Errorf("menu: registry not attached")
	}
	cats := h.registry.Categories()
	if len(req.Msg.Args) > 0 {
		want := strings.ToLower(req.Msg.Args[0])
		cats = cats[:0:0]
		for _, c := range h.registry.Categories() {
			if c == want {
				cats = append(cats, c)
			}
		}
		if len(cats) == 0 {
			return h.say(ctx, req, "general.menu_unknown", map[string]any{"Category": want})
		}
	}

	lines := []string{h.Catalog.Text("general.menu_header", map[string]any{"Prefix": req.Msg.Prefix}, "Commands")}
	for _, c := range cats {
		var names []string
		for _, d := range h.registry.ByCategory(c) {
			names = append(names, req.Msg.Prefix+d.Name)
		}
		lines = append(lines, h.Catalog.Text("general.menu_category", map[string]any{
			"Category": c,
			"Names":    strings.Join(names, ", "),
		}, c+": "+strings.Join(names, ", ")))
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func (h *Handlers) plan(ctx context.Context, req *command.Request) error {
	return h.say(ctx, req, "general.plan", map[string]any{"Plan": string(req.Msg.Tier)})
}

func (h *Handlers) mode(ctx context.Context, req *command.Request) error {
	if len(req.Msg.Args) == 0 {
		return h.say(ctx, req, "owner.mode_current", map[string]any{"Mode": string(h.State.Mode(ctx))})
	}
	m, ok := domain.ParseMode(req.Msg.Args[0])
	if !ok {
		return h.usage(ctx, req)
	}
	h.State.SetMode(ctx, m)
	return h.say(ctx, req, "owner.mode_set", map[string]any{"Mode": string(m)})
}

// target picks a user from a mention, the quoted message sender or the first
// argument, in that order, as a canonical identity.
func target(c *msgctx.Context) string {
	if len(c.Mentions) > 0 {
		return c.Mentions[0]
	}
	if c.Quoted != nil && c.Quoted.SenderDigits != "" {
		return identity.PhoneJID(c.Quoted.SenderDigits)
	}
	if len(c.Args) > 0 {
		return identity.PhoneJID(identity.Digits(c.Args[0]))
	}
	return ""
}

func (h *Handlers) block(ctx context.Context, req *command.Request) error {
	id := target(req.Msg)
	if id == "" {
		return h.say(ctx, req, "owner.no_target", nil)
	}
	key := "owner.already_blocked"
	if h.State.Block(ctx, id) {
		key = "owner.blocked"
	}
	return h.say(ctx, req, key, map[string]any{"Target": "@" + identity.Digits(id)})
}

func (h *Handlers) unblock(ctx context.Context, req *command.Request) error {
	id := target(req.Msg)
	if id == "" {
		return h.say(ctx, req, "owner.no_target", nil)
	}
	key := "owner.not_blocked"
	if h.State.Unblock(ctx, id) {
		key = "owner.unblocked"
	}
	return h.say(ctx, req, key, map[string]any{"Target": "@" + identity.Digits(id)})
}

func (h *Handlers) setPlan(ctx context.Context, req *command.Request) error {
	c := req.Msg
	if len(c.Args) == 0 {
		return h.usage(ctx, req)
	}
	raw := c.Args[len(c.Args)-1]
	plan, ok := domain.ParsePlan(raw)
	if !ok {
		return h.say(ctx, req, "owner.invalid_plan", map[string]any{"Plan": raw})
	}
	probe := *c
	probe.Args = c.Args[:len(c.Args)-1]
	id := target(&probe)
	if id == "" {
		return h.say(ctx, req, "owner.no_target", nil)
	}
	h.State.SetPlan(ctx, id, plan)
	return h.say(ctx, req, "owner.plan_set", map[string]any{"Target": "@" + identity.Digits(id), "Plan": string(plan)})
}

func (h *Handlers) setPrefix(ctx context.Context, req *command.Request) error {
	if len(req.Msg.Args) != 1 {
		return h.usage(ctx, req)
	}
	p := req.Msg.Args[0]
	h.State.SetPrefix(ctx, p)
	return req.Reply(ctx, h.Catalog.Text("owner.prefix_set", map[string]any{"Prefix": p}, "Prefix is now "+p))
}

func (h *Handlers) addReaction(ctx context.Context, req *command.Request) error {
	args := req.Msg.Args
	if len(args) < 2 {
		return h.usage(ctx, req)
	}
	trigger, ok := domain.ParseTrigger(args[0])
	if !ok {
		return h.say(ctx, req, "owner.invalid_trigger", map[string]any{"Trigger": args[0]})
	}
	rule := domain.ReactionRule{Trigger: trigger, Emoji: args[1], Value: strings.Join(args[2:], " ")}
	n := h.State.AddReaction(ctx, rule)
	return h.say(ctx, req, "owner.reaction_added", map[string]any{"Count": n, "Trigger": string(trigger), "Emoji": rule.Emoji})
}

func (h *Handlers) clearReactions(ctx context.Context, req *command.Request) error {
	h.State.SetReactions(ctx, nil)
	return h.say(ctx, req, "owner.reactions_cleared", nil)
}
