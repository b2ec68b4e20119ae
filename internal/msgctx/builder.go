package msgctx

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chat-dispatch-bot/internal/domain"
	"github.com/park285/chat-dispatch-bot/internal/identity"
	"github.com/park285/chat-dispatch-bot/internal/irisfast"
	"github.com/park285/chat-dispatch-bot/internal/obslog"
	"github.com/park285/chat-dispatch-bot/internal/store"
)

// GroupSource fetches group metadata, usually through GroupCache.
type GroupSource interface {
	GroupMetadata(ctx context.Context, chatID string) (*irisfast.GroupMetadata, error)
}

// TierSource returns the cached plan for a canonical identity.
type TierSource interface {
	Tier(ctx context.Context, identity string) domain.Plan
}

// PrefixSource returns the current command prefix.
type PrefixSource interface {
	Prefix(ctx context.Context) string
}

type Options struct {
	Resolver *identity.Resolver
	Groups   GroupSource
	Tiers    TierSource
	Prefix   PrefixSource
	// Owners are phone digits. The bot's own number is always an owner.
	Owners    []string
	BotNumber string
	Logger    *zap.Logger
}

// Builder produces a Context for every event; sub-lookup failures degrade
// instead of aborting.
type Builder struct {
	resolver  *identity.Resolver
	groups    GroupSource
	tiers     TierSource
	prefix    PrefixSource
	owners    map[string]struct{}
	botDigits string
	logger    *zap.Logger
}

func NewBuilder(opts Options) *Builder {
	b := &Builder{
		resolver:  opts.Resolver,
		groups:    opts.Groups,
		tiers:     opts.Tiers,
		prefix:    opts.Prefix,
		owners:    make(map[string]struct{}, len(opts.Owners)+1),
		botDigits: identity.Digits(opts.BotNumber),
		logger:    obslog.Or(opts.Logger),
	}
	if b.resolver == nil {
		b.resolver = identity.NewResolver(nil, b.logger)
	}
	for _, o := range opts.Owners {
		if d := identity.Digits(o); d != "" {
			b.owners[d] = struct{}{}
		}
	}
	if b.botDigits != "" {
		b.owners[b.botDigits] = struct{}{}
	}
	return b
}

// Build never fails; msg must be non-nil.
func (b *Builder) Build(ctx context.Context, msg *irisfast.Message) *Context {
	c := &Context{
		ChatID:    strings.TrimSpace(msg.Key.ChatID),
		Key:       msg.Key,
		PushName:  msg.PushName,
		BotDigits: b.botDigits,
		Type:      msg.Content.Kind(),
		Text:      msg.Content.Text(),
	}
	c.IsGroup = identity.IsGroup(c.ChatID)
	c.Timestamp = time.Now()
	if msg.Timestamp > 0 {
		c.Timestamp = time.Unix(msg.Timestamp, 0)
	}

	switch {
	case msg.Key.FromMe && b.botDigits != "":
		c.Sender = identity.PhoneJID(b.botDigits)
	case c.IsGroup:
		c.Sender = msg.Key.Participant
	default:
		c.Sender = c.ChatID
	}

	if c.IsGroup && b.groups != nil {
		meta, err := b.groups.GroupMetadata(ctx, c.ChatID)
		if err != nil {
			b.logger.Warn("group_metadata_degraded", zap.String("chat_id", c.ChatID), zap.Error(err))
		} else {
			c.Group = meta
		}
	}

	c.Resolution = b.resolver.Resolve(ctx, c.Sender, c.Participants())
	c.SenderDigits = c.Resolution.Digits
	c.SenderID = identity.PhoneJID(c.SenderDigits)

	b.parseCommand(ctx, c)
	b.extractReply(ctx, c, msg.ContextInfo)

	if c.Group != nil {
		c.IsAdmin = b.isAdmin(c.Group.Participants, c.Sender, c.SenderDigits)
		if b.botDigits != "" {
			c.IsBotAdmin = b.isAdmin(c.Group.Participants, identity.PhoneJID(b.botDigits), b.botDigits)
		}
	}

	b.applyTrust(ctx, c)
	return c
}

func (b *Builder) parseCommand(ctx context.Context, c *Context) {
	prefix := store.DefaultPrefix
	if b.prefix != nil {
		if p := b.prefix.Prefix(ctx); p != "" {
			prefix = p
		}
	}
	c.Prefix = prefix

	text := strings.TrimSpace(c.Text)
	if !strings.HasPrefix(text, prefix) {
		return
	}
	fields := strings.Fields(strings.TrimPrefix(text, prefix))
	if len(fields) == 0 {
		return
	}
	c.IsCommand = true
	c.Command = strings.ToLower(fields[0])
	c.Args = fields[1:]
}

func (b *Builder) extractReply(ctx context.Context, c *Context, info *irisfast.ContextInfo) {
	if info == nil {
		return
	}
	for _, m := range info.MentionedJIDs {
		if r := b.resolver.Resolve(ctx, m, c.Participants()); r.Digits != "" {
			c.Mentions = append(c.Mentions, identity.PhoneJID(r.Digits))
		}
	}
	if info.StanzaID == "" && info.QuotedMessage == nil {
		return
	}
	q := &Quoted{
		ID:     info.StanzaID,
		Type:   info.QuotedMessage.Kind(),
		Text:   info.QuotedMessage.Text(),
		Sender: info.Participant,
	}
	if q.Sender != "" {
		q.SenderDigits = b.resolver.Resolve(ctx, q.Sender, c.Participants()).Digits
	}
	c.Quoted = q
}

// isAdmin matches by handle first, then by resolved digits for entries whose
// id is an opaque handle.
func (b *Builder) isAdmin(participants []irisfast.Participant, handle, digits string) bool {
	bare := identity.Bare(handle)
	for _, p := range participants {
		if identity.Bare(p.ID) == bare || (p.LID != "" && identity.Bare(p.LID) == bare) {
			return p.IsAdmin()
		}
	}
	if digits == "" {
		return false
	}
	for _, p := range participants {
		if b.participantDigits(p) == digits {
			return p.IsAdmin()
		}
	}
	return false
}

func (b *Builder) participantDigits(p irisfast.Participant) string {
	if !identity.IsLID(p.ID) {
		return identity.Digits(p.ID)
	}
	if p.PhoneNumber != "" {
		return identity.Digits(p.PhoneNumber)
	}
	d, _ := b.resolver.Cached(p.ID)
	return d
}

// applyTrust derives owner and tier flags from the resolved identity only.
// An untrusted fallback resolution never grants owner.
func (b *Builder) applyTrust(ctx context.Context, c *Context) {
	if c.Resolution.Trusted() {
		_, c.IsOwner = b.owners[c.SenderDigits]
	}
	c.Tier = domain.PlanFree
	if b.tiers != nil && c.SenderID != "" {
		c.Tier = b.tiers.Tier(ctx, c.SenderID)
	}
	c.IsBanned = c.Tier == domain.PlanBanned
	c.IsSudo = c.IsOwner || c.Tier == domain.PlanSudo
	c.IsPremium = c.IsSudo || c.Tier == domain.PlanPremium
}
