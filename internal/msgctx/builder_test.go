package msgctx

import (
	"context"
	"errors"
	"testing"

	"github.com/park285/chat-dispatch-bot/internal/domain"
	"github.com/park285/chat-dispatch-bot/internal/identity"
	"github.com/park285/chat-dispatch-bot/internal/irisfast"
)

type fixedTiers map[string]domain.Plan

func (f fixedTiers) Tier(_ context.Context, id string) domain.Plan {
	if p, ok := f[id]; ok {
		return p
	}
	return domain.PlanFree
}

type fixedPrefix string

func (p fixedPrefix) Prefix(context.Context) string { return string(p) }

type failingMapper struct{}

func (failingMapper) PhoneForLID(context.Context, string) (string, error) {
	return "", irisfast.ErrNotFound
}

const groupID = "120363@g.us"

func testGroup() *irisfast.GroupMetadata {
	return &irisfast.GroupMetadata{
		ID: groupID,
		Participants: []irisfast.Participant{
			{ID: "900@lid", PhoneNumber: "15550100@s.whatsapp.net", Admin: "admin"},
			{ID: "777@s.whatsapp.net", Admin: "superadmin"},
			{ID: "222@s.whatsapp.net"},
		},
	}
}

func newTestBuilder(groups GroupSource, tiers TierSource) *Builder {
	return NewBuilder(Options{
		Resolver:  identity.NewResolver(failingMapper{}, nil),
		Groups:    groups,
		Tiers:     tiers,
		Prefix:    fixedPrefix("!"),
		Owners:    []string{"15550100"},
		BotNumber: "777",
	})
}

func textMsg(chat, participant, text string) *irisfast.Message {
	return &irisfast.Message{
		Key:     irisfast.MessageKey{ChatID: chat, Participant: participant, ID: "M1"},
		Content: &irisfast.Content{Conversation: text},
	}
}

func TestBuildGroupCommandFromLIDOwner(t *testing.T) {
	b := newTestBuilder(&countingGroups{meta: testGroup()}, nil)
	c := b.Build(context.Background(), textMsg(groupID, "900@lid", "  !Mode  private now"))

	if !c.IsGroup || c.Sender != "900@lid" {
		t.Fatalf("group/sender: %v %q", c.IsGroup, c.Sender)
	}
	if c.SenderDigits != "15550100" || c.SenderID != "15550100@s.whatsapp.net" {
		t.Fatalf("resolved identity: %q %q", c.SenderDigits, c.SenderID)
	}
	if !c.IsCommand || c.Command != "mode" || len(c.Args) != 2 || c.ArgText() != "private now" {
		t.Fatalf("command parse: %v %q %v", c.IsCommand, c.Command, c.Args)
	}
	if !c.IsOwner || !c.IsSudo || !c.IsPremium {
		t.Fatalf("owner flags: owner=%v sudo=%v premium=%v", c.IsOwner, c.IsSudo, c.IsPremium)
	}
	if !c.IsAdmin || !c.IsBotAdmin {
		t.Fatalf("admin flags: admin=%v bot=%v", c.IsAdmin, c.IsBotAdmin)
	}
}

func TestBuildFallbackResolutionNeverOwner(t *testing.T) {
	// digits of the opaque handle equal an owner number, but resolution failed
	b := newTestBuilder(nil, nil)
	c := b.Build(context.Background(), textMsg("15550100@lid", "", "hi"))

	if c.SenderDigits != "15550100" {
		t.Fatalf("fallback digits = %q", c.SenderDigits)
	}
	if c.IsOwner || c.IsSudo {
		t.Fatalf("untrusted resolution must not grant owner")
	}
	if c.IsCommand {
		t.Fatalf("text without prefix is not a command")
	}
}

func TestBuildDegradesOnGroupMetadataFailure(t *testing.T) {
	b := newTestBuilder(&countingGroups{err: errors.New("timeout")}, nil)
	c := b.Build(context.Background(), textMsg(groupID, "222@s.whatsapp.net", "!ping"))

	if c.Group != nil || c.IsAdmin || c.IsBotAdmin {
		t.Fatalf("expected degraded context, got group=%v admin=%v bot=%v", c.Group, c.IsAdmin, c.IsBotAdmin)
	}
	if c.Command != "ping" || c.SenderDigits != "222" {
		t.Fatalf("context incomplete: %q %q", c.Command, c.SenderDigits)
	}
}

func TestBuildTierFlags(t *testing.T) {
	tiers := fixedTiers{
		"301@s.whatsapp.net": domain.PlanPremium,
		"302@s.whatsapp.net": domain.PlanSudo,
		"303@s.whatsapp.net": domain.PlanBanned,
	}
	b := newTestBuilder(nil, tiers)
	ctx := context.Background()

	c := b.Build(ctx, textMsg("301@s.whatsapp.net", "", "x"))
	if !c.IsPremium || c.IsSudo || c.IsBanned {
		t.Fatalf("premium flags: %+v", c)
	}
	c = b.Build(ctx, textMsg("302@s.whatsapp.net", "", "x"))
	if !c.IsSudo || !c.IsPremium {
		t.Fatalf("sudo should imply premium")
	}
	c = b.Build(ctx, textMsg("303@s.whatsapp.net", "", "x"))
	if !c.IsBanned || c.Tier != domain.PlanBanned {
		t.Fatalf("banned flags: %+v", c)
	}
}

func TestBuildQuotedAndMentions(t *testing.T) {
	b := newTestBuilder(&countingGroups{meta: testGroup()}, nil)
	msg := textMsg(groupID, "222@s.whatsapp.net", "!block")
	msg.ContextInfo = &irisfast.ContextInfo{
		StanzaID:      "Q1",
		Participant:   "900@lid",
		QuotedMessage: &irisfast.Content{Type: "image", ImageCaption: "look"},
		MentionedJIDs: []string{"900@lid", "444@s.whatsapp.net"},
	}
	c := b.Build(context.Background(), msg)

	if c.Quoted == nil || c.Quoted.ID != "Q1" || c.Quoted.Type != "image" || c.Quoted.Text != "look" {
		t.Fatalf("quoted = %+v", c.Quoted)
	}
	if c.Quoted.SenderDigits != "15550100" {
		t.Fatalf("quoted sender digits = %q", c.Quoted.SenderDigits)
	}
	if len(c.Mentions) != 2 || c.Mentions[0] != "15550100@s.whatsapp.net" || c.Mentions[1] != "444@s.whatsapp.net" {
		t.Fatalf("mentions = %v", c.Mentions)
	}
}

func TestBuildCaptionAndFromMe(t *testing.T) {
	b := newTestBuilder(nil, nil)
	msg := &irisfast.Message{
		Key:     irisfast.MessageKey{ChatID: "555@s.whatsapp.net", FromMe: true, ID: "M2"},
		Content: &irisfast.Content{Type: "video", VideoCaption: "!Ping"},
	}
	c := b.Build(context.Background(), msg)

	if c.Type != "video" || c.Command != "ping" {
		t.Fatalf("type/command: %q %q", c.Type, c.Command)
	}
	if c.SenderDigits != "777" || !c.IsOwner {
		t.Fatalf("outbound message should be attributed to the bot: %q owner=%v", c.SenderDigits, c.IsOwner)
	}
}
