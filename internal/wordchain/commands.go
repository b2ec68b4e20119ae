package wordchain

import (
	"context"
	"errors"
	"strings"

	"github.com/park285/chat-dispatch-bot/internal/command"
	"github.com/park285/chat-dispatch-bot/internal/msgctx"
)

func playerOf(c *msgctx.Context) Player {
	name := strings.TrimSpace(c.PushName)
	if name == "" {
		name = "@" + c.SenderDigits
	}
	return Player{ID: c.SenderID, Name: name}
}

// HandleCommand serves "wcg join|start|skip|stop|status".
func (e *Engine) HandleCommand(ctx context.Context, req *command.Request) error {
	c := req.Msg
	sub := "status"
	if len(c.Args) > 0 {
		sub = strings.ToLower(c.Args[0])
	}
	data := map[string]any{"Prefix": c.Prefix, "Min": e.cfg.MinPlayers, "Max": e.cfg.MaxPlayers}

	switch sub {
	case "join":
		snap, err := e.Join(ctx, c.ChatID, playerOf(c))
		if err != nil {
			return e.replyErr(ctx, req, err, data)
		}
		data["Player"] = playerOf(c).label()
		data["Count"] = len(snap.Players)
		data["Host"] = snap.Host.label()
		return req.Reply(ctx, e.catalog.Text("wordchain.joined", data, "Joined."))

	case "start":
		snap, err := e.Start(ctx, c.ChatID, c.SenderID, c.IsAdmin || c.IsOwner)
		if err != nil {
			return e.replyErr(ctx, req, err, data)
		}
		data["Order"] = names(snap.Players)
		data["Word"] = snap.Word
		data["Letter"] = strings.ToUpper(snap.Letter)
		data["Player"] = snap.Current.label()
		data["Timeout"] = e.cfg.TurnTimeout.String()
		return req.Reply(ctx, e.catalog.Text("wordchain.started", data, "Game started."))

	case "skip":
		out, err := e.Skip(ctx, c.ChatID, c.SenderID)
		if err != nil {
			return e.replyErr(ctx, req, err, data)
		}
		data["Player"] = out.Eliminated.label()
		text := e.catalog.Text("wordchain.skipped", data, "Skipped.") + "\n" + e.describeOutcome(out)
		return req.Reply(ctx, text)

	case "stop":
		if err := e.Stop(ctx, c.ChatID, c.SenderID, c.IsAdmin || c.IsOwner); err != nil {
			return e.replyErr(ctx, req, err, data)
		}
		return req.Reply(ctx, e.catalog.Text("wordchain.stopped", data, "Stopped."))

	default:
		snap, ok := e.Status(c.ChatID)
		if !ok {
			return e.replyErr(ctx, req, ErrNoSession, data)
		}
		data["Players"] = names(snap.Players)
		data["Count"] = len(snap.Players)
		data["Host"] = snap.Host.label()
		if snap.Status == StatusWaiting {
			return req.Reply(ctx, e.catalog.Text("wordchain.status_waiting", data, "Waiting for players."))
		}
		data["Round"] = snap.Round
		data["Player"] = snap.Current.label()
		data["Letter"] = strings.ToUpper(snap.Letter)
		data["Word"] = snap.Word
		return req.Reply(ctx, e.catalog.Text("wordchain.status_playing", data, "Game in progress."))
	}
}

// Listener treats plain text from the player on turn as a submission.
// Messages from anyone else, or in chats without a game, are ignored.
func (e *Engine) Listener(ctx context.Context, req *command.Request) error {
	c := req.Msg
	if !c.IsGroup || c.IsCommand || strings.TrimSpace(c.Text) == "" {
		return nil
	}
	snap, err := e.Submit(ctx, c.ChatID, c.SenderID, c.Text)
	switch {
	case err == nil:
		return req.Reply(ctx, e.catalog.Text("wordchain.accepted", map[string]any{
			"Word":   snap.Word,
			"Player": snap.Current.label(),
			"Letter": strings.ToUpper(snap.Letter),
		}, "Accepted."))
	case errors.Is(err, ErrNoSession), errors.Is(err, ErrNotPlaying), errors.Is(err, ErrNotYourTurn), errors.Is(err, ErrHasSpace):
		// ordinary chatter
		return nil
	default:
		return e.replyErr(ctx, req, err, map[string]any{"Word": strings.ToLower(strings.TrimSpace(c.Text)), "Letter": strings.ToUpper(e.letterOf(c.ChatID))})
	}
}

func (e *Engine) letterOf(chatID string) string {
	snap, _ := e.Status(chatID)
	return snap.Letter
}

var errKeys = map[error]string{
	ErrNoSession:     "wordchain.no_session",
	ErrGameRunning:   "wordchain.game_running",
	ErrNotPlaying:    "wordchain.no_session",
	ErrAlreadyJoined: "wordchain.already_joined",
	ErrLobbyFull:     "wordchain.lobby_full",
	ErrNotEnough:     "wordchain.not_enough",
	ErrNotHost:       "wordchain.not_host",
	ErrNotYourTurn:   "wordchain.not_your_turn",
	ErrHasSpace:      "wordchain.reject_space",
	ErrWrongLetter:   "wordchain.reject_letter",
	ErrUsed:          "wordchain.reject_used",
	ErrNotAWord:      "wordchain.reject_unknown",
}

func (e *Engine) replyErr(ctx context.Context, req *command.Request, err error, data map[string]any) error {
	key, ok := errKeys[err]
	if !ok {
		return err
	}
	return req.Reply(ctx, e.catalog.Text(key, data, err.Error()))
}

func (e *Engine) describeOutcome(out Outcome) string {
	switch {
	case out.Over && out.Winner != nil:
		return e.catalog.Text("wordchain.winner", map[string]any{"Player": out.Winner.label(), "Round": out.Round}, out.Winner.label()+" wins!")
	case out.Over:
		return e.catalog.Text("wordchain.no_winner", nil, "Game over.")
	}
	return e.catalog.Text("wordchain.next_turn", map[string]any{"Player": out.Next.label(), "Letter": strings.ToUpper(out.Letter)}, out.Next.label()+", your turn.")
}

func names(ps []Player) string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.label()
	}
	return strings.Join(out, ", ")
}
