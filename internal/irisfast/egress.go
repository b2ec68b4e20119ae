package irisfast

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket/wsjson"
)

// Egress abstracts outbound text and reactions over HTTP or WebSocket.
type Egress interface {
	SendText(ctx context.Context, room, message string) error
	SendReply(ctx context.Context, room, message, quotedID string) error
	SendReaction(ctx context.Context, room string, key MessageKey, emoji string) error
}

type transportMode string

const (
	transportHTTP transportMode = "http"
	transportWS   transportMode = "ws"
	transportAuto transportMode = "auto"
)

// NewEgress creates an Egress based on mode. When mode is auto, WS is preferred when connected;
// on WS failure, it falls back to HTTP once.
func NewEgress(mode string, dryrun bool, c *Client, ws *WebSocket, logger *zap.Logger) Egress {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch transportMode(mode) {
	case transportWS:
		return &wsEgress{ws: ws, dryrun: dryrun, logger: logger}
	case transportAuto:
		return &autoEgress{ws: &wsEgress{ws: ws, dryrun: dryrun, logger: logger}, http: &httpEgress{c: c}, logger: logger}
	default:
		return &httpEgress{c: c}
	}
}

// httpEgress delegates to Client.
type httpEgress struct{ c *Client }

func (h *httpEgress) SendText(ctx context.Context, room, message string) error {
	if h == nil || h.c == nil {
		return errors.New("http egress not available")
	}
	return h.c.SendMessage(ctx, room, message)
}

func (h *httpEgress) SendReply(ctx context.Context, room, message, quotedID string) error {
	if h == nil || h.c == nil {
		return errors.New("http egress not available")
	}
	return h.c.SendReply(ctx, room, message, quotedID)
}

func (h *httpEgress) SendReaction(ctx context.Context, room string, key MessageKey, emoji string) error {
	if h == nil || h.c == nil {
		return errors.New("http egress not available")
	}
	return h.c.SendReaction(ctx, room, key, emoji)
}

// wsEgress writes request frames over WebSocket.
type wsEgress struct {
	ws     *WebSocket
	dryrun bool
	logger *zap.Logger
}

func (w *wsEgress) SendText(ctx context.Context, room, message string) error {
	return w.SendReply(ctx, room, message, "")
}

func (w *wsEgress) SendReply(ctx context.Context, room, message, quotedID string) error {
	if w == nil || w.ws == nil {
		return errors.New("ws egress not available")
	}
	if w.dryrun {
		w.logger.Info("ws_egress_dryrun", zap.String("type", "text"), zap.String("room", room))
		return nil
	}
	req := ReplyRequest{Type: "text", Room: room, Data: message, QuotedID: quotedID}
	return w.writeJSON(ctx, &req)
}

func (w *wsEgress) SendReaction(ctx context.Context, room string, key MessageKey, emoji string) error {
	if w == nil || w.ws == nil {
		return errors.New("ws egress not available")
	}
	if w.dryrun {
		w.logger.Info("ws_egress_dryrun", zap.String("type", "reaction"), zap.String("room", room))
		return nil
	}
	req := ReactionRequest{Type: "reaction", Room: room, Key: key, Emoji: emoji}
	return w.writeJSON(ctx, &req)
}

func (w *wsEgress) writeJSON(ctx context.Context, v any) error {
	if !w.ws.Connected() {
		return errNotConnected
	}
	dctx := ctx
	if _, ok := ctx.Deadline(); !ok {
		// bounded deadline to prevent indefinite blocking
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	return wsjsonWrite(dctx, w.ws, v)
}

// autoEgress prefers WS if available, with single fallback to HTTP.
type autoEgress struct {
	ws     *wsEgress
	http   *httpEgress
	logger *zap.Logger
}

func (a *autoEgress) wsReady() bool {
	return a.ws != nil && a.ws.ws != nil && a.ws.ws.Connected()
}

func (a *autoEgress) SendText(ctx context.Context, room, message string) error {
	return a.SendReply(ctx, room, message, "")
}

func (a *autoEgress) SendReply(ctx context.Context, room, message, quotedID string) error {
	if a.wsReady() {
		if err := a.ws.SendReply(ctx, room, message, quotedID); err == nil {
			return nil
		}
		a.logger.Warn("egress_fallback", zap.String("type", "text"), zap.String("room", room))
	}
	return a.http.SendReply(ctx, room, message, quotedID)
}

func (a *autoEgress) SendReaction(ctx context.Context, room string, key MessageKey, emoji string) error {
	if a.wsReady() {
		if err := a.ws.SendReaction(ctx, room, key, emoji); err == nil {
			return nil
		}
		a.logger.Warn("egress_fallback", zap.String("type", "reaction"), zap.String("room", room))
	}
	return a.http.SendReaction(ctx, room, key, emoji)
}

// wsjson.Write is not safe for concurrent use; writes are serialized on writeM.
func wsjsonWrite(ctx context.Context, ws *WebSocket, v any) error {
	ws.writeM.Lock()
	defer ws.writeM.Unlock()
	conn := ws.currentConn()
	if conn == nil {
		return errNotConnected
	}
	return wsjson.Write(ctx, conn, v)
}
