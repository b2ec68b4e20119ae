package irisfast

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type bridge struct {
	mu       sync.Mutex
	bodies   map[string][]byte
	headers  http.Header
	failures atomic.Int32
}

func newBridge(t *testing.T) (*bridge, *httptest.Server) {
	t.Helper()
	b := &bridge{bodies: map[string][]byte{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/config", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.headers = r.Header.Clone()
		b.mu.Unlock()
		_, _ = io.WriteString(w, `{"port":3000,"bot_jid":"999@s.whatsapp.net"}`)
	})
	mux.HandleFunc("/groups/", func(w http.ResponseWriter, r *http.Request) {
		if b.failures.Add(-1) >= 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"id":"42@g.us","subject":"club","participants":[{"id":"7@lid","phone_number":"7@s.whatsapp.net","admin":"admin"}]}`)
	})
	mux.HandleFunc("/lid/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/lid/7@lid":
			_, _ = io.WriteString(w, `{"lid":"7@lid","phone":"7@s.whatsapp.net"}`)
		case "/lid/8@lid":
			_, _ = io.WriteString(w, `{"lid":"8@lid"}`)
		default:
			http.NotFound(w, r)
		}
	})
	for _, p := range []string{"/reply", "/react"} {
		mux.HandleFunc(p, func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			b.mu.Lock()
			b.bodies[r.URL.Path] = body
			b.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *bridge) body(path string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bodies[path]
}

func TestGetConfigSendsHeaders(t *testing.T) {
	b, srv := newBridge(t)
	c := NewClient(srv.URL+"/", WithHeaderProvider(func() map[string]string {
		return map[string]string{"X-User-Id": "u1", "X-Empty": " "}
	}))

	cfg, err := c.GetConfig(context.Background())
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if cfg.BotJID != "999@s.whatsapp.net" || cfg.Port != 3000 {
		t.Fatalf("config = %+v", cfg)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.headers.Get("X-User-Id") != "u1" {
		t.Fatalf("header not forwarded: %v", b.headers)
	}
	if _, ok := b.headers["X-Empty"]; ok {
		t.Fatalf("blank header should be skipped")
	}
}

func TestGroupMetadataRetries(t *testing.T) {
	b, srv := newBridge(t)
	b.failures.Store(2)
	c := NewClient(srv.URL, WithRetry(3))

	meta, err := c.GroupMetadata(context.Background(), "42@g.us")
	if err != nil {
		t.Fatalf("GroupMetadata: %v", err)
	}
	if meta.Subject != "club" || len(meta.Participants) != 1 || !meta.Participants[0].IsAdmin() {
		t.Fatalf("meta = %+v", meta)
	}

	b.failures.Store(5)
	if _, err := NewClient(srv.URL, WithRetry(2)).GroupMetadata(context.Background(), "42@g.us"); err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
}

func TestPhoneForLID(t *testing.T) {
	_, srv := newBridge(t)
	c := NewClient(srv.URL, WithTimeout(2*time.Second))
	ctx := context.Background()

	phone, err := c.PhoneForLID(ctx, "7@lid")
	if err != nil || phone != "7@s.whatsapp.net" {
		t.Fatalf("PhoneForLID = %q, %v", phone, err)
	}
	if _, err := c.PhoneForLID(ctx, "8@lid"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty mapping err = %v", err)
	}
	if _, err := c.PhoneForLID(ctx, "9@lid"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("404 err = %v", err)
	}
}

func TestAutoEgressFallsBackToHTTP(t *testing.T) {
	b, srv := newBridge(t)
	c := NewClient(srv.URL)
	ws := NewWebSocket("ws://127.0.0.1:1/ws", 0, time.Millisecond)
	out := NewEgress("auto", false, c, ws, nil)
	ctx := context.Background()

	if err := out.SendReply(ctx, "42@g.us", "hi", "m1"); err != nil {
		t.Fatalf("SendReply: %v", err)
	}
	var reply ReplyRequest
	if err := json.Unmarshal(b.body("/reply"), &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Room != "42@g.us" || reply.Data != "hi" || reply.QuotedID != "m1" {
		t.Fatalf("reply = %+v", reply)
	}

	key := MessageKey{ChatID: "42@g.us", ID: "m1"}
	if err := out.SendReaction(ctx, "42@g.us", key, "👍"); err != nil {
		t.Fatalf("SendReaction: %v", err)
	}
	var react ReactionRequest
	if err := json.Unmarshal(b.body("/react"), &react); err != nil {
		t.Fatalf("decode reaction: %v", err)
	}
	if react.Emoji != "👍" || react.Key.ID != "m1" {
		t.Fatalf("reaction = %+v", react)
	}
}

func TestWSEgressDryRun(t *testing.T) {
	out := NewEgress("ws", true, nil, NewWebSocket("ws://127.0.0.1:1/ws", 0, time.Millisecond), nil)
	if err := out.SendText(context.Background(), "1@s.whatsapp.net", "x"); err != nil {
		t.Fatalf("dry run should not touch the socket: %v", err)
	}
	live := NewEgress("ws", false, nil, NewWebSocket("ws://127.0.0.1:1/ws", 0, time.Millisecond), nil)
	if err := live.SendText(context.Background(), "1@s.whatsapp.net", "x"); err == nil {
		t.Fatalf("expected error on a disconnected socket")
	}
}

func TestContentTextAndKind(t *testing.T) {
	c := &Content{ImageCaption: ".ping"}
	if c.Text() != ".ping" || c.Kind() != ContentImage {
		t.Fatalf("text=%q kind=%q", c.Text(), c.Kind())
	}
	if !(*Content)(nil).Empty() || (&Content{Type: ContentSticker}).Empty() {
		t.Fatalf("Empty misreports")
	}
}
