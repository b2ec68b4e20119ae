// Command irischeck probes the bridge, its websocket and the store, then exits.
// It reads the same environment as chat-bot.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"go.uber.org/zap"

	appcfg "github.com/park285/chat-dispatch-bot/internal/config"
	"github.com/park285/chat-dispatch-bot/internal/irisfast"
	"github.com/park285/chat-dispatch-bot/internal/obslog"
	"github.com/park285/chat-dispatch-bot/internal/store"
)

func main() {
	observe := flag.Duration("observe", 10*time.Second, "how long to print websocket events")
	flag.Parse()

	logger, err := obslog.New(obslog.Options{Level: "debug", Console: true, Format: "console"})
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := appcfg.Load()
	if err != nil {
		logger.Fatal("config_invalid", zap.Error(err))
	}

	failed := false
	headers := func() map[string]string {
		return map[string]string{
			"X-User-Id":    cfg.XUserID,
			"X-User-Email": cfg.XUserEmail,
			"X-Session-Id": cfg.XSessionID,
		}
	}

	client := irisfast.NewClient(cfg.IrisBaseURL,
		irisfast.WithHeaderProvider(headers),
		irisfast.WithTimeout(8*time.Second),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	bcfg, err := client.GetConfig(ctx)
	cancel()
	if err != nil {
		failed = true
		logger.Error("bridge_config_failed", zap.Error(err))
	} else {
		logger.Info("bridge_config_ok",
			zap.Int("port", bcfg.Port),
			zap.String("bot_jid", bcfg.BotJID),
			zap.String("endpoint", bcfg.WebserverEndpoint),
		)
	}

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	rdb, err := store.Dial(ctx, cfg.RedisURL)
	if err != nil {
		failed = true
		logger.Error("redis_failed", zap.Error(err))
	} else {
		acct, verr := store.NewRedis(rdb, cfg.AccountID).Verify(ctx)
		if verr != nil {
			failed = true
			logger.Error("store_verify_failed", zap.Error(verr))
		} else {
			logger.Info("store_ok", zap.String("account", acct))
		}
		_ = rdb.Close()
	}
	cancel()

	ws := irisfast.NewWebSocket(cfg.IrisWSURL, 0, time.Second)
	ws.SetHeaderProvider(headers)
	ws.SetLogger(logger)
	ws.OnStateChange(func(state irisfast.WebSocketState) {
		logger.Info("ws_state", zap.String("state", string(state)))
	})
	ws.OnMessage(func(msg *irisfast.Message) {
		logger.Info("ws_message",
			zap.String("chat", msg.Key.ChatID),
			zap.String("participant", msg.Key.Participant),
			zap.String("kind", msg.Content.Kind()),
			zap.String("text", msg.Content.Text()),
		)
	})

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	err = ws.Connect(ctx)
	cancel()
	if err != nil {
		failed = true
		logger.Error("ws_connect_failed", zap.Error(err))
	} else {
		time.Sleep(*observe)
	}
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	_ = ws.Close(ctx)
	cancel()

	if failed {
		os.Exit(1)
	}
}
