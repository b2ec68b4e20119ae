package main

import (
	"context"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chat-dispatch-bot/internal/builtin"
	"github.com/park285/chat-dispatch-bot/internal/command"
	appcfg "github.com/park285/chat-dispatch-bot/internal/config"
	"github.com/park285/chat-dispatch-bot/internal/dispatch"
	"github.com/park285/chat-dispatch-bot/internal/events"
	"github.com/park285/chat-dispatch-bot/internal/identity"
	"github.com/park285/chat-dispatch-bot/internal/irisfast"
	"github.com/park285/chat-dispatch-bot/internal/msgcat"
	"github.com/park285/chat-dispatch-bot/internal/msgctx"
	"github.com/park285/chat-dispatch-bot/internal/obslog"
	"github.com/park285/chat-dispatch-bot/internal/store"
	"github.com/park285/chat-dispatch-bot/internal/wordchain"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	headers := irisHeaders(cfg)
	client := irisfast.NewClient(cfg.IrisBaseURL, irisfast.WithHeaderProvider(headers))
	ws := irisfast.NewWebSocket(cfg.IrisWSURL, 5, time.Second)
	ws.SetHeaderProvider(headers)
	ws.SetLogger(logger.Named("ws"))
	ws.OnStateChange(func(state irisfast.WebSocketState) {
		logger.Info("ws_state", zap.String("state", string(state)))
	})
	egress := irisfast.NewEgress(cfg.TransportMode, cfg.DryRun, client, ws, logger.Named("egress"))

	rdb, err := store.Dial(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis_init_failed", zap.Error(err))
	}
	defer func() { _ = rdb.Close() }()
	api := store.NewRedis(rdb, cfg.AccountID)

	if cfg.DatabaseURL != "" {
		repo, err := store.NewPlanRepository(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("plan_repository_init_failed", zap.Error(err))
		}
		defer func() { _ = repo.Close() }()
		if err := repo.EnsureSchema(ctx); err != nil {
			logger.Fatal("plan_schema_failed", zap.Error(err))
		}
		api.AttachPlanRecords(repo)
	}

	if acct, err := api.Verify(ctx); err != nil {
		logger.Fatal("store_verify_failed", zap.Error(err))
	} else {
		logger.Info("store_verified", zap.String("account", acct))
	}

	state := dispatch.NewState(api, dispatch.StateOptions{
		AccountID:     cfg.AccountID,
		DefaultPrefix: cfg.BotPrefix,
		StoreTimeout:  cfg.StoreTimeout,
		Logger:        logger.Named("state"),
	})
	state.StartResync(ctx, cfg.ResyncInterval)

	catalog, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		logger.Fatal("message_catalog_failed", zap.Error(err))
	}

	builder := msgctx.NewBuilder(msgctx.Options{
		Resolver:  identity.NewResolver(client, logger.Named("identity")),
		Groups:    msgctx.NewGroupCache(rdb, client, cfg.GroupMetaTTL),
		Tiers:     state,
		Prefix:    state,
		Owners:    cfg.OwnerNumbers,
		BotNumber: cfg.BotNumber,
		Logger:    logger.Named("context"),
	})

	game := wordchain.NewEngine(wordchain.Options{
		Config: wordchain.Config{
			TurnTimeout:       cfg.WordchainTurnTimeout,
			DictionaryTimeout: cfg.DictionaryTimeout,
		},
		Dictionary: wordchain.NewHTTPDictionary(cfg.DictionaryURL, cfg.DictionaryTimeout),
		Announce:   egress.SendText,
		Catalog:    catalog,
		Logger:     logger.Named("wordchain"),
	})

	handlers := builtin.New(builtin.Deps{State: state, Game: game, Catalog: catalog})
	registry := command.NewRegistry(handlers.Bindings(), logger.Named("registry"))
	var descriptors fs.FS = command.Defaults()
	if cfg.CommandsDir != "" {
		descriptors = os.DirFS(cfg.CommandsDir)
	}
	n, err := registry.Load(descriptors)
	if err != nil {
		logger.Fatal("command_load_failed", zap.Error(err))
	}
	handlers.AttachRegistry(registry)
	logger.Info("commands_loaded", zap.Int("count", n))

	var publisher events.Publisher = events.NoOpPublisher{}
	if cfg.CommsURL != "" {
		nc, err := events.Connect(cfg.CommsURL, cfg.CommsName)
		if err != nil {
			logger.Warn("comms_unavailable", zap.Error(err))
		} else {
			defer nc.Drain()
			publisher = events.NewCommsPublisher(nc, events.DefaultSubjectPrefix)
		}
	}

	gate := dispatch.NewGate(dispatch.GateOptions{
		Builder:     builder,
		Registry:    registry,
		State:       state,
		API:         api,
		Out:         egress,
		Catalog:     catalog,
		Publisher:   publisher,
		AckReaction: cfg.AckReaction,
		Logger:      logger.Named("gate"),
	})
	gate.AddListener("wordchain", game.Listener)

	ws.OnMessage(func(msg *irisfast.Message) {
		// the read loop must not block on handlers
		go func() {
			res := gate.Handle(ctx, msg)
			logger.Debug("dispatch_result",
				zap.String("outcome", res.Outcome.String()),
				zap.String("reason", res.Reason),
				zap.String("command", res.Command),
			)
		}()
	})

	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := ws.Connect(cctx); err != nil {
		logger.Warn("ws_connect_failed", zap.Error(err))
	}
	cancel()
	logger.Info("bot_started", zap.String("account", cfg.AccountID), zap.String("transport", cfg.TransportMode))

	<-ctx.Done()
	logger.Info("bot_stopping")

	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	_ = ws.Close(sctx)
	gate.Wait()
	state.Close()
}

func irisHeaders(cfg *appcfg.AppConfig) irisfast.HeaderProvider {
	return func() map[string]string {
		h := map[string]string{}
		if cfg.XUserID != "" {
			h["X-User-Id"] = cfg.XUserID
		}
		if cfg.XUserEmail != "" {
			h["X-User-Email"] = cfg.XUserEmail
		}
		if cfg.XSessionID != "" {
			h["X-Session-Id"] = cfg.XSessionID
		}
		return h
	}
}
