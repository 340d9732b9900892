package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"GProject/global"
	"GProject/logger"
	"GProject/module/auth"
	"GProject/service/rpc"
	"GProject/service/session"
	"GProject/tools/ids"
)

func main() {
	cfg := global.Load()
	ids.SetNodeID(cfg.NodeID)
	defer logger.Sync()

	// fast tier: a failed connect degrades to fallback-map-only
	var fast session.FastTier
	if cfg.RedisAddr != "" {
		tier, err := session.NewRedisTier(session.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			PoolSize: cfg.RedisPoolSize,
		}, cfg.Namespace)
		if err != nil {
			logger.Warnf("[Main] redis unavailable, running on fallback map only err=%v", err)
		} else {
			fast = tier
		}
	}

	// durable tier: optional best-effort mirror
	var durable session.DurableTier
	if cfg.MongoURI != "" {
		tier, err := session.NewMongoTier(session.MongoConfig{
			URI:      cfg.MongoURI,
			Database: cfg.MongoDatabase,
		})
		if err != nil {
			logger.Warnf("[Main] mongo unavailable, no durable mirror err=%v", err)
		} else {
			durable = tier
		}
	}

	// optional invalidation fan-out between gateway nodes
	var events *session.Events
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("gproject-gateway"))
		if err != nil {
			logger.Warnf("[Main] nats unavailable, invalidation fan-out disabled err=%v", err)
		} else {
			events = session.NewEvents(nc, cfg.NATSSubject, ids.GenerateString())
		}
	}

	sessions := session.NewManager(session.Config{
		TTL:          cfg.SessionTTL,
		Debounce:     cfg.Debounce,
		CleanupEvery: cfg.CleanupEvery,
	}, fast, durable, events)

	routing := rpc.NewRouting()
	demoLogin := os.Getenv("AUTH_DEMO_LOGIN")
	demoPassword := os.Getenv("AUTH_DEMO_PASSWORD")
	accounts := map[string]string{}
	if demoLogin != "" && demoPassword != "" {
		accounts[demoLogin] = demoPassword
	}
	authUnit := auth.New(sessions, cfg.JWTSecret, accounts)
	authUnit.Register(routing)

	server := rpc.NewServer(cfg, routing, sessions)

	go func() {
		if err := server.Run(); err != nil {
			logger.Errorf("[Main] server failed: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("[Main] shutting down")
	if err := server.Close(); err != nil {
		logger.Errorf("[Main] close err=%v", err)
	}
}
