package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-relay/internal/auth"
	"chat-relay/internal/authz"
	"chat-relay/internal/bus"
	"chat-relay/internal/config"
	"chat-relay/internal/fanout"
	"chat-relay/internal/guild"
	"chat-relay/internal/router"
	"chat-relay/internal/server"
	"chat-relay/internal/session"
	"chat-relay/internal/stats"
	"github.com/gorilla/handlers"
	_ "github.com/lib/pq"
)

var (
	addr       string
	brokers    string
	guildDSN   string
	signingKey string
	debounce   time.Duration
	dropOldest bool
	dev        bool
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&brokers, "brokers", "localhost:9092", "comma-separated list of kafka brokers")
	flag.StringVar(&guildDSN, "guild-dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "guild service database connection string")
	flag.StringVar(&signingKey, "signing-key", "", "base64 encoded signing key")
	flag.DurationVar(&debounce, "presence-debounce", config.DefaultDebounce, "offline presence debounce window")
	flag.BoolVar(&dropOldest, "drop-oldest", false, "shed the oldest buffered frame on overflow instead of disconnecting")
	flag.BoolVar(&dev, "dev", false, "use the in-process bus instead of kafka")
	flag.Parse()

	logger := log.New(os.Stderr, "[chat-relay] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, brokers, guildDSN, signingKey, dev)
	if err != nil {
		logger.Fatal("config:", err)
	}
	cfg.Debounce = debounce
	cfg.DropOldest = dropOldest

	guildSvc, err := guild.NewPgGuildService(cfg.GuildDSN)
	if err != nil {
		logger.Fatal("guild db open:", err)
	}
	defer func() {
		if err := guildSvc.Close(); err != nil {
			logger.Println("guild db close:", err)
		}
	}()

	var eventBus bus.Bus
	if cfg.Dev {
		eventBus = bus.NewMemoryBus()
	} else {
		eventBus, err = bus.NewKafkaBus(cfg.Brokers, logger)
		if err != nil {
			logger.Fatal("kafka:", err)
		}
	}
	defer eventBus.Close()

	mux := http.NewServeMux()
	statsProvider := stats.NewPromStats(mux)

	cache := guild.NewCache(guildSvc, cfg.CacheTTL)
	verifier := auth.NewVerifier(cfg.SigningKey)
	limiter := authz.NewRateLimitCheck(cfg.RateLimit, cfg.RateBurst)
	defer limiter.Stop()

	chain := authz.NewChain(
		authz.NewCredentialCheck(verifier),
		authz.NewMembershipCheck(cache),
		limiter,
	)

	registry := session.NewRegistry()
	topicRouter := router.NewRouter(eventBus, logger,
		router.WithMaxPayload(cfg.MaxPayload),
		router.WithStats(statsProvider),
	)

	policy := session.Disconnect
	if cfg.DropOldest {
		policy = session.DropOldest
	}

	gateway := server.NewGateway(server.GatewayConfig{
		Logger:     logger,
		Verifier:   verifier,
		Chain:      chain,
		Limiter:    limiter,
		Registry:   registry,
		Router:     topicRouter,
		Guilds:     cache,
		Stats:      statsProvider,
		BufferSize: cfg.SessionBuffer,
		Policy:     policy,
		Debounce:   cfg.Debounce,
	})
	gateway.Routes(mux)

	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	defer cancelConsumer()

	consumer := fanout.NewConsumer(eventBus, registry, gateway, statsProvider, logger)
	go func() {
		if err := consumer.Run(consumerCtx); err != nil && err != context.Canceled {
			logger.Println("fanout consumer:", err)
		}
	}()

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: handlers.CombinedLoggingHandler(os.Stdout, mux),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	cancelConsumer()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	logger.Println("closing client sessions...")
	if err := gateway.Shutdown(shutDownCtx); err != nil && err != context.DeadlineExceeded {
		logger.Println("gateway shutdown:", err)
	}

	logger.Println("shutdown complete")
}
