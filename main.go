package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"chat-gateway/internal/auth"
	"chat-gateway/internal/config"
	"chat-gateway/internal/directory"
	"chat-gateway/internal/dispatch"
	"chat-gateway/internal/handlers"
	"chat-gateway/internal/middleware"
	"chat-gateway/internal/observability"
	"chat-gateway/internal/rabbitmq"
	"chat-gateway/internal/session"
	"chat-gateway/internal/ws"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "chat-gateway").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir, err := directory.NewRedisDirectory(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to the directory")
	}
	defer dir.Close()

	processID := session.NewProcessID()
	log.Info().Str("process_id", processID).Msg("starting gateway process")

	fanout := rabbitmq.NewFanout(rabbitmq.Config{
		URL:                   cfg.RabbitURL,
		DeliveryExchange:      cfg.DeliveryExchange,
		PersistenceExchange:   cfg.PersistenceExchange,
		PersistenceRoutingKey: cfg.PersistenceRoutingKey,
		PrefetchCount:         cfg.PrefetchCount,
	}, processID, log)
	if err := fanout.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start the broker fan-out manager")
	}

	hub := ws.NewHub(log)
	queue := dispatch.NewQueue(cfg.DispatchQueueSize)

	gateway := session.NewGateway(processID, hub, dir, fanout, queue, session.Options{
		ConsumerReconnect: cfg.ConsumerReconnect,
		ConsumerBackoff:   cfg.ConsumerBackoff,
	}, log)
	defer func() {
		if err := gateway.Shutdown(); err != nil {
			log.Warn().Err(err).Msg("broker shutdown reported an error")
		}
	}()

	go gateway.RunConsumer(ctx)
	go gateway.RunDispatcher(ctx)

	verifier := auth.NewTokenVerifier(cfg.JWTKey, cfg.JWTAlgorithm)
	issuer := auth.NewPassIssuer(cfg.ConnectionPassLength)
	messagesHandler := handlers.NewMessagesHandler(
		gateway, hub, dir, issuer, cfg.ConnectionPassTTL, cfg.UnauthenticatedCloseCode, log,
	)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(verifier)

	router.POST("/messages/get-connection-pass", authMiddleware, messagesHandler.GetConnectionPass)
	router.GET("/messages/", messagesHandler.Connect)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	server := &http.Server{Addr: ":" + cfg.Port, Handler: router}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown reported an error")
	}
}
