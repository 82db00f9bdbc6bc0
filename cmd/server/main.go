package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/chat-engine/internal/ai"
	"github.com/suPer8Hu/chat-engine/internal/chat"
	"github.com/suPer8Hu/chat-engine/internal/config"
	"github.com/suPer8Hu/chat-engine/internal/db"
	"github.com/suPer8Hu/chat-engine/internal/events"
	"github.com/suPer8Hu/chat-engine/internal/httpapi"
	"github.com/suPer8Hu/chat-engine/internal/httpapi/handlers"
	"github.com/suPer8Hu/chat-engine/internal/store"
	"github.com/suPer8Hu/chat-engine/internal/store/rabbitmq"
	"github.com/suPer8Hu/chat-engine/internal/store/redisstore"
	"github.com/suPer8Hu/chat-engine/internal/thread"
)

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)
	st := store.New(gdb)

	registry := ai.NewDefaultRegistry()

	var cache ai.DetectionCache = ai.NewMemoryCache()
	if cfg.RedisAddr != "" {
		rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.DetectCacheTTL)
		defer rds.Close()
		cache = rds
	}
	detector := ai.NewDetector(cache, cfg.DetectProbeTimeout)

	emit := events.Emitter(events.Nop)
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Fatalf("rabbit connect: %v", err)
		}
		defer pub.Close()
		emit = events.Tee(emit, func(topic string, payload any) {
			if err := pub.PublishEvent(context.Background(), topic, payload); err != nil {
				log.Printf("publish event topic=%s err=%v", topic, err)
			}
		})
	}

	svc := chat.NewService(st, registry, emit)
	cmds := thread.NewCommands(st, emit)

	h := handlers.NewHandler(cfg, st, svc, cmds, detector)
	r := httpapi.NewRouter(cfg, h)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("server listening addr=%s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
