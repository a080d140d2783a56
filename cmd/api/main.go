package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
	"github.com/safar/go-auction-engine/internal/api"
	"github.com/safar/go-auction-engine/internal/auction"
	"github.com/safar/go-auction-engine/internal/broadcast"
	"github.com/safar/go-auction-engine/internal/config"
	"github.com/safar/go-auction-engine/internal/database"
	"github.com/safar/go-auction-engine/internal/events"
	"github.com/safar/go-auction-engine/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()
	log.Printf("Connected to database successfully")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("Connect to redis: %v", err)
	}
	log.Printf("Connected to redis at %s", cfg.Redis.Addr)

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name("auction-engine"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("[nats] disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Printf("[nats] reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		log.Fatalf("Connect to NATS: %v", err)
	}
	defer nc.Drain()

	js, err := jetstream.New(nc)
	if err != nil {
		log.Fatalf("Create JetStream context: %v", err)
	}
	if err := events.EnsureStream(ctx, js, cfg.NATS.Stream); err != nil {
		log.Fatalf("Ensure stream: %v", err)
	}
	log.Printf("Connected to NATS, stream %s ready", cfg.NATS.Stream)

	dispatcher := events.NewDispatcher(db,
		events.DispatcherOptions{
			ClaimTTL:    cfg.Scheduler.RelayClaimTTL,
			MaxAttempts: cfg.Scheduler.RelayAttempts,
		},
		events.NewNATSNotifier(nc),
		events.Sink{Name: "redis", Emitter: events.NewRedisEmitter(rdb)},
		events.Sink{Name: "jetstream", Emitter: events.NewJetStreamEmitter(js)},
	)
	engine := auction.New(db, dispatcher, auction.OptionsFromConfig(cfg.Auction))

	sched := scheduler.New(
		scheduler.NewRedisLocker(rdb),
		cfg.Scheduler.LeaseTTL,
		scheduler.AuctionJobs(engine, dispatcher, cfg.Scheduler)...,
	)

	hub := broadcast.NewManager()
	subscriber := broadcast.NewSubscriber(rdb, hub)

	router := mux.NewRouter()
	api.NewHandler(engine).Routes(router, hub.ServeWS)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := subscriber.Listen(ctx, nil); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[broadcast] subscriber stopped: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	go func() {
		log.Printf("Server starting on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}

	wg.Wait()
	log.Printf("Shutdown complete")
}
