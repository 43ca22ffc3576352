package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/ocx/proctoring-ai/internal/api"
	"github.com/ocx/proctoring-ai/internal/audio"
	"github.com/ocx/proctoring-ai/internal/behavior"
	"github.com/ocx/proctoring-ai/internal/broker"
	"github.com/ocx/proctoring-ai/internal/circuitbreaker"
	"github.com/ocx/proctoring-ai/internal/config"
	"github.com/ocx/proctoring-ai/internal/consumer"
	"github.com/ocx/proctoring-ai/internal/db"
	"github.com/ocx/proctoring-ai/internal/metrics"
	"github.com/ocx/proctoring-ai/internal/models"
	"github.com/ocx/proctoring-ai/internal/risk"
	"github.com/ocx/proctoring-ai/internal/store"
	"github.com/ocx/proctoring-ai/internal/vision"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, continuing with process environment")
	}

	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to an optional YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	log.Println("Starting proctoring analytical engine...")

	m := metrics.NewMetrics()
	breakers := circuitbreaker.NewManager(nil)

	registry := models.LoadAll(models.Addrs{
		ObjectDetector:     cfg.Models.ObjectDetectorAddr,
		BehaviorClassifier: cfg.Models.BehaviorClassifierAddr,
		FaceEncoder:        cfg.Models.FaceEncoderAddr,
		FaceMesh:           cfg.Models.FaceMeshAddr,
		VAD:                cfg.Models.VADAddr,
		DialTimeout:        time.Duration(cfg.Models.DialTimeoutSec) * time.Second,
	})
	defer registry.Close()
	for capability, ready := range registry.Status() {
		m.SetModelReady(capability, ready)
	}

	objectStore, err := store.NewClient(cfg.Store.URL, cfg.Store.ServiceKey, breakers)
	if err != nil {
		log.Fatalf("create object store client: %v", err)
	}
	if err := objectStore.EnsureBucketExists(cfg.Store.SnapshotsBucket, false); err != nil {
		slog.Warn("could not ensure snapshots bucket exists, uploads may fail", "bucket", cfg.Store.SnapshotsBucket, "error", err)
	}

	eventStore, err := db.NewPostgresEventStore(cfg.Database.URL, breakers)
	if err != nil {
		log.Fatalf("connect to event store: %v", err)
	}
	defer eventStore.Close()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unreachable at startup, verify-identity rate limiting will fail open", "addr", cfg.Redis.Addr, "error", err)
		}
		cancel()
	}

	thresholds := risk.SeverityThresholds{
		HighRisk: cfg.Thresholds.HighRisk,
		Critical: cfg.Thresholds.Critical,
	}

	visionAnalyzer := vision.NewAnalyzer(registry, cfg.Thresholds)
	audioAnalyzer := audio.NewAnalyzer(registry, cfg.Thresholds.SpeechRatio)
	window := behavior.NewWindow(
		cfg.Behavior.Capacity,
		cfg.Behavior.WindowSeconds,
		time.Duration(cfg.Behavior.SessionTTLSec)*time.Second,
		time.Duration(cfg.Behavior.SweepInterval)*time.Second,
	)
	defer window.Stop()

	framePublisher := broker.NewPublisher(cfg.Broker.URL, cfg.Broker.ExchangeName, cfg.Broker.ResultsRoutingKey, cfg.Broker.PublishRetryCount, m)
	defer framePublisher.Close()
	audioPublisher := broker.NewPublisher(cfg.Broker.URL, cfg.Broker.ExchangeName, cfg.Broker.ResultsRoutingKey, cfg.Broker.PublishRetryCount, m)
	defer audioPublisher.Close()
	behaviorPublisher := broker.NewPublisher(cfg.Broker.URL, cfg.Broker.ExchangeName, cfg.Broker.ResultsRoutingKey, cfg.Broker.PublishRetryCount, m)
	defer behaviorPublisher.Close()

	frameHandler := &consumer.FrameHandler{
		Vision:     visionAnalyzer,
		Publisher:  framePublisher,
		Snapshots:  objectStore,
		Bucket:     cfg.Store.SnapshotsBucket,
		Thresholds: thresholds,
		Metrics:    m,
	}
	audioHandler := &consumer.AudioHandler{
		Audio:     audioAnalyzer,
		Publisher: audioPublisher,
		Metrics:   m,
	}
	behaviorHandler := &consumer.BehaviorHandler{
		Window:          window,
		Events:          eventStore,
		Publisher:       behaviorPublisher,
		Classifier:      registry.BehaviorClassifier,
		ClassifierReady: registry.BehaviorClassifierOK,
		Thresholds:      thresholds,
		Metrics:         m,
	}

	frameConsumer := broker.NewConsumer(cfg.Broker.URL, cfg.Broker.FrameQueue, cfg.Broker.PrefetchCount, frameHandler.Handle, m)
	audioConsumer := broker.NewConsumer(cfg.Broker.URL, cfg.Broker.AudioQueue, cfg.Broker.PrefetchCount, audioHandler.Handle, m)
	behaviorConsumer := broker.NewConsumer(cfg.Broker.URL, cfg.Broker.BehaviorQueue, cfg.Broker.PrefetchCount, behaviorHandler.Handle, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go frameConsumer.Run(ctx)
	go audioConsumer.Run(ctx)
	go behaviorConsumer.Run(ctx)

	apiServer := api.NewServer(
		registry,
		objectStore,
		rdb,
		cfg.Store.ProfilePhotoBucket,
		cfg.Thresholds.FaceMatchThreshold,
		cfg.Redis.VerifyIdentityRatePerMin,
		breakers,
		func() bool { return frameConsumer.State() != broker.StateStopped },
		func() bool {
			pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer pingCancel()
			return eventStore.Ping(pingCtx) == nil
		},
	)

	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      apiServer.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("HTTP surface listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("shutdown signal received, draining consumers...")
	cancel()
	frameConsumer.Stop()
	audioConsumer.Stop()
	behaviorConsumer.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown error: %v", err)
	}

	log.Println("proctoring analytical engine stopped")
}
