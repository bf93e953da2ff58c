package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/park285/chess-relay/internal/archive"
	appcfg "github.com/park285/chess-relay/internal/config"
	"github.com/park285/chess-relay/internal/match"
	"github.com/park285/chess-relay/internal/msgcat"
	"github.com/park285/chess-relay/internal/obslog"
	"github.com/park285/chess-relay/internal/relay"
	"github.com/park285/chess-relay/internal/roomcode"
	"github.com/park285/chess-relay/internal/wsserver"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	cfg, err := appcfg.Load()
	if err != nil {
		logger.Fatal("config_error", zap.Error(err))
	}

	msgs, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		logger.Fatal("messages_error", zap.Error(err))
	}

	ctx := context.Background()
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = appcfg.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis_init_error", zap.Error(err))
		}
		defer func() { _ = rdb.Close() }()
	}

	var alloc roomcode.Allocator = roomcode.NewMemoryAllocator(cfg.RoomCodeLength)
	if rdb != nil {
		host, _ := os.Hostname()
		alloc = roomcode.NewRedisAllocator(rdb, cfg.RoomCodeLength, cfg.RoomCodeTTL, host)
	}

	var games *archive.RedisStore
	if rdb != nil {
		games = archive.NewRedisStore(rdb, 7*24*time.Hour, 200)
	}
	sinks, closers := buildSinks(ctx, cfg, games, logger)
	defer func() {
		for _, c := range closers {
			_ = c()
		}
	}()
	var archiver *archive.Async
	opts := []match.Option{
		match.WithAllocator(alloc),
		match.WithCatalog(msgs),
		match.WithLogger(logger),
		match.WithTrustClientGameOver(cfg.TrustClientGameOver),
	}
	if len(sinks) > 0 {
		archiver = archive.NewAsync(sinks, cfg.ArchiveQueue, logger)
		opts = append(opts, match.WithArchiver(archiver))
	}

	coord := match.New(relay.NewRegistry(logger), opts...)
	ws := wsserver.New(coord, wsserver.Options{
		OriginPatterns:  cfg.AllowedOrigins,
		SendQueue:       cfg.SendQueue,
		MaxMessageBytes: cfg.MaxMessageBytes,
		PingInterval:    cfg.PingInterval,
		Logger:          logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(coord.Stats())
	})
	if games != nil {
		mux.HandleFunc("/games/recent", recentGamesHandler(games))
	}
	mux.Handle(cfg.WSPath, ws)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("relay_listening", zap.String("addr", cfg.Addr), zap.String("ws_path", cfg.WSPath), zap.Int("sinks", len(sinks)))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http_serve_error", zap.Error(err))
		}
	}()

	// Wait for termination signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("relay_shutdown", zap.String("signal", sig.String()))

	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(sctx); err != nil {
		logger.Warn("http_shutdown_error", zap.Error(err))
	}
	coord.Shutdown(sctx)
	if err := ws.Shutdown(sctx); err != nil {
		logger.Warn("ws_shutdown_error", zap.Error(err))
	}
	if archiver != nil {
		if err := archiver.Close(sctx); err != nil {
			logger.Warn("archive_drain_error", zap.Error(err))
		}
	}
}

// buildSinks wires every configured result destination.
func buildSinks(ctx context.Context, cfg *appcfg.AppConfig, games *archive.RedisStore, logger *zap.Logger) (archive.Multi, []func() error) {
	var sinks archive.Multi
	var closers []func() error
	if games != nil {
		sinks = append(sinks, games)
	}
	if cfg.DatabaseURL != "" {
		pg, err := archive.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres_init_error", zap.Error(err))
		}
		sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = pg.EnsureSchema(sctx)
		cancel()
		if err != nil {
			logger.Fatal("postgres_schema_error", zap.Error(err))
		}
		sinks = append(sinks, pg)
		closers = append(closers, pg.Close)
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, archive.NewWebhookSink(cfg.WebhookURL, cfg.WebhookToken,
			archive.WithWebhookTimeout(cfg.WebhookTimeout),
			archive.WithWebhookRetry(cfg.WebhookRetries),
		))
	}
	if cfg.AMQPURL != "" {
		sinks = append(sinks, archive.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPResultsQueue))
	}
	return sinks, closers
}

// recentGamesHandler serves the newest archived games; ?n= caps the count (default 20, max 200).
func recentGamesHandler(games *archive.RedisStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := 20
		if v := r.URL.Query().Get("n"); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil || parsed <= 0 {
				http.Error(w, "n must be a positive integer", http.StatusBadRequest)
				return
			}
			n = min(parsed, 200)
		}
		recs, err := games.RecentRecords(r.Context(), n)
		if err != nil {
			obslog.L().Warn("recent_games_error", zap.Error(err))
			http.Error(w, "archive unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(recs)
	}
}
