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

	"github.com/park285/cheese-arena/internal/archive"
	appcfg "github.com/park285/cheese-arena/internal/config"
	"github.com/park285/cheese-arena/internal/coordinator"
	"github.com/park285/cheese-arena/internal/gamestate"
	"github.com/park285/cheese-arena/internal/httpapi"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/internal/notify"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/occ"
	"github.com/park285/cheese-arena/internal/profile"
	"github.com/park285/cheese-arena/internal/realtime"
	"github.com/park285/cheese-arena/internal/tournament"
	"github.com/park285/cheese-arena/pkg/chessdto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	redisOpts, err := appcfg.ParseRedisURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis_url_invalid", zap.Error(err))
	}
	rdb := redis.NewClient(redisOpts)
	pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = rdb.Ping(pctx).Err()
	cancel()
	if err != nil {
		logger.Fatal("redis_ping_failed", zap.Error(err))
	}
	defer rdb.Close()

	policy := occ.Policy{MaxRetries: cfg.UpdateMaxRetries, BaseDelay: cfg.UpdateRetryBase}
	profiles := profile.NewStore(rdb, cfg.DefaultRating)
	games := gamestate.NewStore(rdb, profiles, gamestate.WithRetryPolicy(policy), gamestate.WithTTL(cfg.GameTTL))
	engine := tournament.NewEngine(tournament.NewRedisStore(rdb,
		tournament.WithStorePolicy(policy),
		tournament.WithStoreTTL(cfg.TournamentTTL),
	))

	messages, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		logger.Fatal("messages_load_failed", zap.Error(err))
	}
	notifier := notify.New(cfg.NotifyBaseURL)

	var archiver coordinator.Archiver
	if cfg.DatabaseURL != "" {
		repo, err := archive.NewRepository(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("archive_init_failed", zap.Error(err))
		}
		defer repo.Close()
		archiver = repo
	} else {
		logger.Info("archive_disabled")
	}

	var arena *coordinator.Facade
	hub := realtime.NewHub(
		realtime.WithInboundHandler(realtime.InboundHandlerFunc(func(ctx context.Context, userID string, f realtime.Frame) error {
			return arena.HandleFrame(ctx, userID, f)
		})),
		realtime.WithErrorCode(func(err error) string { return string(chessdto.CodeOf(err)) }),
		realtime.WithOriginPatterns(cfg.WSOrigins...),
		realtime.WithPingInterval(cfg.WSPingInterval),
	)
	arena = coordinator.New(coordinator.Deps{
		Games:       games,
		Tournaments: engine,
		Channel:     realtime.NewChannel(hub),
		Messages:    messages,
		Notifier:    notifier,
		Archive:     archiver,
		Rooms:       hub,
	})

	limiter := httpapi.NewRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	done := make(chan struct{})
	go limiter.Run(done)

	server := httpapi.NewServer(arena,
		httpapi.WithWebsocket(hub),
		httpapi.WithRateLimiter(limiter),
		httpapi.WithAdminToken(cfg.AdminToken),
	).HTTPServer(cfg.HTTPAddr)

	go func() {
		logger.Info("http_listen", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http_serve_failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown", zap.String("signal", sig.String()))

	close(done)
	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	if err := server.Shutdown(sctx); err != nil {
		logger.Warn("http_shutdown_error", zap.Error(err))
	}
	if n, ok := notifier.(*notify.HTTPNotifier); ok {
		n.Wait()
	}
}
