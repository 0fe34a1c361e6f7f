// Command coinjam runs the collaborative coin-creation service.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/coinjam/service_layer/internal/api"
	"github.com/coinjam/service_layer/internal/avatar"
	"github.com/coinjam/service_layer/internal/chain"
	"github.com/coinjam/service_layer/internal/coin"
	"github.com/coinjam/service_layer/internal/config"
	"github.com/coinjam/service_layer/internal/eligibility"
	"github.com/coinjam/service_layer/internal/genai"
	"github.com/coinjam/service_layer/internal/ipfs"
	"github.com/coinjam/service_layer/internal/metrics"
	"github.com/coinjam/service_layer/internal/middleware"
	"github.com/coinjam/service_layer/internal/session"
	"github.com/coinjam/service_layer/internal/social"
	"github.com/coinjam/service_layer/internal/store"
	"github.com/coinjam/service_layer/internal/sweep"
	"github.com/coinjam/service_layer/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	// Missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault("coinjam").WithError(err).Error("configuration load failed")
		os.Exit(1)
	}

	log := logger.New("coinjam", cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.NewRedisStore(ctx, store.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.WithError(err).Error("redis connection failed")
		os.Exit(1)
	}

	repo := session.NewRepository(st, session.RepositoryConfig{
		MaxPromptLength:    cfg.Session.MaxPromptLength,
		MaxParticipantsCap: cfg.Session.MaxParticipantsCap,
	}, log.WithField("component", "session"))

	graph := social.NewClient(social.Config{
		BaseURL: cfg.Social.BaseURL,
		APIKey:  cfg.Social.APIKey,
		Timeout: cfg.Social.Timeout,
	})
	checker := eligibility.NewChecker(graph, log.WithField("component", "eligibility"))

	textClient := genai.NewTextClient(genai.TextConfig{
		BaseURL:    cfg.GenAI.BaseURL,
		APIKey:     cfg.GenAI.APIKey,
		Model:      cfg.GenAI.TextModel,
		Timeout:    cfg.GenAI.Timeout,
		RatePerMin: cfg.GenAI.RatePerMin,
	})
	imageClient := genai.NewImageClient(genai.ImageConfig{
		BaseURL:    cfg.GenAI.BaseURL,
		APIKey:     cfg.GenAI.APIKey,
		Model:      cfg.GenAI.ImageModel,
		Timeout:    cfg.GenAI.Timeout,
		RatePerMin: cfg.GenAI.RatePerMin,
	})
	pinner := ipfs.NewClient(ipfs.Config{
		BaseURL:    cfg.IPFS.BaseURL,
		APIKey:     cfg.IPFS.APIKey,
		GatewayURL: cfg.IPFS.GatewayURL,
		Timeout:    cfg.IPFS.Timeout,
	}, log.WithField("component", "ipfs"))

	platform, err := chain.NewPlatformClient(chain.PlatformConfig{
		RPCURL:         cfg.Chain.RPCURL,
		ConfirmTimeout: cfg.Chain.ConfirmTimeout,
	})
	if err != nil {
		log.WithError(err).Error("chain client setup failed")
		os.Exit(1)
	}

	m := metrics.New("coinjam")

	orch := coin.NewOrchestrator(coin.OrchestratorConfig{
		Repository: repo,
		Generator: coin.NewGenerator(textClient, imageClient, avatar.NewFetcher(30*time.Second), pinner, coin.GeneratorConfig{
			ConfirmPropagation: true,
		}, log.WithField("component", "generator")),
		Deployer: coin.NewDeployer(platform, coin.DeployerConfig{
			Beneficiary: cfg.Chain.DeployerAddress,
			MaxAttempts: cfg.Chain.MaxAttempts,
			RetryDelay:  cfg.Chain.RetryDelay,
		}, log.WithField("component", "deployer")),
		Distributor:  coin.NewDistributor(platform, cfg.Chain.ReservePercent, log.WithField("component", "distributor")),
		DeployWallet: cfg.Chain.DeployerAddress,
		Metrics:      m,
	}, log.WithField("component", "orchestrator"))

	server := api.NewServer(api.ServerConfig{
		Repository:  repo,
		Eligibility: checker,
		Pipeline:    orch,
		Metrics:     m,
		AutoRun:     true,
	}, log.WithField("component", "api"))

	router := server.Router()
	router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	router.Use(middleware.LoggingMiddleware(log.WithField("component", "http")))
	router.Use(middleware.MetricsMiddleware(m))

	auth := middleware.NewAuthMiddleware(cfg.Server.JWTSecret, log.WithField("component", "auth"), []string{"/health", "/metrics"})
	rateLimiter := middleware.NewRateLimiter(10, 20, log.WithField("component", "ratelimit"))
	cors := middleware.NewCORSMiddleware([]string{"*"})

	handler := cors.Handler(auth.Handler(rateLimiter.Handler(server)))

	sweeper := sweep.New(repo, sweep.Config{
		Schedule:           cfg.Sweep.Schedule,
		GeneratingDeadline: cfg.Sweep.GeneratingDeadline,
	}, log.WithField("component", "sweep"))
	if err := sweeper.Start(); err != nil {
		log.WithError(err).Error("sweeper start failed")
		os.Exit(1)
	}
	defer sweeper.Stop()

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("server listening")
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.WithError(err).Error("server stopped")
		os.Exit(1)
	case sig := <-stop:
		log.WithField("signal", sig.String()).Info("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown incomplete")
	}
}
