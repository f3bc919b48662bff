package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	apihttp "iptvstream/scanservice/internal/api/http"
	"iptvstream/scanservice/internal/app"
	"iptvstream/scanservice/internal/diag"
	"iptvstream/scanservice/internal/health"
	"iptvstream/scanservice/internal/importer"
	"iptvstream/scanservice/internal/metrics"
	"iptvstream/scanservice/internal/netprobe"
	"iptvstream/scanservice/internal/providers/bitbucket"
	"iptvstream/scanservice/internal/providers/github"
	"iptvstream/scanservice/internal/providers/gitlab"
	"iptvstream/scanservice/internal/providers/websearch"
	"iptvstream/scanservice/internal/proxy"
	"iptvstream/scanservice/internal/search"
	"iptvstream/scanservice/internal/store"
	"iptvstream/scanservice/internal/telemetry"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "iptv-scan")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "iptv-scan"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.Duration("requestTimeout", cfg.RequestTimeout),
		slog.Duration("planBudget", cfg.PlanBudget),
		slog.Bool("hasGitHubToken", cfg.GitHubToken != ""),
		slog.Bool("hasGitLabToken", cfg.GitLabToken != ""),
		slog.Bool("hasBitbucketCreds", cfg.BitbucketUsername != ""),
		slog.String("webSearchEndpoint", cfg.WebSearchEndpoint),
		slog.Bool("hasProviderProxy", strings.TrimSpace(cfg.ProviderProxyURL) != ""),
		slog.Bool("hasRedis", strings.TrimSpace(cfg.RedisURL) != ""),
		slog.Bool("hasMongo", strings.TrimSpace(cfg.MongoURI) != ""),
		slog.Bool("learningEnabled", cfg.LearningEnabled),
		slog.Bool("variantsEnabled", cfg.VariantsEnabled),
	)

	githubClient := proxy.NewClient(cfg.RequestTimeout, cfg.ProviderProxyURL)
	gitlabClient := proxy.NewClient(cfg.RequestTimeout, cfg.ProviderProxyURL)
	bitbucketClient := proxy.NewClient(cfg.RequestTimeout, cfg.ProviderProxyURL)
	websearchClient := proxy.NewClient(cfg.RequestTimeout, cfg.ProviderProxyURL)

	serviceOpts := []search.ServiceOption{
		search.WithProber(netprobe.New()),
		search.WithDiagnostics(diag.NewSlogSink(logger)),
	}
	if cfg.WebSearchEndpoint != "" {
		serviceOpts = append(serviceOpts, search.WithWebSearch(websearch.NewProvider(websearch.Config{
			Endpoint:  cfg.WebSearchEndpoint,
			UserAgent: cfg.UserAgent,
			Client:    websearchClient,
		})))
	}
	if learnedStore := buildLearnedStore(cfg, logger); learnedStore != nil {
		serviceOpts = append(serviceOpts, search.WithLearnedStore(learnedStore))
	}

	scanService := search.NewService([]search.Provider{
		github.NewProvider(github.Config{
			Endpoint:  cfg.GitHubEndpoint,
			Token:     cfg.GitHubToken,
			UserAgent: cfg.UserAgent,
			Client:    githubClient,
		}),
		gitlab.NewProvider(gitlab.Config{
			BaseURL:   cfg.GitLabBaseURL,
			Token:     cfg.GitLabToken,
			UserAgent: cfg.UserAgent,
			Client:    gitlabClient,
		}),
		bitbucket.NewProvider(bitbucket.Config{
			BaseURL:   cfg.BitbucketBaseURL,
			Username:  cfg.BitbucketUsername,
			Password:  cfg.BitbucketPassword,
			UserAgent: cfg.UserAgent,
			Client:    bitbucketClient,
		}),
	}, search.Config{
		PerCallTimeout:  cfg.RequestTimeout,
		PlanBudget:      cfg.PlanBudget,
		StepCeiling:     cfg.StepCeiling,
		LearningEnabled: cfg.LearningEnabled,
		VariantsEnabled: cfg.VariantsEnabled,
	}, serviceOpts...)

	serverOpts := []apihttp.ServerOption{
		apihttp.WithLogger(logger),
		apihttp.WithProbe(health.New()),
		apihttp.WithProber(netprobe.New()),
		apihttp.WithProbeWorkers(cfg.ProbeConcurrency),
	}
	if playlistStore := buildPlaylistStore(cfg, logger); playlistStore != nil {
		serverOpts = append(serverOpts, apihttp.WithImporter(importer.New(playlistStore)))
	}

	handler := apihttp.NewServer(scanService, serverOpts...).Handler()
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// SSE streaming (/scan/stream, /scan/import) can legitimately run for
		// minutes. Keep the write timeout disabled at the server level; the
		// plan budget bounds the work.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("iptv scan service started",
		slog.String("addr", cfg.HTTPAddr),
		slog.Duration("planBudget", cfg.PlanBudget),
	)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("iptv scan service stopped")
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func buildLearnedStore(cfg app.Config, logger *slog.Logger) *store.LearnedQueryRepository {
	redisURL := strings.TrimSpace(cfg.RedisURL)
	if redisURL == "" {
		logger.Info("redis not configured, query learning disabled")
		return nil
	}
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid redis url, query learning disabled", slog.String("error", err.Error()))
		return nil
	}
	redisClient := redis.NewClient(redisOpts)
	repo := store.NewLearnedQueryRepository(redisClient)
	if err := repo.Ping(context.Background()); err != nil {
		logger.Warn("redis not reachable, query learning disabled", slog.String("error", err.Error()))
		return nil
	}
	logger.Info("redis connected", slog.String("addr", redisOpts.Addr))
	return repo
}

func buildPlaylistStore(cfg app.Config, logger *slog.Logger) *store.PlaylistRepository {
	mongoURI := strings.TrimSpace(cfg.MongoURI)
	if mongoURI == "" {
		logger.Info("mongo not configured, playlist import disabled")
		return nil
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, mongooptions.Client().
		ApplyURI(mongoURI).
		SetMonitor(otelmongo.NewMonitor()))
	if err != nil {
		logger.Warn("mongo connect failed, playlist import disabled", slog.String("error", err.Error()))
		return nil
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		logger.Warn("mongo not reachable, playlist import disabled", slog.String("error", err.Error()))
		return nil
	}

	repo := store.NewPlaylistRepository(client.Database(cfg.MongoDB), proxy.NewClient(30*time.Second, cfg.ProviderProxyURL))
	if err := repo.EnsureIndexes(connectCtx); err != nil {
		logger.Warn("mongo index creation failed", slog.String("error", err.Error()))
	}
	logger.Info("mongo connected", slog.String("db", cfg.MongoDB))
	return repo
}
