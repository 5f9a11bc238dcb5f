package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"drawbot/admin"
	"drawbot/command"
	"drawbot/config"
	"drawbot/enhancer"
	"drawbot/imagehost"
	"drawbot/logger"
	"drawbot/prompt"
	"drawbot/providers"
	"drawbot/server"
	"drawbot/store"
	"drawbot/usage"

	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		slog.Error("drawbot exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(config.DefaultFile)
	if err != nil {
		return err
	}

	log, err := logger.New("drawbot", logger.Config{Encoding: cfg.LogFormat, Level: cfg.LogLevel})
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	format, err := store.ParseFormat(cfg.ImageFormat)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	images, err := store.New(cfg.ImageOutputDir, format, &http.Client{Timeout: cfg.Timeout()}, log.With("component", "store"), admin.FileName)
	if err != nil {
		return err
	}

	admins, err := admin.Load(
		filepath.Join(cfg.ImageOutputDir, admin.FileName),
		cfg.AdminPassword,
		config.File{Path: config.DefaultFile},
		log.With("component", "admin"),
	)
	if err != nil {
		return err
	}

	usageStore, closeUsage, err := newUsageStore(ctx, cfg.RedisURL, log)
	if err != nil {
		return err
	}
	defer closeUsage()

	resetHour, resetMinute, err := config.ParseResetTime(cfg.DailyResetTime)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	tracker := usage.NewTracker(usageStore, cfg.RestrictedModel, cfg.DevModelUsageLimit,
		resetHour, resetMinute, time.Now(), log.With("component", "usage"))

	upstream := &http.Client{Timeout: cfg.Timeout()}

	deps := command.Deps{
		Admins: admins,
		Usage:  tracker,
		Parser: prompt.NewParser(cfg.DefaultDrawingModel, cfg.CompactSizeModels, log.With("component", "prompt")),
		Enhancer: enhancer.New(enhancer.Config{
			APIURL:     cfg.ChatAPIURL,
			APIKey:     cfg.AuthToken,
			Model:      cfg.ChatModel,
			Prompt:     cfg.EnhancerPrompt,
			FluxPrompt: cfg.EnhancerPromptFlux,
			FluxModels: cfg.FluxModels,
			HTTPClient: upstream,
		}, log.With("component", "enhancer")),
		Generator: providers.NewSiliconFlowProvider(cfg.AuthToken, cfg.ImageAPIBaseURL, upstream, log.With("component", "providers")),
		Images:    images,
	}
	if cfg.UploadToImageHost {
		deps.Uploader = imagehost.NewNodeImageClient(cfg.NodeImageAPIKey, &http.Client{Timeout: time.Minute}, log.With("component", "imagehost"))
	}

	router := command.NewRouter(command.Config{
		Prefixes:      cfg.DrawingPrefixes,
		Timeout:       cfg.Timeout(),
		CleanInterval: cfg.CleanInterval,
	}, deps, log.With("component", "command"))

	srv := server.New(cfg.ListenAddr, server.NewRouter(router, cfg.HostAPIKey, log), cfg.Timeout(), log)
	sweeper := store.NewSweeper(images, cfg.RetentionPeriod(), cfg.SweepInterval(), log.With("component", "sweeper"))

	log.Info("drawbot starting",
		"listen_addr", cfg.ListenAddr,
		"prefixes", cfg.DrawingPrefixes,
		"image_dir", cfg.ImageOutputDir,
		"image_format", format,
		"restricted_model", cfg.RestrictedModel,
		"usage_limit", cfg.DevModelUsageLimit,
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gCtx)
	})
	g.Go(func() error {
		return sweeper.Run(gCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("drawbot stopped")
	return nil
}

// newUsageStore returns the Redis store when redisURL is set and the
// in-memory store otherwise.
func newUsageStore(ctx context.Context, redisURL string, log *slog.Logger) (usage.Store, func(), error) {
	if redisURL == "" {
		log.Info("using in-memory usage store")
		return usage.NewMemoryStore(), func() {}, nil
	}

	client, err := usage.NewRedisClient(ctx, redisURL)
	if err != nil {
		return nil, nil, err
	}
	log.Info("connected to Redis usage store")
	return usage.NewRedisStore(client), func() { client.Close() }, nil
}
