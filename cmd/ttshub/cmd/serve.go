package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/ttshub/internal/config"
	"github.com/jmylchreest/ttshub/internal/database"
	"github.com/jmylchreest/ttshub/internal/engine"
	"github.com/jmylchreest/ttshub/internal/favorites"
	"github.com/jmylchreest/ttshub/internal/ffmpeg"
	internalhttp "github.com/jmylchreest/ttshub/internal/http"
	"github.com/jmylchreest/ttshub/internal/http/handlers"
	"github.com/jmylchreest/ttshub/internal/ingest"
	"github.com/jmylchreest/ttshub/internal/mediaedit"
	"github.com/jmylchreest/ttshub/internal/mediaio"
	"github.com/jmylchreest/ttshub/internal/observability"
	"github.com/jmylchreest/ttshub/internal/proxy"
	"github.com/jmylchreest/ttshub/internal/repository"
	"github.com/jmylchreest/ttshub/internal/scheduler"
	"github.com/jmylchreest/ttshub/internal/startup"
	"github.com/jmylchreest/ttshub/internal/stats"
	"github.com/jmylchreest/ttshub/internal/storage"
	"github.com/jmylchreest/ttshub/internal/stt"
	"github.com/jmylchreest/ttshub/internal/version"
	"github.com/jmylchreest/ttshub/internal/voices"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ttshub server",
	Long: `Start the ttshub HTTP server and API.

The server provides:
- REST API for synthesis, voice catalogs, favorites, and media edits
- Streaming proxies for local Ollama and DrawThings instances
- Generated artifacts under /audio and /image
- Health check endpoint and OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server flags. Like the global flags these are not bound to viper;
	// runServe applies them over the loaded config only when set.
	serveCmd.Flags().String("host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().Int("port", 7860, "Port to listen on")
	serveCmd.Flags().String("output-dir", "out", "Directory for generated artifacts")
	serveCmd.Flags().String("frontend-dir", "", "SPA bundle directory (empty disables UI serving)")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	// Clean up scratch entries orphaned by a previous crash.
	orphansRemoved, err := startup.CleanupSystemScratch(logger)
	if err != nil {
		logger.Warn("failed to clean orphaned scratch entries",
			slog.String("error", err.Error()),
		)
	} else if orphansRemoved > 0 {
		logger.Info("cleaned orphaned scratch entries on startup",
			slog.Int("removed_count", orphansRemoved),
		)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyServeFlags(cmd.Flags(), cfg)

	// Output tree for every generated artifact.
	layout, err := storage.NewLayout(cfg.Storage.OutputDir)
	if err != nil {
		return fmt.Errorf("initializing output tree: %w", err)
	}

	// Clip ledger database.
	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	clipRepo := repository.NewClipRepository(db.DB)

	// Favorites document store.
	favStore, err := favorites.NewStore(cfg.Storage.FavoritesFile())
	if err != nil {
		return fmt.Errorf("opening favorites store: %w", err)
	}

	// External media toolchain.
	mediaLog := observability.WithComponent(logger, "media")
	detector := ffmpeg.NewBinaryDetector(cfg.FFmpeg)
	media := mediaio.NewProcessor(detector, mediaLog)

	// Engines and dispatch.
	engineLog := observability.WithComponent(logger, "engine")
	kokoro := engine.NewKokoro(cfg.Engines.Kokoro, layout, engineLog)
	xtts := engine.NewXTTS(cfg.Engines.XTTS, layout, engineLog)
	openvoice := engine.NewOpenVoice(cfg.Engines.OpenVoice, layout, engineLog)
	chattts := engine.NewChatTTS(cfg.Engines.ChatTTS, layout, engineLog)
	registry := engine.NewRegistry(kokoro, xtts, openvoice, chattts)
	dispatcher := engine.NewDispatcher(registry, favStore, layout, engineLog).
		WithClipRecorder(clipRepo)

	for _, meta := range registry.Metas() {
		engineLog.Info("engine registered",
			slog.String("engine", meta.ID),
			slog.Bool("available", meta.Available),
		)
	}

	previews := voices.NewPreviewCache(layout, dispatcher, observability.WithComponent(logger, "voices")).
		WithDecoder(media)

	// Media-edit pipeline.
	transcriber := stt.NewTranscriber(cfg.STT, mediaLog)
	statsRec := stats.NewRecorder(layout.Sandbox(), layout.StatsRel(), mediaLog)
	jobs := mediaedit.NewJobs(layout, media, transcriber, dispatcher, cfg.Media, mediaLog).
		WithStats(statsRec)

	// Ingest cache for remote imports.
	ingestLog := observability.WithComponent(logger, "ingest")
	fetcher := ingest.NewYtdlpFetcher(cfg.FFmpeg.YtdlpPath, ingestLog)
	mediaCache := ingest.NewCache(layout, "youtube",
		cfg.Media.CacheTTL.Duration(), cfg.Media.CleanupInterval, ingestLog)

	// Scheduled reaping of stale cache entries and job workspaces. The
	// cron job calls Reap directly; MaybeReap's interval gate is for the
	// opportunistic sweeps on request paths.
	sched := scheduler.New(observability.WithComponent(logger, "scheduler"))
	if err := sched.Add("media-reap", cfg.Media.ReapSchedule, func(ctx context.Context) {
		done := observability.TimedOperation(ctx, ingestLog, "media-reap")
		mediaCache.Reap(cfg.Media.CacheTTL.Duration())
		done()
	}); err != nil {
		return fmt.Errorf("registering reap schedule: %w", err)
	}

	// Sidecar proxies.
	proxyLog := observability.WithComponent(logger, "proxy")
	ollama := proxy.NewOllama(cfg.Ollama, proxyLog)
	drawthings := proxy.NewDrawThings(cfg.DrawThings, layout, proxyLog)

	// HTTP server and handlers.
	server := internalhttp.NewServer(cfg.Server, logger, version.Version)
	api := server.API()
	router := server.Router()
	prefix := cfg.Server.NormalizedAPIPrefix()
	maxUpload := cfg.Storage.MaxUpload.Int64()

	handlers.NewDocsHandler("ttshub API", "/openapi.json").RegisterRoutes(router)
	handlers.NewStaticHandler(layout, cfg.Server, cfg.Engines.OpenVoice.ReferenceDir, logger).
		RegisterRoutes(router)

	handlers.NewHealthHandler(version.Version).
		WithDB(db.DB).
		WithRegistry(registry).
		WithLayout(layout).
		Register(api)

	handlers.NewMetaHandler(cfg, registry, ollama, logger).Register(api, prefix)
	handlers.NewVoicesHandler(registry, previews, logger).Register(api, prefix)
	handlers.NewSynthesisHandler(dispatcher, logger).Register(api, prefix)
	handlers.NewRandomTextHandler(ollama, logger).Register(api, prefix)
	handlers.NewFavoritesHandler(favStore, cfg.Favorites.APIKey, logger).Register(api, prefix)
	handlers.NewClipsHandler(clipRepo, layout, logger).Register(api, prefix)
	handlers.NewPresetsHandler(chattts, logger).Register(api, prefix)

	customVoice := handlers.NewCustomVoiceHandler(
		xtts, cfg.Engines.XTTS, media, fetcher, previews, layout, maxUpload, logger)
	customVoice.Register(api, prefix)
	customVoice.RegisterRoutes(router, prefix)

	mediaHandler := handlers.NewMediaHandler(
		jobs, media, mediaCache, fetcher, statsRec, maxUpload, logger)
	mediaHandler.Register(api, prefix)
	mediaHandler.RegisterRoutes(router, prefix)

	handlers.NewOllamaHandler(ollama, logger).RegisterRoutes(router, prefix)
	handlers.NewDrawThingsHandler(drawthings, logger).RegisterRoutes(router, prefix)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	logger.Info("starting ttshub server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("output_dir", layout.BaseDir()),
		slog.String("version", version.Version),
	)

	return server.ListenAndServe(ctx)
}

// applyServeFlags overlays explicitly set CLI flags onto the loaded config,
// preserving the flag > env > file > default priority.
func applyServeFlags(flags *pflag.FlagSet, cfg *config.Config) {
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("output-dir") {
		cfg.Storage.OutputDir, _ = flags.GetString("output-dir")
	}
	if flags.Changed("frontend-dir") {
		cfg.Server.FrontendDir, _ = flags.GetString("frontend-dir")
	}
}
