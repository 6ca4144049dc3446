package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elizor/elizor/internal/api"
	"github.com/elizor/elizor/internal/config"
	"github.com/elizor/elizor/internal/db"
	"github.com/elizor/elizor/internal/export"
	"github.com/elizor/elizor/internal/logging"
	"github.com/elizor/elizor/internal/media"
	"github.com/elizor/elizor/internal/playback"
	"github.com/elizor/elizor/internal/project"
	"github.com/elizor/elizor/internal/ui"
)

var Version = "0.1.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting elizor agent", "version", Version, "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	store := project.NewStore(database.Conn())

	authToken, err := ensureAuthToken(store)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                    ELIZOR AGENT v%-25s║\n", Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	ffmpeg := media.NewFFmpeg(media.Config{
		FFmpegPath:  cfg.FFmpegPath(),
		FFprobePath: cfg.FFprobePath(),
		Logger:      logging.WithComponent(logger, "media"),
	})
	doctor := media.NewCachedDoctor(ffmpeg, logger)

	var extractor media.Extractor = ffmpeg
	probeCtx, probeCancel := context.WithTimeout(context.Background(), 15*time.Second)
	caps, err := doctor.Refresh(probeCtx)
	probeCancel()
	switch {
	case err != nil:
		logger.Warn("media probe failed, stills and durations disabled", "error", err)
		extractor = media.NewStubExtractor(logger)
	case !caps.CanExtract():
		logger.Warn("ffmpeg or ffprobe missing, stills and durations disabled",
			"ffmpeg", caps.FFmpeg.Available, "ffprobe", caps.FFprobe.Available)
		extractor = media.NewStubExtractor(logger)
	default:
		logger.Info("media tools detected", "ffmpeg", caps.FFmpeg.Version, "ffprobe", caps.FFprobe.Version)
	}

	writer := project.NewWriter(logging.WithComponent(logger, "writer"))
	engine := project.NewEngine(store, writer, extractor, logging.WithComponent(logger, "engine"))
	engine.SetFrameTimeout(cfg.FrameTimeout())

	if err := engine.LoadLatestProject(context.Background()); err != nil {
		if errors.Is(err, project.ErrProjectNotFound) {
			logger.Info("no stored project, starting empty")
		} else {
			logger.Warn("failed to restore latest project", "error", err)
		}
	}

	transcoder := export.NewFFmpegTranscoder(cfg.FFmpegPath(), "", logging.WithComponent(logger, "transcoder"))
	exports, err := export.NewManager(export.NewRepository(database.Conn()), transcoder, engine,
		cfg.ExportDir(), logging.WithComponent(logger, "exports"))
	if err != nil {
		return fmt.Errorf("failed to initialize exports: %w", err)
	}
	exports.SetTimeout(cfg.ExportTimeout())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exportsDone := make(chan struct{})
	go func() {
		exports.Start(ctx)
		close(exportsDone)
	}()

	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		Version:        Version,
		Engine:         engine,
		Tokens:         store,
		Exports:        exports,
		Doctor:         doctor,
		Extractor:      extractor,
		Playback:       playback.NewServer(logger),
		MaxUploadBytes: cfg.MaxUploadBytes(),
		ProbeTimeout:   cfg.FrameTimeout(),
		Logger:         logger,
		StartTime:      startTime,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quitCh := make(chan struct{})
	quit := func() {
		select {
		case <-quitCh:
		default:
			close(quitCh)
		}
	}

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			quit()
		case <-quitCh:
		}
	}()

	var tray *ui.Tray
	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray = ui.NewTray(ui.TrayConfig{
			Projects: engine,
			Exports:  exports,
			Logger:   logger,
			OnExport: ui.ExportFunc(func(ctx context.Context) error {
				job, err := exports.Submit(ctx, export.Request{Format: export.FormatMP4})
				if err != nil {
					return err
				}
				logger.Info("export queued from tray", "export_id", job.ID)
				return nil
			}),
			OnQuit: quit,
		})
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")
	shutdown(logger, apiServer, engine, writer, cancel, exportsDone)
	if tray != nil {
		tray.Quit()
	}

	logger.Info("shutdown complete")
	return nil
}

func shutdown(logger *slog.Logger, apiServer *api.Server, engine *project.Engine, writer *project.Writer,
	stopExports context.CancelFunc, exportsDone <-chan struct{}) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	stopExports()
	select {
	case <-exportsDone:
	case <-shutdownCtx.Done():
		logger.Warn("export runner did not stop in time")
	}

	if err := engine.SaveProject(shutdownCtx); err != nil {
		logger.Error("failed to save project on shutdown", "error", err)
	}
	if err := engine.Close(shutdownCtx); err != nil {
		logger.Error("failed to flush pending writes", "error", err)
	}
	if err := writer.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop writer", "error", err)
	}
}

func ensureAuthToken(store *project.SQLiteStore) (string, error) {
	ctx := context.Background()

	existing, err := store.GetConfig(ctx, api.AuthTokenKey)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := store.SetConfig(ctx, api.AuthTokenKey, token); err != nil {
		return "", err
	}

	return token, nil
}
