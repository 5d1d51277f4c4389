// Command server runs the realtime voice-and-text agent server: a
// WebSocket endpoint for client sessions, a dashboard event stream, and an
// HTTP control surface for session inspection and metrics.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/chriscow/voiceagent-server/internal/config"
	"github.com/chriscow/voiceagent-server/internal/server"
	"github.com/chriscow/voiceagent-server/pkg/ai/llm"
	"github.com/chriscow/voiceagent-server/pkg/ai/stt"
	"github.com/chriscow/voiceagent-server/pkg/ai/vad"
	"github.com/chriscow/voiceagent-server/pkg/eventbus"
	"github.com/chriscow/voiceagent-server/pkg/metrics"
	"github.com/chriscow/voiceagent-server/pkg/plugin"
	"github.com/chriscow/voiceagent-server/pkg/session"
	"github.com/chriscow/voiceagent-server/pkg/tools"
	"github.com/chriscow/voiceagent-server/pkg/turn"
	"github.com/chriscow/voiceagent-server/pkg/version"

	_ "github.com/chriscow/voiceagent-server/pkg/plugin/deepgram"
	_ "github.com/chriscow/voiceagent-server/pkg/plugin/openai"
	_ "github.com/chriscow/voiceagent-server/pkg/plugin/silero"
)

var (
	envFile   string
	pluginDir string
)

var rootCmd = &cobra.Command{
	Use:   "voiceagent-server",
	Short: "Realtime voice-and-text agent server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetVersionInfo())
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "environment file to load")
	rootCmd.PersistentFlags().StringVar(&pluginDir, "plugin-dir", "", "directory of .so plugins to load (requires a plugindyn build)")
	rootCmd.AddCommand(versionCmd)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	setupLogging(cfg)
	slog.Info("starting voiceagent-server", "version", version.Version, "commit", version.GitCommit, "host", cfg.Host, "port", cfg.Port)

	if pluginDir != "" {
		if err := plugin.LoadDynamicPlugins(pluginDir); err != nil {
			return fmt.Errorf("loading dynamic plugins: %w", err)
		}
	}

	sttProvider, err := loadSTT(cfg)
	if err != nil {
		return fmt.Errorf("loading stt provider: %w", err)
	}

	llmProvider, err := loadLLM(cfg)
	if err != nil {
		return fmt.Errorf("loading llm provider: %w", err)
	}
	streamingLLM, ok := llmProvider.(llm.StreamingLLM)
	if !ok {
		return fmt.Errorf("configured llm provider %q does not support streaming", cfg.LLMProvider)
	}

	detector := loadTurnDetector(cfg)

	bus := eventbus.New()
	store := session.NewStore(bus)
	promReg := prometheus.NewRegistry()
	metricsServer := metrics.NewServer(promReg)
	toolRegistry := tools.NewRegistry()

	srv := server.New(server.Deps{
		Store:        store,
		Bus:          bus,
		Metrics:      metricsServer,
		PromReg:      promReg,
		Config:       cfg,
		STT:          sttProvider,
		NewVAD:       func() (vad.VAD, error) { return loadVAD(cfg) },
		Detector:     detector,
		LLM:          streamingLLM,
		Tools:        toolRegistry,
		Instructions: "You are a helpful voice assistant. Keep responses concise.",
	})

	stop := make(chan struct{})
	go srv.RunIdleSweep(stop)
	defer close(stop)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: srv,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// loadSTT resolves cfg.STTProvider ("provider[/model][:language]") through
// the plugin registry: an unknown provider fails with a tagged error
// enumerating the stt plugins that are registered.
func loadSTT(cfg *config.Config) (stt.STT, error) {
	instance, spec, err := plugin.NewResolver().Resolve("stt", cfg.STTProvider, nil)
	if err != nil {
		return nil, err
	}
	provided, ok := instance.(stt.STT)
	if !ok {
		return nil, fmt.Errorf("stt plugin %q did not produce an stt.STT", spec.Provider)
	}
	return provided, nil
}

func loadLLM(cfg *config.Config) (llm.LLM, error) {
	instance, spec, err := plugin.NewResolver().Resolve("llm", cfg.LLMProvider, nil)
	if err != nil {
		return nil, err
	}
	provided, ok := instance.(llm.LLM)
	if !ok {
		return nil, fmt.Errorf("llm plugin %q did not produce an llm.LLM", spec.Provider)
	}
	return provided, nil
}

func loadVAD(cfg *config.Config) (vad.VAD, error) {
	instance, spec, err := plugin.NewResolver().Resolve("vad", cfg.VADProvider, map[string]any{
		"threshold": float64(cfg.VADThreshold),
	})
	if err != nil {
		return nil, err
	}
	provided, ok := instance.(vad.VAD)
	if !ok {
		return nil, fmt.Errorf("vad plugin %q did not produce a vad.VAD", spec.Provider)
	}
	return provided, nil
}

// loadTurnDetector returns nil (not configured) unless a model path is set,
// matching the "no turn-detector configured" path the recognition
// coordinator special-cases to always use the minimum endpointing delay.
func loadTurnDetector(cfg *config.Config) turn.Detector {
	if cfg.TurnDetectorModelPath == "" {
		return nil
	}
	instance, spec, err := plugin.NewResolver().Resolve("turn", cfg.TurnDetectorProvider, map[string]any{
		"model_path": cfg.TurnDetectorModelPath,
	})
	if err != nil {
		slog.Warn("failed to load turn detector, falling back to minimum endpointing delay", "error", err)
		return nil
	}
	detector, ok := instance.(turn.Detector)
	if !ok {
		slog.Warn("turn detector plugin did not produce a turn.Detector, falling back to minimum endpointing delay", "provider", spec.Provider)
		return nil
	}
	return detector
}
