package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"quill-llm/circuitbreaker"
	"quill-llm/config"
	"quill-llm/logger"
	"quill-llm/metrics"
	"quill-llm/proxy"
)

var rootCmd = &cobra.Command{
	Use:   "quill-llm",
	Short: "Unified LLM chat streaming gateway",
	Long: `quill-llm talks to an OpenAI-compatible chat-completion endpoint and turns its
output into one normalized event stream: content, thinking, tool calls, errors
and a final done marker, whatever tool-call convention the model uses.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP gateway",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// setupLogging configures logrus from the loaded config
func setupLogging(cfg *config.Config) {
	logger.Setup(logger.NewConfigAdapter(cfg).GetMinLogLevel(), cfg.LogFormat)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg)

	lg := logger.New(cmd.Context(), logger.NewConfigAdapter(cfg)).WithComponent(logger.ComponentServer)
	lg.Info("%s", GetBuildInfo())

	models, err := config.LoadModels(cfg.ModelsFile)
	if err != nil {
		return fmt.Errorf("load models: %w", err)
	}
	if len(models.Models) == 0 {
		lg.Warn("No models configured in %s; chat routes answer 400 until models are added", cfg.ModelsFile)
	}

	m := metrics.New()
	llmLog := logger.NewLLMLog(cfg.LLMLogEntries)
	health := circuitbreaker.NewHealthManager(cfg.CircuitBreaker)
	for _, entry := range models.Models {
		if entry.BaseURL != "" {
			health.Track(entry.BaseURL)
		}
	}

	client := proxy.NewClient(proxy.ClientOptions{
		ToolDescriptions: cfg.ToolDescriptions,
		Health:           health,
		Metrics:          m,
		LLMLog:           llmLog,
		LoggerConfig:     logger.NewConfigAdapter(cfg),
	})
	handler := proxy.NewHandler(cfg, models, client, llmLog, health)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(cfg, handler, m),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		lg.Info("%s Listening on http://localhost:%s (models: %d, tool overrides: %d)",
			logger.EmojiLaunch, cfg.Port, len(models.Models), len(cfg.ToolDescriptions))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		lg.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newRouter wires the HTTP surface
func newRouter(cfg *config.Config, h *proxy.Handler, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/", handleRoot)
	r.Get("/health", h.HandleHealth)
	r.Mount("/metrics", m.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat/stream", h.HandleChatStream)
		r.Post("/chat/complete", h.HandleChatComplete)
		r.Get("/debug/llm_logs", h.HandleLLMLogs)
		r.Delete("/debug/llm_logs", h.HandleLLMLogs)
	})
	return r
}

// handleRoot provides basic information about the service
func handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{
	"service": "quill-llm",
	"version": %q,
	"status": "running",
	"endpoints": [
		"GET /health - Health and circuit state",
		"POST /api/chat/stream - Normalized chat event stream (SSE)",
		"POST /api/chat/complete - Normalized chat completion",
		"GET|DELETE /api/debug/llm_logs - Recent upstream exchanges",
		"GET /metrics - Prometheus metrics"
	]
}`, Version)
}
