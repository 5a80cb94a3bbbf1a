package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"github.com/citric-ai/citron/internal/action"
	"github.com/citric-ai/citron/internal/config"
	"github.com/citric-ai/citron/internal/database"
	"github.com/citric-ai/citron/internal/handler"
	"github.com/citric-ai/citron/internal/llm"
	"github.com/citric-ai/citron/internal/logger"
	"github.com/citric-ai/citron/internal/metering"
	"github.com/citric-ai/citron/internal/middleware"
	"github.com/citric-ai/citron/internal/sandbox"
	"github.com/citric-ai/citron/internal/service"
	"github.com/citric-ai/citron/internal/store"
)

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLog, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLog.Close()

	// Connect to database
	db, err := database.New(cfg)
	if err != nil {
		appLog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	appLog.Info("running database migrations")
	if err := db.Migrate(); err != nil {
		appLog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	if err := db.Seed(); err != nil {
		appLog.Error("failed to seed database", "error", err)
		os.Exit(1)
	}

	s := store.New(db.DB)

	// Sandbox fleet wiring
	provider := sandbox.NewHTTPProvider(
		cfg.SandboxAPIURL, cfg.SandboxAPIKey, cfg.SandboxTemplateID,
		cfg.SandboxExecPort, cfg.SandboxEditorPort)
	meter := metering.NewStoreMeter(s)
	manager := sandbox.NewManager(s, provider, meter, appLog, sandbox.Options{
		NFSServer:   cfg.SandboxNFSServer,
		ExportDir:   cfg.SandboxExportDir,
		IdleClose:   cfg.SandboxIdleClose,
		RatePerHour: cfg.RuntimeRatePerHour,
	})
	defer manager.Shutdown()

	// Action dispatch wiring
	execClient := sandbox.NewExecClient(cfg.ActionTimeout)
	registry := action.NewRegistry()
	action.RegisterBuiltins(registry, execClient)

	messageSvc := service.NewMessageService(s)
	dispatcher := action.NewDispatcher(registry, messageSvc, appLog, cfg.WorkspaceDir, cfg.BrowserModelFallbacks)

	resolver := service.NewModelResolver(s, llm.ModelInfo{
		ModelName: cfg.ModelName,
		BaseURL:   cfg.ModelAPIURL,
		APIKey:    cfg.ModelAPIKey,
	})

	agentSvc := service.NewAgentService(s, messageSvc, manager, dispatcher, resolver, appLog, cfg.PlanAttempts)
	runtimeSvc := service.NewRuntimeService(manager, appLog)
	conversationSvc := service.NewConversationService(s)

	h := handler.New(s, cfg, appLog, agentSvc, runtimeSvc, conversationSvc, messageSvc)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(s))

		r.Route("/agent", func(r chi.Router) {
			r.Post("/run", h.RunAgent)
			r.Get("/ws", h.RunAgentWS)
			r.Post("/stop", h.StopAgent)
		})

		r.Route("/runtime", func(r chi.Router) {
			r.Get("/vscode-url", h.GetEditorURL)
			r.Post("/delete_container", h.TeardownSandbox)
		})

		r.Get("/message/list", h.ListMessagesByQuery)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", h.ListConversations)
			r.Post("/", h.CreateConversation)
			r.Get("/{conversationId}", h.GetConversation)
			r.Delete("/{conversationId}", h.DeleteConversation)
			r.Get("/{conversationId}/messages", h.ListMessages)
			r.Get("/{conversationId}/tasks", h.ListTasks)
		})
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in a goroutine so shutdown can be handled below
	go func() {
		appLog.Info("server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLog.Error("forced shutdown", "error", err)
	}
	appLog.Info("server stopped")
}
