package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"workpilot/auth"
	"workpilot/config"
	"workpilot/credentials"
	"workpilot/mcp"
	"workpilot/observability"
	"workpilot/repository"
	"workpilot/scheduler"
	"workpilot/services"
	"workpilot/workflows"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err == nil {
		observability.Info("Loaded .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		observability.Fatal("Invalid configuration", "error", err)
	}

	observability.InitLogger(cfg.HTTP.Production)
	observability.InitMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Local persistence
	db, err := repository.Open(cfg.Storage.DataDir)
	if err != nil {
		observability.Fatal("Opening database failed", "error", err)
	}
	bootstrap := repository.NewBootstrapStore(db)
	keys := repository.NewAPIKeyStore(db)
	ledger := repository.NewUsageLedger(db)

	// Collaborator clients
	mail := services.NewMailService()
	chat := services.NewChatService()
	drive := services.NewDriveService()
	tasks := services.NewTasksService()

	agent, err := newAgent(ctx, cfg)
	if err != nil {
		observability.Fatal("Initializing agent backend failed", "error", err)
	}

	// Credential store: Drive vault authoritative, sqlite bootstrap fallback
	refresher := credentials.NewOAuthRefresher(cfg.Google)
	creds := credentials.NewStore(bootstrap, drive, refresher)

	orchestrator := workflows.NewOrchestrator(creds, mail, chat, drive, tasks, agent)

	sched := scheduler.New(cfg.Automation, creds, orchestrator)
	sched.Start(ctx)

	// Authentication
	sessions := auth.NewSessionManager(cfg.HTTP.SessionSecret, cfg.HTTP.SessionTTL)
	resolver := auth.NewResolver(sessions, keys, ledger, cfg.DefaultKey.Secret, cfg.DefaultKey.DailyLimit)
	google := auth.NewGoogleAuthenticator(cfg.Google)

	dbHealth := func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}

	app := NewApp(cfg, creds, keys, ledger, orchestrator, sched, sessions, resolver, google, chat, tasks, agent, dbHealth)
	handler := NewAPIHandler(app)
	mcpServer := mcp.NewServer(resolver, orchestrator, creds, chat, tasks)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      NewRouter(handler, mcpServer, cfg),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Duration(cfg.Agent.TimeoutSeconds+60) * time.Second,
	}

	go func() {
		observability.Info("HTTP server listening", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			observability.Fatal("HTTP server failed", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	observability.Info("Shutting down")
	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		observability.WithError(err).Error("HTTP shutdown failed")
	}
}

// newAgent selects the AI backend from configuration
func newAgent(ctx context.Context, cfg *config.Config) (services.AgentClient, error) {
	switch cfg.Agent.Provider {
	case "bedrock":
		return services.NewBedrockAgentService(ctx, cfg.Agent.AWSRegion, cfg.Agent.ModelID, cfg.Agent.MaxTokens)
	default:
		return services.NewHTTPAgentService(cfg.Agent.BaseURL, cfg.Agent.APIKey,
			time.Duration(cfg.Agent.TimeoutSeconds)*time.Second), nil
	}
}
