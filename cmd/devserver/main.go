package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"chatsync/internal/infrastructure/assistant"
	"chatsync/internal/server"
	"chatsync/pkg/config"
	"chatsync/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var responder assistant.Responder = assistant.CannedResponder{}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		logger.Info("Assistant backed by OpenAI model %s", cfg.OpenAIModel)
		responder = assistant.NewOpenAIResponder(apiKey, os.Getenv("OPENAI_BASE_URL"), cfg.OpenAIModel)
	} else {
		logger.Info("OPENAI_API_KEY not set, assistant uses canned replies")
	}

	srv, err := server.New(ctx, cfg, registry, responder)
	if err != nil {
		log.Fatalf("Failed to build dev server: %v", err)
	}

	go func() {
		logger.Info("Starting dev server on port %s...", cfg.ServerPort)
		if err := srv.Echo.Start(":" + cfg.ServerPort); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Echo.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed: %v", err)
	}
	logger.Info("Dev server stopped")
}
