package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"industrychat/internal/api"
	"industrychat/internal/chat"
	"industrychat/internal/chunker"
	"industrychat/internal/composer"
	"industrychat/internal/config"
	"industrychat/internal/extract"
	"industrychat/internal/ingest"
	"industrychat/internal/llm"
	"industrychat/internal/retrieval"
	"industrychat/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the industrychat server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "industrychat version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	switch {
	case strings.EqualFold(cfg.Log.Level, "debug"):
		logLevel = slog.LevelDebug
	case strings.EqualFold(cfg.Log.Level, "warn"):
		logLevel = slog.LevelWarn
	case strings.EqualFold(cfg.Log.Level, "error"):
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Build the retrieval and chat pipeline.
	llmClient := llm.NewClientWithBaseURL(cfg.LLM.APIKey, cfg.LLM.BaseURL)
	embedder := retrieval.NewEmbedder(llmClient, cfg.LLM.EmbedModel)
	vectorStore := retrieval.NewSQLiteStore(store.DB())
	retriever := retrieval.NewRetriever(embedder, vectorStore)
	comp := composer.New(0)
	responder := chat.NewResponder(llmClient, cfg.LLM.ChatModel)

	extractor := extract.New(&http.Client{Timeout: 15 * time.Second})
	splitter := chunker.New(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	ingestSvc := ingest.NewService(extractor, splitter, embedder, vectorStore)

	handler := api.NewHandler(api.Deps{
		Store:     store,
		Ingestor:  ingestSvc,
		Retriever: retriever,
		Composer:  comp,
		Responder: responder,
		Chunks:    vectorStore,
		Token:     cfg.Server.Token,
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: handler,
	}

	// Start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:     store,
		Retriever: retriever,
		Ingestor:  ingestSvc,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start HTTP server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", srv.Addr, "chat_model", cfg.LLM.ChatModel, "embed_model", cfg.LLM.EmbedModel)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
