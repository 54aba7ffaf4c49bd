package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"docbot/config"
	"docbot/internal/adapter/httpapi"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the ingestion and query API over HTTP",
	Long: `Serve a JSON API:

  POST /ingest                  {"doc_id"?, "filename", "text" | "paragraphs"}
  POST /query                   {"question", "doc_id"?, "top_k"?}
  GET  /documents
  DELETE /documents/{id}
  GET  /documents/{id}/summary
  GET  /healthz
  GET  /metrics`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	a, err := openApp(cfg, GetRootDir(), appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	handler := httpapi.NewHandler(a.ingest, a.query, a.metrics, logger).WithHealth(a.health)
	server := handler.NewServer(addr,
		config.Seconds(cfg.Server.ReadTimeoutSecs),
		config.Seconds(cfg.Server.WriteTimeoutSecs))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info("serving", zap.String("addr", addr), zap.Int("chunks", a.index.Count()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
