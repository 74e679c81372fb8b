package main

import (
	"log/slog"

	"github.com/Veraticus/payproof/internal/config"
	"github.com/Veraticus/payproof/internal/server"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API for chat-bot adapters",
		Long: `Start the HTTP API. Adapters POST screenshots to /api/proofs as multipart
form data and receive the decision as JSON.

Endpoints:
  POST /api/proofs                  process a screenshot (field "image")
  GET  /api/decisions[?outcome=]    list recent decisions
  GET  /api/decisions/:hash         look up a decision by content hash
  GET  /api/review                  list open review tickets
  POST /api/review/:id/resolve      close a review ticket
  GET  /api/stats                   runtime statistics
  GET  /healthz                     database health`,
		RunE: runServe,
	}

	cmd.Flags().String("addr", "", "listen address (default: server.addr)")
	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := shutdownContext(ctx)
		defer cancel()
		if closeErr := rt.Close(shutdownCtx); closeErr != nil {
			slog.Error("Failed to release resources", "error", closeErr)
		}
	}()

	if viper.GetString("logging.level") != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	cfg := config.LoadServerConfig(nil)
	srv, err := server.NewServer(server.Deps{
		Processor: rt.Engine,
		Decisions: rt.Store,
		Review:    rt.Store,
		Health:    rt.Store,
		Metrics:   rt.Metrics,
		Logger:    slog.Default(),
	}, cfg.MaxUploadBytes)
	if err != nil {
		return err
	}

	return srv.Run(ctx, cfg.Addr)
}
