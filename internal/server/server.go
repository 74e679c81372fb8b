// Package server exposes the engine over HTTP for upstream chat-bot adapters.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Veraticus/payproof/internal/common"
	"github.com/Veraticus/payproof/internal/engine"
	"github.com/Veraticus/payproof/internal/metrics"
	"github.com/Veraticus/payproof/internal/model"
	"github.com/gin-gonic/gin"
)

// ProofProcessor runs one payment proof through the pipeline.
type ProofProcessor interface {
	ProcessPaymentProof(ctx context.Context, image []byte, mimeType string, pc engine.ProofContext) (*model.PaymentDecision, error)
}

// DecisionReader reads recorded decisions.
type DecisionReader interface {
	GetDecisionByHash(ctx context.Context, contentHash string) (*model.PaymentDecision, error)
	ListDecisions(ctx context.Context, outcome model.Outcome, limit int) ([]model.PaymentDecision, error)
}

// ReviewDesk lists and resolves review tickets.
type ReviewDesk interface {
	ListOpenTickets(ctx context.Context) ([]model.ReviewTicket, error)
	ResolveTicket(ctx context.Context, ticketID string) error
}

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the HTTP handlers.
type Deps struct {
	Processor ProofProcessor
	Decisions DecisionReader
	Review    ReviewDesk
	Health    Pinger
	Metrics   *metrics.Collector
	Logger    *slog.Logger
}

// Server is the HTTP adapter.
type Server struct {
	deps           Deps
	router         *gin.Engine
	logger         *slog.Logger
	maxUploadBytes int64
}

// NewServer wires the routes.
func NewServer(deps Deps, maxUploadBytes int64) (*Server, error) {
	if deps.Processor == nil || deps.Decisions == nil || deps.Review == nil {
		return nil, fmt.Errorf("%w: server requires processor, decisions and review", common.ErrMissingConfig)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = 12 << 20
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		deps:           deps,
		router:         router,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
	}

	router.GET("/healthz", s.handleHealth)

	api := router.Group("/api")
	{
		api.POST("/proofs", s.handleProcessProof)
		api.GET("/decisions", s.handleListDecisions)
		api.GET("/decisions/:hash", s.handleGetDecision)
		api.GET("/review", s.handleListTickets)
		api.POST("/review/:id/resolve", s.handleResolveTicket)
		api.GET("/stats", s.handleStats)
	}

	return s, nil
}

// Handler returns the router for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
