package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/Veraticus/payproof/internal/common"
	"github.com/Veraticus/payproof/internal/engine"
	"github.com/Veraticus/payproof/internal/model"
	"github.com/Veraticus/payproof/internal/normalize"
	"github.com/gin-gonic/gin"
)

const maxListLimit = 500

func (s *Server) handleHealth(c *gin.Context) {
	if s.deps.Health != nil {
		if err := s.deps.Health.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleProcessProof answers with the terminal decision, or 422/413 for an
// unusable image. A request whose context ends while it waits for a run slot
// gets 503 so the client can retry.
func (s *Server) handleProcessProof(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUploadBytes)

	fh, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read image"})
		return
	}
	defer func() { _ = f.Close() }()

	raw, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read image"})
		return
	}

	pc := engine.ProofContext{
		SubmissionID: strings.TrimSpace(c.PostForm("submission_id")),
		OrderID:      strings.TrimSpace(c.PostForm("order_id")),
		Currency:     strings.ToUpper(strings.TrimSpace(c.PostForm("currency"))),
	}

	decision, err := s.deps.Processor.ProcessPaymentProof(c.Request.Context(), raw, detectMIME(fh.Header.Get("Content-Type"), raw), pc)
	if err != nil {
		if imgErr, ok := normalize.IsImageError(err); ok {
			status := http.StatusUnprocessableEntity
			if imgErr.Kind == normalize.TooLarge {
				status = http.StatusRequestEntityTooLarge
			}
			c.JSON(status, gin.H{"error": imgErr.Error(), "kind": imgErr.Kind})
			return
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("payment proof not started", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no run slot available, retry later"})
			return
		}
		s.logger.Error("process payment proof failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	c.JSON(http.StatusOK, decision)
}

func (s *Server) handleGetDecision(c *gin.Context) {
	decision, err := s.deps.Decisions.GetDecisionByHash(c.Request.Context(), c.Param("hash"))
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "decision not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, decision)
}

func (s *Server) handleListDecisions(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	outcome := model.Outcome(strings.ToUpper(c.Query("outcome")))
	if outcome != "" && !outcome.IsTerminal() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown outcome"})
		return
	}

	decisions, err := s.deps.Decisions.ListDecisions(c.Request.Context(), outcome, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": decisions, "count": len(decisions)})
}

func (s *Server) handleListTickets(c *gin.Context) {
	tickets, err := s.deps.Review.ListOpenTickets(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": tickets, "count": len(tickets)})
}

func (s *Server) handleResolveTicket(c *gin.Context) {
	if err := s.deps.Review.ResolveTicket(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "open ticket not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Metrics.Snapshot())
}

// detectMIME trusts the declared type unless it is missing or generic.
func detectMIME(declared string, raw []byte) string {
	declared = strings.TrimSpace(declared)
	if declared == "" || strings.HasPrefix(declared, "application/octet-stream") {
		return http.DetectContentType(raw)
	}
	return declared
}
