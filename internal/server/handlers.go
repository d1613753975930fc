package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/apisentinel/sentinel/internal/keystore"
	"github.com/apisentinel/sentinel/internal/observability"
	"github.com/apisentinel/sentinel/internal/timeframe"
)

type generateRequest struct {
	ExpiresIn string `json:"expires_in"`
}

type bulkRequest struct {
	OwnerIDs  []string `json:"owner_ids"`
	ExpiresIn string   `json:"expires_in"`
}

type keyResponse struct {
	OwnerID   string     `json:"owner_id"`
	APIKey    string     `json:"api_key"`
	Sample    string     `json:"sample"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type usageResponse struct {
	OwnerID      string     `json:"owner_id"`
	KeyID        string     `json:"key_id"`
	Timeframe    string     `json:"timeframe"`
	SuccessCount int64      `json:"success_count"`
	FailureCount int64      `json:"failure_count"`
	LastUsed     *time.Time `json:"last_used,omitempty"`
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleProtected(c *gin.Context) {
	decision, ok := decisionFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  "access granted",
		"owner_id": decision.OwnerID,
		"owner":    decision.OwnerName,
	})
}

// parseExpiry turns an optional expires_in duration into an absolute
// expiry. An empty value means the key never expires.
func parseExpiry(expiresIn string) (*time.Time, error) {
	if expiresIn == "" {
		return nil, nil
	}
	d, err := time.ParseDuration(expiresIn)
	if err != nil {
		return nil, err
	}
	t := time.Now().UTC().Add(d)
	return &t, nil
}

func (s *Server) handleGenerate(c *gin.Context) {
	var req generateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	expiresAt, err := parseExpiry(req.ExpiresIn)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid expires_in"})
		return
	}

	ownerID := c.Param("owner")
	raw, err := s.deps.Keys.Generate(c.Request.Context(), ownerID, expiresAt)
	if err != nil {
		s.internalError(c, "key generation failed", err)
		return
	}

	c.JSON(http.StatusCreated, keyResponse{
		OwnerID:   ownerID,
		APIKey:    raw,
		Sample:    raw[len(raw)-keystore.SampleLength:],
		ExpiresAt: expiresAt,
	})
}

func (s *Server) handleRevoke(c *gin.Context) {
	if err := s.deps.Keys.Revoke(c.Request.Context(), c.Param("owner")); err != nil {
		s.internalError(c, "key revocation failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRegenerate(c *gin.Context) {
	ctx := c.Request.Context()
	ownerID := c.Param("owner")

	raw, err := s.deps.Keys.Regenerate(ctx, ownerID)
	if errors.Is(err, keystore.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no key for owner"})
		return
	}
	if err != nil {
		s.internalError(c, "key regeneration failed", err)
		return
	}

	expiresAt, err := s.deps.Keys.Expiration(ctx, ownerID)
	if err != nil {
		s.internalError(c, "key lookup failed", err)
		return
	}

	c.JSON(http.StatusOK, keyResponse{
		OwnerID:   ownerID,
		APIKey:    raw,
		Sample:    raw[len(raw)-keystore.SampleLength:],
		ExpiresAt: expiresAt,
	})
}

func (s *Server) handleReveal(c *gin.Context) {
	ctx := c.Request.Context()
	ownerID := c.Param("owner")

	raw, err := s.deps.Keys.Reveal(ctx, ownerID)
	switch {
	case errors.Is(err, keystore.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "no key for owner"})
		return
	case errors.Is(err, keystore.ErrNotReversible):
		c.JSON(http.StatusConflict, gin.H{"error": "key is not recoverable in hashed mode"})
		return
	case err != nil:
		s.internalError(c, "key reveal failed", err)
		return
	}

	expiresAt, err := s.deps.Keys.Expiration(ctx, ownerID)
	if err != nil {
		s.internalError(c, "key lookup failed", err)
		return
	}

	c.JSON(http.StatusOK, keyResponse{
		OwnerID:   ownerID,
		APIKey:    raw,
		Sample:    raw[len(raw)-keystore.SampleLength:],
		ExpiresAt: expiresAt,
	})
}

func (s *Server) setBlockedHandler(blocked bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		keyID, err := s.deps.Keys.HasKey(ctx, c.Param("owner"))
		if errors.Is(err, keystore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no key for owner"})
			return
		}
		if err != nil {
			s.internalError(c, "key lookup failed", err)
			return
		}

		if err := s.deps.Keys.SetBlocked(ctx, keyID, blocked); err != nil {
			s.internalError(c, "block flag update failed", err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) handleBulkGenerate(c *gin.Context) {
	ctx := c.Request.Context()

	var req bulkRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	expiresAt, err := parseExpiry(req.ExpiresIn)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid expires_in"})
		return
	}

	ownerIDs := req.OwnerIDs
	if len(ownerIDs) == 0 {
		ownerIDs, err = s.deps.Owners.ActiveOwnerIDs(ctx)
		if err != nil {
			s.internalError(c, "owner listing failed", err)
			return
		}
	}

	generated, err := s.deps.Keys.GenerateForOwners(ctx, ownerIDs, expiresAt)
	if err != nil {
		s.internalError(c, "bulk generation failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"generated": generated})
}

func (s *Server) handleRotate(c *gin.Context) {
	regenerated, err := s.deps.Keys.RotateAndRegenerateAll(c.Request.Context())
	if err != nil {
		s.internalError(c, "rotation failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"regenerated": regenerated})
}

func (s *Server) handleUsage(c *gin.Context) {
	ctx := c.Request.Context()

	tf := timeframe.TimeframeDay
	if raw := c.Query("timeframe"); raw != "" {
		parsed, err := timeframe.ParseTimeframe(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timeframe"})
			return
		}
		tf = parsed
	}

	ownerID := c.Param("owner")
	keyID, err := s.deps.Keys.HasKey(ctx, ownerID)
	if errors.Is(err, keystore.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no key for owner"})
		return
	}
	if err != nil {
		s.internalError(c, "key lookup failed", err)
		return
	}

	summary, err := s.deps.Events.UsageSince(ctx, keyID, time.Now().UTC().Add(-tf.Duration()))
	if err != nil {
		s.internalError(c, "usage lookup failed", err)
		return
	}

	c.JSON(http.StatusOK, usageResponse{
		OwnerID:      ownerID,
		KeyID:        keyID,
		Timeframe:    string(tf),
		SuccessCount: summary.SuccessCount,
		FailureCount: summary.FailureCount,
		LastUsed:     summary.LastUsed,
	})
}

func (s *Server) internalError(c *gin.Context, msg string, err error) {
	s.logger.Error(msg, observability.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
