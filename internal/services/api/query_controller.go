package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/NordCoder/Lastbeat/internal/domain"
	"github.com/NordCoder/Lastbeat/internal/domain/check"
	"github.com/NordCoder/Lastbeat/internal/obs"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		obs.WithTrace(c.Request.Context(), s.log).Error("request failed", zap.String("route", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func codeParam(c *gin.Context) (uuid.UUID, bool) {
	code, err := uuid.Parse(c.Param("code"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid check code"})
		return uuid.Nil, false
	}
	return code, true
}

func limitParam(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return 0, false
	}
	return min(n, maxLimit), true
}

func (s *Server) getCheck(c *gin.Context) {
	code, ok := codeParam(c)
	if !ok {
		return
	}
	chk, err := s.uc.Check(c.Request.Context(), code)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, chk)
}

func (s *Server) listFlips(c *gin.Context) {
	code, ok := codeParam(c)
	if !ok {
		return
	}
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	out, err := s.uc.Flips(c.Request.Context(), code, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"flips": out})
}

func (s *Server) listPings(c *gin.Context) {
	code, ok := codeParam(c)
	if !ok {
		return
	}
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	out, err := s.uc.Pings(c.Request.Context(), code, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pings": out})
}

func (s *Server) listNotifications(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel id"})
		return
	}
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	out, err := s.uc.Notifications(c.Request.Context(), id, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": out})
}

func (s *Server) pause(c *gin.Context)  { s.operate(c, s.uc.Pause) }
func (s *Server) resume(c *gin.Context) { s.operate(c, s.uc.Resume) }

func (s *Server) operate(c *gin.Context, op func(context.Context, uuid.UUID) (*check.Check, error)) {
	code, ok := codeParam(c)
	if !ok {
		return
	}
	chk, err := op(c.Request.Context(), code)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, chk)
}
