package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/NordCoder/Lastbeat/internal/domain"
	"github.com/NordCoder/Lastbeat/internal/domain/ping"
	"github.com/NordCoder/Lastbeat/internal/services/ingest"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ping handles /ping/:code and /ping/:code/{start,fail,log,<exit status>}.
func (s *Server) ping(c *gin.Context) {
	code, err := uuid.Parse(c.Param("code"))
	if err != nil {
		c.String(http.StatusBadRequest, "invalid url format")
		return
	}

	in := ingest.PingInput{Code: code, Kind: ping.KindSuccess}
	switch action := c.Param("action"); action {
	case "":
	case "start":
		in.Kind = ping.KindStart
	case "fail":
		in.Kind = ping.KindFail
	case "log":
		in.Kind = ping.KindLog
	default:
		st, err := strconv.Atoi(action)
		if err != nil || st < 0 || st > 255 {
			c.String(http.StatusBadRequest, "invalid url format")
			return
		}
		in.ExitStatus = &st
		if st > 0 {
			in.Kind = ping.KindFail
		}
	}

	if raw := c.Query("seq"); raw != "" {
		seq, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || seq <= 0 {
			c.String(http.StatusBadRequest, "invalid seq")
			return
		}
		in.Seq = &seq
	}

	in.Method = c.Request.Method
	in.Scheme = "http"
	if c.Request.TLS != nil {
		in.Scheme = "https"
	}
	in.RemoteAddr = c.ClientIP()
	in.UserAgent = c.Request.UserAgent()
	in.Body, in.BodySize = s.readBody(c)

	switch _, err := s.uc.RecordPing(c.Request.Context(), in); {
	case err == nil, errors.Is(err, domain.ErrDuplicatePing):
		c.String(http.StatusOK, "OK")
	case errors.Is(err, domain.ErrNotFound):
		c.String(http.StatusNotFound, "not found")
	default:
		s.log.Error("record ping", zap.String("code", code.String()), zap.Error(err))
		c.String(http.StatusInternalServerError, "internal error")
	}
}

// readBody keeps up to MaxBodySize bytes and reports the full size.
func (s *Server) readBody(c *gin.Context) ([]byte, int) {
	if c.Request.Body == nil || c.Request.Method == http.MethodHead {
		return nil, 0
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, int64(s.opts.MaxBodySize)))
	if err != nil {
		return nil, 0
	}
	rest, _ := io.Copy(io.Discard, c.Request.Body)
	return body, len(body) + int(rest)
}
