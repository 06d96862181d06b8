package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/hwlicense/internal/audit/domain"
	authdomain "github.com/smallbiznis/hwlicense/internal/auth/domain"
	obscontext "github.com/smallbiznis/hwlicense/internal/observability/context"
	"github.com/smallbiznis/hwlicense/internal/observability/logger"
	"go.uber.org/zap"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
}

func (s *Server) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		AbortWithError(c, newValidationError("credentials", "required", "username and password are required"))
		return
	}

	ctx := c.Request.Context()
	result, err := s.authsvc.Login(ctx, authdomain.LoginRequest{
		Username:  username,
		Password:  req.Password,
		UserAgent: c.Request.UserAgent(),
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		if errors.Is(err, authdomain.ErrInvalidCredentials) {
			logger.FromContext(ctx).Warn("admin login failed")
		}
		AbortWithError(c, err)
		return
	}

	s.sessions.Set(c, result.RawToken, result.ExpiresAt, s.clock.Now())
	logger.FromContext(obscontext.WithActor(ctx, string(auditdomain.ActorTypeAdmin), result.Username)).
		Info("admin logged in", zap.String("session_id", result.SessionID))

	c.JSON(http.StatusOK, loginResponse{
		Token:     result.RawToken,
		ExpiresAt: result.ExpiresAt,
		Username:  result.Username,
	})
}

func (s *Server) Logout(c *gin.Context) {
	token, ok := s.sessions.ReadToken(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	if err := s.authsvc.Logout(c.Request.Context(), token); err != nil {
		AbortWithError(c, err)
		return
	}

	s.sessions.Clear(c)
	c.Status(http.StatusNoContent)
}
