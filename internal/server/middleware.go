package server

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	auditdomain "github.com/smallbiznis/hwlicense/internal/audit/domain"
	obscontext "github.com/smallbiznis/hwlicense/internal/observability/context"
	"github.com/smallbiznis/hwlicense/internal/observability/logger"
	"github.com/smallbiznis/hwlicense/internal/proof"
	"go.uber.org/zap"
)

const (
	HeaderProof          = "X-License-Proof"
	contextAdminKey      = "admin_username"
	contextSessionKey    = "admin_session_id"
	contextRateClassKey  = "rate_class"
	contextClientBodyKey = "client_request"
)

// clientRequest is the body shared by the license client endpoints.
type clientRequest struct {
	LicenseKey string `json:"license_key"`
	HWID       string `json:"hwid"`
	Proof      string `json:"proof"`
}

// bindClientRequest parses the body once; later calls in the chain reuse it.
func bindClientRequest(c *gin.Context) (clientRequest, error) {
	if cached, ok := c.Get(contextClientBodyKey); ok {
		return cached.(clientRequest), nil
	}
	var req clientRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		return clientRequest{}, err
	}
	if header := strings.TrimSpace(c.GetHeader(HeaderProof)); header != "" && strings.TrimSpace(req.Proof) == "" {
		req.Proof = header
	}
	c.Set(contextClientBodyKey, req)
	return req, nil
}

// AdminRequired resolves the session from the bearer token or the session
// cookie and tags the request context with the admin actor.
func (s *Server) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := s.sessions.ReadToken(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		session, err := s.authsvc.Authenticate(c.Request.Context(), token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		ctx := obscontext.WithActor(c.Request.Context(), string(auditdomain.ActorTypeAdmin), session.Username)
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextAdminKey, session.Username)
		c.Set(contextSessionKey, session.ID)
		c.Next()
	}
}

// ProofRequired enforces the daily proof for an endpoint class when the
// current policy asks for one.
func (s *Server) ProofRequired(class string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.proofGate.Requires(class) {
			c.Next()
			return
		}

		req, err := bindClientRequest(c)
		if err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}

		if err := s.proofGate.Verify(class, req.HWID, req.Proof); err != nil {
			ctx := c.Request.Context()
			reason := strings.TrimPrefix(err.Error(), "proof_")
			if errors.Is(err, proof.ErrSecretUnset) {
				logger.FromContext(ctx).Error("proof required but no secret configured", zap.String("class", class))
			} else {
				logger.FromContext(ctx).Warn("proof rejected",
					zap.String("class", class),
					zap.String("reason", reason),
				)
			}
			s.obsMetrics.RecordProofRejected(ctx, class, reason)
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
