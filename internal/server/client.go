package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/hwlicense/internal/download"
	licensedomain "github.com/smallbiznis/hwlicense/internal/license/domain"
	obstracing "github.com/smallbiznis/hwlicense/internal/observability/tracing"
)

type activateResponse struct {
	Success   bool       `json:"success"`
	Message   string     `json:"message"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Days      int        `json:"days,omitempty"`
}

type checkResponse struct {
	Valid     bool       `json:"valid"`
	Message   string     `json:"message"`
	Reason    string     `json:"reason,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	DaysLeft  *int       `json:"days_left,omitempty"`
}

func (s *Server) Activate(c *gin.Context) {
	req, err := bindClientRequest(c)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.licenseSvc.Activate(c.Request.Context(), licensedomain.ActivateRequest{
		LicenseKey: req.LicenseKey,
		HWID:       req.HWID,
	})
	if err != nil {
		if licensedomain.IsOutcome(err) {
			c.Set(obstracing.ContextKeyOutcome, err.Error())
			c.JSON(http.StatusOK, activateResponse{
				Success: false,
				Message: licensedomain.Message(err),
			})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.Set(obstracing.ContextKeyOutcome, "activated")
	expiresAt := result.ExpiresAt
	c.JSON(http.StatusOK, activateResponse{
		Success:   true,
		Message:   "License activated successfully",
		ExpiresAt: &expiresAt,
		Days:      result.Days,
	})
}

func (s *Server) CheckLicense(c *gin.Context) {
	req, err := bindClientRequest(c)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.licenseSvc.CheckValid(c.Request.Context(), licensedomain.CheckRequest{
		LicenseKey: req.LicenseKey,
		HWID:       req.HWID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if !result.Valid {
		c.Set(obstracing.ContextKeyOutcome, result.Reason.Error())
		c.JSON(http.StatusOK, checkResponse{
			Valid:   false,
			Message: licensedomain.Message(result.Reason),
			Reason:  result.Reason.Error(),
		})
		return
	}

	c.Set(obstracing.ContextKeyOutcome, "valid")
	daysLeft := result.DaysLeft
	c.JSON(http.StatusOK, checkResponse{
		Valid:     true,
		Message:   "License is active",
		ExpiresAt: result.ExpiresAt,
		DaysLeft:  &daysLeft,
	})
}

func (s *Server) DownloadLink(c *gin.Context) {
	req, err := bindClientRequest(c)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	link, err := s.downloadSvc.GetDownloadLink(c.Request.Context(), download.LinkRequest{
		LicenseKey: req.LicenseKey,
		HWID:       req.HWID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, link)
}

func (s *Server) LatestVersion(c *gin.Context) {
	c.JSON(http.StatusOK, s.releaseSvc.GetLatestVersion())
}

func (s *Server) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": s.cfg.AppName + " license server",
		"status":  "running",
	})
}
