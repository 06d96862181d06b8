package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/hwlicense/internal/audit/domain"
	licensedomain "github.com/smallbiznis/hwlicense/internal/license/domain"
	"github.com/smallbiznis/hwlicense/pkg/db/pagination"
)

type createLicenseRequest struct {
	Days int    `json:"days"`
	Note string `json:"note"`
}

type createLicenseResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	ID         string `json:"id"`
	LicenseKey string `json:"license_key"`
	Days       int    `json:"days"`
}

type listLicensesQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
	Status    string `form:"status"`
}

type listEventsQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
	Action    string `form:"action"`
}

func (s *Server) CreateLicense(c *gin.Context) {
	var req createLicenseRequest
	// An empty body creates a license with the default entitlement.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	license, err := s.licenseSvc.Create(c.Request.Context(), licensedomain.CreateRequest{
		Days: req.Days,
		Note: strings.TrimSpace(req.Note),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, createLicenseResponse{
		Success:    true,
		Message:    "License created",
		ID:         license.ID.String(),
		LicenseKey: license.LicenseKey,
		Days:       license.Days,
	})
}

func (s *Server) ListLicenses(c *gin.Context) {
	var query listLicensesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.licenseSvc.List(c.Request.Context(), licensedomain.ListRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		Status: strings.TrimSpace(query.Status),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) DeleteLicense(c *gin.Context) {
	id, err := parseLicenseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.licenseSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "License deleted"})
}

func (s *Server) RevokeLicense(c *gin.Context) {
	id, err := parseLicenseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	license, err := s.licenseSvc.Revoke(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "License revoked", "license": license})
}

func (s *Server) LicenseStats(c *gin.Context) {
	stats, err := s.licenseSvc.Stats(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) ListLicenseEvents(c *gin.Context) {
	id, err := parseLicenseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var query listEventsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListEventsRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		LicenseID: id,
		Action:    strings.TrimSpace(query.Action),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
