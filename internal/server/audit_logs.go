package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/partnerbilling/internal/audit/domain"
)

type listAuditLogsQuery struct {
	PartnerID string `form:"partner_id"`
	TenantID  string `form:"tenant_id"`
	Action    string `form:"action"`
	Limit     string `form:"limit"`
}

// ListAuditLogs requires a partner_id or tenant_id filter.
func (s *Server) ListAuditLogs(c *gin.Context) {
	var query listAuditLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	partnerID, err := parseOptionalSnowflakeID(query.PartnerID)
	if err != nil {
		AbortWithError(c, newValidationError("partner_id", "invalid_partner_id", "invalid partner_id"))
		return
	}
	tenantID, err := parseOptionalSnowflakeID(query.TenantID)
	if err != nil {
		AbortWithError(c, newValidationError("tenant_id", "invalid_tenant_id", "invalid tenant_id"))
		return
	}
	limit, err := parseOptionalLimit(query.Limit)
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	logs, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListRequest{
		PartnerID: partnerID,
		TenantID:  tenantID,
		Action:    strings.TrimSpace(query.Action),
		Limit:     limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": logs})
}
