package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) GetTenantSubscription(c *gin.Context) {
	tenantID, ok := pathID(c, "tenant_id")
	if !ok {
		return
	}

	sub, err := s.subscriptionSvc.GetByTenant(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sub})
}
