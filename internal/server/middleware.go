package server

import (
	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/partnerbilling/internal/observability/context"
	tenantdomain "github.com/smallbiznis/partnerbilling/internal/tenant/domain"
)

// TenantInPartner rejects partner-scoped requests for tenants of another partner.
func (s *Server) TenantInPartner() gin.HandlerFunc {
	return func(c *gin.Context) {
		partnerID, ok := pathID(c, "partner_id")
		if !ok {
			return
		}
		tenantID, ok := pathID(c, "tenant_id")
		if !ok {
			return
		}

		tenant, err := s.tenantRepo.FindTenant(c.Request.Context(), s.db, tenantID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if tenant == nil || tenant.PartnerID != partnerID {
			AbortWithError(c, tenantdomain.ErrTenantNotFound)
			return
		}
		c.Next()
	}
}

// actorID is the operator named by the X-Actor-Id header, if any.
func actorID(c *gin.Context) string {
	_, id := obscontext.ActorFromContext(c.Request.Context())
	return id
}
