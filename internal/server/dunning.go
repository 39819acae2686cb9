package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	dunningdomain "github.com/smallbiznis/partnerbilling/internal/dunning/domain"
)

func (s *Server) GetAccessState(c *gin.Context) {
	partnerID, ok := pathID(c, "partner_id")
	if !ok {
		return
	}
	state, err := s.dunningSvc.ComputeAccessState(c.Request.Context(), partnerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": state})
}

func (s *Server) ApplyTenantDunning(c *gin.Context) {
	tenantID, ok := pathID(c, "tenant_id")
	if !ok {
		return
	}

	result, err := s.dunningSvc.ApplyDunningPolicy(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) SetPartnerDunningPolicy(c *gin.Context) {
	partnerID, ok := pathID(c, "partner_id")
	if !ok {
		return
	}

	var policy dunningdomain.Policy
	if err := c.ShouldBindJSON(&policy); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.dunningSvc.SetPartnerPolicy(c.Request.Context(), dunningdomain.SetPolicyRequest{
		PartnerID: partnerID,
		Policy:    &policy,
		ActorID:   actorID(c),
	}); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": policy})
}

// ResetPartnerDunningPolicy drops the partner override so the global policy applies again.
func (s *Server) ResetPartnerDunningPolicy(c *gin.Context) {
	partnerID, ok := pathID(c, "partner_id")
	if !ok {
		return
	}

	if err := s.dunningSvc.SetPartnerPolicy(c.Request.Context(), dunningdomain.SetPolicyRequest{
		PartnerID: partnerID,
		ActorID:   actorID(c),
	}); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
