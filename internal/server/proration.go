package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	prorationdomain "github.com/smallbiznis/partnerbilling/internal/proration/domain"
)

type changePlanRequest struct {
	PlanID string `json:"plan_id"`
	Waive  bool   `json:"waive_proration"`
}

func (s *Server) PreviewPlanChange(c *gin.Context) {
	tenantID, ok := pathID(c, "tenant_id")
	if !ok {
		return
	}
	planID, err := snowflake.ParseString(strings.TrimSpace(c.Query("plan_id")))
	if err != nil || planID == 0 {
		AbortWithError(c, newValidationError("plan_id", "invalid_plan_id", "invalid plan_id"))
		return
	}

	calc, err := s.prorationSvc.Calculate(c.Request.Context(), tenantID, planID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": calc})
}

func (s *Server) ChangePlan(c *gin.Context) {
	tenantID, ok := pathID(c, "tenant_id")
	if !ok {
		return
	}

	var req changePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	planID, err := snowflake.ParseString(strings.TrimSpace(req.PlanID))
	if err != nil || planID == 0 {
		AbortWithError(c, newValidationError("plan_id", "invalid_plan_id", "invalid plan_id"))
		return
	}

	result, err := s.prorationSvc.ChangePlanWithProration(c.Request.Context(), prorationdomain.ChangePlanRequest{
		TenantID:  tenantID,
		NewPlanID: planID,
		Waive:     req.Waive,
		ActorID:   actorID(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}
