package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	billingcycledomain "github.com/smallbiznis/partnerbilling/internal/billingcycle/domain"
)

type runBillingCycleRequest struct {
	TargetDate string `json:"target_date"`
}

// RunBillingCycle triggers one orchestrator pass. Phases already completed for
// the date are skipped, so repeated calls are safe.
func (s *Server) RunBillingCycle(c *gin.Context) {
	var req runBillingCycleRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return
	}

	target, err := parseOptionalTime(req.TargetDate)
	if err != nil {
		AbortWithError(c, newValidationError("target_date", "invalid_target_date", "invalid target_date"))
		return
	}

	result, err := s.billingCycleSvc.Run(c.Request.Context(), billingcycledomain.RunRequest{TargetDate: target})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) ListBillingCycleMarkers(c *gin.Context) {
	target, err := parseOptionalTime(c.Query("target_date"))
	if err != nil || target == nil {
		AbortWithError(c, newValidationError("target_date", "invalid_target_date", "invalid target_date"))
		return
	}

	markers, err := s.billingCycleSvc.Markers(c.Request.Context(), *target)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": markers})
}
