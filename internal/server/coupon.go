package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	coupondomain "github.com/smallbiznis/partnerbilling/internal/coupon/domain"
)

type redeemCouponRequest struct {
	Code string `json:"code"`
}

// RedeemCoupon queues a coupon for the tenant's next invoice.
func (s *Server) RedeemCoupon(c *gin.Context) {
	tenantID, ok := pathID(c, "tenant_id")
	if !ok {
		return
	}

	var req redeemCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	pending, err := s.couponSvc.Redeem(c.Request.Context(), coupondomain.RedeemRequest{
		TenantID: tenantID,
		Code:     strings.TrimSpace(req.Code),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": pending})
}
