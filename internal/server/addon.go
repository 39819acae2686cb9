package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type subscribeAddonRequest struct {
	AddonID string `json:"addon_id"`
}

func (s *Server) ListAddons(c *gin.Context) {
	tenantID, ok := pathID(c, "tenant_id")
	if !ok {
		return
	}

	addons, err := s.addonSvc.ListActive(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": addons})
}

func (s *Server) SubscribeAddon(c *gin.Context) {
	tenantID, ok := pathID(c, "tenant_id")
	if !ok {
		return
	}

	var req subscribeAddonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	addonID, err := snowflake.ParseString(strings.TrimSpace(req.AddonID))
	if err != nil || addonID == 0 {
		AbortWithError(c, newValidationError("addon_id", "invalid_addon_id", "invalid addon_id"))
		return
	}

	addon, err := s.addonSvc.Subscribe(c.Request.Context(), tenantID, addonID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": addon})
}

func (s *Server) CancelAddon(c *gin.Context) {
	tenantID, ok := pathID(c, "tenant_id")
	if !ok {
		return
	}
	addonID, ok := pathID(c, "addon_id")
	if !ok {
		return
	}

	if err := s.addonSvc.Cancel(c.Request.Context(), tenantID, addonID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
