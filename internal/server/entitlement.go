package server

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	entdomain "github.com/smallbiznis/partnerbilling/internal/entitlement/domain"
)

type createOverrideRequest struct {
	Key            string `json:"key"`
	Enabled        *bool  `json:"enabled"`
	Limit          *int64 `json:"limit"`
	EffectiveFrom  string `json:"effective_from"`
	EffectiveUntil string `json:"effective_until"`
	Reason         string `json:"reason"`
}

// ListEntitlements returns the resolved value of every key, ordered by key.
func (s *Server) ListEntitlements(c *gin.Context) {
	tenantID, ok := pathID(c, "tenant_id")
	if !ok {
		return
	}

	resolved, err := s.entitlementSvc.Resolve(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items := make([]entdomain.Effective, 0, len(resolved))
	for _, eff := range resolved {
		items = append(items, eff)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) CheckEntitlement(c *gin.Context) {
	tenantID, ok := pathID(c, "tenant_id")
	if !ok {
		return
	}
	requested, err := parseOptionalInt64(c.Query("requested"))
	if err != nil {
		AbortWithError(c, newValidationError("requested", "invalid_requested", "invalid requested"))
		return
	}

	result, err := s.entitlementSvc.Check(c.Request.Context(), tenantID, strings.TrimSpace(c.Param("key")), requested)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) RebuildEntitlements(c *gin.Context) {
	tenantID, ok := pathID(c, "tenant_id")
	if !ok {
		return
	}

	if err := s.entitlementSvc.Rebuild(c.Request.Context(), tenantID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) CreateEntitlementOverride(c *gin.Context) {
	tenantID, ok := pathID(c, "tenant_id")
	if !ok {
		return
	}

	var req createOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	value := entdomain.Value{Enabled: true, Limit: req.Limit}
	if req.Enabled != nil {
		value.Enabled = *req.Enabled
	}

	effectiveFrom, err := parseOptionalTime(req.EffectiveFrom)
	if err != nil {
		AbortWithError(c, newValidationError("effective_from", "invalid_effective_from", "invalid effective_from"))
		return
	}
	effectiveUntil, err := parseOptionalTime(req.EffectiveUntil)
	if err != nil {
		AbortWithError(c, newValidationError("effective_until", "invalid_effective_until", "invalid effective_until"))
		return
	}

	override, err := s.entitlementSvc.SetManualOverride(c.Request.Context(), entdomain.OverrideRequest{
		TenantID:       tenantID,
		Key:            strings.TrimSpace(req.Key),
		Value:          value,
		EffectiveFrom:  effectiveFrom,
		EffectiveUntil: effectiveUntil,
		Reason:         strings.TrimSpace(req.Reason),
		ActorID:        actorID(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": override})
}
