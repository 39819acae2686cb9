// Package guard enforces partner dunning levels on HTTP routes.
package guard

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	dunningdomain "github.com/smallbiznis/partnerbilling/internal/dunning/domain"
	"go.uber.org/zap"
)

const (
	HeaderDunningLevel = "X-Dunning-Level"
	ContextAccessState = "dunning_access_state"
)

// RouteClass groups routes by how long they stay reachable under dunning.
type RouteClass string

const (
	RouteGeneral   RouteClass = "general"
	RouteDashboard RouteClass = "dashboard"
	RouteBilling   RouteClass = "billing"
)

type Decision struct {
	Allowed bool
	Reason  string
}

const (
	ReasonAllowed      = "allowed"
	ReasonReadOnly     = "read_only"
	ReasonPartialBlock = "partial_block"
	ReasonBlocked      = "blocked"
)

// Decide applies the level rules to one request. It has no side effects.
func Decide(state dunningdomain.AccessState, class RouteClass, method string) Decision {
	if class == RouteBilling {
		return Decision{Allowed: true, Reason: ReasonAllowed}
	}
	switch {
	case state.DunningLevel >= dunningdomain.LevelBlocked:
		return Decision{Reason: ReasonBlocked}
	case state.DunningLevel == dunningdomain.LevelPartial:
		if class == RouteDashboard {
			return Decision{Allowed: true, Reason: ReasonAllowed}
		}
		return Decision{Reason: ReasonPartialBlock}
	case state.DunningLevel == dunningdomain.LevelReadOnly:
		if isMutating(method) {
			return Decision{Reason: ReasonReadOnly}
		}
	}
	return Decision{Allowed: true, Reason: ReasonAllowed}
}

func isMutating(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// AccessStateResolver is the read side of the dunning engine.
type AccessStateResolver interface {
	ComputeAccessState(ctx context.Context, partnerID snowflake.ID) (dunningdomain.AccessState, error)
}

// Middleware resolves the partner from the :partner_id path parameter and
// rejects requests the partner's level does not allow. Lookup failures are
// treated as level 0.
func Middleware(resolver AccessStateResolver, class RouteClass, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("dunning.guard")

	return func(c *gin.Context) {
		partnerID, err := snowflake.ParseString(strings.TrimSpace(c.Param("partner_id")))
		if err != nil || partnerID == 0 {
			c.Next()
			return
		}

		state, err := resolver.ComputeAccessState(c.Request.Context(), partnerID)
		if err != nil {
			log.Warn("dunning.guard.fail_open",
				zap.String("partner_id", partnerID.String()),
				zap.Error(err),
			)
			state = dunningdomain.NewAccessState(partnerID, dunningdomain.LevelNone)
		}

		c.Header(HeaderDunningLevel, strconv.Itoa(state.DunningLevel))
		c.Set(ContextAccessState, state)

		decision := Decide(state, class, c.Request.Method)
		if !decision.Allowed {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": gin.H{
					"type":          "access_restricted",
					"message":       state.Message,
					"reason":        decision.Reason,
					"dunning_level": state.DunningLevel,
				},
			})
			return
		}
		c.Next()
	}
}
