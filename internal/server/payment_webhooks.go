package server

import (
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/partnerbilling/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/partnerbilling/internal/payment/domain"
	"go.uber.org/zap"
)

const maxWebhookBodyBytes = 1 << 20

// WebhookRateLimit throttles provider callbacks per provider. Redis failures
// fail open.
func (s *Server) WebhookRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.webhookLimiter == nil || !s.webhookLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		provider := strings.TrimSpace(c.Param("provider"))
		allowed, retryAfter, err := s.webhookLimiter.Allow(ctx, provider)
		if err != nil {
			logger.FromContext(ctx).Warn("webhook rate limit check failed", zap.String("provider", provider), zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			seconds := int(math.Ceil(retryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			s.obsMetrics.RecordWebhookRateLimited(ctx, provider)
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: errorPayload{
				Type:    "rate_limited",
				Message: "too many requests",
			}})
			return
		}
		c.Next()
	}
}

func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.webhook.Ingest(c.Request.Context(), provider, c.Request.Header, payload)
	if err != nil {
		switch {
		case errors.Is(err, paymentdomain.ErrEventAlreadyProcessed):
			c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
		case errors.Is(err, paymentdomain.ErrEventIgnored):
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		default:
			AbortWithError(c, err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "processed", "data": result})
}
