package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	addondomain "github.com/smallbiznis/partnerbilling/internal/addon/domain"
	auditdomain "github.com/smallbiznis/partnerbilling/internal/audit/domain"
	billingcycledomain "github.com/smallbiznis/partnerbilling/internal/billingcycle/domain"
	catalogdomain "github.com/smallbiznis/partnerbilling/internal/catalog/domain"
	coupondomain "github.com/smallbiznis/partnerbilling/internal/coupon/domain"
	dunningdomain "github.com/smallbiznis/partnerbilling/internal/dunning/domain"
	entdomain "github.com/smallbiznis/partnerbilling/internal/entitlement/domain"
	invoicedomain "github.com/smallbiznis/partnerbilling/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/partnerbilling/internal/payment/domain"
	prorationdomain "github.com/smallbiznis/partnerbilling/internal/proration/domain"
	subscriptiondomain "github.com/smallbiznis/partnerbilling/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/partnerbilling/internal/tenant/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

const (
	errorTypeValidation   = "validation_error"
	errorTypeNotFound     = "not_found"
	errorTypeConflict     = "conflict"
	errorTypeUnauthorized = "unauthorized"
	errorTypeDuplicate    = "duplicate"
	errorTypeUnavailable  = "service_unavailable"
	errorTypeInternal     = "internal_error"
)

// validationSentinels map to 400. The sentinel text doubles as the error code.
var validationSentinels = []error{
	ErrInvalidRequest,
	invoicedomain.ErrInvalidPeriod,
	invoicedomain.ErrInvalidTenant,
	invoicedomain.ErrInvalidProviderPaymentID,
	paymentdomain.ErrInvalidPayload,
	paymentdomain.ErrInvalidEvent,
	paymentdomain.ErrInvalidProvider,
	paymentdomain.ErrUnsupportedEventType,
	dunningdomain.ErrInvalidPolicy,
	dunningdomain.ErrInvalidPartner,
	dunningdomain.ErrInvalidTenant,
	prorationdomain.ErrInvalidTenant,
	prorationdomain.ErrPlanScopeMismatch,
	prorationdomain.ErrSamePlan,
	entdomain.ErrInvalidTenant,
	entdomain.ErrInvalidKey,
	entdomain.ErrInvalidLimit,
	entdomain.ErrInvalidWindow,
	entdomain.ErrInvalidRequested,
	coupondomain.ErrInvalidCode,
	coupondomain.ErrCouponNotRedeemable,
	coupondomain.ErrCouponScopeMismatch,
	addondomain.ErrScopeMismatch,
	addondomain.ErrAddonInactive,
	subscriptiondomain.ErrInvalidTenant,
	subscriptiondomain.ErrInvalidCurrency,
	subscriptiondomain.ErrInvalidAmount,
	subscriptiondomain.ErrSubscriptionNotBillable,
	subscriptiondomain.ErrSubscriptionNotChangeable,
	billingcycledomain.ErrInvalidTargetDate,
	auditdomain.ErrInvalidAction,
	auditdomain.ErrInvalidFilter,
}

var notFoundSentinels = []error{
	ErrNotFound,
	gorm.ErrRecordNotFound,
	tenantdomain.ErrPartnerNotFound,
	tenantdomain.ErrTenantNotFound,
	catalogdomain.ErrPlanNotFound,
	catalogdomain.ErrAddonNotFound,
	invoicedomain.ErrInvoiceNotFound,
	subscriptiondomain.ErrSubscriptionNotFound,
	coupondomain.ErrCouponNotFound,
	addondomain.ErrNotSubscribed,
	paymentdomain.ErrProviderNotFound,
}

var conflictSentinels = []error{
	ErrConflict,
	invoicedomain.ErrProviderPaymentConflict,
	subscriptiondomain.ErrSubscriptionExists,
	coupondomain.ErrCouponExhausted,
	coupondomain.ErrCouponAlreadyQueued,
	addondomain.ErrAlreadySubscribed,
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    errorTypeInternal,
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    errorTypeValidation,
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if sentinel := matchSentinel(err, validationSentinels); sentinel != nil {
		code := sentinel.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    errorTypeValidation,
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, paymentdomain.ErrEventAlreadyProcessed):
		return http.StatusOK, errorPayload{
			Type:    errorTypeDuplicate,
			Message: "event already processed",
		}
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    errorTypeUnauthorized,
			Message: "unauthorized",
		}
	case matchSentinel(err, notFoundSentinels) != nil:
		return http.StatusNotFound, errorPayload{
			Type:    errorTypeNotFound,
			Message: matchSentinel(err, notFoundSentinels).Error(),
		}
	case matchSentinel(err, conflictSentinels) != nil:
		return http.StatusConflict, errorPayload{
			Type:    errorTypeConflict,
			Message: matchSentinel(err, conflictSentinels).Error(),
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, billingcycledomain.ErrPreflightFailed):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    errorTypeUnavailable,
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    errorTypeInternal,
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the error type and code for access logs.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	} else if payload.Type != errorTypeInternal {
		code = payload.Message
	}
	return payload.Type, code
}

func matchSentinel(err error, sentinels []error) error {
	for _, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return nil
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}
