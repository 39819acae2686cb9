package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	invoicedomain "github.com/smallbiznis/partnerbilling/internal/invoice/domain"
)

type generateInvoiceRequest struct {
	TenantID       string `json:"tenant_id"`
	SubscriptionID string `json:"subscription_id"`
	PeriodStart    string `json:"period_start"`
	PeriodEnd      string `json:"period_end"`
}

type attachProviderPaymentRequest struct {
	ProviderPaymentID string `json:"provider_payment_id"`
}

// GenerateInvoice creates the invoice for one subscription period. A second
// call for the same period returns the existing invoice with idempotent=true.
func (s *Server) GenerateInvoice(c *gin.Context) {
	var req generateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tenantID, err := snowflake.ParseString(strings.TrimSpace(req.TenantID))
	if err != nil || tenantID == 0 {
		AbortWithError(c, newValidationError("tenant_id", "invalid_tenant_id", "invalid tenant_id"))
		return
	}
	subscriptionID, err := snowflake.ParseString(strings.TrimSpace(req.SubscriptionID))
	if err != nil || subscriptionID == 0 {
		AbortWithError(c, newValidationError("subscription_id", "invalid_subscription_id", "invalid subscription_id"))
		return
	}
	periodStart, err := parseOptionalTime(req.PeriodStart)
	if err != nil || periodStart == nil {
		AbortWithError(c, newValidationError("period_start", "invalid_period_start", "invalid period_start"))
		return
	}
	periodEnd, err := parseOptionalTime(req.PeriodEnd)
	if err != nil || periodEnd == nil {
		AbortWithError(c, newValidationError("period_end", "invalid_period_end", "invalid period_end"))
		return
	}

	result, err := s.invoiceSvc.Generate(c.Request.Context(), invoicedomain.GenerateRequest{
		TenantID:       tenantID,
		SubscriptionID: subscriptionID,
		PeriodStart:    *periodStart,
		PeriodEnd:      *periodEnd,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Idempotent {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"data": result})
}

func (s *Server) GetInvoice(c *gin.Context) {
	invoiceID, ok := pathID(c, "invoice_id")
	if !ok {
		return
	}

	detail, err := s.invoiceSvc.Get(c.Request.Context(), invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": detail})
}

func (s *Server) AttachProviderPayment(c *gin.Context) {
	invoiceID, ok := pathID(c, "invoice_id")
	if !ok {
		return
	}

	var req attachProviderPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	invoice, err := s.invoiceSvc.AttachProviderPayment(c.Request.Context(), invoiceID, strings.TrimSpace(req.ProviderPaymentID))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) ListTenantInvoices(c *gin.Context) {
	tenantID, ok := pathID(c, "tenant_id")
	if !ok {
		return
	}

	invoices, err := s.invoiceSvc.ListByTenant(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": invoices})
}
