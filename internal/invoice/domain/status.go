package domain

// CanTransitionTo reports whether moving from s to next is a forward move.
// Events arriving out of order must never regress an invoice.
func (s InvoiceStatus) CanTransitionTo(next InvoiceStatus) bool {
	if s == next {
		return false
	}
	switch s {
	case InvoiceStatusPending:
		return true
	case InvoiceStatusOverdue:
		return next == InvoiceStatusPaid || next == InvoiceStatusRefunded || next == InvoiceStatusChargeback
	case InvoiceStatusPaid:
		return next == InvoiceStatusRefunded || next == InvoiceStatusChargeback
	default:
		return false
	}
}

// IsOpen reports whether the invoice still expects payment.
func (s InvoiceStatus) IsOpen() bool {
	return s == InvoiceStatusPending || s == InvoiceStatusOverdue
}
