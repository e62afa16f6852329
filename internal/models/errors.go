package models

// DomainError is a business-level error with a stable code.
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *DomainError) Error() string {
	return e.Message
}

func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

var (
	ErrNotFound            = NewDomainError("NOT_FOUND", "resource not found")
	ErrInsufficientStock   = NewDomainError("INSUFFICIENT_STOCK", "insufficient stock")
	ErrInvalidTransition   = NewDomainError("INVALID_TRANSITION", "order status transition not allowed")
	ErrOptimisticConflict  = NewDomainError("OPTIMISTIC_CONFLICT", "resource was modified by another writer")
	ErrInvalidQuantity     = NewDomainError("INVALID_QUANTITY", "invalid quantity")
	ErrReservationReleased = NewDomainError("RESERVATION_RELEASED", "reservation for this order was already released")
	ErrMalformedEvent      = NewDomainError("MALFORMED_EVENT", "event is missing required fields")
	ErrSKUMismatch         = NewDomainError("SKU_MISMATCH", "sku does not belong to the product")
)
