package status

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrFailedPayment = errors.New("payment: payment failed")
	ErrTokenExpired  = errors.New("gateway: access token expired")
)

// Code is an enumerated, user-visible failure reason. Internal errors are
// never surfaced raw; handlers translate codes to HTTP responses.
type Code string

const (
	CodeInvalidInput          Code = "INVALID_INPUT"
	CodeInsufficientInventory Code = "INSUFFICIENT_INVENTORY"
	CodeInventoryContention   Code = "INVENTORY_CONTENTION"
	CodeReservationNotFound   Code = "RESERVATION_NOT_FOUND"
	CodeReservationExpired    Code = "RESERVATION_EXPIRED"
	CodeDuplicateOrder        Code = "DUPLICATE_ORDER"
	CodeOrderNotFound         Code = "ORDER_NOT_FOUND"
	CodeOrderNotPayable       Code = "ORDER_NOT_PAYABLE"
	CodeInvalidSignature      Code = "INVALID_SIGNATURE"
	CodeInvalidPromoCode      Code = "INVALID_PROMO_CODE"
	CodeInvalidPromoterCode   Code = "INVALID_PROMOTER_CODE"
	CodeEventNotOnSale        Code = "EVENT_NOT_ON_SALE"
	CodeQueueRequired         Code = "QUEUE_REQUIRED"
	CodeNotAdmitted           Code = "NOT_ADMITTED"
	CodeGatewayUnavailable    Code = "GATEWAY_UNAVAILABLE"
)

type Error struct {
	Code    Code
	Message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// E builds a coded error with an operator-facing message.
func E(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, err: err}
}

// CodeOf extracts the code from an error chain, or "" if uncoded.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps a code to the response status handlers should use.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeInsufficientInventory, CodeDuplicateOrder, CodeReservationExpired:
		return http.StatusConflict
	case CodeInventoryContention:
		return http.StatusServiceUnavailable
	case CodeReservationNotFound, CodeOrderNotFound:
		return http.StatusNotFound
	case CodeInvalidSignature:
		return http.StatusForbidden
	case CodeInvalidPromoCode, CodeInvalidPromoterCode, CodeOrderNotPayable:
		return http.StatusUnprocessableEntity
	case CodeEventNotOnSale:
		return http.StatusConflict
	case CodeQueueRequired, CodeNotAdmitted:
		return http.StatusForbidden
	case CodeGatewayUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
