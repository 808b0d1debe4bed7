// Package errors provides the machine's typed error taxonomy.
//
// Every rejection the machine reports carries a Code so that callers can
// branch on the reason without parsing messages.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Cash errors
	CodeUnsupportedCurrency     Code = "UNSUPPORTED_CURRENCY"
	CodeUnsupportedDenomination Code = "UNSUPPORTED_DENOMINATION"
	CodeBalanceCapExceeded      Code = "BALANCE_CAP_EXCEEDED"
	CodeInsufficientCashBalance Code = "INSUFFICIENT_CASH_BALANCE"
	CodeChangeUnavailable       Code = "CHANGE_UNAVAILABLE"

	// Card errors
	CodeCardAlreadyPresent      Code = "CARD_ALREADY_PRESENT"
	CodeNoCardPresent           Code = "NO_CARD_PRESENT"
	CodeInvalidCardTier         Code = "INVALID_CARD_TIER"
	CodeInsufficientCardBalance Code = "INSUFFICIENT_CARD_BALANCE"

	// Machine errors
	CodeModeConflict Code = "MODE_CONFLICT"

	// Inventory errors
	CodeUnknownProduct Code = "UNKNOWN_PRODUCT"
	CodeSoldOut        Code = "SOLD_OUT"
)

// HTTPStatus maps the code to the status used by the JSON control surface.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeUnknownProduct:
		return http.StatusNotFound
	case CodeModeConflict, CodeCardAlreadyPresent, CodeNoCardPresent:
		return http.StatusConflict
	case CodeUnsupportedCurrency, CodeUnsupportedDenomination, CodeInvalidCardTier:
		return http.StatusBadRequest
	case CodeBalanceCapExceeded, CodeInsufficientCashBalance, CodeChangeUnavailable,
		CodeInsufficientCardBalance, CodeSoldOut:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
