package ledger

import (
	"errors"
	"fmt"

	constant "github.com/LerianStudio/shared-vault/vault/constants"
)

// Sentinels comparable with errors.Is. Operation errors are returned wrapped
// in a DomainError that adds the offending field and a message.
var (
	ErrAlreadyInitialized    = constant.ErrAlreadyInitialized
	ErrVaultNotFound         = constant.ErrVaultNotFound
	ErrAccountNotFound       = constant.ErrAccountNotFound
	ErrNotAuthorized         = constant.ErrNotAuthorized
	ErrCanNotBorrow          = constant.ErrCanNotBorrow
	ErrInsufficientPoolFunds = constant.ErrInsufficientPoolFunds
	ErrArithmeticOverflow    = constant.ErrArithmeticOverflow
	ErrArithmeticUnderflow   = constant.ErrArithmeticUnderflow
	ErrInvalidAmount         = constant.ErrInvalidAmount
	ErrInvalidIdentity       = constant.ErrInvalidIdentity
)

// DomainError is a ledger rule violation.
type DomainError struct {
	Code    error
	Field   string
	Message string
}

// Error returns the formatted domain error string.
func (e DomainError) Error() string {
	code := "unknown"
	if e.Code != nil {
		code = e.Code.Error()
	}

	if e.Field == "" {
		return fmt.Sprintf("%s: %s", code, e.Message)
	}

	return fmt.Sprintf("%s: %s (%s)", code, e.Message, e.Field)
}

// Unwrap exposes the sentinel.
func (e DomainError) Unwrap() error {
	return e.Code
}

func newError(code error, field, message string) error {
	return DomainError{Code: code, Field: field, Message: message}
}

// CodeOf returns the error code of err, or "" when err carries none.
func CodeOf(err error) string {
	var domainErr DomainError
	if errors.As(err, &domainErr) && domainErr.Code != nil {
		return domainErr.Code.Error()
	}

	return ""
}
