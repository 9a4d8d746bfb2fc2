package constant

import "errors"

// Business error codes. Each sentinel's message is its code so handlers can
// map it without string matching on prose.
var (
	ErrAlreadyInitialized    = errors.New("0001")
	ErrVaultNotFound         = errors.New("0002")
	ErrAccountNotFound       = errors.New("0003")
	ErrNotAuthorized         = errors.New("0004")
	ErrCanNotBorrow          = errors.New("0005")
	ErrInsufficientPoolFunds = errors.New("0006")
	ErrArithmeticOverflow    = errors.New("0007")
	ErrArithmeticUnderflow   = errors.New("0008")
	ErrInvalidAmount         = errors.New("0009")
	ErrInvalidIdentity       = errors.New("0010")
	ErrInvalidSignature      = errors.New("0011")
	ErrGatewayUnavailable    = errors.New("0012")
	ErrTransferFailed        = errors.New("0013")
	ErrInvalidRequest        = errors.New("0014")
	ErrRateLimited           = errors.New("0015")
)
