package vault

import (
	"errors"
	"fmt"
	"strings"

	constant "github.com/LerianStudio/shared-vault/vault/constants"
)

// Response is a business error with code, title and message.
type Response struct {
	EntityType string `json:"entityType,omitempty"`
	Title      string `json:"title,omitempty"`
	Message    string `json:"message,omitempty"`
	Code       string `json:"code,omitempty"`
	Err        error  `json:"-"`
}

func (e Response) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e Response) Unwrap() error {
	return e.Err
}

type businessError struct {
	title   string
	message string
}

var businessErrors = []struct {
	code error
	businessError
}{
	{constant.ErrAlreadyInitialized, businessError{"Vault Already Initialized", "The vault %v has already been initialized and cannot be initialized again."}},
	{constant.ErrVaultNotFound, businessError{"Vault Not Found", "The vault %v does not exist. Please verify the vault address and try again."}},
	{constant.ErrAccountNotFound, businessError{"Account Not Found", "The identity %v has no account in this vault."}},
	{constant.ErrNotAuthorized, businessError{"Not Authorized", "The operation requires signatures that were not provided. Only the vault owner may change the whitelist, and both owner and target must sign."}},
	{constant.ErrCanNotBorrow, businessError{"Cannot Borrow", "The withdrawal exceeds your deposited amount and your account is not whitelisted to incur debt."}},
	{constant.ErrInsufficientPoolFunds, businessError{"Insufficient Pool Funds", "The vault does not hold enough funds to cover this withdrawal."}},
	{constant.ErrArithmeticOverflow, businessError{"Overflow Error", "The request could not be completed due to an overflow. Please check the values and try again."}},
	{constant.ErrArithmeticUnderflow, businessError{"Underflow Error", "The request could not be completed due to an underflow. Please check the values and try again."}},
	{constant.ErrInvalidAmount, businessError{"Invalid Amount", "The amount must be a positive integer in base units."}},
	{constant.ErrInvalidIdentity, businessError{"Invalid Identity", "One of the identities in the request is missing or is not a 20-byte hex address."}},
	{constant.ErrInvalidSignature, businessError{"Invalid Signature", "The request signatures could not be verified, have expired or were already used."}},
	{constant.ErrGatewayUnavailable, businessError{"Custody Unavailable", "The custody gateway is temporarily unavailable. Please try again later."}},
	{constant.ErrTransferFailed, businessError{"Transfer Failed", "The custody transfer could not be completed. No ledger state was changed."}},
	{constant.ErrInvalidRequest, businessError{"Invalid Request", "The request body is malformed. Please check the payload and try again."}},
	{constant.ErrRateLimited, businessError{"Rate Limit Exceeded", "Too many requests. Please wait before trying again."}},
}

// ValidateBusinessError maps err to a Response when it carries a known
// error code, and returns err unchanged otherwise. The first arg names the
// subject in the message.
func ValidateBusinessError(err error, entityType string, args ...any) error {
	if err == nil {
		return nil
	}

	var response Response
	if errors.As(err, &response) {
		return response
	}

	for _, entry := range businessErrors {
		if !errors.Is(err, entry.code) {
			continue
		}

		message := entry.message
		if strings.Contains(message, "%v") {
			subject := any("requested")
			if len(args) > 0 {
				subject = args[0]
			}

			message = fmt.Sprintf(message, subject)
		}

		return Response{
			EntityType: entityType,
			Code:       entry.code.Error(),
			Title:      entry.title,
			Message:    message,
			Err:        err,
		}
	}

	return err
}
