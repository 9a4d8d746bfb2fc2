package ledger

import (
	"errors"

	"github.com/LerianStudio/shared-vault/vault/safe"
)

func arithmeticError(err error, field string) error {
	if errors.Is(err, safe.ErrUnderflow) {
		return newError(ErrArithmeticUnderflow, field, "amount accounting would go negative")
	}

	return newError(ErrArithmeticOverflow, field, "amount accounting exceeds the representable range")
}

// applyDeposit repays debt first and adds the remainder to the stake. It
// returns the new records and the repaid amount; inputs are not modified.
func applyDeposit(vault VaultAccount, user UserAccount, amount uint64) (VaultAccount, UserAccount, uint64, error) {
	if amount == 0 {
		return VaultAccount{}, UserAccount{}, 0, newError(ErrInvalidAmount, "amount", "amount must be greater than zero")
	}

	repay := min(amount, user.Debt)
	remainder := amount - repay

	deposited, err := safe.Add(user.Deposited, remainder)
	if err != nil {
		return VaultAccount{}, UserAccount{}, 0, arithmeticError(err, "deposited")
	}

	balance, err := safe.Add(vault.Balance, amount)
	if err != nil {
		return VaultAccount{}, UserAccount{}, 0, arithmeticError(err, "balance")
	}

	user.Debt -= repay
	user.Deposited = deposited
	user.Version++

	vault.Balance = balance
	vault.Version++

	return vault, user, repay, nil
}

// applyWithdraw takes amount out of the stake, turning any shortfall into
// debt for whitelisted participants. It returns the new records and the debt
// issued; inputs are not modified.
func applyWithdraw(vault VaultAccount, user UserAccount, amount uint64) (VaultAccount, UserAccount, uint64, error) {
	if amount == 0 {
		return VaultAccount{}, UserAccount{}, 0, newError(ErrInvalidAmount, "amount", "amount must be greater than zero")
	}

	var issued uint64

	switch {
	case amount <= user.Deposited:
		user.Deposited -= amount
	case user.IsWhitelisted:
		issued = amount - user.Deposited

		debt, err := safe.Add(user.Debt, issued)
		if err != nil {
			return VaultAccount{}, UserAccount{}, 0, arithmeticError(err, "debt")
		}

		user.Deposited = 0
		user.Debt = debt
	default:
		return VaultAccount{}, UserAccount{}, 0, newError(ErrCanNotBorrow, "amount", "withdrawal exceeds deposits and the account is not whitelisted")
	}

	if vault.Balance < amount {
		return VaultAccount{}, UserAccount{}, 0, newError(ErrInsufficientPoolFunds, "amount", "withdrawal exceeds the pool balance")
	}

	balance, err := safe.Sub(vault.Balance, amount)
	if err != nil {
		return VaultAccount{}, UserAccount{}, 0, arithmeticError(err, "balance")
	}

	user.Version++

	vault.Balance = balance
	vault.Version++

	return vault, user, issued, nil
}

// applyWhitelistFlag sets the whitelist flag. changed is false when the flag
// already had the requested value.
func applyWhitelistFlag(user UserAccount, whitelisted bool) (UserAccount, bool) {
	if user.IsWhitelisted == whitelisted {
		return user, false
	}

	user.IsWhitelisted = whitelisted
	user.Version++

	return user, true
}
