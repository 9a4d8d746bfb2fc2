package ledger

import (
	"context"
	"fmt"

	"github.com/LerianStudio/shared-vault/vault/assert"
	"github.com/LerianStudio/shared-vault/vault/safe"
	"github.com/shopspring/decimal"
)

// AuditReport summarizes the invariant check of one vault.
type AuditReport struct {
	Vault          VaultID         `json:"vault"`
	Balance        uint64          `json:"balance"`
	Accounts       int             `json:"accounts"`
	TotalDeposited uint64          `json:"totalDeposited"`
	TotalDebt      uint64          `json:"totalDebt"`
	DebtRatio      decimal.Decimal `json:"debtRatio"`
	Conserved      bool            `json:"conserved"`
	Violations     []string        `json:"violations,omitempty"`
}

// Audit recomputes the conservation law and debt exclusivity over every
// account of the vault. The report is always returned when the vault could
// be read; a violation is also returned as an assertion error.
func (e *Engine) Audit(ctx context.Context, id VaultID) (AuditReport, error) {
	var (
		vault VaultAccount
		users []UserAccount
	)

	err := e.store.View(ctx, id, func(ctx context.Context, r Reader) error {
		var err error

		if vault, err = e.loadVault(ctx, r); err != nil {
			return err
		}

		users, err = r.Users(ctx)

		return err
	})
	if err != nil {
		return AuditReport{}, err
	}

	report := AuditReport{Vault: vault.ID, Balance: vault.Balance, Accounts: len(users)}

	overflow := false

	for _, user := range users {
		if total, err := safe.Add(report.TotalDeposited, user.Deposited); err != nil {
			overflow = true
			report.Violations = append(report.Violations, "total deposits overflow")
		} else {
			report.TotalDeposited = total
		}

		if total, err := safe.Add(report.TotalDebt, user.Debt); err != nil {
			overflow = true
			report.Violations = append(report.Violations, "total debt overflow")
		} else {
			report.TotalDebt = total
		}

		if user.Deposited > 0 && user.Debt > 0 {
			report.Violations = append(report.Violations,
				fmt.Sprintf("account %s holds both deposits and debt", user.Owner))
		}
	}

	net, subErr := safe.Sub(report.TotalDeposited, report.TotalDebt)
	report.Conserved = !overflow && subErr == nil && net == vault.Balance

	// Totals are partial after an overflow; the overflow violation stands alone.
	if !report.Conserved && !overflow {
		report.Violations = append(report.Violations, fmt.Sprintf(
			"balance %d does not equal deposits %d minus debt %d",
			vault.Balance, report.TotalDeposited, report.TotalDebt))
	}

	report.DebtRatio = safe.PercentageOrZero(report.TotalDebt, report.TotalDeposited)

	asserter := assert.New(e.logger, "ledger", "audit")
	if err := asserter.That(ctx, len(report.Violations) == 0, "vault invariants violated",
		"vault", vault.ID, "violations", report.Violations); err != nil {
		return report, err
	}

	return report, nil
}
