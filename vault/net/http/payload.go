package http

import (
	"time"

	"github.com/LerianStudio/shared-vault/vault/ledger"
	"github.com/LerianStudio/shared-vault/vault/safe"
	"github.com/shopspring/decimal"
)

// AmountPayload is the signed payload of initialize, deposit and withdraw.
type AmountPayload struct {
	Caller string `json:"caller" validate:"required,identity"`
	Amount string `json:"amount" validate:"required,max=64"`
}

// TargetPayload is the signed payload of whitelist and blacklist.
type TargetPayload struct {
	Caller string `json:"caller" validate:"required,identity"`
	Target string `json:"target" validate:"required,identity"`
}

// VaultResponse renders a VaultAccount.
type VaultResponse struct {
	ID               string          `json:"id"`
	Owner            string          `json:"owner"`
	Balance          decimal.Decimal `json:"balance"`
	CustodyAuthority string          `json:"custodyAuthority"`
	CustodyBump      uint8           `json:"custodyBump"`
	AuthorityBump    uint8           `json:"authorityBump"`
	Version          int64           `json:"version"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// AccountResponse renders a UserAccount.
type AccountResponse struct {
	Vault         string          `json:"vault"`
	Owner         string          `json:"owner"`
	Deposited     decimal.Decimal `json:"deposited"`
	Debt          decimal.Decimal `json:"debt"`
	IsWhitelisted bool            `json:"isWhitelisted"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// ReceiptResponse renders the outcome of a mutating operation.
type ReceiptResponse struct {
	Vault   VaultResponse   `json:"vault"`
	Account AccountResponse `json:"account"`
	// EventID is empty when the operation changed nothing.
	EventID string `json:"eventId,omitempty"`
}

// AuditResponse renders an AuditReport.
type AuditResponse struct {
	Vault          string          `json:"vault"`
	Balance        decimal.Decimal `json:"balance"`
	Accounts       int             `json:"accounts"`
	TotalDeposited decimal.Decimal `json:"totalDeposited"`
	TotalDebt      decimal.Decimal `json:"totalDebt"`
	DebtRatio      decimal.Decimal `json:"debtRatio"`
	Conserved      bool            `json:"conserved"`
	Violations     []string        `json:"violations,omitempty"`
}

func (h *Handler) vaultResponse(v ledger.VaultAccount) VaultResponse {
	return VaultResponse{
		ID:               v.ID.String(),
		Owner:            v.Owner.String(),
		Balance:          safe.ToDecimal(v.Balance, h.decimals),
		CustodyAuthority: v.CustodyAuthority.String(),
		CustodyBump:      v.CustodyBump,
		AuthorityBump:    v.AuthorityBump,
		Version:          v.Version,
		CreatedAt:        v.CreatedAt,
		UpdatedAt:        v.UpdatedAt,
	}
}

func (h *Handler) accountResponse(u ledger.UserAccount) AccountResponse {
	return AccountResponse{
		Vault:         u.Vault.String(),
		Owner:         u.Owner.String(),
		Deposited:     safe.ToDecimal(u.Deposited, h.decimals),
		Debt:          safe.ToDecimal(u.Debt, h.decimals),
		IsWhitelisted: u.IsWhitelisted,
		Version:       u.Version,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

func (h *Handler) receiptResponse(r ledger.Receipt) ReceiptResponse {
	resp := ReceiptResponse{
		Vault:   h.vaultResponse(r.Vault),
		Account: h.accountResponse(r.User),
	}

	if r.Event != nil {
		resp.EventID = r.Event.ID.String()
	}

	return resp
}

func (h *Handler) auditResponse(r ledger.AuditReport) AuditResponse {
	return AuditResponse{
		Vault:          r.Vault.String(),
		Balance:        safe.ToDecimal(r.Balance, h.decimals),
		Accounts:       r.Accounts,
		TotalDeposited: safe.ToDecimal(r.TotalDeposited, h.decimals),
		TotalDebt:      safe.ToDecimal(r.TotalDebt, h.decimals),
		DebtRatio:      r.DebtRatio,
		Conserved:      r.Conserved,
		Violations:     r.Violations,
	}
}
