package models

import (
	"time"

	"gorm.io/gorm"
)

// Wallet transaction types.
const (
	TrxTypeTopUp    = "TopUp"
	TrxTypeWithdraw = "Withdraw"
	TrxTypeTransfer = "Transfer"
	TrxTypePayment  = "Payment"
	TrxTypeRefund   = "Refund"
)

// WalletTransaction is an append-only ledger entry. Amount is signed:
// positive for credits, negative for debits. Rows are never updated;
// soft delete is an audit tombstone and does not touch balances.
type WalletTransaction struct {
	ID            uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	WalletID      uint           `gorm:"column:wallet_id;not null;index:idx_wtrx_wallet" json:"wallet_id"`
	PaymentID     *uint          `gorm:"column:payment_id;index:idx_wtrx_payment" json:"payment_id"`
	TransactionNo string         `gorm:"column:transaction_no;size:64;not null;index" json:"transaction_no"`
	Amount        float64        `gorm:"column:amount;type:decimal(20,2);not null" json:"amount"`
	TrxType       string         `gorm:"column:transaction_type;size:20;not null" json:"transaction_type"`
	Description   string         `gorm:"column:description;type:text" json:"description"`
	CreatedAt     time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	DeletedAt     gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

func (WalletTransaction) TableName() string {
	return "wallet_transactions"
}
