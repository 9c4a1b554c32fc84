package models

import (
	"time"
)

// Payment statuses. Pending is the only non-terminal state; Paid and
// Failed are final. Refunded is reachable only through an operator
// refund of a Paid payment.
const (
	PaymentStatusPending  = "Pending"
	PaymentStatusPaid     = "Paid"
	PaymentStatusFailed   = "Failed"
	PaymentStatusRefunded = "Refunded"
)

// Payment methods.
const (
	PaymentMethodGateway = "Gateway"
	PaymentMethodWallet  = "Wallet"
)

// Payment purposes.
const (
	PurposePlanPostingFee = "PlanPostingFee"
	PurposeWalletTopup    = "WalletTopup"
)

// Ledger sub-states for Paid payments. Unreconciled marks a payment
// whose ledger post did not commit after the Paid claim; the
// reconciliation job owns closing it.
const (
	LedgerStateReconciled   = "Reconciled"
	LedgerStateUnreconciled = "Unreconciled"
)

// Payment represents one attempt to move money for a purpose.
type Payment struct {
	ID              uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	PayerID         int        `gorm:"column:payer_id;not null;index" json:"payer_id"`
	PayerEmail      string     `gorm:"column:payer_email;size:255" json:"payer_email"`
	Purpose         string     `gorm:"column:purpose;size:50;not null" json:"purpose"`
	Status          string     `gorm:"column:status;size:20;not null;default:Pending" json:"status"`
	Method          string     `gorm:"column:method;size:20;not null" json:"method"`
	Amount          float64    `gorm:"column:amount;type:decimal(20,2);not null" json:"amount"`
	ExternalRef     string     `gorm:"column:external_ref;size:64;uniqueIndex" json:"external_ref"`
	RelatedEntityID uint       `gorm:"column:related_entity_id;index" json:"related_entity_id"`
	LedgerState     string     `gorm:"column:ledger_state;size:20;default:Reconciled" json:"ledger_state"`
	FailReason      string     `gorm:"column:fail_reason;size:255" json:"fail_reason"`
	PaidAt          *time.Time `gorm:"column:paid_at" json:"paid_at"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}
