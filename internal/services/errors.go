package services

import "errors"

// Domain errors returned as typed results to orchestrator callers.
var (
	// ErrInsufficientFunds is returned when a debit exceeds the wallet
	// balance at attempt time. Checked and applied in one statement.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidSignature marks a gateway notification whose secure
	// hash does not match. Security relevant: logged and alerted
	// separately from a legitimate failed payment.
	ErrInvalidSignature = errors.New("invalid gateway signature")

	// ErrInvalidStateTransition is returned when a terminal payment is
	// asked to move again (Failed to Paid, Paid to Failed).
	ErrInvalidStateTransition = errors.New("invalid payment state transition")

	// ErrAmbiguousFeeConfig means more than one configuration row
	// matches the same role, fee type, date and tonnage bracket.
	ErrAmbiguousFeeConfig = errors.New("ambiguous fee configuration")

	ErrFeeConfigNotFound = errors.New("fee configuration not found")
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrPlanNotFound      = errors.New("plan not found")

	// ErrLedgerPostFailure wraps a ledger post that did not commit
	// after the payment was already claimed Paid. Always routed to the
	// reconciliation alert channel, never swallowed.
	ErrLedgerPostFailure = errors.New("ledger post failure")

	// ErrInvalidAmount rejects non-positive or out-of-bound amounts
	// before any payment record is created.
	ErrInvalidAmount = errors.New("invalid amount")
)
