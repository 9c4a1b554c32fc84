package services

import (
	"fmt"

	"coffee-payment-service/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LedgerService layers transaction records on top of the wallet
// balance primitive. A post is one atomic unit: balance mutation and
// WalletTransaction insertion commit together or not at all.
type LedgerService struct {
	DB     *gorm.DB
	Wallet *WalletService
}

func NewLedgerService(db *gorm.DB, wallet *WalletService) *LedgerService {
	return &LedgerService{DB: db, Wallet: wallet}
}

// Post applies signedAmount to the wallet (negative debits, positive
// credits) and appends the matching ledger entry. paymentID may be nil
// for entries not tied to a payment. Pass a tx to post as part of a
// larger atomic unit; with nil the post is its own transaction.
func (s *LedgerService) Post(tx *gorm.DB, walletID uint, signedAmount float64, trxType, description string, paymentID *uint) (*models.WalletTransaction, error) {
	if signedAmount == 0 {
		return nil, ErrInvalidAmount
	}

	trx := models.WalletTransaction{
		WalletID:      walletID,
		PaymentID:     paymentID,
		TransactionNo: uuid.NewString(),
		Amount:        signedAmount,
		TrxType:       trxType,
		Description:   description,
	}

	post := func(tx *gorm.DB) error {
		if signedAmount < 0 {
			if err := s.Wallet.Debit(tx, walletID, -signedAmount); err != nil {
				return err
			}
		} else {
			if err := s.Wallet.Credit(tx, walletID, signedAmount); err != nil {
				return err
			}
		}
		return tx.Create(&trx).Error
	}

	var err error
	if tx != nil {
		err = post(tx)
	} else {
		err = s.DB.Transaction(post)
	}
	if err != nil {
		return nil, err
	}
	return &trx, nil
}

// HasPostFor reports whether a ledger entry already exists for the
// given wallet and payment. This is the idempotency guard for IPN
// replays and reconciliation retries.
func (s *LedgerService) HasPostFor(walletID uint, paymentID uint) (bool, error) {
	var count int64
	err := s.DB.Model(&models.WalletTransaction{}).
		Where("wallet_id = ? AND payment_id = ?", walletID, paymentID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// HasPostOfType reports whether a ledger entry of the given type
// exists for the wallet and payment. Multi-entry events guard each
// entry separately with this so a retry can complete an event left
// half-posted by an earlier failure.
func (s *LedgerService) HasPostOfType(tx *gorm.DB, walletID, paymentID uint, trxType string) (bool, error) {
	if tx == nil {
		tx = s.DB
	}
	var count int64
	err := tx.Model(&models.WalletTransaction{}).
		Where("wallet_id = ? AND payment_id = ? AND transaction_type = ?", walletID, paymentID, trxType).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// BalanceMatchesLedger verifies the wallet invariant: cached balance
// equals the sum of all non-deleted transaction amounts.
func (s *LedgerService) BalanceMatchesLedger(walletID uint) (bool, error) {
	wallet, err := s.Wallet.FindByID(walletID)
	if err != nil {
		return false, err
	}

	var sum float64
	err = s.DB.Model(&models.WalletTransaction{}).
		Where("wallet_id = ?", walletID).
		Select("COALESCE(SUM(amount), 0)").Scan(&sum).Error
	if err != nil {
		return false, err
	}

	diff := wallet.Balance - sum
	return diff < 0.005 && diff > -0.005, nil
}

// VoidTransaction tombstones a ledger entry for audit. The row is soft
// deleted only; the materialized balance is untouched.
func (s *LedgerService) VoidTransaction(trxID uint) error {
	res := s.DB.Delete(&models.WalletTransaction{}, trxID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("wallet transaction %d not found", trxID)
	}
	return nil
}
