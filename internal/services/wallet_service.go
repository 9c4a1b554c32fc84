package services

import (
	"errors"

	"coffee-payment-service/internal/models"
	"coffee-payment-service/pkg/common"

	"gorm.io/gorm"
)

// WalletService is the narrow balance primitive. It owns the only hot
// mutable field in the system (wallet balance) and exposes atomic
// debit/credit. Transaction records are the LedgerService's job.
type WalletService struct {
	DB *gorm.DB
}

func NewWalletService(db *gorm.DB) *WalletService {
	return &WalletService{DB: db}
}

// GetOrCreate returns the wallet for (ownerId, walletType), creating it
// lazily on first need. Wallets are never physically deleted.
func (s *WalletService) GetOrCreate(ownerID int, walletType string) (*models.Wallet, error) {
	var wallet models.Wallet
	err := s.DB.Where("owner_id = ? AND wallet_type = ?", ownerID, walletType).First(&wallet).Error
	if err == nil {
		return &wallet, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	wallet = models.Wallet{OwnerID: ownerID, WalletType: walletType, Balance: 0}
	if err := s.DB.Create(&wallet).Error; err != nil {
		// Lost the race against a concurrent first use of this owner.
		var existing models.Wallet
		if ferr := s.DB.Where("owner_id = ? AND wallet_type = ?", ownerID, walletType).First(&existing).Error; ferr == nil {
			return &existing, nil
		}
		return nil, err
	}
	return &wallet, nil
}

// SystemWallet returns the singleton platform revenue wallet.
func (s *WalletService) SystemWallet() (*models.Wallet, error) {
	return s.GetOrCreate(models.SystemOwnerID, models.WalletTypeSystem)
}

// FindByID returns a wallet by primary key.
func (s *WalletService) FindByID(walletID uint) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := s.DB.First(&wallet, walletID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

// FindUserWallet returns a user's wallet without creating one.
func (s *WalletService) FindUserWallet(userID int) (*models.Wallet, error) {
	var wallet models.Wallet
	err := s.DB.Where("owner_id = ? AND wallet_type = ?", userID, models.WalletTypeUser).First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

// Debit subtracts amount from the wallet balance. The balance check and
// the write happen in a single conditional UPDATE, so concurrent debits
// on the same wallet serialize on the row and can never drive the
// balance negative.
func (s *WalletService) Debit(tx *gorm.DB, walletID uint, amount float64) error {
	if tx == nil {
		tx = s.DB
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}

	res := tx.Model(&models.Wallet{}).
		Where("id = ? AND balance >= ?", walletID, amount).
		UpdateColumn("balance", gorm.Expr("balance - ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Either the wallet is missing or the balance is short.
		var count int64
		if err := tx.Model(&models.Wallet{}).Where("id = ?", walletID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrWalletNotFound
		}
		return ErrInsufficientFunds
	}
	return nil
}

// Credit adds amount to the wallet balance. Always succeeds for a
// positive amount on an existing wallet.
func (s *WalletService) Credit(tx *gorm.DB, walletID uint, amount float64) error {
	if tx == nil {
		tx = s.DB
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}

	res := tx.Model(&models.Wallet{}).
		Where("id = ?", walletID).
		UpdateColumn("balance", gorm.Expr("balance + ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrWalletNotFound
	}
	return nil
}

type WalletTransactionsDTO struct {
	WalletID  uint
	StartDate string
	EndDate   string
	Page      int
	Limit     int
}

// GetWalletTransactions lists a wallet's ledger history, newest first.
func (s *WalletService) GetWalletTransactions(data WalletTransactionsDTO) (common.PaginationResult, error) {
	limit := data.Limit
	if limit <= 0 {
		limit = 50
	}
	page := data.Page
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	query := s.DB.Model(&models.WalletTransaction{}).Where("wallet_id = ?", data.WalletID)

	if data.StartDate != "" {
		query = query.Where("DATE(created_at) >= ?", data.StartDate)
	}
	if data.EndDate != "" {
		query = query.Where("DATE(created_at) <= ?", data.EndDate)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return common.PaginationResult{}, err
	}

	var transactions []models.WalletTransaction
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&transactions).Error; err != nil {
		return common.PaginationResult{}, err
	}

	return common.PaginateResponse(transactions, total, page, limit, "Transactions fetched"), nil
}
