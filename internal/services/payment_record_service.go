package services

import (
	"errors"
	"log"
	"time"

	"coffee-payment-service/internal/models"

	"gorm.io/gorm"
)

// PaymentRecordService owns the Payment aggregate and its state
// machine. Pending -> Paid and Pending -> Failed are the only legal
// edges; both are applied as guarded single-statement claims so a
// duplicate gateway delivery can never win the transition twice.
type PaymentRecordService struct {
	DB *gorm.DB
}

func NewPaymentRecordService(db *gorm.DB) *PaymentRecordService {
	return &PaymentRecordService{DB: db}
}

// CanTransition reports whether a payment status edge is legal.
func CanTransition(from, to string) bool {
	if from != models.PaymentStatusPending {
		return false
	}
	return to == models.PaymentStatusPaid || to == models.PaymentStatusFailed
}

type CreatePaymentDTO struct {
	Purpose         string
	Method          string
	Amount          float64
	PayerEmail      string
	PayerID         int
	RelatedEntityID uint
	ExternalRef     string
}

func (s *PaymentRecordService) Create(data CreatePaymentDTO) (*models.Payment, error) {
	if data.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	payment := models.Payment{
		PayerID:         data.PayerID,
		PayerEmail:      data.PayerEmail,
		Purpose:         data.Purpose,
		Status:          models.PaymentStatusPending,
		Method:          data.Method,
		Amount:          data.Amount,
		ExternalRef:     data.ExternalRef,
		RelatedEntityID: data.RelatedEntityID,
		LedgerState:     models.LedgerStateReconciled,
	}
	if err := s.DB.Create(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (s *PaymentRecordService) FindByID(paymentID uint) (*models.Payment, error) {
	var payment models.Payment
	if err := s.DB.First(&payment, paymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// FindByExternalRef looks a payment up by its gateway order reference,
// the dedup key for notifications.
func (s *PaymentRecordService) FindByExternalRef(externalRef string) (*models.Payment, error) {
	var payment models.Payment
	if err := s.DB.Where("external_ref = ?", externalRef).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// MarkPaid claims the Pending -> Paid transition. The conditional
// UPDATE is the idempotency barrier: exactly one concurrent caller
// observes claimed=true, every other caller gets the already-Paid
// record back as a no-op. Failed -> Paid is an anomaly and errors.
func (s *PaymentRecordService) MarkPaid(tx *gorm.DB, paymentID uint, paidAt time.Time) (payment *models.Payment, claimed bool, err error) {
	if tx == nil {
		tx = s.DB
	}

	res := tx.Model(&models.Payment{}).
		Where("id = ? AND status = ?", paymentID, models.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":  models.PaymentStatusPaid,
			"paid_at": paidAt,
		})
	if res.Error != nil {
		return nil, false, res.Error
	}

	var p models.Payment
	if ferr := tx.First(&p, paymentID).Error; ferr != nil {
		if errors.Is(ferr, gorm.ErrRecordNotFound) {
			return nil, false, ErrPaymentNotFound
		}
		return nil, false, ferr
	}

	if res.RowsAffected == 1 {
		return &p, true, nil
	}

	if p.Status == models.PaymentStatusPaid {
		// Duplicate delivery, treated as a no-op.
		return &p, false, nil
	}

	log.Printf("Anomaly: attempted %s -> Paid on payment %d", p.Status, p.ID)
	return &p, false, ErrInvalidStateTransition
}

// MarkFailed claims Pending -> Failed the same way MarkPaid claims
// Paid: exactly one caller observes claimed=true, a duplicate failure
// notice is a no-op. Paid -> Failed is rejected and logged as an
// anomaly.
func (s *PaymentRecordService) MarkFailed(paymentID uint, reason string) (payment *models.Payment, claimed bool, err error) {
	res := s.DB.Model(&models.Payment{}).
		Where("id = ? AND status = ?", paymentID, models.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":      models.PaymentStatusFailed,
			"fail_reason": reason,
		})
	if res.Error != nil {
		return nil, false, res.Error
	}

	var p models.Payment
	if ferr := s.DB.First(&p, paymentID).Error; ferr != nil {
		if errors.Is(ferr, gorm.ErrRecordNotFound) {
			return nil, false, ErrPaymentNotFound
		}
		return nil, false, ferr
	}

	if res.RowsAffected == 1 {
		return &p, true, nil
	}

	if p.Status == models.PaymentStatusFailed {
		return &p, false, nil
	}

	log.Printf("Anomaly: attempted %s -> Failed on payment %d", p.Status, p.ID)
	return &p, false, ErrInvalidStateTransition
}

// RefreshExternalRef swaps in a fresh gateway order reference for a
// checkout recreation. Only Pending payments may be recreated.
func (s *PaymentRecordService) RefreshExternalRef(paymentID uint, externalRef string) (*models.Payment, error) {
	res := s.DB.Model(&models.Payment{}).
		Where("id = ? AND status = ?", paymentID, models.PaymentStatusPending).
		Update("external_ref", externalRef)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.FindByID(paymentID); err != nil {
			return nil, err
		}
		return nil, ErrInvalidStateTransition
	}
	return s.FindByID(paymentID)
}

// MarkUnreconciled flags a Paid payment whose ledger post did not
// commit. The reconciliation job owns closing these.
func (s *PaymentRecordService) MarkUnreconciled(paymentID uint) error {
	return s.DB.Model(&models.Payment{}).
		Where("id = ? AND status = ?", paymentID, models.PaymentStatusPaid).
		Update("ledger_state", models.LedgerStateUnreconciled).Error
}

// MarkReconciled closes a previously flagged payment.
func (s *PaymentRecordService) MarkReconciled(paymentID uint) error {
	return s.DB.Model(&models.Payment{}).
		Where("id = ?", paymentID).
		Update("ledger_state", models.LedgerStateReconciled).Error
}

// ListUnreconciled returns Paid payments awaiting a ledger retry.
func (s *PaymentRecordService) ListUnreconciled(limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.DB.Where("status = ? AND ledger_state = ?", models.PaymentStatusPaid, models.LedgerStateUnreconciled).
		Order("created_at ASC").Limit(limit).Find(&payments).Error
	return payments, err
}

// ExpireStalePending fails gateway payments that stayed Pending past
// the cutoff. Returns the number of payments expired.
func (s *PaymentRecordService) ExpireStalePending(olderThan time.Time) (int64, error) {
	res := s.DB.Model(&models.Payment{}).
		Where("status = ? AND method = ? AND created_at < ?", models.PaymentStatusPending, models.PaymentMethodGateway, olderThan).
		Updates(map[string]interface{}{
			"status":      models.PaymentStatusFailed,
			"fail_reason": "Gateway session expired",
		})
	return res.RowsAffected, res.Error
}
