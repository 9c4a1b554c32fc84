package services

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// ReconciliationService closes Paid-Unreconciled payments and expires
// stale gateway sessions on a schedule. Retries run under the same
// idempotency guards as the original post, so a retry can never
// double-post.
type ReconciliationService struct {
	DB       *gorm.DB
	Payments *PaymentService
	Records  *PaymentRecordService
}

func NewReconciliationService(db *gorm.DB, payments *PaymentService, records *PaymentRecordService) *ReconciliationService {
	return &ReconciliationService{DB: db, Payments: payments, Records: records}
}

// ReconcileOnce retries the ledger post for every flagged payment.
// Returns how many payments were closed.
func (s *ReconciliationService) ReconcileOnce() (int, error) {
	payments, err := s.Records.ListUnreconciled(100)
	if err != nil {
		return 0, err
	}

	closed := 0
	for i := range payments {
		p := payments[i]
		if err := s.Payments.RetryLedgerPost(&p); err != nil {
			log.Printf("Reconciliation retry failed for payment %d: %v", p.ID, err)
			continue
		}
		log.Printf("Reconciled payment %d", p.ID)
		closed++
	}
	return closed, nil
}

// ExpireStaleSessions fails gateway payments pending for over 24h.
func (s *ReconciliationService) ExpireStaleSessions() {
	cutoff := time.Now().Add(-24 * time.Hour)
	expired, err := s.Records.ExpireStalePending(cutoff)
	if err != nil {
		log.Printf("Error expiring stale pending payments: %v", err)
		return
	}
	if expired > 0 {
		log.Printf("Expired %d stale pending payments", expired)
	}
}

// StartScheduler initializes the cron jobs for ReconciliationService.
func (s *ReconciliationService) StartScheduler() {
	c := cron.New()
	// Run every 10 minutes: "*/10 * * * *"
	_, err := c.AddFunc("*/10 * * * *", func() {
		log.Println("Running scheduled ledger reconciliation task...")
		if _, err := s.ReconcileOnce(); err != nil {
			log.Printf("Error in ReconcileOnce: %v", err)
		}
	})
	if err != nil {
		log.Printf("Error scheduling reconciliation: %v", err)
		return
	}

	// Run hourly: "0 * * * *"
	_, err = c.AddFunc("0 * * * *", func() {
		log.Println("Running scheduled stale session expiry task...")
		s.ExpireStaleSessions()
	})
	if err != nil {
		log.Printf("Error scheduling session expiry: %v", err)
		return
	}

	c.Start()
	log.Println("Reconciliation Scheduler started (reconcile every 10 minutes, expiry hourly)")
}
