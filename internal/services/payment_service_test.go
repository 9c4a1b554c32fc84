package services

import (
	"errors"
	"testing"
	"time"

	"coffee-payment-service/internal/models"

	"github.com/stretchr/testify/assert"
)

type stubPlanClient struct {
	plan *Plan
	err  error
}

func (c *stubPlanClient) GetPlanOwnership(planID uint, userID int) (*Plan, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.plan, nil
}

func newTestPaymentService(plans PlanClient) *PaymentService {
	wallets := NewWalletService(testDB)
	ledger := NewLedgerService(testDB, wallets)
	records := NewPaymentRecordService(testDB)
	fees := NewFeeService(testDB, nil)
	gateway := testVnpayService()
	return NewPaymentService(testDB, fees, wallets, ledger, records, gateway, plans, nil)
}

func seedFeeConfig(roleID int, amount float64) {
	testDB.Create(&models.PaymentConfiguration{
		RoleID:        roleID,
		FeeType:       FeeTypePlanPosting,
		Amount:        amount,
		EffectiveFrom: time.Now().Add(-24 * time.Hour),
		Active:        true,
	})
}

func TestPayWithWallet(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	seedFeeConfig(2, 60000)
	plans := &stubPlanClient{plan: &Plan{ID: 7, OwnerID: 301, Status: "Draft"}}
	svc := newTestPaymentService(plans)

	wallet, _ := svc.Wallets.GetOrCreate(301, models.WalletTypeUser)
	assert.Nil(t, svc.Wallets.Credit(nil, wallet.ID, 100000))

	ctx := RequestContext{UserID: 301, Email: "farmer@example.com", RoleID: 2}
	result, err := svc.PayWithWallet(ctx, 7, 60000, "")
	assert.Nil(t, err)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.TransactionID)

	// Payer debited exactly once
	fresh, _ := svc.Wallets.FindByID(wallet.ID)
	assert.Equal(t, 40000.0, fresh.Balance)

	var trxCount int64
	testDB.Model(&models.WalletTransaction{}).Where("wallet_id = ?", wallet.ID).Count(&trxCount)
	assert.Equal(t, int64(1), trxCount)

	// Payment is Paid and the system wallet carries the fee
	var payment models.Payment
	testDB.Where("payer_id = ?", 301).First(&payment)
	assert.Equal(t, models.PaymentStatusPaid, payment.Status)
	assert.Equal(t, models.LedgerStateReconciled, payment.LedgerState)

	system, _ := svc.Wallets.SystemWallet()
	assert.Equal(t, 60000.0, system.Balance)
}

func TestPayWithWallet_InsufficientFunds(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	seedFeeConfig(2, 60000)
	plans := &stubPlanClient{plan: &Plan{ID: 8, OwnerID: 302, Status: "Draft"}}
	svc := newTestPaymentService(plans)

	wallet, _ := svc.Wallets.GetOrCreate(302, models.WalletTypeUser)
	assert.Nil(t, svc.Wallets.Credit(nil, wallet.ID, 10000))

	ctx := RequestContext{UserID: 302, RoleID: 2}
	result, err := svc.PayWithWallet(ctx, 8, 60000, "")
	assert.True(t, errors.Is(err, ErrInsufficientFunds))
	assert.False(t, result.Success)

	// Nothing moved: balance intact, no ledger entry, payment Failed
	fresh, _ := svc.Wallets.FindByID(wallet.ID)
	assert.Equal(t, 10000.0, fresh.Balance)

	var trxCount int64
	testDB.Model(&models.WalletTransaction{}).Where("wallet_id = ?", wallet.ID).Count(&trxCount)
	assert.Equal(t, int64(0), trxCount)

	var payment models.Payment
	testDB.Where("payer_id = ?", 302).First(&payment)
	assert.Equal(t, models.PaymentStatusFailed, payment.Status)
	assert.Equal(t, "Insufficient funds", payment.FailReason)
}

func TestPayWithWallet_AmountMismatch(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	seedFeeConfig(2, 60000)
	plans := &stubPlanClient{plan: &Plan{ID: 9, OwnerID: 303, Status: "Draft"}}
	svc := newTestPaymentService(plans)
	svc.Wallets.GetOrCreate(303, models.WalletTypeUser)

	ctx := RequestContext{UserID: 303, RoleID: 2}
	_, err := svc.PayWithWallet(ctx, 9, 55000, "")
	assert.True(t, errors.Is(err, ErrInvalidAmount))

	var count int64
	testDB.Model(&models.Payment{}).Where("payer_id = ?", 303).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestHandleIPN_IdempotentSettlement(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	plans := &stubPlanClient{plan: &Plan{ID: 10, OwnerID: 304, Status: "Draft"}}
	svc := newTestPaymentService(plans)

	wallet, _ := svc.Wallets.GetOrCreate(304, models.WalletTypeUser)

	payment, err := svc.Records.Create(CreatePaymentDTO{
		Purpose:         models.PurposeWalletTopup,
		Method:          models.PaymentMethodGateway,
		Amount:          50000,
		PayerID:         304,
		RelatedEntityID: wallet.ID,
		ExternalRef:     "IPNTEST1",
	})
	assert.Nil(t, err)

	values := signedNotification(svc.Gateway, "IPNTEST1", 50000, "00")

	resp := svc.HandleIPN(values)
	assert.Equal(t, "00", resp.RspCode)

	// Same notification delivered again: acknowledged, not re-posted
	resp = svc.HandleIPN(values)
	assert.Equal(t, "02", resp.RspCode)
	resp = svc.HandleIPN(values)
	assert.Equal(t, "02", resp.RspCode)

	fresh, _ := svc.Wallets.FindByID(wallet.ID)
	assert.Equal(t, 50000.0, fresh.Balance)

	var trxCount int64
	testDB.Model(&models.WalletTransaction{}).Where("wallet_id = ?", wallet.ID).Count(&trxCount)
	assert.Equal(t, int64(1), trxCount)

	p, _ := svc.Records.FindByID(payment.ID)
	assert.Equal(t, models.PaymentStatusPaid, p.Status)
}

func TestHandleIPN_PlanFeeSettlement(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	plans := &stubPlanClient{plan: &Plan{ID: 11, OwnerID: 305, Status: "Draft"}}
	svc := newTestPaymentService(plans)

	payerWallet, _ := svc.Wallets.GetOrCreate(305, models.WalletTypeUser)

	payment, _ := svc.Records.Create(CreatePaymentDTO{
		Purpose:         models.PurposePlanPostingFee,
		Method:          models.PaymentMethodGateway,
		Amount:          60000,
		PayerID:         305,
		RelatedEntityID: 11,
		ExternalRef:     "IPNTEST2",
	})

	resp := svc.HandleIPN(signedNotification(svc.Gateway, "IPNTEST2", 60000, "00"))
	assert.Equal(t, "00", resp.RspCode)

	// System wallet credited once
	system, _ := svc.Wallets.SystemWallet()
	assert.Equal(t, 60000.0, system.Balance)

	// Payer wallet shows the audit pair but no net balance change
	fresh, _ := svc.Wallets.FindByID(payerWallet.ID)
	assert.Equal(t, 0.0, fresh.Balance)

	var trxCount int64
	testDB.Model(&models.WalletTransaction{}).Where("wallet_id = ?", payerWallet.ID).Count(&trxCount)
	assert.Equal(t, int64(2), trxCount)

	p, _ := svc.Records.FindByID(payment.ID)
	assert.Equal(t, models.PaymentStatusPaid, p.Status)
}

func TestHandleIPN_FailureNotice(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := newTestPaymentService(&stubPlanClient{})
	payment, _ := svc.Records.Create(CreatePaymentDTO{
		Purpose: models.PurposePlanPostingFee, Method: models.PaymentMethodGateway,
		Amount: 60000, PayerID: 306, ExternalRef: "IPNTEST3",
	})

	resp := svc.HandleIPN(signedNotification(svc.Gateway, "IPNTEST3", 60000, "24"))
	assert.Equal(t, "00", resp.RspCode)

	p, _ := svc.Records.FindByID(payment.ID)
	assert.Equal(t, models.PaymentStatusFailed, p.Status)
	assert.Equal(t, "Gateway response code 24", p.FailReason)

	// A duplicate failure notice is acknowledged as already confirmed
	resp = svc.HandleIPN(signedNotification(svc.Gateway, "IPNTEST3", 60000, "24"))
	assert.Equal(t, "02", resp.RspCode)

	// A late success for the failed order is acknowledged, not applied
	resp = svc.HandleIPN(signedNotification(svc.Gateway, "IPNTEST3", 60000, "00"))
	assert.Equal(t, "02", resp.RspCode)
	p, _ = svc.Records.FindByID(payment.ID)
	assert.Equal(t, models.PaymentStatusFailed, p.Status)
}

func TestHandleIPN_Rejections(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := newTestPaymentService(&stubPlanClient{})

	// Tampered signature
	values := signedNotification(svc.Gateway, "IPNTEST4", 60000, "00")
	values.Set("vnp_Amount", "123400")
	resp := svc.HandleIPN(values)
	assert.Equal(t, "97", resp.RspCode)

	// Unknown order reference
	resp = svc.HandleIPN(signedNotification(svc.Gateway, "NOSUCHREF", 60000, "00"))
	assert.Equal(t, "01", resp.RspCode)

	// Amount disagrees with the payment record
	svc.Records.Create(CreatePaymentDTO{
		Purpose: models.PurposePlanPostingFee, Method: models.PaymentMethodGateway,
		Amount: 60000, PayerID: 307, ExternalRef: "IPNTEST5",
	})
	resp = svc.HandleIPN(signedNotification(svc.Gateway, "IPNTEST5", 99000, "00"))
	assert.Equal(t, "04", resp.RspCode)

	// Every rejection left an audit row behind
	var logCount int64
	testDB.Model(&models.CallbackLog{}).Count(&logCount)
	assert.Equal(t, int64(3), logCount)
}

func TestRetryLedgerPost(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := newTestPaymentService(&stubPlanClient{})
	wallet, _ := svc.Wallets.GetOrCreate(308, models.WalletTypeUser)

	payment, _ := svc.Records.Create(CreatePaymentDTO{
		Purpose:         models.PurposeWalletTopup,
		Method:          models.PaymentMethodGateway,
		Amount:          50000,
		PayerID:         308,
		RelatedEntityID: wallet.ID,
		ExternalRef:     "RETRY1",
	})
	svc.Records.MarkPaid(nil, payment.ID, time.Now())
	svc.Records.MarkUnreconciled(payment.ID)

	p, _ := svc.Records.FindByID(payment.ID)
	assert.Nil(t, svc.RetryLedgerPost(p))

	fresh, _ := svc.Wallets.FindByID(wallet.ID)
	assert.Equal(t, 50000.0, fresh.Balance)

	p, _ = svc.Records.FindByID(payment.ID)
	assert.Equal(t, models.LedgerStateReconciled, p.LedgerState)

	// Retrying a settled payment is a no-op
	assert.Nil(t, svc.RetryLedgerPost(p))
	fresh, _ = svc.Wallets.FindByID(wallet.ID)
	assert.Equal(t, 50000.0, fresh.Balance)
}

func TestRetryLedgerPost_CompletesHalfPostedAuditPair(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := newTestPaymentService(&stubPlanClient{})
	payerWallet, _ := svc.Wallets.GetOrCreate(310, models.WalletTypeUser)
	system, _ := svc.Wallets.SystemWallet()

	payment, _ := svc.Records.Create(CreatePaymentDTO{
		Purpose:         models.PurposePlanPostingFee,
		Method:          models.PaymentMethodGateway,
		Amount:          60000,
		PayerID:         310,
		RelatedEntityID: 12,
		ExternalRef:     "HALFPAIR1",
	})
	svc.Records.MarkPaid(nil, payment.ID, time.Now())

	// Settlement that died between the two legs of the audit pair:
	// system credit and the +amount leg committed, the -amount leg
	// did not.
	_, err := svc.Ledger.Post(nil, system.ID, 60000, models.TrxTypePayment, "fee", &payment.ID)
	assert.Nil(t, err)
	_, err = svc.Ledger.Post(nil, payerWallet.ID, 60000, models.TrxTypeTopUp, "gateway funds", &payment.ID)
	assert.Nil(t, err)
	svc.Records.MarkUnreconciled(payment.ID)

	p, _ := svc.Records.FindByID(payment.ID)
	assert.Nil(t, svc.RetryLedgerPost(p))

	// The retry posted only the missing -amount leg
	fresh, _ := svc.Wallets.FindByID(payerWallet.ID)
	assert.Equal(t, 0.0, fresh.Balance)

	var trxCount int64
	testDB.Model(&models.WalletTransaction{}).Where("wallet_id = ?", payerWallet.ID).Count(&trxCount)
	assert.Equal(t, int64(2), trxCount)

	// System wallet untouched by the retry
	system, _ = svc.Wallets.SystemWallet()
	assert.Equal(t, 60000.0, system.Balance)

	p, _ = svc.Records.FindByID(payment.ID)
	assert.Equal(t, models.LedgerStateReconciled, p.LedgerState)

	ok, err := svc.Ledger.BalanceMatchesLedger(payerWallet.ID)
	assert.Nil(t, err)
	assert.True(t, ok)
}

func TestCreateWalletTopup_Bounds(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := newTestPaymentService(&stubPlanClient{})
	wallet, _ := svc.Wallets.GetOrCreate(309, models.WalletTypeUser)
	ctx := RequestContext{UserID: 309, ClientIP: "127.0.0.1"}

	_, err := svc.CreateWalletTopup(ctx, wallet.ID, 5000, "https://app.example.com/return", "vn")
	assert.True(t, errors.Is(err, ErrInvalidAmount))

	_, err = svc.CreateWalletTopup(ctx, wallet.ID, 20000000, "https://app.example.com/return", "vn")
	assert.True(t, errors.Is(err, ErrInvalidAmount))

	result, err := svc.CreateWalletTopup(ctx, wallet.ID, 50000, "https://app.example.com/return", "vn")
	assert.Nil(t, err)
	assert.NotEmpty(t, result.URL)

	// Someone else's wallet is invisible
	other := RequestContext{UserID: 999, ClientIP: "127.0.0.1"}
	_, err = svc.CreateWalletTopup(other, wallet.ID, 50000, "https://app.example.com/return", "vn")
	assert.True(t, errors.Is(err, ErrWalletNotFound))
}
