package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"time"

	"coffee-payment-service/internal/models"
	"coffee-payment-service/pkg/common"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"
)

// Wallet top-up bounds in currency units (VND).
const (
	MinTopupAmount = 10000
	MaxTopupAmount = 10000000
)

// Task types published to the notification worker.
const (
	TypePaymentEvent = "payment:event"
	TypeLedgerAlert  = "ledger:alert"
)

// RequestContext carries the identity of the inbound request. Handlers
// build it explicitly; nothing in this package reads ambient state.
type RequestContext struct {
	UserID   int
	Email    string
	RoleID   int
	ClientIP string
}

// PaymentEventPayload is the fire-and-forget event emitted on payment
// success or failure, consumed by the notification worker.
type PaymentEventPayload struct {
	PaymentID uint    `json:"paymentId"`
	Purpose   string  `json:"purpose"`
	Status    string  `json:"status"`
	Amount    float64 `json:"amount"`
	PayerID   int     `json:"payerId"`
	Email     string  `json:"email"`
}

// LedgerAlertPayload is the operator-visible reconciliation alert for
// a Paid payment whose ledger post did not commit.
type LedgerAlertPayload struct {
	PaymentID uint   `json:"paymentId"`
	Reason    string `json:"reason"`
}

// PaymentService drives the create-payment, IPN and wallet-pay flows,
// coordinating fee resolution, the payment record state machine, the
// gateway adapter and the ledger under the idempotency rules.
type PaymentService struct {
	DB      *gorm.DB
	Fees    *FeeService
	Wallets *WalletService
	Ledger  *LedgerService
	Records *PaymentRecordService
	Gateway *VnpayService
	Plans   PlanClient
	Client  *asynq.Client
}

func NewPaymentService(
	db *gorm.DB,
	fees *FeeService,
	wallets *WalletService,
	ledger *LedgerService,
	records *PaymentRecordService,
	gateway *VnpayService,
	plans PlanClient,
	client *asynq.Client,
) *PaymentService {
	return &PaymentService{
		DB:      db,
		Fees:    fees,
		Wallets: wallets,
		Ledger:  ledger,
		Records: records,
		Gateway: gateway,
		Plans:   plans,
		Client:  client,
	}
}

func newExternalRef() string {
	return time.Now().Format("20060102150405") + common.GenerateTrxNo()
}

type CheckoutResult struct {
	PaymentID uint   `json:"paymentId"`
	URL       string `json:"url"`
}

// CreatePlanCheckout starts the gateway flow for a plan posting fee:
// ownership check, fee resolution, Pending payment, signed redirect.
// No ledger effect yet.
func (s *PaymentService) CreatePlanCheckout(ctx RequestContext, planID uint, returnURL, locale string) (*CheckoutResult, error) {
	plan, err := s.Plans.GetPlanOwnership(planID, ctx.UserID)
	if err != nil {
		return nil, err
	}

	cfg, err := s.Fees.Resolve(ctx.RoleID, FeeTypePlanPosting, time.Now(), nil)
	if err != nil {
		return nil, err
	}

	payment, err := s.Records.Create(CreatePaymentDTO{
		Purpose:         models.PurposePlanPostingFee,
		Method:          models.PaymentMethodGateway,
		Amount:          cfg.Amount,
		PayerEmail:      ctx.Email,
		PayerID:         ctx.UserID,
		RelatedEntityID: plan.ID,
		ExternalRef:     newExternalRef(),
	})
	if err != nil {
		return nil, err
	}

	checkoutURL, err := s.Gateway.BuildCheckoutURL(payment, returnURL, locale, ctx.ClientIP, time.Now())
	if err != nil {
		return nil, err
	}
	return &CheckoutResult{PaymentID: payment.ID, URL: checkoutURL}, nil
}

// CreateWalletTopup starts the gateway flow for funding a wallet.
// Amounts are bounded before any payment record is created.
func (s *PaymentService) CreateWalletTopup(ctx RequestContext, walletID uint, amount float64, returnURL, locale string) (*CheckoutResult, error) {
	if amount < MinTopupAmount || amount > MaxTopupAmount {
		return nil, ErrInvalidAmount
	}

	wallet, err := s.Wallets.FindByID(walletID)
	if err != nil {
		return nil, err
	}
	if wallet.WalletType != models.WalletTypeUser || wallet.OwnerID != ctx.UserID {
		return nil, ErrWalletNotFound
	}

	payment, err := s.Records.Create(CreatePaymentDTO{
		Purpose:         models.PurposeWalletTopup,
		Method:          models.PaymentMethodGateway,
		Amount:          amount,
		PayerEmail:      ctx.Email,
		PayerID:         ctx.UserID,
		RelatedEntityID: wallet.ID,
		ExternalRef:     newExternalRef(),
	})
	if err != nil {
		return nil, err
	}

	checkoutURL, err := s.Gateway.BuildCheckoutURL(payment, returnURL, locale, ctx.ClientIP, time.Now())
	if err != nil {
		return nil, err
	}
	return &CheckoutResult{PaymentID: payment.ID, URL: checkoutURL}, nil
}

// RecreateCheckout builds a fresh redirect for a Pending payment whose
// gateway session expired. Same payment id, new external reference.
// Terminal payments cannot be recreated.
func (s *PaymentService) RecreateCheckout(ctx RequestContext, paymentID uint, returnURL, locale string) (*CheckoutResult, error) {
	payment, err := s.Records.FindByID(paymentID)
	if err != nil {
		return nil, err
	}
	if payment.PayerID != ctx.UserID {
		return nil, ErrPaymentNotFound
	}
	if payment.Method != models.PaymentMethodGateway {
		return nil, ErrInvalidStateTransition
	}

	payment, err = s.Records.RefreshExternalRef(paymentID, newExternalRef())
	if err != nil {
		return nil, err
	}

	checkoutURL, err := s.Gateway.BuildCheckoutURL(payment, returnURL, locale, ctx.ClientIP, time.Now())
	if err != nil {
		return nil, err
	}
	return &CheckoutResult{PaymentID: payment.ID, URL: checkoutURL}, nil
}

// IPNResponse is the acknowledgment body VNPay expects.
type IPNResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// HandleIPN processes one asynchronous gateway notification. Delivery
// is at least once, possibly concurrent; the Pending -> Paid claim plus
// the per-wallet post guard make the ledger effect exactly once.
func (s *PaymentService) HandleIPN(rawParams url.Values) IPNResponse {
	result, err := s.Gateway.ParseNotification(rawParams)
	if err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			log.Printf("IPN rejected: signature mismatch for vnp_TxnRef=%s", rawParams.Get("vnp_TxnRef"))
			s.logCallback(rawParams, "Invalid signature", models.CallbackStatusRejected, rawParams.Get("vnp_TxnRef"))
			s.raiseAlert(0, "IPN with invalid signature: "+rawParams.Get("vnp_TxnRef"))
			return IPNResponse{RspCode: "97", Message: "Invalid signature"}
		}
		s.logCallback(rawParams, err.Error(), models.CallbackStatusFailed, rawParams.Get("vnp_TxnRef"))
		return IPNResponse{RspCode: "99", Message: "Unknown error"}
	}

	payment, err := s.Records.FindByExternalRef(result.ExternalRef)
	if err != nil {
		s.logCallback(rawParams, "Order not found", models.CallbackStatusFailed, result.ExternalRef)
		return IPNResponse{RspCode: "01", Message: "Order not found"}
	}

	if payment.Amount != result.Amount {
		s.logCallback(rawParams, "Amount mismatch", models.CallbackStatusFailed, result.ExternalRef)
		return IPNResponse{RspCode: "04", Message: "Invalid amount"}
	}

	if !result.Success {
		reason := fmt.Sprintf("Gateway response code %s", result.ResponseCode)
		_, claimed, ferr := s.Records.MarkFailed(payment.ID, reason)
		if ferr != nil {
			if errors.Is(ferr, ErrInvalidStateTransition) {
				// Failure notice for a Paid payment.
				s.logCallback(rawParams, "Order already confirmed", models.CallbackStatusProcessed, result.ExternalRef)
				return IPNResponse{RspCode: "02", Message: "Order already confirmed"}
			}
			s.logCallback(rawParams, ferr.Error(), models.CallbackStatusFailed, result.ExternalRef)
			return IPNResponse{RspCode: "99", Message: "Unknown error"}
		}
		if !claimed {
			// Duplicate failure notice; the first one published the event.
			s.logCallback(rawParams, "Order already confirmed", models.CallbackStatusProcessed, result.ExternalRef)
			return IPNResponse{RspCode: "02", Message: "Order already confirmed"}
		}
		s.publishEvent(payment, models.PaymentStatusFailed)
		s.logCallback(rawParams, reason, models.CallbackStatusProcessed, result.ExternalRef)
		return IPNResponse{RspCode: "00", Message: "Confirm success"}
	}

	paidAt := result.PayDate
	if paidAt.IsZero() {
		paidAt = time.Now()
	}

	payment, claimed, err := s.Records.MarkPaid(nil, payment.ID, paidAt)
	if err != nil {
		if errors.Is(err, ErrInvalidStateTransition) {
			log.Printf("Anomaly: success IPN for failed payment %d", payment.ID)
			s.logCallback(rawParams, "Success notice for failed order", models.CallbackStatusFailed, result.ExternalRef)
			return IPNResponse{RspCode: "02", Message: "Order already confirmed"}
		}
		s.logCallback(rawParams, err.Error(), models.CallbackStatusFailed, result.ExternalRef)
		return IPNResponse{RspCode: "99", Message: "Unknown error"}
	}
	if !claimed {
		// Duplicate delivery; the first one posted the ledger.
		s.logCallback(rawParams, "Order already confirmed", models.CallbackStatusProcessed, result.ExternalRef)
		return IPNResponse{RspCode: "02", Message: "Order already confirmed"}
	}

	if err := s.settleLedger(payment); err != nil {
		// Paid but ledger-inconsistent. Flag for reconciliation, never
		// swallow: the gateway holds the funds either way.
		log.Printf("Ledger post failed for payment %d: %v", payment.ID, err)
		if uerr := s.Records.MarkUnreconciled(payment.ID); uerr != nil {
			log.Printf("Failed to flag payment %d unreconciled: %v", payment.ID, uerr)
		}
		s.raiseAlert(payment.ID, err.Error())
	}

	s.publishEvent(payment, models.PaymentStatusPaid)
	s.logCallback(rawParams, "Confirm success", models.CallbackStatusProcessed, result.ExternalRef)
	return IPNResponse{RspCode: "00", Message: "Confirm success"}
}

// settleLedger posts the ledger entries for a freshly Paid gateway
// payment. Each wallet-level post is guarded by HasPostFor so a
// reconciliation retry can re-enter safely.
func (s *PaymentService) settleLedger(payment *models.Payment) error {
	switch payment.Purpose {
	case models.PurposeWalletTopup:
		wallet, err := s.Wallets.FindByID(payment.RelatedEntityID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLedgerPostFailure, err)
		}
		posted, err := s.Ledger.HasPostFor(wallet.ID, payment.ID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLedgerPostFailure, err)
		}
		if posted {
			return nil
		}
		desc := fmt.Sprintf("Wallet top-up via gateway ref %s", payment.ExternalRef)
		if _, err := s.Ledger.Post(nil, wallet.ID, payment.Amount, models.TrxTypeTopUp, desc, &payment.ID); err != nil {
			return fmt.Errorf("%w: %v", ErrLedgerPostFailure, err)
		}
		return nil

	default:
		// Fee purposes: every successful fee payment credits the
		// system wallet exactly once, regardless of method.
		system, err := s.Wallets.SystemWallet()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLedgerPostFailure, err)
		}
		posted, err := s.Ledger.HasPostFor(system.ID, payment.ID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLedgerPostFailure, err)
		}
		if !posted {
			desc := fmt.Sprintf("%s from payer %d ref %s", payment.Purpose, payment.PayerID, payment.ExternalRef)
			if _, err := s.Ledger.Post(nil, system.ID, payment.Amount, models.TrxTypePayment, desc, &payment.ID); err != nil {
				return fmt.Errorf("%w: %v", ErrLedgerPostFailure, err)
			}
		}

		// Payer-side audit pair for gateway-paid fees: funds flowed
		// through the wallet on paper (in and straight out), leaving
		// the balance unchanged but the fee visible in the history.
		if payment.Method == models.PaymentMethodGateway {
			if wallet, werr := s.Wallets.FindUserWallet(payment.PayerID); werr == nil {
				if err := s.postAuditPair(wallet.ID, payment); err != nil {
					return fmt.Errorf("%w: %v", ErrLedgerPostFailure, err)
				}
			}
		}
		return nil
	}
}

// postAuditPair writes the payer-side net-zero pair in one atomic
// unit, so both legs commit or neither does. Each leg carries its own
// guard: a reconciliation retry completes whichever leg is missing
// instead of treating one committed leg as the whole pair.
func (s *PaymentService) postAuditPair(walletID uint, payment *models.Payment) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		posted, err := s.Ledger.HasPostOfType(tx, walletID, payment.ID, models.TrxTypeTopUp)
		if err != nil {
			return err
		}
		if !posted {
			inDesc := fmt.Sprintf("Gateway funds for %s ref %s", payment.Purpose, payment.ExternalRef)
			if _, err := s.Ledger.Post(tx, walletID, payment.Amount, models.TrxTypeTopUp, inDesc, &payment.ID); err != nil {
				return err
			}
		}

		posted, err = s.Ledger.HasPostOfType(tx, walletID, payment.ID, models.TrxTypePayment)
		if err != nil {
			return err
		}
		if !posted {
			outDesc := fmt.Sprintf("%s ref %s", payment.Purpose, payment.ExternalRef)
			if _, err := s.Ledger.Post(tx, walletID, -payment.Amount, models.TrxTypePayment, outDesc, &payment.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

type WalletPayResult struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	TransactionID string `json:"transactionId,omitempty"`
}

// PayWithWallet is the internal flow: fee resolution, Pending payment,
// then one atomic unit debiting the payer wallet, writing the ledger
// entry and claiming Pending -> Paid. Insufficient funds fails the
// payment synchronously with no ledger mutation.
func (s *PaymentService) PayWithWallet(ctx RequestContext, planID uint, amount float64, description string) (*WalletPayResult, error) {
	plan, err := s.Plans.GetPlanOwnership(planID, ctx.UserID)
	if err != nil {
		return nil, err
	}

	cfg, err := s.Fees.Resolve(ctx.RoleID, FeeTypePlanPosting, time.Now(), nil)
	if err != nil {
		return nil, err
	}
	if amount != 0 && amount != cfg.Amount {
		return nil, ErrInvalidAmount
	}

	wallet, err := s.Wallets.FindUserWallet(ctx.UserID)
	if err != nil {
		return nil, err
	}

	payment, err := s.Records.Create(CreatePaymentDTO{
		Purpose:         models.PurposePlanPostingFee,
		Method:          models.PaymentMethodWallet,
		Amount:          cfg.Amount,
		PayerEmail:      ctx.Email,
		PayerID:         ctx.UserID,
		RelatedEntityID: plan.ID,
		ExternalRef:     newExternalRef(),
	})
	if err != nil {
		return nil, err
	}

	if description == "" {
		description = fmt.Sprintf("Plan posting fee for plan %d", plan.ID)
	}

	var trxNo string
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if derr := s.Wallets.Debit(tx, wallet.ID, cfg.Amount); derr != nil {
			return derr
		}
		trx := models.WalletTransaction{
			WalletID:      wallet.ID,
			PaymentID:     &payment.ID,
			TransactionNo: newExternalRef(),
			Amount:        -cfg.Amount,
			TrxType:       models.TrxTypePayment,
			Description:   description,
		}
		if cerr := tx.Create(&trx).Error; cerr != nil {
			return cerr
		}
		trxNo = trx.TransactionNo

		_, claimed, merr := s.Records.MarkPaid(tx, payment.ID, time.Now())
		if merr != nil {
			return merr
		}
		if !claimed {
			return ErrInvalidStateTransition
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			if _, _, ferr := s.Records.MarkFailed(payment.ID, "Insufficient funds"); ferr != nil {
				log.Printf("Failed to mark payment %d failed: %v", payment.ID, ferr)
			}
			s.publishEvent(payment, models.PaymentStatusFailed)
			return &WalletPayResult{Success: false, Message: "Insufficient funds"}, ErrInsufficientFunds
		}
		return nil, err
	}

	payment.Status = models.PaymentStatusPaid

	// System-wallet credit is the compensated second half: no 2PC
	// across wallets, a permanent miss gets flagged and retried.
	if serr := s.creditSystemForFee(payment); serr != nil {
		log.Printf("System credit failed for payment %d: %v", payment.ID, serr)
		if uerr := s.Records.MarkUnreconciled(payment.ID); uerr != nil {
			log.Printf("Failed to flag payment %d unreconciled: %v", payment.ID, uerr)
		}
		s.raiseAlert(payment.ID, serr.Error())
	}

	s.publishEvent(payment, models.PaymentStatusPaid)
	return &WalletPayResult{Success: true, Message: "Payment successful", TransactionID: trxNo}, nil
}

func (s *PaymentService) creditSystemForFee(payment *models.Payment) error {
	system, err := s.Wallets.SystemWallet()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerPostFailure, err)
	}
	posted, err := s.Ledger.HasPostFor(system.ID, payment.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerPostFailure, err)
	}
	if posted {
		return nil
	}
	desc := fmt.Sprintf("%s from payer %d ref %s", payment.Purpose, payment.PayerID, payment.ExternalRef)
	if _, err := s.Ledger.Post(nil, system.ID, payment.Amount, models.TrxTypePayment, desc, &payment.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerPostFailure, err)
	}
	return nil
}

// RetryLedgerPost re-runs the ledger settlement for a Paid payment
// under the same idempotency guards, then clears the flag.
func (s *PaymentService) RetryLedgerPost(payment *models.Payment) error {
	var err error
	if payment.Method == models.PaymentMethodWallet {
		err = s.creditSystemForFee(payment)
	} else {
		err = s.settleLedger(payment)
	}
	if err != nil {
		return err
	}
	return s.Records.MarkReconciled(payment.ID)
}

func (s *PaymentService) logCallback(rawParams url.Values, message string, status int, trxRef string) {
	reqBytes, _ := json.Marshal(rawParams)
	entry := models.CallbackLog{
		Request:       string(reqBytes),
		Response:      message,
		Status:        status,
		RequestType:   "IPN",
		TransactionID: trxRef,
		PaymentMethod: "VNPay",
	}
	if err := s.DB.Create(&entry).Error; err != nil {
		log.Printf("Failed to write callback log: %v", err)
	}
}

func (s *PaymentService) publishEvent(payment *models.Payment, status string) {
	if s.Client == nil {
		return
	}
	payload, err := json.Marshal(PaymentEventPayload{
		PaymentID: payment.ID,
		Purpose:   payment.Purpose,
		Status:    status,
		Amount:    payment.Amount,
		PayerID:   payment.PayerID,
		Email:     payment.PayerEmail,
	})
	if err != nil {
		return
	}
	task := asynq.NewTask(TypePaymentEvent, payload)
	if _, err := s.Client.Enqueue(task); err != nil {
		// Fire and forget: delivery is the notification service's
		// concern, a miss here must not fail the payment.
		log.Printf("Failed to enqueue payment event for %d: %v", payment.ID, err)
	}
}

func (s *PaymentService) raiseAlert(paymentID uint, reason string) {
	if s.Client == nil {
		return
	}
	payload, err := json.Marshal(LedgerAlertPayload{PaymentID: paymentID, Reason: reason})
	if err != nil {
		return
	}
	task := asynq.NewTask(TypeLedgerAlert, payload)
	if _, err := s.Client.Enqueue(task, asynq.Queue("critical")); err != nil {
		log.Printf("Failed to enqueue ledger alert for %d: %v", paymentID, err)
	}
}
