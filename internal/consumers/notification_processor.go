package consumers

import (
	"encoding/json"
	"log"
	"os"

	"coffee-payment-service/internal/models"
	"coffee-payment-service/pkg/common"

	"gorm.io/gorm"
)

func notificationServiceURL() string {
	return os.Getenv("NOTIFICATION_SERVICE_URL")
}

// NotificationProcessor consumes the fire-and-forget payment events
// and reconciliation alerts. Outbound delivery goes to the external
// notification service; failures here never touch payment state.
type NotificationProcessor struct {
	DB *gorm.DB
}

func NewNotificationProcessor(db *gorm.DB) *NotificationProcessor {
	return &NotificationProcessor{DB: db}
}

type PaymentEventDTO struct {
	PaymentID uint    `json:"paymentId"`
	Purpose   string  `json:"purpose"`
	Status    string  `json:"status"`
	Amount    float64 `json:"amount"`
	PayerID   int     `json:"payerId"`
	Email     string  `json:"email"`
}

type LedgerAlertDTO struct {
	PaymentID uint   `json:"paymentId"`
	Reason    string `json:"reason"`
}

// ProcessPaymentEvent forwards a payment outcome to the notification
// service.
func (p *NotificationProcessor) ProcessPaymentEvent(data PaymentEventDTO) {
	notifyURL := notificationServiceURL()
	if notifyURL == "" {
		log.Printf("Payment event for %d (no notification service configured): %s %s", data.PaymentID, data.Purpose, data.Status)
		return
	}

	payload := map[string]interface{}{
		"type":      "payment",
		"paymentId": data.PaymentID,
		"purpose":   data.Purpose,
		"status":    data.Status,
		"amount":    data.Amount,
		"email":     data.Email,
	}
	if _, err := common.Post(notifyURL+"/notifications", payload, nil); err != nil {
		log.Printf("Failed to deliver payment event for %d: %v", data.PaymentID, err)
	}
}

// ProcessLedgerAlert surfaces a reconciliation alert to operators. The
// payment stays Paid-Unreconciled until the reconciliation job closes
// it, so the alert must be loud.
func (p *NotificationProcessor) ProcessLedgerAlert(data LedgerAlertDTO) {
	log.Printf("RECONCILIATION ALERT: payment %d ledger-inconsistent: %s", data.PaymentID, data.Reason)

	var payment models.Payment
	if err := p.DB.First(&payment, data.PaymentID).Error; err == nil {
		detail, _ := json.Marshal(map[string]interface{}{
			"paymentId": payment.ID,
			"status":    payment.Status,
			"ledger":    payment.LedgerState,
			"reason":    data.Reason,
		})
		entry := models.CallbackLog{
			Request:       string(detail),
			Response:      "Ledger alert raised",
			Status:        models.CallbackStatusFailed,
			RequestType:   "LedgerAlert",
			TransactionID: payment.ExternalRef,
			PaymentMethod: payment.Method,
		}
		if err := p.DB.Create(&entry).Error; err != nil {
			log.Printf("Failed to persist ledger alert for %d: %v", data.PaymentID, err)
		}
	}

	notifyURL := notificationServiceURL()
	if notifyURL == "" {
		return
	}
	payload := map[string]interface{}{
		"type":      "ledger-alert",
		"paymentId": data.PaymentID,
		"reason":    data.Reason,
	}
	if _, err := common.Post(notifyURL+"/alerts", payload, nil); err != nil {
		log.Printf("Failed to deliver ledger alert for %d: %v", data.PaymentID, err)
	}
}
