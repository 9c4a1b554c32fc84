package services

import (
	"errors"
	"net/url"
	"strconv"
	"testing"
	"time"

	"coffee-payment-service/internal/models"

	"github.com/stretchr/testify/assert"
)

func testVnpayService() *VnpayService {
	return NewVnpayServiceWithConfig(VnpayConfig{
		TmnCode:    "TESTTMN1",
		HashSecret: "SECRETSECRETSECRETSECRET",
		BaseURL:    "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
	})
}

func signedNotification(svc *VnpayService, ref string, amount float64, responseCode string) url.Values {
	params := map[string]string{
		"vnp_TmnCode":           svc.Config.TmnCode,
		"vnp_TxnRef":            ref,
		"vnp_Amount":            strconv.FormatInt(int64(amount*100), 10),
		"vnp_ResponseCode":      responseCode,
		"vnp_TransactionStatus": responseCode,
		"vnp_TransactionNo":     "14226112",
		"vnp_BankCode":          "NCB",
		"vnp_PayDate":           "20250301101530",
		"vnp_OrderInfo":         "PlanPostingFee payment 1",
	}

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	values.Set("vnp_SecureHash", svc.sign(canonicalQuery(params)))
	return values
}

func TestBuildCheckoutURL(t *testing.T) {
	svc := testVnpayService()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.Local)

	payment := &models.Payment{
		ID:          42,
		Purpose:     models.PurposePlanPostingFee,
		Amount:      50000,
		ExternalRef: "20250301100000ABC1234",
	}

	u, err := svc.BuildCheckoutURL(payment, "https://app.example.com/return", "vn", "203.0.113.7", now)
	assert.Nil(t, err)

	parsed, err := url.Parse(u)
	assert.Nil(t, err)

	q := parsed.Query()
	assert.Equal(t, "2.1.0", q.Get("vnp_Version"))
	assert.Equal(t, "pay", q.Get("vnp_Command"))
	assert.Equal(t, "5000000", q.Get("vnp_Amount")) // x100 per gateway contract
	assert.Equal(t, "20250301100000ABC1234", q.Get("vnp_TxnRef"))
	assert.Equal(t, "VND", q.Get("vnp_CurrCode"))
	assert.Equal(t, "20250301100000", q.Get("vnp_CreateDate"))
	assert.NotEmpty(t, q.Get("vnp_SecureHash"))

	// Deterministic for fixed inputs
	u2, err := svc.BuildCheckoutURL(payment, "https://app.example.com/return", "vn", "203.0.113.7", now)
	assert.Nil(t, err)
	assert.Equal(t, u, u2)

	// The signature over the URL's own parameters must verify
	params := make(map[string]string)
	for key := range q {
		if key == "vnp_SecureHash" {
			continue
		}
		params[key] = q.Get(key)
	}
	assert.Equal(t, q.Get("vnp_SecureHash"), svc.sign(canonicalQuery(params)))
}

func TestBuildCheckoutURL_MissingRef(t *testing.T) {
	svc := testVnpayService()
	payment := &models.Payment{ID: 1, Amount: 50000}

	_, err := svc.BuildCheckoutURL(payment, "https://app.example.com/return", "", "127.0.0.1", time.Now())
	assert.NotNil(t, err)
}

func TestParseNotification_Success(t *testing.T) {
	svc := testVnpayService()
	values := signedNotification(svc, "REF123", 50000, "00")

	result, err := svc.ParseNotification(values)
	assert.Nil(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "REF123", result.ExternalRef)
	assert.Equal(t, 50000.0, result.Amount)
	assert.Equal(t, "14226112", result.GatewayTxnNo)
	assert.Equal(t, "00", result.ResponseCode)
	assert.Equal(t, 2025, result.PayDate.Year())
}

func TestParseNotification_GatewayFailure(t *testing.T) {
	svc := testVnpayService()
	values := signedNotification(svc, "REF124", 50000, "24")

	result, err := svc.ParseNotification(values)
	assert.Nil(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "24", result.ResponseCode)
}

func TestParseNotification_TamperedAmount(t *testing.T) {
	svc := testVnpayService()
	values := signedNotification(svc, "REF125", 50000, "00")

	// A valid order ref and status with a doctored amount must fail
	// signature verification, not surface as a failed payment.
	values.Set("vnp_Amount", "9900000")

	result, err := svc.ParseNotification(values)
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, ErrInvalidSignature))
}

func TestParseNotification_WrongSecret(t *testing.T) {
	svc := testVnpayService()
	values := signedNotification(svc, "REF126", 50000, "00")

	other := NewVnpayServiceWithConfig(VnpayConfig{
		TmnCode:    svc.Config.TmnCode,
		HashSecret: "ADIFFERENTSECRET",
		BaseURL:    svc.Config.BaseURL,
	})
	result, err := other.ParseNotification(values)
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, ErrInvalidSignature))
}

func TestParseNotification_MissingHash(t *testing.T) {
	svc := testVnpayService()
	values := signedNotification(svc, "REF127", 50000, "00")
	values.Del("vnp_SecureHash")

	_, err := svc.ParseNotification(values)
	assert.True(t, errors.Is(err, ErrInvalidSignature))
}
