package services

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"coffee-payment-service/internal/models"
)

// VnpayConfig holds the terminal credentials issued by VNPay.
type VnpayConfig struct {
	TmnCode    string
	HashSecret string
	BaseURL    string
}

// VnpayService builds signed checkout URLs and verifies inbound IPNs
// per the VNPay pay v2.1.0 contract: parameters sorted alphabetically,
// URL-encoded, HMAC-SHA512 over the canonical string, hash carried in
// vnp_SecureHash.
type VnpayService struct {
	Config VnpayConfig
}

func NewVnpayService() *VnpayService {
	return &VnpayService{
		Config: VnpayConfig{
			TmnCode:    os.Getenv("VNPAY_TMN_CODE"),
			HashSecret: os.Getenv("VNPAY_HASH_SECRET"),
			BaseURL:    os.Getenv("VNPAY_BASE_URL"),
		},
	}
}

func NewVnpayServiceWithConfig(cfg VnpayConfig) *VnpayService {
	return &VnpayService{Config: cfg}
}

const vnpayTimeLayout = "20060102150405"

// NotificationResult is the normalized outcome of a verified IPN.
type NotificationResult struct {
	Success      bool
	ExternalRef  string
	GatewayTxnNo string
	Amount       float64
	ResponseCode string
	BankCode     string
	PayDate      time.Time
}

// BuildCheckoutURL constructs the outbound redirect for a payment.
// Deterministic for fixed inputs so the gateway can verify it
// independently.
func (s *VnpayService) BuildCheckoutURL(payment *models.Payment, returnURL, locale, clientIP string, now time.Time) (string, error) {
	if payment.ExternalRef == "" {
		return "", fmt.Errorf("payment %d has no external reference", payment.ID)
	}
	if locale == "" {
		locale = "vn"
	}

	params := map[string]string{
		"vnp_Version":    "2.1.0",
		"vnp_Command":    "pay",
		"vnp_TmnCode":    s.Config.TmnCode,
		"vnp_Amount":     strconv.FormatInt(int64(payment.Amount*100), 10),
		"vnp_CurrCode":   "VND",
		"vnp_TxnRef":     payment.ExternalRef,
		"vnp_OrderInfo":  fmt.Sprintf("%s payment %d", payment.Purpose, payment.ID),
		"vnp_OrderType":  "other",
		"vnp_Locale":     locale,
		"vnp_ReturnUrl":  returnURL,
		"vnp_IpAddr":     clientIP,
		"vnp_CreateDate": now.Format(vnpayTimeLayout),
		"vnp_ExpireDate": now.Add(15 * time.Minute).Format(vnpayTimeLayout),
	}

	canonical := canonicalQuery(params)
	secureHash := s.sign(canonical)

	return fmt.Sprintf("%s?%s&vnp_SecureHash=%s", s.Config.BaseURL, canonical, secureHash), nil
}

// ParseNotification verifies the signature on a raw IPN parameter set
// and normalizes it. No field is trusted before the hash checks out:
// a mismatch returns ErrInvalidSignature, which callers must keep
// distinct from a legitimate failed payment.
func (s *VnpayService) ParseNotification(rawParams url.Values) (*NotificationResult, error) {
	receivedHash := rawParams.Get("vnp_SecureHash")
	if receivedHash == "" {
		return nil, ErrInvalidSignature
	}

	params := make(map[string]string)
	for key := range rawParams {
		if key == "vnp_SecureHash" || key == "vnp_SecureHashType" {
			continue
		}
		if strings.HasPrefix(key, "vnp_") {
			params[key] = rawParams.Get(key)
		}
	}

	expected := s.sign(canonicalQuery(params))
	if !hmac.Equal([]byte(strings.ToLower(receivedHash)), []byte(expected)) {
		return nil, ErrInvalidSignature
	}

	amountRaw, err := strconv.ParseInt(rawParams.Get("vnp_Amount"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid vnp_Amount: %w", err)
	}

	responseCode := rawParams.Get("vnp_ResponseCode")
	trxStatus := rawParams.Get("vnp_TransactionStatus")
	success := responseCode == "00" && (trxStatus == "" || trxStatus == "00")

	result := &NotificationResult{
		Success:      success,
		ExternalRef:  rawParams.Get("vnp_TxnRef"),
		GatewayTxnNo: rawParams.Get("vnp_TransactionNo"),
		Amount:       float64(amountRaw) / 100,
		ResponseCode: responseCode,
		BankCode:     rawParams.Get("vnp_BankCode"),
	}
	if payDate := rawParams.Get("vnp_PayDate"); payDate != "" {
		if t, perr := time.ParseInLocation(vnpayTimeLayout, payDate, time.Local); perr == nil {
			result.PayDate = t
		}
	}
	return result, nil
}

// canonicalQuery renders params as sorted, URL-encoded key=value pairs
// joined by ampersands. This exact string is what gets signed.
func canonicalQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}

func (s *VnpayService) sign(data string) string {
	mac := hmac.New(sha512.New, []byte(s.Config.HashSecret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}
