// Package vnpay implements the redirect payment gateway.
//
// The guest is redirected to the gateway with a signed request. The gateway
// redirects the guest back and separately calls the IPN endpoint; both
// carry the same signed parameter set. Transactions that never got an IPN
// can be looked up with QueryTransaction.
package vnpay

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/homestay/internal/logger"
	"github.com/nkiryanov/homestay/internal/models"
)

const (
	defaultPayURL  = "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"
	defaultAPIURL  = "https://sandbox.vnpayment.vn/merchant_webapi/api/transaction"
	defaultVersion = "2.1.0"
	defaultExpire  = 15 * time.Minute

	SuccessCode = "00"

	paramSecureHash     = "vnp_SecureHash"
	paramSecureHashType = "vnp_SecureHashType"

	// Layout of every date the gateway sends or receives, always GMT+7
	timeLayout = "20060102150405"

	// Separates booking id from the attempt timestamp in vnp_TxnRef
	refSeparator = "_"
)

var (
	ErrInvalidCallback = errors.New("invalid callback parameters")

	// Gateway works in Vietnam time regardless of server timezone
	gatewayLocation = time.FixedZone("GMT+7", 7*60*60)

	validate = validator.New()
)

type Config struct {
	TmnCode    string
	HashSecret string

	PayURL    string
	APIURL    string
	ReturnURL string

	// Address reported to the gateway for server initiated queries
	ServerIP string

	ExpireAfter time.Duration
	Now         func() time.Time
}

type Adapter struct {
	tmnCode     string
	hashSecret  []byte
	payURL      string
	apiURL      string
	returnURL   string
	serverIP    string
	expireAfter time.Duration
	now         func() time.Time

	client *Client
}

func New(cfg Config, l logger.Logger) (*Adapter, error) {
	if cfg.TmnCode == "" || cfg.HashSecret == "" {
		return nil, errors.New("vnpay: terminal code and hash secret are required")
	}
	if cfg.PayURL == "" {
		cfg.PayURL = defaultPayURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if cfg.ServerIP == "" {
		cfg.ServerIP = "127.0.0.1"
	}
	if cfg.ExpireAfter == 0 {
		cfg.ExpireAfter = defaultExpire
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	a := &Adapter{
		tmnCode:     cfg.TmnCode,
		hashSecret:  []byte(cfg.HashSecret),
		payURL:      cfg.PayURL,
		apiURL:      cfg.APIURL,
		returnURL:   cfg.ReturnURL,
		serverIP:    cfg.ServerIP,
		expireAfter: cfg.ExpireAfter,
		now:         cfg.Now,
	}
	a.client = newClient(a, l)

	return a, nil
}

type Payable struct {
	RedirectURL string
	Reference   string
	Amount      decimal.Decimal
	CreatedAt   time.Time
}

// BuildPayable returns signed redirect URL for the booking.
// Every call produces a new reference so the guest may retry payment.
func (a *Adapter) BuildPayable(bookingID string, amount decimal.Decimal, clientIP string) (Payable, error) {
	if !amount.IsPositive() {
		return Payable{}, fmt.Errorf("vnpay: amount must be positive, got %s", amount)
	}

	now := a.now().In(gatewayLocation)
	ref := bookingID + refSeparator + now.Format(timeLayout)

	params := url.Values{}
	params.Set("vnp_Version", defaultVersion)
	params.Set("vnp_Command", "pay")
	params.Set("vnp_TmnCode", a.tmnCode)
	params.Set("vnp_Amount", toMinorUnits(amount))
	params.Set("vnp_CurrCode", "VND")
	params.Set("vnp_TxnRef", ref)
	params.Set("vnp_OrderInfo", "Thanh toan dat phong "+bookingID)
	params.Set("vnp_OrderType", "other")
	params.Set("vnp_Locale", "vn")
	params.Set("vnp_ReturnUrl", a.returnURL)
	params.Set("vnp_IpAddr", clientIP)
	params.Set("vnp_CreateDate", now.Format(timeLayout))
	params.Set("vnp_ExpireDate", now.Add(a.expireAfter).Format(timeLayout))

	query := canonicalQuery(params)
	signature := a.sign(query)

	return Payable{
		RedirectURL: a.payURL + "?" + query + "&" + paramSecureHash + "=" + signature,
		Reference:   ref,
		Amount:      amount,
		CreatedAt:   now,
	}, nil
}

// VerifyCallback recomputes signature over every vnp_ parameter except the hash itself.
// Missing or malformed signature fails verification.
func (a *Adapter) VerifyCallback(params url.Values) bool {
	got := params.Get(paramSecureHash)
	if got == "" {
		return false
	}

	signed := url.Values{}
	for k, v := range params {
		if k == paramSecureHash || k == paramSecureHashType {
			continue
		}
		if !strings.HasPrefix(k, "vnp_") || len(v) == 0 {
			continue
		}
		signed.Set(k, v[0])
	}

	return hmacEqual(a.sign(canonicalQuery(signed)), got)
}

// ParseOrderReference extracts booking id from vnp_TxnRef
func ParseOrderReference(ref string) (bookingID string, ok bool) {
	bookingID, _, found := strings.Cut(ref, refSeparator)
	if !found || bookingID == "" {
		return "", false
	}
	return bookingID, true
}

func IsSuccess(responseCode string) bool {
	return responseCode == SuccessCode
}

// Callback is the parameter set of return redirect and IPN call
type Callback struct {
	TxnRef            string `validate:"required"`
	Amount            string `validate:"required,numeric"`
	ResponseCode      string `validate:"required"`
	TransactionStatus string
	TransactionNo     string
	BankCode          string
	PayDate           string
	TmnCode           string `validate:"required"`
}

func ParseCallback(params url.Values) (Callback, error) {
	c := Callback{
		TxnRef:            params.Get("vnp_TxnRef"),
		Amount:            params.Get("vnp_Amount"),
		ResponseCode:      params.Get("vnp_ResponseCode"),
		TransactionStatus: params.Get("vnp_TransactionStatus"),
		TransactionNo:     params.Get("vnp_TransactionNo"),
		BankCode:          params.Get("vnp_BankCode"),
		PayDate:           params.Get("vnp_PayDate"),
		TmnCode:           params.Get("vnp_TmnCode"),
	}

	if err := validate.Struct(c); err != nil {
		return c, fmt.Errorf("%w: %w", ErrInvalidCallback, err)
	}

	return c, nil
}

// Success reports whether the gateway charged the payer
func (c Callback) Success() bool {
	return IsSuccess(c.ResponseCode) && (c.TransactionStatus == "" || c.TransactionStatus == SuccessCode)
}

// Outcome verifies and parses callback parameters.
// Returned outcome is unverified if signature check failed or terminal code is foreign.
func (a *Adapter) Outcome(params url.Values) (models.PaymentOutcome, Callback, error) {
	c, err := ParseCallback(params)
	if err != nil {
		return models.PaymentOutcome{}, c, err
	}

	bookingID, ok := ParseOrderReference(c.TxnRef)
	if !ok {
		return models.PaymentOutcome{}, c, fmt.Errorf("%w: malformed order reference %q", ErrInvalidCallback, c.TxnRef)
	}

	amount, err := fromMinorUnits(c.Amount)
	if err != nil {
		return models.PaymentOutcome{}, c, fmt.Errorf("%w: %w", ErrInvalidCallback, err)
	}

	return models.PaymentOutcome{
		BookingReference: bookingID,
		AmountReceived:   amount,
		Verified:         a.VerifyCallback(params) && c.TmnCode == a.tmnCode,
		Gateway:          models.GatewayVNPay,
		TransactionID:    c.TransactionNo,
		Code:             c.ResponseCode,
	}, c, nil
}

func (a *Adapter) sign(data string) string {
	mac := hmac.New(sha512.New, a.hashSecret)
	mac.Write([]byte(data)) // nolint:errcheck
	return hex.EncodeToString(mac.Sum(nil))
}

// Gateway may send hex digest in upper case
func hmacEqual(want, got string) bool {
	return hmac.Equal([]byte(want), []byte(strings.ToLower(got)))
}

// Parameters sorted by key, values url encoded. Empty values are skipped.
func canonicalQuery(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if params.Get(k) == "" {
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
		b.WriteString(url.QueryEscape(params.Get(k)))
	}
	return b.String()
}

// Gateway amounts are integers, hundredths of VND
func toMinorUnits(amount decimal.Decimal) string {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).String()
}

func fromMinorUnits(value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	return d.Div(decimal.NewFromInt(100)), nil
}
