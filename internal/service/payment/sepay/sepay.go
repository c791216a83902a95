// Package sepay implements the push-QR bank transfer gateway.
// The payer scans a QR code whose memo carries the booking reference,
// the bank then reports every incoming transfer with a webhook.
package sepay

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/homestay/internal/ids"
	"github.com/nkiryanov/homestay/internal/models"
)

const (
	DefaultPrefix    = "BK"
	defaultQRBaseURL = "https://qr.sepay.vn/img"

	TransferIn  = "in"
	TransferOut = "out"

	apiKeyScheme = "Apikey"
)

var ErrInvalidWebhook = errors.New("invalid webhook payload")

var validate = validator.New()

type Config struct {
	// Memo prefix that marks booking reference. DefaultPrefix if empty
	Prefix string

	// Receiving bank account shown in QR code
	AccountNumber string
	BankCode      string

	QRBaseURL string

	// If set, webhooks must carry "Authorization: Apikey <key>"
	APIKey string
}

type Adapter struct {
	prefix        string
	accountNumber string
	bankCode      string
	qrBaseURL     string
	apiKey        string

	// Prefix followed by a booking id (ULID) anywhere in the memo, glued text allowed
	bookingMemo *regexp.Regexp
	// Prefix at word start followed by any alphanumeric run
	wordMemo *regexp.Regexp
}

func New(cfg Config) (*Adapter, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.QRBaseURL == "" {
		cfg.QRBaseURL = defaultQRBaseURL
	}
	if _, err := url.Parse(cfg.QRBaseURL); err != nil {
		return nil, fmt.Errorf("invalid qr base url: %w", err)
	}

	prefix := regexp.QuoteMeta(cfg.Prefix)

	bookingMemo, err := regexp.Compile(`(?i)` + prefix + `([0-9a-hjkmnp-tv-z]{26})`)
	if err != nil {
		return nil, err
	}
	wordMemo, err := regexp.Compile(`(?i)\b` + prefix + `([0-9a-z]+)`)
	if err != nil {
		return nil, err
	}

	return &Adapter{
		prefix:        cfg.Prefix,
		accountNumber: cfg.AccountNumber,
		bankCode:      cfg.BankCode,
		qrBaseURL:     cfg.QRBaseURL,
		apiKey:        cfg.APIKey,
		bookingMemo:   bookingMemo,
		wordMemo:      wordMemo,
	}, nil
}

type Payable struct {
	QRURL     string
	Reference string
	Amount    decimal.Decimal
}

// BuildPayable returns QR image URL whose transfer memo is the booking reference
func (a *Adapter) BuildPayable(bookingID string, amount decimal.Decimal) Payable {
	reference := a.Reference(bookingID)

	q := url.Values{}
	q.Set("acc", a.accountNumber)
	q.Set("bank", a.bankCode)
	q.Set("amount", amount.Ceil().String())
	q.Set("des", reference)

	return Payable{
		QRURL:     a.qrBaseURL + "?" + q.Encode(),
		Reference: reference,
		Amount:    amount,
	}
}

func (a *Adapter) Reference(bookingID string) string {
	return a.prefix + bookingID
}

// ParseCallback finds booking id in free text transfer memo.
// Prefix is matched case-insensitively. Booking ids are searched first: every prefix occurrence is tried,
// banks glue digits and words to the reference. Without one, the first prefixed word is the id.
// ok is false if memo has no reference.
func (a *Adapter) ParseCallback(memo string) (bookingID string, ok bool) {
	for _, m := range a.bookingMemo.FindAllStringSubmatch(memo, -1) {
		if id, valid := ids.NormalizeBookingID(m[1]); valid {
			return id, true
		}
	}

	m := a.wordMemo.FindStringSubmatch(memo)
	if m == nil {
		return "", false
	}

	return m[1], true
}

// VerifyAPIKey checks webhook authorization header. Always true if no key configured.
func (a *Adapter) VerifyAPIKey(header string) bool {
	if a.apiKey == "" {
		return true
	}

	key, ok := strings.CutPrefix(header, apiKeyScheme+" ")
	if !ok {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(key)), []byte(a.apiKey)) == 1
}

// Transfer is the webhook body reported by the bank
type Transfer struct {
	ID              int64           `json:"id" validate:"required"`
	Gateway         string          `json:"gateway"`
	TransactionDate string          `json:"transactionDate"`
	AccountNumber   string          `json:"accountNumber"`
	Code            *string         `json:"code"`
	Content         string          `json:"content"`
	TransferType    string          `json:"transferType" validate:"required,oneof=in out"`
	TransferAmount  decimal.Decimal `json:"transferAmount"`
	Accumulated     decimal.Decimal `json:"accumulated"`
	SubAccount      *string         `json:"subAccount"`
	ReferenceCode   string          `json:"referenceCode"`
	Description     string          `json:"description"`
}

// ParseWebhook decodes and validates webhook body
func ParseWebhook(r io.Reader) (Transfer, error) {
	var t Transfer

	if err := json.NewDecoder(r).Decode(&t); err != nil {
		return t, fmt.Errorf("%w: %w", ErrInvalidWebhook, err)
	}
	if err := validate.Struct(t); err != nil {
		return t, fmt.Errorf("%w: %w", ErrInvalidWebhook, err)
	}
	if !t.TransferAmount.IsPositive() {
		return t, fmt.Errorf("%w: transfer amount must be positive", ErrInvalidWebhook)
	}

	return t, nil
}

// Outcome converts incoming transfer to payment outcome.
// ok is false for outgoing transfers and transfers without booking reference.
func (a *Adapter) Outcome(t Transfer) (models.PaymentOutcome, bool) {
	if t.TransferType != TransferIn {
		return models.PaymentOutcome{}, false
	}

	bookingID, found := "", false
	if t.Code != nil {
		bookingID, found = a.ParseCallback(*t.Code)
	}
	if !found {
		bookingID, found = a.ParseCallback(t.Content)
	}
	if !found {
		return models.PaymentOutcome{}, false
	}

	return models.PaymentOutcome{
		BookingReference: bookingID,
		AmountReceived:   t.TransferAmount,
		Verified:         true,
		Gateway:          models.GatewaySePay,
		TransactionID:    strconv.FormatInt(t.ID, 10),
	}, true
}
