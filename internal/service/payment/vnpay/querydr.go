package vnpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/homestay/internal/logger"
)

const (
	CodeRetryAfter       = "retry-after"
	CodeNotFound         = "not-found"
	CodeInvalidSignature = "invalid-signature"
	CodeUnknown          = "unknown"

	// Gateway response codes of the query API
	queryNotFound         = "91"
	queryInvalidSignature = "97"

	defaultRetryAfter = 60 // seconds
)

type QueryError struct {
	Code string

	RetryAfter time.Duration
	Err        error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("code: %s, retry_after: %s, error: %v", e.Code, e.RetryAfter, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

func NewQueryError(code string, retryAfter int, err error) *QueryError {
	return &QueryError{
		Code:       code,
		RetryAfter: time.Duration(retryAfter) * time.Second,
		Err:        err,
	}
}

// Transaction is the gateway view of a payment attempt
type Transaction struct {
	TxnRef            string
	Amount            decimal.Decimal
	ResponseCode      string
	TransactionStatus string
	TransactionNo     string
	BankCode          string
	PayDate           string
}

func (t Transaction) Success() bool {
	return IsSuccess(t.ResponseCode) && IsSuccess(t.TransactionStatus)
}

type queryRequest struct {
	RequestID       string `json:"vnp_RequestId"`
	Version         string `json:"vnp_Version"`
	Command         string `json:"vnp_Command"`
	TmnCode         string `json:"vnp_TmnCode"`
	TxnRef          string `json:"vnp_TxnRef"`
	OrderInfo       string `json:"vnp_OrderInfo"`
	TransactionDate string `json:"vnp_TransactionDate"`
	CreateDate      string `json:"vnp_CreateDate"`
	IPAddr          string `json:"vnp_IpAddr"`
	SecureHash      string `json:"vnp_SecureHash"`
}

type queryResponse struct {
	ResponseID        string      `json:"vnp_ResponseId"`
	Command           string      `json:"vnp_Command"`
	ResponseCode      string      `json:"vnp_ResponseCode"`
	Message           string      `json:"vnp_Message"`
	TmnCode           string      `json:"vnp_TmnCode"`
	TxnRef            string      `json:"vnp_TxnRef"`
	Amount            json.Number `json:"vnp_Amount"`
	BankCode          string      `json:"vnp_BankCode"`
	PayDate           string      `json:"vnp_PayDate"`
	TransactionNo     string      `json:"vnp_TransactionNo"`
	TransactionType   string      `json:"vnp_TransactionType"`
	TransactionStatus string      `json:"vnp_TransactionStatus"`
	OrderInfo         string      `json:"vnp_OrderInfo"`
	PromotionCode     string      `json:"vnp_PromotionCode"`
	PromotionAmount   json.Number `json:"vnp_PromotionAmount"`
	SecureHash        string      `json:"vnp_SecureHash"`
}

func (r queryResponse) signedData() string {
	return strings.Join([]string{
		r.ResponseID, r.Command, r.ResponseCode, r.Message, r.TmnCode, r.TxnRef,
		r.Amount.String(), r.BankCode, r.PayDate, r.TransactionNo, r.TransactionType,
		r.TransactionStatus, r.OrderInfo, r.PromotionCode, r.PromotionAmount.String(),
	}, "|")
}

// Client queries transaction state from the gateway merchant API
type Client struct {
	adapter *Adapter

	client *http.Client
	logger logger.Logger
}

func newClient(a *Adapter, l logger.Logger) *Client {
	return &Client{
		adapter: a,
		client:  &http.Client{},
		logger:  l,
	}
}

// QueryTransaction asks the gateway for the state of a payment attempt.
// createdAt is the time the attempt was built (vnp_CreateDate of the pay request).
func (a *Adapter) QueryTransaction(ctx context.Context, txnRef string, createdAt time.Time) (Transaction, error) {
	return a.client.query(ctx, txnRef, createdAt)
}

func (c *Client) query(ctx context.Context, txnRef string, createdAt time.Time) (Transaction, error) {
	a := c.adapter

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req := queryRequest{
		RequestID:       strings.ReplaceAll(uuid.NewString(), "-", ""),
		Version:         defaultVersion,
		Command:         "querydr",
		TmnCode:         a.tmnCode,
		TxnRef:          txnRef,
		OrderInfo:       "Truy van giao dich " + txnRef,
		TransactionDate: createdAt.In(gatewayLocation).Format(timeLayout),
		CreateDate:      a.now().In(gatewayLocation).Format(timeLayout),
		IPAddr:          a.serverIP,
	}
	req.SecureHash = a.sign(strings.Join([]string{
		req.RequestID, req.Version, req.Command, req.TmnCode, req.TxnRef,
		req.TransactionDate, req.CreateDate, req.IPAddr, req.OrderInfo,
	}, "|"))

	body, err := json.Marshal(req)
	if err != nil {
		return Transaction{}, NewQueryError(CodeUnknown, 0, fmt.Errorf("failed to encode request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiURL, bytes.NewReader(body))
	if err != nil {
		return Transaction{}, NewQueryError(CodeUnknown, 0, fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Transaction{}, NewQueryError(CodeUnknown, 0, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close() // nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
		return c.processSuccess(resp, txnRef)
	case http.StatusTooManyRequests:
		return c.processTooManyRequests(resp)
	default:
		c.logger.Warn("Failed to query transaction", "status_code", resp.StatusCode, "txn_ref", txnRef)
		return Transaction{}, NewQueryError(CodeUnknown, 0, fmt.Errorf("unknown status code %d for transaction %s", resp.StatusCode, txnRef))
	}
}

func (c *Client) processSuccess(resp *http.Response, txnRef string) (Transaction, error) {
	var r queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		c.logger.Warn("Failed to decode response", "error", err)
		return Transaction{}, NewQueryError(CodeUnknown, 0, fmt.Errorf("failed to decode response: %w", err))
	}

	switch r.ResponseCode {
	case queryNotFound:
		return Transaction{}, NewQueryError(CodeNotFound, 0, fmt.Errorf("transaction %s not found", txnRef))
	case queryInvalidSignature:
		return Transaction{}, NewQueryError(CodeInvalidSignature, 0, fmt.Errorf("gateway rejected request signature"))
	case SuccessCode:
	default:
		return Transaction{}, NewQueryError(CodeUnknown, 0, fmt.Errorf("gateway response code %s: %s", r.ResponseCode, r.Message))
	}

	want := c.adapter.sign(r.signedData())
	if !hmacEqual(want, r.SecureHash) {
		c.logger.Error("Query response signature mismatch", "txn_ref", txnRef)
		return Transaction{}, NewQueryError(CodeInvalidSignature, 0, fmt.Errorf("response signature mismatch for %s", txnRef))
	}
	if r.TxnRef != txnRef {
		return Transaction{}, NewQueryError(CodeUnknown, 0, fmt.Errorf("response for %s, want %s", r.TxnRef, txnRef))
	}

	amount, err := fromMinorUnits(r.Amount.String())
	if err != nil {
		return Transaction{}, NewQueryError(CodeUnknown, 0, err)
	}

	c.logger.Debug("Query response", "txn_ref", r.TxnRef, "status", r.TransactionStatus, "amount", amount)

	return Transaction{
		TxnRef:            r.TxnRef,
		Amount:            amount,
		ResponseCode:      r.ResponseCode,
		TransactionStatus: r.TransactionStatus,
		TransactionNo:     r.TransactionNo,
		BankCode:          r.BankCode,
		PayDate:           r.PayDate,
	}, nil
}

func (c *Client) processTooManyRequests(resp *http.Response) (Transaction, error) {
	header := resp.Header.Get("Retry-After")
	retryAfter, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || retryAfter <= 0 {
		retryAfter = defaultRetryAfter
	}

	c.logger.Warn("Gateway throttled", "retry_after", retryAfter)
	return Transaction{}, NewQueryError(CodeRetryAfter, retryAfter, fmt.Errorf("retry after %d seconds", retryAfter))
}
