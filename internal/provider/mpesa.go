package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/example/storefront/internal/models"
)

const (
	mpesaTimestampLayout = "20060102150405"
	mpesaTokenLeeway     = 30 * time.Second
	// Daraja answers a status query for an unanswered STK prompt with this code.
	mpesaStillProcessingCode = "500.001.1001"
	mpesaResultSuccess       = "0"
)

// MpesaConfig holds Daraja credentials.
type MpesaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	PassKey        string
	CallbackURL    string
	// QueryRPS bounds outbound status queries per second; zero disables the limit.
	QueryRPS float64
}

// MpesaAdapter talks to the Daraja STK push and STK query APIs.
type MpesaAdapter struct {
	cfg     MpesaConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	now     func() time.Time

	tokenMu     sync.RWMutex
	token       string
	tokenExpiry time.Time
}

// NewMpesaAdapter builds an adapter; a nil client gets a 15 second timeout.
func NewMpesaAdapter(cfg MpesaConfig, client *http.Client, logger *zap.Logger) *MpesaAdapter {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.QueryRPS > 0 {
		burst := int(cfg.QueryRPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.QueryRPS), burst)
	}

	return &MpesaAdapter{
		cfg:     cfg,
		client:  client,
		limiter: limiter,
		logger:  logger,
		now:     time.Now,
	}
}

func (m *MpesaAdapter) Method() models.PaymentMethod { return models.PaymentMethodMpesa }

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
}

type darajaError struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

type darajaToken struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// Initiate sends an STK push prompt to the payer's phone.
func (m *MpesaAdapter) Initiate(ctx context.Context, req InitiateRequest) (*Handle, error) {
	phone, err := NormalizePhone(req.PhoneNumber)
	if err != nil {
		return nil, &PermanentError{Provider: models.PaymentMethodMpesa, Message: err.Error()}
	}

	timestamp := m.now().Format(mpesaTimestampLayout)
	body := stkPushRequest{
		BusinessShortCode: m.cfg.ShortCode,
		Password:          m.password(timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            req.Amount.Ceil().IntPart(),
		PartyA:            phone,
		PartyB:            m.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       m.cfg.CallbackURL,
		AccountReference:  truncate(req.Reference, 12),
		TransactionDesc:   truncate(firstNonEmpty(req.Description, "Order "+req.Reference), 13),
	}

	status, raw, err := m.post(ctx, "/mpesa/stkpush/v1/processrequest", body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, m.classifyHTTP(status, raw)
	}

	var resp stkPushResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &TransientError{Provider: models.PaymentMethodMpesa, Err: fmt.Errorf("decode stk push response: %w", err)}
	}
	if resp.ResponseCode != mpesaResultSuccess || resp.CheckoutRequestID == "" {
		return nil, &PermanentError{Provider: models.PaymentMethodMpesa, Code: resp.ResponseCode, Message: resp.ResponseDescription}
	}

	return &Handle{
		Reference:         resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		CustomerMessage:   resp.CustomerMessage,
	}, nil
}

// QueryStatus asks Daraja for the result of an STK push.
func (m *MpesaAdapter) QueryStatus(ctx context.Context, checkoutRequestID string) (*StatusResult, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, &TransientError{Provider: models.PaymentMethodMpesa, Err: err}
	}

	timestamp := m.now().Format(mpesaTimestampLayout)
	body := stkQueryRequest{
		BusinessShortCode: m.cfg.ShortCode,
		Password:          m.password(timestamp),
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}

	status, raw, err := m.post(ctx, "/mpesa/stkpushquery/v1/query", body)
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK {
		var derr darajaError
		if json.Unmarshal(raw, &derr) == nil && derr.ErrorCode == mpesaStillProcessingCode {
			return &StatusResult{Outcome: OutcomeProcessing, Code: derr.ErrorCode, Description: derr.ErrorMessage}, nil
		}
		return nil, m.classifyHTTP(status, raw)
	}

	var resp stkQueryResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &TransientError{Provider: models.PaymentMethodMpesa, Err: fmt.Errorf("decode stk query response: %w", err)}
	}
	return interpretResultCode(resp.ResultCode, resp.ResultDesc), nil
}

// interpretResultCode maps a Daraja ResultCode: "0" is paid, any other code is a failure,
// and a missing code means the prompt has not been answered yet.
func interpretResultCode(code, desc string) *StatusResult {
	code = strings.TrimSpace(code)
	switch code {
	case "":
		return &StatusResult{Outcome: OutcomeProcessing, Description: desc}
	case mpesaResultSuccess:
		return &StatusResult{Outcome: OutcomeSucceeded, Code: code, Description: desc}
	default:
		return &StatusResult{Outcome: OutcomeFailed, Code: code, Description: desc}
	}
}

func (m *MpesaAdapter) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(m.cfg.ShortCode + m.cfg.PassKey + timestamp))
}

// post sends an authorized JSON request, refreshing the token once on 401.
func (m *MpesaAdapter) post(ctx context.Context, path string, body any) (int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("mpesa marshal: %w", err)
	}

	token, err := m.accessToken(ctx, false)
	if err != nil {
		return 0, nil, err
	}

	status, raw, err := m.do(ctx, path, payload, token)
	if err != nil {
		return 0, nil, err
	}

	if status == http.StatusUnauthorized {
		token, err = m.accessToken(ctx, true)
		if err != nil {
			return 0, nil, err
		}
		return m.do(ctx, path, payload, token)
	}
	return status, raw, nil
}

func (m *MpesaAdapter) do(ctx context.Context, path string, payload []byte, token string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("mpesa request build: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, nil, &TransientError{Provider: models.PaymentMethodMpesa, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &TransientError{Provider: models.PaymentMethodMpesa, Err: err}
	}
	return resp.StatusCode, raw, nil
}

func (m *MpesaAdapter) accessToken(ctx context.Context, force bool) (string, error) {
	if !force {
		m.tokenMu.RLock()
		if m.token != "" && m.now().Before(m.tokenExpiry) {
			t := m.token
			m.tokenMu.RUnlock()
			return t, nil
		}
		m.tokenMu.RUnlock()
	}

	m.tokenMu.Lock()
	defer m.tokenMu.Unlock()

	if !force && m.token != "" && m.now().Before(m.tokenExpiry) {
		return m.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		m.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", fmt.Errorf("mpesa auth request build: %w", err)
	}
	req.SetBasicAuth(m.cfg.ConsumerKey, m.cfg.ConsumerSecret)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", &TransientError{Provider: models.PaymentMethodMpesa, Err: fmt.Errorf("auth request: %w", err)}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", m.classifyHTTP(resp.StatusCode, raw)
	}

	var tok darajaToken
	if err := json.Unmarshal(raw, &tok); err != nil {
		return "", &TransientError{Provider: models.PaymentMethodMpesa, Err: fmt.Errorf("auth decode: %w", err)}
	}
	if tok.AccessToken == "" {
		return "", &PermanentError{Provider: models.PaymentMethodMpesa, Message: "empty access token"}
	}

	m.token = tok.AccessToken
	ttl := 55 * time.Minute
	if secs, err := strconv.Atoi(tok.ExpiresIn); err == nil && secs > 0 {
		ttl = time.Duration(secs)*time.Second - mpesaTokenLeeway
	}
	m.tokenExpiry = m.now().Add(ttl)

	return m.token, nil
}

func (m *MpesaAdapter) classifyHTTP(status int, raw []byte) error {
	var derr darajaError
	_ = json.Unmarshal(raw, &derr)
	msg := derr.ErrorMessage
	if msg == "" {
		msg = truncate(string(raw), 256)
	}

	if status == http.StatusTooManyRequests || status >= 500 {
		if m.logger != nil {
			m.logger.Warn("mpesa upstream error", zap.Int("status", status), zap.String("error_code", derr.ErrorCode))
		}
		return &TransientError{
			Provider: models.PaymentMethodMpesa,
			Err:      fmt.Errorf("status %d: %s", status, msg),
		}
	}
	return &PermanentError{Provider: models.PaymentMethodMpesa, Code: derr.ErrorCode, Message: msg}
}

// NormalizePhone converts local Kenyan formats (07.., 01.., +254..) to 2547XXXXXXXX.
func NormalizePhone(phone string) (string, error) {
	p := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(phone))
	p = strings.TrimPrefix(p, "+")
	if strings.HasPrefix(p, "0") && len(p) == 10 {
		p = "254" + p[1:]
	}
	if len(p) != 12 || !strings.HasPrefix(p, "254") {
		return "", errors.New("phone number must be a 12 digit 254XXXXXXXXX number")
	}
	for _, r := range p {
		if r < '0' || r > '9' {
			return "", errors.New("phone number must contain digits only")
		}
	}
	return p, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
