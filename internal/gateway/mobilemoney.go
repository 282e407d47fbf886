package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/markjakearzadon/folio-gobackend/internal/apperr"
	"github.com/markjakearzadon/folio-gobackend/internal/config"
	"github.com/markjakearzadon/folio-gobackend/internal/models"
)

// MobileMoney sends M-Pesa STK push prompts. The payer approves on their
// phone and the provider posts the result to the callback URL.
type MobileMoney struct {
	consumerKey    string
	consumerSecret string
	shortCode      string
	passkey        string
	baseURL        string
	callbackURL    string
	phonePattern   *regexp.Regexp
	allowedIPs     map[string]bool
	client         *http.Client
	logger         *slog.Logger
	backoff        time.Duration
	now            func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewMobileMoney(cfg config.MobileMoneyConfig, logger *slog.Logger) (*MobileMoney, error) {
	pattern, err := regexp.Compile(cfg.PhonePattern)
	if err != nil {
		return nil, fmt.Errorf("compile phone pattern: %w", err)
	}
	allowed := make(map[string]bool, len(cfg.AllowedCallbackIPs))
	for _, ip := range cfg.AllowedCallbackIPs {
		allowed[ip] = true
	}
	return &MobileMoney{
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		shortCode:      cfg.ShortCode,
		passkey:        cfg.Passkey,
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		callbackURL:    cfg.CallbackURL,
		phonePattern:   pattern,
		allowedIPs:     allowed,
		client:         &http.Client{Timeout: 15 * time.Second},
		logger:         logger.With("provider", models.ProviderMobileMoney),
		backoff:        time.Second,
		now:            time.Now,
	}, nil
}

func (m *MobileMoney) Provider() models.Provider { return models.ProviderMobileMoney }

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
	ErrorCode           string `json:"errorCode"`
	ErrorMessage        string `json:"errorMessage"`
}

func (m *MobileMoney) Initiate(ctx context.Context, req InitiateRequest) (*Initiation, error) {
	const op = "mobileMoney.Initiate"
	if !m.phonePattern.MatchString(req.PhoneNumber) {
		return nil, apperr.New(apperr.InvalidInput, op, "phone number must match "+m.phonePattern.String())
	}
	if !strings.EqualFold(req.CurrencyCode, "KES") {
		return nil, apperr.New(apperr.InvalidInput, op, "mobile money payments must be in KES")
	}
	if req.Amount <= 0 {
		return nil, apperr.New(apperr.InvalidInput, op, "amount must be positive")
	}
	amount := decimal.NewFromFloat(req.Amount).Ceil().IntPart()

	token, err := m.accessToken(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.GatewayUnavailable, op, "payment provider unavailable", err)
	}

	ts := m.now().Format("20060102150405")
	reference := req.Metadata["orderId"]
	if reference == "" {
		reference = req.PayerRef
	}
	payload, err := json.Marshal(stkPushRequest{
		BusinessShortCode: m.shortCode,
		Password:          base64.StdEncoding.EncodeToString([]byte(m.shortCode + m.passkey + ts)),
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount,
		PartyA:            req.PhoneNumber,
		PartyB:            m.shortCode,
		PhoneNumber:       req.PhoneNumber,
		CallBackURL:       m.callbackURL,
		AccountReference:  truncate(reference, 12),
		TransactionDesc:   "Book purchase",
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, "encode push request", err)
	}
	m.logger.Debug("stk_push_request", "body", string(maskSensitiveFields(payload)))

	resp, err := doWithRetry(ctx, m.client, m.logger, m.backoff, func() (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/mpesa/stkpush/v1/processrequest", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Authorization", "Bearer "+token)
		r.Header.Set("Content-Type", "application/json")
		return r, nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.GatewayUnavailable, op, "payment provider unavailable", err)
	}
	defer resp.Body.Close()

	var out stkPushResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, apperr.Wrap(apperr.GatewayUnavailable, op, "unexpected payment provider response", err)
	}
	if resp.StatusCode != http.StatusOK || out.ResponseCode != "0" || out.CheckoutRequestID == "" {
		m.logger.Warn("stk_push_rejected", "status", resp.StatusCode, "response_code", out.ResponseCode,
			"error_code", out.ErrorCode, "error_message", out.ErrorMessage)
		return nil, apperr.Wrap(apperr.GatewayUnavailable, op, "payment provider rejected the request",
			fmt.Errorf("status %d code %q: %s%s", resp.StatusCode, out.ResponseCode, out.ResponseDescription, out.ErrorMessage))
	}

	meta := copyMap(req.Metadata)
	meta["merchantRequestId"] = out.MerchantRequestID
	meta["phoneNumber"] = maskPhone(req.PhoneNumber)
	return &Initiation{
		ExternalPaymentID: out.CheckoutRequestID,
		Status:            models.TransactionPending,
		Metadata:          meta,
	}, nil
}

// accessToken returns a cached OAuth token, fetching a new one when it is
// within a minute of expiring.
func (m *MobileMoney) accessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != "" && m.now().Before(m.tokenExpiry) {
		return m.token, nil
	}

	resp, err := doWithRetry(ctx, m.client, m.logger, m.backoff, func() (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
		if err != nil {
			return nil, err
		}
		r.SetBasicAuth(m.consumerKey, m.consumerSecret)
		return r, nil
	})
	if err != nil {
		return "", fmt.Errorf("fetch access token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch access token: status %d", resp.StatusCode)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode access token: %w", err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("empty access token")
	}
	ttl, err := strconv.Atoi(out.ExpiresIn)
	if err != nil || ttl <= 0 {
		ttl = 3599
	}
	m.token = out.AccessToken
	m.tokenExpiry = m.now().Add(time.Duration(ttl)*time.Second - time.Minute)
	return m.token, nil
}

type stkCallback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        *int   `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string      `json:"Name"`
					Value interface{} `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// VerifyWebhook parses an STK callback. The provider does not sign callbacks,
// so the embedded CheckoutRequestID is trusted as the join key; when an IP
// allow-list is configured the sender must be on it.
func (m *MobileMoney) VerifyWebhook(r *http.Request, body []byte) (*WebhookEvent, error) {
	const op = "mobileMoney.VerifyWebhook"
	if len(m.allowedIPs) > 0 {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !m.allowedIPs[host] {
			return nil, apperr.New(apperr.SignatureVerificationFailed, op, "callback sender not allowed: "+host)
		}
	}

	var cb stkCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, apperr.Wrap(apperr.SignatureVerificationFailed, op, "malformed callback", err)
	}
	stk := cb.Body.StkCallback
	if stk.CheckoutRequestID == "" || stk.ResultCode == nil {
		return nil, apperr.New(apperr.SignatureVerificationFailed, op, "callback has no transaction reference")
	}

	ev := &WebhookEvent{
		ExternalPaymentID: stk.CheckoutRequestID,
		EventType:         "stk_callback",
		Status:            models.TransactionFailed,
		Metadata: map[string]string{
			"resultCode": strconv.Itoa(*stk.ResultCode),
			"resultDesc": stk.ResultDesc,
		},
	}
	if *stk.ResultCode == 0 {
		ev.Status = models.TransactionCompleted
	} else {
		ev.Metadata["failureReason"] = stk.ResultDesc
	}
	for _, item := range stk.CallbackMetadata.Item {
		switch item.Name {
		case "MpesaReceiptNumber":
			ev.Metadata["mpesaReceiptNumber"] = fmt.Sprint(item.Value)
		case "Amount":
			ev.Metadata["paidAmount"] = fmt.Sprint(item.Value)
		}
	}
	return ev, nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
