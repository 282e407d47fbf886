package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/markjakearzadon/folio-gobackend/internal/apperr"
	"github.com/markjakearzadon/folio-gobackend/internal/config"
	"github.com/markjakearzadon/folio-gobackend/internal/currency"
	"github.com/markjakearzadon/folio-gobackend/internal/models"
)

const SignatureHeader = "Stripe-Signature"

// Card talks to a Stripe-compatible payment intents API. The client confirms
// the intent with the returned client secret; the outcome arrives by webhook.
type Card struct {
	secretKey     string
	webhookSecret string
	baseURL       string
	tolerance     time.Duration
	client        *http.Client
	logger        *slog.Logger
	backoff       time.Duration
	now           func() time.Time
}

func NewCard(cfg config.CardConfig, logger *slog.Logger) *Card {
	return &Card{
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		tolerance:     cfg.SignatureTolerance,
		client:        &http.Client{Timeout: 10 * time.Second},
		logger:        logger.With("provider", models.ProviderCard),
		backoff:       time.Second,
		now:           time.Now,
	}
}

func (c *Card) Provider() models.Provider { return models.ProviderCard }

type paymentIntent struct {
	ID           string            `json:"id"`
	Object       string            `json:"object"`
	ClientSecret string            `json:"client_secret"`
	Status       string            `json:"status"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Metadata     map[string]string `json:"metadata"`
	LastError    *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

type providerError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Initiate creates a payment intent. req.Amount is in minor units and is
// rounded to the nearest integer.
func (c *Card) Initiate(ctx context.Context, req InitiateRequest) (*Initiation, error) {
	const op = "card.Initiate"
	amount := currency.RoundWhole(req.Amount)
	if amount <= 0 {
		return nil, apperr.New(apperr.InvalidInput, op, "card amount must be at least one minor unit")
	}
	if !currency.Supported(req.CurrencyCode) {
		return nil, apperr.New(apperr.InvalidInput, op, "unsupported currency: "+req.CurrencyCode)
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(int64(amount), 10))
	form.Set("currency", strings.ToLower(req.CurrencyCode))
	form.Set("automatic_payment_methods[enabled]", "true")
	if req.Email != "" {
		form.Set("receipt_email", req.Email)
	}
	for k, v := range req.Metadata {
		form.Set("metadata["+k+"]", v)
	}
	if req.PayerRef != "" {
		form.Set("metadata[userId]", req.PayerRef)
	}
	encoded := form.Encode()
	idempotencyKey := uuid.NewString()

	c.logger.Debug("card_initiate", "amount", form.Get("amount"), "currency", form.Get("currency"), "email", maskEmail(req.Email))

	resp, err := doWithRetry(ctx, c.client, c.logger, c.backoff, func() (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payment_intents", strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Authorization", "Bearer "+c.secretKey)
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		r.Header.Set("Idempotency-Key", idempotencyKey)
		return r, nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.GatewayUnavailable, op, "payment provider unavailable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperr.Wrap(apperr.GatewayUnavailable, op, "payment provider unavailable", err)
	}
	if resp.StatusCode != http.StatusOK {
		var pe providerError
		_ = json.Unmarshal(body, &pe)
		c.logger.Warn("card_initiate_rejected", "status", resp.StatusCode, "type", pe.Error.Type, "message", pe.Error.Message)
		return nil, apperr.Wrap(apperr.GatewayUnavailable, op, "payment provider rejected the request",
			fmt.Errorf("status %d: %s", resp.StatusCode, pe.Error.Message))
	}

	var pi paymentIntent
	if err := json.Unmarshal(body, &pi); err != nil || pi.ID == "" || pi.ClientSecret == "" {
		return nil, apperr.Wrap(apperr.GatewayUnavailable, op, "unexpected payment provider response", err)
	}

	meta := copyMap(req.Metadata)
	meta["intentStatus"] = pi.Status
	return &Initiation{
		ExternalPaymentID: pi.ID,
		Status:            models.TransactionPending,
		Continuation:      map[string]string{"clientSecret": pi.ClientSecret},
		Metadata:          meta,
	}, nil
}

type cardEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object paymentIntent `json:"object"`
	} `json:"data"`
}

// VerifyWebhook checks the signature header against the raw body and maps
// payment intent events to transaction statuses.
func (c *Card) VerifyWebhook(r *http.Request, body []byte) (*WebhookEvent, error) {
	const op = "card.VerifyWebhook"
	if err := c.verifySignature(r.Header.Get(SignatureHeader), body); err != nil {
		return nil, apperr.Wrap(apperr.SignatureVerificationFailed, op, "invalid webhook signature", err)
	}

	var evt cardEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, apperr.Wrap(apperr.InvalidInput, op, "malformed webhook payload", err)
	}

	ev := &WebhookEvent{
		ExternalPaymentID: evt.Data.Object.ID,
		EventType:         evt.Type,
		Metadata:          map[string]string{"eventId": evt.ID, "eventType": evt.Type},
	}
	switch evt.Type {
	case "payment_intent.succeeded":
		ev.Status = models.TransactionCompleted
	case "payment_intent.payment_failed", "payment_intent.canceled":
		ev.Status = models.TransactionFailed
		if le := evt.Data.Object.LastError; le != nil && le.Message != "" {
			ev.Metadata["failureReason"] = le.Message
		} else if evt.Type == "payment_intent.canceled" {
			ev.Metadata["failureReason"] = "canceled"
		}
	default:
		ev.Ignored = true
		return ev, nil
	}
	if ev.ExternalPaymentID == "" {
		return nil, apperr.New(apperr.InvalidInput, op, "webhook payload has no payment intent id")
	}
	return ev, nil
}

func (c *Card) verifySignature(header string, body []byte) error {
	if c.webhookSecret == "" {
		return fmt.Errorf("webhook secret not configured")
	}
	if header == "" {
		return fmt.Errorf("missing %s header", SignatureHeader)
	}
	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return fmt.Errorf("malformed %s header", SignatureHeader)
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("bad timestamp: %w", err)
	}
	age := c.now().Sub(time.Unix(sec, 0))
	if age < 0 {
		age = -age
	}
	if age > c.tolerance {
		return fmt.Errorf("timestamp outside tolerance (%s)", age.Round(time.Second))
	}

	expected := signPayload(c.webhookSecret, ts, body)
	for _, s := range sigs {
		got, err := hex.DecodeString(s)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return nil
		}
	}
	return fmt.Errorf("no matching signature")
}

func signPayload(secret, ts string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}
