package gateway

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/markjakearzadon/folio-gobackend/internal/apperr"
	"github.com/markjakearzadon/folio-gobackend/internal/currency"
	"github.com/markjakearzadon/folio-gobackend/internal/models"
)

// Mock settles every payment immediately. It is meant for development and
// demo storefronts and never receives webhooks.
type Mock struct{}

func NewMock() *Mock { return &Mock{} }

func (m *Mock) Provider() models.Provider { return models.ProviderMock }

func (m *Mock) Initiate(_ context.Context, req InitiateRequest) (*Initiation, error) {
	if req.Amount <= 0 {
		return nil, apperr.New(apperr.InvalidInput, "mock.Initiate", "amount must be positive")
	}
	if !currency.Supported(req.CurrencyCode) {
		return nil, apperr.New(apperr.InvalidInput, "mock.Initiate", "unsupported currency: "+req.CurrencyCode)
	}
	return &Initiation{
		ExternalPaymentID: "mock_" + uuid.NewString(),
		Status:            models.TransactionCompleted,
		Continuation:      map[string]string{"result": "succeeded"},
		Metadata:          copyMap(req.Metadata),
	}, nil
}

func (m *Mock) VerifyWebhook(*http.Request, []byte) (*WebhookEvent, error) {
	return nil, apperr.New(apperr.SignatureVerificationFailed, "mock.VerifyWebhook", "mock payments do not send webhooks")
}
