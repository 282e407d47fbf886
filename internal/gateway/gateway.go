// Package gateway adapts the external payment providers behind one interface.
//
// Three variants exist: Mock settles synchronously, Card creates a payment
// intent that the client confirms and whose outcome arrives by signed
// webhook, and MobileMoney sends a push prompt to the payer's phone and learns
// the outcome from an unsigned callback.
package gateway

import (
	"context"
	"net/http"
	"sort"

	"github.com/markjakearzadon/folio-gobackend/internal/apperr"
	"github.com/markjakearzadon/folio-gobackend/internal/models"
)

// InitiateRequest carries what every provider needs. Amount is in major units,
// except for Card where it is already in the gateway's minor unit.
type InitiateRequest struct {
	Amount       float64
	CurrencyCode string
	PayerRef     string
	Email        string
	PhoneNumber  string
	Metadata     map[string]string
}

// Initiation is the provider's answer to a successful initiate call.
type Initiation struct {
	ExternalPaymentID string
	Status            models.TransactionStatus
	Continuation      map[string]string
	Metadata          map[string]string
}

// WebhookEvent is a verified, normalized provider callback. Ignored events
// passed verification but carry no outcome this service acts on.
type WebhookEvent struct {
	ExternalPaymentID string
	Status            models.TransactionStatus
	EventType         string
	Metadata          map[string]string
	Ignored           bool
}

type Gateway interface {
	Provider() models.Provider
	Initiate(ctx context.Context, req InitiateRequest) (*Initiation, error)
	VerifyWebhook(r *http.Request, body []byte) (*WebhookEvent, error)
}

// Registry holds the gateways enabled by configuration.
type Registry struct {
	gateways map[models.Provider]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[models.Provider]Gateway)}
	for _, g := range gateways {
		if g != nil {
			r.gateways[g.Provider()] = g
		}
	}
	return r
}

func (r *Registry) Get(p models.Provider) (Gateway, error) {
	g, ok := r.gateways[p]
	if !ok {
		return nil, apperr.New(apperr.InvalidInput, "gateway.Get", "payment method not available: "+string(p))
	}
	return g, nil
}

func (r *Registry) Providers() []models.Provider {
	out := make([]models.Provider, 0, len(r.gateways))
	for p := range r.gateways {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
