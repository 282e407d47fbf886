package models

import "time"

type Provider string

const (
	ProviderMock        Provider = "mock"
	ProviderCard        Provider = "card"
	ProviderMobileMoney Provider = "mobileMoney"
)

// ParseProvider accepts the method names clients send on POST /payment.
func ParseProvider(s string) (Provider, bool) {
	switch Provider(s) {
	case ProviderMock, ProviderCard, ProviderMobileMoney:
		return Provider(s), true
	}
	return "", false
}

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
)

// Terminal reports whether no further automatic transition may follow.
func (s TransactionStatus) Terminal() bool {
	return s == TransactionCompleted || s == TransactionFailed
}

func (s TransactionStatus) Valid() bool {
	return s == TransactionPending || s.Terminal()
}

// Transaction is one payment attempt. It is created once per initiation and
// afterwards only its status and metadata change.
type Transaction struct {
	ID                string            `bson:"_id" json:"id"`
	UserID            string            `bson:"userId" json:"userId"`
	OrderRef          string            `bson:"orderRef" json:"orderRef"`
	Amount            float64           `bson:"amount" json:"amount"`
	CurrencyCode      string            `bson:"currencyCode" json:"currencyCode"`
	Provider          Provider          `bson:"provider" json:"provider"`
	ExternalPaymentID string            `bson:"externalPaymentId" json:"externalPaymentId"`
	Status            TransactionStatus `bson:"status" json:"status"`
	CreatedAt         time.Time         `bson:"createdAt" json:"createdAt"`
	UpdatedAt         time.Time         `bson:"updatedAt" json:"updatedAt"`
	Metadata          map[string]string `bson:"metadata" json:"metadata"`
}
