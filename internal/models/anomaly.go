package models

import "time"

type AnomalyKind string

const (
	AnomalyConflictingTerminal AnomalyKind = "conflicting_terminal_status"
	AnomalyUnmatchedEvent      AnomalyKind = "unmatched_event"
)

// LedgerAnomaly is kept when an update could not be applied to the ledger:
// a second, different terminal status, or an event for an unknown payment.
type LedgerAnomaly struct {
	ID                string            `bson:"_id" json:"id"`
	Kind              AnomalyKind       `bson:"kind" json:"kind"`
	ExternalPaymentID string            `bson:"externalPaymentId" json:"externalPaymentId"`
	StoredStatus      TransactionStatus `bson:"storedStatus,omitempty" json:"storedStatus,omitempty"`
	AttemptedStatus   TransactionStatus `bson:"attemptedStatus" json:"attemptedStatus"`
	Source            string            `bson:"source" json:"source"`
	Metadata          map[string]string `bson:"metadata,omitempty" json:"metadata,omitempty"`
	DetectedAt        time.Time         `bson:"detectedAt" json:"detectedAt"`
}
