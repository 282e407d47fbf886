package models

// PaymentRequest is the body of POST /payment. Amount is in major units except
// for the card method, where the caller has already converted it to the
// gateway's minor unit.
type PaymentRequest struct {
	Method       string   `json:"method"`
	Amount       float64  `json:"amount"`
	CurrencyCode string   `json:"currencyCode"`
	UserID       string   `json:"userId"`
	BookID       string   `json:"bookId"`
	BookIDs      []string `json:"bookIds,omitempty"`
	Email        string   `json:"email,omitempty"`
	PhoneNumber  string   `json:"phoneNumber,omitempty"`
}

// BookList returns the requested book ids in order, without duplicates.
func (r PaymentRequest) BookList() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, id := range append([]string{r.BookID}, r.BookIDs...) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

type PaymentResult struct {
	Success      bool              `json:"success"`
	PaymentID    string            `json:"paymentId"`
	OrderID      string            `json:"orderId"`
	Status       TransactionStatus `json:"status"`
	Continuation map[string]string `json:"continuation,omitempty"`
}
