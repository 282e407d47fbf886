package models

import "time"

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderFailed    OrderStatus = "failed"
	OrderCancelled OrderStatus = "cancelled"
)

func ParseOrderStatus(s string) (OrderStatus, bool) {
	switch OrderStatus(s) {
	case OrderPending, OrderCompleted, OrderFailed, OrderCancelled:
		return OrderStatus(s), true
	}
	return "", false
}

func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderFailed || s == OrderCancelled
}

type Actor string

const (
	ActorSystem Actor = "system"
	ActorAdmin  Actor = "admin"
)

type OrderItem struct {
	BookID   string  `bson:"bookId" json:"bookId"`
	Title    string  `bson:"title" json:"title"`
	Price    float64 `bson:"price" json:"price"`
	FileRef  string  `bson:"fileRef" json:"fileRef"`
	CoverRef string  `bson:"coverRef" json:"coverRef"`
}

// StatusChange records who moved an order between two statuses.
type StatusChange struct {
	From   OrderStatus `bson:"from" json:"from"`
	To     OrderStatus `bson:"to" json:"to"`
	Actor  Actor       `bson:"actor" json:"actor"`
	Reason string      `bson:"reason,omitempty" json:"reason,omitempty"`
	At     time.Time   `bson:"at" json:"at"`
}

type Order struct {
	ID                      string         `bson:"_id" json:"id"`
	UserID                  string         `bson:"userId" json:"userId"`
	Items                   []OrderItem    `bson:"items" json:"items"`
	TotalAmountBaseCurrency float64        `bson:"totalAmountBaseCurrency" json:"totalAmountBaseCurrency"`
	ActualAmountPaid        float64        `bson:"actualAmountPaid" json:"actualAmountPaid"`
	CurrencyCode            string         `bson:"currencyCode" json:"currencyCode"`
	RegionCode              string         `bson:"regionCode" json:"regionCode"`
	ItemCount               int            `bson:"itemCount" json:"itemCount"`
	Status                  OrderStatus    `bson:"status" json:"status"`
	OrderDate               time.Time      `bson:"orderDate" json:"orderDate"`
	LastUpdatedAt           time.Time      `bson:"lastUpdatedAt" json:"lastUpdatedAt"`
	LastUpdatedBy           Actor          `bson:"lastUpdatedBy" json:"lastUpdatedBy"`
	PaymentGatewayID        string         `bson:"paymentGatewayId" json:"paymentGatewayId"`
	PaymentMethod           Provider       `bson:"paymentMethod" json:"paymentMethod"`
	History                 []StatusChange `bson:"history" json:"history"`
}

// Item returns the order line for bookID, if present.
func (o *Order) Item(bookID string) (OrderItem, bool) {
	for _, it := range o.Items {
		if it.BookID == bookID {
			return it, true
		}
	}
	return OrderItem{}, false
}
