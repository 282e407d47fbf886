package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/markjakearzadon/folio-gobackend/internal/apperr"
	"github.com/markjakearzadon/folio-gobackend/internal/currency"
	"github.com/markjakearzadon/folio-gobackend/internal/gateway"
	"github.com/markjakearzadon/folio-gobackend/internal/models"
	"github.com/markjakearzadon/folio-gobackend/internal/repository"
)

// PaymentService runs checkout: it validates the request, starts the payment
// with the selected gateway, and records the transaction and pending order.
type PaymentService struct {
	gateways *gateway.Registry
	ledger   *LedgerService
	orders   *OrderService
	catalog  repository.Catalog
	users    repository.UserDirectory
	logger   *slog.Logger
	now      func() time.Time
}

func NewPaymentService(gateways *gateway.Registry, ledger *LedgerService, orders *OrderService, stores *repository.Stores, logger *slog.Logger) *PaymentService {
	return &PaymentService{
		gateways: gateways,
		ledger:   ledger,
		orders:   orders,
		catalog:  stores.Catalog,
		users:    stores.Users,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *PaymentService) Initiate(ctx context.Context, req models.PaymentRequest) (*models.PaymentResult, error) {
	const op = "payments.Initiate"

	provider, ok := models.ParseProvider(req.Method)
	if !ok {
		return nil, apperr.New(apperr.InvalidInput, op, "unsupported payment method: "+req.Method)
	}
	gw, err := s.gateways.Get(provider)
	if err != nil {
		return nil, err
	}
	code, err := currency.Normalize(req.CurrencyCode)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidInput, op, "unsupported currency: "+req.CurrencyCode, err)
	}
	if provider == models.ProviderCard {
		req.Amount = currency.RoundWhole(req.Amount)
	}
	if req.Amount <= 0 {
		return nil, apperr.New(apperr.InvalidInput, op, "amount must be positive")
	}
	if req.UserID == "" {
		return nil, apperr.New(apperr.InvalidInput, op, "userId is required")
	}

	user, err := s.users.FindUser(ctx, req.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Wrap(apperr.InvalidInput, op, "unknown user", err)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, "could not load user", err)
	}
	books, err := s.loadBooks(ctx, req.BookList())
	if err != nil {
		return nil, err
	}

	email := req.Email
	if email == "" {
		email = user.Email
	}
	orderID := uuid.NewString()
	bookIDs := make([]string, len(books))
	for i, b := range books {
		bookIDs[i] = b.ID
	}

	log := s.logger.With("order_id", orderID, "user_id", user.ID, "provider", provider)
	log.Info("payment_initiating", "amount", req.Amount, "currency", code, "books", len(books))

	init, err := gw.Initiate(ctx, gateway.InitiateRequest{
		Amount:       req.Amount,
		CurrencyCode: code,
		PayerRef:     user.ID,
		Email:        email,
		PhoneNumber:  req.PhoneNumber,
		Metadata: map[string]string{
			"orderId": orderID,
			"userId":  user.ID,
			"bookIds": strings.Join(bookIDs, ","),
		},
	})
	if err != nil {
		log.Warn("payment_initiation_failed", "kind", apperr.KindOf(err), "error", err)
		return nil, err
	}

	now := s.now().UTC()
	tx := &models.Transaction{
		ID:                uuid.NewString(),
		UserID:            user.ID,
		OrderRef:          orderID,
		Amount:            req.Amount,
		CurrencyCode:      code,
		Provider:          provider,
		ExternalPaymentID: init.ExternalPaymentID,
		Status:            init.Status,
		CreatedAt:         now,
		UpdatedAt:         now,
		Metadata:          init.Metadata,
	}
	if err := s.ledger.Record(ctx, tx); err != nil {
		log.Error("payment_not_recorded", "external_payment_id", init.ExternalPaymentID, "error", err)
		return nil, err
	}

	order, err := s.buildOrder(orderID, user.ID, books, req.Amount, code, provider, init.ExternalPaymentID, now)
	if err != nil {
		return nil, err
	}
	if err := s.orders.Create(ctx, order); err != nil {
		log.Error("order_not_recorded", "external_payment_id", init.ExternalPaymentID, "error", err)
		return nil, err
	}

	if init.Status == models.TransactionCompleted {
		if _, err := s.orders.Transition(ctx, orderID, models.OrderCompleted, models.ActorSystem, "synchronous payment completed"); err != nil {
			log.Error("order_not_completed", "error", err)
			return nil, err
		}
	}

	log.Info("payment_initiated", "external_payment_id", init.ExternalPaymentID, "status", init.Status)
	return &models.PaymentResult{
		Success:      true,
		PaymentID:    init.ExternalPaymentID,
		OrderID:      orderID,
		Status:       init.Status,
		Continuation: init.Continuation,
	}, nil
}

func (s *PaymentService) loadBooks(ctx context.Context, ids []string) ([]*models.Book, error) {
	const op = "payments.loadBooks"
	if len(ids) == 0 {
		return nil, apperr.New(apperr.InvalidInput, op, "bookId is required")
	}
	books := make([]*models.Book, 0, len(ids))
	for _, id := range ids {
		b, err := s.catalog.FindBook(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Wrap(apperr.InvalidInput, op, "unknown book: "+id, err)
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, op, "could not load book", err)
		}
		books = append(books, b)
	}
	return books, nil
}

// buildOrder assembles a pending order. Catalog prices are in the base
// currency; the paid amount is stored in major units of the payment currency.
func (s *PaymentService) buildOrder(id, userID string, books []*models.Book, amount float64, code string,
	provider models.Provider, externalID string, now time.Time) (*models.Order, error) {
	paid := amount
	if provider == models.ProviderCard {
		major, err := currency.FromMinorUnits(int64(amount), code)
		if err != nil {
			return nil, apperr.Wrap(apperr.InvalidInput, "payments.buildOrder", "unsupported currency: "+code, err)
		}
		paid = major
	}

	items := make([]models.OrderItem, len(books))
	prices := make([]float64, len(books))
	for i, b := range books {
		items[i] = models.OrderItem{BookID: b.ID, Title: b.Title, Price: b.Price, FileRef: b.FileRef, CoverRef: b.CoverRef}
		prices[i] = b.Price
	}
	return &models.Order{
		ID:                      id,
		UserID:                  userID,
		Items:                   items,
		TotalAmountBaseCurrency: currency.Sum(prices...),
		ActualAmountPaid:        paid,
		CurrencyCode:            code,
		RegionCode:              currency.Region(code),
		ItemCount:               len(items),
		Status:                  models.OrderPending,
		OrderDate:               now,
		LastUpdatedAt:           now,
		LastUpdatedBy:           models.ActorSystem,
		PaymentGatewayID:        externalID,
		PaymentMethod:           provider,
	}, nil
}
