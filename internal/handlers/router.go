package handlers

import (
	"net/http"
	"net/netip"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"

	"github.com/markjakearzadon/folio-gobackend/internal/middleware"
)

type RouterConfig struct {
	JWTSecret      string
	RateLimiter    *middleware.RateLimiter
	TrustedProxies []netip.Prefix
}

func NewRouter(cfg RouterConfig, payments *PaymentHandler, orders *OrderHandler, downloads *DownloadHandler) http.Handler {
	router := mux.NewRouter()
	router.Use(chimw.RequestID, middleware.ClientIP(cfg.TrustedProxies), chimw.Logger, chimw.Recoverer)
	if cfg.RateLimiter != nil {
		router.Use(cfg.RateLimiter.Middleware)
	}

	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods("GET", "HEAD")
	router.HandleFunc("/payment/webhook", payments.Webhook).Methods("POST")

	api := router.NewRoute().Subrouter()
	api.Use(middleware.Authenticate(cfg.JWTSecret))
	api.HandleFunc("/payment", payments.CreatePayment).Methods("POST")
	api.HandleFunc("/payment/{paymentID}", payments.GetPayment).Methods("GET")
	api.HandleFunc("/users/{userID}/payments", payments.GetPaymentsByUserID).Methods("GET")
	api.HandleFunc("/orders", orders.ListOrders).Methods("GET")
	api.HandleFunc("/orders/{orderID}", orders.GetOrder).Methods("GET")
	api.HandleFunc("/downloads", downloads.History).Methods("GET")
	api.HandleFunc("/downloads/{bookID}", downloads.Download).Methods("GET")

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequireAdmin)
	admin.HandleFunc("/orders/{orderID}/status", orders.UpdateOrderStatus).Methods("PATCH")
	admin.HandleFunc("/ledger/anomalies", orders.ListAnomalies).Methods("GET")
	admin.HandleFunc("/reconcile", orders.Reconcile).Methods("POST")

	return router
}
