package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"

	"commerce-backend/internal/cache"
	"commerce-backend/internal/config"
	"commerce-backend/internal/domain"
	"commerce-backend/internal/infrastructure/repo"
	"commerce-backend/internal/usecase"
)

const productCacheTTL = time.Minute

type Server struct {
	cfg      config.Config
	orders   *usecase.OrderService
	payments *usecase.PaymentService
	store    repo.Store
	cache    cache.Cache
	router   chi.Router
}

func New(cfg config.Config, orders *usecase.OrderService, payments *usecase.PaymentService, store repo.Store, c cache.Cache) *Server {
	s := &Server{
		cfg:      cfg,
		orders:   orders,
		payments: payments,
		store:    store,
		cache:    c,
		router:   chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(logRequests)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/orders", s.handleCreateOrder)
		r.Get("/orders", s.handleListOrders)
		r.Get("/orders/{id}", s.handleGetOrder)
		r.With(s.requireAdmin).Patch("/orders/{id}/status", s.handleUpdateOrderStatus)
		r.Post("/orders/{id}/payments", s.handleCreatePayment)
		r.Get("/orders/{id}/payments", s.handleListOrderPayments)

		r.Get("/payments", s.handleFindPayment)
		r.Get("/payments/{id}", s.handleGetPayment)
		r.With(s.requireAdmin).Post("/payments/{id}/verify", s.handleVerifyPayment)
		r.Post("/payments/webhook", s.handleWebhook)

		r.Get("/products", s.handleListProducts)
		r.Get("/products/{id}", s.handleGetProduct)
		r.With(s.requireAdmin).Put("/products/{id}", s.handleUpsertProduct)
	})
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	})
}

// requireAdmin checks the bearer token against the configured HS256 secret.
// An empty secret disables the guard, which is the local dev default.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.JWTSecret == "" {
			next.ServeHTTP(w, r)
			return
		}
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" || raw == r.Header.Get("Authorization") {
			s.unauthorized(w, r, "bearer token required")
			return
		}
		parsed, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			return []byte(s.cfg.JWTSecret), nil
		})
		if err != nil || !parsed.Valid {
			s.unauthorized(w, r, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type orderLineReq struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

type createOrderReq struct {
	CustomerID   string         `json:"customerId"`
	Lines        []orderLineReq `json:"lines"`
	DiscountRate float64        `json:"discountRate"`
	Notes        string         `json:"notes"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, r, "invalid json")
		return
	}
	if req.CustomerID == "" {
		s.badRequest(w, r, "customerId required")
		return
	}
	if len(req.Lines) == 0 {
		s.badRequest(w, r, "at least one line required")
		return
	}
	lines := make([]usecase.LineInput, 0, len(req.Lines))
	for _, l := range req.Lines {
		if l.ProductID == "" {
			s.badRequest(w, r, "line productId required")
			return
		}
		lines = append(lines, usecase.LineInput{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		})
	}

	view, err := s.orders.Create(r.Context(), usecase.CreateOrderInput{
		CustomerID:   req.CustomerID,
		Lines:        lines,
		DiscountRate: req.DiscountRate,
		Notes:        req.Notes,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	page, limit := pagination(r)
	orders, total, err := s.orders.List(r.Context(), page, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"orders": orders,
		"total":  total,
		"page":   page,
		"limit":  limit,
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	view, err := s.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

type updateStatusReq struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

func (s *Server) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, r, "invalid json")
		return
	}
	if req.Status == "" {
		s.badRequest(w, r, "status required")
		return
	}
	view, err := s.orders.UpdateStatus(r.Context(), chi.URLParam(r, "id"), domain.OrderStatus(req.Status), req.Notes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

type createPaymentReq struct {
	Payer struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"payer"`
}

func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, r, "invalid json")
		return
	}
	if req.Payer.Email == "" {
		s.badRequest(w, r, "payer.email required")
		return
	}
	res, err := s.payments.CreateForOrder(r.Context(), chi.URLParam(r, "id"),
		usecase.PayerInput{Name: req.Payer.Name, Email: req.Payer.Email},
		r.Header.Get("Idempotency-Key"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleListOrderPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := s.payments.ListByOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

// handleFindPayment serves the checkout return pages, which only know the
// preference id the provider appended to the back URL.
func (s *Server) handleFindPayment(w http.ResponseWriter, r *http.Request) {
	preferenceID := r.URL.Query().Get("preferenceId")
	if preferenceID == "" {
		s.badRequest(w, r, "preferenceId query parameter required")
		return
	}
	p, err := s.payments.GetByPreference(r.Context(), preferenceID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := s.payments.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

type verifyPaymentReq struct {
	ProviderPaymentID string `json:"providerPaymentId"`
}

func (s *Server) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, r, "invalid json")
		return
	}
	if req.ProviderPaymentID == "" {
		s.badRequest(w, r, "providerPaymentId required")
		return
	}
	payment, info, err := s.payments.Verify(r.Context(), chi.URLParam(r, "id"), req.ProviderPaymentID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"payment": payment, "provider": info})
}

// handleWebhook acknowledges every readable notification with 200 so the
// provider does not retry-storm; processing errors are logged instead.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload usecase.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.badRequest(w, r, "invalid json")
		return
	}
	payment, ignored, err := s.payments.HandleWebhook(r.Context(), payload)
	if err != nil {
		slog.ErrorContext(r.Context(), "webhook processing failed",
			"type", payload.Type, "providerPaymentId", payload.Data.ID, "error", err)
		s.writeJSON(w, http.StatusOK, map[string]any{"received": true})
		return
	}
	resp := map[string]any{"received": true, "ignored": ignored}
	if payment != nil {
		resp["paymentId"] = payment.ID
		resp["status"] = payment.Status
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	page, limit := pagination(r)
	products, total, err := s.store.ListProducts(r.Context(), page, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"products": products,
		"total":    total,
		"page":     page,
		"limit":    limit,
	})
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	key := s.cache.GenerateKey("product", id)

	if raw, err := s.cache.Get(ctx, key); err != nil {
		slog.WarnContext(ctx, "product cache read failed", "key", key, "error", err)
	} else if raw != "" {
		var p domain.Product
		if json.Unmarshal([]byte(raw), &p) == nil {
			s.writeJSON(w, http.StatusOK, p)
			return
		}
	}

	p, ok, err := s.store.GetProduct(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		s.writeError(w, r, domain.NotFoundf("product %s not found", id))
		return
	}
	if raw, err := json.Marshal(p); err == nil {
		if err := s.cache.Set(ctx, key, string(raw), productCacheTTL); err != nil {
			slog.WarnContext(ctx, "product cache write failed", "key", key, "error", err)
		}
	}
	s.writeJSON(w, http.StatusOK, p)
}

type upsertProductReq struct {
	Name      string  `json:"name"`
	BasePrice float64 `json:"basePrice"`
	TaxRate   float64 `json:"taxRate"`
	Stock     int     `json:"stock"`
	Active    bool    `json:"active"`
}

func (s *Server) handleUpsertProduct(w http.ResponseWriter, r *http.Request) {
	var req upsertProductReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, r, "invalid json")
		return
	}
	if req.Name == "" {
		s.badRequest(w, r, "name required")
		return
	}
	if req.BasePrice < 0 {
		s.badRequest(w, r, "basePrice must not be negative")
		return
	}
	if req.TaxRate < 0 || req.TaxRate > 100 {
		s.badRequest(w, r, "taxRate must be between 0 and 100")
		return
	}
	if req.Stock < 0 {
		s.badRequest(w, r, "stock must not be negative")
		return
	}

	ctx := r.Context()
	id := chi.URLParam(r, "id")
	now := time.Now().UTC()
	p := &domain.Product{
		ID:        id,
		Name:      req.Name,
		BasePrice: req.BasePrice,
		TaxRate:   req.TaxRate,
		Stock:     req.Stock,
		Active:    req.Active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, ok, err := s.store.GetProduct(ctx, id); err != nil {
		s.writeError(w, r, err)
		return
	} else if ok {
		p.CreatedAt = existing.CreatedAt
	}
	if err := s.store.PutProduct(ctx, p); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.cache.Del(ctx, s.cache.GenerateKey("product", id)); err != nil {
		slog.WarnContext(ctx, "product cache invalidation failed", "productId", id, "error", err)
	}
	s.writeJSON(w, http.StatusOK, p)
}

func pagination(r *http.Request) (page, limit int) {
	page, limit = 1, 10
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 100 {
		limit = v
	}
	return page, limit
}

func statusOf(err error) int {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidState, domain.KindInvalidAmount, domain.KindInsufficientStock:
		return http.StatusBadRequest
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindExternalProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	s.errorJSON(w, r, status, string(domain.KindOf(err)), err.Error())
}

func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	s.errorJSON(w, r, http.StatusBadRequest, "bad_request", msg)
}

func (s *Server) unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	s.errorJSON(w, r, http.StatusUnauthorized, "unauthorized", msg)
}

func (s *Server) errorJSON(w http.ResponseWriter, r *http.Request, status int, kind, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"kind":      kind,
			"message":   msg,
			"requestId": middleware.GetReqID(r.Context()),
		},
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
