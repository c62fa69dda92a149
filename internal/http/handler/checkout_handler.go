package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/pos-trust-core/internal/apperror"
	"github.com/sandeepkv93/pos-trust-core/internal/domain"
	"github.com/sandeepkv93/pos-trust-core/internal/http/middleware"
	"github.com/sandeepkv93/pos-trust-core/internal/http/response"
	"github.com/sandeepkv93/pos-trust-core/internal/service"
)

type CheckoutHandler struct {
	ledger service.LedgerServiceInterface
}

func NewCheckoutHandler(ledger service.LedgerServiceInterface) *CheckoutHandler {
	return &CheckoutHandler{ledger: ledger}
}

type checkoutRequest struct {
	Lines       []service.CartLine `json:"lines"`
	Payment     map[string]any     `json:"payment"`
	AgeVerified bool               `json:"age_verified"`
	CustomerID  string             `json:"customer_id,omitempty"`
}

func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.AppError(w, r, apperror.ErrTokenInvalid)
		return
	}
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		response.AppError(w, r, err)
		return
	}
	payment, err := service.ParsePayment(req.Payment)
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	result, err := h.ledger.Checkout(r.Context(), service.CheckoutInput{
		Actor: service.Actor{
			ID:      claims.UserID(),
			StoreID: claims.StoreID,
			Role:    domain.Role(claims.Role),
		},
		Lines:       req.Lines,
		Payment:     payment,
		AgeVerified: req.AgeVerified,
		CustomerID:  strings.TrimSpace(req.CustomerID),
		Origin:      middleware.ClientIP(r),
		UserAgent:   r.UserAgent(),
	})
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusCreated, result)
}

func (h *CheckoutHandler) Integrity(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		response.AppError(w, r, apperror.ErrValidation.WithDetails(map[string]any{"id": "is required"}))
		return
	}
	report, err := h.ledger.VerifyIntegrity(r.Context(), id)
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, report)
}
