package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Shoto0095/rafiki/internal/domain"
	"github.com/Shoto0095/rafiki/internal/response"
	"github.com/Shoto0095/rafiki/internal/usecase"
)

type PaymentHandler struct {
	paymentUC *usecase.PaymentUsecase
	logger    *zap.Logger
}

func NewPaymentHandler(paymentUC *usecase.PaymentUsecase, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		paymentUC: paymentUC,
		logger:    logger,
	}
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type listResponse struct {
	Items      []*domain.OutgoingPayment `json:"items"`
	NextCursor string                    `json:"next_cursor,omitempty"`
}

type depositRequest struct {
	AssetCode  string `json:"asset_code"`
	AssetScale uint8  `json:"asset_scale"`
	Value      uint64 `json:"value,string"`
}

// CreatePayment handles POST /outgoing-payments
func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req domain.CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode create payment request", zap.Error(err))
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := h.paymentUC.Create(r.Context(), &req)
	if err != nil {
		h.fail(w, "failed to create payment", err)
		return
	}
	response.JSON(w, http.StatusCreated, "payment created", p)
}

// GetPayment handles GET /outgoing-payments/{id}
func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.paymentID(w, r)
	if !ok {
		return
	}
	p, err := h.paymentUC.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "failed to get payment", err)
		return
	}
	response.JSON(w, http.StatusOK, "", p)
}

// CancelPayment handles POST /outgoing-payments/{id}/cancel
func (h *PaymentHandler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.paymentID(w, r)
	if !ok {
		return
	}
	p, err := h.paymentUC.Cancel(r.Context(), id)
	if err != nil {
		h.fail(w, "failed to cancel payment", err)
		return
	}
	response.JSON(w, http.StatusOK, "payment cancelled", p)
}

// DeletePayment handles DELETE /outgoing-payments/{id}
func (h *PaymentHandler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.paymentID(w, r)
	if !ok {
		return
	}
	if err := h.paymentUC.Delete(r.Context(), id); err != nil {
		h.fail(w, "failed to delete payment", err)
		return
	}
	response.JSON(w, http.StatusOK, "payment deleted", nil)
}

// ListPayments handles GET /accounts/{account_id}/outgoing-payments?after=&limit=
func (h *PaymentHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(chi.URLParam(r, "account_id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid account id")
		return
	}

	page := domain.PageRequest{}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if page.Limit, err = strconv.Atoi(raw); err != nil || page.Limit < 0 {
			response.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}
	switch {
	case page.Limit == 0:
		page.Limit = defaultPageSize
	case page.Limit > maxPageSize:
		page.Limit = maxPageSize
	}
	if raw := r.URL.Query().Get("after"); raw != "" {
		if page.After, err = DecodeCursor(raw); err != nil {
			response.Error(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	items, err := h.paymentUC.ListByAccount(r.Context(), accountID, page)
	if err != nil {
		h.fail(w, "failed to list payments", err)
		return
	}
	out := listResponse{Items: items}
	if items == nil {
		out.Items = []*domain.OutgoingPayment{}
	}
	if n := len(items); n > 0 && n == page.Limit {
		last := items[n-1]
		out.NextCursor = EncodeCursor(domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	response.JSON(w, http.StatusOK, "", out)
}

// Deposit handles POST /accounts/{account_id}/deposits
func (h *PaymentHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(chi.URLParam(r, "account_id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid account id")
		return
	}
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	amount := domain.Amount{Value: req.Value, AssetCode: req.AssetCode, AssetScale: req.AssetScale}
	b, err := h.paymentUC.Deposit(r.Context(), accountID, amount)
	if err != nil {
		h.fail(w, "failed to credit account", err)
		return
	}
	response.JSON(w, http.StatusOK, "account credited", b)
}

// GetBalance handles GET /accounts/{account_id}/balances/{asset_code}
func (h *PaymentHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(chi.URLParam(r, "account_id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid account id")
		return
	}
	b, err := h.paymentUC.Balance(r.Context(), accountID, chi.URLParam(r, "asset_code"))
	if err != nil {
		h.fail(w, "failed to get balance", err)
		return
	}
	response.JSON(w, http.StatusOK, "", b)
}

func (h *PaymentHandler) paymentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid payment id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *PaymentHandler) fail(w http.ResponseWriter, msg string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
		response.Error(w, status, msg)
		return
	}
	h.logger.Info(msg, zap.Int("status", status), zap.Error(err))
	response.Error(w, status, err.Error())
}

// StatusFor maps a usecase error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidCursor),
		errors.Is(err, domain.ErrAssetMismatch), domain.IsQuoteError(err):
		return http.StatusBadRequest
	case domain.IsLifecycleError(err), errors.Is(err, domain.ErrNotTerminal):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// EncodeCursor renders a page cursor as an opaque URL-safe token.
func EncodeCursor(c domain.Cursor) string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

func DecodeCursor(s string) (*domain.Cursor, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, domain.ErrInvalidCursor
	}
	var c domain.Cursor
	if err := json.Unmarshal(b, &c); err != nil || c.ID == uuid.Nil {
		return nil, domain.ErrInvalidCursor
	}
	return &c, nil
}
