// Package api exposes the machine as a small JSON control surface.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"vendingmachine/internal/cash"
	"vendingmachine/internal/data"
	vmerrors "vendingmachine/internal/errors"
	"vendingmachine/internal/logger"
	"vendingmachine/internal/machine"
	"vendingmachine/internal/middleware"
)

// JournalReader is the part of the journal the API reads from.
type JournalReader interface {
	Entries(ctx context.Context, opts data.ListOptions) ([]data.Entry, error)
	SalesSummary(ctx context.Context) ([]data.ProductSales, error)
	Ping(ctx context.Context) error
}

// Handler serves the machine's endpoints.
type Handler struct {
	machine *machine.Machine
	journal JournalReader // nil when journaling is off
}

// NewHandler builds a Handler. journal may be nil.
func NewHandler(m *machine.Machine, journal JournalReader) *Handler {
	return &Handler{machine: m, journal: journal}
}

type moneyRequest struct {
	Amount   int    `json:"amount"`
	Currency string `json:"currency"`
}

type cardRequest struct {
	Kind string `json:"kind"`
	Tier int    `json:"tier"`
}

type selectRequest struct {
	ProductID string `json:"product_id"`
}

type collectResponse struct {
	Products map[string]int `json:"products,omitempty"`
	Money    cash.Counts    `json:"money,omitempty"`
}

// InsertMoneyHandler handles POST /api/money.
func (h *Handler) InsertMoneyHandler(w http.ResponseWriter, r *http.Request) {
	var req moneyRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Currency == "" {
		req.Currency = h.machine.Currency()
	}

	res, err := h.machine.InsertMoney(req.Amount, req.Currency)
	if err != nil {
		writeMachineError(w, r, err)
		return
	}
	middleware.WriteAPISuccess(w, r, res)
}

// InsertCardHandler handles POST /api/card.
func (h *Handler) InsertCardHandler(w http.ResponseWriter, r *http.Request) {
	var req cardRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.machine.InsertCard(req.Kind, req.Tier)
	if err != nil {
		writeMachineError(w, r, err)
		return
	}
	middleware.WriteAPISuccess(w, r, res)
}

// CancelCardHandler handles POST /api/card/cancel.
func (h *Handler) CancelCardHandler(w http.ResponseWriter, r *http.Request) {
	res, err := h.machine.CancelCard()
	if err != nil {
		writeMachineError(w, r, err)
		return
	}
	middleware.WriteAPISuccess(w, r, res)
}

// SelectProductHandler handles POST /api/select.
func (h *Handler) SelectProductHandler(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ProductID == "" {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "product_id is required", nil)
		return
	}

	res, err := h.machine.SelectProduct(req.ProductID)
	if err != nil {
		writeMachineError(w, r, err)
		return
	}
	middleware.WriteAPISuccess(w, r, res)
}

// ReturnMoneyHandler handles POST /api/return.
func (h *Handler) ReturnMoneyHandler(w http.ResponseWriter, r *http.Request) {
	res, err := h.machine.ReturnMoney()
	if err != nil {
		writeMachineError(w, r, err)
		return
	}
	middleware.WriteAPISuccess(w, r, res)
}

// CollectProductsHandler handles POST /api/collect/products.
func (h *Handler) CollectProductsHandler(w http.ResponseWriter, r *http.Request) {
	middleware.WriteAPISuccess(w, r, collectResponse{Products: h.machine.CollectProducts()})
}

// CollectMoneyHandler handles POST /api/collect/money.
func (h *Handler) CollectMoneyHandler(w http.ResponseWriter, r *http.Request) {
	middleware.WriteAPISuccess(w, r, collectResponse{Money: h.machine.CollectMoney()})
}

// ResetHandler handles POST /api/reset.
func (h *Handler) ResetHandler(w http.ResponseWriter, r *http.Request) {
	middleware.WriteAPISuccess(w, r, h.machine.Reset())
}

// StateHandler handles GET /api/state.
func (h *Handler) StateHandler(w http.ResponseWriter, r *http.Request) {
	middleware.WriteAPISuccess(w, r, h.machine.State())
}

// JournalHandler handles GET /api/journal?kind=sale&limit=20.
func (h *Handler) JournalHandler(w http.ResponseWriter, r *http.Request) {
	if !h.journalEnabled(w, r) {
		return
	}

	opts := data.ListOptions{Kind: machine.EventKind(r.URL.Query().Get("kind"))}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > 1000 {
			middleware.WriteAPIError(w, r, http.StatusBadRequest, "INVALID_REQUEST",
				"limit must be between 1 and 1000", nil)
			return
		}
		opts.Limit = limit
	}

	entries, err := h.journal.Entries(r.Context(), opts)
	if err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "JOURNAL_ERROR", "could not read the journal", nil)
		return
	}
	if entries == nil {
		entries = []data.Entry{}
	}
	middleware.WriteAPISuccess(w, r, entries)
}

// SalesSummaryHandler handles GET /api/journal/summary.
func (h *Handler) SalesSummaryHandler(w http.ResponseWriter, r *http.Request) {
	if !h.journalEnabled(w, r) {
		return
	}

	summary, err := h.journal.SalesSummary(r.Context())
	if err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "JOURNAL_ERROR", "could not read the journal", nil)
		return
	}
	if summary == nil {
		summary = []data.ProductSales{}
	}
	middleware.WriteAPISuccess(w, r, summary)
}

// HealthHandler handles GET /healthz.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if h.journal != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.journal.Ping(ctx); err != nil {
			http.Error(w, "journal unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) journalEnabled(w http.ResponseWriter, r *http.Request) bool {
	if h.journal == nil {
		middleware.WriteAPIError(w, r, http.StatusServiceUnavailable, "JOURNAL_DISABLED",
			"the transaction journal is not enabled", nil)
		return false
	}
	return true
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := middleware.ParseJSONRequest(w, r, v); err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return false
	}
	return true
}

// writeMachineError maps a machine error to its status and envelope.
func writeMachineError(w http.ResponseWriter, r *http.Request, err error) {
	var e *vmerrors.Error
	if !errors.As(err, &e) {
		logger.L().Error("unexpected machine error",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err))
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, string(vmerrors.CodeUnknown),
			"An internal error occurred", nil)
		return
	}
	middleware.WriteAPIError(w, r, e.Code.HTTPStatus(), string(e.Code), e.Message, e.Metadata)
}
