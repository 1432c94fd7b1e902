package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hakimelghazi/confidential-book/internal/engine"
)

const (
	defaultTradeLimit = 50
	maxTradeLimit     = 500
)

func pairParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "pairID"), 10, 64)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", "pair id must be an unsigned integer")
		return 0, false
	}
	return id, true
}

func traderOf(w http.ResponseWriter, r *http.Request) (engine.TraderID, bool) {
	id, ok := TraderFrom(r.Context())
	if !ok {
		writeProblem(w, r, http.StatusUnauthorized, "unauthorized", "no trader in request")
	}
	return id, ok
}

// GET /pairs
func (h *Handler) ListPairs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.market.Pairs())
}

// GET /pairs/{pairID}/ticker
func (h *Handler) Ticker(w http.ResponseWriter, r *http.Request) {
	pairID, ok := pairParam(w, r)
	if !ok {
		return
	}
	if _, err := h.market.Pair(pairID); err != nil {
		writeError(w, r, err)
		return
	}
	tick, ok := h.ticks.Get(pairID)
	if !ok {
		writeProblem(w, r, http.StatusNotFound, "no_trades", "no trade on this pair yet")
		return
	}
	writeJSON(w, r, http.StatusOK, tick)
}

// POST /pairs/{pairID}/orders
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	pairID, ok := pairParam(w, r)
	if !ok {
		return
	}
	trader, ok := traderOf(w, r)
	if !ok {
		return
	}

	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if err := Validate.Struct(req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", validationMessage(err))
		return
	}
	side, err := engine.ParseSide(req.Side)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	id, err := h.market.Submit(r.Context(), pairID, side, req.Price, req.Quantity, trader)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Location", "/pairs/"+strconv.FormatUint(pairID, 10)+"/orders/"+id.String())
	writeJSON(w, r, http.StatusCreated, orderCreateResponse{
		OrderID:   id.String(),
		PairID:    pairID,
		Side:      string(side),
		Accepted:  true,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// GET /pairs/{pairID}/orders lists only the caller's own resting orders.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	pairID, ok := pairParam(w, r)
	if !ok {
		return
	}
	trader, ok := traderOf(w, r)
	if !ok {
		return
	}
	orders, err := h.market.Orders(r.Context(), pairID, trader)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toOrderViews(orders))
}

// DELETE /pairs/{pairID}/orders/{orderID}
//
// An order owned by someone else looks exactly like a missing one.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	pairID, ok := pairParam(w, r)
	if !ok {
		return
	}
	trader, ok := traderOf(w, r)
	if !ok {
		return
	}
	id, err := engine.ParseOrderID(chi.URLParam(r, "orderID"))
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	cancelled, err := h.market.Cancel(r.Context(), pairID, id, trader)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !cancelled {
		writeProblem(w, r, http.StatusNotFound, "not_found", "order not found")
		return
	}
	w.Header().Set("X-Request-ID", middleware.GetReqID(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// POST /pairs/{pairID}/match
func (h *Handler) Match(w http.ResponseWriter, r *http.Request) {
	pairID, ok := pairParam(w, r)
	if !ok {
		return
	}
	trader, ok := traderOf(w, r)
	if !ok {
		return
	}
	res, err := h.market.Match(r.Context(), pairID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toMatchResponse(res, trader))
}

// GET /pairs/{pairID}/trades?limit=N
func (h *Handler) ListTrades(w http.ResponseWriter, r *http.Request) {
	pairID, ok := pairParam(w, r)
	if !ok {
		return
	}
	trader, ok := traderOf(w, r)
	if !ok {
		return
	}
	if h.trades == nil {
		writeProblem(w, r, http.StatusServiceUnavailable, "journal_unavailable", "trade journal not configured")
		return
	}

	limit := defaultTradeLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeProblem(w, r, http.StatusBadRequest, "validation_error", "limit must be a positive integer")
			return
		}
		limit = min(n, maxTradeLimit)
	}

	if _, err := h.market.Pair(pairID); err != nil {
		writeError(w, r, err)
		return
	}
	rows, err := h.trades.ListTrades(r.Context(), pairID, trader, limit)
	if err != nil {
		writeProblem(w, r, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, rows)
}
