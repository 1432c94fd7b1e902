package api

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hakimelghazi/confidential-book/internal/engine"
)

var Validate = validator.New()

type placeOrderRequest struct {
	Side     string `json:"side" validate:"required,oneof=BUY SELL buy sell"`
	Price    uint64 `json:"price" validate:"gt=0"`
	Quantity uint64 `json:"quantity" validate:"gt=0"`
}

type orderCreateResponse struct {
	OrderID   string `json:"order_id"`
	PairID    uint64 `json:"pair_id"`
	Side      string `json:"side"`
	Accepted  bool   `json:"accepted"`
	RequestID string `json:"request_id"`
}

type orderView struct {
	OrderID   string `json:"order_id"`
	Side      string `json:"side"`
	Price     uint64 `json:"price"`
	Quantity  uint64 `json:"quantity"`
	Timestamp uint64 `json:"timestamp"`
}

func toOrderViews(orders []engine.Order) []orderView {
	out := make([]orderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderView{
			OrderID:   o.ID.String(),
			Side:      string(o.Side),
			Price:     o.Price,
			Quantity:  o.Quantity,
			Timestamp: o.Timestamp,
		})
	}
	return out
}

// tradeView hides counterparties. Role is set only when the caller took part.
type tradeView struct {
	Price     uint64 `json:"price"`
	Quantity  uint64 `json:"quantity"`
	Timestamp uint64 `json:"timestamp"`
	Role      string `json:"role,omitempty"`
}

type matchResponse struct {
	TradeCount int         `json:"trade_count"`
	Trades     []tradeView `json:"trades"`
}

func toMatchResponse(res *engine.MatchResult, caller engine.TraderID) matchResponse {
	views := make([]tradeView, 0, len(res.Trades))
	for _, t := range res.Trades {
		v := tradeView{Price: t.Price, Quantity: t.Quantity, Timestamp: t.Timestamp}
		switch caller {
		case t.BuyerID:
			v.Role = "buyer"
		case t.SellerID:
			v.Role = "seller"
		}
		views = append(views, v)
	}
	return matchResponse{TradeCount: res.TradeCount, Trades: views}
}

func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		if fe.Tag() == "required" {
			msgs = append(msgs, field+" is required")
		} else {
			msgs = append(msgs, field+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}
