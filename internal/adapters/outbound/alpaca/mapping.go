package alpaca

import (
	"fmt"
	"time"

	api "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"github.com/stratalab/tradexec/internal/domain/entity"
	"github.com/stratalab/tradexec/internal/ports/outbound"
)

// placeOrderRequest builds the broker request for a local order. Zero prices
// mean unset and are omitted so market orders do not carry stray limits.
func placeOrderRequest(order *entity.Order) (api.PlaceOrderRequest, error) {
	side, err := brokerSide(order.Side)
	if err != nil {
		return api.PlaceOrderRequest{}, err
	}
	orderType, err := brokerOrderType(order.Type)
	if err != nil {
		return api.PlaceOrderRequest{}, err
	}
	tif, err := brokerTimeInForce(order.TimeInForce)
	if err != nil {
		return api.PlaceOrderRequest{}, err
	}

	qty := order.Quantity
	req := api.PlaceOrderRequest{
		Symbol:        order.Symbol,
		Qty:           &qty,
		Side:          side,
		Type:          orderType,
		TimeInForce:   tif,
		ClientOrderID: order.ClientOrderID,
	}
	if !order.LimitPrice.IsZero() {
		limit := order.LimitPrice
		req.LimitPrice = &limit
	}
	if !order.StopPrice.IsZero() {
		stop := order.StopPrice
		req.StopPrice = &stop
	}
	return req, nil
}

func brokerSide(side entity.OrderSide) (api.Side, error) {
	switch side {
	case entity.OrderSideBuy:
		return api.Buy, nil
	case entity.OrderSideSell:
		return api.Sell, nil
	default:
		return "", fmt.Errorf("unmappable order side: %q", side)
	}
}

func brokerOrderType(orderType entity.OrderType) (api.OrderType, error) {
	switch orderType {
	case entity.OrderTypeMarket:
		return api.Market, nil
	case entity.OrderTypeLimit:
		return api.Limit, nil
	case entity.OrderTypeStop:
		return api.Stop, nil
	case entity.OrderTypeStopLimit:
		return api.StopLimit, nil
	default:
		return "", fmt.Errorf("unmappable order type: %q", orderType)
	}
}

// brokerTimeInForce maps the local TIF string onto the SDK constant. An empty
// value means day, matching the entity default.
func brokerTimeInForce(tif string) (api.TimeInForce, error) {
	switch tif {
	case "", "day":
		return api.Day, nil
	case "gtc":
		return api.GTC, nil
	case "opg":
		return api.OPG, nil
	case "cls":
		return api.CLS, nil
	case "ioc":
		return api.IOC, nil
	case "fok":
		return api.FOK, nil
	default:
		return "", fmt.Errorf("unmappable time in force: %q", tif)
	}
}

// orderStatusFromBroker maps an Alpaca order status onto the local lifecycle.
// Every working status maps to open. Unknown statuses also map to open and
// return false so callers can log them; open keeps the order tracked until a
// later refresh resolves it.
func orderStatusFromBroker(status string) (entity.OrderStatus, bool) {
	switch status {
	case "filled":
		return entity.OrderStatusFilled, true
	case "canceled", "expired", "replaced", "done_for_day":
		return entity.OrderStatusCancelled, true
	case "rejected":
		return entity.OrderStatusRejected, true
	case "new", "accepted", "pending_new", "accepted_for_bidding", "partially_filled",
		"pending_cancel", "pending_replace", "calculated", "stopped", "suspended", "held":
		return entity.OrderStatusOpen, true
	default:
		return entity.OrderStatusOpen, false
	}
}

// snapshotOf captures the comparable broker-side state of an order.
func snapshotOf(brokerOrder *api.Order, observedAt time.Time) *outbound.OrderSnapshot {
	snapshot := &outbound.OrderSnapshot{
		BrokerOrderID:  brokerOrder.ID,
		Status:         brokerOrder.Status,
		FilledQuantity: brokerOrder.FilledQty.String(),
		ObservedAt:     observedAt,
	}
	if brokerOrder.FilledAvgPrice != nil {
		snapshot.FilledAvgPrice = brokerOrder.FilledAvgPrice.String()
	}
	return snapshot
}

// sameSnapshot reports whether two snapshots describe the same broker state.
// ObservedAt is not compared.
func sameSnapshot(a, b *outbound.OrderSnapshot) bool {
	return a.Status == b.Status &&
		a.FilledQuantity == b.FilledQuantity &&
		a.FilledAvgPrice == b.FilledAvgPrice
}
