package entity

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	// OrderStatusWaitingTrigger marks a dependent order parked until its
	// parent reaches the trigger status.
	OrderStatusWaitingTrigger OrderStatus = "waiting_trigger"
	// OrderStatusPending marks an order created locally but not yet submitted
	// to the broker.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusOpen marks an order accepted by the broker and working.
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusError     OrderStatus = "error"
)

// validOrderStatuses contains all valid order statuses for quick lookup
var validOrderStatuses = map[OrderStatus]bool{
	OrderStatusWaitingTrigger: true,
	OrderStatusPending:        true,
	OrderStatusOpen:           true,
	OrderStatusFilled:         true,
	OrderStatusCancelled:      true,
	OrderStatusRejected:       true,
	OrderStatusError:          true,
}

// IsValid returns true if the OrderStatus is a known valid status
func (s OrderStatus) IsValid() bool {
	return validOrderStatuses[s]
}

// IsTerminal returns true for statuses an order can never leave.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusError:
		return true
	default:
		return false
	}
}

// String returns the string representation of the OrderStatus
func (s OrderStatus) String() string {
	return string(s)
}

// OrderSide represents the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// IsValid returns true if the OrderSide is a known valid side
func (s OrderSide) IsValid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// OrderType represents the broker order type.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// validOrderTypes contains all valid order types for quick lookup
var validOrderTypes = map[OrderType]bool{
	OrderTypeMarket:    true,
	OrderTypeLimit:     true,
	OrderTypeStop:      true,
	OrderTypeStopLimit: true,
}

// IsValid returns true if the OrderType is a known valid type
func (t OrderType) IsValid() bool {
	return validOrderTypes[t]
}

// Keys used in Order.AuxData by the execution services.
const (
	// AuxTakeProfitPercent holds the take-profit distance as a percentage of
	// the parent's fill price.
	AuxTakeProfitPercent = "tp_percent"
	// AuxStopLossPercent holds the stop-loss distance as a percentage of the
	// parent's fill price.
	AuxStopLossPercent = "sl_percent"
	// AuxTriggerError records why the trigger engine moved the order to error.
	AuxTriggerError = "trigger_error"
	// AuxTriggerNote records non-fatal trigger engine decisions.
	AuxTriggerNote = "trigger_note"
	// AuxSubmitError records why submission to the broker failed.
	AuxSubmitError = "submit_error"
	// AuxParentFillPrice records the parent fill price a trigger-time price
	// rewrite was anchored to.
	AuxParentFillPrice = "parent_filled_price"
	// AuxPriceRecalculated marks orders whose limit or stop price was
	// rewritten at trigger time.
	AuxPriceRecalculated = "price_recalculated"
)

// Order represents a single broker order tracked by the execution core.
// Dependent orders (take-profit and stop-loss legs) reference their parent
// through DependsOnOrderID and stay in waiting_trigger until the parent
// reaches DependsOnStatus.
type Order struct {
	ID               int64
	ClientOrderID    string // idempotency key toward the broker, unique
	BrokerOrderID    string // assigned by the broker on acceptance
	ExpertID         int64
	Symbol           string
	Side             OrderSide
	Type             OrderType
	TimeInForce      string
	Status           OrderStatus
	Quantity         decimal.Decimal // zero until resolved for dependent orders
	FilledQuantity   decimal.Decimal
	FilledAvgPrice   decimal.Decimal
	LimitPrice       decimal.Decimal
	StopPrice        decimal.Decimal
	DependsOnOrderID *int64
	DependsOnStatus  OrderStatus // trigger status, meaningful only with DependsOnOrderID
	TransactionID    *int64
	AuxData          map[string]any
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewOrder creates a new Order with validation.
func NewOrder(expertID int64, symbol string, side OrderSide, orderType OrderType, status OrderStatus) (*Order, error) {
	o := &Order{
		ExpertID:    expertID,
		Symbol:      symbol,
		Side:        side,
		Type:        orderType,
		TimeInForce: "day",
		Status:      status,
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// Validate checks that all fields have valid values.
func (o *Order) Validate() error {
	if o.ExpertID <= 0 {
		return fmt.Errorf("expertID must be positive, got %d", o.ExpertID)
	}
	if o.Symbol == "" {
		return fmt.Errorf("symbol must not be empty")
	}
	if !o.Side.IsValid() {
		return fmt.Errorf("invalid order side: %q", o.Side)
	}
	if !o.Type.IsValid() {
		return fmt.Errorf("invalid order type: %q", o.Type)
	}
	if !o.Status.IsValid() {
		return fmt.Errorf("invalid order status: %q", o.Status)
	}
	if o.Status == OrderStatusWaitingTrigger {
		if o.DependsOnOrderID != nil && *o.DependsOnOrderID <= 0 {
			return fmt.Errorf("dependsOnOrderID must be positive, got %d", *o.DependsOnOrderID)
		}
		if !o.DependsOnStatus.IsValid() {
			return fmt.Errorf("waiting_trigger order needs a valid trigger status, got %q", o.DependsOnStatus)
		}
	}
	if o.Quantity.IsNegative() {
		return fmt.Errorf("quantity must not be negative, got %s", o.Quantity)
	}
	return nil
}

// IsDependent reports whether the order waits on a parent order.
func (o *Order) IsDependent() bool {
	return o.DependsOnOrderID != nil
}

// AuxFloat returns the numeric value stored under key in AuxData.
func (o *Order) AuxFloat(key string) (float64, bool) {
	if o.AuxData == nil {
		return 0, false
	}
	switch v := o.AuxData[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// SetAux writes key into AuxData, allocating the map when nil.
func (o *Order) SetAux(key string, value any) {
	if o.AuxData == nil {
		o.AuxData = make(map[string]any)
	}
	o.AuxData[key] = value
}

// Clone returns a deep copy of the order. Pointer references and the aux map
// are copied so mutating the clone never touches the original.
func (o *Order) Clone() *Order {
	c := *o
	if o.DependsOnOrderID != nil {
		id := *o.DependsOnOrderID
		c.DependsOnOrderID = &id
	}
	if o.TransactionID != nil {
		id := *o.TransactionID
		c.TransactionID = &id
	}
	if o.AuxData != nil {
		c.AuxData = make(map[string]any, len(o.AuxData))
		for k, v := range o.AuxData {
			c.AuxData[k] = v
		}
	}
	return &c
}
