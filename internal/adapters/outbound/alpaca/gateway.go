// Package alpaca implements the AccountGateway port on the Alpaca trading
// API. Every broker call goes through a rate limiter and a retry loop for
// transient failures, and the refresh operations compare broker state against
// cached order snapshots so an unchanged order causes no writes and no
// events.
package alpaca

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	api "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"golang.org/x/time/rate"

	"github.com/stratalab/tradexec/internal/domain/entity"
	"github.com/stratalab/tradexec/internal/pkg/retry"
	"github.com/stratalab/tradexec/internal/ports/outbound"
)

// Compile-time check that Gateway implements outbound.AccountGateway.
var _ outbound.AccountGateway = (*Gateway)(nil)

// brokerAPI is the subset of the Alpaca trading client the gateway uses.
// The SDK takes no context; cancellation is handled around the calls.
type brokerAPI interface {
	PlaceOrder(req api.PlaceOrderRequest) (*api.Order, error)
	GetOrders(req api.GetOrdersRequest) ([]api.Order, error)
	GetPositions() ([]api.Position, error)
}

// rateBurst is the token bucket size for the broker API limiter.
const rateBurst = 5

// Config holds configuration for the Alpaca gateway.
type Config struct {
	// APIKey is the Alpaca API key ID.
	APIKey string

	// APISecret is the Alpaca API secret key.
	APISecret string

	// BaseURL is the trading API base URL.
	// Defaults to the paper trading endpoint.
	BaseURL string

	// MaxRetries is the maximum number of retry attempts for transient failures.
	MaxRetries int

	// InitialBackoff is the initial delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum delay between retries.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to backoff after each retry.
	BackoffFactor float64

	// RateLimitPerMin is the rate limit in requests per minute.
	// Defaults to 180 to stay under Alpaca's 200/min limit.
	RateLimitPerMin int

	// Logger is the structured logger for the gateway.
	Logger *slog.Logger
}

// ConfigDefaults returns a config with default values. The base URL points at
// the paper trading environment; live trading must be configured explicitly.
func ConfigDefaults() Config {
	return Config{
		BaseURL:         "https://paper-api.alpaca.markets",
		MaxRetries:      3,
		InitialBackoff:  500 * time.Millisecond,
		MaxBackoff:      10 * time.Second,
		BackoffFactor:   2.0,
		RateLimitPerMin: 180,
		Logger:          slog.Default(),
	}
}

func applyDefaults(config *Config, defaults Config) {
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.BackoffFactor == 0 {
		config.BackoffFactor = defaults.BackoffFactor
	}
	if config.RateLimitPerMin == 0 {
		config.RateLimitPerMin = defaults.RateLimitPerMin
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
}

// Gateway implements AccountGateway against the Alpaca trading API.
type Gateway struct {
	client       brokerAPI
	orders       outbound.OrderRepository
	transactions outbound.TransactionRepository
	snapshots    outbound.OrderSnapshotCache
	events       outbound.EventSink
	logger       *slog.Logger
	limiter      *rate.Limiter
	retryConfig  retry.Config
}

// NewGateway creates a Gateway backed by the real Alpaca client.
func NewGateway(
	config Config,
	orders outbound.OrderRepository,
	transactions outbound.TransactionRepository,
	snapshots outbound.OrderSnapshotCache,
	events outbound.EventSink,
) (*Gateway, error) {
	if config.APIKey == "" {
		return nil, errors.New("APIKey is required")
	}
	if config.APISecret == "" {
		return nil, errors.New("APISecret is required")
	}

	defaults := ConfigDefaults()
	applyDefaults(&config, defaults)

	client := api.NewClient(api.ClientOpts{
		APIKey:    config.APIKey,
		APISecret: config.APISecret,
		BaseURL:   config.BaseURL,
	})

	return newGateway(config, client, orders, transactions, snapshots, events)
}

func newGateway(
	config Config,
	client brokerAPI,
	orders outbound.OrderRepository,
	transactions outbound.TransactionRepository,
	snapshots outbound.OrderSnapshotCache,
	events outbound.EventSink,
) (*Gateway, error) {
	if client == nil {
		return nil, fmt.Errorf("broker client cannot be nil")
	}
	if orders == nil {
		return nil, fmt.Errorf("order repository cannot be nil")
	}
	if transactions == nil {
		return nil, fmt.Errorf("transaction repository cannot be nil")
	}
	if snapshots == nil {
		return nil, fmt.Errorf("snapshot cache cannot be nil")
	}
	if events == nil {
		return nil, fmt.Errorf("event sink cannot be nil")
	}

	rps := float64(config.RateLimitPerMin) / 60.0

	return &Gateway{
		client:       client,
		orders:       orders,
		transactions: transactions,
		snapshots:    snapshots,
		events:       events,
		logger:       config.Logger.With("component", "alpaca-gateway"),
		limiter:      rate.NewLimiter(rate.Limit(rps), rateBurst),
		retryConfig: retry.Config{
			MaxRetries:     config.MaxRetries,
			InitialBackoff: config.InitialBackoff,
			MaxBackoff:     config.MaxBackoff,
			BackoffFactor:  config.BackoffFactor,
			Jitter:         false,
		},
	}, nil
}

// SubmitOrder implements outbound.AccountGateway. The order is placed with
// its ClientOrderID as the idempotency key; the returned copy carries the
// broker order ID, the mapped broker status and any immediate fill. The input
// order is not mutated and nothing is persisted here.
func (g *Gateway) SubmitOrder(ctx context.Context, order *entity.Order) (*entity.Order, error) {
	if order == nil {
		return nil, fmt.Errorf("order cannot be nil")
	}

	req, err := placeOrderRequest(order)
	if err != nil {
		return nil, fmt.Errorf("failed to build broker request for order %d: %w", order.ID, err)
	}

	placed, err := g.callPlaceOrder(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to place order %d: %w", order.ID, err)
	}

	status, known := orderStatusFromBroker(placed.Status)
	if !known {
		g.logger.Warn("unknown broker order status",
			"orderId", order.ID,
			"brokerOrderId", placed.ID,
			"status", placed.Status,
		)
	}

	accepted := order.Clone()
	accepted.BrokerOrderID = placed.ID
	accepted.Status = status
	accepted.FilledQuantity = placed.FilledQty
	if placed.FilledAvgPrice != nil {
		accepted.FilledAvgPrice = *placed.FilledAvgPrice
	}

	g.logger.Info("order placed",
		"orderId", order.ID,
		"clientOrderId", order.ClientOrderID,
		"brokerOrderId", placed.ID,
		"symbol", order.Symbol,
		"status", accepted.Status,
	)
	return accepted, nil
}

// RefreshOrders implements outbound.AccountGateway. It reconciles every local
// open order of the expert against the broker in a single GetOrders call.
// Orders without a broker ID are skipped; per-order failures are collected so
// one bad order does not stop the rest.
func (g *Gateway) RefreshOrders(ctx context.Context, expertID int64) error {
	local, err := g.orders.ListByStatus(ctx, entity.OrderStatusOpen)
	if err != nil {
		return fmt.Errorf("failed to list open orders: %w", err)
	}

	var tracked []*entity.Order
	for _, order := range local {
		if order.ExpertID != expertID || order.BrokerOrderID == "" {
			continue
		}
		tracked = append(tracked, order)
	}
	if len(tracked) == 0 {
		return nil
	}

	symbolSet := make(map[string]bool, len(tracked))
	var symbols []string
	for _, order := range tracked {
		if !symbolSet[order.Symbol] {
			symbolSet[order.Symbol] = true
			symbols = append(symbols, order.Symbol)
		}
	}
	sort.Strings(symbols)

	brokerOrders, err := g.callGetOrders(ctx, api.GetOrdersRequest{
		Status:  "all",
		Symbols: symbols,
		Limit:   500,
	})
	if err != nil {
		return fmt.Errorf("failed to fetch broker orders: %w", err)
	}

	byID := make(map[string]*api.Order, len(brokerOrders))
	for i := range brokerOrders {
		byID[brokerOrders[i].ID] = &brokerOrders[i]
	}

	var errs []error
	for _, order := range tracked {
		brokerOrder, ok := byID[order.BrokerOrderID]
		if !ok {
			g.logger.Warn("open order unknown to broker",
				"orderId", order.ID,
				"brokerOrderId", order.BrokerOrderID,
			)
			continue
		}
		if err := g.applyBrokerState(ctx, order, brokerOrder); err != nil {
			errs = append(errs, fmt.Errorf("order %d: %w", order.ID, err))
		}
	}
	return errors.Join(errs...)
}

// applyBrokerState persists broker-side changes for one tracked order and
// publishes the matching events. The snapshot cache short-circuits the whole
// step when the broker state is identical to the last observation.
func (g *Gateway) applyBrokerState(ctx context.Context, order *entity.Order, brokerOrder *api.Order) error {
	now := time.Now().UTC()
	snapshot := snapshotOf(brokerOrder, now)

	cached, err := g.snapshots.GetOrderSnapshot(ctx, order.BrokerOrderID)
	if err != nil {
		g.logger.Warn("failed to read order snapshot",
			"brokerOrderId", order.BrokerOrderID,
			"error", err,
		)
	}
	if cached != nil && sameSnapshot(cached, snapshot) {
		return nil
	}

	status, known := orderStatusFromBroker(brokerOrder.Status)
	if !known {
		g.logger.Warn("unknown broker order status, keeping order open",
			"orderId", order.ID,
			"brokerOrderId", order.BrokerOrderID,
			"status", brokerOrder.Status,
		)
	}

	updated := order.Clone()
	updated.Status = status
	updated.FilledQuantity = brokerOrder.FilledQty
	if brokerOrder.FilledAvgPrice != nil {
		updated.FilledAvgPrice = *brokerOrder.FilledAvgPrice
	}

	statusChanged := updated.Status != order.Status
	fillChanged := !updated.FilledQuantity.Equal(order.FilledQuantity) ||
		!updated.FilledAvgPrice.Equal(order.FilledAvgPrice)

	if statusChanged || fillChanged {
		if err := g.orders.Update(ctx, updated); err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
	}

	if statusChanged {
		g.logger.Info("order status changed at broker",
			"orderId", updated.ID,
			"brokerOrderId", updated.BrokerOrderID,
			"oldStatus", order.Status,
			"newStatus", updated.Status,
		)
		event := outbound.OrderStatusEvent{
			OrderID:       updated.ID,
			ExpertID:      updated.ExpertID,
			Symbol:        updated.Symbol,
			OldStatus:     order.Status,
			NewStatus:     updated.Status,
			BrokerOrderID: updated.BrokerOrderID,
			OccurredAt:    now,
		}
		if err := g.events.Publish(ctx, event); err != nil {
			g.logger.Error("failed to publish order status event",
				"orderId", updated.ID,
				"error", err,
			)
		}
	}

	if fillChanged && updated.FilledQuantity.IsPositive() {
		event := outbound.OrderFillEvent{
			OrderID:        updated.ID,
			ExpertID:       updated.ExpertID,
			Symbol:         updated.Symbol,
			FilledQuantity: updated.FilledQuantity.String(),
			FilledAvgPrice: updated.FilledAvgPrice.String(),
			OccurredAt:     now,
		}
		if err := g.events.Publish(ctx, event); err != nil {
			g.logger.Error("failed to publish order fill event",
				"orderId", updated.ID,
				"error", err,
			)
		}
	}

	if err := g.snapshots.SetOrderSnapshot(ctx, snapshot); err != nil {
		g.logger.Warn("failed to store order snapshot",
			"brokerOrderId", order.BrokerOrderID,
			"error", err,
		)
	}
	return nil
}

// RefreshPositions implements outbound.AccountGateway. Broker positions are
// the ground truth for opened transactions: a missing position closes the
// transaction, and a present one backfills a zero OpenPrice from the average
// entry price.
func (g *Gateway) RefreshPositions(ctx context.Context, expertID int64) error {
	positions, err := g.callGetPositions(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch broker positions: %w", err)
	}

	held := make(map[string]*api.Position, len(positions))
	for i := range positions {
		held[positions[i].Symbol] = &positions[i]
	}

	filled, err := g.orders.ListByStatus(ctx, entity.OrderStatusFilled)
	if err != nil {
		return fmt.Errorf("failed to list filled orders: %w", err)
	}

	var errs []error
	seen := make(map[int64]bool)
	for _, order := range filled {
		if order.ExpertID != expertID || order.TransactionID == nil || seen[*order.TransactionID] {
			continue
		}
		seen[*order.TransactionID] = true

		txn, err := g.transactions.Get(ctx, *order.TransactionID)
		if err != nil {
			errs = append(errs, fmt.Errorf("transaction %d: %w", *order.TransactionID, err))
			continue
		}
		if txn == nil || txn.Status != entity.TransactionStatusOpened {
			continue
		}

		position, ok := held[txn.Symbol]
		if !ok {
			txn.Status = entity.TransactionStatusClosed
			if err := g.transactions.Update(ctx, txn); err != nil {
				errs = append(errs, fmt.Errorf("transaction %d: %w", txn.ID, err))
				continue
			}
			g.logger.Info("symbol no longer held at broker, transaction closed",
				"transactionId", txn.ID,
				"symbol", txn.Symbol,
			)
			continue
		}

		if txn.OpenPrice.IsZero() && position.AvgEntryPrice.IsPositive() {
			txn.OpenPrice = position.AvgEntryPrice
			if err := g.transactions.Update(ctx, txn); err != nil {
				errs = append(errs, fmt.Errorf("transaction %d: %w", txn.ID, err))
			}
		}
	}
	return errors.Join(errs...)
}

// RefreshTransactions implements outbound.AccountGateway. It walks filled
// orders linked to a transaction: a filled entry (no dependency) opens a
// waiting transaction at the fill price, a filled protective leg closes an
// opened one.
func (g *Gateway) RefreshTransactions(ctx context.Context, expertID int64) error {
	filled, err := g.orders.ListByStatus(ctx, entity.OrderStatusFilled)
	if err != nil {
		return fmt.Errorf("failed to list filled orders: %w", err)
	}

	var errs []error
	for _, order := range filled {
		if order.ExpertID != expertID || order.TransactionID == nil {
			continue
		}

		txn, err := g.transactions.Get(ctx, *order.TransactionID)
		if err != nil {
			errs = append(errs, fmt.Errorf("order %d: %w", order.ID, err))
			continue
		}
		if txn == nil {
			g.logger.Warn("filled order links a missing transaction",
				"orderId", order.ID,
				"transactionId", *order.TransactionID,
			)
			continue
		}

		switch {
		case !order.IsDependent() && txn.Status == entity.TransactionStatusWaiting:
			txn.Status = entity.TransactionStatusOpened
			txn.OpenPrice = order.FilledAvgPrice
		case order.IsDependent() && txn.Status == entity.TransactionStatusOpened:
			txn.Status = entity.TransactionStatusClosed
			txn.ClosePrice = order.FilledAvgPrice
		default:
			continue
		}

		if err := g.transactions.Update(ctx, txn); err != nil {
			errs = append(errs, fmt.Errorf("transaction %d: %w", txn.ID, err))
			continue
		}
		g.logger.Info("transaction status advanced",
			"transactionId", txn.ID,
			"symbol", txn.Symbol,
			"status", txn.Status,
			"orderId", order.ID,
		)
	}
	return errors.Join(errs...)
}

func (g *Gateway) callPlaceOrder(ctx context.Context, req api.PlaceOrderRequest) (*api.Order, error) {
	return retry.Do(ctx, g.retryConfig, g.isRetryable, g.onRetry, func() (*api.Order, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, &nonRetryableError{err: fmt.Errorf("rate limiter: %w", err)}
		}
		return g.client.PlaceOrder(req)
	})
}

func (g *Gateway) callGetOrders(ctx context.Context, req api.GetOrdersRequest) ([]api.Order, error) {
	return retry.Do(ctx, g.retryConfig, g.isRetryable, g.onRetry, func() ([]api.Order, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, &nonRetryableError{err: fmt.Errorf("rate limiter: %w", err)}
		}
		return g.client.GetOrders(req)
	})
}

func (g *Gateway) callGetPositions(ctx context.Context) ([]api.Position, error) {
	return retry.Do(ctx, g.retryConfig, g.isRetryable, g.onRetry, func() ([]api.Position, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, &nonRetryableError{err: fmt.Errorf("rate limiter: %w", err)}
		}
		return g.client.GetPositions()
	})
}

// isRetryable treats network failures and broker throttling or 5xx responses
// as transient. Validation rejections (other 4xx) are permanent.
func (g *Gateway) isRetryable(err error) bool {
	var nonRetryable *nonRetryableError
	if errors.As(err, &nonRetryable) {
		return false
	}
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return true
}

func (g *Gateway) onRetry(attempt int, err error, backoff time.Duration) {
	g.logger.Warn("broker call failed, retrying",
		"attempt", attempt,
		"maxRetries", g.retryConfig.MaxRetries,
		"backoff", backoff,
		"error", err,
	)
}

// nonRetryableError wraps errors that should not be retried.
type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string {
	return e.err.Error()
}

func (e *nonRetryableError) Unwrap() error {
	return e.err
}
