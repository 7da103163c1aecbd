package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stratalab/tradexec/internal/domain/entity"
	"github.com/stratalab/tradexec/internal/ports/outbound"
)

// Compile-time check that OrderRepository implements outbound.OrderRepository
var _ outbound.OrderRepository = (*OrderRepository)(nil)

// orderColumns is the canonical column list for order scans. Keep in sync
// with scanOrder.
const orderColumns = `id, client_order_id, broker_order_id, expert_id, symbol, side, order_type,
	time_in_force, status, quantity, filled_quantity, filled_avg_price, limit_price, stop_price,
	depends_on_order_id, depends_on_status, transaction_id, aux_data, created_at, updated_at`

// terminalOrderStatuses mirrors entity.OrderStatus.IsTerminal for SQL filters.
var terminalOrderStatuses = []string{
	string(entity.OrderStatusFilled),
	string(entity.OrderStatusCancelled),
	string(entity.OrderStatusRejected),
	string(entity.OrderStatusError),
}

// OrderRepository is a PostgreSQL implementation of the outbound.OrderRepository port.
type OrderRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewOrderRepository creates a new PostgreSQL order repository.
func NewOrderRepository(pool *pgxpool.Pool, logger *slog.Logger) (*OrderRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderRepository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Add inserts the order within the caller's transaction and returns the
// assigned ID. The order's ID and timestamps are written back on success.
func (r *OrderRepository) Add(ctx context.Context, tx pgx.Tx, order *entity.Order) (int64, error) {
	if order == nil {
		return 0, fmt.Errorf("order cannot be nil")
	}

	aux, err := marshalJSONMap(order.AuxData)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal order aux data: %w", err)
	}

	now := time.Now().UTC()
	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO orders (client_order_id, broker_order_id, expert_id, symbol, side, order_type,
			time_in_force, status, quantity, filled_quantity, filled_avg_price, limit_price, stop_price,
			depends_on_order_id, depends_on_status, transaction_id, aux_data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		 RETURNING id`,
		order.ClientOrderID, order.BrokerOrderID, order.ExpertID, order.Symbol,
		string(order.Side), string(order.Type), order.TimeInForce, string(order.Status),
		numericString(order.Quantity), numericString(order.FilledQuantity),
		numericString(order.FilledAvgPrice), numericString(order.LimitPrice),
		numericString(order.StopPrice), order.DependsOnOrderID, string(order.DependsOnStatus),
		order.TransactionID, aux, now, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert order: %w", err)
	}

	order.ID = id
	order.CreatedAt = now
	order.UpdatedAt = now
	return id, nil
}

// Get returns the order with the given ID, or (nil, nil) if absent.
func (r *OrderRepository) Get(ctx context.Context, id int64) (*entity.Order, error) {
	return r.get(ctx, r.pool, id)
}

// GetTx is Get inside a caller-managed transaction.
func (r *OrderRepository) GetTx(ctx context.Context, tx pgx.Tx, id int64) (*entity.Order, error) {
	return r.get(ctx, tx, id)
}

func (r *OrderRepository) get(ctx context.Context, q querier, id int64) (*entity.Order, error) {
	row := q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order %d: %w", id, err)
	}
	return order, nil
}

// Update persists all mutable fields of the order and bumps its updated_at.
func (r *OrderRepository) Update(ctx context.Context, order *entity.Order) error {
	return r.update(ctx, r.pool, order)
}

// UpdateTx is Update inside a caller-managed transaction.
func (r *OrderRepository) UpdateTx(ctx context.Context, tx pgx.Tx, order *entity.Order) error {
	return r.update(ctx, tx, order)
}

func (r *OrderRepository) update(ctx context.Context, q querier, order *entity.Order) error {
	if order == nil {
		return fmt.Errorf("order cannot be nil")
	}

	aux, err := marshalJSONMap(order.AuxData)
	if err != nil {
		return fmt.Errorf("failed to marshal order aux data: %w", err)
	}

	now := time.Now().UTC()
	tag, err := q.Exec(ctx,
		`UPDATE orders SET
			broker_order_id = $2, status = $3, quantity = $4, filled_quantity = $5,
			filled_avg_price = $6, limit_price = $7, stop_price = $8,
			depends_on_order_id = $9, depends_on_status = $10, transaction_id = $11,
			aux_data = $12, updated_at = $13
		 WHERE id = $1`,
		order.ID, order.BrokerOrderID, string(order.Status),
		numericString(order.Quantity), numericString(order.FilledQuantity),
		numericString(order.FilledAvgPrice), numericString(order.LimitPrice),
		numericString(order.StopPrice), order.DependsOnOrderID, string(order.DependsOnStatus),
		order.TransactionID, aux, now)
	if err != nil {
		return fmt.Errorf("failed to update order %d: %w", order.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %d not found", order.ID)
	}

	order.UpdatedAt = now
	return nil
}

// ListWaitingTrigger returns orders in waiting_trigger status, restricted to
// dependents of parentIDs when non-empty, ordered by ID.
func (r *OrderRepository) ListWaitingTrigger(ctx context.Context, tx pgx.Tx, parentIDs []int64) ([]*entity.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE status = $1 AND depends_on_order_id IS NOT NULL`
	args := []any{string(entity.OrderStatusWaitingTrigger)}
	if len(parentIDs) > 0 {
		query += ` AND depends_on_order_id = ANY($2)`
		args = append(args, parentIDs)
	}
	query += ` ORDER BY id`

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query waiting orders: %w", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

// ListByStatus returns all orders in any of the given statuses, ordered by ID.
func (r *OrderRepository) ListByStatus(ctx context.Context, statuses ...entity.OrderStatus) ([]*entity.Order, error) {
	wanted := make([]string, len(statuses))
	for i, st := range statuses {
		wanted[i] = string(st)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status = ANY($1) ORDER BY id`, wanted)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders by status: %w", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

// ListDependents returns all orders naming parentID as parent, ordered by ID.
func (r *OrderRepository) ListDependents(ctx context.Context, tx pgx.Tx, parentID int64) ([]*entity.Order, error) {
	rows, err := tx.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE depends_on_order_id = $1 ORDER BY id`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependents of order %d: %w", parentID, err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

// LatestActiveForSymbol returns the most recently created non-terminal order
// for the expert and symbol, or (nil, nil) if there is none.
func (r *OrderRepository) LatestActiveForSymbol(ctx context.Context, expertID int64, symbol string) (*entity.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE expert_id = $1 AND symbol = $2 AND NOT (status = ANY($3))
		 ORDER BY id DESC LIMIT 1`,
		expertID, symbol, terminalOrderStatuses)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest active order for expert %d symbol %s: %w", expertID, symbol, err)
	}
	return order, nil
}

// Delete removes the order row. Cleanup only.
func (r *OrderRepository) Delete(ctx context.Context, tx pgx.Tx, id int64) error {
	tag, err := tx.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete order %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %d not found", id)
	}
	return nil
}

// scanOrder scans a single order row. Column order must match orderColumns.
func scanOrder(row pgx.Row) (*entity.Order, error) {
	var o entity.Order
	var qty, filledQty, filledAvg, limitPx, stopPx string
	var aux []byte
	err := row.Scan(
		&o.ID, &o.ClientOrderID, &o.BrokerOrderID, &o.ExpertID, &o.Symbol, &o.Side, &o.Type,
		&o.TimeInForce, &o.Status, &qty, &filledQty, &filledAvg, &limitPx, &stopPx,
		&o.DependsOnOrderID, &o.DependsOnStatus, &o.TransactionID, &aux, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if o.Quantity, err = parseNumeric(qty, "quantity"); err != nil {
		return nil, err
	}
	if o.FilledQuantity, err = parseNumeric(filledQty, "filled_quantity"); err != nil {
		return nil, err
	}
	if o.FilledAvgPrice, err = parseNumeric(filledAvg, "filled_avg_price"); err != nil {
		return nil, err
	}
	if o.LimitPrice, err = parseNumeric(limitPx, "limit_price"); err != nil {
		return nil, err
	}
	if o.StopPrice, err = parseNumeric(stopPx, "stop_price"); err != nil {
		return nil, err
	}
	if o.AuxData, err = unmarshalJSONMap(aux); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order aux data: %w", err)
	}
	return &o, nil
}

// scanOrders drains rows into a slice, preserving query order.
func scanOrders(rows pgx.Rows) ([]*entity.Order, error) {
	var orders []*entity.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate order rows: %w", err)
	}
	return orders, nil
}
