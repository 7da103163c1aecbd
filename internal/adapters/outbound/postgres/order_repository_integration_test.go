//go:build integration

package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stratalab/tradexec/internal/domain/entity"
	"github.com/stratalab/tradexec/internal/testutil"
)

// orderTestFixture holds test dependencies for order repository tests.
type orderTestFixture struct {
	repo *OrderRepository
	txm  *TxManager
	pool *pgxpool.Pool
}

func setupOrderTest(t *testing.T) *orderTestFixture {
	t.Helper()

	pool, _, cleanup := testutil.SetupPostgres(t)
	t.Cleanup(cleanup)

	repo, err := NewOrderRepository(pool, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	txm, err := NewTxManager(pool, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("failed to create tx manager: %v", err)
	}

	return &orderTestFixture{repo: repo, txm: txm, pool: pool}
}

// addOrder inserts an order through the repository inside a fresh transaction.
func (f *orderTestFixture) addOrder(t *testing.T, ctx context.Context, order *entity.Order) int64 {
	t.Helper()

	var id int64
	err := f.txm.WithTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		id, err = f.repo.Add(ctx, tx, order)
		return err
	})
	if err != nil {
		t.Fatalf("failed to add order: %v", err)
	}
	return id
}

// marketOrder builds a minimal valid pending order for tests.
func marketOrder(clientOrderID string, expertID int64, symbol string) *entity.Order {
	return &entity.Order{
		ClientOrderID: clientOrderID,
		ExpertID:      expertID,
		Symbol:        symbol,
		Side:          entity.OrderSideBuy,
		Type:          entity.OrderTypeMarket,
		TimeInForce:   "day",
		Status:        entity.OrderStatusPending,
		Quantity:      decimal.NewFromInt(10),
	}
}

func TestOrderRepository_AddAndGet(t *testing.T) {
	f := setupOrderTest(t)
	ctx := context.Background()

	order := marketOrder("client-1", 7, "AAPL")
	order.LimitPrice = decimal.RequireFromString("187.6500")
	order.AuxData = map[string]any{"tp_percent": 2.5}

	id := f.addOrder(t, ctx, order)
	if id == 0 {
		t.Fatal("expected non-zero ID")
	}
	if order.ID != id {
		t.Errorf("expected ID written back to entity, got %d", order.ID)
	}
	if order.CreatedAt.IsZero() || order.UpdatedAt.IsZero() {
		t.Error("expected timestamps written back to entity")
	}

	got, err := f.repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected order, got nil")
	}
	if got.ClientOrderID != "client-1" {
		t.Errorf("expected client order ID client-1, got %s", got.ClientOrderID)
	}
	if got.ExpertID != 7 || got.Symbol != "AAPL" {
		t.Errorf("unexpected expert/symbol: %d/%s", got.ExpertID, got.Symbol)
	}
	if !got.Quantity.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected quantity 10, got %s", got.Quantity)
	}
	if !got.LimitPrice.Equal(decimal.RequireFromString("187.65")) {
		t.Errorf("expected limit price 187.65, got %s", got.LimitPrice)
	}
	if got.AuxData["tp_percent"] != 2.5 {
		t.Errorf("expected aux tp_percent 2.5, got %v", got.AuxData["tp_percent"])
	}
	if got.DependsOnOrderID != nil || got.TransactionID != nil {
		t.Error("expected nil optional references")
	}
}

func TestOrderRepository_GetMissing(t *testing.T) {
	f := setupOrderTest(t)
	ctx := context.Background()

	got, err := f.repo.Get(ctx, 9999)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing order, got %+v", got)
	}
}

func TestOrderRepository_DuplicateClientOrderID(t *testing.T) {
	f := setupOrderTest(t)
	ctx := context.Background()

	f.addOrder(t, ctx, marketOrder("dup-1", 1, "AAPL"))

	err := f.txm.WithTransaction(ctx, func(tx pgx.Tx) error {
		_, err := f.repo.Add(ctx, tx, marketOrder("dup-1", 1, "MSFT"))
		return err
	})
	if err == nil {
		t.Fatal("expected unique violation for duplicate client order ID")
	}
}

func TestOrderRepository_Update(t *testing.T) {
	f := setupOrderTest(t)
	ctx := context.Background()

	order := marketOrder("client-upd", 1, "AAPL")
	id := f.addOrder(t, ctx, order)

	order.Status = entity.OrderStatusFilled
	order.BrokerOrderID = "broker-42"
	order.FilledQuantity = decimal.NewFromInt(10)
	order.FilledAvgPrice = decimal.RequireFromString("187.6512")
	if err := f.repo.Update(ctx, order); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := f.repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != entity.OrderStatusFilled {
		t.Errorf("expected status filled, got %s", got.Status)
	}
	if got.BrokerOrderID != "broker-42" {
		t.Errorf("expected broker order ID broker-42, got %s", got.BrokerOrderID)
	}
	if !got.FilledAvgPrice.Equal(decimal.RequireFromString("187.6512")) {
		t.Errorf("expected fill price 187.6512, got %s", got.FilledAvgPrice)
	}
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Error("expected updated_at to advance past created_at")
	}
}

func TestOrderRepository_UpdateMissing(t *testing.T) {
	f := setupOrderTest(t)
	ctx := context.Background()

	order := marketOrder("ghost", 1, "AAPL")
	order.ID = 12345
	if err := f.repo.Update(ctx, order); err == nil {
		t.Fatal("expected error updating missing order")
	}
}

func TestOrderRepository_ListWaitingTrigger(t *testing.T) {
	f := setupOrderTest(t)
	ctx := context.Background()

	parent1 := f.addOrder(t, ctx, marketOrder("parent-1", 1, "AAPL"))
	parent2 := f.addOrder(t, ctx, marketOrder("parent-2", 1, "MSFT"))

	dep1 := marketOrder("dep-1", 1, "AAPL")
	dep1.Status = entity.OrderStatusWaitingTrigger
	dep1.DependsOnOrderID = &parent1
	dep1.DependsOnStatus = entity.OrderStatusFilled
	dep1ID := f.addOrder(t, ctx, dep1)

	dep2 := marketOrder("dep-2", 1, "MSFT")
	dep2.Status = entity.OrderStatusWaitingTrigger
	dep2.DependsOnOrderID = &parent2
	dep2.DependsOnStatus = entity.OrderStatusFilled
	dep2ID := f.addOrder(t, ctx, dep2)

	// All waiting orders, ordered by ID.
	err := f.txm.WithTransaction(ctx, func(tx pgx.Tx) error {
		all, err := f.repo.ListWaitingTrigger(ctx, tx, nil)
		if err != nil {
			return err
		}
		if len(all) != 2 {
			t.Fatalf("expected 2 waiting orders, got %d", len(all))
		}
		if all[0].ID != dep1ID || all[1].ID != dep2ID {
			t.Errorf("expected IDs [%d %d], got [%d %d]", dep1ID, dep2ID, all[0].ID, all[1].ID)
		}

		// Restricted to one parent.
		only, err := f.repo.ListWaitingTrigger(ctx, tx, []int64{parent2})
		if err != nil {
			return err
		}
		if len(only) != 1 || only[0].ID != dep2ID {
			t.Errorf("expected only dependent of parent %d, got %+v", parent2, only)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ListWaitingTrigger failed: %v", err)
	}
}

func TestOrderRepository_ListByStatus(t *testing.T) {
	f := setupOrderTest(t)
	ctx := context.Background()

	pending := marketOrder("st-1", 1, "AAPL")
	f.addOrder(t, ctx, pending)

	open := marketOrder("st-2", 1, "MSFT")
	open.Status = entity.OrderStatusOpen
	f.addOrder(t, ctx, open)

	filled := marketOrder("st-3", 1, "GOOG")
	filled.Status = entity.OrderStatusFilled
	f.addOrder(t, ctx, filled)

	got, err := f.repo.ListByStatus(ctx, entity.OrderStatusPending, entity.OrderStatusOpen)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(got))
	}
	for _, o := range got {
		if o.Status != entity.OrderStatusPending && o.Status != entity.OrderStatusOpen {
			t.Errorf("unexpected status %s", o.Status)
		}
	}

	none, err := f.repo.ListByStatus(ctx)
	if err != nil {
		t.Fatalf("ListByStatus with no statuses failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no orders for empty status list, got %d", len(none))
	}
}

func TestOrderRepository_ListDependents(t *testing.T) {
	f := setupOrderTest(t)
	ctx := context.Background()

	parent := f.addOrder(t, ctx, marketOrder("parent", 1, "AAPL"))

	dep := marketOrder("dep", 1, "AAPL")
	dep.Status = entity.OrderStatusWaitingTrigger
	dep.DependsOnOrderID = &parent
	dep.DependsOnStatus = entity.OrderStatusFilled
	depID := f.addOrder(t, ctx, dep)

	// A dependent that already resolved still counts.
	done := marketOrder("dep-done", 1, "AAPL")
	done.Status = entity.OrderStatusFilled
	done.DependsOnOrderID = &parent
	done.DependsOnStatus = entity.OrderStatusFilled
	doneID := f.addOrder(t, ctx, done)

	err := f.txm.WithTransaction(ctx, func(tx pgx.Tx) error {
		deps, err := f.repo.ListDependents(ctx, tx, parent)
		if err != nil {
			return err
		}
		if len(deps) != 2 {
			t.Fatalf("expected 2 dependents, got %d", len(deps))
		}
		if deps[0].ID != depID || deps[1].ID != doneID {
			t.Errorf("expected IDs [%d %d], got [%d %d]", depID, doneID, deps[0].ID, deps[1].ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ListDependents failed: %v", err)
	}
}

func TestOrderRepository_LatestActiveForSymbol(t *testing.T) {
	f := setupOrderTest(t)
	ctx := context.Background()

	first := marketOrder("act-1", 3, "TSLA")
	first.Status = entity.OrderStatusOpen
	f.addOrder(t, ctx, first)

	second := marketOrder("act-2", 3, "TSLA")
	second.Status = entity.OrderStatusPending
	secondID := f.addOrder(t, ctx, second)

	// Terminal orders never win, even when newer.
	third := marketOrder("act-3", 3, "TSLA")
	third.Status = entity.OrderStatusFilled
	f.addOrder(t, ctx, third)

	got, err := f.repo.LatestActiveForSymbol(ctx, 3, "TSLA")
	if err != nil {
		t.Fatalf("LatestActiveForSymbol failed: %v", err)
	}
	if got == nil || got.ID != secondID {
		t.Fatalf("expected order %d, got %+v", secondID, got)
	}

	missing, err := f.repo.LatestActiveForSymbol(ctx, 3, "NVDA")
	if err != nil {
		t.Fatalf("LatestActiveForSymbol failed: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for symbol without orders, got %+v", missing)
	}
}

func TestOrderRepository_Delete(t *testing.T) {
	f := setupOrderTest(t)
	ctx := context.Background()

	id := f.addOrder(t, ctx, marketOrder("del-1", 1, "AAPL"))

	err := f.txm.WithTransaction(ctx, func(tx pgx.Tx) error {
		return f.repo.Delete(ctx, tx, id)
	})
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	got, err := f.repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected order deleted, got %+v", got)
	}

	err = f.txm.WithTransaction(ctx, func(tx pgx.Tx) error {
		return f.repo.Delete(ctx, tx, id)
	})
	if err == nil {
		t.Fatal("expected error deleting missing order")
	}
}
