package service

import (
	"context"
	"errors"
	"testing"

	"saboracampo/backend/internal/domain"
	"saboracampo/backend/internal/store"
)

func TestLookupItemByBarcode(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	item, err := svc.LookupItemByBarcode(ctx, "7790001000011")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if item.ID != "item-huevos" || item.UnitPriceCents != 320000 {
		t.Fatalf("unexpected item: %+v", item)
	}

	if _, err := svc.LookupItemByBarcode(ctx, "0000000000000"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.LookupItemByBarcode(ctx, "  "); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSearchCatalogByNameFragment(t *testing.T) {
	svc, _ := newTestService()

	items, err := svc.SearchCatalog(context.Background(), "queso", 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(items) != 1 || items[0].ID != "item-queso" {
		t.Fatalf("expected only queso, got %+v", items)
	}
}

func TestStockAlertsFlagRowsAtOrBelowThreshold(t *testing.T) {
	svc, repo := newTestService()

	// Drain huevos at centro down to its threshold of 10.
	if err := repo.DeductStock(context.Background(), "item-huevos", "br-centro", 70); err != nil {
		t.Fatalf("deduct: %v", err)
	}

	alerts, err := svc.StockAlerts(adminCtx(), "")
	if err != nil {
		t.Fatalf("stock alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerts))
	}
	alert := alerts[0]
	if alert.ItemID != "item-huevos" || alert.BranchID != "br-centro" || alert.Quantity != 10 {
		t.Fatalf("unexpected alert: %+v", alert)
	}
	if alert.BranchName != "Sucursal Centro" {
		t.Fatalf("expected branch name resolved, got %q", alert.BranchName)
	}

	alerts, err = svc.StockAlerts(adminCtx(), "br-norte")
	if err != nil {
		t.Fatalf("stock alerts: %v", err)
	}
	if len(alerts) != 0 {
		t.Fatalf("expected no alerts at norte, got %d", len(alerts))
	}
}

func TestStockAlertsRequireAdmin(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.StockAlerts(sellerCtx(), ""); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestAuditTrailRecordsOrderLifecycle(t *testing.T) {
	svc, _ := newTestService()

	order := openOrderWithLine(t, svc, sellerCtx(), "br-centro", "item-pan", 2)
	if _, err := svc.CloseOrder(sellerCtx(), order.ID); err != nil {
		t.Fatalf("close order: %v", err)
	}
	if _, err := svc.CompleteOrder(cashierCtx(), order.ID, domain.CompleteOrderRequest{PaymentMethod: "efectivo"}); err != nil {
		t.Fatalf("complete order: %v", err)
	}

	logs, err := svc.ListAuditLogs(adminCtx(), "", 50)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}

	actions := make(map[string]bool, len(logs))
	for _, entry := range logs {
		if entry.EntityID == order.ID {
			actions[entry.Action] = true
		}
	}
	for _, want := range []string{"order_create", "order_close", "order_complete"} {
		if !actions[want] {
			t.Fatalf("expected %s in audit trail, got %v", want, actions)
		}
	}

	if _, err := svc.ListAuditLogs(sellerCtx(), "", 50); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected forbidden for seller, got %v", err)
	}
	if _, err := svc.ListAuditLogs(adminCtx(), "not-a-date", 50); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for bad date, got %v", err)
	}
}
