package domain

import (
	"testing"
	"time"
)

func TestDeriveOrderStatus(t *testing.T) {
	cases := []struct {
		name  string
		items []ItemStatus
		want  OrderStatus
	}{
		{"all approved", []ItemStatus{ItemApproved, ItemApproved}, OrderApproved},
		{"all rejected", []ItemStatus{ItemRejected, ItemRejected}, OrderRejected},
		{"mix", []ItemStatus{ItemApproved, ItemRejected}, OrderPartlyApproved},
		{"any partly", []ItemStatus{ItemApproved, ItemPartlyApproved}, OrderPartlyApproved},
		{"single partly", []ItemStatus{ItemPartlyApproved}, OrderPartlyApproved},
		{"pending left", []ItemStatus{ItemApproved, ItemPending}, OrderPartlyApproved},
	}
	for _, tc := range cases {
		if got := DeriveOrderStatus(tc.items); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestTransitionTable(t *testing.T) {
	if !CanApply(OpCancel, OrderApproved) || !CanApply(OpCancel, OrderPartlyApproved) {
		t.Fatalf("cancel must be allowed from approved states")
	}
	if CanApply(OpCancel, OrderDelivering) {
		t.Fatalf("cancel must not be allowed once delivering")
	}
	if CanApply(OpConfirmReceived, OrderReceipted) {
		t.Fatalf("confirm received must not be allowed twice")
	}
	if err := CheckTransition(OpReview, OrderSubmitted, OrderDelivering); err == nil {
		t.Fatalf("review must not jump to delivering")
	}
	if err := CheckTransition(OpStartDelivery, OrderPartlyApproved, OrderDelivering); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, terminal := range []OrderStatus{OrderRejected, OrderCancelled, OrderStocked} {
		if !terminal.Terminal() {
			t.Fatalf("%s must be terminal", terminal)
		}
		for _, op := range []Operation{OpReview, OpStartDelivery, OpConfirmReceived, OpStock, OpCancel} {
			if CanApply(op, terminal) {
				t.Fatalf("%s must not apply to terminal %s", op, terminal)
			}
		}
	}
}

func TestHoldsAllocation(t *testing.T) {
	holding := map[OrderStatus]bool{
		OrderSubmitted:      false,
		OrderApproved:       true,
		OrderPartlyApproved: true,
		OrderRejected:       false,
		OrderDelivering:     false,
		OrderReceipted:      false,
		OrderStocked:        false,
		OrderCancelled:      false,
	}
	for status, want := range holding {
		if got := status.HoldsAllocation(); got != want {
			t.Fatalf("%s: expected %v, got %v", status, want, got)
		}
	}
}

func TestComputeInventoryStatus(t *testing.T) {
	today := time.Date(2026, 5, 10, 15, 0, 0, 0, time.UTC)
	at := func(days int) *time.Time {
		d := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC).AddDate(0, 0, days)
		return &d
	}

	if got := ComputeInventoryStatus(InventoryActive, at(-1), today); got != InventoryExpired {
		t.Fatalf("expected EXPIRED, got %s", got)
	}
	if got := ComputeInventoryStatus(InventoryActive, at(0), today); got != InventoryNearExpiry {
		t.Fatalf("expiry today should be NEAR_EXPIRY, got %s", got)
	}
	if got := ComputeInventoryStatus(InventoryActive, at(3), today); got != InventoryNearExpiry {
		t.Fatalf("expiry in 3 days should be NEAR_EXPIRY, got %s", got)
	}
	if got := ComputeInventoryStatus(InventoryNearExpiry, at(4), today); got != InventoryActive {
		t.Fatalf("expiry in 4 days should be ACTIVE, got %s", got)
	}
	if got := ComputeInventoryStatus(InventoryDisposed, at(-10), today); got != InventoryDisposed {
		t.Fatalf("DISPOSED must be sticky, got %s", got)
	}
}

func TestParseReviewAction(t *testing.T) {
	action, ok := ParseReviewAction(" partly_approve ")
	if !ok || action != ActionPartlyApprove {
		t.Fatalf("expected PARTLY_APPROVE, got %q %v", action, ok)
	}
	if _, ok := ParseReviewAction("maybe"); ok {
		t.Fatalf("unknown action must not parse")
	}
	if ActionReject.ItemStatus() != ItemRejected {
		t.Fatalf("reject maps to REJECTED")
	}
}
