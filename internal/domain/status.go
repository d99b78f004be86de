package domain

import (
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleCentral Role = "CENTRAL_STAFF"
	RoleStore   Role = "STORE_STAFF"
)

func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToUpper(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleCentral:
		return RoleCentral, true
	case RoleStore:
		return RoleStore, true
	}
	return "", false
}

type OrderStatus string

const (
	OrderSubmitted      OrderStatus = "SUBMITTED"
	OrderApproved       OrderStatus = "APPROVED"
	OrderPartlyApproved OrderStatus = "PARTLY_APPROVED"
	OrderRejected       OrderStatus = "REJECTED"
	OrderDelivering     OrderStatus = "DELIVERING"
	OrderReceipted      OrderStatus = "RECEIPTED"
	OrderStocked        OrderStatus = "STOCKED"
	OrderCancelled      OrderStatus = "CANCELLED"
)

func ParseOrderStatus(raw string) (OrderStatus, bool) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch status {
	case OrderSubmitted, OrderApproved, OrderPartlyApproved, OrderRejected,
		OrderDelivering, OrderReceipted, OrderStocked, OrderCancelled:
		return status, true
	}
	return "", false
}

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderRejected || s == OrderCancelled || s == OrderStocked
}

// HoldsAllocation reports whether the order's batch lines still claim central
// stock that has not been debited.
func (s OrderStatus) HoldsAllocation() bool {
	return s == OrderApproved || s == OrderPartlyApproved
}

type ItemStatus string

const (
	ItemPending        ItemStatus = "PENDING"
	ItemApproved       ItemStatus = "APPROVED"
	ItemPartlyApproved ItemStatus = "PARTLY_APPROVED"
	ItemRejected       ItemStatus = "REJECTED"
)

type ReviewAction string

const (
	ActionApprove       ReviewAction = "APPROVE"
	ActionPartlyApprove ReviewAction = "PARTLY_APPROVE"
	ActionReject        ReviewAction = "REJECT"
)

func ParseReviewAction(raw string) (ReviewAction, bool) {
	action := ReviewAction(strings.ToUpper(strings.TrimSpace(raw)))
	switch action {
	case ActionApprove, ActionPartlyApprove, ActionReject:
		return action, true
	}
	return "", false
}

// ItemStatus maps a review decision to the status the item ends up in.
func (a ReviewAction) ItemStatus() ItemStatus {
	switch a {
	case ActionApprove:
		return ItemApproved
	case ActionPartlyApprove:
		return ItemPartlyApproved
	default:
		return ItemRejected
	}
}

type InventoryStatus string

const (
	InventoryActive     InventoryStatus = "ACTIVE"
	InventoryNearExpiry InventoryStatus = "NEAR_EXPIRY"
	InventoryExpired    InventoryStatus = "EXPIRED"
	InventoryDisposed   InventoryStatus = "DISPOSED"
)

// Allocatable reports whether stock in this status may be promised to an order.
func (s InventoryStatus) Allocatable() bool {
	return s == InventoryActive || s == InventoryNearExpiry
}

type DisposalReason string

const (
	DisposeExpired   DisposalReason = "EXPIRED"
	DisposeWrongData DisposalReason = "WRONG_DATA"
	DisposeDefective DisposalReason = "DEFECTIVE"
)

func ParseDisposalReason(raw string) (DisposalReason, bool) {
	reason := DisposalReason(strings.ToUpper(strings.TrimSpace(raw)))
	switch reason {
	case DisposeExpired, DisposeWrongData, DisposeDefective:
		return reason, true
	}
	return "", false
}

type BatchStatus string

const (
	BatchPlanned   BatchStatus = "PLANNED"
	BatchProduced  BatchStatus = "PRODUCED"
	BatchStocked   BatchStatus = "STOCKED"
	BatchCancelled BatchStatus = "CANCELLED"
)

type Operation string

const (
	OpReview          Operation = "review"
	OpStartDelivery   Operation = "start delivery"
	OpConfirmReceived Operation = "confirm received"
	OpStock           Operation = "stock"
	OpCancel          Operation = "cancel"
)

type transition struct {
	from []OrderStatus
	to   []OrderStatus
}

var orderTransitions = map[Operation]transition{
	OpReview: {
		from: []OrderStatus{OrderSubmitted},
		to:   []OrderStatus{OrderApproved, OrderPartlyApproved, OrderRejected},
	},
	OpStartDelivery: {
		from: []OrderStatus{OrderApproved, OrderPartlyApproved},
		to:   []OrderStatus{OrderDelivering},
	},
	OpConfirmReceived: {
		from: []OrderStatus{OrderDelivering},
		to:   []OrderStatus{OrderReceipted},
	},
	OpStock: {
		from: []OrderStatus{OrderReceipted},
		to:   []OrderStatus{OrderStocked},
	},
	OpCancel: {
		from: []OrderStatus{OrderApproved, OrderPartlyApproved},
		to:   []OrderStatus{OrderCancelled},
	},
}

// AllowedFrom returns the order statuses op may start from.
func AllowedFrom(op Operation) []OrderStatus {
	t, ok := orderTransitions[op]
	if !ok {
		return nil
	}
	return append([]OrderStatus(nil), t.from...)
}

// CanApply reports whether op is permitted while the order is in current.
func CanApply(op Operation, current OrderStatus) bool {
	t, ok := orderTransitions[op]
	if !ok {
		return false
	}
	return containsStatus(t.from, current)
}

// CheckTransition validates the full edge current -> next for op.
func CheckTransition(op Operation, current OrderStatus, next OrderStatus) error {
	t, ok := orderTransitions[op]
	if !ok {
		return fmt.Errorf("unknown operation %q", op)
	}
	if !containsStatus(t.from, current) {
		return fmt.Errorf("cannot %s supply order in status %s", op, current)
	}
	if !containsStatus(t.to, next) {
		return fmt.Errorf("%s cannot move supply order to %s", op, next)
	}
	return nil
}

func containsStatus(list []OrderStatus, status OrderStatus) bool {
	for _, candidate := range list {
		if candidate == status {
			return true
		}
	}
	return false
}

// DeriveOrderStatus computes the order status after review from its item
// statuses.
func DeriveOrderStatus(items []ItemStatus) OrderStatus {
	var approved, partly, rejected int
	for _, status := range items {
		switch status {
		case ItemApproved:
			approved++
		case ItemPartlyApproved:
			partly++
		case ItemRejected:
			rejected++
		}
	}
	switch {
	case len(items) == 0:
		return OrderPartlyApproved
	case partly > 0:
		return OrderPartlyApproved
	case approved == len(items):
		return OrderApproved
	case rejected == len(items):
		return OrderRejected
	default:
		return OrderPartlyApproved
	}
}

// NearExpiryWindow is how far ahead of expiry stock is flagged NEAR_EXPIRY.
const NearExpiryWindow = 3 * 24 * time.Hour

// ComputeInventoryStatus derives the expiry status of a row at the given day.
// DISPOSED is never recomputed.
func ComputeInventoryStatus(current InventoryStatus, expiry *time.Time, today time.Time) InventoryStatus {
	if current == InventoryDisposed {
		return InventoryDisposed
	}
	if expiry == nil {
		return InventoryActive
	}
	day := TruncateDay(today)
	exp := TruncateDay(*expiry)
	switch {
	case exp.Before(day):
		return InventoryExpired
	case !exp.After(day.Add(NearExpiryWindow)):
		return InventoryNearExpiry
	default:
		return InventoryActive
	}
}

// TruncateDay drops the clock part of t in UTC.
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
