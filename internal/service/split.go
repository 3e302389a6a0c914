package service

import (
	"fmt"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/enum"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SplitRequest describes one requested portion of the bill. An empty Items
// slice asks for an equal-division split; a non-empty one for an item-based
// split over the referenced unpaid lines.
type SplitRequest struct {
	Name  string
	Items []SplitItemRequest
}

// SplitItemRequest assigns part of an order line to a split.
type SplitItemRequest struct {
	LineID   uuid.UUID
	Quantity int32
}

// PlannedSplit is one computed split before it is confirmed and persisted.
type PlannedSplit struct {
	Name  string
	Seq   int32
	Kind  string
	Total decimal.Decimal
	Items []SplitItemRequest
}

// PlanSplit partitions the given unpaid lines according to the requests.
//
// Item-based requests get a total computed from the referenced line values;
// a line split across several requests keeps value conservation exact by
// giving the request that consumes the line's last units whatever cent
// residue division left over. Equal-division requests (empty Items) share
// the value not claimed by any item-based request, with earlier splits
// absorbing the cent remainder so the batch total reconciles exactly with
// the unpaid total.
//
// Splits whose computed total is zero are dropped. PlanSplit is pure: it
// reads nothing and writes nothing beyond its inputs.
func PlanSplit(unpaidLines []database.OrderLine, reqs []SplitRequest) ([]PlannedSplit, error) {
	if len(reqs) == 0 {
		return nil, ErrEmptySplitBatch
	}

	type lineState struct {
		remainingQty   int32
		remainingValue decimal.Decimal
		totalQty       int32
		totalValue     decimal.Decimal
	}
	lines := make(map[uuid.UUID]*lineState, len(unpaidLines))
	grandTotal := decimal.Zero
	for _, l := range unpaidLines {
		total := numericToDecimal(l.Total)
		lines[l.ID] = &lineState{
			remainingQty:   l.Quantity,
			remainingValue: total,
			totalQty:       l.Quantity,
			totalValue:     total,
		}
		grandTotal = grandTotal.Add(total)
	}

	// First pass: compute item-based totals in request order so quantity
	// claims on shared lines are first-come-first-served.
	itemTotals := make([]decimal.Decimal, len(reqs))
	itemsTotal := decimal.Zero
	equalCount := 0
	for i, req := range reqs {
		if len(req.Items) == 0 {
			equalCount++
			continue
		}
		total := decimal.Zero
		for _, item := range req.Items {
			if item.Quantity <= 0 {
				return nil, fmt.Errorf("split[%d]: %w", i, ErrInvalidQuantity)
			}
			state, ok := lines[item.LineID]
			if !ok {
				return nil, fmt.Errorf("split[%d]: %w", i, ErrLineNotInUnpaidSet)
			}
			if item.Quantity > state.remainingQty {
				return nil, fmt.Errorf("split[%d]: %w", i, ErrQuantityExceeds)
			}

			var value decimal.Decimal
			if item.Quantity == state.remainingQty {
				// Last units of the line: take the exact residue so no cent
				// is lost to per-unit rounding.
				value = state.remainingValue
			} else {
				value = state.totalValue.
					Mul(decimal.NewFromInt32(item.Quantity)).
					Div(decimal.NewFromInt32(state.totalQty)).
					Round(2)
			}
			state.remainingQty -= item.Quantity
			state.remainingValue = state.remainingValue.Sub(value)
			total = total.Add(value)
		}
		itemTotals[i] = total
		itemsTotal = itemsTotal.Add(total)
	}

	// Equal-division splits share whatever the item-based ones left.
	equalTotals := equalShares(grandTotal.Sub(itemsTotal), equalCount)

	// Second pass: emit splits in request order, dropping zero totals.
	var planned []PlannedSplit
	equalIdx := 0
	for i, req := range reqs {
		var total decimal.Decimal
		kind := enum.SplitKindItems
		if len(req.Items) == 0 {
			kind = enum.SplitKindEqual
			total = equalTotals[equalIdx]
			equalIdx++
		} else {
			total = itemTotals[i]
		}
		if total.IsZero() {
			continue
		}
		planned = append(planned, PlannedSplit{
			Name:  req.Name,
			Seq:   int32(len(planned)),
			Kind:  kind,
			Total: total,
			Items: req.Items,
		})
	}
	for i := range planned {
		if planned[i].Name == "" {
			planned[i].Name = fmt.Sprintf("Split %d", i+1)
		}
	}
	if len(planned) == 0 {
		return nil, ErrEmptySplitBatch
	}
	return planned, nil
}

// SplitEqually divides grandTotal into n equal-division splits. When the
// division is inexact, earlier splits absorb the remainder one cent at a
// time, so the totals always sum exactly to grandTotal.
func SplitEqually(grandTotal decimal.Decimal, n int) []PlannedSplit {
	totals := equalShares(grandTotal, n)
	var splits []PlannedSplit
	for _, total := range totals {
		if total.IsZero() {
			continue
		}
		splits = append(splits, PlannedSplit{
			Seq:   int32(len(splits)),
			Kind:  enum.SplitKindEqual,
			Total: total,
		})
	}
	for i := range splits {
		splits[i].Name = fmt.Sprintf("Split %d", i+1)
	}
	return splits
}

// equalShares returns n amounts summing exactly to grandTotal, the earlier
// shares one cent larger until the remainder is used up.
func equalShares(grandTotal decimal.Decimal, n int) []decimal.Decimal {
	if n <= 0 {
		return nil
	}
	shares := make([]decimal.Decimal, n)
	if grandTotal.LessThanOrEqual(decimal.Zero) {
		for i := range shares {
			shares[i] = decimal.Zero
		}
		return shares
	}
	count := decimal.NewFromInt(int64(n))
	base := grandTotal.Div(count).RoundFloor(2)
	cent := decimal.New(1, -2)
	extraCents := grandTotal.Sub(base.Mul(count)).Div(cent).IntPart()
	for i := range shares {
		shares[i] = base
		if int64(i) < extraCents {
			shares[i] = shares[i].Add(cent)
		}
	}
	return shares
}
