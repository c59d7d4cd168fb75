package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MovementDelta is the costing engine's description of one applied movement,
// ready to be appended to the stock ledger.
type MovementDelta struct {
	QuantityBefore decimal.Decimal
	QuantityChange decimal.Decimal
	QuantityAfter  decimal.Decimal
	UnitCost       *decimal.Decimal
	AvgCostAfter   decimal.Decimal
	NegativeStock  bool
}

// ApplyMovement applies one signed quantity change to a position using
// weighted-average cost rules and returns the new position plus the movement
// record describing the transition.
//
// Incoming (change > 0) requires a unit cost:
//
//	newAvg = (qty*avg + change*cost) / (qty + change)
//
// When the starting quantity is zero or negative the history carries no
// usable cost basis, so the average resets to the incoming unit cost.
//
// Outgoing (change < 0) charges stock out at the existing average; the
// average itself is unchanged. Driving the quantity below zero fails with
// ErrInsufficientStock unless allowNegative is set, in which case the
// movement is still recorded and flagged.
func ApplyMovement(pos Position, change decimal.Decimal, unitCost *decimal.Decimal, allowNegative bool) (Position, MovementDelta, error) {
	if change.IsZero() {
		return pos, MovementDelta{}, fmt.Errorf("movement quantity must be non-zero")
	}

	delta := MovementDelta{
		QuantityBefore: pos.AvailableQty,
		QuantityChange: change,
		QuantityAfter:  pos.AvailableQty.Add(change),
	}

	if change.IsPositive() {
		if unitCost == nil {
			return pos, MovementDelta{}, fmt.Errorf("incoming movement requires a unit cost")
		}
		if unitCost.IsNegative() {
			return pos, MovementDelta{}, fmt.Errorf("unit cost cannot be negative, got %s", unitCost)
		}
		cost := *unitCost
		delta.UnitCost = &cost

		var newAvg decimal.Decimal
		if pos.AvailableQty.Sign() <= 0 {
			newAvg = cost
		} else {
			newAvg = pos.AvailableQty.Mul(pos.AvgCost).
				Add(change.Mul(cost)).
				Div(delta.QuantityAfter)
		}
		delta.AvgCostAfter = newAvg

		pos.AvailableQty = delta.QuantityAfter
		pos.AvgCost = newAvg
		return pos, delta, nil
	}

	// Outgoing: cost basis is the current weighted average.
	if delta.QuantityAfter.IsNegative() {
		if !allowNegative {
			return pos, MovementDelta{}, fmt.Errorf("%w: product %d has %s on hand, change %s",
				ErrInsufficientStock, pos.ProductID, pos.AvailableQty, change)
		}
		delta.NegativeStock = true
	}

	// The average is left as-is even when the quantity reaches zero, so an
	// immediate reversal can restore the pre-sale position exactly. Readers
	// treat avg_cost as undefined at zero quantity.
	delta.AvgCostAfter = pos.AvgCost
	pos.AvailableQty = delta.QuantityAfter
	return pos, delta, nil
}

// ReverseMovement computes the compensating movement that undoes a previously
// applied movement. Applied immediately after the original it restores the
// prior position exactly:
//
//   - an incoming movement is un-averaged:
//     priorAvg = (qty*avg - change*cost) / (qty - change)
//   - an outgoing movement is added back at the unchanged average.
//
// The reversal of an incoming movement carries the original unit cost (the
// cost basis being removed); the reversal of an outgoing movement has none.
func ReverseMovement(pos Position, original Movement) (Position, MovementDelta) {
	change := original.QuantityChange.Neg()

	delta := MovementDelta{
		QuantityBefore: pos.AvailableQty,
		QuantityChange: change,
		QuantityAfter:  pos.AvailableQty.Add(change),
	}

	if original.QuantityChange.IsPositive() {
		// Undo a receipt: remove its quantity and back its cost out of the
		// weighted average.
		cost := decimal.Zero
		if original.UnitCost != nil {
			cost = *original.UnitCost
		}
		delta.UnitCost = &cost

		var priorAvg decimal.Decimal
		if delta.QuantityAfter.Sign() <= 0 {
			priorAvg = decimal.Zero
		} else {
			priorAvg = pos.AvailableQty.Mul(pos.AvgCost).
				Sub(original.QuantityChange.Mul(cost)).
				Div(delta.QuantityAfter)
			if priorAvg.IsNegative() {
				priorAvg = decimal.Zero
			}
		}
		delta.AvgCostAfter = priorAvg
		pos.AvgCost = priorAvg
	} else {
		// Undo an issue: the sale never moved the average, so adding the
		// quantity back restores the position as it was.
		delta.AvgCostAfter = pos.AvgCost
	}

	if delta.QuantityAfter.IsNegative() {
		delta.NegativeStock = true
	}

	pos.AvailableQty = delta.QuantityAfter
	return pos, delta
}

// FoldMovement replays one recorded ledger row onto a position, using the
// same transition rules the row was written under. Snapshot backfill folds a
// date-filtered subsequence of the ledger through this to reconstruct the
// state implied by all movements up to a date.
func FoldMovement(pos Position, m Movement) Position {
	newQty := pos.AvailableQty.Add(m.QuantityChange)

	switch {
	case m.QuantityChange.IsPositive() && m.UnitCost != nil:
		// Receipt: weighted average, resetting onto an empty or negative
		// position.
		if pos.AvailableQty.Sign() <= 0 {
			pos.AvgCost = *m.UnitCost
		} else {
			pos.AvgCost = pos.AvailableQty.Mul(pos.AvgCost).
				Add(m.QuantityChange.Mul(*m.UnitCost)).
				Div(newQty)
		}
	case m.QuantityChange.IsNegative() && m.UnitCost != nil:
		// Reversal of a receipt: un-average its cost basis back out.
		if newQty.Sign() <= 0 {
			pos.AvgCost = decimal.Zero
		} else {
			pos.AvgCost = pos.AvailableQty.Mul(pos.AvgCost).
				Add(m.QuantityChange.Mul(*m.UnitCost)).
				Div(newQty)
			if pos.AvgCost.IsNegative() {
				pos.AvgCost = decimal.Zero
			}
		}
	}
	// Plain issues and their reversals leave the average untouched.

	pos.AvailableQty = newQty
	return pos
}
