// Package valuation computes daily portfolio valuations using FIFO lot
// accounting.
package valuation

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	apperrors "cas-valuer/internal/errors"
	"cas-valuer/internal/models"
)

// Lot is an open purchase lot.
type Lot struct {
	Units decimal.Decimal
	Cost  decimal.Decimal
	Price decimal.Decimal
}

// Warning is a non-fatal anomaly found while folding the ledger.
type Warning struct {
	AMFI      string
	Date      time.Time
	Type      models.TransactionType
	Unmatched decimal.Decimal
	Err       error
}

func (w Warning) Error() string {
	return fmt.Sprintf("%s on %s (%s): %s units unmatched: %v",
		w.AMFI, models.FormatDate(w.Date), w.Type, w.Unmatched, w.Err)
}

func (w Warning) Unwrap() error {
	return w.Err
}

// Result is the output of ComputeDailySeries.
type Result struct {
	Series   []models.DailyValuation
	Warnings []Warning
}

// Position is the running FIFO state of one holding.
type Position struct {
	Lots        []Lot
	TotalAmount decimal.Decimal
	TotalUnits  decimal.Decimal
	Warnings    []Warning
}

// Apply folds one transaction into the position.
func (p *Position) Apply(txn models.Transaction) {
	switch txn.Type.Effect() {
	case models.EffectAcquire:
		p.acquire(txn)
	case models.EffectConsume:
		p.consume(txn)
	case models.EffectSigned:
		if txn.Units.IsNegative() {
			p.consume(txn)
		} else {
			p.acquire(txn)
		}
	}
}

func (p *Position) acquire(txn models.Transaction) {
	price := txn.NAV
	if price.IsZero() && !txn.Units.IsZero() {
		price = txn.Amount.Div(txn.Units)
	}
	p.Lots = append(p.Lots, Lot{Units: txn.Units, Cost: txn.Amount, Price: price})
	p.TotalAmount = p.TotalAmount.Add(txn.Amount)
	p.TotalUnits = p.TotalUnits.Add(txn.Units)
}

func (p *Position) consume(txn models.Transaction) {
	toSell := txn.Units.Abs()

	// Zero-unit lots (taxes, payouts) at the head leave with the units
	// redeemed before them.
	for len(p.Lots) > 0 && (toSell.IsPositive() || p.Lots[0].Units.IsZero()) {
		lot := &p.Lots[0]
		if lot.Units.LessThanOrEqual(toSell) {
			p.TotalAmount = p.TotalAmount.Sub(lot.Cost)
			toSell = toSell.Sub(lot.Units)
			p.Lots = p.Lots[1:]
			continue
		}

		consumed := lot.Price.Mul(toSell)
		p.TotalAmount = p.TotalAmount.Sub(consumed)
		lot.Units = lot.Units.Sub(toSell)
		lot.Cost = lot.Cost.Sub(consumed)
		toSell = decimal.Zero
	}

	if toSell.IsPositive() {
		p.Warnings = append(p.Warnings, Warning{
			AMFI:      txn.AMFI,
			Date:      txn.Date,
			Type:      txn.Type,
			Unmatched: toSell,
			Err:       apperrors.ErrOversoldLots,
		})
	}
	p.TotalUnits = p.TotalUnits.Add(txn.Units)
}

// ComputeDailySeries emits one valuation per quote date on or after from.
// Every transaction dated on or before a quote date is applied before that
// row is emitted, so activity on non-quote dates still counts. A zero from
// keeps every quote. The inputs are not modified.
func ComputeDailySeries(txns []models.Transaction, quotes []models.Quote, from time.Time) Result {
	sortedTxns := make([]models.Transaction, len(txns))
	copy(sortedTxns, txns)
	sort.SliceStable(sortedTxns, func(i, j int) bool {
		return sortedTxns[i].Date.Before(sortedTxns[j].Date)
	})

	sortedQuotes := make([]models.Quote, 0, len(quotes))
	for _, q := range quotes {
		if !from.IsZero() && q.Date.Before(from) {
			continue
		}
		sortedQuotes = append(sortedQuotes, q)
	}
	sort.SliceStable(sortedQuotes, func(i, j int) bool {
		return sortedQuotes[i].Date.Before(sortedQuotes[j].Date)
	})

	var pos Position
	series := make([]models.DailyValuation, 0, len(sortedQuotes))
	next := 0
	for _, q := range sortedQuotes {
		for next < len(sortedTxns) && !sortedTxns[next].Date.After(q.Date) {
			pos.Apply(sortedTxns[next])
			next++
		}

		row := models.DailyValuation{
			AMFI:           q.AMFI,
			Date:           q.Date,
			TotalAmount:    pos.TotalAmount,
			TotalUnits:     pos.TotalUnits,
			NAV:            q.NAV,
			TotalValuation: pos.TotalUnits.Mul(q.NAV),
		}
		// Duplicate quote dates keep the last quote.
		if n := len(series); n > 0 && series[n-1].Date.Equal(q.Date) {
			series[n-1] = row
			continue
		}
		series = append(series, row)
	}

	return Result{Series: series, Warnings: pos.Warnings}
}
