// Package report derives read-only summaries from the persisted ledger and
// valuations.
package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"cas-valuer/internal/models"
)

// AnnualNet is the money put in and taken out during one financial year.
type AnnualNet struct {
	FinancialYear int             `json:"financial_year"`
	Invested      decimal.Decimal `json:"invested"`
	Withdrawn     decimal.Decimal `json:"withdrawn"`
	Net           decimal.Decimal `json:"net_amount"`
}

// Label renders the year as "2022-23".
func (a AnnualNet) Label() string {
	return FinancialYearLabel(a.FinancialYear)
}

// FinancialYear returns the starting calendar year of the April-March
// financial year containing t.
func FinancialYear(t time.Time) int {
	if t.Month() >= time.April {
		return t.Year()
	}
	return t.Year() - 1
}

// FinancialYearLabel renders the financial year starting in year.
func FinancialYearLabel(year int) string {
	return fmt.Sprintf("%d-%02d", year, (year+1)%100)
}

// AnnualNetAmounts groups transactions by financial year. Withdrawals are
// counted by magnitude since statements record outflows as negative amounts.
// Years are returned in ascending order.
func AnnualNetAmounts(txns []models.Transaction) []AnnualNet {
	byYear := make(map[int]*AnnualNet)
	for _, t := range txns {
		investing, withdrawing := t.Type.IsInvestment(), t.Type.IsWithdrawal()
		if !investing && !withdrawing {
			continue
		}

		fy := FinancialYear(t.Date)
		a, ok := byYear[fy]
		if !ok {
			a = &AnnualNet{FinancialYear: fy}
			byYear[fy] = a
		}
		if investing {
			a.Invested = a.Invested.Add(t.Amount)
		} else {
			a.Withdrawn = a.Withdrawn.Add(t.Amount.Abs())
		}
	}

	out := make([]AnnualNet, 0, len(byYear))
	for _, a := range byYear {
		a.Net = a.Invested.Sub(a.Withdrawn)
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FinancialYear < out[j].FinancialYear })
	return out
}

// SortBy selects how movers are ranked.
type SortBy string

const (
	SortByPercent SortBy = "percent"
	SortByValue   SortBy = "value"
)

// Mover is the change in a holding's valuation between its two most recent
// valuation dates.
type Mover struct {
	AMFI          string          `json:"amfi"`
	SchemeName    string          `json:"scheme_name"`
	Date          time.Time       `json:"date"`
	PreviousDate  time.Time       `json:"previous_date"`
	Valuation     decimal.Decimal `json:"valuation"`
	Previous      decimal.Decimal `json:"previous_valuation"`
	Change        decimal.Decimal `json:"change"`
	PercentChange decimal.Decimal `json:"percentage_change"`
}

// Movers holds the best and worst performing holdings.
type Movers struct {
	Gainers []Mover `json:"top_gainers"`
	Losers  []Mover `json:"top_losers"`
}

var hundred = decimal.NewFromInt(100)

// TopMovers ranks holdings by the change between their last two valuations.
// latest maps amfi to valuations newest first; holdings with fewer than two
// valuations are ignored. The percentage change is zero when the previous
// valuation is zero.
func TopMovers(latest map[string][]models.DailyValuation, schemes []models.Scheme, n int, by SortBy) Movers {
	names := make(map[string]string, len(schemes))
	for _, s := range schemes {
		names[s.AMFI] = s.Name
	}

	movers := make([]Mover, 0, len(latest))
	for amfi, vals := range latest {
		if len(vals) < 2 {
			continue
		}
		last, prev := vals[0], vals[1]
		m := Mover{
			AMFI:         amfi,
			SchemeName:   names[amfi],
			Date:         last.Date,
			PreviousDate: prev.Date,
			Valuation:    last.TotalValuation,
			Previous:     prev.TotalValuation,
			Change:       last.TotalValuation.Sub(prev.TotalValuation),
		}
		if !prev.TotalValuation.IsZero() {
			m.PercentChange = m.Change.Div(prev.TotalValuation).Mul(hundred).Round(4)
		}
		movers = append(movers, m)
	}

	key := func(m Mover) decimal.Decimal {
		if by == SortByValue {
			return m.Change
		}
		return m.PercentChange
	}

	gainers := append([]Mover(nil), movers...)
	sort.Slice(gainers, func(i, j int) bool {
		if c := key(gainers[i]).Cmp(key(gainers[j])); c != 0 {
			return c > 0
		}
		return gainers[i].AMFI < gainers[j].AMFI
	})
	losers := append([]Mover(nil), movers...)
	sort.Slice(losers, func(i, j int) bool {
		if c := key(losers[i]).Cmp(key(losers[j])); c != 0 {
			return c < 0
		}
		return losers[i].AMFI < losers[j].AMFI
	})

	if n > 0 {
		gainers = gainers[:min(n, len(gainers))]
		losers = losers[:min(n, len(losers))]
	}
	return Movers{Gainers: gainers, Losers: losers}
}
