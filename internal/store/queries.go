package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"cas-valuer/internal/models"
)

// GetTransactions returns transactions ordered by date, then by the order
// they were first stored.
func (s *SQLiteStore) GetTransactions(ctx context.Context, filter TransactionFilter) ([]models.Transaction, error) {
	query := `SELECT amfi, date, type, units, amount, balance, scheme_name, isin, folio, description, nav, dividend_rate
		FROM transactions WHERE 1=1`
	args := []interface{}{}

	if filter.AMFI != "" {
		query += " AND amfi = ?"
		args = append(args, filter.AMFI)
	}
	if !filter.StartDate.IsZero() {
		query += " AND date >= ?"
		args = append(args, models.FormatDate(filter.StartDate))
	}
	if !filter.EndDate.IsZero() {
		query += " AND date <= ?"
		args = append(args, models.FormatDate(filter.EndDate))
	}
	query += " ORDER BY date ASC, seq ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txns []models.Transaction
	for rows.Next() {
		var t models.Transaction
		var date, typ string
		if err := rows.Scan(&t.AMFI, &date, &typ, &t.Units, &t.Amount, &t.Balance,
			&t.SchemeName, &t.ISIN, &t.Folio, &t.Description, &t.NAV, &t.DividendRate); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if t.Date, err = models.ParseDate(date); err != nil {
			return nil, fmt.Errorf("failed to parse transaction date %q: %w", date, err)
		}
		t.Type = models.TransactionType(typ)
		txns = append(txns, t)
	}

	return txns, rows.Err()
}

// GetQuotes returns quotes for amfi on or after from, oldest first.
// A zero from returns the whole series.
func (s *SQLiteStore) GetQuotes(ctx context.Context, amfi string, from time.Time) ([]models.Quote, error) {
	query := `SELECT amfi, date, nav, fund_house, scheme_name, scheme_type, scheme_category
		FROM quotes WHERE amfi = ?`
	args := []interface{}{amfi}
	if !from.IsZero() {
		query += " AND date >= ?"
		args = append(args, models.FormatDate(from))
	}
	query += " ORDER BY date ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query quotes: %w", err)
	}
	defer rows.Close()

	var quotes []models.Quote
	for rows.Next() {
		var q models.Quote
		var date string
		if err := rows.Scan(&q.AMFI, &date, &q.NAV, &q.FundHouse, &q.SchemeName, &q.SchemeType, &q.SchemeCategory); err != nil {
			return nil, fmt.Errorf("failed to scan quote: %w", err)
		}
		if q.Date, err = models.ParseDate(date); err != nil {
			return nil, fmt.Errorf("failed to parse quote date %q: %w", date, err)
		}
		quotes = append(quotes, q)
	}

	return quotes, rows.Err()
}

// GetValuations returns the valuation series for amfi, oldest first.
func (s *SQLiteStore) GetValuations(ctx context.Context, amfi string) ([]models.DailyValuation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT amfi, date, total_amount, total_units, nav, total_valuation
		FROM valuations WHERE amfi = ? ORDER BY date ASC
	`, amfi)
	if err != nil {
		return nil, fmt.Errorf("failed to query valuations: %w", err)
	}
	defer rows.Close()
	return scanValuations(rows)
}

// LatestValuations returns up to perScheme most recent valuations for every
// scheme, newest first.
func (s *SQLiteStore) LatestValuations(ctx context.Context, perScheme int) (map[string][]models.DailyValuation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT amfi, date, total_amount, total_units, nav, total_valuation FROM (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY amfi ORDER BY date DESC) AS rn FROM valuations
		) WHERE rn <= ? ORDER BY amfi ASC, date DESC
	`, perScheme)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest valuations: %w", err)
	}
	defer rows.Close()

	vals, err := scanValuations(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]models.DailyValuation)
	for _, v := range vals {
		out[v.AMFI] = append(out[v.AMFI], v)
	}
	return out, nil
}

type valuationRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanValuations(rows valuationRows) ([]models.DailyValuation, error) {
	var vals []models.DailyValuation
	for rows.Next() {
		var v models.DailyValuation
		var date string
		var amount, units, nav, total decimal.Decimal
		if err := rows.Scan(&v.AMFI, &date, &amount, &units, &nav, &total); err != nil {
			return nil, fmt.Errorf("failed to scan valuation: %w", err)
		}
		d, err := models.ParseDate(date)
		if err != nil {
			return nil, fmt.Errorf("failed to parse valuation date %q: %w", date, err)
		}
		v.Date = d
		v.TotalAmount, v.TotalUnits, v.NAV, v.TotalValuation = amount, units, nav, total
		vals = append(vals, v)
	}
	return vals, rows.Err()
}

// ListSchemes returns all schemes ordered by AMFI code.
func (s *SQLiteStore) ListSchemes(ctx context.Context) ([]models.Scheme, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT amfi, IFNULL(isin, ''), IFNULL(name, ''), IFNULL(advisor, ''), IFNULL(rta, ''), IFNULL(rta_code, ''),
			IFNULL(type, ''), IFNULL(folio, ''), IFNULL(amc, ''), IFNULL(pan, ''),
			IFNULL(fund_house, ''), IFNULL(scheme_type, ''), IFNULL(scheme_category, '')
		FROM schemes ORDER BY amfi ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query schemes: %w", err)
	}
	defer rows.Close()

	var schemes []models.Scheme
	for rows.Next() {
		var sc models.Scheme
		if err := rows.Scan(&sc.AMFI, &sc.ISIN, &sc.Name, &sc.Advisor, &sc.RTA, &sc.RTACode,
			&sc.Type, &sc.Folio, &sc.AMC, &sc.PAN, &sc.FundHouse, &sc.SchemeType, &sc.SchemeCategory); err != nil {
			return nil, fmt.Errorf("failed to scan scheme: %w", err)
		}
		schemes = append(schemes, sc)
	}
	return schemes, rows.Err()
}
