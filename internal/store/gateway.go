package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	apperrors "cas-valuer/internal/errors"
	"cas-valuer/internal/models"
)

// rowSpec maps records of one kind onto a table with a natural key.
type rowSpec[T any] struct {
	table     string
	keyCols   []string
	valueCols []string
	row       func(T) (keys, values []interface{})
}

func (r rowSpec[T]) insertSQL() string {
	cols := append(append([]string{}, r.keyCols...), r.valueCols...)
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO NOTHING",
		r.table, strings.Join(cols, ", "), marks, strings.Join(r.keyCols, ", "))
}

// updateSQL only touches the row when at least one value column differs, so
// RowsAffected distinguishes modified from merely matched.
func (r rowSpec[T]) updateSQL() string {
	sets := make([]string, len(r.valueCols))
	same := make([]string, len(r.valueCols))
	for i, c := range r.valueCols {
		sets[i] = c + " = ?"
		same[i] = c + " IS ?"
	}
	where := make([]string, len(r.keyCols))
	for i, c := range r.keyCols {
		where[i] = c + " = ?"
	}
	return fmt.Sprintf("UPDATE %s SET %s, updated_at = CURRENT_TIMESTAMP WHERE %s AND NOT (%s)",
		r.table, strings.Join(sets, ", "), strings.Join(where, " AND "), strings.Join(same, " AND "))
}

// upsertMany writes records by natural key: insert when absent, update when
// any value differs. Records sharing a key within the batch collapse to the
// last one. A failing record is counted and skipped; the rest of the batch
// is still committed.
func upsertMany[T any](ctx context.Context, db *sql.DB, kind Kind, spec rowSpec[T], records []T, keyFn func(T) string) (UpsertResult, error) {
	var result UpsertResult
	if len(records) == 0 {
		return result, nil
	}

	order := make([]string, 0, len(records))
	byKey := make(map[string]T, len(records))
	for _, rec := range records {
		k := keyFn(rec)
		if _, seen := byKey[k]; !seen {
			order = append(order, k)
		}
		byKey[k] = rec
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insert, err := tx.PrepareContext(ctx, spec.insertSQL())
	if err != nil {
		return result, fmt.Errorf("failed to prepare insert for %s: %w", kind, err)
	}
	defer insert.Close()

	update, err := tx.PrepareContext(ctx, spec.updateSQL())
	if err != nil {
		return result, fmt.Errorf("failed to prepare update for %s: %w", kind, err)
	}
	defer update.Close()

	var firstErr error
	fail := func(err error) {
		result.Failed++
		if firstErr == nil {
			firstErr = err
		}
	}

	for _, k := range order {
		keys, values := spec.row(byKey[k])

		res, err := insert.ExecContext(ctx, append(append([]interface{}{}, keys...), values...)...)
		if err != nil {
			fail(fmt.Errorf("failed to insert %s %q: %w", kind, k, err))
			continue
		}
		if n, _ := res.RowsAffected(); n == 1 {
			result.Upserted++
			continue
		}

		args := make([]interface{}, 0, len(values)*2+len(keys))
		args = append(args, values...)
		args = append(args, keys...)
		args = append(args, values...)
		res, err = update.ExecContext(ctx, args...)
		if err != nil {
			fail(fmt.Errorf("failed to update %s %q: %w", kind, k, err))
			continue
		}
		result.Matched++
		if n, _ := res.RowsAffected(); n == 1 {
			result.Modified++
		}
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{Failed: len(order)}, fmt.Errorf("failed to commit %s: %w", kind, err)
	}

	if result.Failed > 0 {
		return result, apperrors.NewPersistenceError(string(kind), result.Failed, len(order), firstErr)
	}
	return result, nil
}

var schemeSpec = rowSpec[models.Scheme]{
	table:     "schemes",
	keyCols:   []string{"amfi"},
	valueCols: []string{"isin", "name", "advisor", "rta", "rta_code", "type", "folio", "amc", "pan"},
	row: func(s models.Scheme) ([]interface{}, []interface{}) {
		return []interface{}{s.AMFI},
			[]interface{}{s.ISIN, s.Name, s.Advisor, s.RTA, s.RTACode, s.Type, s.Folio, s.AMC, s.PAN}
	},
}

var transactionSpec = rowSpec[models.Transaction]{
	table:     "transactions",
	keyCols:   []string{"amfi", "date", "type", "units", "amount", "balance"},
	valueCols: []string{"scheme_name", "isin", "folio", "description", "nav", "dividend_rate"},
	row: func(t models.Transaction) ([]interface{}, []interface{}) {
		return []interface{}{t.AMFI, models.FormatDate(t.Date), string(t.Type), t.Units.String(), t.Amount.String(), t.Balance.String()},
			[]interface{}{t.SchemeName, t.ISIN, t.Folio, t.Description, t.NAV.String(), t.DividendRate.String()}
	},
}

var quoteSpec = rowSpec[models.Quote]{
	table:     "quotes",
	keyCols:   []string{"amfi", "date"},
	valueCols: []string{"nav", "fund_house", "scheme_name", "scheme_type", "scheme_category"},
	row: func(q models.Quote) ([]interface{}, []interface{}) {
		return []interface{}{q.AMFI, models.FormatDate(q.Date)},
			[]interface{}{q.NAV.String(), q.FundHouse, q.SchemeName, q.SchemeType, q.SchemeCategory}
	},
}

var valuationSpec = rowSpec[models.DailyValuation]{
	table:     "valuations",
	keyCols:   []string{"amfi", "date"},
	valueCols: []string{"total_amount", "total_units", "nav", "total_valuation"},
	row: func(v models.DailyValuation) ([]interface{}, []interface{}) {
		return []interface{}{v.AMFI, models.FormatDate(v.Date)},
			[]interface{}{v.TotalAmount.String(), v.TotalUnits.String(), v.NAV.String(), v.TotalValuation.String()}
	},
}

func dateKey(amfi string, d time.Time) string {
	return amfi + "|" + models.FormatDate(d)
}

// UpsertSchemes upserts schemes keyed by AMFI code. Provider metadata columns
// are left untouched.
func (s *SQLiteStore) UpsertSchemes(ctx context.Context, schemes []models.Scheme) (UpsertResult, error) {
	return upsertMany(ctx, s.db, KindSchemes, schemeSpec, schemes, func(sc models.Scheme) string { return sc.AMFI })
}

// UpsertTransactions upserts transactions keyed by their natural key.
func (s *SQLiteStore) UpsertTransactions(ctx context.Context, txns []models.Transaction) (UpsertResult, error) {
	return upsertMany(ctx, s.db, KindTransactions, transactionSpec, txns, models.Transaction.NaturalKey)
}

// UpsertQuotes upserts quotes keyed by (amfi, date).
func (s *SQLiteStore) UpsertQuotes(ctx context.Context, quotes []models.Quote) (UpsertResult, error) {
	return upsertMany(ctx, s.db, KindQuotes, quoteSpec, quotes, func(q models.Quote) string { return dateKey(q.AMFI, q.Date) })
}

// UpsertValuations upserts daily valuations keyed by (amfi, date).
func (s *SQLiteStore) UpsertValuations(ctx context.Context, vals []models.DailyValuation) (UpsertResult, error) {
	return upsertMany(ctx, s.db, KindValuations, valuationSpec, vals, func(v models.DailyValuation) string { return dateKey(v.AMFI, v.Date) })
}

// UpdateSchemeMetadata backfills provider metadata on an existing scheme.
// Matched is 1 when the scheme exists; Modified is 1 only when the metadata
// changed.
func (s *SQLiteStore) UpdateSchemeMetadata(ctx context.Context, amfi string, meta models.SchemeMeta) (UpsertResult, error) {
	var res UpsertResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("failed to begin metadata update: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM schemes WHERE amfi = ?`, amfi).Scan(&res.Matched); err != nil {
		return res, fmt.Errorf("failed to look up scheme: %w", err)
	}
	if res.Matched == 0 {
		return res, nil
	}

	out, err := tx.ExecContext(ctx, `
		UPDATE schemes SET fund_house = ?, scheme_type = ?, scheme_category = ?, updated_at = CURRENT_TIMESTAMP
		WHERE amfi = ? AND NOT (fund_house IS ? AND scheme_type IS ? AND scheme_category IS ?)
	`, meta.FundHouse, meta.SchemeType, meta.SchemeCategory, amfi, meta.FundHouse, meta.SchemeType, meta.SchemeCategory)
	if err != nil {
		return res, fmt.Errorf("failed to update scheme metadata: %w", err)
	}
	n, err := out.RowsAffected()
	if err != nil {
		return res, fmt.Errorf("failed to update scheme metadata: %w", err)
	}
	res.Modified = int(n)

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("failed to commit metadata update: %w", err)
	}
	return res, nil
}
