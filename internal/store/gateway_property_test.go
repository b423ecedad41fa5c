package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"cas-valuer/internal/models"
)

// Property: upserting the same quote batch twice never adds rows and leaves
// the stored series unchanged.
func TestProperty_QuoteUpsertIdempotent(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "property.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	run := 0
	properties.Property("second upsert only matches", prop.ForAll(
		func(navs []int64) bool {
			ctx := context.Background()
			run++
			amfi := fmt.Sprintf("P%d", run)
			base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

			quotes := make([]models.Quote, len(navs))
			for i, n := range navs {
				quotes[i] = models.Quote{
					AMFI: amfi,
					Date: base.AddDate(0, 0, i),
					NAV:  decimal.New(n, -4),
				}
			}

			first, err := s.UpsertQuotes(ctx, quotes)
			if err != nil || first.Upserted != len(quotes) {
				t.Logf("first upsert %+v, %v", first, err)
				return false
			}
			before, err := s.GetQuotes(ctx, amfi, time.Time{})
			if err != nil {
				return false
			}

			second, err := s.UpsertQuotes(ctx, quotes)
			if err != nil || second.Upserted != 0 || second.Modified != 0 || second.Matched != len(quotes) {
				t.Logf("second upsert %+v, %v", second, err)
				return false
			}
			after, err := s.GetQuotes(ctx, amfi, time.Time{})
			if err != nil || len(after) != len(before) {
				return false
			}
			for i := range before {
				if !before[i].NAV.Equal(after[i].NAV) || !before[i].Date.Equal(after[i].Date) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Int64Range(1, 100000000)),
	))

	properties.TestingRun(t)
}
