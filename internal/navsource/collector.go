package navsource

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	apperrors "cas-valuer/internal/errors"
	"cas-valuer/internal/logging"
	"cas-valuer/internal/models"
	"cas-valuer/internal/store"
)

// Collector fetches a scheme's quotes and persists them together with the
// provider metadata of the scheme.
type Collector struct {
	fetcher QuoteFetcher
	gateway store.Gateway
	logger  zerolog.Logger
}

// NewCollector creates a Collector.
func NewCollector(fetcher QuoteFetcher, gateway store.Gateway, logger zerolog.Logger) *Collector {
	return &Collector{fetcher: fetcher, gateway: gateway, logger: logger}
}

// Collect fetches, stores and returns the quotes for amfi. Partial write
// failures are logged and do not fail the collection.
func (c *Collector) Collect(ctx context.Context, amfi string) ([]models.Quote, error) {
	logger := logging.WithHolding(c.logger, amfi)

	quotes, err := c.fetcher.FetchQuotes(ctx, amfi)
	if err != nil {
		return nil, err
	}

	res, err := c.gateway.UpsertQuotes(ctx, quotes)
	if err != nil && !errors.Is(err, apperrors.ErrPersistenceConflict) {
		return nil, fmt.Errorf("failed to store quotes: %w", err)
	}
	logging.LogUpsert(logger, string(store.KindQuotes), res.Upserted, res.Modified, res.Failed)

	if len(quotes) > 0 {
		meta, err := c.gateway.UpdateSchemeMetadata(ctx, amfi, quotes[0].Meta())
		if err != nil {
			return nil, fmt.Errorf("failed to update scheme metadata: %w", err)
		}
		switch {
		case meta.Matched == 0:
			logger.Warn().Msg("No scheme record to backfill metadata into")
		case meta.Modified > 0:
			logger.Debug().Msg("Scheme metadata backfilled")
		}
	}

	return quotes, nil
}
