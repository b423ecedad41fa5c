// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"cas-valuer/internal/models"
)

// Kind names a derived collection written through the gateway.
type Kind string

const (
	KindSchemes      Kind = "schemes"
	KindTransactions Kind = "transactions"
	KindQuotes       Kind = "quotes"
	KindValuations   Kind = "valuations"
)

// UpsertResult reports the outcome of a bulk upsert.
// Matched counts records whose key already existed, modified or not.
type UpsertResult struct {
	Upserted int
	Modified int
	Matched  int
	Failed   int
}

// LockManager claims statements for exclusive processing. It is the only
// writer of the locked and status fields.
type LockManager interface {
	// Claim atomically locks a claimable statement. It returns nil, nil when
	// the statement is not claimable or another worker won the claim.
	Claim(ctx context.Context, id string) (*models.StatementDocument, error)
	Release(ctx context.Context, id string, outcome models.StatementStatus) error
	ListClaimable(ctx context.Context) ([]string, error)
}

// StatementStore is the ingestion-side view of statement documents.
type StatementStore interface {
	InsertStatement(ctx context.Context, doc *models.StatementDocument) (bool, error)
	GetStatement(ctx context.Context, id string) (*models.StatementDocument, error)
	ListStatements(ctx context.Context) ([]StatementSummary, error)
}

// Gateway is the only write path to schemes, transactions, quotes and
// valuations.
type Gateway interface {
	UpsertSchemes(ctx context.Context, schemes []models.Scheme) (UpsertResult, error)
	UpsertTransactions(ctx context.Context, txns []models.Transaction) (UpsertResult, error)
	UpsertQuotes(ctx context.Context, quotes []models.Quote) (UpsertResult, error)
	UpsertValuations(ctx context.Context, vals []models.DailyValuation) (UpsertResult, error)
	UpdateSchemeMetadata(ctx context.Context, amfi string, meta models.SchemeMeta) (UpsertResult, error)
}

// Reader serves the read projections over derived collections.
type Reader interface {
	GetTransactions(ctx context.Context, filter TransactionFilter) ([]models.Transaction, error)
	GetQuotes(ctx context.Context, amfi string, from time.Time) ([]models.Quote, error)
	GetValuations(ctx context.Context, amfi string) ([]models.DailyValuation, error)
	LatestValuations(ctx context.Context, perScheme int) (map[string][]models.DailyValuation, error)
	ListSchemes(ctx context.Context) ([]models.Scheme, error)
}

// DataStore defines the interface for data persistence.
type DataStore interface {
	LockManager
	StatementStore
	Gateway
	Reader

	Close() error
}

// TransactionFilter represents filters for querying transactions.
type TransactionFilter struct {
	AMFI      string
	StartDate time.Time
	EndDate   time.Time
}

// StatementSummary is a statement without its document tree.
type StatementSummary struct {
	ID        string                 `json:"id"`
	FileName  string                 `json:"file_name"`
	Locked    bool                   `json:"locked"`
	Status    models.StatementStatus `json:"status"`
	UpdatedAt time.Time              `json:"updated_at"`
}
