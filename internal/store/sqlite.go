package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	apperrors "cas-valuer/internal/errors"
	"cas-valuer/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
// Numeric ledger values are TEXT so decimals round-trip exactly.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Ingested statement documents
	CREATE TABLE IF NOT EXISTS statements (
		id TEXT PRIMARY KEY,
		file_name TEXT NOT NULL UNIQUE,
		data TEXT NOT NULL,
		locked INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	-- Schemes keyed by AMFI code
	CREATE TABLE IF NOT EXISTS schemes (
		amfi TEXT PRIMARY KEY,
		isin TEXT,
		name TEXT,
		advisor TEXT,
		rta TEXT,
		rta_code TEXT,
		type TEXT,
		folio TEXT,
		amc TEXT,
		pan TEXT,
		fund_house TEXT,
		scheme_type TEXT,
		scheme_category TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Flattened transactions, deduplicated on their natural key
	CREATE TABLE IF NOT EXISTS transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		amfi TEXT NOT NULL,
		date TEXT NOT NULL,
		type TEXT NOT NULL,
		units TEXT NOT NULL,
		amount TEXT NOT NULL,
		balance TEXT NOT NULL,
		scheme_name TEXT,
		isin TEXT,
		folio TEXT,
		description TEXT,
		nav TEXT,
		dividend_rate TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(amfi, date, type, units, amount, balance)
	);

	-- Daily NAV quotes
	CREATE TABLE IF NOT EXISTS quotes (
		amfi TEXT NOT NULL,
		date TEXT NOT NULL,
		nav TEXT NOT NULL,
		fund_house TEXT,
		scheme_name TEXT,
		scheme_type TEXT,
		scheme_category TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (amfi, date)
	);

	-- Derived daily valuations
	CREATE TABLE IF NOT EXISTS valuations (
		amfi TEXT NOT NULL,
		date TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		total_units TEXT NOT NULL,
		nav TEXT NOT NULL,
		total_valuation TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (amfi, date)
	);

	CREATE INDEX IF NOT EXISTS idx_statements_claimable ON statements(locked, status);
	CREATE INDEX IF NOT EXISTS idx_transactions_amfi_date ON transactions(amfi, date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Statements
// ============================================================================

const statementColumns = "id, file_name, data, locked, status, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStatement(row rowScanner) (*models.StatementDocument, error) {
	var doc models.StatementDocument
	var data string
	var locked int
	var status string
	if err := row.Scan(&doc.ID, &doc.FileName, &data, &locked, &status, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	doc.Data = []byte(data)
	doc.Locked = locked == 1
	doc.Status = models.StatementStatus(status)
	return &doc, nil
}

// InsertStatement stores a new pending statement. It reports false when a
// statement with the same file name already exists.
func (s *SQLiteStore) InsertStatement(ctx context.Context, doc *models.StatementDocument) (bool, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := s.now()
	doc.Locked = false
	doc.Status = models.StatusPending
	doc.CreatedAt = now
	doc.UpdatedAt = now

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO statements (id, file_name, data, locked, status, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?, ?)
		ON CONFLICT(file_name) DO NOTHING
	`, doc.ID, doc.FileName, string(doc.Data), string(doc.Status), now, now)
	if err != nil {
		return false, fmt.Errorf("failed to insert statement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to insert statement: %w", err)
	}
	return n == 1, nil
}

// GetStatement retrieves a statement by id.
func (s *SQLiteStore) GetStatement(ctx context.Context, id string) (*models.StatementDocument, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+statementColumns+" FROM statements WHERE id = ?", id)
	doc, err := scanStatement(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.Wrapf(apperrors.ErrStatementNotFound, "statement %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get statement: %w", err)
	}
	return doc, nil
}

// ListStatements lists all statements without their documents.
func (s *SQLiteStore) ListStatements(ctx context.Context) ([]StatementSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_name, locked, status, updated_at FROM statements ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query statements: %w", err)
	}
	defer rows.Close()

	var out []StatementSummary
	for rows.Next() {
		var sum StatementSummary
		var locked int
		var status string
		if err := rows.Scan(&sum.ID, &sum.FileName, &locked, &status, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan statement: %w", err)
		}
		sum.Locked = locked == 1
		sum.Status = models.StatementStatus(status)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// ListClaimable returns ids of statements that are unlocked and not completed.
func (s *SQLiteStore) ListClaimable(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM statements WHERE locked = 0 AND status != ? ORDER BY created_at ASC, id ASC
	`, string(models.StatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("failed to query claimable statements: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan statement id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Claim locks the statement with a single conditional update. Only the
// caller whose update matched the row reads the document back. The update
// and the read share one transaction, so a failed read leaves the statement
// unlocked.
func (s *SQLiteStore) Claim(ctx context.Context, id string) (*models.StatementDocument, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE statements SET locked = 1, status = ?, updated_at = ?
		WHERE id = ? AND locked = 0 AND status != ?
	`, string(models.StatusProcessing), s.now(), id, string(models.StatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("failed to claim statement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to claim statement: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	doc, err := scanStatement(tx.QueryRowContext(ctx, "SELECT "+statementColumns+" FROM statements WHERE id = ?", id))
	if err != nil {
		return nil, fmt.Errorf("failed to read claimed statement: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return doc, nil
}

// Release unlocks the statement and records its terminal status.
func (s *SQLiteStore) Release(ctx context.Context, id string, outcome models.StatementStatus) error {
	if !outcome.IsTerminal() {
		return apperrors.NewValidationError("outcome", outcome, "must be completed or failed")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE statements SET locked = 0, status = ?, updated_at = ? WHERE id = ?
	`, string(outcome), s.now(), id)
	if err != nil {
		return fmt.Errorf("failed to release statement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to release statement: %w", err)
	}
	if n == 0 {
		return apperrors.Wrapf(apperrors.ErrStatementNotFound, "statement %s", id)
	}
	return nil
}
