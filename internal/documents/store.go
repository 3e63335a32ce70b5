package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fsgateway/internal/common/database"
	"fsgateway/internal/common/money"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL document store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const documentColumns = `
	id, doc_type, party, category, amount_minor, currency, docstatus,
	transfer_status, remarks, mode_of_payment,
	paid_amount_minor, outstanding_amount_minor,
	created_at, updated_at
`

// Get retrieves a document by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM business_documents WHERE id = $1`

	row := s.pool.QueryRow(ctx, query, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("document %s: %w", id, database.ErrNotFound)
		}
		return nil, err
	}
	return doc, nil
}

// ListDraftPending returns draft documents with no transfer attempt yet.
func (s *PostgresStore) ListDraftPending(ctx context.Context, limit int) ([]*Document, error) {
	query := `
		SELECT ` + documentColumns + `
		FROM business_documents
		WHERE docstatus = $1 AND transfer_status = ''
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, DocStatusDraft, limit)
	if err != nil {
		return nil, fmt.Errorf("query draft pending documents: %w", err)
	}
	defer rows.Close()

	return collectDocuments(rows)
}

// ListInsufficientFunds returns submitted documents parked for retry.
func (s *PostgresStore) ListInsufficientFunds(ctx context.Context, limit int) ([]*Document, error) {
	query := `
		SELECT ` + documentColumns + `
		FROM business_documents
		WHERE docstatus = $1 AND transfer_status = $2
		ORDER BY created_at ASC
		LIMIT $3
	`

	rows, err := s.pool.Query(ctx, query, DocStatusSubmitted, TransferStatusInsufficientFunds, limit)
	if err != nil {
		return nil, fmt.Errorf("query insufficient-funds documents: %w", err)
	}
	defer rows.Close()

	return collectDocuments(rows)
}

// CustomerAccount returns the party's FS account number.
func (s *PostgresStore) CustomerAccount(ctx context.Context, party string) (string, error) {
	query := `SELECT fs_account_number FROM customers WHERE id = $1`

	var account string
	if err := s.pool.QueryRow(ctx, query, party).Scan(&account); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("customer %s: %w", party, database.ErrNotFound)
		}
		return "", fmt.Errorf("query customer account: %w", err)
	}
	if account == "" {
		return "", fmt.Errorf("customer %s has no FS account number", party)
	}

	return account, nil
}

// RecordOutcome writes the provider result code and message back onto
// the document.
func (s *PostgresStore) RecordOutcome(ctx context.Context, id, transferStatus, remarks string) error {
	query := `
		UPDATE business_documents
		SET transfer_status = $2, remarks = $3, updated_at = $4
		WHERE id = $1
	`

	result, err := s.pool.Exec(ctx, query, id, transferStatus, remarks, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record transfer outcome: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, database.ErrNotFound)
	}

	return nil
}

// MarkPaid records payment fields after a completed transfer.
func (s *PostgresStore) MarkPaid(ctx context.Context, id string, paid money.Money, modeOfPayment string) error {
	query := `
		UPDATE business_documents
		SET paid_amount_minor = $2, outstanding_amount_minor = 0,
		    mode_of_payment = $3, updated_at = $4
		WHERE id = $1
	`

	result, err := s.pool.Exec(ctx, query, id, paid.AmountMinor, modeOfPayment, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark document paid: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, database.ErrNotFound)
	}

	return nil
}

// MarkInsufficientFunds parks the document with its outstanding amount.
func (s *PostgresStore) MarkInsufficientFunds(ctx context.Context, id string, outstanding money.Money) error {
	query := `
		UPDATE business_documents
		SET transfer_status = $2, outstanding_amount_minor = $3, updated_at = $4
		WHERE id = $1
	`

	result, err := s.pool.Exec(ctx, query, id, TransferStatusInsufficientFunds, outstanding.AmountMinor, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark document insufficient funds: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, database.ErrNotFound)
	}

	return nil
}

func scanDocument(row pgx.Row) (*Document, error) {
	var doc Document
	var currency string
	var amountMinor, paidMinor, outstandingMinor int64
	var remarks, modeOfPayment *string

	err := row.Scan(
		&doc.ID,
		&doc.Type,
		&doc.Party,
		&doc.Category,
		&amountMinor,
		&currency,
		&doc.DocStatus,
		&doc.TransferStatus,
		&remarks,
		&modeOfPayment,
		&paidMinor,
		&outstandingMinor,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	cur := money.Currency(currency)
	doc.Amount = money.New(amountMinor, cur)
	doc.PaidAmount = money.New(paidMinor, cur)
	doc.OutstandingAmount = money.New(outstandingMinor, cur)
	if remarks != nil {
		doc.Remarks = *remarks
	}
	if modeOfPayment != nil {
		doc.ModeOfPayment = *modeOfPayment
	}

	return &doc, nil
}

func collectDocuments(rows pgx.Rows) ([]*Document, error) {
	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
