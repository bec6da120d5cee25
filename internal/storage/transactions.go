package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/granary/granary/internal/common"
	"github.com/granary/granary/internal/model"
	"github.com/granary/granary/internal/service"
)

const transactionColumns = `
	id, doc_id, farm_key, farm_name, vendor_key, vendor_name,
	invoice_number, invoice_date, due_date, total_cents,
	service_address, account_number, confidence, status,
	needs_manual_review, manual_override,
	content_fingerprint, invoice_key,
	duplicate_detected, duplicate_reason, duplicate_of_doc_id,
	parse_status, parse_failure_reason,
	processed_at, updated_at`

// CommitTransaction persists a transaction and its line items in one unit of
// work. Constraint violations are converted, never surfaced raw: a taken
// invoice key yields common.ErrInvoiceKeyTaken and an already-committed
// document yields common.ErrDuplicateEntry, so callers can branch on the
// outcome without racing a lookup.
func (s *SQLiteStorage) CommitTransaction(ctx context.Context, txn *model.Transaction, items []model.LineItem) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransaction(txn); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := ensureFarm(ctx, tx, txn.FarmKey, txn.FarmName); err != nil {
		return err
	}
	if err := ensureVendor(ctx, tx, txn.VendorKey, txn.VendorName); err != nil {
		return err
	}

	query := `
		INSERT INTO transactions (
			doc_id, farm_key, farm_name, vendor_key, vendor_name,
			invoice_number, invoice_date, due_date, total_cents,
			service_address, account_number, confidence, status,
			needs_manual_review, manual_override,
			content_fingerprint, invoice_key,
			duplicate_detected, duplicate_reason, duplicate_of_doc_id,
			parse_status, parse_failure_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := tx.ExecContext(ctx, query,
		txn.DocID,
		nullString(txn.FarmKey), nullString(txn.FarmName),
		nullString(txn.VendorKey), nullString(txn.VendorName),
		nullString(txn.InvoiceNumber), nullString(txn.InvoiceDate), nullString(txn.DueDate),
		txn.TotalCents,
		nullString(txn.ServiceAddress), nullString(txn.AccountNumber),
		txn.Confidence, string(txn.Status),
		txn.NeedsManualReview, txn.ManualOverride,
		nullString(txn.ContentFingerprint), nullString(txn.InvoiceKey),
		txn.DuplicateDetected, nullString(txn.DuplicateReason), nullString(txn.DuplicateOfDocID),
		string(txn.ParseStatus), nullString(txn.ParseFailureReason),
	)
	if err != nil {
		if isUniqueViolation(err, "idx_transactions_invoice_key_original") ||
			isUniqueViolation(err, "transactions.invoice_key") {
			return fmt.Errorf("invoice key %s: %w", txn.InvoiceKey, common.ErrInvoiceKeyTaken)
		}
		if isUniqueViolation(err, "transactions.doc_id") {
			return fmt.Errorf("document %s: %w", txn.DocID, common.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	txn.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get transaction ID: %w", err)
	}

	itemQuery := `
		INSERT INTO transaction_line_items (doc_id, line_number, description, amount_cents)
		VALUES (?, ?, ?, ?)`

	for _, item := range items {
		if _, err := tx.ExecContext(ctx, itemQuery,
			txn.DocID, item.LineNumber, item.Description, item.AmountCents); err != nil {
			return fmt.Errorf("failed to insert line item %d: %w", item.LineNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetTransactionByDocID retrieves the ledger row for a document.
func (s *SQLiteStorage) GetTransactionByDocID(ctx context.Context, docID string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(docID, "docID"); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM transactions WHERE doc_id = ?", transactionColumns)
	return s.scanTransactionRow(ctx, query, docID)
}

// GetOriginalByInvoiceKey retrieves the non-duplicate transaction holding an
// invoice key.
func (s *SQLiteStorage) GetOriginalByInvoiceKey(ctx context.Context, invoiceKey string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(invoiceKey, "invoiceKey"); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		"SELECT %s FROM transactions WHERE invoice_key = ? AND duplicate_detected = 0",
		transactionColumns)
	return s.scanTransactionRow(ctx, query, invoiceKey)
}

func (s *SQLiteStorage) scanTransactionRow(ctx context.Context, query string, args ...any) (*model.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction: %w", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to read transaction: %w", err)
		}
		return nil, fmt.Errorf("transaction: %w", common.ErrNotFound)
	}

	txn, err := scanTransaction(rows)
	if err != nil {
		return nil, err
	}
	return txn, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	var txn model.Transaction
	var farmKey, farmName, vendorKey, vendorName nullableString
	var invoiceNumber, invoiceDate, dueDate nullableString
	var serviceAddress, accountNumber nullableString
	var fingerprint, invoiceKey nullableString
	var duplicateReason, duplicateOfDocID, failureReason nullableString
	var status, parseStatus string

	err := row.Scan(
		&txn.ID, &txn.DocID, &farmKey, &farmName, &vendorKey, &vendorName,
		&invoiceNumber, &invoiceDate, &dueDate, &txn.TotalCents,
		&serviceAddress, &accountNumber, &txn.Confidence, &status,
		&txn.NeedsManualReview, &txn.ManualOverride,
		&fingerprint, &invoiceKey,
		&txn.DuplicateDetected, &duplicateReason, &duplicateOfDocID,
		&parseStatus, &failureReason,
		&txn.ProcessedAt, &txn.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	txn.FarmKey = string(farmKey)
	txn.FarmName = string(farmName)
	txn.VendorKey = string(vendorKey)
	txn.VendorName = string(vendorName)
	txn.InvoiceNumber = string(invoiceNumber)
	txn.InvoiceDate = string(invoiceDate)
	txn.DueDate = string(dueDate)
	txn.ServiceAddress = string(serviceAddress)
	txn.AccountNumber = string(accountNumber)
	txn.ContentFingerprint = string(fingerprint)
	txn.InvoiceKey = string(invoiceKey)
	txn.DuplicateReason = string(duplicateReason)
	txn.DuplicateOfDocID = string(duplicateOfDocID)
	txn.ParseFailureReason = string(failureReason)
	txn.Status = model.TransactionStatus(status)
	txn.ParseStatus = model.ParseStatus(parseStatus)
	return &txn, nil
}

// nullableString scans a possibly-NULL text column into a plain string.
type nullableString string

func (n *nullableString) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*n = ""
	case string:
		*n = nullableString(v)
	case []byte:
		*n = nullableString(v)
	default:
		return fmt.Errorf("cannot scan %T into string", value)
	}
	return nil
}

// GetLineItems returns the ordered line items for a document.
func (s *SQLiteStorage) GetLineItems(ctx context.Context, docID string) ([]model.LineItem, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(docID, "docID"); err != nil {
		return nil, err
	}

	query := `
		SELECT id, doc_id, line_number, description, amount_cents
		FROM transaction_line_items
		WHERE doc_id = ?
		ORDER BY line_number`

	rows, err := s.db.QueryContext(ctx, query, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to query line items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.LineItem
	for rows.Next() {
		var item model.LineItem
		var description nullableString
		if err := rows.Scan(&item.ID, &item.DocID, &item.LineNumber, &description, &item.AmountCents); err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}
		item.Description = string(description)
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListTransactions returns ledger rows matching the filter, newest first.
func (s *SQLiteStorage) ListTransactions(ctx context.Context, filter service.TransactionFilter) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var conditions []string
	var args []any
	if filter.FarmKey != "" {
		conditions = append(conditions, "farm_key = ?")
		args = append(args, filter.FarmKey)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := fmt.Sprintf("SELECT %s FROM transactions", transactionColumns)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY processed_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var txns []model.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *txn)
	}
	return txns, rows.Err()
}

// GetFarmTotals aggregates committed spend per farm. Only finalized rows
// count: duplicates and pending or failed rows are excluded.
func (s *SQLiteStorage) GetFarmTotals(ctx context.Context) ([]model.FarmTotal, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT farm_key, COALESCE(farm_name, farm_key), SUM(total_cents), COUNT(*)
		FROM transactions
		WHERE duplicate_detected = 0
		  AND status IN ('auto', 'manual')
		  AND farm_key IS NOT NULL
		GROUP BY farm_key
		ORDER BY SUM(total_cents) DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query farm totals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var totals []model.FarmTotal
	for rows.Next() {
		var total model.FarmTotal
		if err := rows.Scan(&total.FarmKey, &total.FarmName, &total.TotalCents, &total.Count); err != nil {
			return nil, fmt.Errorf("failed to scan farm total: %w", err)
		}
		totals = append(totals, total)
	}
	return totals, rows.Err()
}

// GetLedgerSummary returns the headline counts and sums for the ledger.
func (s *SQLiteStorage) GetLedgerSummary(ctx context.Context) (*model.LedgerSummary, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT
			COALESCE(SUM(CASE WHEN duplicate_detected = 0 AND status IN ('auto', 'manual') THEN total_cents ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN duplicate_detected = 0 AND status = 'pending_manual' THEN total_cents ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN duplicate_detected = 0 AND status IN ('auto', 'manual') THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN duplicate_detected = 0 AND status = 'pending_manual' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN duplicate_detected = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN parse_status != 'success' THEN 1 ELSE 0 END), 0)
		FROM transactions`

	var summary model.LedgerSummary
	err := s.db.QueryRowContext(ctx, query).Scan(
		&summary.ConfirmedCents, &summary.PendingManualCents,
		&summary.ConfirmedCount, &summary.PendingManualCount,
		&summary.DuplicateCount, &summary.ParseFailureCount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger summary: %w", err)
	}
	return &summary, nil
}
