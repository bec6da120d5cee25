package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/granary/granary/internal/common"
	"github.com/granary/granary/internal/model"
)

// CreateDocument persists an ingested document. A failed extraction carries an
// empty fingerprint, stored as NULL so repeated failures never collide on the
// fingerprint uniqueness constraint.
func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *model.Document) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateDocument(doc); err != nil {
		return err
	}

	query := `
		INSERT INTO documents (doc_id, file_name, raw_text, content_fingerprint)
		VALUES (?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		doc.DocID, doc.FileName, doc.RawText, nullString(doc.ContentFingerprint))
	if err != nil {
		if isUniqueViolation(err, "documents.content_fingerprint") {
			return fmt.Errorf("document %s: %w", doc.DocID, common.ErrDuplicateEntry)
		}
		if isUniqueViolation(err, "documents.doc_id") {
			return fmt.Errorf("document %s: %w", doc.DocID, common.ErrAlreadyProcessed)
		}
		return fmt.Errorf("failed to create document: %w", err)
	}

	return nil
}

// GetDocumentByID retrieves a document by its identifier.
func (s *SQLiteStorage) GetDocumentByID(ctx context.Context, docID string) (*model.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(docID, "docID"); err != nil {
		return nil, err
	}

	query := `
		SELECT doc_id, file_name, raw_text, content_fingerprint, extracted_at
		FROM documents
		WHERE doc_id = ?`

	return s.scanDocument(s.db.QueryRowContext(ctx, query, docID), "document")
}

// GetDocumentByFingerprint retrieves the document holding a content
// fingerprint, if any.
func (s *SQLiteStorage) GetDocumentByFingerprint(ctx context.Context, fingerprint string) (*model.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(fingerprint, "fingerprint"); err != nil {
		return nil, err
	}

	query := `
		SELECT doc_id, file_name, raw_text, content_fingerprint, extracted_at
		FROM documents
		WHERE content_fingerprint = ?`

	return s.scanDocument(s.db.QueryRowContext(ctx, query, fingerprint), "document")
}

func (s *SQLiteStorage) scanDocument(row *sql.Row, what string) (*model.Document, error) {
	var doc model.Document
	var rawText, fingerprint sql.NullString

	err := row.Scan(&doc.DocID, &doc.FileName, &rawText, &fingerprint, &doc.ExtractedAt)
	if err != nil {
		return nil, notFound(err, what)
	}

	doc.RawText = rawText.String
	doc.ContentFingerprint = fingerprint.String
	return &doc, nil
}

// nullString converts an empty string to a SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
