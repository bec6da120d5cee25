// Package model defines the core domain models used throughout the application.
package model

import "time"

// Document is the immutable record of one ingested source artifact.
type Document struct {
	ExtractedAt        time.Time
	DocID              string
	FileName           string
	RawText            string
	ContentFingerprint string
}

// ExtractionResult is the artifact handed over by the extraction collaborator:
// raw text, an optional precomputed fingerprint, and a best-effort structured
// candidate. Candidate is nil when extraction failed upstream.
type ExtractionResult struct {
	Candidate          *CandidateRecord
	DocID              string
	FileName           string
	RawText            string
	ContentFingerprint string
	FailureReason      string
}

// CandidateRecord is the structured invoice candidate produced upstream.
// VendorName, InvoiceNumber and TotalAmount are guaranteed non-empty by the
// upstream validator; everything else may be blank.
type CandidateRecord struct {
	VendorName     string
	InvoiceNumber  string
	InvoiceDate    string
	DueDate        string
	ServiceAddress string
	AccountNumber  string
	LineItems      []CandidateLineItem
	TotalAmount    float64
}

// CandidateLineItem is one extracted invoice line.
type CandidateLineItem struct {
	Description string
	Amount      float64
}
