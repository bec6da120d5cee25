// Package ingest reads extraction result files produced by the upstream
// document pipeline and turns them into resolution inputs.
package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/granary/granary/internal/model"
)

// extractionFile is the on-disk JSON shape.
type extractionFile struct {
	Candidate          *candidateJSON `json:"candidate"`
	DocID              string         `json:"doc_id"`
	FileName           string         `json:"file_name"`
	RawText            string         `json:"raw_text"`
	ContentFingerprint string         `json:"content_fingerprint"`
	FailureReason      string         `json:"failure_reason"`
}

type candidateJSON struct {
	VendorName     string         `json:"vendor_name"`
	InvoiceNumber  string         `json:"invoice_number"`
	InvoiceDate    string         `json:"invoice_date"`
	DueDate        string         `json:"due_date"`
	ServiceAddress string         `json:"service_address"`
	AccountNumber  string         `json:"account_number"`
	LineItems      []lineItemJSON `json:"line_items"`
	TotalAmount    float64        `json:"total_amount"`
}

type lineItemJSON struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
}

// ReadFile loads one extraction result. A file that cannot be parsed still
// yields a result: the document enters the ledger as a parse failure instead
// of silently vanishing from the batch.
func ReadFile(path string) (*model.ExtractionResult, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- user-supplied input path
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var file extractionFile
	if err := json.Unmarshal(data, &file); err != nil {
		return &model.ExtractionResult{
			DocID:         mintDocID(),
			FileName:      filepath.Base(path),
			FailureReason: fmt.Sprintf("unparseable extraction payload: %v", err),
		}, nil
	}

	result := &model.ExtractionResult{
		DocID:              file.DocID,
		FileName:           file.FileName,
		RawText:            file.RawText,
		ContentFingerprint: file.ContentFingerprint,
		FailureReason:      file.FailureReason,
	}
	if result.DocID == "" {
		result.DocID = mintDocID()
	}
	if result.FileName == "" {
		result.FileName = filepath.Base(path)
	}
	if result.ContentFingerprint == "" && result.RawText != "" {
		result.ContentFingerprint = model.ContentFingerprint(result.RawText)
	}

	if file.Candidate != nil {
		candidate := &model.CandidateRecord{
			VendorName:     strings.TrimSpace(file.Candidate.VendorName),
			InvoiceNumber:  strings.TrimSpace(file.Candidate.InvoiceNumber),
			InvoiceDate:    file.Candidate.InvoiceDate,
			DueDate:        file.Candidate.DueDate,
			ServiceAddress: file.Candidate.ServiceAddress,
			AccountNumber:  file.Candidate.AccountNumber,
			TotalAmount:    file.Candidate.TotalAmount,
		}
		for _, item := range file.Candidate.LineItems {
			candidate.LineItems = append(candidate.LineItems, model.CandidateLineItem{
				Description: item.Description,
				Amount:      item.Amount,
			})
		}
		result.Candidate = candidate
	}
	return result, nil
}

// ReadDir loads every .json file in a directory, sorted by name so batch
// runs are reproducible.
func ReadDir(dir string) ([]*model.ExtractionResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)

	results := make([]*model.ExtractionResult, 0, len(paths))
	for _, path := range paths {
		result, err := ReadFile(path)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

func mintDocID() string {
	return "doc_" + uuid.NewString()
}
