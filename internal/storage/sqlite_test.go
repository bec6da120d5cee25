package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/granary/granary/internal/common"
	"github.com/granary/granary/internal/model"
)

// Helper function to create test storage.
func createTestStorage(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		t.Fatalf("Failed to migrate: %v", err)
	}

	return store, func() { _ = store.Close() }
}

func createTestDocument(t *testing.T, store *SQLiteStorage, num int) *model.Document {
	t.Helper()
	text := fmt.Sprintf("Acme Water District invoice %d total due 120.50", num)
	doc := &model.Document{
		DocID:              fmt.Sprintf("doc-%03d", num),
		FileName:           fmt.Sprintf("invoice-%03d.pdf", num),
		RawText:            text,
		ContentFingerprint: model.ContentFingerprint(text),
	}
	if err := store.CreateDocument(context.Background(), doc); err != nil {
		t.Fatalf("Failed to create document: %v", err)
	}
	return doc
}

func TestNewSQLiteStorage(t *testing.T) {
	t.Run("creates database in missing directory", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
		store, err := NewSQLiteStorage(dbPath)
		if err != nil {
			t.Fatalf("Failed to create storage: %v", err)
		}
		defer func() { _ = store.Close() }()
	})

	t.Run("rejects empty path", func(t *testing.T) {
		if _, err := NewSQLiteStorage(""); err == nil {
			t.Fatal("Expected error for empty path")
		}
	})
}

func TestCreateDocument(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	t.Run("round trips a document", func(t *testing.T) {
		doc := createTestDocument(t, store, 1)

		got, err := store.GetDocumentByID(ctx, doc.DocID)
		if err != nil {
			t.Fatalf("Failed to get document: %v", err)
		}
		if got.ContentFingerprint != doc.ContentFingerprint {
			t.Errorf("Fingerprint = %q, want %q", got.ContentFingerprint, doc.ContentFingerprint)
		}

		byFP, err := store.GetDocumentByFingerprint(ctx, doc.ContentFingerprint)
		if err != nil {
			t.Fatalf("Failed to get document by fingerprint: %v", err)
		}
		if byFP.DocID != doc.DocID {
			t.Errorf("DocID = %q, want %q", byFP.DocID, doc.DocID)
		}
	})

	t.Run("rejects duplicate fingerprint", func(t *testing.T) {
		doc := createTestDocument(t, store, 2)

		clone := &model.Document{
			DocID:              "doc-002-copy",
			FileName:           "copy.pdf",
			RawText:            doc.RawText,
			ContentFingerprint: doc.ContentFingerprint,
		}
		err := store.CreateDocument(ctx, clone)
		if !errors.Is(err, common.ErrDuplicateEntry) {
			t.Errorf("Expected ErrDuplicateEntry, got %v", err)
		}
	})

	t.Run("allows many documents without fingerprint", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			doc := &model.Document{
				DocID:    fmt.Sprintf("doc-failed-%d", i),
				FileName: fmt.Sprintf("broken-%d.pdf", i),
			}
			if err := store.CreateDocument(ctx, doc); err != nil {
				t.Fatalf("Failed to create fingerprint-less document %d: %v", i, err)
			}
		}
	})

	t.Run("rejects repeated doc ID", func(t *testing.T) {
		doc := createTestDocument(t, store, 3)
		clone := &model.Document{
			DocID:              doc.DocID,
			FileName:           "again.pdf",
			RawText:            "different text entirely",
			ContentFingerprint: model.ContentFingerprint("different text entirely"),
		}
		err := store.CreateDocument(ctx, clone)
		if !errors.Is(err, common.ErrAlreadyProcessed) {
			t.Errorf("Expected ErrAlreadyProcessed, got %v", err)
		}
	})
}

func TestSeedFarms(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	farms := []model.Farm{
		{Key: "north-ridge", DisplayName: "North Ridge"},
		{Key: "south-field", DisplayName: "South Field"},
	}
	if err := store.SeedFarms(ctx, farms); err != nil {
		t.Fatalf("Failed to seed farms: %v", err)
	}

	// Reseeding with a renamed farm updates in place.
	farms[0].DisplayName = "North Ridge Dairy"
	if err := store.SeedFarms(ctx, farms); err != nil {
		t.Fatalf("Failed to reseed farms: %v", err)
	}

	got, err := store.GetFarms(ctx)
	if err != nil {
		t.Fatalf("Failed to get farms: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 farms, got %d", len(got))
	}
	if got[0].DisplayName != "North Ridge Dairy" {
		t.Errorf("DisplayName = %q, want %q", got[0].DisplayName, "North Ridge Dairy")
	}
}
