package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/granary/granary/internal/model"
)

// RecordTaggingEvent appends one classification attempt to the audit trail.
func (s *SQLiteStorage) RecordTaggingEvent(ctx context.Context, event *model.TaggingEvent) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateEvent(event); err != nil {
		return err
	}

	topJSON, err := marshalOrEmpty(event.Top)
	if err != nil {
		return fmt.Errorf("failed to marshal top candidate: %w", err)
	}
	candidatesJSON, err := marshalOrEmpty(event.Candidates)
	if err != nil {
		return fmt.Errorf("failed to marshal candidates: %w", err)
	}
	featuresJSON, err := marshalOrEmpty(event.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}

	query := `
		INSERT INTO tagging_events
			(doc_id, stage, confidence, needs_manual_review,
			 top_candidate_json, candidates_json, reason, features_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		event.DocID, string(event.Stage), event.Confidence, event.NeedsManualReview,
		nullString(topJSON), nullString(candidatesJSON),
		nullString(event.Reason), nullString(featuresJSON))
	if err != nil {
		return fmt.Errorf("failed to record tagging event: %w", err)
	}

	event.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}
	return nil
}

// ListTaggingEvents returns the classification attempts for a document in
// the order they happened.
func (s *SQLiteStorage) ListTaggingEvents(ctx context.Context, docID string) ([]model.TaggingEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(docID, "docID"); err != nil {
		return nil, err
	}

	query := `
		SELECT id, doc_id, stage, confidence, needs_manual_review,
		       top_candidate_json, candidates_json, reason, features_json, tagged_at
		FROM tagging_events
		WHERE doc_id = ?
		ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tagging events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.TaggingEvent
	for rows.Next() {
		var event model.TaggingEvent
		var stage string
		var topJSON, candidatesJSON, reason, featuresJSON nullableString

		err := rows.Scan(&event.ID, &event.DocID, &stage, &event.Confidence,
			&event.NeedsManualReview, &topJSON, &candidatesJSON, &reason,
			&featuresJSON, &event.TaggedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tagging event: %w", err)
		}

		event.Stage = model.Stage(stage)
		event.Reason = string(reason)
		if topJSON != "" {
			if err := json.Unmarshal([]byte(topJSON), &event.Top); err != nil {
				return nil, fmt.Errorf("failed to unmarshal top candidate: %w", err)
			}
		}
		if candidatesJSON != "" {
			if err := json.Unmarshal([]byte(candidatesJSON), &event.Candidates); err != nil {
				return nil, fmt.Errorf("failed to unmarshal candidates: %w", err)
			}
		}
		if featuresJSON != "" {
			if err := json.Unmarshal([]byte(featuresJSON), &event.Features); err != nil {
				return nil, fmt.Errorf("failed to unmarshal features: %w", err)
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func marshalOrEmpty(v any) (string, error) {
	switch val := v.(type) {
	case *model.Candidate:
		if val == nil {
			return "", nil
		}
	case []model.Candidate:
		if len(val) == 0 {
			return "", nil
		}
	case map[string]float64:
		if len(val) == 0 {
			return "", nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
