package service

import (
	"bytes"
	"context"
	"fmt"

	"github.com/timmy/scrapedeck/internal/logger"
	"github.com/timmy/scrapedeck/internal/storage"
)

// ArchiveService exports a session's combined dataset to object storage once
// the session completes. Archiving is an add-on: the store stays the source
// of truth and archive failures never change session state.
type ArchiveService struct {
	sessions SessionStore
	records  RecordStore
	store    storage.ObjectStorage
}

// NewArchiveService creates a new ArchiveService.
// Parameters:
//   - sessions: session store.
//   - records: combined-record store.
//   - store: object storage backend.
//
// Returns:
//   - *ArchiveService: initialized service.
func NewArchiveService(sessions SessionStore, records RecordStore, store storage.ObjectStorage) *ArchiveService {
	return &ArchiveService{sessions: sessions, records: records, store: store}
}

// ArchiveSession uploads the session's combined dataset as a CSV object and
// persists the resulting URL on the session.
// Parameters:
//   - ctx: context for the export.
//   - sessionID: session to archive.
//
// Returns:
//   - string: URL of the uploaded archive.
//   - error: non-nil if encoding or upload fails.
func (a *ArchiveService) ArchiveSession(ctx context.Context, sessionID string) (string, error) {
	records, err := a.records.ListBySession(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("failed to load combined records: %w", err)
	}

	data, err := EncodeRecordsCSV(records)
	if err != nil {
		return "", fmt.Errorf("failed to encode archive CSV: %w", err)
	}

	key := fmt.Sprintf("sessions/%s/combined.csv", sessionID)
	if err := a.store.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), "text/csv"); err != nil {
		return "", fmt.Errorf("failed to upload archive: %w", err)
	}

	url := a.store.GetURL(key)
	if err := a.sessions.SetArchiveURL(ctx, sessionID, url); err != nil {
		return "", fmt.Errorf("failed to persist archive URL: %w", err)
	}

	logger.With(logger.Fields{
		logger.FieldCount: len(records),
		logger.FieldSize:  len(data),
	}).Info(logger.SetSessionID(ctx, sessionID), "Archived combined dataset to %s", url)
	return url, nil
}
