package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/headless-cms/authserver/types"
	"github.com/samber/oops"
)

const (
	archivePrefix    = "auth-events/"
	archivePageSize  = 1000
	archiveKeyLayout = "20060102T150405Z"
)

// AuthEventRepository defines persistence operations for the audit trail.
type AuthEventRepository interface {
	Create(ctx context.Context, event types.AuthEvent) error
	ListBefore(ctx context.Context, before time.Time, afterID int64, limit int) ([]types.AuthEvent, error)
	DeleteThrough(ctx context.Context, maxID int64, before time.Time) (int64, error)
}

// ObjectPutter is the object storage surface the archiver writes to.
type ObjectPutter interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
}

// ArchiveResult describes one archive run.
type ArchiveResult struct {
	Key     string
	Events  int
	Deleted int64
}

// AuditService records authentication events. Recording is best effort and
// never fails the request that triggered it.
type AuditService struct {
	repo   AuthEventRepository
	logger *slog.Logger
}

func NewAuditService(repo AuthEventRepository, logger *slog.Logger) *AuditService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditService{repo: repo, logger: logger}
}

// Record stores an event, logging instead of returning failures.
func (s *AuditService) Record(ctx context.Context, event types.AuthEvent) {
	if s == nil || s.repo == nil {
		return
	}
	if err := s.repo.Create(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to record auth event", "type", event.Type, "error", err)
	}
}

// Archive exports events older than olderThan as JSON Lines to object storage
// and deletes them once the upload has succeeded.
func (s *AuditService) Archive(ctx context.Context, dst ObjectPutter, olderThan time.Duration, now time.Time) (ArchiveResult, error) {
	cutoff := now.Add(-olderThan).UTC()

	var (
		buf    bytes.Buffer
		enc    = json.NewEncoder(&buf)
		first  time.Time
		last   time.Time
		lastID int64
		count  int
	)
	for {
		events, err := s.repo.ListBefore(ctx, cutoff, lastID, archivePageSize)
		if err != nil {
			return ArchiveResult{}, oops.Code("AUTH_AUDIT_ARCHIVE_FAILED").
				With("operation", "list events").
				Wrap(err)
		}
		for _, event := range events {
			if err := enc.Encode(event); err != nil {
				return ArchiveResult{}, oops.Code("AUTH_AUDIT_ARCHIVE_FAILED").
					With("operation", "encode event").
					Wrap(err)
			}
			if count == 0 || event.CreatedAt.Before(first) {
				first = event.CreatedAt
			}
			if event.CreatedAt.After(last) {
				last = event.CreatedAt
			}
			lastID = event.ID
			count++
		}
		if len(events) < archivePageSize {
			break
		}
	}
	if count == 0 {
		return ArchiveResult{}, nil
	}

	key := fmt.Sprintf("%s%s_%s.jsonl", archivePrefix, first.UTC().Format(archiveKeyLayout), last.UTC().Format(archiveKeyLayout))
	if err := dst.Put(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), "application/x-ndjson"); err != nil {
		return ArchiveResult{}, oops.Code("AUTH_AUDIT_ARCHIVE_FAILED").
			With("operation", "upload archive").
			With("key", key).
			Wrap(err)
	}

	deleted, err := s.repo.DeleteThrough(ctx, lastID, cutoff)
	if err != nil {
		return ArchiveResult{Key: key, Events: count}, oops.Code("AUTH_AUDIT_ARCHIVE_FAILED").
			With("operation", "delete archived events").
			With("key", key).
			Wrap(err)
	}
	s.logger.InfoContext(ctx, "archived auth events", "key", key, "events", count, "deleted", deleted)
	return ArchiveResult{Key: key, Events: count, Deleted: deleted}, nil
}
