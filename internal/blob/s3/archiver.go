package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arcwave/arbicore/internal/domain"
)

// ArchiveImpl implements domain.Archiver by querying the durable task and
// pipeline-record stores for history old enough to have been trimmed from
// the orchestrator's in-memory caps, serializing it to JSONL, and uploading
// the result to S3.
//
// Deletion from the primary store is intentionally NOT performed here --
// that is a separate, explicit step to be executed after the archive has
// been verified.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	tasks   domain.TaskStore
	records domain.PipelineRecordStore
	audit   domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	tasks domain.TaskStore,
	records domain.PipelineRecordStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:  writer,
		tasks:   tasks,
		records: records,
		audit:   audit,
	}
}

// ArchiveTasks queries all completed tasks before the cutoff, serializes
// them to JSONL, and uploads the file to S3 at archive/tasks/YYYY-MM.jsonl.
func (a *ArchiveImpl) ArchiveTasks(ctx context.Context, before time.Time, tasks []domain.Task) error {
	if a.tasks != nil && len(tasks) == 0 {
		var err error
		tasks, err = a.tasks.ListBefore(ctx, before)
		if err != nil {
			return fmt.Errorf("s3blob: archive tasks query: %w", err)
		}
	}
	if len(tasks) == 0 {
		return nil
	}

	buf, err := marshalJSONL(tasks)
	if err != nil {
		return fmt.Errorf("s3blob: archive tasks marshal: %w", err)
	}

	path := archivePath("tasks", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: archive tasks upload: %w", err)
	}

	if a.audit != nil {
		if auditErr := a.audit.Log(ctx, "archive.tasks", map[string]any{
			"path":   path,
			"count":  len(tasks),
			"before": before.Format(time.RFC3339),
		}); auditErr != nil {
			return fmt.Errorf("s3blob: archive tasks audit log: %w", auditErr)
		}
	}

	return nil
}

// ArchivePipelineRecords queries all pipeline records before the cutoff,
// serializes them to JSONL, and uploads the file to S3 at
// archive/pipeline_records/YYYY-MM.jsonl.
func (a *ArchiveImpl) ArchivePipelineRecords(ctx context.Context, before time.Time, records []domain.PipelineRecord) error {
	if a.records != nil && len(records) == 0 {
		var err error
		records, err = a.records.ListRecordsBefore(ctx, before)
		if err != nil {
			return fmt.Errorf("s3blob: archive pipeline records query: %w", err)
		}
	}
	if len(records) == 0 {
		return nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: archive pipeline records marshal: %w", err)
	}

	path := archivePath("pipeline_records", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: archive pipeline records upload: %w", err)
	}

	if a.audit != nil {
		if auditErr := a.audit.Log(ctx, "archive.pipeline_records", map[string]any{
			"path":   path,
			"count":  len(records),
			"before": before.Format(time.RFC3339),
		}); auditErr != nil {
			return fmt.Errorf("s3blob: archive pipeline records audit log: %w", auditErr)
		}
	}

	return nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
