package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arcwave/arbicore/internal/domain"
)

// HistoryStore implements domain.TaskStore and domain.PipelineRecordStore,
// the durable audit trail the archiver reads once a record ages out of the
// orchestrator's and pipeline's in-memory caps.
type HistoryStore struct {
	pool *pgxpool.Pool
}

// NewHistoryStore creates a new HistoryStore backed by the given connection
// pool.
func NewHistoryStore(pool *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

// RecordTask upserts a terminal task for later archival.
func (s *HistoryStore) RecordTask(ctx context.Context, t domain.Task) error {
	oppJSON, err := json.Marshal(t.Opportunity)
	if err != nil {
		return fmt.Errorf("postgres: marshal task opportunity %s: %w", t.TaskID, err)
	}
	var resultJSON []byte
	if t.Result != nil {
		resultJSON, err = json.Marshal(t.Result)
		if err != nil {
			return fmt.Errorf("postgres: marshal task result %s: %w", t.TaskID, err)
		}
	}

	const query = `
		INSERT INTO tasks (task_id, bot_id, priority, status, opportunity, result, created_at, deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (task_id) DO UPDATE SET
			bot_id = EXCLUDED.bot_id,
			status = EXCLUDED.status,
			result = EXCLUDED.result`

	_, err = s.pool.Exec(ctx, query,
		t.TaskID, t.BotID, t.Priority, string(t.Status), oppJSON, resultJSON, t.CreatedAt, t.Deadline,
	)
	if err != nil {
		return fmt.Errorf("postgres: record task %s: %w", t.TaskID, err)
	}
	return nil
}

// ListBefore returns tasks created strictly before the given cutoff.
func (s *HistoryStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Task, error) {
	const query = `
		SELECT task_id, bot_id, priority, status, opportunity, result, created_at, deadline
		FROM tasks WHERE created_at < $1 ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tasks before %s: %w", before, err)
	}
	defer rows.Close()

	var out []domain.Task
	for rows.Next() {
		var t domain.Task
		var status string
		var oppJSON, resultJSON []byte
		if err := rows.Scan(&t.TaskID, &t.BotID, &t.Priority, &status, &oppJSON, &resultJSON, &t.CreatedAt, &t.Deadline); err != nil {
			return nil, fmt.Errorf("postgres: scan task: %w", err)
		}
		t.Status = domain.TaskStatus(status)
		if err := json.Unmarshal(oppJSON, &t.Opportunity); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal task opportunity %s: %w", t.TaskID, err)
		}
		if resultJSON != nil {
			var res domain.TaskResult
			if err := json.Unmarshal(resultJSON, &res); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal task result %s: %w", t.TaskID, err)
			}
			t.Result = &res
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecordPipelineRecord upserts a completed pipeline record for later
// archival.
func (s *HistoryStore) RecordPipelineRecord(ctx context.Context, r domain.PipelineRecord) error {
	recJSON, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("postgres: marshal pipeline record %s: %w", r.ID, err)
	}

	const query = `
		INSERT INTO pipeline_records (id, stage, success, record, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			stage   = EXCLUDED.stage,
			success = EXCLUDED.success,
			record  = EXCLUDED.record`

	_, err = s.pool.Exec(ctx, query, r.ID, string(r.Stage), r.Success, recJSON, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: record pipeline record %s: %w", r.ID, err)
	}
	return nil
}

// ListRecordsBefore returns pipeline records created strictly before the
// given cutoff.
func (s *HistoryStore) ListRecordsBefore(ctx context.Context, before time.Time) ([]domain.PipelineRecord, error) {
	const query = `SELECT record FROM pipeline_records WHERE created_at < $1 ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pipeline records before %s: %w", before, err)
	}
	defer rows.Close()

	var out []domain.PipelineRecord
	for rows.Next() {
		var recJSON []byte
		if err := rows.Scan(&recJSON); err != nil {
			return nil, fmt.Errorf("postgres: scan pipeline record: %w", err)
		}
		var r domain.PipelineRecord
		if err := json.Unmarshal(recJSON, &r); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal pipeline record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Compile-time interface checks.
var (
	_ domain.TaskStore           = (*HistoryStore)(nil)
	_ domain.PipelineRecordStore = (*HistoryStore)(nil)
)
