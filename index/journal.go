package index

import (
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/Coinsides/mimobrain-memory-system/internal/merrors"
	"github.com/Coinsides/mimobrain-memory-system/task"
)

// JournalRow is one persisted task_id -> (spec, result, context) record.
type JournalRow struct {
	TaskID    string
	Spec      task.Spec
	Result    task.Result
	Context   map[string]any
	CreatedAt string
}

// AppendTask journals spec/result, replacing any prior row for the same
// task_id. The task journal is keyed by task_id and idempotent on
// re-insert: running the same task again (same task_id) overwrites its
// row rather than accumulating duplicate history, so a late-arriving
// result lands cleanly.
func (db *DB) AppendTask(spec task.Spec, result task.Result, taskCtx map[string]any) error {
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return merrors.Wrap(merrors.KindValidation, "index.AppendTask", "encode spec", err)
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return merrors.Wrap(merrors.KindValidation, "index.AppendTask", "encode result", err)
	}
	var ctxJSON []byte
	if taskCtx != nil {
		ctxJSON, err = json.Marshal(taskCtx)
		if err != nil {
			return merrors.Wrap(merrors.KindValidation, "index.AppendTask", "encode context", err)
		}
	}

	_, err = db.conn.Exec(`
		INSERT INTO tasks (task_id, idempotency_key, type, status, created_at, elapsed_ms, spec_json, result_json, context_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			idempotency_key=excluded.idempotency_key,
			type=excluded.type,
			status=excluded.status,
			created_at=excluded.created_at,
			elapsed_ms=excluded.elapsed_ms,
			spec_json=excluded.spec_json,
			result_json=excluded.result_json,
			context_json=excluded.context_json
	`, spec.TaskID, spec.IdempotencyKey, spec.Type, string(result.Status), spec.CreatedAt, result.Stats.ElapsedMS,
		string(specJSON), string(resultJSON), nullableString(ctxJSON))
	if err != nil {
		return merrors.Wrap(merrors.KindIntegrity, "index.AppendTask", "upsert task row", err)
	}
	return nil
}

func nullableString(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

// GetTask loads the journaled row for taskID, or a NotFound error if no
// row exists.
func (db *DB) GetTask(taskID string) (*JournalRow, error) {
	row := db.conn.QueryRow(`
		SELECT task_id, created_at, spec_json, result_json, context_json
		FROM tasks WHERE task_id = ?`, taskID)

	var (
		id, createdAt, specJSON, resultJSON string
		ctxJSON                             sql.NullString
	)
	if err := row.Scan(&id, &createdAt, &specJSON, &resultJSON, &ctxJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, merrors.NotFound("index.GetTask", "no journaled task: "+taskID)
		}
		return nil, merrors.Wrap(merrors.KindIntegrity, "index.GetTask", "scan task row", err)
	}

	var spec task.Spec
	if err := json.Unmarshal([]byte(specJSON), &spec); err != nil {
		return nil, merrors.Wrap(merrors.KindIntegrity, "index.GetTask", "decode spec_json", err)
	}
	var result task.Result
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		return nil, merrors.Wrap(merrors.KindIntegrity, "index.GetTask", "decode result_json", err)
	}
	var taskCtx map[string]any
	if ctxJSON.Valid && ctxJSON.String != "" {
		if err := json.Unmarshal([]byte(ctxJSON.String), &taskCtx); err != nil {
			return nil, merrors.Wrap(merrors.KindIntegrity, "index.GetTask", "decode context_json", err)
		}
	}

	return &JournalRow{TaskID: id, Spec: spec, Result: result, Context: taskCtx, CreatedAt: createdAt}, nil
}
