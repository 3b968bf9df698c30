package task

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists TaskRecords, spec §6 `tasks` table. The embedded-DB
// backend below is the only implementation in scope (spec §4.G names
// the external-workflow backend contractually out of scope).
type Store interface {
	InsertJob(ctx context.Context, rec *Record) error
	ClaimNext(ctx context.Context) (*Record, error)
	UpdateProgress(ctx context.Context, jobID string, partial Stats) error
	Finish(ctx context.Context, jobID string, status Status, errMsg string, stats Stats) error
	CancelJob(ctx context.Context, jobID string) error
	DeleteJob(ctx context.Context, jobID string) error
	GetJob(ctx context.Context, jobID string) (*Record, error)
	ListJobs(ctx context.Context, filter ListFilter) ([]Record, error)
	// ResetOrphaned implements crash recovery, spec §4.G step 8: any
	// row left in pending|running from a prior process is reset to
	// pending. Returns the count reset.
	ResetOrphaned(ctx context.Context) (int, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	task_type TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	user_type TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	payload BLOB NOT NULL,
	stats TEXT NOT NULL DEFAULT '{}',
	error TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	started_at INTEGER,
	finished_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status, created_at);
`

// SQLiteStore is the embedded-DB backend, grounded on the teacher's
// backend/sqlite/sqlite_utils.go (plain database/sql against the
// mattn/go-sqlite3 driver, schema created lazily on first open).
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if absent) the sqlite file at path
// and ensures the tasks schema exists.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open task database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init task schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// NewJobID builds the `<taskType>-YYMMDDHHMM-<rand6>` id from spec
// §4.G step 1.
func NewJobID(taskType string) string {
	return fmt.Sprintf("%s-%s-%s", taskType, time.Now().UTC().Format("0601021504"), randomSuffix(6))
}

func randomSuffix(n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	buf := make([]byte, n)
	rand.Read(buf)
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out)
}

func (s *SQLiteStore) InsertJob(ctx context.Context, rec *Record) error {
	statsJSON, err := json.Marshal(rec.Stats)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, task_type, user_id, user_type, status, payload, stats, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, '', ?, ?)`,
		rec.ID, rec.TaskType, rec.UserID, rec.UserType, string(rec.Status), rec.Payload, string(statsJSON),
		rec.CreatedAt.Unix(), rec.UpdatedAt.Unix())
	return err
}

// ClaimNext implements the immediate-transaction atomic claim of spec
// §4.G step 2: the store is opened with _txlock=immediate, so every
// BeginTx below issues a real `BEGIN IMMEDIATE` at the driver level,
// taking the write lock before the SELECT runs. Select the oldest
// pending row, update it to running, commit. Returns (nil, nil) when
// no job is pending.
func (s *SQLiteStore) ClaimNext(ctx context.Context) (*Record, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, task_type, user_id, user_type, status, payload, stats, error, created_at, updated_at, started_at, finished_at
		FROM tasks WHERE status = ? ORDER BY created_at ASC LIMIT 1`, string(StatusPending))
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ?, started_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(StatusRunning), now.Unix(), now.Unix(), rec.ID, string(StatusPending)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	rec.Status = StatusRunning
	rec.StartedAt = &now
	return rec, nil
}

func (s *SQLiteStore) UpdateProgress(ctx context.Context, jobID string, partial Stats) error {
	current, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("task: job %s not found", jobID)
	}
	merged := mergeStats(current.Stats, partial)
	statsJSON, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE tasks SET stats = ?, updated_at = ? WHERE id = ?`,
		string(statsJSON), time.Now().UTC().Unix(), jobID)
	return err
}

// mergeStats overlays partial onto base. TotalItems/TotalBytes and
// BytesTransferred are sent as absolute running totals and take
// partial's value whenever it is non-zero; ProcessedItems/SuccessCount/FailedCount/
// SkippedCount are sent as per-call deltas (handlers report "+1 item
// done" on every UpdateProgress call, see CopyHandler.Execute) and so
// accumulate instead. itemResults are merged by key. This is what
// makes updateProgress safe to call at any granularity (spec §4.G
// step 3) without the running counters collapsing to the last delta.
func mergeStats(base, partial Stats) Stats {
	out := base
	if partial.TotalItems != 0 {
		out.TotalItems = partial.TotalItems
	}
	out.ProcessedItems += partial.ProcessedItems
	out.SuccessCount += partial.SuccessCount
	out.FailedCount += partial.FailedCount
	out.SkippedCount += partial.SkippedCount
	if partial.TotalBytes != 0 {
		out.TotalBytes = partial.TotalBytes
	}
	if partial.BytesTransferred != 0 {
		out.BytesTransferred = partial.BytesTransferred
	}
	if len(partial.ItemResults) > 0 {
		if out.ItemResults == nil {
			out.ItemResults = map[string]ItemResult{}
		}
		for k, v := range partial.ItemResults {
			out.ItemResults[k] = v
		}
	}
	return out
}

func (s *SQLiteStore) Finish(ctx context.Context, jobID string, status Status, errMsg string, stats Stats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `UPDATE tasks SET status = ?, error = ?, stats = ?, finished_at = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, string(statsJSON), now.Unix(), now.Unix(), jobID)
	return err
}

func (s *SQLiteStore) CancelJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		string(StatusCancelled), time.Now().UTC().Unix(), jobID, string(StatusPending), string(StatusRunning))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("task: job %s is not cancellable", jobID)
	}
	return nil
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	rec, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("task: job %s not found", jobID)
	}
	if !rec.Status.terminal() {
		return fmt.Errorf("task: job %s is not in a terminal state", jobID)
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, jobID)
	return err
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_type, user_id, user_type, status, payload, stats, error, created_at, updated_at, started_at, finished_at
		FROM tasks WHERE id = ?`, jobID)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter ListFilter) ([]Record, error) {
	query := `SELECT id, task_type, user_id, user_type, status, payload, stats, error, created_at, updated_at, started_at, finished_at FROM tasks WHERE 1=1`
	var args []interface{}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.TaskType != "" {
		query += " AND task_type = ?"
		args = append(args, filter.TaskType)
	}
	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	query += " ORDER BY created_at DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecordRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ResetOrphaned(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ?, started_at = NULL, updated_at = ? WHERE status IN (?, ?)`,
		string(StatusPending), time.Now().UTC().Unix(), string(StatusPending), string(StatusRunning))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// scanner abstracts over *sql.Row and *sql.Rows so scanRecord logic
// is written once.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*Record, error) {
	return scanRecordRows(row)
}

func scanRecordRows(row scanner) (*Record, error) {
	var rec Record
	var statsJSON string
	var status string
	var startedAt, finishedAt sql.NullInt64
	var createdAt, updatedAt int64
	var payloadBytes []byte

	if err := row.Scan(&rec.ID, &rec.TaskType, &rec.UserID, &rec.UserType, &status, &payloadBytes, &statsJSON,
		&rec.Error, &createdAt, &updatedAt, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	rec.Payload = payloadBytes
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	rec.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if startedAt.Valid {
		t := time.Unix(startedAt.Int64, 0).UTC()
		rec.StartedAt = &t
	}
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0).UTC()
		rec.FinishedAt = &t
	}
	if err := json.Unmarshal([]byte(statsJSON), &rec.Stats); err != nil {
		return nil, err
	}
	return &rec, nil
}
