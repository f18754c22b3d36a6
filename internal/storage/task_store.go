package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/wecom-scheduler/internal/model"
)

// ErrTaskNotFound is returned when a task is not found
var ErrTaskNotFound = errors.New("task not found")

// TaskStore defines the interface for persisted recurring tasks. The poller
// and the registry depend only on this interface, not on a storage engine.
type TaskStore interface {
	// Create persists a new task and assigns its identity
	Create(ctx context.Context, task *model.Task) error

	// Update applies a partial update and returns the updated task
	Update(ctx context.Context, id int64, update model.TaskUpdate) (*model.Task, error)

	// Delete removes a task by ID
	Delete(ctx context.Context, id int64) error

	// Get retrieves a task by ID
	Get(ctx context.Context, id int64) (*model.Task, error)

	// List retrieves tasks matching the filters
	List(ctx context.Context, filters model.TaskFilters) ([]*model.Task, error)

	// ListActive retrieves all active tasks
	ListActive(ctx context.Context) ([]*model.Task, error)

	// ListDue retrieves active tasks whose next run time is at or before now
	ListDue(ctx context.Context, now time.Time) ([]*model.Task, error)

	// UpdateNextRun updates only the next run time of a task. It reports
	// whether the task still existed, so a task deleted mid-cycle is a
	// no-op rather than an error.
	UpdateNextRun(ctx context.Context, id int64, next time.Time) (bool, error)
}

// SQLiteTaskStore implements TaskStore using SQLite
type SQLiteTaskStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteTaskStore opens (or creates) a SQLite-backed task store
func NewSQLiteTaskStore(logger *zap.Logger, dbPath string) (*SQLiteTaskStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteTaskStore{
		logger: logger.Named("task-store"),
		db:     db,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteTaskStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS wecom_task (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			webhook_url TEXT NOT NULL,
			message_type TEXT NOT NULL,
			message_content TEXT,
			file_path TEXT,
			cron_expression TEXT NOT NULL,
			next_run_time DATETIME,
			active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_wecom_task_active ON wecom_task(active);
		CREATE INDEX IF NOT EXISTS idx_wecom_task_next_run ON wecom_task(next_run_time);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Create implements TaskStore.Create
func (s *SQLiteTaskStore) Create(ctx context.Context, task *model.Task) error {
	if task.UUID == "" {
		task.UUID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO wecom_task (
			uuid, name, webhook_url, message_type, message_content,
			file_path, cron_expression, next_run_time, active, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.UUID,
		task.Name,
		task.WebhookURL,
		string(task.MessageType),
		sql.NullString{String: task.MessageContent, Valid: task.MessageContent != ""},
		sql.NullString{String: task.FilePath, Valid: task.FilePath != ""},
		task.CronExpression,
		nullTime(task.NextRunTime),
		task.Active,
		task.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get task id: %w", err)
	}
	task.ID = id
	return nil
}

// Update implements TaskStore.Update
func (s *SQLiteTaskStore) Update(ctx context.Context, id int64, update model.TaskUpdate) (*model.Task, error) {
	sets := make([]string, 0, 8)
	args := make([]interface{}, 0, 8)

	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.WebhookURL != nil {
		sets = append(sets, "webhook_url = ?")
		args = append(args, *update.WebhookURL)
	}
	if update.MessageType != nil {
		sets = append(sets, "message_type = ?")
		args = append(args, string(*update.MessageType))
	}
	if update.MessageContent != nil {
		sets = append(sets, "message_content = ?")
		args = append(args, sql.NullString{String: *update.MessageContent, Valid: *update.MessageContent != ""})
	}
	if update.FilePath != nil {
		sets = append(sets, "file_path = ?")
		args = append(args, sql.NullString{String: *update.FilePath, Valid: *update.FilePath != ""})
	}
	if update.CronExpression != nil {
		sets = append(sets, "cron_expression = ?")
		args = append(args, *update.CronExpression)
	}
	if update.NextRunTime != nil {
		sets = append(sets, "next_run_time = ?")
		args = append(args, *update.NextRunTime)
	}
	if update.Active != nil {
		sets = append(sets, "active = ?")
		args = append(args, *update.Active)
	}

	if len(sets) > 0 {
		sets = append(sets, "updated_at = ?")
		args = append(args, time.Now())
		args = append(args, id)

		query := "UPDATE wecom_task SET " + strings.Join(sets, ", ") + " WHERE id = ?"
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to update task: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to get affected rows: %w", err)
		}
		if affected == 0 {
			return nil, ErrTaskNotFound
		}
	}

	return s.Get(ctx, id)
}

// Delete implements TaskStore.Delete
func (s *SQLiteTaskStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM wecom_task WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

const taskColumns = `id, uuid, name, webhook_url, message_type, message_content,
	file_path, cron_expression, next_run_time, active, created_at, updated_at`

// Get implements TaskStore.Get
func (s *SQLiteTaskStore) Get(ctx context.Context, id int64) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+taskColumns+" FROM wecom_task WHERE id = ?", id)

	task, err := scanTask(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	return task, nil
}

// List implements TaskStore.List
func (s *SQLiteTaskStore) List(ctx context.Context, filters model.TaskFilters) ([]*model.Task, error) {
	query := "SELECT " + taskColumns + " FROM wecom_task"
	args := make([]interface{}, 0, 4)
	conds := make([]string, 0, 2)

	if filters.Name != "" {
		conds = append(conds, "name LIKE ?")
		args = append(args, "%"+filters.Name+"%")
	}
	if filters.Active != nil {
		conds = append(conds, "active = ?")
		args = append(args, *filters.Active)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	query += " ORDER BY id"
	if filters.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filters.Limit, filters.Offset)
	}

	return s.queryTasks(ctx, query, args...)
}

// ListActive implements TaskStore.ListActive
func (s *SQLiteTaskStore) ListActive(ctx context.Context) ([]*model.Task, error) {
	return s.queryTasks(ctx,
		"SELECT "+taskColumns+" FROM wecom_task WHERE active = 1 ORDER BY id")
}

// ListDue implements TaskStore.ListDue
func (s *SQLiteTaskStore) ListDue(ctx context.Context, now time.Time) ([]*model.Task, error) {
	return s.queryTasks(ctx,
		"SELECT "+taskColumns+` FROM wecom_task
		WHERE active = 1 AND next_run_time IS NOT NULL AND next_run_time <= ?
		ORDER BY id`, now)
}

// UpdateNextRun implements TaskStore.UpdateNextRun
func (s *SQLiteTaskStore) UpdateNextRun(ctx context.Context, id int64, next time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		"UPDATE wecom_task SET next_run_time = ? WHERE id = ?", next, id)
	if err != nil {
		return false, fmt.Errorf("failed to update next run time: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

func (s *SQLiteTaskStore) queryTasks(ctx context.Context, query string, args ...interface{}) ([]*model.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return tasks, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*model.Task, error) {
	var task model.Task
	var messageType string
	var content, filePath sql.NullString
	var nextRun, updatedAt sql.NullTime

	err := row.Scan(
		&task.ID,
		&task.UUID,
		&task.Name,
		&task.WebhookURL,
		&messageType,
		&content,
		&filePath,
		&task.CronExpression,
		&nextRun,
		&task.Active,
		&task.CreatedAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.MessageType = model.MessageType(messageType)
	if content.Valid {
		task.MessageContent = content.String
	}
	if filePath.Valid {
		task.FilePath = filePath.String
	}
	if nextRun.Valid {
		t := nextRun.Time
		task.NextRunTime = &t
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		task.UpdatedAt = &t
	}
	return &task, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Close closes the database connection
func (s *SQLiteTaskStore) Close() error {
	return s.db.Close()
}
