package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jengzang/fleet-records-go/internal/models"
)

// AnalysisTaskRepository handles database operations for analysis tasks
type AnalysisTaskRepository struct {
	db *sql.DB
}

// NewAnalysisTaskRepository creates a new analysis task repository
func NewAnalysisTaskRepository(db *sql.DB) *AnalysisTaskRepository {
	return &AnalysisTaskRepository{db: db}
}

const taskColumns = `id, skill_name, task_type, status, progress_percent, params_json,
	total_chunks, processed_chunks, failed_chunks, result_summary, error_message,
	created_by, created_at, started_at, completed_at`

// Create creates a new analysis task
func (r *AnalysisTaskRepository) Create(ctx context.Context, task *models.AnalysisTask) error {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}

	query := `
		INSERT INTO analysis_tasks (
			skill_name, task_type, status, progress_percent, params_json,
			total_chunks, processed_chunks, failed_chunks, created_by, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		task.SkillName,
		task.TaskType,
		task.Status,
		task.ProgressPercent,
		task.ParamsJSON,
		task.TotalChunks,
		task.ProcessedChunks,
		task.FailedChunks,
		task.CreatedBy,
		task.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create analysis task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	task.ID = id
	return nil
}

// GetByID retrieves an analysis task by ID, or nil when it does not exist
func (r *AnalysisTaskRepository) GetByID(ctx context.Context, id int64) (*models.AnalysisTask, error) {
	query := `SELECT ` + taskColumns + ` FROM analysis_tasks WHERE id = ?`

	task, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis task: %w", err)
	}
	return task, nil
}

// List retrieves analysis tasks with optional filters, newest first
func (r *AnalysisTaskRepository) List(ctx context.Context, skillName, status string, limit, offset int) ([]*models.AnalysisTask, error) {
	query := `SELECT ` + taskColumns + ` FROM analysis_tasks WHERE 1=1`

	args := []interface{}{}
	if skillName != "" {
		query += " AND skill_name = ?"
		args = append(args, skillName)
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}

	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list analysis tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.AnalysisTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// FindRunning returns the running or pending task of a skill, or nil
func (r *AnalysisTaskRepository) FindRunning(ctx context.Context, skillName string) (*models.AnalysisTask, error) {
	query := `SELECT ` + taskColumns + `
		FROM analysis_tasks
		WHERE skill_name = ? AND status IN (?, ?)
		ORDER BY id DESC
		LIMIT 1`

	task, err := scanTask(r.db.QueryRowContext(ctx, query, skillName, models.TaskStatusPending, models.TaskStatusRunning))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find running task: %w", err)
	}
	return task, nil
}

func scanTask(row rowScanner) (*models.AnalysisTask, error) {
	var (
		task                               models.AnalysisTask
		params, summary, errMsg, createdBy sql.NullString
		createdAt                          int64
		startedAt, completedAt             sql.NullInt64
	)
	if err := row.Scan(
		&task.ID, &task.SkillName, &task.TaskType, &task.Status, &task.ProgressPercent, &params,
		&task.TotalChunks, &task.ProcessedChunks, &task.FailedChunks, &summary, &errMsg,
		&createdBy, &createdAt, &startedAt, &completedAt,
	); err != nil {
		return nil, err
	}

	task.ParamsJSON = params.String
	task.ResultSummary = summary.String
	task.ErrorMessage = errMsg.String
	task.CreatedBy = createdBy.String
	task.CreatedAt = fromUnix(createdAt)
	task.StartedAt = fromNullUnix(startedAt)
	task.CompletedAt = fromNullUnix(completedAt)

	return &task, nil
}
