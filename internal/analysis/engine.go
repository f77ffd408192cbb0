package analysis

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Analyzer is the interface that all analysis skills must implement
type Analyzer interface {
	// Analyze performs the analysis for a given task
	// taskID: the analysis task ID
	// mode: "incremental" or "full"
	Analyze(ctx context.Context, taskID int64, mode string) error

	// GetProgress returns the current progress of the analysis
	GetProgress(taskID int64) (*Progress, error)

	// GetName returns the name of the analyzer
	GetName() string
}

// Analysis modes
const (
	ModeIncremental = "incremental"
	ModeFull        = "full"
)

// Progress represents the progress of an analysis task
type Progress struct {
	Processed int     `json:"processed"` // chunks processed
	Total     int     `json:"total"`     // chunks to process
	Failed    int     `json:"failed"`    // chunks that failed
	Percent   float64 `json:"percent"`   // 0-100
	Status    string  `json:"status"`
}

// BaseAnalyzer provides common functionality for all analyzers
type BaseAnalyzer struct {
	DB   *sql.DB
	Name string
}

// NewBaseAnalyzer creates a new base analyzer
func NewBaseAnalyzer(db *sql.DB, name string) *BaseAnalyzer {
	return &BaseAnalyzer{
		DB:   db,
		Name: name,
	}
}

// GetName returns the analyzer name
func (a *BaseAnalyzer) GetName() string {
	return a.Name
}

// UpdateTaskProgress updates the progress of an analysis task in the database
func (a *BaseAnalyzer) UpdateTaskProgress(taskID int64, processed, total, failed int) error {
	percent := 0.0
	if total > 0 {
		percent = float64(processed) / float64(total) * 100.0
	}

	query := `
		UPDATE analysis_tasks
		SET processed_chunks = ?,
		    total_chunks = ?,
		    failed_chunks = ?,
		    progress_percent = ?
		WHERE id = ?
	`

	if _, err := a.DB.Exec(query, processed, total, failed, percent, taskID); err != nil {
		return fmt.Errorf("failed to update task progress: %w", err)
	}
	return nil
}

// MarkTaskAsRunning marks a task as running
func (a *BaseAnalyzer) MarkTaskAsRunning(taskID int64) error {
	query := `
		UPDATE analysis_tasks
		SET status = 'running',
		    started_at = ?
		WHERE id = ?
	`

	if _, err := a.DB.Exec(query, time.Now().Unix(), taskID); err != nil {
		return fmt.Errorf("failed to mark task as running: %w", err)
	}
	return nil
}

// MarkTaskAsCompleted marks a task as completed with a result summary
func (a *BaseAnalyzer) MarkTaskAsCompleted(taskID int64, resultSummary string) error {
	query := `
		UPDATE analysis_tasks
		SET status = 'completed',
		    progress_percent = 100,
		    result_summary = ?,
		    completed_at = ?
		WHERE id = ?
	`

	if _, err := a.DB.Exec(query, resultSummary, time.Now().Unix(), taskID); err != nil {
		return fmt.Errorf("failed to mark task as completed: %w", err)
	}
	return nil
}

// MarkTaskAsFailed marks a task as failed with an error message
func (a *BaseAnalyzer) MarkTaskAsFailed(taskID int64, errorMsg string) error {
	query := `
		UPDATE analysis_tasks
		SET status = 'failed',
		    error_message = ?,
		    completed_at = ?
		WHERE id = ?
	`

	if _, err := a.DB.Exec(query, errorMsg, time.Now().Unix(), taskID); err != nil {
		return fmt.Errorf("failed to mark task as failed: %w", err)
	}
	return nil
}

// GetTaskParams returns the raw JSON parameters of a task
func (a *BaseAnalyzer) GetTaskParams(ctx context.Context, taskID int64) (string, error) {
	var params sql.NullString
	err := a.DB.QueryRowContext(ctx, `SELECT params_json FROM analysis_tasks WHERE id = ?`, taskID).Scan(&params)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("analysis task not found: %d", taskID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get task params: %w", err)
	}
	return params.String, nil
}

// GetProgress returns the current progress from the database
func (a *BaseAnalyzer) GetProgress(taskID int64) (*Progress, error) {
	query := `
		SELECT processed_chunks, total_chunks, failed_chunks, progress_percent, status
		FROM analysis_tasks
		WHERE id = ?
	`

	var progress Progress
	err := a.DB.QueryRow(query, taskID).Scan(
		&progress.Processed,
		&progress.Total,
		&progress.Failed,
		&progress.Percent,
		&progress.Status,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("analysis task not found: %d", taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task progress: %w", err)
	}

	return &progress, nil
}

// AnalyzerFactory is a function that creates an analyzer instance
type AnalyzerFactory func(db *sql.DB) Analyzer

var (
	registryMu       sync.RWMutex
	analyzerRegistry = make(map[string]AnalyzerFactory)
)

// RegisterAnalyzer registers an analyzer factory for a skill name. A later
// registration replaces an earlier one.
func RegisterAnalyzer(skillName string, factory AnalyzerFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	analyzerRegistry[skillName] = factory
}

// GetAnalyzer retrieves an analyzer instance for a skill name
func GetAnalyzer(skillName string, db *sql.DB) Analyzer {
	registryMu.RLock()
	factory, ok := analyzerRegistry[skillName]
	registryMu.RUnlock()
	if !ok {
		return nil
	}
	return factory(db)
}

// IsRegistered checks if an analyzer exists for a skill name
func IsRegistered(skillName string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := analyzerRegistry[skillName]
	return ok
}

// RegisteredSkills lists the registered skill names
func RegisteredSkills() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(analyzerRegistry))
	for name := range analyzerRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
