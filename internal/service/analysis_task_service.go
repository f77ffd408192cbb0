package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/jengzang/fleet-records-go/internal/analysis"
	"github.com/jengzang/fleet-records-go/internal/analysis/behavior"
	"github.com/jengzang/fleet-records-go/internal/models"
	"github.com/jengzang/fleet-records-go/internal/repository"
)

// ErrTaskInProgress is returned when a task of the same skill is already
// pending or running
var ErrTaskInProgress = errors.New("a task of this skill is already in progress")

// AnalysisTaskService handles analysis task business logic
type AnalysisTaskService struct {
	repo *repository.AnalysisTaskRepository
	db   *sql.DB

	mu      sync.Mutex
	cancels map[int64]context.CancelFunc
	wg      sync.WaitGroup
}

// NewAnalysisTaskService creates a new analysis task service
func NewAnalysisTaskService(repo *repository.AnalysisTaskRepository, db *sql.DB) *AnalysisTaskService {
	return &AnalysisTaskService{
		repo:    repo,
		db:      db,
		cancels: make(map[int64]context.CancelFunc),
	}
}

// CreateTask records a new task and runs its analyzer in the background
func (s *AnalysisTaskService) CreateTask(ctx context.Context, skillName, taskType string, params interface{}, createdBy string) (*models.AnalysisTask, error) {
	if !analysis.IsRegistered(skillName) {
		return nil, fmt.Errorf("invalid skill name: %s (registered: %v)", skillName, analysis.RegisteredSkills())
	}
	if taskType == "" {
		taskType = models.TaskTypeIncremental
	}
	if taskType != models.TaskTypeIncremental && taskType != models.TaskTypeFullRecompute {
		return nil, fmt.Errorf("invalid task type: %s", taskType)
	}

	running, err := s.repo.FindRunning(ctx, skillName)
	if err != nil {
		return nil, err
	}
	if running != nil {
		return nil, fmt.Errorf("%w (task %d)", ErrTaskInProgress, running.ID)
	}

	var paramsJSON string
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize params: %w", err)
		}
		paramsJSON = string(data)
	}

	task := &models.AnalysisTask{
		SkillName:  skillName,
		TaskType:   taskType,
		Status:     models.TaskStatusPending,
		ParamsJSON: paramsJSON,
		CreatedBy:  createdBy,
	}
	if err := s.repo.Create(ctx, task); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[task.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.execute(runCtx, task.ID, skillName, taskType)

	return task, nil
}

// CreateBackfill starts a trip backfill over the given vehicles and range
func (s *AnalysisTaskService) CreateBackfill(ctx context.Context, params models.BackfillParams, full bool, createdBy string) (*models.AnalysisTask, error) {
	taskType := models.TaskTypeIncremental
	if full {
		taskType = models.TaskTypeFullRecompute
	}
	return s.CreateTask(ctx, behavior.TripBackfillSkill, taskType, params, createdBy)
}

func (s *AnalysisTaskService) execute(ctx context.Context, taskID int64, skillName, taskType string) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		if cancel, ok := s.cancels[taskID]; ok {
			cancel()
			delete(s.cancels, taskID)
		}
		s.mu.Unlock()
	}()

	log.Printf("[AnalysisTaskService] Executing task %d (skill: %s, type: %s)", taskID, skillName, taskType)

	analyzer := analysis.GetAnalyzer(skillName, s.db)
	if analyzer == nil {
		log.Printf("[AnalysisTaskService] Failed to get analyzer for skill: %s", skillName)
		analysis.NewBaseAnalyzer(s.db, skillName).MarkTaskAsFailed(taskID, fmt.Sprintf("Unknown skill: %s", skillName))
		return
	}

	mode := analysis.ModeIncremental
	if taskType == models.TaskTypeFullRecompute {
		mode = analysis.ModeFull
	}

	if err := analyzer.Analyze(ctx, taskID, mode); err != nil {
		log.Printf("[AnalysisTaskService] Task %d failed: %v", taskID, err)
		return
	}
	log.Printf("[AnalysisTaskService] Task %d completed", taskID)
}

// GetTask retrieves a task by ID, or nil
func (s *AnalysisTaskService) GetTask(ctx context.Context, id int64) (*models.AnalysisTask, error) {
	return s.repo.GetByID(ctx, id)
}

// GetProgress returns the chunk progress of a task
func (s *AnalysisTaskService) GetProgress(ctx context.Context, id int64) (*analysis.Progress, error) {
	task, err := s.repo.GetByID(ctx, id)
	if err != nil || task == nil {
		return nil, err
	}
	return analysis.NewBaseAnalyzer(s.db, task.SkillName).GetProgress(id)
}

// ListTasks retrieves tasks with optional filters
func (s *AnalysisTaskService) ListTasks(ctx context.Context, skillName, status string, limit, offset int) ([]*models.AnalysisTask, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	tasks, err := s.repo.List(ctx, skillName, status, limit, offset)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []*models.AnalysisTask{}
	}
	return tasks, nil
}

// CancelTask stops a pending or running task. Tasks left behind by an
// earlier process are marked failed directly.
func (s *AnalysisTaskService) CancelTask(ctx context.Context, id int64) error {
	task, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get task: %w", err)
	}
	if task == nil {
		return fmt.Errorf("task %d not found", id)
	}
	if task.IsTerminal() {
		return fmt.Errorf("task is not running (status: %s)", task.Status)
	}

	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()
	if ok {
		cancel()
		return nil
	}
	return analysis.NewBaseAnalyzer(s.db, task.SkillName).MarkTaskAsFailed(id, "Task cancelled by user")
}

// Wait blocks until every background task has returned
func (s *AnalysisTaskService) Wait() {
	s.wg.Wait()
}

// Shutdown cancels all background tasks and waits for them
func (s *AnalysisTaskService) Shutdown() {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
