package pressure

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/itss-group/projectpulse/internal/domain"
	"github.com/itss-group/projectpulse/internal/monitoring"
)

// Thresholds holds the engine-level classification fractions. These are
// constants of the engine, not per-project configuration; they are injected
// so tests can vary them.
type Thresholds struct {
	// Risk is the threshold fraction at which a user becomes AT_RISK.
	Risk float64
	// Overload is the threshold fraction at which a user becomes OVERLOADED.
	Overload float64
	// DefaultProjectThreshold is used when evaluating without a project
	// context that carries its own threshold.
	DefaultProjectThreshold float64
}

// DefaultThresholds returns the standard classification fractions.
func DefaultThresholds() Thresholds {
	return Thresholds{Risk: 0.7, Overload: 1.0, DefaultProjectThreshold: 15}
}

// TaskSource supplies a user's outstanding (not-started or in-progress)
// tasks, with group/project links populated.
type TaskSource interface {
	IncompleteTasksByAssignee(ctx context.Context, userID int64) ([]domain.Task, error)
	IncompleteTasksByAssigneeAndProject(ctx context.Context, userID, projectID int64) ([]domain.Task, error)
}

// Directory resolves users, projects, groups and participation.
type Directory interface {
	UserByID(ctx context.Context, id int64) (*domain.User, error)
	ProjectByID(ctx context.Context, id int64) (*domain.Project, error)
	ActiveProjects(ctx context.Context) ([]domain.Project, error)
	ProjectUsers(ctx context.Context, projectID int64) ([]domain.User, error)
	GroupsByMember(ctx context.Context, userID int64) ([]domain.Group, error)
	GroupsByMemberAndProject(ctx context.Context, userID, projectID int64) ([]domain.Group, error)
}

// Result is the outcome of a pressure evaluation.
type Result struct {
	UserID            int64                 `json:"user_id"`
	Username          string                `json:"username"`
	FullName          string                `json:"full_name"`
	PressureScore     float64               `json:"pressure_score"`
	Status            domain.PressureStatus `json:"status"`
	StatusDescription string                `json:"status_description"`
	TaskCount         int                   `json:"task_count"`
	Threshold         float64               `json:"threshold"`
	// ThresholdPercent is the threshold fraction scaled to a display
	// percentage (100 means the threshold is exactly reached).
	ThresholdPercent float64 `json:"threshold_percentage"`
	ProjectID        *int64  `json:"project_id,omitempty"`
	ProjectName      string  `json:"project_name,omitempty"`
}

// Calculator evaluates per-user workload pressure.
type Calculator struct {
	tasks      TaskSource
	directory  Directory
	thresholds Thresholds
	now        func() time.Time
	logger     *slog.Logger
}

// NewCalculator creates a pressure calculator.
func NewCalculator(tasks TaskSource, directory Directory, thresholds Thresholds, logger *slog.Logger) *Calculator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Calculator{
		tasks:      tasks,
		directory:  directory,
		thresholds: thresholds,
		now:        time.Now,
		logger:     logger,
	}
}

// WithClock overrides the time source, for tests.
func (c *Calculator) WithClock(now func() time.Time) *Calculator {
	c.now = now
	return c
}

// classify maps a threshold fraction to a status.
func (c *Calculator) classify(fraction float64) domain.PressureStatus {
	switch {
	case fraction >= c.thresholds.Overload:
		return domain.PressureOverloaded
	case fraction >= c.thresholds.Risk:
		return domain.PressureAtRisk
	default:
		return domain.PressureSafe
	}
}

// taskPressure sums the pressure of the given tasks, skipping tasks missing
// difficulty or deadline. A malformed task never aborts the calculation.
func (c *Calculator) taskPressure(tasks []domain.Task) (total float64, counted int) {
	now := c.now()
	for _, task := range tasks {
		if task.Difficulty < 1 {
			c.logger.Warn("task has no difficulty, skipping in pressure calculation", "task_id", task.ID)
			continue
		}
		if task.Deadline == nil {
			c.logger.Warn("task has no deadline, skipping in pressure calculation", "task_id", task.ID)
			continue
		}
		urgency := UrgencyFactor(daysUntil(now, *task.Deadline))
		total += TaskPressureScore(task.Difficulty, urgency)
		counted++
	}
	return total, counted
}

func (c *Calculator) safeResult(user *domain.User, description string) Result {
	return Result{
		UserID:            user.ID,
		Username:          user.Username,
		FullName:          user.FullName,
		Status:            domain.PressureSafe,
		StatusDescription: description,
	}
}

// Evaluate classifies a user's pressure across every project they
// participate in. The project with the highest threshold fraction is
// representative; the task count sums over all projects. This is an
// advisory signal: unexpected failures degrade to a SAFE default instead of
// propagating.
func (c *Calculator) Evaluate(ctx context.Context, userID int64) (Result, error) {
	user, err := c.directory.UserByID(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	result, err := c.evaluateAcrossProjects(ctx, user)
	if err != nil {
		c.logger.Error("pressure evaluation failed, degrading to SAFE",
			"user_id", userID, "error", err)
		monitoring.ObservePressureEvaluation(string(domain.PressureSafe))
		return c.safeResult(user, "Error calculating pressure status - defaulting to SAFE"), nil
	}

	monitoring.ObservePressureEvaluation(string(result.Status))
	return result, nil
}

func (c *Calculator) evaluateAcrossProjects(ctx context.Context, user *domain.User) (Result, error) {
	groups, err := c.directory.GroupsByMember(ctx, user.ID)
	if err != nil {
		return Result{}, fmt.Errorf("listing groups for user %d: %w", user.ID, err)
	}
	if len(groups) == 0 {
		return c.safeResult(user, domain.PressureSafe.Description()+" - no groups found for this user"), nil
	}

	projects := make(map[int64]*domain.Project)
	for _, group := range groups {
		if _, ok := projects[group.ProjectID]; ok {
			continue
		}
		project, err := c.directory.ProjectByID(ctx, group.ProjectID)
		if err != nil {
			c.logger.Warn("skipping unresolvable project", "project_id", group.ProjectID, "error", err)
			continue
		}
		projects[project.ID] = project
	}
	if len(projects) == 0 {
		return c.safeResult(user, domain.PressureSafe.Description()+" - no valid projects found"), nil
	}

	tasks, err := c.tasks.IncompleteTasksByAssignee(ctx, user.ID)
	if err != nil {
		return Result{}, fmt.Errorf("listing incomplete tasks for user %d: %w", user.ID, err)
	}

	tasksByProject := make(map[int64][]domain.Task)
	for _, task := range tasks {
		if task.ProjectID == 0 {
			c.logger.Warn("task has no project link, skipping", "task_id", task.ID)
			continue
		}
		tasksByProject[task.ProjectID] = append(tasksByProject[task.ProjectID], task)
	}

	var (
		bestFraction float64
		bestScore    float64
		bestProject  *domain.Project
		totalTasks   int
	)
	for projectID, projectTasks := range tasksByProject {
		project, ok := projects[projectID]
		if !ok {
			c.logger.Warn("task project not among user projects, skipping",
				"project_id", projectID, "user_id", user.ID)
			continue
		}

		score, _ := c.taskPressure(projectTasks)
		totalTasks += len(projectTasks)

		if project.PressureThreshold <= 0 {
			c.logger.Warn("project has no positive pressure threshold", "project_id", project.ID)
			continue
		}
		fraction := score / project.PressureThreshold
		if fraction > bestFraction {
			bestFraction = fraction
			bestScore = score
			bestProject = project
		}
	}

	result := Result{
		UserID:            user.ID,
		Username:          user.Username,
		FullName:          user.FullName,
		PressureScore:     bestScore,
		Status:            c.classify(bestFraction),
		TaskCount:         totalTasks,
		ThresholdPercent:  bestFraction * 100,
		StatusDescription: c.classify(bestFraction).Description(),
	}
	if bestProject != nil {
		result.Threshold = bestProject.PressureThreshold
		id := bestProject.ID
		result.ProjectID = &id
		result.ProjectName = bestProject.Name
	}
	return result, nil
}

// EvaluateForProject classifies a user's pressure within one project.
// Collaborator failures propagate; sweep callers treat them as a skipped
// unit.
func (c *Calculator) EvaluateForProject(ctx context.Context, user domain.User, project *domain.Project) (Result, error) {
	tasks, err := c.tasks.IncompleteTasksByAssigneeAndProject(ctx, user.ID, project.ID)
	if err != nil {
		return Result{}, fmt.Errorf("listing incomplete tasks for user %d in project %d: %w", user.ID, project.ID, err)
	}

	score, counted := c.taskPressure(tasks)

	threshold := project.PressureThreshold
	if threshold <= 0 {
		threshold = c.thresholds.DefaultProjectThreshold
	}
	fraction := 0.0
	if threshold > 0 {
		fraction = score / threshold
	}

	status := c.classify(fraction)
	monitoring.ObservePressureEvaluation(string(status))

	id := project.ID
	return Result{
		UserID:            user.ID,
		Username:          user.Username,
		FullName:          user.FullName,
		PressureScore:     score,
		Status:            status,
		StatusDescription: status.Description(),
		TaskCount:         counted,
		Threshold:         threshold,
		ThresholdPercent:  fraction * 100,
		ProjectID:         &id,
		ProjectName:       project.Name,
	}, nil
}

// ProjectPressureScores evaluates every participant of a project. A failure
// for one user is logged and skipped rather than failing the whole listing.
func (c *Calculator) ProjectPressureScores(ctx context.Context, projectID int64) ([]Result, error) {
	project, err := c.directory.ProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	users, err := c.directory.ProjectUsers(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing project users: %w", err)
	}

	results := make([]Result, 0, len(users))
	for _, user := range users {
		result, err := c.EvaluateForProject(ctx, user, project)
		if err != nil {
			c.logger.Error("skipping user in project pressure listing",
				"user_id", user.ID, "project_id", projectID, "error", err)
			continue
		}
		results = append(results, result)
	}
	return results, nil
}
