// Package scoring implements the contribution scoring engine: cohort-wide
// Min-Max normalization of raw per-user metrics, weighted aggregation under
// the project weight invariant, and manual adjustment/finalization of the
// persisted scores.
package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/itss-group/projectpulse/internal/domain"
	"github.com/itss-group/projectpulse/internal/errors"
	"github.com/itss-group/projectpulse/internal/monitoring"
)

// Code contribution weights and the per-commit soft cap default.
const (
	weightAdditions = 1.0
	weightDeletions = 1.25

	// DefaultCommitCap caps a single commit's line counts so bulk imports
	// and vendored bumps do not distort the code contribution metric.
	DefaultCommitCap = 1000
)

// ScoreStore persists ContributionScore rows. FindByUserAndProject returns
// (nil, nil) when no row exists yet.
type ScoreStore interface {
	FindByID(ctx context.Context, id int64) (*domain.ContributionScore, error)
	FindByUserAndProject(ctx context.Context, userID, projectID int64) (*domain.ContributionScore, error)
	FindByProject(ctx context.Context, projectID int64) ([]*domain.ContributionScore, error)
	Save(ctx context.Context, score *domain.ContributionScore) error
}

// Directory resolves projects, groups and their participants. ProjectUsers
// and GroupUsers return members plus leaders, de-duplicated, in a stable
// order.
type Directory interface {
	ProjectByID(ctx context.Context, id int64) (*domain.Project, error)
	GroupByID(ctx context.Context, id int64) (*domain.Group, error)
	ProjectUsers(ctx context.Context, projectID int64) ([]domain.User, error)
	GroupUsers(ctx context.Context, groupID int64) ([]domain.User, error)
}

// TaskSource supplies the tasks assigned to a user within a project, with
// difficulty, deadline, status and completion time populated.
type TaskSource interface {
	TasksByAssigneeAndProject(ctx context.Context, userID, projectID int64) ([]domain.Task, error)
}

// CommitStats aggregates addition/deletion totals over valid commits for a
// set of tasks, capping each commit at capPerCommit lines. Commit validity
// is decided upstream.
type CommitStats interface {
	TotalsForTasks(ctx context.Context, taskIDs []int64, capPerCommit int) (additions, deletions int64, err error)
}

// PeerReviews supplies the average review score a user received within a
// project from completed, valid reviews. nil means no reviews yet.
type PeerReviews interface {
	AverageScore(ctx context.Context, userID, projectID int64) (*float64, error)
}

// Calculator computes and persists contribution scores.
type Calculator struct {
	scores    ScoreStore
	directory Directory
	tasks     TaskSource
	commits   CommitStats
	reviews   PeerReviews

	commitCap int
	now       func() time.Time
	logger    *slog.Logger

	// projectLocks serializes recomputation per project; concurrent batch
	// recomputes of the same project would otherwise race last-writer-wins
	// on every row.
	projectLocks sync.Map
}

// Option customizes a Calculator.
type Option func(*Calculator)

// WithCommitCap overrides the per-commit line cap.
func WithCommitCap(capPerCommit int) Option {
	return func(c *Calculator) { c.commitCap = capPerCommit }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Calculator) { c.now = now }
}

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Calculator) { c.logger = logger }
}

// NewCalculator creates a Calculator with its collaborators.
func NewCalculator(scores ScoreStore, directory Directory, tasks TaskSource, commits CommitStats, reviews PeerReviews, opts ...Option) *Calculator {
	c := &Calculator{
		scores:    scores,
		directory: directory,
		tasks:     tasks,
		commits:   commits,
		reviews:   reviews,
		commitCap: DefaultCommitCap,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// componentScores holds one user's raw metrics before normalization.
type componentScores struct {
	taskCompletion float64
	peerReview     float64
	codeScore      float64
	totalAdditions int64
	totalDeletions int64
	lateTaskCount  int64
}

// normalizedScores holds one user's metrics after cohort normalization.
type normalizedScores struct {
	taskCompletion   float64
	peerReview       float64
	codeContribution float64
}

func (c *Calculator) lockProject(projectID int64) func() {
	v, _ := c.projectLocks.LoadOrStore(projectID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// CalculateScore computes and persists the score for one user. The whole
// cohort's raw vectors are still assembled because Min-Max normalization is
// only meaningful relative to the full project population.
func (c *Calculator) CalculateScore(ctx context.Context, userID, projectID int64) error {
	unlock := c.lockProject(projectID)
	defer unlock()
	return c.calculateScoreLocked(ctx, userID, projectID)
}

func (c *Calculator) calculateScoreLocked(ctx context.Context, userID, projectID int64) error {
	start := c.now()

	project, err := c.loadValidatedProject(ctx, projectID)
	if err != nil {
		return err
	}

	users, raw, norm, err := c.computeCohort(ctx, project)
	if err != nil {
		return err
	}

	idx := -1
	for i, u := range users {
		if u.ID == userID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return errors.NewNotFoundError("project participant", userID)
	}

	if err := c.persist(ctx, userID, project, raw[idx], norm[idx]); err != nil {
		return err
	}

	monitoring.ObserveScoreCalculation(1, c.now().Sub(start))
	c.logger.Info("calculated contribution score",
		"user_id", userID,
		"project_id", project.ID,
		"cohort_size", len(users))
	return nil
}

// CalculateScoresForProject computes the cohort once and persists a score
// row for every participant.
func (c *Calculator) CalculateScoresForProject(ctx context.Context, projectID int64) error {
	unlock := c.lockProject(projectID)
	defer unlock()

	start := c.now()

	project, err := c.loadValidatedProject(ctx, projectID)
	if err != nil {
		return err
	}

	users, raw, norm, err := c.computeCohort(ctx, project)
	if err != nil {
		return err
	}

	for i, user := range users {
		if err := c.persist(ctx, user.ID, project, raw[i], norm[i]); err != nil {
			return err
		}
	}

	monitoring.ObserveScoreCalculation(len(users), c.now().Sub(start))
	c.logger.Info("calculated contribution scores for project",
		"project_id", project.ID,
		"cohort_size", len(users))
	return nil
}

// GetScoreByUserAndProject returns the stored score, computing it first when
// no row exists yet. First reads therefore pay the full cohort computation.
func (c *Calculator) GetScoreByUserAndProject(ctx context.Context, userID, projectID int64) (*domain.ContributionScore, error) {
	score, err := c.scores.FindByUserAndProject(ctx, userID, projectID)
	if err != nil {
		return nil, fmt.Errorf("reading contribution score: %w", err)
	}
	if score != nil {
		return score, nil
	}

	if err := c.CalculateScore(ctx, userID, projectID); err != nil {
		return nil, err
	}

	score, err = c.scores.FindByUserAndProject(ctx, userID, projectID)
	if err != nil {
		return nil, fmt.Errorf("re-reading contribution score: %w", err)
	}
	if score == nil {
		return nil, errors.NewInternalError("contribution score missing after calculation", nil)
	}
	return score, nil
}

// GetScoresByProject returns all stored score rows for a project.
func (c *Calculator) GetScoresByProject(ctx context.Context, projectID int64) ([]*domain.ContributionScore, error) {
	if _, err := c.directory.ProjectByID(ctx, projectID); err != nil {
		return nil, err
	}
	return c.scores.FindByProject(ctx, projectID)
}

// GetScoresByGroup returns the scores of a group's members and leader,
// materializing missing rows lazily.
func (c *Calculator) GetScoresByGroup(ctx context.Context, groupID int64) ([]*domain.ContributionScore, error) {
	group, err := c.directory.GroupByID(ctx, groupID)
	if err != nil {
		return nil, err
	}

	users, err := c.directory.GroupUsers(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("listing group users: %w", err)
	}

	result := make([]*domain.ContributionScore, 0, len(users))
	for _, user := range users {
		score, err := c.GetScoreByUserAndProject(ctx, user.ID, group.ProjectID)
		if err != nil {
			return nil, err
		}
		result = append(result, score)
	}
	return result, nil
}

// AdjustScore records a manual instructor override. The adjustment
// un-finalizes the row until it is explicitly re-finalized.
func (c *Calculator) AdjustScore(ctx context.Context, scoreID int64, adjusted float64, reason string) (*domain.ContributionScore, error) {
	if adjusted < 0 || adjusted > 10 {
		return nil, errors.NewValidationError(
			fmt.Sprintf("adjusted score must be between 0.0 and 10.0, got %.2f", adjusted))
	}

	score, err := c.scores.FindByID(ctx, scoreID)
	if err != nil {
		return nil, fmt.Errorf("reading contribution score: %w", err)
	}
	if score == nil {
		return nil, errors.NewNotFoundError("contribution score", scoreID)
	}

	c.logger.Info("adjusting contribution score",
		"score_id", scoreID,
		"calculated", score.CalculatedScore,
		"adjusted", adjusted,
		"reason", reason)

	score.AdjustedScore = &adjusted
	score.AdjustmentReason = reason
	score.IsFinal = false
	score.UpdatedAt = c.now()

	if err := c.scores.Save(ctx, score); err != nil {
		return nil, fmt.Errorf("saving adjusted score: %w", err)
	}
	return score, nil
}

// FinalizeScores locks every score row of a project as authoritative for
// grading. Re-finalizing an already-final set is a no-op per row.
func (c *Calculator) FinalizeScores(ctx context.Context, projectID int64) ([]*domain.ContributionScore, error) {
	if _, err := c.directory.ProjectByID(ctx, projectID); err != nil {
		return nil, err
	}

	rows, err := c.scores.FindByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing contribution scores: %w", err)
	}

	for _, score := range rows {
		if score.IsFinal {
			continue
		}
		score.IsFinal = true
		score.UpdatedAt = c.now()
		if err := c.scores.Save(ctx, score); err != nil {
			return nil, fmt.Errorf("finalizing score %d: %w", score.ID, err)
		}
	}
	return rows, nil
}

// loadValidatedProject loads the project and fail-fast validates its
// weights; no reads or writes happen before this check passes.
func (c *Calculator) loadValidatedProject(ctx context.Context, projectID int64) (*domain.Project, error) {
	project, err := c.directory.ProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if !project.WeightSumValid() {
		return nil, errors.NewConfigurationError(
			fmt.Sprintf("project weights invalid: W1(%.3f) + W2(%.3f) + W3(%.3f) = %.3f, expected 1.0",
				project.WeightW1, project.WeightW2, project.WeightW3,
				project.WeightW1+project.WeightW2+project.WeightW3), nil)
	}
	if !project.PenaltyWeightValid() {
		return nil, errors.NewConfigurationError(
			fmt.Sprintf("project penalty weight W4 must be non-negative: %.3f", project.WeightW4), nil)
	}
	return project, nil
}

// computeCohort builds the raw and normalized metric vectors for every
// participant of the project, in the fixed order returned by the directory.
// Both entry points share it; normalization is only correct over the whole
// cohort.
func (c *Calculator) computeCohort(ctx context.Context, project *domain.Project) ([]domain.User, []componentScores, []normalizedScores, error) {
	users, err := c.directory.ProjectUsers(ctx, project.ID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("listing project users: %w", err)
	}

	raw := make([]componentScores, len(users))
	for i, user := range users {
		scores, err := c.rawComponentScores(ctx, user.ID, project.ID)
		if err != nil {
			return nil, nil, nil, err
		}
		raw[i] = scores
	}

	taskVec := make([]float64, len(users))
	peerVec := make([]float64, len(users))
	codeVec := make([]float64, len(users))
	for i, r := range raw {
		taskVec[i] = r.taskCompletion
		peerVec[i] = r.peerReview
		codeVec[i] = r.codeScore
	}

	normTask := Normalize(taskVec)
	normPeer := Normalize(peerVec)
	normCode := Normalize(codeVec)

	norm := make([]normalizedScores, len(users))
	for i := range users {
		norm[i] = normalizedScores{
			taskCompletion:   normTask[i],
			peerReview:       normPeer[i],
			codeContribution: normCode[i],
		}
	}
	return users, raw, norm, nil
}

// rawComponentScores extracts the unnormalized metrics for one user.
func (c *Calculator) rawComponentScores(ctx context.Context, userID, projectID int64) (componentScores, error) {
	tasks, err := c.tasks.TasksByAssigneeAndProject(ctx, userID, projectID)
	if err != nil {
		return componentScores{}, fmt.Errorf("listing tasks for user %d: %w", userID, err)
	}

	var scores componentScores
	now := c.now()
	taskIDs := make([]int64, 0, len(tasks))

	for _, task := range tasks {
		taskIDs = append(taskIDs, task.ID)

		if task.Status == domain.TaskCompleted {
			scores.taskCompletion += float64(task.Difficulty)
		}

		if task.Deadline == nil {
			c.logger.Warn("task has no deadline, skipping lateness check", "task_id", task.ID)
			continue
		}
		// A task contributes at most 1 to the late count: either it was
		// completed after its deadline, or it is still open past it.
		switch {
		case task.Status == domain.TaskCompleted && task.CompletedAt != nil && task.CompletedAt.After(*task.Deadline):
			scores.lateTaskCount++
		case task.Status != domain.TaskCompleted && now.After(*task.Deadline):
			scores.lateTaskCount++
		}
	}

	if len(taskIDs) > 0 {
		additions, deletions, err := c.commits.TotalsForTasks(ctx, taskIDs, c.commitCap)
		if err != nil {
			return componentScores{}, fmt.Errorf("aggregating commits for user %d: %w", userID, err)
		}
		scores.totalAdditions = additions
		scores.totalDeletions = deletions
		scores.codeScore = float64(additions)*weightAdditions + float64(deletions)*weightDeletions
	}

	avg, err := c.reviews.AverageScore(ctx, userID, projectID)
	if err != nil {
		return componentScores{}, fmt.Errorf("averaging peer reviews for user %d: %w", userID, err)
	}
	if avg != nil {
		scores.peerReview = *avg
	}

	return scores, nil
}

// finalScore applies the weighted aggregation formula and clamps to [0,10].
func finalScore(project *domain.Project, norm normalizedScores, lateCount int64) float64 {
	weighted := project.WeightW1*norm.taskCompletion +
		project.WeightW2*norm.peerReview +
		project.WeightW3*norm.codeContribution
	return clamp(weighted-project.WeightW4*float64(lateCount), 0, 10)
}

// persist finds or creates the (user, project) row and overwrites every
// computed field. AdjustedScore and AdjustmentReason are left untouched;
// IsFinal is always reset.
func (c *Calculator) persist(ctx context.Context, userID int64, project *domain.Project, raw componentScores, norm normalizedScores) error {
	score, err := c.scores.FindByUserAndProject(ctx, userID, project.ID)
	if err != nil {
		return fmt.Errorf("reading contribution score: %w", err)
	}
	if score == nil {
		score = &domain.ContributionScore{
			UserID:    userID,
			ProjectID: project.ID,
			CreatedAt: c.now(),
		}
	}

	score.TaskCompletionScore = norm.taskCompletion
	score.PeerReviewScore = norm.peerReview
	score.CodeContributionScore = norm.codeContribution
	score.TotalAdditions = raw.totalAdditions
	score.TotalDeletions = raw.totalDeletions
	score.LateTaskCount = raw.lateTaskCount
	score.CalculatedScore = finalScore(project, norm, raw.lateTaskCount)
	score.IsFinal = false
	score.UpdatedAt = c.now()

	if err := c.scores.Save(ctx, score); err != nil {
		return fmt.Errorf("saving contribution score: %w", err)
	}
	return nil
}
