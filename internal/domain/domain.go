// Package domain holds the entities shared by the scoring and pressure
// engines. The engine reads most of these by reference; only
// ContributionScore and PressureScoreHistory are written by it.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role is a user role within the platform.
type Role string

const (
	RoleStudent    Role = "STUDENT"
	RoleInstructor Role = "INSTRUCTOR"
	RoleAdmin      Role = "ADMIN"
)

// TaskStatus is the lifecycle state of a task. Transitions are owned by the
// task workflow; the engine only reads them.
type TaskStatus string

const (
	TaskNotStarted TaskStatus = "NOT_STARTED"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskCompleted  TaskStatus = "COMPLETED"
)

// PressureStatus classifies a user's workload against the project threshold.
type PressureStatus string

const (
	PressureSafe       PressureStatus = "SAFE"
	PressureAtRisk     PressureStatus = "AT_RISK"
	PressureOverloaded PressureStatus = "OVERLOADED"
)

// Description returns a human-readable explanation of the status.
func (s PressureStatus) Description() string {
	switch s {
	case PressureOverloaded:
		return "Workload exceeds the allowed pressure threshold"
	case PressureAtRisk:
		return "Workload is approaching the pressure threshold"
	default:
		return "Workload is within a safe range"
	}
}

// User is a platform account. Consumed by reference only.
type User struct {
	ID       int64  `json:"id" db:"id"`
	Username string `json:"username" db:"username"`
	FullName string `json:"full_name" db:"full_name"`
	Email    string `json:"email" db:"email"`
	Roles    []Role `json:"roles"`
}

// HasRole reports whether the user carries the given role.
func (u User) HasRole(role Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Project owns the scoring configuration. WeightW1..W3 must sum to 1.0
// within 1e-3 and WeightW4 must be non-negative; calculation fails fast
// otherwise.
type Project struct {
	ID                 int64   `json:"id" db:"id"`
	Name               string  `json:"name" db:"name"`
	Description        string  `json:"description" db:"description"`
	WeightW1           float64 `json:"weight_w1" db:"weight_w1"`
	WeightW2           float64 `json:"weight_w2" db:"weight_w2"`
	WeightW3           float64 `json:"weight_w3" db:"weight_w3"`
	WeightW4           float64 `json:"weight_w4" db:"weight_w4"`
	FreeriderThreshold float64 `json:"freerider_threshold" db:"freerider_threshold"`
	PressureThreshold  float64 `json:"pressure_threshold" db:"pressure_threshold"`
	InstructorID       int64   `json:"instructor_id" db:"instructor_id"`
	Active             bool    `json:"active" db:"active"`
}

// WeightSumValid reports whether W1+W2+W3 equals 1.0 within tolerance.
func (p Project) WeightSumValid() bool {
	sum := p.WeightW1 + p.WeightW2 + p.WeightW3
	diff := sum - 1.0
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-3
}

// PenaltyWeightValid reports whether the late-task penalty weight is usable.
func (p Project) PenaltyWeightValid() bool {
	return p.WeightW4 >= 0
}

// Group is a student group inside a project.
type Group struct {
	ID        int64   `json:"id" db:"id"`
	ProjectID int64   `json:"project_id" db:"project_id"`
	Name      string  `json:"name" db:"name"`
	LeaderID  int64   `json:"leader_id" db:"leader_id"`
	RepoOwner string  `json:"repo_owner" db:"repo_owner"`
	RepoName  string  `json:"repo_name" db:"repo_name"`
	MemberIDs []int64 `json:"member_ids"`
}

// HasRepo reports whether the group is linked to a source repository.
func (g Group) HasRepo() bool {
	return g.RepoOwner != "" && g.RepoName != ""
}

// Task belongs to a group. Difficulty is an ordinal weight (>= 1); zero
// means the field was never set. Deadline and CompletedAt are nullable.
type Task struct {
	ID          int64      `json:"id" db:"id"`
	GroupID     int64      `json:"group_id" db:"group_id"`
	ProjectID   int64      `json:"project_id" db:"project_id"`
	Title       string     `json:"title" db:"title"`
	Difficulty  int        `json:"difficulty" db:"difficulty"`
	Deadline    *time.Time `json:"deadline" db:"deadline"`
	Status      TaskStatus `json:"status" db:"status"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
	AssigneeID  *int64     `json:"assignee_id" db:"assignee_id"`
}

// ContributionScore is one row per (user, project). Component scores are
// normalized to 0-10; TotalAdditions/TotalDeletions keep the raw numbers for
// audit. Recomputation overwrites CalculatedScore and resets IsFinal, but
// never touches AdjustedScore or AdjustmentReason.
type ContributionScore struct {
	ID                    int64     `json:"id" db:"id"`
	UserID                int64     `json:"user_id" db:"user_id"`
	ProjectID             int64     `json:"project_id" db:"project_id"`
	TaskCompletionScore   float64   `json:"task_completion_score" db:"task_completion_score"`
	PeerReviewScore       float64   `json:"peer_review_score" db:"peer_review_score"`
	CodeContributionScore float64   `json:"code_contribution_score" db:"code_contribution_score"`
	TotalAdditions        int64     `json:"total_additions" db:"total_additions"`
	TotalDeletions        int64     `json:"total_deletions" db:"total_deletions"`
	LateTaskCount         int64     `json:"late_task_count" db:"late_task_count"`
	CalculatedScore       float64   `json:"calculated_score" db:"calculated_score"`
	AdjustedScore         *float64  `json:"adjusted_score" db:"adjusted_score"`
	AdjustmentReason      string    `json:"adjustment_reason" db:"adjustment_reason"`
	IsFinal               bool      `json:"is_final" db:"is_final"`
	CreatedAt             time.Time `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time `json:"updated_at" db:"updated_at"`
}

// EffectiveScore returns the adjusted score when an instructor override
// exists, otherwise the calculated score.
func (s ContributionScore) EffectiveScore() float64 {
	if s.AdjustedScore != nil {
		return *s.AdjustedScore
	}
	return s.CalculatedScore
}

// PressureScoreHistory is an append-only record of a pressure percentage
// (0-100) observed for a user in a project. Rows are never mutated.
type PressureScoreHistory struct {
	ID         string    `json:"id" db:"id"`
	UserID     int64     `json:"user_id" db:"user_id"`
	ProjectID  int64     `json:"project_id" db:"project_id"`
	Score      int       `json:"score" db:"score"`
	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`
}

// NewPressureScoreHistory creates a history row with a generated ID.
func NewPressureScoreHistory(userID, projectID int64, score int, at time.Time) *PressureScoreHistory {
	return &PressureScoreHistory{
		ID:         uuid.New().String(),
		UserID:     userID,
		ProjectID:  projectID,
		Score:      score,
		RecordedAt: at,
	}
}

// Notification is a persisted in-app notification. Delivery to external
// channels is handled by the notify package.
type Notification struct {
	ID        string    `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Title     string    `json:"title" db:"title"`
	Message   string    `json:"message" db:"message"`
	Read      bool      `json:"read" db:"read"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewNotification creates a notification with a generated ID.
func NewNotification(userID int64, title, message string) *Notification {
	return &Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		Message:   message,
		CreatedAt: time.Now(),
	}
}
