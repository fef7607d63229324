package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/itss-group/projectpulse/internal/domain"
	"github.com/itss-group/projectpulse/internal/errors"
)

// Repository implements the collaborator interfaces consumed by the scoring
// and pressure packages on top of sqlite.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// UserByID resolves a user or returns a not-found error.
func (r *Repository) UserByID(ctx context.Context, id int64) (*domain.User, error) {
	var (
		user  domain.User
		roles string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, username, full_name, COALESCE(email, ''), roles
		FROM users WHERE id = ?
	`, id).Scan(&user.ID, &user.Username, &user.FullName, &user.Email, &roles)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	for _, role := range strings.Split(roles, ",") {
		if role = strings.TrimSpace(role); role != "" {
			user.Roles = append(user.Roles, domain.Role(role))
		}
	}
	return &user, nil
}

// ProjectByID resolves a project or returns a not-found error.
func (r *Repository) ProjectByID(ctx context.Context, id int64) (*domain.Project, error) {
	var p domain.Project
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(description, ''), weight_w1, weight_w2, weight_w3, weight_w4,
			freerider_threshold, pressure_threshold, instructor_id, active
		FROM projects WHERE id = ?
	`, id).Scan(&p.ID, &p.Name, &p.Description, &p.WeightW1, &p.WeightW2, &p.WeightW3, &p.WeightW4,
		&p.FreeriderThreshold, &p.PressureThreshold, &p.InstructorID, &p.Active)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("project", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query project: %w", err)
	}
	return &p, nil
}

// ActiveProjects returns every active project.
func (r *Repository) ActiveProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(description, ''), weight_w1, weight_w2, weight_w3, weight_w4,
			freerider_threshold, pressure_threshold, instructor_id, active
		FROM projects WHERE active = TRUE ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active projects: %w", err)
	}
	defer rows.Close()

	var projects []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.WeightW1, &p.WeightW2, &p.WeightW3,
			&p.WeightW4, &p.FreeriderThreshold, &p.PressureThreshold, &p.InstructorID, &p.Active); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// GroupByID resolves a group, including its member ids.
func (r *Repository) GroupByID(ctx context.Context, id int64) (*domain.Group, error) {
	var (
		g         domain.Group
		leader    sql.NullInt64
		owner, nm sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, leader_id, repo_owner, repo_name
		FROM project_groups WHERE id = ?
	`, id).Scan(&g.ID, &g.ProjectID, &g.Name, &leader, &owner, &nm)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("group", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query group: %w", err)
	}
	g.LeaderID = leader.Int64
	g.RepoOwner = owner.String
	g.RepoName = nm.String

	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id FROM group_members WHERE group_id = ? ORDER BY user_id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query group members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var memberID int64
		if err := rows.Scan(&memberID); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		g.MemberIDs = append(g.MemberIDs, memberID)
	}
	return &g, rows.Err()
}

// ProjectUsers returns every member and leader across the project's groups,
// de-duplicated, in ascending user id order. This order is the cohort order
// used for normalization.
func (r *Repository) ProjectUsers(ctx context.Context, projectID int64) ([]domain.User, error) {
	return r.queryUsers(ctx, `
		SELECT u.id, u.username, u.full_name, COALESCE(u.email, '')
		FROM users u
		WHERE u.id IN (
			SELECT gm.user_id FROM group_members gm
			JOIN project_groups g ON g.id = gm.group_id
			WHERE g.project_id = ?
			UNION
			SELECT g.leader_id FROM project_groups g
			WHERE g.project_id = ? AND g.leader_id IS NOT NULL
		)
		ORDER BY u.id
	`, projectID, projectID)
}

// GroupUsers returns a group's members plus its leader, de-duplicated.
func (r *Repository) GroupUsers(ctx context.Context, groupID int64) ([]domain.User, error) {
	return r.queryUsers(ctx, `
		SELECT u.id, u.username, u.full_name, COALESCE(u.email, '')
		FROM users u
		WHERE u.id IN (
			SELECT user_id FROM group_members WHERE group_id = ?
			UNION
			SELECT leader_id FROM project_groups WHERE id = ? AND leader_id IS NOT NULL
		)
		ORDER BY u.id
	`, groupID, groupID)
}

func (r *Repository) queryUsers(ctx context.Context, query string, args ...any) ([]domain.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Username, &u.FullName, &u.Email); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GroupsByMember returns groups where the user is a member or the leader.
func (r *Repository) GroupsByMember(ctx context.Context, userID int64) ([]domain.Group, error) {
	return r.queryGroups(ctx, `
		SELECT DISTINCT g.id, g.project_id, g.name, g.leader_id, g.repo_owner, g.repo_name
		FROM project_groups g
		LEFT JOIN group_members gm ON gm.group_id = g.id
		WHERE gm.user_id = ? OR g.leader_id = ?
		ORDER BY g.id
	`, userID, userID)
}

// GroupsByMemberAndProject returns the user's groups within one project.
func (r *Repository) GroupsByMemberAndProject(ctx context.Context, userID, projectID int64) ([]domain.Group, error) {
	return r.queryGroups(ctx, `
		SELECT DISTINCT g.id, g.project_id, g.name, g.leader_id, g.repo_owner, g.repo_name
		FROM project_groups g
		LEFT JOIN group_members gm ON gm.group_id = g.id
		WHERE (gm.user_id = ? OR g.leader_id = ?) AND g.project_id = ?
		ORDER BY g.id
	`, userID, userID, projectID)
}

// GroupsByProject returns every group in the project.
func (r *Repository) GroupsByProject(ctx context.Context, projectID int64) ([]domain.Group, error) {
	return r.queryGroups(ctx, `
		SELECT g.id, g.project_id, g.name, g.leader_id, g.repo_owner, g.repo_name
		FROM project_groups g
		WHERE g.project_id = ?
		ORDER BY g.id
	`, projectID)
}

func (r *Repository) queryGroups(ctx context.Context, query string, args ...any) ([]domain.Group, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	var groups []domain.Group
	for rows.Next() {
		var (
			g         domain.Group
			leader    sql.NullInt64
			owner, nm sql.NullString
		)
		if err := rows.Scan(&g.ID, &g.ProjectID, &g.Name, &leader, &owner, &nm); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		g.LeaderID = leader.Int64
		g.RepoOwner = owner.String
		g.RepoName = nm.String
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

const taskColumns = `t.id, t.group_id, g.project_id, t.title, t.difficulty, t.deadline,
	t.status, t.completed_at, t.assignee_id`

// TasksByAssigneeAndProject returns every task assigned to the user in the
// project, regardless of status.
func (r *Repository) TasksByAssigneeAndProject(ctx context.Context, userID, projectID int64) ([]domain.Task, error) {
	return r.queryTasks(ctx, `
		SELECT `+taskColumns+`
		FROM tasks t
		JOIN project_groups g ON g.id = t.group_id
		WHERE t.assignee_id = ? AND g.project_id = ?
		ORDER BY t.id
	`, userID, projectID)
}

// IncompleteTasksByAssignee returns the user's not-started and in-progress
// tasks across all projects.
func (r *Repository) IncompleteTasksByAssignee(ctx context.Context, userID int64) ([]domain.Task, error) {
	return r.queryTasks(ctx, `
		SELECT `+taskColumns+`
		FROM tasks t
		JOIN project_groups g ON g.id = t.group_id
		WHERE t.assignee_id = ? AND t.status IN (?, ?)
		ORDER BY t.id
	`, userID, domain.TaskNotStarted, domain.TaskInProgress)
}

// IncompleteTasksByAssigneeAndProject returns the user's not-started and
// in-progress tasks within one project.
func (r *Repository) IncompleteTasksByAssigneeAndProject(ctx context.Context, userID, projectID int64) ([]domain.Task, error) {
	return r.queryTasks(ctx, `
		SELECT `+taskColumns+`
		FROM tasks t
		JOIN project_groups g ON g.id = t.group_id
		WHERE t.assignee_id = ? AND g.project_id = ? AND t.status IN (?, ?)
		ORDER BY t.id
	`, userID, projectID, domain.TaskNotStarted, domain.TaskInProgress)
}

func (r *Repository) queryTasks(ctx context.Context, query string, args ...any) ([]domain.Task, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		var (
			t           domain.Task
			deadline    sql.NullTime
			completedAt sql.NullTime
			assignee    sql.NullInt64
		)
		if err := rows.Scan(&t.ID, &t.GroupID, &t.ProjectID, &t.Title, &t.Difficulty,
			&deadline, &t.Status, &completedAt, &assignee); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		if deadline.Valid {
			d := deadline.Time
			t.Deadline = &d
		}
		if completedAt.Valid {
			c := completedAt.Time
			t.CompletedAt = &c
		}
		if assignee.Valid {
			a := assignee.Int64
			t.AssigneeID = &a
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// TaskByGroupAndID resolves a task only when it belongs to the group, so a
// commit referencing another group's task is rejected.
func (r *Repository) TaskByGroupAndID(ctx context.Context, groupID, taskID int64) (*domain.Task, error) {
	tasks, err := r.queryTasks(ctx, `
		SELECT `+taskColumns+`
		FROM tasks t
		JOIN project_groups g ON g.id = t.group_id
		WHERE t.id = ? AND t.group_id = ?
	`, taskID, groupID)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, errors.NewNotFoundError("task", taskID)
	}
	return &tasks[0], nil
}

// LatestCommitTime returns the newest recorded commit timestamp for the
// group's tasks, or nil when no commits are recorded yet.
func (r *Repository) LatestCommitTime(ctx context.Context, groupID int64) (*time.Time, error) {
	var latest sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(c.committed_at)
		FROM commit_records c
		JOIN tasks t ON t.id = c.task_id
		WHERE t.group_id = ?
	`, groupID).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest commit time: %w", err)
	}
	if !latest.Valid {
		return nil, nil
	}
	return &latest.Time, nil
}

// TotalsForTasks sums addition/deletion counts over valid commits for the
// given tasks, capping each commit's counts at capPerCommit lines.
func (r *Repository) TotalsForTasks(ctx context.Context, taskIDs []int64, capPerCommit int) (int64, int64, error) {
	if len(taskIDs) == 0 {
		return 0, 0, nil
	}

	placeholders := strings.Repeat("?,", len(taskIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(taskIDs)+2)
	args = append(args, capPerCommit, capPerCommit)
	for _, id := range taskIDs {
		args = append(args, id)
	}

	var additions, deletions int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(MIN(additions, ?)), 0), COALESCE(SUM(MIN(deletions, ?)), 0)
		FROM commit_records
		WHERE valid = TRUE AND task_id IN (`+placeholders+`)
	`, args...).Scan(&additions, &deletions)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to aggregate commit records: %w", err)
	}
	return additions, deletions, nil
}

// AverageScore returns the mean review score the user received in the
// project from completed, valid reviews, or nil when none exist.
func (r *Repository) AverageScore(ctx context.Context, userID, projectID int64) (*float64, error) {
	var avg sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `
		SELECT AVG(score) FROM peer_reviews
		WHERE reviewee_id = ? AND project_id = ? AND completed = TRUE AND valid = TRUE
	`, userID, projectID).Scan(&avg)
	if err != nil {
		return nil, fmt.Errorf("failed to average peer reviews: %w", err)
	}
	if !avg.Valid {
		return nil, nil
	}
	return &avg.Float64, nil
}

// SaveNotification persists a notification row.
func (r *Repository) SaveNotification(ctx context.Context, n *domain.Notification) error {
	stmt, err := r.db.stmt("insert_notification")
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, n.ID, n.UserID, n.Title, n.Message, n.Read, n.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// Append persists a pressure history row. Rows are append-only.
func (r *Repository) Append(ctx context.Context, row *domain.PressureScoreHistory) error {
	stmt, err := r.db.stmt("insert_history")
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, row.ID, row.UserID, row.ProjectID, row.Score, row.RecordedAt); err != nil {
		return fmt.Errorf("failed to insert pressure history: %w", err)
	}
	return nil
}

// Latest returns up to limit history rows for (user, project), newest first.
func (r *Repository) Latest(ctx context.Context, userID, projectID int64, limit int) ([]domain.PressureScoreHistory, error) {
	stmt, err := r.db.stmt("latest_history")
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, userID, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pressure history: %w", err)
	}
	defer rows.Close()

	var history []domain.PressureScoreHistory
	for rows.Next() {
		var h domain.PressureScoreHistory
		if err := rows.Scan(&h.ID, &h.UserID, &h.ProjectID, &h.Score, &h.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pressure history: %w", err)
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// InsertCommitRecord stores an ingested commit aggregate for a task. Invalid
// rows (wrong author) are kept for audit but excluded from aggregation. The
// per-commit cap is applied at read time, not here.
func (r *Repository) InsertCommitRecord(ctx context.Context, taskID int64, sha, author string, additions, deletions int, valid bool, committedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO commit_records (id, task_id, commit_sha, author, additions, deletions, valid, committed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(commit_sha) DO NOTHING
	`, uuid.NewString(), taskID, sha, author, additions, deletions, valid, committedAt)
	if err != nil {
		return fmt.Errorf("failed to insert commit record: %w", err)
	}
	return nil
}
