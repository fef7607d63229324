package pressure

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/itss-group/projectpulse/internal/domain"
	"github.com/itss-group/projectpulse/internal/monitoring"
	"github.com/itss-group/projectpulse/internal/notify"
)

// HistoryStore persists the append-only pressure history. Rows are never
// mutated or deleted here.
type HistoryStore interface {
	Append(ctx context.Context, row *domain.PressureScoreHistory) error
	Latest(ctx context.Context, userID, projectID int64, limit int) ([]domain.PressureScoreHistory, error)
}

// HistoryPoint is one entry of a pressure history series. Synthetic marks
// backfilled display points that were never actually recorded.
type HistoryPoint struct {
	RecordedAt time.Time `json:"recorded_at"`
	Score      int       `json:"score"`
	Synthetic  bool      `json:"synthetic"`
}

// historyLimit caps how many real rows a history query returns.
const historyLimit = 30

// Sweep runs the periodic pressure update across all active projects and
// serves history queries.
type Sweep struct {
	calc     *Calculator
	history  HistoryStore
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewSweep creates a Sweep.
func NewSweep(calc *Calculator, history HistoryStore, notifier notify.Notifier, logger *slog.Logger) *Sweep {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweep{
		calc:     calc,
		history:  history,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *Sweep) WithClock(now func() time.Time) *Sweep {
	s.now = now
	return s
}

// UpdateAllPressureScores recomputes every participant's pressure in every
// active project, appends a history row, and raises overload alerts. A
// failure for one user or one notification never stops the sweep.
func (s *Sweep) UpdateAllPressureScores(ctx context.Context) error {
	start := s.now()
	s.logger.Info("starting pressure score update for all active projects")

	projects, err := s.calc.directory.ActiveProjects(ctx)
	if err != nil {
		return fmt.Errorf("listing active projects: %w", err)
	}

	var users, overloaded int
	for i := range projects {
		u, o := s.updateProject(ctx, &projects[i])
		users += u
		overloaded += o
	}

	monitoring.ObserveSweep(s.now().Sub(start))
	s.logger.Info("completed pressure score update",
		"projects", len(projects),
		"users", users,
		"overloaded", overloaded)
	return nil
}

// updateProject sweeps one project and returns (users evaluated, users
// overloaded).
func (s *Sweep) updateProject(ctx context.Context, project *domain.Project) (int, int) {
	participants, err := s.calc.directory.ProjectUsers(ctx, project.ID)
	if err != nil {
		s.logger.Error("skipping project in pressure sweep",
			"project_id", project.ID, "error", err)
		return 0, 0
	}

	var evaluated, overloaded int
	for _, user := range participants {
		result, err := s.calc.EvaluateForProject(ctx, user, project)
		if err != nil {
			s.logger.Error("skipping user in pressure sweep",
				"user_id", user.ID, "project_id", project.ID, "error", err)
			continue
		}
		evaluated++

		row := domain.NewPressureScoreHistory(user.ID, project.ID,
			int(math.Round(result.ThresholdPercent)), s.now())
		if err := s.history.Append(ctx, row); err != nil {
			s.logger.Error("failed to append pressure history",
				"user_id", user.ID, "project_id", project.ID, "error", err)
		}

		if result.Status == domain.PressureOverloaded {
			overloaded++
			s.logger.Warn("user is overloaded",
				"user_id", user.ID,
				"project_id", project.ID,
				"pressure_score", result.PressureScore,
				"threshold", result.Threshold)
			s.notifyOverload(ctx, user, project, result)
		}
	}
	return evaluated, overloaded
}

// notifyOverload alerts the user, the leaders of the user's groups in the
// project (excluding the user themselves), and the project instructor.
// Dispatch is best-effort; failures are logged and counted only.
func (s *Sweep) notifyOverload(ctx context.Context, user domain.User, project *domain.Project, result Result) {
	s.dispatch(ctx, user.ID,
		"Warning: workload pressure overload",
		fmt.Sprintf("Your current workload pressure score is %.2f, exceeding the allowed threshold (%.2f) in project '%s'. "+
			"This means you are overloaded with your current tasks. Please contact your group leader for support.",
			result.PressureScore, result.Threshold, project.Name))

	groups, err := s.calc.directory.GroupsByMemberAndProject(ctx, user.ID, project.ID)
	if err != nil {
		s.logger.Error("failed to resolve groups for overload alert",
			"user_id", user.ID, "project_id", project.ID, "error", err)
	} else {
		for _, group := range groups {
			if group.LeaderID == 0 || group.LeaderID == user.ID {
				continue
			}
			s.dispatch(ctx, group.LeaderID,
				"Warning: group member overloaded",
				fmt.Sprintf("Member %s (%s) in group '%s' is overloaded. "+
					"Their pressure score is %.2f, exceeding the allowed threshold (%.2f). "+
					"You should review the task assignments for this member.",
					user.FullName, user.Username, group.Name, result.PressureScore, result.Threshold))
		}
	}

	if project.InstructorID != 0 {
		s.dispatch(ctx, project.InstructorID,
			"Warning: overloaded member in project",
			fmt.Sprintf("Member %s (%s) is overloaded in project '%s'. "+
				"Their pressure score is %.2f, exceeding the allowed threshold (%.2f).",
				user.FullName, user.Username, project.Name, result.PressureScore, result.Threshold))
	}
}

func (s *Sweep) dispatch(ctx context.Context, userID int64, title, message string) {
	if err := s.notifier.Notify(ctx, userID, title, message); err != nil {
		monitoring.ObserveNotification("failed")
		s.logger.Error("notification dispatch failed",
			"user_id", userID, "title", title, "error", err)
		return
	}
	monitoring.ObserveNotification("sent")
}

// CalculatePressureScore evaluates one user in one project on demand,
// records the result in the history, and returns the 0-100 display value.
func (s *Sweep) CalculatePressureScore(ctx context.Context, userID, projectID int64) (int, error) {
	user, err := s.calc.directory.UserByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	project, err := s.calc.directory.ProjectByID(ctx, projectID)
	if err != nil {
		return 0, err
	}

	result, err := s.calc.EvaluateForProject(ctx, *user, project)
	if err != nil {
		return 0, err
	}

	score := int(math.Min(100, math.Round(result.ThresholdPercent)))
	row := domain.NewPressureScoreHistory(userID, projectID, score, s.now())
	if err := s.history.Append(ctx, row); err != nil {
		return 0, fmt.Errorf("appending pressure history: %w", err)
	}
	return score, nil
}

// History returns up to the 30 most recent history rows, newest first. When
// no real history exists it computes and records the current score, then
// backfills three weekly points, monotonically decreasing, marked synthetic.
func (s *Sweep) History(ctx context.Context, userID, projectID int64) ([]HistoryPoint, error) {
	if _, err := s.calc.directory.UserByID(ctx, userID); err != nil {
		return nil, err
	}
	if _, err := s.calc.directory.ProjectByID(ctx, projectID); err != nil {
		return nil, err
	}

	rows, err := s.history.Latest(ctx, userID, projectID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("reading pressure history: %w", err)
	}

	if len(rows) > 0 {
		points := make([]HistoryPoint, len(rows))
		for i, row := range rows {
			points[i] = HistoryPoint{RecordedAt: row.RecordedAt, Score: row.Score}
		}
		return points, nil
	}

	current, err := s.CalculatePressureScore(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	points := []HistoryPoint{{RecordedAt: now, Score: current}}
	for week := 1; week <= 3; week++ {
		score := current - 5*week
		if score < 0 {
			score = 0
		}
		points = append(points, HistoryPoint{
			RecordedAt: now.AddDate(0, 0, -7*week),
			Score:      score,
			Synthetic:  true,
		})
	}
	return points, nil
}
