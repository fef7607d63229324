package pressure

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itss-group/projectpulse/internal/domain"
)

type fakeHistory struct {
	rows    []domain.PressureScoreHistory
	failing bool
}

func (f *fakeHistory) Append(_ context.Context, row *domain.PressureScoreHistory) error {
	if f.failing {
		return fmt.Errorf("history store unavailable")
	}
	f.rows = append(f.rows, *row)
	return nil
}

func (f *fakeHistory) Latest(_ context.Context, userID, projectID int64, limit int) ([]domain.PressureScoreHistory, error) {
	var out []domain.PressureScoreHistory
	for i := len(f.rows) - 1; i >= 0 && len(out) < limit; i-- {
		if f.rows[i].UserID == userID && f.rows[i].ProjectID == projectID {
			out = append(out, f.rows[i])
		}
	}
	return out, nil
}

type sentNotification struct {
	userID int64
	title  string
	body   string
}

type fakeNotifier struct {
	sent    []sentNotification
	failFor map[int64]bool
}

func (f *fakeNotifier) Notify(_ context.Context, userID int64, title, message string) error {
	if f.failFor[userID] {
		return fmt.Errorf("mailbox full")
	}
	f.sent = append(f.sent, sentNotification{userID: userID, title: title, body: message})
	return nil
}

func overloadBed(baseTime time.Time) (*fakeTasks, *fakeDirectory, *fakeHistory, *fakeNotifier, *Sweep) {
	tasks, dir := testBed()
	history := &fakeHistory{}
	notifier := &fakeNotifier{failFor: map[int64]bool{}}

	// User 1 is overloaded in project 5: pressure 12 of threshold 10.
	dir.projects[5] = &domain.Project{ID: 5, Name: "OS", PressureThreshold: 10, InstructorID: 50, Active: true}
	dir.users[1] = &domain.User{ID: 1, Username: "ana", FullName: "Ana B"}
	dir.members[5] = []domain.User{{ID: 1, Username: "ana", FullName: "Ana B"}}
	dir.groups[1] = []domain.Group{{ID: 10, ProjectID: 5, Name: "team-a", LeaderID: 2}}
	tasks.byUserProject[upKey(1, 5)] = []domain.Task{
		incompleteTask(1, 5, 12, baseTime.AddDate(0, 0, 10)),
	}

	calc := NewCalculator(tasks, dir, DefaultThresholds(), nil).
		WithClock(func() time.Time { return baseTime })
	sweep := NewSweep(calc, history, notifier, nil).
		WithClock(func() time.Time { return baseTime })
	return tasks, dir, history, notifier, sweep
}

func TestUpdateAllPressureScores_AppendsHistoryAndNotifies(t *testing.T) {
	baseTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, _, history, notifier, sweep := overloadBed(baseTime)

	require.NoError(t, sweep.UpdateAllPressureScores(context.Background()))

	require.Len(t, history.rows, 1)
	assert.Equal(t, int64(1), history.rows[0].UserID)
	assert.Equal(t, int64(5), history.rows[0].ProjectID)
	assert.Equal(t, 120, history.rows[0].Score, "history records the rounded percentage")
	assert.Equal(t, baseTime, history.rows[0].RecordedAt)

	// Three-way fan-out: the user, the group leader, the instructor.
	require.Len(t, notifier.sent, 3)
	recipients := map[int64]string{}
	for _, n := range notifier.sent {
		recipients[n.userID] = n.title
	}
	assert.Contains(t, recipients, int64(1))
	assert.Contains(t, recipients, int64(2))
	assert.Contains(t, recipients, int64(50))
	assert.Equal(t, "Warning: workload pressure overload", recipients[1])
	assert.Equal(t, "Warning: group member overloaded", recipients[2])
	assert.Equal(t, "Warning: overloaded member in project", recipients[50])
}

func TestUpdateAllPressureScores_LeaderIsNotNotifiedAboutThemselves(t *testing.T) {
	baseTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, dir, _, notifier, sweep := overloadBed(baseTime)
	// The overloaded user leads their own group.
	dir.groups[1] = []domain.Group{{ID: 10, ProjectID: 5, Name: "team-a", LeaderID: 1}}

	require.NoError(t, sweep.UpdateAllPressureScores(context.Background()))

	for _, n := range notifier.sent {
		assert.NotEqual(t, "Warning: group member overloaded", n.title,
			"no leader alert when the member leads the group")
	}
	require.Len(t, notifier.sent, 2, "user alert and instructor alert only")
}

func TestUpdateAllPressureScores_NotificationFailureDoesNotAbort(t *testing.T) {
	baseTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, _, history, notifier, sweep := overloadBed(baseTime)
	notifier.failFor[1] = true // user alert fails

	require.NoError(t, sweep.UpdateAllPressureScores(context.Background()))

	assert.Len(t, history.rows, 1, "history write is independent of dispatch")
	assert.Len(t, notifier.sent, 2, "leader and instructor alerts still go out")
}

func TestUpdateAllPressureScores_HistoryFailureDoesNotAbort(t *testing.T) {
	baseTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, _, history, notifier, sweep := overloadBed(baseTime)
	history.failing = true

	require.NoError(t, sweep.UpdateAllPressureScores(context.Background()))
	assert.Len(t, notifier.sent, 3, "alerts still dispatch when the history write fails")
}

func TestUpdateAllPressureScores_SafeUserProducesNoAlerts(t *testing.T) {
	baseTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tasks, _, history, notifier, sweep := overloadBed(baseTime)
	tasks.byUserProject[upKey(1, 5)] = []domain.Task{
		incompleteTask(1, 5, 2, baseTime.AddDate(0, 0, 10)),
	}

	require.NoError(t, sweep.UpdateAllPressureScores(context.Background()))

	assert.Len(t, history.rows, 1, "history is recorded for every participant")
	assert.Equal(t, 20, history.rows[0].Score)
	assert.Empty(t, notifier.sent)
}

func TestCalculatePressureScore_CapsDisplayValue(t *testing.T) {
	baseTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tasks, _, history, _, sweep := overloadBed(baseTime)
	// Pressure 30 of threshold 10 would display as 300; the on-demand path
	// caps at 100.
	tasks.byUserProject[upKey(1, 5)] = []domain.Task{
		incompleteTask(1, 5, 30, baseTime.AddDate(0, 0, 10)),
	}

	score, err := sweep.CalculatePressureScore(context.Background(), 1, 5)

	require.NoError(t, err)
	assert.Equal(t, 100, score)
	require.Len(t, history.rows, 1)
	assert.Equal(t, 100, history.rows[0].Score)
}

func TestCalculatePressureScore_StrictLookups(t *testing.T) {
	baseTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, _, _, _, sweep := overloadBed(baseTime)

	_, err := sweep.CalculatePressureScore(context.Background(), 404, 5)
	require.Error(t, err)

	_, err = sweep.CalculatePressureScore(context.Background(), 1, 404)
	require.Error(t, err)
}

func TestHistory_ReturnsRealRowsNewestFirst(t *testing.T) {
	baseTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, _, history, _, sweep := overloadBed(baseTime)
	for day := 0; day < 3; day++ {
		history.rows = append(history.rows, *domain.NewPressureScoreHistory(
			1, 5, 10+day, baseTime.AddDate(0, 0, day)))
	}

	points, err := sweep.History(context.Background(), 1, 5)

	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, 12, points[0].Score, "newest row first")
	assert.Equal(t, 10, points[2].Score)
	for _, p := range points {
		assert.False(t, p.Synthetic)
	}
}

func TestHistory_SynthesizesFallbackSeries(t *testing.T) {
	baseTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tasks, _, _, _, sweep := overloadBed(baseTime)
	// Current score computes to 40 (pressure 4 of threshold 10).
	tasks.byUserProject[upKey(1, 5)] = []domain.Task{
		incompleteTask(1, 5, 4, baseTime.AddDate(0, 0, 10)),
	}

	points, err := sweep.History(context.Background(), 1, 5)

	require.NoError(t, err)
	require.Len(t, points, 4)

	assert.Equal(t, 40, points[0].Score)
	assert.False(t, points[0].Synthetic, "the current point is real and recorded")
	assert.Equal(t, baseTime, points[0].RecordedAt)

	expected := []int{35, 30, 25}
	for i, want := range expected {
		point := points[i+1]
		assert.Equal(t, want, point.Score)
		assert.True(t, point.Synthetic)
		assert.Equal(t, baseTime.AddDate(0, 0, -7*(i+1)), point.RecordedAt)
	}
}

func TestHistory_SyntheticScoresClampAtZero(t *testing.T) {
	baseTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tasks, _, _, _, sweep := overloadBed(baseTime)
	// Current score computes to 10; backfill would go negative without the
	// clamp.
	tasks.byUserProject[upKey(1, 5)] = []domain.Task{
		incompleteTask(1, 5, 1, baseTime.AddDate(0, 0, 10)),
	}

	points, err := sweep.History(context.Background(), 1, 5)

	require.NoError(t, err)
	require.Len(t, points, 4)
	assert.Equal(t, []int{10, 5, 0, 0}, []int{points[0].Score, points[1].Score, points[2].Score, points[3].Score})
}
