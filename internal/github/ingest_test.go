package github

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itss-group/projectpulse/internal/domain"
	"github.com/itss-group/projectpulse/internal/errors"
	"github.com/itss-group/projectpulse/internal/monitoring"
)

func TestExtractTaskID(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		expected int64
		ok       bool
	}{
		{name: "plain reference", message: "[TASK-42] implement login form", expected: 42, ok: true},
		{name: "reference mid-message", message: "fix review feedback for [TASK-7]", expected: 7, ok: true},
		{name: "case insensitive", message: "[task-13] wip", expected: 13, ok: true},
		{name: "first reference wins", message: "[TASK-1] follow-up to [TASK-2]", expected: 1, ok: true},
		{name: "no reference", message: "update readme", ok: false},
		{name: "malformed reference", message: "[TASK-] oops", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := extractTaskID(tt.message)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.expected, id)
			}
		})
	}
}

type recordedCommit struct {
	taskID    int64
	sha       string
	author    string
	additions int
	deletions int
	valid     bool
}

type fakeStore struct {
	projects []domain.Project
	groups   map[int64][]domain.Group
	tasks    map[int64]*domain.Task // keyed by task id
	users    map[int64]*domain.User
	latest   map[int64]*time.Time
	recorded []recordedCommit
}

func (f *fakeStore) ActiveProjects(context.Context) ([]domain.Project, error) {
	return f.projects, nil
}

func (f *fakeStore) GroupsByProject(_ context.Context, projectID int64) ([]domain.Group, error) {
	return f.groups[projectID], nil
}

func (f *fakeStore) TaskByGroupAndID(_ context.Context, groupID, taskID int64) (*domain.Task, error) {
	task, ok := f.tasks[taskID]
	if !ok || task.GroupID != groupID {
		return nil, errors.NewNotFoundError("task", taskID)
	}
	return task, nil
}

func (f *fakeStore) UserByID(_ context.Context, id int64) (*domain.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, errors.NewNotFoundError("user", id)
}

func (f *fakeStore) LatestCommitTime(_ context.Context, groupID int64) (*time.Time, error) {
	return f.latest[groupID], nil
}

func (f *fakeStore) InsertCommitRecord(_ context.Context, taskID int64, sha, author string, additions, deletions int, valid bool, _ time.Time) error {
	f.recorded = append(f.recorded, recordedCommit{
		taskID: taskID, sha: sha, author: author,
		additions: additions, deletions: deletions, valid: valid,
	})
	return nil
}

type fakeSource struct {
	commits map[string][]Commit // keyed by owner/repo
	failFor string
}

func (f *fakeSource) ListCommits(_ context.Context, owner, repo string, _ *time.Time) ([]Commit, error) {
	key := owner + "/" + repo
	if key == f.failFor {
		return nil, fmt.Errorf("repository unavailable")
	}
	return f.commits[key], nil
}

func testLogger() *monitoring.Logger {
	return &monitoring.Logger{Logger: slog.Default()}
}

func ingestBed() (*fakeStore, *fakeSource) {
	assignee := int64(7)
	store := &fakeStore{
		projects: []domain.Project{{ID: 1, Active: true}},
		groups: map[int64][]domain.Group{
			1: {{ID: 10, ProjectID: 1, Name: "team-a", RepoOwner: "itss", RepoName: "team-a"}},
		},
		tasks: map[int64]*domain.Task{
			42: {ID: 42, GroupID: 10, AssigneeID: &assignee},
		},
		users: map[int64]*domain.User{
			7: {ID: 7, Username: "ana", Email: "ana@example.edu"},
		},
		latest: map[int64]*time.Time{},
	}
	source := &fakeSource{commits: map[string][]Commit{}}
	return store, source
}

func TestSyncAll_RecordsMatchedCommits(t *testing.T) {
	store, source := ingestBed()
	source.commits["itss/team-a"] = []Commit{
		{SHA: "abc", Message: "[TASK-42] add parser", AuthorLogin: "ana", Additions: 120, Deletions: 30},
		{SHA: "def", Message: "chore: bump deps", Additions: 9000, Deletions: 0},
	}

	ingestor := NewIngestor(source, store, testLogger())
	require.NoError(t, ingestor.SyncAll(context.Background()))

	require.Len(t, store.recorded, 1, "unreferenced commits are ignored")
	got := store.recorded[0]
	assert.Equal(t, int64(42), got.taskID)
	assert.Equal(t, "abc", got.sha)
	assert.Equal(t, "ana", got.author)
	assert.Equal(t, 120, got.additions)
	assert.Equal(t, 30, got.deletions)
	assert.True(t, got.valid)
}

func TestSyncAll_WrongAuthorRecordedInvalid(t *testing.T) {
	store, source := ingestBed()
	source.commits["itss/team-a"] = []Commit{
		{SHA: "abc", Message: "[TASK-42] add parser", AuthorLogin: "somebody-else", AuthorEmail: "other@example.edu"},
	}

	ingestor := NewIngestor(source, store, testLogger())
	require.NoError(t, ingestor.SyncAll(context.Background()))

	require.Len(t, store.recorded, 1)
	assert.False(t, store.recorded[0].valid, "commits by non-assignees are kept but marked invalid")
}

func TestSyncAll_MatchesAssigneeByEmail(t *testing.T) {
	store, source := ingestBed()
	source.commits["itss/team-a"] = []Commit{
		{SHA: "abc", Message: "[TASK-42] add parser", AuthorEmail: "ana@example.edu"},
	}

	ingestor := NewIngestor(source, store, testLogger())
	require.NoError(t, ingestor.SyncAll(context.Background()))

	require.Len(t, store.recorded, 1)
	assert.True(t, store.recorded[0].valid)
	assert.Equal(t, "ana@example.edu", store.recorded[0].author)
}

func TestSyncAll_UnknownTaskReferenceSkipped(t *testing.T) {
	store, source := ingestBed()
	source.commits["itss/team-a"] = []Commit{
		{SHA: "abc", Message: "[TASK-999] mystery work", AuthorLogin: "ana"},
	}

	ingestor := NewIngestor(source, store, testLogger())
	require.NoError(t, ingestor.SyncAll(context.Background()))
	assert.Empty(t, store.recorded)
}

func TestSyncAll_GroupFailureIsIsolated(t *testing.T) {
	store, source := ingestBed()
	store.groups[1] = append(store.groups[1],
		domain.Group{ID: 11, ProjectID: 1, Name: "team-b", RepoOwner: "itss", RepoName: "team-b"})
	assignee := int64(7)
	store.tasks[43] = &domain.Task{ID: 43, GroupID: 11, AssigneeID: &assignee}

	source.failFor = "itss/team-a"
	source.commits["itss/team-b"] = []Commit{
		{SHA: "xyz", Message: "[TASK-43] write tests", AuthorLogin: "ana"},
	}

	ingestor := NewIngestor(source, store, testLogger())
	require.NoError(t, ingestor.SyncAll(context.Background()))

	require.Len(t, store.recorded, 1, "the failing repository does not block the other group")
	assert.Equal(t, "xyz", store.recorded[0].sha)
}

func TestSyncAll_SkipsGroupsWithoutRepo(t *testing.T) {
	store, source := ingestBed()
	store.groups[1] = []domain.Group{{ID: 10, ProjectID: 1, Name: "team-a"}}

	ingestor := NewIngestor(source, store, testLogger())
	require.NoError(t, ingestor.SyncAll(context.Background()))
	assert.Empty(t, store.recorded)
}
