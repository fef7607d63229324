package github

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"github.com/itss-group/projectpulse/internal/domain"
	"github.com/itss-group/projectpulse/internal/monitoring"
)

// taskRefPattern matches task references in commit messages, e.g.
// "[TASK-42] implement login form".
var taskRefPattern = regexp.MustCompile(`(?i)\[TASK-(\d+)\]`)

// CommitSource lists commits for a repository. Implemented by Client;
// narrowed to an interface so sweeps are testable without the network.
type CommitSource interface {
	ListCommits(ctx context.Context, owner, repo string, since *time.Time) ([]Commit, error)
}

// Store is what the ingestor needs from persistence.
type Store interface {
	ActiveProjects(ctx context.Context) ([]domain.Project, error)
	GroupsByProject(ctx context.Context, projectID int64) ([]domain.Group, error)
	TaskByGroupAndID(ctx context.Context, groupID, taskID int64) (*domain.Task, error)
	UserByID(ctx context.Context, id int64) (*domain.User, error)
	LatestCommitTime(ctx context.Context, groupID int64) (*time.Time, error)
	InsertCommitRecord(ctx context.Context, taskID int64, sha, author string, additions, deletions int, valid bool, committedAt time.Time) error
}

// Ingestor periodically pulls commits from each group's linked repository
// and records the ones that reference a task.
type Ingestor struct {
	source CommitSource
	store  Store
	logger *monitoring.Logger
}

// NewIngestor creates an ingestor.
func NewIngestor(source CommitSource, store Store, logger *monitoring.Logger) *Ingestor {
	return &Ingestor{source: source, store: store, logger: logger}
}

// SyncAll ingests new commits for every group with a linked repository
// across all active projects. Failures are isolated per group so one broken
// repository link does not block the rest of the sweep.
func (in *Ingestor) SyncAll(ctx context.Context) error {
	projects, err := in.store.ActiveProjects(ctx)
	if err != nil {
		return err
	}

	for _, project := range projects {
		groups, err := in.store.GroupsByProject(ctx, project.ID)
		if err != nil {
			in.logger.Error("Failed to list groups for commit sync", "project_id", project.ID, "error", err)
			continue
		}
		for _, group := range groups {
			if !group.HasRepo() {
				continue
			}
			if err := in.syncGroup(ctx, group); err != nil {
				in.logger.Error("Commit sync failed for group",
					"group_id", group.ID, "repo", group.RepoOwner+"/"+group.RepoName, "error", err)
			}
		}
	}
	return nil
}

func (in *Ingestor) syncGroup(ctx context.Context, group domain.Group) error {
	since, err := in.store.LatestCommitTime(ctx, group.ID)
	if err != nil {
		return err
	}

	commits, err := in.source.ListCommits(ctx, group.RepoOwner, group.RepoName, since)
	if err != nil {
		return err
	}

	var recorded int
	for _, commit := range commits {
		taskID, ok := extractTaskID(commit.Message)
		if !ok {
			continue
		}

		task, err := in.store.TaskByGroupAndID(ctx, group.ID, taskID)
		if err != nil {
			in.logger.Warn("Commit references unknown task",
				"sha", commit.SHA, "task_id", taskID, "group_id", group.ID)
			continue
		}

		valid, err := in.commitMatchesAssignee(ctx, commit, task)
		if err != nil {
			return err
		}

		author := commit.AuthorLogin
		if author == "" {
			author = commit.AuthorEmail
		}
		if err := in.store.InsertCommitRecord(ctx, task.ID, commit.SHA, author,
			commit.Additions, commit.Deletions, valid, commit.CommittedAt); err != nil {
			return err
		}
		recorded++
	}

	if recorded > 0 {
		in.logger.Info("Recorded commits for group", "group_id", group.ID, "count", recorded)
	}
	return nil
}

// commitMatchesAssignee reports whether the commit author is the task's
// assignee. Mismatched commits are stored as invalid so they are visible
// for audit but excluded from contribution scoring.
func (in *Ingestor) commitMatchesAssignee(ctx context.Context, commit Commit, task *domain.Task) (bool, error) {
	if task.AssigneeID == nil {
		return false, nil
	}
	assignee, err := in.store.UserByID(ctx, *task.AssigneeID)
	if err != nil {
		return false, err
	}
	if commit.AuthorLogin != "" && commit.AuthorLogin == assignee.Username {
		return true, nil
	}
	return commit.AuthorEmail != "" && commit.AuthorEmail == assignee.Email, nil
}

func extractTaskID(message string) (int64, bool) {
	match := taskRefPattern.FindStringSubmatch(message)
	if match == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
