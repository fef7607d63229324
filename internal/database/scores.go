package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/itss-group/projectpulse/internal/domain"
	"github.com/itss-group/projectpulse/internal/errors"
)

// FindByID returns a contribution score row or a not-found error.
func (r *Repository) FindByID(ctx context.Context, id int64) (*domain.ContributionScore, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, project_id, task_completion_score, peer_review_score,
			code_contribution_score, total_additions, total_deletions, late_task_count,
			calculated_score, adjusted_score, adjustment_reason, is_final, created_at, updated_at
		FROM contribution_scores WHERE id = ?
	`, id)

	score, err := scanScore(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("contribution score", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query contribution score: %w", err)
	}
	return score, nil
}

// FindByUserAndProject returns the score row for (user, project), or
// (nil, nil) when no row exists yet.
func (r *Repository) FindByUserAndProject(ctx context.Context, userID, projectID int64) (*domain.ContributionScore, error) {
	stmt, err := r.db.stmt("get_score_by_user_project")
	if err != nil {
		return nil, err
	}

	score, err := scanScore(stmt.QueryRowContext(ctx, userID, projectID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query contribution score: %w", err)
	}
	return score, nil
}

// FindByProject returns every score row in the project in user id order.
func (r *Repository) FindByProject(ctx context.Context, projectID int64) ([]*domain.ContributionScore, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, project_id, task_completion_score, peer_review_score,
			code_contribution_score, total_additions, total_deletions, late_task_count,
			calculated_score, adjusted_score, adjustment_reason, is_final, created_at, updated_at
		FROM contribution_scores WHERE project_id = ? ORDER BY user_id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query contribution scores: %w", err)
	}
	defer rows.Close()

	var scores []*domain.ContributionScore
	for rows.Next() {
		score, err := scanScore(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contribution score: %w", err)
		}
		scores = append(scores, score)
	}
	return scores, rows.Err()
}

// Save inserts the score when it has no id yet, otherwise updates the
// existing row in place.
func (r *Repository) Save(ctx context.Context, score *domain.ContributionScore) error {
	if score.ID == 0 {
		result, err := r.db.ExecContext(ctx, `
			INSERT INTO contribution_scores (user_id, project_id, task_completion_score,
				peer_review_score, code_contribution_score, total_additions, total_deletions,
				late_task_count, calculated_score, adjusted_score, adjustment_reason, is_final,
				created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, score.UserID, score.ProjectID, score.TaskCompletionScore, score.PeerReviewScore,
			score.CodeContributionScore, score.TotalAdditions, score.TotalDeletions,
			score.LateTaskCount, score.CalculatedScore, score.AdjustedScore,
			nullString(score.AdjustmentReason), score.IsFinal, score.CreatedAt, score.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert contribution score: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read inserted score id: %w", err)
		}
		score.ID = id
		return nil
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE contribution_scores
		SET task_completion_score = ?, peer_review_score = ?, code_contribution_score = ?,
			total_additions = ?, total_deletions = ?, late_task_count = ?, calculated_score = ?,
			adjusted_score = ?, adjustment_reason = ?, is_final = ?, updated_at = ?
		WHERE id = ?
	`, score.TaskCompletionScore, score.PeerReviewScore, score.CodeContributionScore,
		score.TotalAdditions, score.TotalDeletions, score.LateTaskCount, score.CalculatedScore,
		score.AdjustedScore, nullString(score.AdjustmentReason), score.IsFinal,
		score.UpdatedAt, score.ID)
	if err != nil {
		return fmt.Errorf("failed to update contribution score: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScore(row rowScanner) (*domain.ContributionScore, error) {
	var (
		score    domain.ContributionScore
		adjusted sql.NullFloat64
		reason   sql.NullString
	)
	err := row.Scan(&score.ID, &score.UserID, &score.ProjectID, &score.TaskCompletionScore,
		&score.PeerReviewScore, &score.CodeContributionScore, &score.TotalAdditions,
		&score.TotalDeletions, &score.LateTaskCount, &score.CalculatedScore,
		&adjusted, &reason, &score.IsFinal, &score.CreatedAt, &score.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if adjusted.Valid {
		v := adjusted.Float64
		score.AdjustedScore = &v
	}
	score.AdjustmentReason = reason.String
	return &score, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
