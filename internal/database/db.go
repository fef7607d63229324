// Package database provides sqlite-backed storage for the scoring and
// pressure engines and implements their collaborator interfaces.
package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the sqlite connection with pooling and prepared statements.
type DB struct {
	*sql.DB
	prepared map[string]*sql.Stmt
	mutex    sync.RWMutex
}

// NewDB opens (creating if needed) the database under dataDir, runs
// migrations and prepares hot-path statements.
func NewDB(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "projectpulse.db")
	connStr := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	database := &DB{
		DB:       db,
		prepared: make(map[string]*sql.Stmt),
	}

	if err := database.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := database.initPreparedStatements(); err != nil {
		return nil, fmt.Errorf("failed to initialize prepared statements: %w", err)
	}

	slog.Info("Database initialized", "path", dbPath)
	return database, nil
}

// migrate creates the necessary tables.
func (db *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			full_name TEXT NOT NULL,
			email TEXT,
			roles TEXT NOT NULL DEFAULT 'STUDENT',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS projects (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			description TEXT,
			weight_w1 REAL NOT NULL DEFAULT 0.5,
			weight_w2 REAL NOT NULL DEFAULT 0.3,
			weight_w3 REAL NOT NULL DEFAULT 0.2,
			weight_w4 REAL NOT NULL DEFAULT 0.1,
			freerider_threshold REAL NOT NULL DEFAULT 0.3,
			pressure_threshold REAL NOT NULL DEFAULT 15,
			instructor_id INTEGER NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			FOREIGN KEY (instructor_id) REFERENCES users(id)
		)`,

		`CREATE TABLE IF NOT EXISTS project_groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			leader_id INTEGER,
			repo_owner TEXT,
			repo_name TEXT,
			FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE,
			FOREIGN KEY (leader_id) REFERENCES users(id)
		)`,

		`CREATE TABLE IF NOT EXISTS group_members (
			group_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			PRIMARY KEY (group_id, user_id),
			FOREIGN KEY (group_id) REFERENCES project_groups(id) ON DELETE CASCADE,
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,

		`CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			group_id INTEGER NOT NULL,
			title TEXT NOT NULL,
			difficulty INTEGER NOT NULL DEFAULT 0,
			deadline DATETIME,
			status TEXT NOT NULL DEFAULT 'NOT_STARTED',
			completed_at DATETIME,
			assignee_id INTEGER,
			FOREIGN KEY (group_id) REFERENCES project_groups(id) ON DELETE CASCADE,
			FOREIGN KEY (assignee_id) REFERENCES users(id)
		)`,

		`CREATE TABLE IF NOT EXISTS peer_reviews (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id INTEGER NOT NULL,
			reviewer_id INTEGER NOT NULL,
			reviewee_id INTEGER NOT NULL,
			score REAL NOT NULL,
			completed BOOLEAN NOT NULL DEFAULT FALSE,
			valid BOOLEAN NOT NULL DEFAULT TRUE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS commit_records (
			id TEXT PRIMARY KEY,
			task_id INTEGER NOT NULL,
			commit_sha TEXT NOT NULL UNIQUE,
			author TEXT,
			additions INTEGER NOT NULL DEFAULT 0,
			deletions INTEGER NOT NULL DEFAULT 0,
			valid BOOLEAN NOT NULL DEFAULT TRUE,
			committed_at DATETIME NOT NULL,
			FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS contribution_scores (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			project_id INTEGER NOT NULL,
			task_completion_score REAL NOT NULL DEFAULT 0,
			peer_review_score REAL NOT NULL DEFAULT 0,
			code_contribution_score REAL NOT NULL DEFAULT 0,
			total_additions INTEGER NOT NULL DEFAULT 0,
			total_deletions INTEGER NOT NULL DEFAULT 0,
			late_task_count INTEGER NOT NULL DEFAULT 0,
			calculated_score REAL NOT NULL DEFAULT 0,
			adjusted_score REAL,
			adjustment_reason TEXT,
			is_final BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE(user_id, project_id),
			FOREIGN KEY (user_id) REFERENCES users(id),
			FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS pressure_score_history (
			id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			project_id INTEGER NOT NULL,
			score INTEGER NOT NULL,
			recorded_at DATETIME NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id),
			FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			read BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_tasks_assignee ON tasks(assignee_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_group ON tasks(group_id)`,
		`CREATE INDEX IF NOT EXISTS idx_commit_records_task ON commit_records(task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_peer_reviews_reviewee ON peer_reviews(reviewee_id, project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_project ON contribution_scores(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_history_user_project ON pressure_score_history(user_id, project_id, recorded_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at DESC)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return nil
}

// initPreparedStatements initializes frequently used prepared statements.
func (db *DB) initPreparedStatements() error {
	statements := map[string]string{
		"insert_history": `INSERT INTO pressure_score_history (id, user_id, project_id, score, recorded_at)
			VALUES (?, ?, ?, ?, ?)`,

		"latest_history": `SELECT id, user_id, project_id, score, recorded_at
			FROM pressure_score_history
			WHERE user_id = ? AND project_id = ?
			ORDER BY recorded_at DESC LIMIT ?`,

		"insert_notification": `INSERT INTO notifications (id, user_id, title, message, read, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,

		"get_score_by_user_project": `SELECT id, user_id, project_id, task_completion_score,
			peer_review_score, code_contribution_score, total_additions, total_deletions,
			late_task_count, calculated_score, adjusted_score, adjustment_reason, is_final,
			created_at, updated_at
			FROM contribution_scores WHERE user_id = ? AND project_id = ?`,
	}

	db.mutex.Lock()
	defer db.mutex.Unlock()

	for name, query := range statements {
		stmt, err := db.Prepare(query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement %s: %w", name, err)
		}
		db.prepared[name] = stmt
	}
	return nil
}

// stmt retrieves a prepared statement by name.
func (db *DB) stmt(name string) (*sql.Stmt, error) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	stmt, exists := db.prepared[name]
	if !exists {
		return nil, fmt.Errorf("prepared statement %s not found", name)
	}
	return stmt, nil
}

// Close closes the database connection and prepared statements.
func (db *DB) Close() error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	for name, stmt := range db.prepared {
		if err := stmt.Close(); err != nil {
			slog.Warn("Failed to close prepared statement", "name", name, "error", err)
		}
	}
	db.prepared = make(map[string]*sql.Stmt)

	return db.DB.Close()
}
