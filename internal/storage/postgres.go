package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/xaenox/chief-of-staff/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// PostgresStorage keeps every call to a single statement or a single
// transaction. Per-user writes that need ordering take a transaction-scoped
// advisory lock keyed by the user id.
type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewPostgresStorage(ctx context.Context, config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db, logger: logger, now: time.Now}

	// Initialize database schema
	if err := storage.initializeSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return storage, nil
}

func (s *PostgresStorage) initializeSchema(ctx context.Context) error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}
	s.logger.Info("Database schema initialized")
	return nil
}

func (s *PostgresStorage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}
	return nil
}

func lockUser(ctx context.Context, tx *sql.Tx, userID string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
		return fmt.Errorf("error locking user %s: %w", userID, err)
	}
	return nil
}

func (s *PostgresStorage) UserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM tasks
		UNION SELECT user_id FROM projects
		UNION SELECT user_id FROM messages
		UNION SELECT user_id FROM profiles
		ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("error querying users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("error scanning user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const taskColumns = `id, user_id, project_id, title, description, priority, status,
	due_date, tags, estimated_duration, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		task      models.Task
		projectID sql.NullString
		dueDate   sql.NullTime
		duration  sql.NullInt64
	)
	err := row.Scan(
		&task.ID,
		&task.UserID,
		&projectID,
		&task.Title,
		&task.Description,
		&task.Priority,
		&task.Status,
		&dueDate,
		pq.Array(&task.Tags),
		&duration,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	task.ProjectID = projectID.String
	if dueDate.Valid {
		d := dueDate.Time.UTC()
		task.DueDate = &d
	}
	if duration.Valid {
		d := int(duration.Int64)
		task.EstimatedDuration = &d
	}
	if task.Tags == nil {
		task.Tags = []string{}
	}
	task.CreatedAt = task.CreatedAt.UTC()
	task.UpdatedAt = task.UpdatedAt.UTC()
	return &task, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return fmt.Errorf("error loading %s %s: %w", kind, id, err)
}

// Task methods
func (s *PostgresStorage) CreateTask(ctx context.Context, in models.TaskInput) (*models.Task, error) {
	if err := normalizeTaskInput(&in); err != nil {
		return nil, err
	}
	now := stamp(s.now())
	task := &models.Task{
		ID:                uuid.New().String(),
		UserID:            in.UserID,
		ProjectID:         in.ProjectID,
		Title:             in.Title,
		Description:       in.Description,
		Priority:          in.Priority,
		Status:            in.Status,
		DueDate:           in.DueDate,
		Tags:              in.Tags,
		EstimatedDuration: in.EstimatedDuration,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if task.ProjectID != "" {
			res, err := tx.ExecContext(ctx, `
				UPDATE projects SET task_ids = array_append(task_ids, $1), updated_at = GREATEST($2, updated_at)
				WHERE id = $3 AND user_id = $4`,
				task.ID, now, task.ProjectID, task.UserID)
			if err != nil {
				return fmt.Errorf("error attaching task to project: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("%w: project %s does not belong to user", ErrInvalid, task.ProjectID)
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (`+taskColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			task.ID,
			task.UserID,
			nullString(task.ProjectID),
			task.Title,
			task.Description,
			task.Priority,
			task.Status,
			nullTime(task.DueDate),
			pq.Array(task.Tags),
			nullInt(task.EstimatedDuration),
			task.CreatedAt,
			task.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("error creating task: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (s *PostgresStorage) GetTask(ctx context.Context, userID, id string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND user_id = $2`, id, userID)
	task, err := scanTask(row)
	if err != nil {
		return nil, notFound("task", id, err)
	}
	return task, nil
}

func (s *PostgresStorage) ListTasks(ctx context.Context, filter models.TaskFilter) ([]*models.Task, error) {
	if filter.UserID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrInvalid)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = $1`
	args := []any{filter.UserID}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, pq.Array(statuses))
		query += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	if filter.ProjectID != "" {
		args = append(args, filter.ProjectID)
		query += fmt.Sprintf(" AND project_id = $%d", len(args))
	}
	if filter.DueBefore != nil {
		args = append(args, *filter.DueBefore)
		query += fmt.Sprintf(" AND due_date <= $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*models.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *PostgresStorage) UpdateTask(ctx context.Context, userID, id string, patch models.TaskPatch) (*models.Task, error) {
	if err := validateTaskPatch(patch); err != nil {
		return nil, err
	}
	var updated *models.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND user_id = $2 FOR UPDATE`, id, userID)
		current, err := scanTask(row)
		if err != nil {
			return notFound("task", id, err)
		}

		updated = cloneTask(current)
		applyTaskPatch(updated, patch)
		updated.UpdatedAt = after(current.UpdatedAt, stamp(s.now()))

		if updated.ProjectID != current.ProjectID {
			if err := moveTask(ctx, tx, updated, current.ProjectID); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE tasks SET project_id = $1, title = $2, description = $3, priority = $4, status = $5,
				due_date = $6, tags = $7, estimated_duration = $8, updated_at = $9
			WHERE id = $10`,
			nullString(updated.ProjectID),
			updated.Title,
			updated.Description,
			updated.Priority,
			updated.Status,
			nullTime(updated.DueDate),
			pq.Array(updated.Tags),
			nullInt(updated.EstimatedDuration),
			updated.UpdatedAt,
			id,
		)
		if err != nil {
			return fmt.Errorf("error updating task: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func moveTask(ctx context.Context, tx *sql.Tx, task *models.Task, fromProject string) error {
	if fromProject != "" {
		_, err := tx.ExecContext(ctx, `
			UPDATE projects SET task_ids = array_remove(task_ids, $1), updated_at = GREATEST($2, updated_at)
			WHERE id = $3 AND user_id = $4`,
			task.ID, task.UpdatedAt, fromProject, task.UserID)
		if err != nil {
			return fmt.Errorf("error detaching task from project: %w", err)
		}
	}
	if task.ProjectID == "" {
		return nil
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE projects SET task_ids = array_append(task_ids, $1), updated_at = GREATEST($2, updated_at)
		WHERE id = $3 AND user_id = $4`,
		task.ID, task.UpdatedAt, task.ProjectID, task.UserID)
	if err != nil {
		return fmt.Errorf("error attaching task to project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: project %s does not belong to user", ErrInvalid, task.ProjectID)
	}
	return nil
}

func (s *PostgresStorage) DeleteTask(ctx context.Context, userID, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var projectID sql.NullString
		err := tx.QueryRowContext(ctx,
			`DELETE FROM tasks WHERE id = $1 AND user_id = $2 RETURNING project_id`, id, userID).Scan(&projectID)
		if err != nil {
			return notFound("task", id, err)
		}
		if projectID.Valid {
			_, err = tx.ExecContext(ctx, `
				UPDATE projects SET task_ids = array_remove(task_ids, $1), updated_at = GREATEST($2, updated_at)
				WHERE id = $3 AND user_id = $4`,
				id, stamp(s.now()), projectID.String, userID)
			if err != nil {
				return fmt.Errorf("error detaching task from project: %w", err)
			}
		}
		return nil
	})
}

// Project methods
const projectColumns = `id, user_id, name, description, status, task_ids, deadline, created_at, updated_at`

func scanProject(row rowScanner) (*models.Project, error) {
	var (
		project  models.Project
		deadline sql.NullTime
	)
	err := row.Scan(
		&project.ID,
		&project.UserID,
		&project.Name,
		&project.Description,
		&project.Status,
		pq.Array(&project.Tasks),
		&deadline,
		&project.CreatedAt,
		&project.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if deadline.Valid {
		d := deadline.Time.UTC()
		project.Deadline = &d
	}
	if project.Tasks == nil {
		project.Tasks = []string{}
	}
	project.CreatedAt = project.CreatedAt.UTC()
	project.UpdatedAt = project.UpdatedAt.UTC()
	return &project, nil
}

func (s *PostgresStorage) CreateProject(ctx context.Context, in models.ProjectInput) (*models.Project, error) {
	if err := normalizeProjectInput(&in); err != nil {
		return nil, err
	}
	now := stamp(s.now())
	project := &models.Project{
		ID:          uuid.New().String(),
		UserID:      in.UserID,
		Name:        in.Name,
		Description: in.Description,
		Status:      in.Status,
		Tasks:       []string{},
		Deadline:    in.Deadline,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (`+projectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		project.ID,
		project.UserID,
		project.Name,
		project.Description,
		project.Status,
		pq.Array(project.Tasks),
		nullTime(project.Deadline),
		project.CreatedAt,
		project.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("error creating project: %w", err)
	}
	return project, nil
}

func (s *PostgresStorage) GetProject(ctx context.Context, userID, id string) (*models.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1 AND user_id = $2`, id, userID)
	project, err := scanProject(row)
	if err != nil {
		return nil, notFound("project", id, err)
	}
	return project, nil
}

func (s *PostgresStorage) ListProjects(ctx context.Context, filter models.ProjectFilter) ([]*models.Project, error) {
	if filter.UserID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrInvalid)
	}
	query := `SELECT ` + projectColumns + ` FROM projects WHERE user_id = $1`
	args := []any{filter.UserID}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, pq.Array(statuses))
		query += " AND status = ANY($2)"
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying projects: %w", err)
	}
	defer rows.Close()

	projects := []*models.Project{}
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning project: %w", err)
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

func (s *PostgresStorage) UpdateProject(ctx context.Context, userID, id string, patch models.ProjectPatch) (*models.Project, error) {
	if err := validateProjectPatch(patch); err != nil {
		return nil, err
	}
	var updated *models.Project
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+projectColumns+` FROM projects WHERE id = $1 AND user_id = $2 FOR UPDATE`, id, userID)
		current, err := scanProject(row)
		if err != nil {
			return notFound("project", id, err)
		}
		updated = cloneProject(current)
		applyProjectPatch(updated, patch)
		updated.UpdatedAt = after(current.UpdatedAt, stamp(s.now()))

		_, err = tx.ExecContext(ctx, `
			UPDATE projects SET name = $1, description = $2, status = $3, deadline = $4, updated_at = $5
			WHERE id = $6`,
			updated.Name, updated.Description, updated.Status, nullTime(updated.Deadline), updated.UpdatedAt, id)
		if err != nil {
			return fmt.Errorf("error updating project: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *PostgresStorage) ArchiveProject(ctx context.Context, userID, id string) (*models.Project, error) {
	archived := models.ProjectArchived
	return s.UpdateProject(ctx, userID, id, models.ProjectPatch{Status: &archived})
}

// Conversation methods
func (s *PostgresStorage) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	if msg.UserID == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalid)
	}
	var metadata []byte
	if msg.Metadata != nil {
		var err error
		if metadata, err = json.Marshal(msg.Metadata); err != nil {
			return fmt.Errorf("error encoding message metadata: %w", err)
		}
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockUser(ctx, tx, msg.UserID); err != nil {
			return err
		}
		var last sql.NullTime
		if err := tx.QueryRowContext(ctx,
			`SELECT max(timestamp) FROM messages WHERE user_id = $1`, msg.UserID).Scan(&last); err != nil {
			return fmt.Errorf("error reading last message time: %w", err)
		}
		prepareMessage(msg, last.Time, s.now())

		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, user_id, content, type, metadata, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			msg.ID, msg.UserID, msg.Content, msg.Type, nullJSON(metadata), msg.Timestamp)
		if err != nil {
			return fmt.Errorf("error saving message: %w", err)
		}
		return nil
	})
}

func (s *PostgresStorage) RecentMessages(ctx context.Context, userID string, limit int) ([]*models.ChatMessage, error) {
	if limit <= 0 {
		return []*models.ChatMessage{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, content, type, metadata, timestamp
		FROM messages
		WHERE user_id = $1
		ORDER BY timestamp DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	defer rows.Close()

	messages := []*models.ChatMessage{}
	for rows.Next() {
		var (
			msg      models.ChatMessage
			metadata []byte
		)
		if err := rows.Scan(&msg.ID, &msg.UserID, &msg.Content, &msg.Type, &metadata, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("error scanning message: %w", err)
		}
		if len(metadata) > 0 {
			msg.Metadata = &models.MessageMetadata{}
			if err := json.Unmarshal(metadata, msg.Metadata); err != nil {
				s.logger.Warn("Dropping unreadable message metadata",
					zap.Error(err),
					zap.String("message_id", msg.ID))
				msg.Metadata = nil
			}
		}
		msg.Timestamp = msg.Timestamp.UTC()
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rows come newest first; callers want chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Profile methods
// GetProfile returns defaults for a user without a stored profile. Nothing is
// written, so reads never make a user show up in UserIDs.
func (s *PostgresStorage) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrInvalid)
	}
	profile, err := s.loadProfile(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return models.NewUserProfile(userID, stamp(s.now())), nil
	}
	return profile, err
}

func (s *PostgresStorage) ensureProfile(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalid)
	}
	defaults, err := json.Marshal(models.DefaultPreferences())
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, preferences, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (user_id) DO NOTHING`, userID, defaults, stamp(s.now()))
	if err != nil {
		return fmt.Errorf("error creating default profile: %w", err)
	}
	return nil
}

func (s *PostgresStorage) loadProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	var (
		profile     = models.UserProfile{UserID: userID}
		preferences []byte
		schedule    []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT preferences, latest_schedule, created_at, updated_at
		FROM profiles WHERE user_id = $1`, userID).
		Scan(&preferences, &schedule, &profile.CreatedAt, &profile.UpdatedAt)
	if err != nil {
		return nil, notFound("profile", userID, err)
	}
	if err := json.Unmarshal(preferences, &profile.Preferences); err != nil {
		return nil, fmt.Errorf("error decoding preferences: %w", err)
	}
	if len(schedule) > 0 && !strings.EqualFold(string(schedule), "null") {
		profile.LatestSchedule = &models.ScheduleSuggestion{}
		if err := json.Unmarshal(schedule, profile.LatestSchedule); err != nil {
			return nil, fmt.Errorf("error decoding schedule suggestion: %w", err)
		}
	}
	profile.CreatedAt = profile.CreatedAt.UTC()
	profile.UpdatedAt = profile.UpdatedAt.UTC()
	return &profile, nil
}

func (s *PostgresStorage) SaveProfile(ctx context.Context, profile *models.UserProfile) error {
	if err := validateProfile(profile); err != nil {
		return err
	}
	preferences, err := json.Marshal(profile.Preferences)
	if err != nil {
		return fmt.Errorf("error encoding preferences: %w", err)
	}
	var schedule []byte
	if profile.LatestSchedule != nil {
		if schedule, err = json.Marshal(profile.LatestSchedule); err != nil {
			return fmt.Errorf("error encoding schedule suggestion: %w", err)
		}
	}
	now := stamp(s.now())
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, preferences, latest_schedule, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			preferences = EXCLUDED.preferences,
			latest_schedule = COALESCE(EXCLUDED.latest_schedule, profiles.latest_schedule),
			updated_at = GREATEST(EXCLUDED.updated_at, profiles.updated_at + interval '1 microsecond')`,
		profile.UserID, preferences, nullJSON(schedule), now)
	if err != nil {
		return fmt.Errorf("error saving profile: %w", err)
	}

	stored, err := s.loadProfile(ctx, profile.UserID)
	if err != nil {
		return err
	}
	*profile = *stored
	return nil
}

func (s *PostgresStorage) SaveScheduleSuggestion(ctx context.Context, userID string, suggestion *models.ScheduleSuggestion) error {
	if err := s.ensureProfile(ctx, userID); err != nil {
		return err
	}
	schedule, err := json.Marshal(suggestion)
	if err != nil {
		return fmt.Errorf("error encoding schedule suggestion: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE profiles SET latest_schedule = $1,
			updated_at = GREATEST($2, updated_at + interval '1 microsecond')
		WHERE user_id = $3`, schedule, stamp(s.now()), userID)
	if err != nil {
		return fmt.Errorf("error saving schedule suggestion: %w", err)
	}
	return nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
