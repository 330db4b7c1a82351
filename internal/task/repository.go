package task

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carefront/platform/internal/shared/errors"
	"github.com/carefront/platform/internal/shared/types"
)

// TaskRepository stores tasks. List returns newest first with the total
// count before paging.
type TaskRepository interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, id types.ID) (*Task, error)
	List(ctx context.Context, filter ListFilter) ([]*Task, int, error)
	Update(ctx context.Context, t *Task) error
}

var (
	_ TaskRepository = (*Repository)(nil)
	_ TaskRepository = (*MemoryRepository)(nil)
)

// Repository keeps tasks in PostgreSQL
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new task repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const taskColumns = `id, type, target_role, agent_role, assigned_to, patient_id,
	bed_id, decision_id, status, notes, scheduled_at, created_at, updated_at, completed_at`

func (r *Repository) Create(ctx context.Context, t *Task) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		t.ID, t.Type, t.TargetRole, t.AgentRole, t.AssignedTo, t.PatientID,
		t.BedID, t.DecisionID, t.Status, t.Notes, t.ScheduledAt, t.CreatedAt, t.UpdatedAt, t.CompletedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create task")
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id types.ID) (*Task, error) {
	t, err := scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("task", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get task")
	}
	return t, nil
}

func (r *Repository) List(ctx context.Context, filter ListFilter) ([]*Task, int, error) {
	var conditions []string
	var args []any
	argNum := 1

	add := func(cond string, val any) {
		conditions = append(conditions, fmt.Sprintf(cond, argNum))
		args = append(args, val)
		argNum++
	}

	if filter.Type != "" {
		add("type = $%d", filter.Type)
	}
	if filter.AgentRole != "" {
		add("agent_role = $%d", filter.AgentRole)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.AssignedTo != "" {
		add("assigned_to = $%d", filter.AssignedTo)
	}
	if filter.PatientID != nil {
		add("patient_id = $%d", *filter.PatientID)
	}
	if filter.BedID != "" {
		add("bed_id = $%d", filter.BedID)
	}
	if filter.OpenOnly {
		conditions = append(conditions, "status IN ('pending', 'in_progress')")
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM tasks "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count tasks")
	}

	limit := 50
	if filter.Limit > 0 && filter.Limit <= 1000 {
		limit = filter.Limit
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM tasks
		%s
		ORDER BY created_at DESC, position DESC
		LIMIT $%d OFFSET $%d`, taskColumns, whereClause, argNum, argNum+1)
	args = append(args, limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list tasks")
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan task")
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "failed to iterate tasks")
	}
	return tasks, total, nil
}

// Update writes the mutable fields of t
func (r *Repository) Update(ctx context.Context, t *Task) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tasks
		SET assigned_to = $2, status = $3, notes = $4, updated_at = $5, completed_at = $6
		WHERE id = $1`,
		t.ID, t.AssignedTo, t.Status, t.Notes, t.UpdatedAt, t.CompletedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update task")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("task", t.ID.String())
	}
	return nil
}

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	err := row.Scan(
		&t.ID, &t.Type, &t.TargetRole, &t.AgentRole, &t.AssignedTo, &t.PatientID,
		&t.BedID, &t.DecisionID, &t.Status, &t.Notes, &t.ScheduledAt, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
