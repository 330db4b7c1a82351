package infrastructure

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carefront/platform/internal/assignment/domain"
	"github.com/carefront/platform/internal/shared/errors"
	"github.com/carefront/platform/internal/shared/types"
)

// querier is the subset of pgx shared by the pool and a transaction
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements domain.Store using PostgreSQL
type PostgresStore struct {
	pgQueries
}

// NewPostgresStore creates a new PostgreSQL record store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pgQueries: pgQueries{q: pool, pool: pool}}
}

// Atomically runs fn in one transaction. Resources read inside fn are
// locked with FOR UPDATE until the transaction ends.
func (s *PostgresStore) Atomically(ctx context.Context, fn func(tx domain.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Unavailable("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgQueries{q: tx, lockRows: true}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapWriteError(err, "failed to commit transaction")
	}
	return nil
}

// Snapshot reads every resource inside one repeatable-read transaction
func (s *PostgresStore) Snapshot(ctx context.Context) (domain.Pool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return domain.Pool{}, errors.Unavailable("failed to begin snapshot", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT `+resourceColumns+` FROM resources ORDER BY position, id`)
	if err != nil {
		return domain.Pool{}, errors.Wrap(err, "failed to read resource snapshot")
	}
	resources, err := scanResources(rows)
	if err != nil {
		return domain.Pool{}, err
	}

	var pool domain.Pool
	for _, r := range resources {
		switch r.Kind {
		case domain.KindNurse:
			pool.Nurses = append(pool.Nurses, r)
		case domain.KindDoctor:
			pool.Doctors = append(pool.Doctors, r)
		case domain.KindBed:
			pool.Beds = append(pool.Beds, r)
		}
	}
	return pool, tx.Commit(ctx)
}

// Health pings the database
func (s *PostgresStore) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// pgQueries implements domain.Tx over either the pool or an open transaction
type pgQueries struct {
	q        querier
	pool     *pgxpool.Pool // nil inside a transaction
	lockRows bool
}

// inTx runs fn in a transaction unless one is already open
func (p *pgQueries) inTx(ctx context.Context, fn func(q querier) error) error {
	if p.pool == nil {
		return fn(p.q)
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return errors.Unavailable("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapWriteError(err, "failed to commit transaction")
	}
	return nil
}

const resourceColumns = `kind, id, name, specialization, availability, current_assignment_id,
	floor, bed_number, bed_type, updated_at`

func scanResources(rows pgx.Rows) ([]domain.Resource, error) {
	defer rows.Close()

	var out []domain.Resource
	for rows.Next() {
		var r domain.Resource
		if err := rows.Scan(
			&r.Kind, &r.ID, &r.Name, &r.Specialization, &r.Availability, &r.CurrentAssignmentID,
			&r.Floor, &r.BedNumber, &r.BedType, &r.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan resource")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate resources")
	}
	return out, nil
}

func (p *pgQueries) ListAvailable(ctx context.Context, kind domain.Kind) ([]domain.Resource, error) {
	rows, err := p.q.Query(ctx, `
		SELECT `+resourceColumns+`
		FROM resources
		WHERE kind = $1 AND availability = 'available'
		ORDER BY position, id`, kind)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list available resources")
	}
	return scanResources(rows)
}

func (p *pgQueries) ListResources(ctx context.Context, kind domain.Kind) ([]domain.Resource, error) {
	rows, err := p.q.Query(ctx, `
		SELECT `+resourceColumns+`
		FROM resources
		WHERE kind = $1
		ORDER BY position, id`, kind)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list resources")
	}
	return scanResources(rows)
}

func (p *pgQueries) GetResource(ctx context.Context, kind domain.Kind, id string) (*domain.Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE kind = $1 AND id = $2`
	if p.lockRows {
		query += ` FOR UPDATE`
	}

	var r domain.Resource
	err := p.q.QueryRow(ctx, query, kind, id).Scan(
		&r.Kind, &r.ID, &r.Name, &r.Specialization, &r.Availability, &r.CurrentAssignmentID,
		&r.Floor, &r.BedNumber, &r.BedType, &r.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound(string(kind), id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get resource")
	}
	return &r, nil
}

func (p *pgQueries) UpdateAvailability(ctx context.Context, kind domain.Kind, id string, status domain.Availability, assignmentID *types.ID) error {
	tag, err := p.q.Exec(ctx, `
		UPDATE resources
		SET availability = $3, current_assignment_id = $4, updated_at = NOW()
		WHERE kind = $1 AND id = $2`,
		kind, id, status, assignmentID,
	)
	if err != nil {
		return mapWriteError(err, "failed to update availability")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound(string(kind), id)
	}
	return nil
}

func (p *pgQueries) UpsertResource(ctx context.Context, r domain.Resource) error {
	if r.Availability == "" {
		r.Availability = domain.AvailabilityAvailable
	}
	if r.Availability.Engaged() && r.CurrentAssignmentID == nil {
		return errors.BadRequest(fmt.Sprintf("%s %s cannot be imported as %s", r.Kind, r.ID, r.Availability))
	}

	_, err := p.q.Exec(ctx, `
		INSERT INTO resources (
			kind, id, name, specialization, availability, current_assignment_id,
			floor, bed_number, bed_type, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (kind, id) DO UPDATE SET
			name = EXCLUDED.name,
			specialization = EXCLUDED.specialization,
			floor = EXCLUDED.floor,
			bed_number = EXCLUDED.bed_number,
			bed_type = EXCLUDED.bed_type,
			availability = CASE WHEN resources.availability IN ('busy', 'occupied')
				THEN resources.availability ELSE EXCLUDED.availability END,
			current_assignment_id = CASE WHEN resources.availability IN ('busy', 'occupied')
				THEN resources.current_assignment_id ELSE EXCLUDED.current_assignment_id END,
			updated_at = NOW()`,
		r.Kind, r.ID, r.Name, r.Specialization, r.Availability, r.CurrentAssignmentID,
		r.Floor, r.BedNumber, r.BedType,
	)
	if err != nil {
		return mapWriteError(err, "failed to upsert resource")
	}
	return nil
}

func (p *pgQueries) CreatePatient(ctx context.Context, profile domain.PatientProfile) (*domain.Patient, error) {
	patient := &domain.Patient{
		ID:             types.NewID(),
		Status:         domain.PatientStatusPreRegistered,
		ProfileVersion: 1,
		Profile:        profile,
	}

	err := p.inTx(ctx, func(q querier) error {
		err := q.QueryRow(ctx, `
			INSERT INTO patients (id, status, profile_version)
			VALUES ($1, $2, 1)
			RETURNING created_at, updated_at`,
			patient.ID, patient.Status,
		).Scan(&patient.CreatedAt, &patient.UpdatedAt)
		if err != nil {
			return mapWriteError(err, "failed to create patient")
		}
		return insertProfile(ctx, q, patient.ID, 1, profile)
	})
	if err != nil {
		return nil, err
	}
	return patient, nil
}

func insertProfile(ctx context.Context, q querier, patientID types.ID, version int, p domain.PatientProfile) error {
	allergies := p.Allergies
	if allergies == nil {
		allergies = []string{}
	}
	_, err := q.Exec(ctx, `
		INSERT INTO patient_profiles (
			patient_id, version, name, age, gender, condition,
			required_specialty, severity, allergies, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		patientID, version, p.Name, p.Age, p.Gender, p.Condition,
		p.RequiredSpecialty, p.Severity, allergies, p.Notes,
	)
	if err != nil {
		return mapWriteError(err, "failed to save patient profile")
	}
	return nil
}

func (p *pgQueries) AddProfileVersion(ctx context.Context, patientID types.ID, profile domain.PatientProfile) (*domain.Patient, error) {
	err := p.inTx(ctx, func(q querier) error {
		var version int
		err := q.QueryRow(ctx, `
			UPDATE patients
			SET profile_version = profile_version + 1, updated_at = NOW()
			WHERE id = $1
			RETURNING profile_version`, patientID,
		).Scan(&version)
		if err == pgx.ErrNoRows {
			return errors.NotFound("patient", patientID.String())
		}
		if err != nil {
			return errors.Wrap(err, "failed to bump profile version")
		}
		return insertProfile(ctx, q, patientID, version, profile)
	})
	if err != nil {
		return nil, err
	}
	return p.GetPatient(ctx, patientID)
}

func (p *pgQueries) GetPatient(ctx context.Context, id types.ID) (*domain.Patient, error) {
	pt := &domain.Patient{}
	err := p.q.QueryRow(ctx, `
		SELECT p.id, p.status, p.profile_version, p.created_at, p.updated_at,
			pp.name, pp.age, pp.gender, pp.condition, pp.required_specialty,
			pp.severity, pp.allergies, pp.notes
		FROM patients p
		JOIN patient_profiles pp ON pp.patient_id = p.id AND pp.version = p.profile_version
		WHERE p.id = $1`, id,
	).Scan(
		&pt.ID, &pt.Status, &pt.ProfileVersion, &pt.CreatedAt, &pt.UpdatedAt,
		&pt.Profile.Name, &pt.Profile.Age, &pt.Profile.Gender, &pt.Profile.Condition, &pt.Profile.RequiredSpecialty,
		&pt.Profile.Severity, &pt.Profile.Allergies, &pt.Profile.Notes,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("patient", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get patient")
	}
	return pt, nil
}

func (p *pgQueries) GetProfile(ctx context.Context, patientID types.ID, version int) (*domain.PatientProfile, error) {
	pp := &domain.PatientProfile{}
	err := p.q.QueryRow(ctx, `
		SELECT name, age, gender, condition, required_specialty, severity, allergies, notes
		FROM patient_profiles
		WHERE patient_id = $1 AND version = $2`, patientID, version,
	).Scan(&pp.Name, &pp.Age, &pp.Gender, &pp.Condition, &pp.RequiredSpecialty, &pp.Severity, &pp.Allergies, &pp.Notes)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("patient profile", fmt.Sprintf("%s/v%d", patientID, version))
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get patient profile")
	}
	return pp, nil
}

func (p *pgQueries) UpdatePatientStatus(ctx context.Context, id types.ID, status domain.PatientStatus) error {
	tag, err := p.q.Exec(ctx, `UPDATE patients SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return mapWriteError(err, "failed to update patient status")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("patient", id.String())
	}
	return nil
}

const decisionColumns = `id, patient_id, profile_version, sequence, nurse_id, doctor_id, bed_id,
	reasoning, source, status, rejection_reason, review_required,
	supersedes_id, superseded_by_id, created_at, updated_at`

func scanDecision(row pgx.Row) (*domain.Decision, error) {
	d := &domain.Decision{}
	err := row.Scan(
		&d.ID, &d.PatientID, &d.ProfileVersion, &d.Sequence, &d.NurseID, &d.DoctorID, &d.BedID,
		&d.Reasoning, &d.Source, &d.Status, &d.RejectionReason, &d.ReviewRequired,
		&d.SupersedesID, &d.SupersededByID, &d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}

func (p *pgQueries) SaveDecision(ctx context.Context, d *domain.Decision) error {
	_, err := p.q.Exec(ctx, `
		INSERT INTO assignment_decisions (`+decisionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			nurse_id = EXCLUDED.nurse_id,
			doctor_id = EXCLUDED.doctor_id,
			bed_id = EXCLUDED.bed_id,
			reasoning = EXCLUDED.reasoning,
			status = EXCLUDED.status,
			rejection_reason = EXCLUDED.rejection_reason,
			review_required = EXCLUDED.review_required,
			superseded_by_id = EXCLUDED.superseded_by_id,
			updated_at = EXCLUDED.updated_at`,
		d.ID, d.PatientID, d.ProfileVersion, d.Sequence, d.NurseID, d.DoctorID, d.BedID,
		d.Reasoning, d.Source, d.Status, d.RejectionReason, d.ReviewRequired,
		d.SupersedesID, d.SupersededByID, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return mapWriteError(err, "failed to save decision")
	}
	return nil
}

func (p *pgQueries) GetDecision(ctx context.Context, id types.ID) (*domain.Decision, error) {
	query := `SELECT ` + decisionColumns + ` FROM assignment_decisions WHERE id = $1`
	if p.lockRows {
		query += ` FOR UPDATE`
	}
	d, err := scanDecision(p.q.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("decision", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get decision")
	}
	return d, nil
}

func (p *pgQueries) ActiveDecision(ctx context.Context, patientID types.ID) (*domain.Decision, error) {
	query := `SELECT ` + decisionColumns + ` FROM assignment_decisions
		WHERE patient_id = $1 AND status = 'committed'`
	if p.lockRows {
		query += ` FOR UPDATE`
	}
	d, err := scanDecision(p.q.QueryRow(ctx, query, patientID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get active decision")
	}
	return d, nil
}

func (p *pgQueries) DecisionHistory(ctx context.Context, patientID types.ID) ([]domain.Decision, error) {
	rows, err := p.q.Query(ctx, `
		SELECT `+decisionColumns+`
		FROM assignment_decisions
		WHERE patient_id = $1
		ORDER BY sequence`, patientID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list decisions")
	}
	defer rows.Close()

	var out []domain.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan decision")
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate decisions")
	}
	return out, nil
}

func (p *pgQueries) NextSequence(ctx context.Context, patientID types.ID) (int64, error) {
	var seq int64
	err := p.q.QueryRow(ctx, `
		UPDATE patients
		SET decision_seq = decision_seq + 1
		WHERE id = $1
		RETURNING decision_seq`, patientID,
	).Scan(&seq)
	if err == pgx.ErrNoRows {
		return 0, errors.NotFound("patient", patientID.String())
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to allocate decision sequence")
	}
	return seq, nil
}

// mapWriteError turns constraint violations into conflicts
func mapWriteError(err error, message string) error {
	if strings.Contains(err.Error(), "duplicate key") {
		return errors.Conflict(message + ": " + constraintName(err))
	}
	if strings.Contains(err.Error(), "violates check constraint") {
		return errors.BadRequest(message + ": " + constraintName(err))
	}
	return errors.Wrap(err, message)
}

func constraintName(err error) string {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.ConstraintName != "" {
		return pgErr.ConstraintName
	}
	return "constraint violation"
}
