package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/whistleline/platform/internal/report/domain"
	"github.com/whistleline/platform/internal/shared/database"
	"github.com/whistleline/platform/internal/shared/errors"
	"github.com/whistleline/platform/internal/shared/types"
)

// PostgresRepository implements domain.Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const reportColumns = `id, ticket_id, pin_hash, encrypted_content, encrypted_location,
	encrypted_date_of_incident, encryption_key, encryption_iv, type, status,
	pin_attempts, pin_locked_until, client_id, reporter_room_id, internal_room_id,
	involves_physical_harm, involves_legal_violation, submitted_at, updated_at`

// Save inserts a new report
func (r *PostgresRepository) Save(ctx context.Context, rep *domain.Report) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO reports (`+reportColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		rep.ID, rep.TicketID, rep.PINHash, rep.EncryptedContent, rep.EncryptedLocation,
		rep.EncryptedDateOfIncident, rep.EncryptionKey, rep.EncryptionIV, string(rep.Type), string(rep.Status),
		rep.PINAttempts, rep.PINLockedUntil, rep.ClientID, rep.ReporterRoomID, rep.InternalRoomID,
		rep.InvolvesPhysicalHarm, rep.InvolvesLegalViolation, rep.SubmittedAt, rep.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return errors.Conflict("report with this ticket already exists")
		}
		if database.IsForeignKeyViolation(err) {
			return errors.NotFound("client", rep.ClientID.String())
		}
		return errors.Wrap(err, "failed to save report")
	}
	return nil
}

func scanReport(row pgx.Row) (*domain.Report, error) {
	rep := &domain.Report{}
	var reportType, status string
	err := row.Scan(
		&rep.ID, &rep.TicketID, &rep.PINHash, &rep.EncryptedContent, &rep.EncryptedLocation,
		&rep.EncryptedDateOfIncident, &rep.EncryptionKey, &rep.EncryptionIV, &reportType, &status,
		&rep.PINAttempts, &rep.PINLockedUntil, &rep.ClientID, &rep.ReporterRoomID, &rep.InternalRoomID,
		&rep.InvolvesPhysicalHarm, &rep.InvolvesLegalViolation, &rep.SubmittedAt, &rep.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rep.Type = domain.ReportType(reportType)
	rep.Status = domain.Status(status)
	return rep, nil
}

// FindByID finds a report by ID
func (r *PostgresRepository) FindByID(ctx context.Context, id types.ID) (*domain.Report, error) {
	rep, err := scanReport(r.pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("report", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find report")
	}
	return rep, nil
}

// FindByTicket finds a report by its ticket ID
func (r *PostgresRepository) FindByTicket(ctx context.Context, ticketID string) (*domain.Report, error) {
	rep, err := scanReport(r.pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE ticket_id = $1`, ticketID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("report", ticketID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find report")
	}
	return rep, nil
}

// List returns reports matching the filter, newest first
func (r *PostgresRepository) List(ctx context.Context, filter domain.ListFilter) ([]*domain.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE 1=1`
	args := []any{}
	argNum := 1

	if !filter.ClientID.IsZero() {
		query += fmt.Sprintf(" AND client_id = $%d", argNum)
		args = append(args, filter.ClientID)
		argNum++
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		query += fmt.Sprintf(" AND status = ANY($%d)", argNum)
		args = append(args, statuses)
		argNum++
	}
	if filter.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argNum)
		args = append(args, string(filter.Type))
		argNum++
	}

	query += " ORDER BY submitted_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list reports")
	}
	defer rows.Close()

	var reports []*domain.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan report")
		}
		reports = append(reports, rep)
	}
	return reports, rows.Err()
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id types.ID, from, to domain.Status) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE reports SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to update report status")
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id types.ID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM reports WHERE id = $1`, id); err != nil {
		return errors.Wrap(err, "failed to delete report")
	}
	return nil
}

// ClaimPINAttempt takes an attempt slot in one statement. A locked report is
// left untouched, so no number of parallel logins gets more than maxAttempts
// guesses per lock window.
func (r *PostgresRepository) ClaimPINAttempt(ctx context.Context, id types.ID, now time.Time, maxAttempts int, lockedUntil time.Time) (domain.LockoutState, error) {
	state := domain.LockoutState{Claimed: true}
	err := r.pool.QueryRow(ctx, `
		UPDATE reports
		SET pin_attempts = pin_attempts + 1,
			pin_locked_until = CASE
				WHEN pin_attempts + 1 >= $2 THEN $3
				ELSE pin_locked_until
			END,
			updated_at = NOW()
		WHERE id = $1 AND (pin_locked_until IS NULL OR pin_locked_until <= $4)
		RETURNING pin_attempts, pin_locked_until`,
		id, maxAttempts, lockedUntil, now,
	).Scan(&state.Attempts, &state.LockedUntil)
	if err == nil {
		return state, nil
	}
	if err != pgx.ErrNoRows {
		return state, errors.Wrap(err, "failed to claim PIN attempt")
	}

	state = domain.LockoutState{}
	err = r.pool.QueryRow(ctx,
		`SELECT pin_attempts, pin_locked_until FROM reports WHERE id = $1`, id,
	).Scan(&state.Attempts, &state.LockedUntil)
	if err == pgx.ErrNoRows {
		return state, errors.NotFound("report", id.String())
	}
	if err != nil {
		return state, errors.Wrap(err, "failed to read PIN lockout")
	}
	return state, nil
}

func (r *PostgresRepository) ResetPINAttempts(ctx context.Context, id types.ID, attempts int) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE reports SET pin_attempts = 0, pin_locked_until = NULL, updated_at = NOW()
		WHERE id = $1 AND pin_attempts = $2`,
		id, attempts,
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to reset PIN attempts")
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) LogPINAttempt(ctx context.Context, a domain.PINAttempt) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO pin_attempts (ticket_id, ip_address, success, attempted_at)
		VALUES ($1, $2, $3, $4)`,
		a.TicketID, a.IPAddress, a.Success, a.AttemptedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to log PIN attempt")
	}
	return nil
}

var _ domain.Repository = (*PostgresRepository)(nil)
