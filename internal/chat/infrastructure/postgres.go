package infrastructure

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/whistleline/platform/internal/chat/domain"
	"github.com/whistleline/platform/internal/rbac"
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

const roomColumns = `id, report_id, client_id, type, status, is_reporter_room, is_internal_room,
	encryption_key, encryption_iv, created_at`

// CreateCaseRooms inserts both rooms and links them on the report in one
// transaction.
func (r *PostgresRepository) CreateCaseRooms(ctx context.Context, reporterRoom, internalRoom *domain.Room) error {
	if reporterRoom.ReportID != internalRoom.ReportID {
		return errors.BadRequest("rooms must belong to the same report")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	for _, room := range []*domain.Room{reporterRoom, internalRoom} {
		if err := insertRoom(ctx, tx, room); err != nil {
			return err
		}
	}

	tag, err := tx.Exec(ctx, `
		UPDATE reports
		SET reporter_room_id = $2, internal_room_id = $3, updated_at = NOW()
		WHERE id = $1 AND reporter_room_id IS NULL AND internal_room_id IS NULL`,
		reporterRoom.ReportID, reporterRoom.ID, internalRoom.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to link rooms to report")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("report", reporterRoom.ReportID.String())
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

func insertRoom(ctx context.Context, tx pgx.Tx, room *domain.Room) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO chat_rooms (`+roomColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		room.ID, room.ReportID, room.ClientID, string(room.Type), string(room.Status),
		room.IsReporterRoom, room.IsInternalRoom,
		room.EncryptionKey, room.EncryptionIV, room.CreatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return errors.Conflict("report already has chat rooms")
		}
		if database.IsForeignKeyViolation(err) {
			return errors.NotFound("report", room.ReportID.String())
		}
		return errors.Wrap(err, "failed to save chat room")
	}
	return nil
}

// FindRoom finds a room by ID
func (r *PostgresRepository) FindRoom(ctx context.Context, id types.ID) (*domain.Room, error) {
	room := &domain.Room{}
	var roomType, status string

	err := r.pool.QueryRow(ctx, `SELECT `+roomColumns+` FROM chat_rooms WHERE id = $1`, id).Scan(
		&room.ID, &room.ReportID, &room.ClientID, &roomType, &status,
		&room.IsReporterRoom, &room.IsInternalRoom,
		&room.EncryptionKey, &room.EncryptionIV, &room.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("chat room", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find chat room")
	}

	room.Type = domain.RoomType(roomType)
	room.Status = domain.RoomStatus(status)
	return room, nil
}

func (r *PostgresRepository) UpdateRoomStatus(ctx context.Context, id types.ID, from, to domain.RoomStatus) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE chat_rooms SET status = $3 WHERE id = $1 AND status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to update chat room status")
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) ReportStatus(ctx context.Context, reportID types.ID) (string, error) {
	var status string
	err := r.pool.QueryRow(ctx, `SELECT status FROM reports WHERE id = $1`, reportID).Scan(&status)
	if err == pgx.ErrNoRows {
		return "", errors.NotFound("report", reportID.String())
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to read report status")
	}
	return status, nil
}

// SaveMessage appends a message. Messages are never updated.
func (r *PostgresRepository) SaveMessage(ctx context.Context, m *domain.Message) error {
	var iv *string
	if m.EncryptionIV != "" {
		iv = &m.EncryptionIV
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO messages (
			id, room_id, report_id, encrypted_content, encryption_iv,
			sender_role, sender_id, is_internal, is_delivered, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.ID, m.RoomID, m.ReportID, m.EncryptedContent, iv,
		m.SenderRole.String(), m.SenderID, m.IsInternal, m.IsDelivered, m.CreatedAt,
	)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return errors.NotFound("chat room", m.RoomID.String())
		}
		return errors.Wrap(err, "failed to save message")
	}
	return nil
}

const messageColumns = `id, room_id, report_id, encrypted_content, encryption_iv,
	sender_role, sender_id, is_internal, is_delivered, created_at`

func (r *PostgresRepository) FindMessage(ctx context.Context, id types.ID) (*domain.Message, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	m, err := scanMessage(row)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("message", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find message")
	}
	return m, nil
}

func (r *PostgresRepository) ListMessages(ctx context.Context, roomID types.ID, limit int) ([]*domain.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE room_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2`,
		roomID, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	defer rows.Close()

	var msgs []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	m := &domain.Message{}
	var iv *string
	var role string

	if err := row.Scan(
		&m.ID, &m.RoomID, &m.ReportID, &m.EncryptedContent, &iv,
		&role, &m.SenderID, &m.IsInternal, &m.IsDelivered, &m.CreatedAt,
	); err != nil {
		return nil, err
	}
	if iv != nil {
		m.EncryptionIV = *iv
	}

	var err error
	if m.SenderRole, err = rbac.ParseRole(role); err != nil {
		return nil, err
	}
	return m, nil
}

var _ domain.Repository = (*PostgresRepository)(nil)
