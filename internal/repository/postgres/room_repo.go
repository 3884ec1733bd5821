package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fervalgames/conquest/api/internal/model"
)

// RoomRepo handles room and room_member database operations.
type RoomRepo struct {
	db *sql.DB
}

// NewRoomRepo creates a RoomRepo.
func NewRoomRepo(db *sql.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

// Create inserts a new room in waiting status.
func (r *RoomRepo) Create(ctx context.Context, code, creatorID string) (*model.Room, error) {
	var room model.Room
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO rooms (code, creator_id)
		 VALUES ($1, $2)
		 RETURNING id, code, creator_id, status, created_at`,
		code, creatorID,
	).Scan(&room.ID, &room.Code, &room.CreatorID, &room.Status, &room.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	return &room, nil
}

// FindByCode returns a room by its short code with its members.
func (r *RoomRepo) FindByCode(ctx context.Context, code string) (*model.Room, error) {
	var room model.Room
	var winner sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, code, creator_id, status, winner, created_at, started_at, finished_at
		 FROM rooms WHERE code = $1`, code,
	).Scan(&room.ID, &room.Code, &room.CreatorID, &room.Status, &winner, &room.CreatedAt, &room.StartedAt, &room.FinishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find room: %w", err)
	}
	room.Winner = winner.String

	members, err := r.ListMembers(ctx, code)
	if err != nil {
		return nil, err
	}
	room.Members = members
	return &room, nil
}

// ListMembers returns the members of a room in join order.
func (r *RoomRepo) ListMembers(ctx context.Context, code string) ([]model.RoomMember, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT rm.room_id, rm.user_id, u.email, u.display_name, u.avatar_url, rm.joined_at, rm.surrendered
		 FROM room_members rm
		 JOIN rooms ro ON ro.id = rm.room_id
		 JOIN users u ON u.id = rm.user_id
		 WHERE ro.code = $1
		 ORDER BY rm.joined_at`,
		code)
	if err != nil {
		return nil, fmt.Errorf("list room members: %w", err)
	}
	defer rows.Close()

	var members []model.RoomMember
	for rows.Next() {
		var m model.RoomMember
		var avatar sql.NullString
		if err := rows.Scan(&m.RoomID, &m.UserID, &m.Email, &m.DisplayName, &avatar, &m.JoinedAt, &m.Surrendered); err != nil {
			return nil, fmt.Errorf("scan room member: %w", err)
		}
		m.AvatarURL = avatar.String
		members = append(members, m)
	}
	return members, rows.Err()
}

// ListOpen returns rooms in waiting status.
func (r *RoomRepo) ListOpen(ctx context.Context) ([]model.Room, error) {
	return r.listByStatus(ctx, model.RoomWaiting)
}

// ListActive returns rooms with a running game, used for recovery on restart.
func (r *RoomRepo) ListActive(ctx context.Context) ([]model.Room, error) {
	return r.listByStatus(ctx, model.RoomActive)
}

func (r *RoomRepo) listByStatus(ctx context.Context, status string) ([]model.Room, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, code, creator_id, status, winner, created_at, started_at, finished_at
		 FROM rooms WHERE status = $1 ORDER BY created_at DESC LIMIT 50`, status)
	if err != nil {
		return nil, fmt.Errorf("list %s rooms: %w", status, err)
	}
	defer rows.Close()
	return scanRooms(rows)
}

// ListByUser returns all rooms a user is a member of.
func (r *RoomRepo) ListByUser(ctx context.Context, userID string) ([]model.Room, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT ro.id, ro.code, ro.creator_id, ro.status, ro.winner, ro.created_at, ro.started_at, ro.finished_at
		 FROM rooms ro
		 LEFT JOIN room_members rm ON ro.id = rm.room_id AND rm.user_id = $1
		 WHERE rm.user_id = $1 OR ro.creator_id = $1
		 ORDER BY ro.created_at DESC LIMIT 50`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user rooms: %w", err)
	}
	defer rows.Close()
	return scanRooms(rows)
}

func scanRooms(rows *sql.Rows) ([]model.Room, error) {
	var rooms []model.Room
	for rows.Next() {
		var room model.Room
		var winner sql.NullString
		if err := rows.Scan(&room.ID, &room.Code, &room.CreatorID, &room.Status, &winner,
			&room.CreatedAt, &room.StartedAt, &room.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		room.Winner = winner.String
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// AddMember adds a user to a waiting room.
func (r *RoomRepo) AddMember(ctx context.Context, code, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO room_members (room_id, user_id)
		 SELECT id, $2 FROM rooms WHERE code = $1
		 ON CONFLICT (room_id, user_id) DO NOTHING`,
		code, userID,
	)
	if err != nil {
		return fmt.Errorf("add room member: %w", err)
	}
	return nil
}

// RemoveMember removes a user from a room.
func (r *RoomRepo) RemoveMember(ctx context.Context, code, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM room_members
		 WHERE user_id = $2 AND room_id = (SELECT id FROM rooms WHERE code = $1)`,
		code, userID,
	)
	if err != nil {
		return fmt.Errorf("remove room member: %w", err)
	}
	return nil
}

// MarkSurrendered flags a member as out of the game while keeping them in
// the room for the final ranking.
func (r *RoomRepo) MarkSurrendered(ctx context.Context, code, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE room_members SET surrendered = true
		 WHERE user_id = $2 AND room_id = (SELECT id FROM rooms WHERE code = $1)`,
		code, userID,
	)
	if err != nil {
		return fmt.Errorf("mark surrendered: %w", err)
	}
	return nil
}

// SetStarted transitions a room to active status.
func (r *RoomRepo) SetStarted(ctx context.Context, code string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE rooms SET status = 'active', started_at = now() WHERE code = $1`,
		code,
	)
	if err != nil {
		return fmt.Errorf("set room started: %w", err)
	}
	return nil
}

// SetFinished transitions a room to finished status with a winner.
func (r *RoomRepo) SetFinished(ctx context.Context, code, winner string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE rooms SET status = 'finished', winner = NULLIF($2, ''), finished_at = now() WHERE code = $1`,
		code, winner,
	)
	if err != nil {
		return fmt.Errorf("set room finished: %w", err)
	}
	return nil
}

// Delete removes a room. Members cascade.
func (r *RoomRepo) Delete(ctx context.Context, code string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM rooms WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return nil
}
