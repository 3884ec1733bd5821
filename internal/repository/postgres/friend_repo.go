package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fervalgames/conquest/api/internal/model"
)

// FriendRepo handles friend-list database operations.
type FriendRepo struct {
	db *sql.DB
}

// NewFriendRepo creates a FriendRepo.
func NewFriendRepo(db *sql.DB) *FriendRepo {
	return &FriendRepo{db: db}
}

// Add inserts a friendship link from userID to friendID.
func (r *FriendRepo) Add(ctx context.Context, userID, friendID string) (*model.Friend, error) {
	var f model.Friend
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO friends (user_id, friend_id)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id, friend_id) DO UPDATE SET user_id = EXCLUDED.user_id
		 RETURNING id, user_id, friend_id, created_at`,
		userID, friendID,
	).Scan(&f.ID, &f.UserID, &f.FriendID, &f.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("add friend: %w", err)
	}
	return &f, nil
}

// ListByUser returns a user's friends with display data joined in.
func (r *FriendRepo) ListByUser(ctx context.Context, userID string) ([]model.Friend, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT f.id, f.user_id, f.friend_id, u.email, u.display_name, u.avatar_url, f.created_at
		 FROM friends f JOIN users u ON u.id = f.friend_id
		 WHERE f.user_id = $1
		 ORDER BY u.display_name`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	defer rows.Close()

	var friends []model.Friend
	for rows.Next() {
		var f model.Friend
		var avatar sql.NullString
		if err := rows.Scan(&f.ID, &f.UserID, &f.FriendID, &f.FriendEmail, &f.FriendName, &avatar, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan friend: %w", err)
		}
		f.FriendAvatarURL = avatar.String
		friends = append(friends, f)
	}
	return friends, rows.Err()
}

// Remove deletes a friendship link. The userID guard keeps users from
// removing links they do not own.
func (r *FriendRepo) Remove(ctx context.Context, id, userID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM friends WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("remove friend: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove friend rows: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
