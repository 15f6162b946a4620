package store

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
)

// normNick trims surrounding whitespace; nicknames stay case-sensitive
func normNick(s string) string { return strings.TrimSpace(s) }

// RegisterUser creates a user, or claims the existing row when the nickname
// is already taken (re-registration moves the nickname to the new device).
// Also returns the PIN of the room the user currently holds a session in,
// empty if none, so a returning client can offer to rejoin.
func (p *Postgres) RegisterUser(ctx context.Context, nickname, deviceID string) (User, string, error) {
	nickname = normNick(nickname)
	if nickname == "" || deviceID == "" {
		return User{}, "", errors.New("missing nickname or device id")
	}

	row := p.pool.QueryRow(ctx, `
		INSERT INTO users (id, nickname, device_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (nickname) DO UPDATE SET device_id = EXCLUDED.device_id
		RETURNING id, nickname, device_id, created_at
	`, newID(), nickname, deviceID)

	var u User
	if err := row.Scan(&u.ID, &u.Nickname, &u.DeviceID, &u.CreatedAt); err != nil {
		return User{}, "", err
	}

	var pin string
	err := p.pool.QueryRow(ctx, `
		SELECT r.pin
		FROM sessions s JOIN rooms r ON r.id = s.room_id
		WHERE s.user_id = $1
		ORDER BY s.created_at DESC
		LIMIT 1
	`, u.ID).Scan(&pin)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return User{}, "", err
	}
	return u, pin, nil
}

// UserByID fetches a single user
func (p *Postgres) UserByID(ctx context.Context, id string) (User, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, nickname, device_id, created_at
		FROM users
		WHERE id = $1
	`, id)

	var u User
	if err := row.Scan(&u.ID, &u.Nickname, &u.DeviceID, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}
