package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/jackc/pgx/v5"
)

const (
	maxRoomsPerCreator = 3
	pinAttempts        = 10
)

// generatePIN returns a 6-digit room PIN
func generatePIN() string {
	return fmt.Sprintf("%d", 100000+rand.Intn(900000))
}

// CreateRoom inserts a room with a fresh PIN, re-rolling on collision with
// an existing room. Capacity must be 1-10 and a creator may own at most 3
// rooms at a time.
func (p *Postgres) CreateRoom(ctx context.Context, maxUsers int, creatorID string) (Room, error) {
	if maxUsers < 1 || maxUsers > 10 {
		return Room{}, ErrBadCapacity
	}

	var owned int
	if err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM rooms WHERE creator_id = $1
	`, creatorID).Scan(&owned); err != nil {
		return Room{}, err
	}
	if owned >= maxRoomsPerCreator {
		return Room{}, ErrOwnerRoomLimit
	}

	for i := 0; i < pinAttempts; i++ {
		row := p.pool.QueryRow(ctx, `
			INSERT INTO rooms (id, pin, max_users, creator_id)
			VALUES ($1, $2, $3, $4)
			RETURNING id, pin, max_users, creator_id, created_at
		`, newID(), generatePIN(), maxUsers, creatorID)

		var r Room
		err := row.Scan(&r.ID, &r.PIN, &r.MaxUsers, &r.CreatorID, &r.CreatedAt)
		if err == nil {
			return r, nil
		}
		if isUniqueViolation(err) {
			continue // PIN taken by a live room, roll again
		}
		return Room{}, err
	}
	return Room{}, errors.New("could not allocate a room pin")
}

// RoomByPIN fetches a room by its public PIN
func (p *Postgres) RoomByPIN(ctx context.Context, pin string) (Room, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, pin, max_users, creator_id, created_at
		FROM rooms
		WHERE pin = $1
	`, pin)

	var r Room
	if err := row.Scan(&r.ID, &r.PIN, &r.MaxUsers, &r.CreatorID, &r.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Room{}, ErrNotFound
		}
		return Room{}, err
	}
	return r, nil
}

// RoomsByCreator lists rooms owned by a user, newest first
func (p *Postgres) RoomsByCreator(ctx context.Context, creatorID string) ([]Room, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, pin, max_users, creator_id, created_at
		FROM rooms
		WHERE creator_id = $1
		ORDER BY created_at DESC
	`, creatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.ID, &r.PIN, &r.MaxUsers, &r.CreatorID, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRoom removes a room on behalf of its creator; sessions and
// messages go with it via ON DELETE CASCADE.
func (p *Postgres) DeleteRoom(ctx context.Context, pin, creatorID string) error {
	r, err := p.RoomByPIN(ctx, pin)
	if err != nil {
		return err
	}
	if r.CreatorID != creatorID {
		return ErrNotCreator
	}
	_, err = p.pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, r.ID)
	return err
}

// DeleteRoomIfAbandoned drops the room only when it has no sessions and no
// stored messages; an empty room with history is kept. Reports whether the
// room was deleted.
func (p *Postgres) DeleteRoomIfAbandoned(ctx context.Context, roomID string) (bool, error) {
	ct, err := p.pool.Exec(ctx, `
		DELETE FROM rooms r
		WHERE r.id = $1
		  AND NOT EXISTS (SELECT 1 FROM sessions s WHERE s.room_id = r.id)
		  AND NOT EXISTS (SELECT 1 FROM messages m WHERE m.room_id = r.id)
	`, roomID)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}
