package store

import (
	"context"
)

// UpsertSession records a user's membership in a room. A (user, device)
// pair holds at most one session system-wide. The single INSERT ... DO
// UPDATE makes the last committed write win even when joins race: a
// conflicting row is repointed at the new room rather than silently kept.
// Rejoining the same room leaves created_at alone so join order survives.
func (p *Postgres) UpsertSession(ctx context.Context, userID, roomID, deviceID string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO sessions (id, user_id, room_id, device_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, device_id) DO UPDATE
		SET room_id = EXCLUDED.room_id,
		    created_at = CASE
		        WHEN sessions.room_id = EXCLUDED.room_id THEN sessions.created_at
		        ELSE NOW()
		    END
	`, newID(), userID, roomID, deviceID)
	return err
}

// DeleteSessionsByDevice removes every session held by a device and
// returns the removed rows with their room context.
func (p *Postgres) DeleteSessionsByDevice(ctx context.Context, deviceID string) ([]RemovedSession, error) {
	return p.deleteSessions(ctx, `device_id`, deviceID)
}

// DeleteSessionsByUser removes every session held by a user id, for the
// "same user, new device" eviction path.
func (p *Postgres) DeleteSessionsByUser(ctx context.Context, userID string) ([]RemovedSession, error) {
	return p.deleteSessions(ctx, `user_id`, userID)
}

func (p *Postgres) deleteSessions(ctx context.Context, col, val string) ([]RemovedSession, error) {
	rows, err := p.pool.Query(ctx, `
		WITH removed AS (
			DELETE FROM sessions WHERE `+col+` = $1
			RETURNING room_id, user_id
		)
		SELECT d.room_id, r.pin, r.max_users, d.user_id, u.nickname
		FROM removed d
		JOIN rooms r ON r.id = d.room_id
		JOIN users u ON u.id = d.user_id
	`, val)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RemovedSession
	for rows.Next() {
		var rs RemovedSession
		if err := rows.Scan(&rs.RoomID, &rs.RoomPIN, &rs.MaxUsers, &rs.UserID, &rs.Nickname); err != nil {
			return nil, err
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

// SessionCount returns the number of live sessions in a room
func (p *Postgres) SessionCount(ctx context.Context, roomID string) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM sessions WHERE room_id = $1
	`, roomID).Scan(&n)
	return n, err
}

// Members returns the room's membership list in join order
func (p *Postgres) Members(ctx context.Context, roomID string) ([]Member, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT u.id, u.nickname
		FROM sessions s JOIN users u ON u.id = s.user_id
		WHERE s.room_id = $1
		ORDER BY s.created_at ASC, s.id ASC
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.UserID, &m.Nickname); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// HasSession reports whether the user holds a session in the room
func (p *Postgres) HasSession(ctx context.Context, userID, roomID string) (bool, error) {
	var ok bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM sessions WHERE user_id = $1 AND room_id = $2)
	`, userID, roomID).Scan(&ok)
	return ok, err
}
