package store

import (
	"context"
)

// SaveMessage persists a message and returns the stored row, including the
// server-side timestamp that fixes its position in the room's history.
func (p *Postgres) SaveMessage(ctx context.Context, roomID, userID, body string) (Message, error) {
	row := p.pool.QueryRow(ctx, `
		WITH inserted AS (
			INSERT INTO messages (id, room_id, user_id, body)
			VALUES ($1, $2, $3, $4)
			RETURNING id, room_id, user_id, body, created_at
		)
		SELECT i.id, i.room_id, i.user_id, u.nickname, i.body, i.created_at
		FROM inserted i JOIN users u ON u.id = i.user_id
	`, newID(), roomID, userID, body)

	var m Message
	if err := row.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Nickname, &m.Body, &m.CreatedAt); err != nil {
		return Message{}, err
	}
	return m, nil
}

// History returns the room's messages in ascending creation order
func (p *Postgres) History(ctx context.Context, roomID string) ([]Message, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT m.id, m.room_id, m.user_id, u.nickname, m.body, m.created_at
		FROM messages m JOIN users u ON u.id = m.user_id
		WHERE m.room_id = $1
		ORDER BY m.created_at ASC, m.id ASC
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Nickname, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MessageCount returns the number of stored messages for a room
func (p *Postgres) MessageCount(ctx context.Context, roomID string) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages WHERE room_id = $1
	`, roomID).Scan(&n)
	return n, err
}
