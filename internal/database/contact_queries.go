package database

import (
	"context"
	"database/sql"
	"fmt"
)

func (db *PgChatRepository) BlockUser(ctx context.Context, blockerId, blockedId string) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO blocks (blocker_id, blocked_id, created_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING",
		blockerId,
		blockedId,
		now(),
	)
	return err
}

func (db *PgChatRepository) UnblockUser(ctx context.Context, blockerId, blockedId string) error {
	_, err := db.conn.ExecContext(ctx,
		"DELETE FROM blocks WHERE blocker_id = $1 AND blocked_id = $2",
		blockerId,
		blockedId,
	)
	return err
}

func (db *PgChatRepository) GetBlockStatus(ctx context.Context, userId, otherId string) (bool, bool, error) {
	var byMe, byOther bool
	err := db.conn.QueryRowContext(ctx,
		"SELECT "+
			"EXISTS (SELECT 1 FROM blocks WHERE blocker_id = $1 AND blocked_id = $2), "+
			"EXISTS (SELECT 1 FROM blocks WHERE blocker_id = $2 AND blocked_id = $1)",
		userId,
		otherId,
	).Scan(&byMe, &byOther)
	return byMe, byOther, err
}

func (db *PgChatRepository) ListContacts(ctx context.Context, ownerId string) ([]Contact, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT c.id, c.owner_id, c.nickname, c.created_at, "+userColumns+" "+
			"FROM contacts c JOIN users u ON u.id = c.contact_id "+
			"WHERE c.owner_id = $1 ORDER BY u.first_name",
		ownerId,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}

	return contacts, rows.Err()
}

func scanContact(row scanner) (Contact, error) {
	var c Contact
	err := row.Scan(
		&c.Id,
		&c.OwnerId,
		&c.Nickname,
		&c.CreatedAt,
		&c.User.Id,
		&c.User.Phone,
		&c.User.Username,
		&c.User.FirstName,
		&c.User.LastName,
		&c.User.Bio,
		&c.User.Avatar,
		&c.User.PasswordHash,
		&c.User.IsOnline,
		&c.User.LastSeen,
		&c.User.CreatedAt,
		&c.User.UpdatedAt,
	)
	return c, err
}

func (db *PgChatRepository) AddContact(ctx context.Context, ownerId, contactId, nickname string) (Contact, error) {
	id := newId()
	if _, err := db.conn.ExecContext(ctx,
		"INSERT INTO contacts (id, owner_id, contact_id, nickname, created_at) VALUES ($1, $2, $3, $4, $5)",
		id,
		ownerId,
		contactId,
		nickname,
		now(),
	); err != nil {
		return Contact{}, mapConflict(err)
	}

	row := db.conn.QueryRowContext(ctx,
		"SELECT c.id, c.owner_id, c.nickname, c.created_at, "+userColumns+" "+
			"FROM contacts c JOIN users u ON u.id = c.contact_id WHERE c.id = $1",
		id,
	)
	return scanContact(row)
}

func (db *PgChatRepository) DeleteContact(ctx context.Context, ownerId, id string) error {
	res, err := db.conn.ExecContext(ctx,
		"DELETE FROM contacts WHERE id = $1 AND owner_id = $2",
		id,
		ownerId,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
