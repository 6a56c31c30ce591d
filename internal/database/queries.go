package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const userColumns = "u.id, u.phone, COALESCE(u.username, ''), u.first_name, u.last_name, u.bio, u.avatar, " +
	"u.password_hash, u.is_online, u.last_seen, u.created_at, u.updated_at"

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanUser(row scanner, extra ...any) (User, error) {
	var u User
	dest := []any{
		&u.Id,
		&u.Phone,
		&u.Username,
		&u.FirstName,
		&u.LastName,
		&u.Bio,
		&u.Avatar,
		&u.PasswordHash,
		&u.IsOnline,
		&u.LastSeen,
		&u.CreatedAt,
		&u.UpdatedAt,
	}
	err := row.Scan(append(dest, extra...)...)
	return u, err
}

func (db *PgChatRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	ts := now()
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO users AS u (id, phone, first_name, last_name, password_hash, is_online, last_seen, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, FALSE, $6, $6, $6) RETURNING "+userColumns,
		newId(),
		params.Phone,
		params.FirstName,
		params.LastName,
		params.PasswordHash,
		ts,
	)

	u, err := scanUser(row)
	if err != nil {
		return User{}, mapConflict(err)
	}
	return u, nil
}

func (db *PgChatRepository) GetUserById(ctx context.Context, id string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users u WHERE u.id = $1 LIMIT 1",
		id,
	)
	return scanUser(row)
}

func (db *PgChatRepository) GetUserByPhone(ctx context.Context, phone string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users u WHERE u.phone = $1 LIMIT 1",
		phone,
	)
	return scanUser(row)
}

// UpdateProfile overwrites the non-empty fields of params.
func (db *PgChatRepository) UpdateProfile(ctx context.Context, params UpdateProfileParams) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"UPDATE users AS u SET "+
			"first_name = COALESCE(NULLIF($2, ''), u.first_name), "+
			"last_name = COALESCE(NULLIF($3, ''), u.last_name), "+
			"username = COALESCE(NULLIF($4, ''), u.username), "+
			"bio = COALESCE(NULLIF($5, ''), u.bio), "+
			"avatar = COALESCE(NULLIF($6, ''), u.avatar), "+
			"updated_at = $7 "+
			"WHERE u.id = $1 RETURNING "+userColumns,
		params.UserId,
		params.FirstName,
		params.LastName,
		params.Username,
		params.Bio,
		params.Avatar,
		now(),
	)

	u, err := scanUser(row)
	if err != nil {
		return User{}, mapConflict(err)
	}
	return u, nil
}

func (db *PgChatRepository) SearchUsers(ctx context.Context, query, excludeId string, limit int) ([]User, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users u "+
			"WHERE u.id <> $2 AND (u.username ILIKE '%' || $1 || '%' OR u.first_name ILIKE '%' || $1 || '%' "+
			"OR u.last_name ILIKE '%' || $1 || '%' OR u.phone LIKE '%' || $1 || '%') "+
			"ORDER BY u.first_name LIMIT $3",
		query,
		excludeId,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

func (db *PgChatRepository) SetUserPresence(ctx context.Context, userId string, online bool, lastSeen time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE users SET is_online = $2, last_seen = $3 WHERE id = $1",
		userId,
		online,
		lastSeen.UTC(),
	)
	return err
}

func (db *PgChatRepository) ListChats(ctx context.Context, userId string) ([]Chat, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT
				c.id,
				c.type,
				c.name,
				c.created_at,
				c.updated_at,
				(SELECT count(*) FROM messages m
					WHERE m.chat_id = c.id
					AND m.sender_id <> $1
					AND NOT m.is_deleted
					AND NOT ($1 = ANY(m.read_by))) AS unread
		FROM chats c
		JOIN chat_participants p ON p.chat_id = c.id AND p.user_id = $1
		ORDER BY c.updated_at DESC;
`, userId)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	var (
		chats []Chat
		ids   []string
	)
	for rows.Next() {
		var c Chat
		if err := rows.Scan(
			&c.Id,
			&c.Type,
			&c.Name,
			&c.CreatedAt,
			&c.UpdatedAt,
			&c.UnreadCount,
		); err != nil {
			return nil, err
		}
		chats = append(chats, c)
		ids = append(ids, c.Id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(chats) == 0 {
		return chats, nil
	}

	participants, err := loadParticipants(ctx, db.conn, ids)
	if err != nil {
		return nil, err
	}

	last, err := loadLastMessages(ctx, db.conn, ids)
	if err != nil {
		return nil, err
	}

	for i := range chats {
		chats[i].Participants = participants[chats[i].Id]
		if m, ok := last[chats[i].Id]; ok {
			chats[i].LastMessage = &m
		}
	}

	return chats, nil
}

func loadParticipants(ctx context.Context, q querier, chatIds []string) (map[string][]Participant, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT p.chat_id, p.role, p.joined_at, "+userColumns+" "+
			"FROM chat_participants p JOIN users u ON u.id = p.user_id "+
			"WHERE p.chat_id = ANY($1) ORDER BY p.chat_id, p.position",
		pq.Array(chatIds),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load participants: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]Participant, len(chatIds))
	for rows.Next() {
		var p Participant
		var u User
		if err := rows.Scan(
			&p.ChatId,
			&p.Role,
			&p.JoinedAt,
			&u.Id,
			&u.Phone,
			&u.Username,
			&u.FirstName,
			&u.LastName,
			&u.Bio,
			&u.Avatar,
			&u.PasswordHash,
			&u.IsOnline,
			&u.LastSeen,
			&u.CreatedAt,
			&u.UpdatedAt,
		); err != nil {
			return nil, err
		}
		p.UserId = u.Id
		p.User = u
		out[p.ChatId] = append(out[p.ChatId], p)
	}

	return out, rows.Err()
}

func loadLastMessages(ctx context.Context, q querier, chatIds []string) (map[string]Message, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT DISTINCT ON (m.chat_id) "+messageColumns+messageJoins+
			"WHERE m.chat_id = ANY($1) ORDER BY m.chat_id, m.created_at DESC",
		pq.Array(chatIds),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load last messages: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Message, len(chatIds))
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out[m.ChatId] = m
	}

	return out, rows.Err()
}

func getChat(ctx context.Context, q querier, chatId string) (Chat, error) {
	var c Chat
	err := q.QueryRowContext(ctx,
		"SELECT id, type, name, created_at, updated_at FROM chats WHERE id = $1",
		chatId,
	).Scan(
		&c.Id,
		&c.Type,
		&c.Name,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return Chat{}, err
	}

	participants, err := loadParticipants(ctx, q, []string{chatId})
	if err != nil {
		return Chat{}, err
	}
	c.Participants = participants[chatId]

	return c, nil
}

func (db *PgChatRepository) GetChat(ctx context.Context, chatId string) (Chat, error) {
	return getChat(ctx, db.conn, chatId)
}

// GetOrCreatePrivateChat returns the private chat between the two users,
// creating it when none exists. Concurrent callers converge on one row
// through the unique private_key.
func (db *PgChatRepository) GetOrCreatePrivateChat(ctx context.Context, userId, otherId string) (Chat, bool, error) {
	key := privateKey(userId, otherId)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Chat{}, false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	ts := now()
	var chatId string
	err = tx.QueryRowContext(ctx,
		"INSERT INTO chats (id, type, name, private_key, created_at, updated_at) "+
			"VALUES ($1, 'PRIVATE', '', $2, $3, $3) ON CONFLICT (private_key) DO NOTHING RETURNING id",
		newId(),
		key,
		ts,
	).Scan(&chatId)

	created := true
	if err == sql.ErrNoRows {
		created = false
		err = tx.QueryRowContext(ctx,
			"SELECT id FROM chats WHERE private_key = $1",
			key,
		).Scan(&chatId)
	}
	if err != nil {
		return Chat{}, false, fmt.Errorf("get or create private chat: %w", err)
	}

	if created {
		for i, id := range []string{userId, otherId} {
			if _, err = tx.ExecContext(ctx,
				"INSERT INTO chat_participants (chat_id, user_id, role, position, joined_at) VALUES ($1, $2, 'MEMBER', $3, $4)",
				chatId,
				id,
				i,
				ts,
			); err != nil {
				return Chat{}, false, fmt.Errorf("add participant: %w", err)
			}
		}
	}

	chat, err := getChat(ctx, tx, chatId)
	if err != nil {
		return Chat{}, false, err
	}

	if err = tx.Commit(); err != nil {
		return Chat{}, false, err
	}

	return chat, created, nil
}

func (db *PgChatRepository) CreateGroupChat(ctx context.Context, params CreateGroupChatParams) (Chat, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Chat{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	ts := now()
	chatId := newId()
	if _, err = tx.ExecContext(ctx,
		"INSERT INTO chats (id, type, name, created_at, updated_at) VALUES ($1, 'GROUP', $2, $3, $3)",
		chatId,
		params.Name,
		ts,
	); err != nil {
		return Chat{}, fmt.Errorf("create group chat: %w", err)
	}

	if _, err = tx.ExecContext(ctx,
		"INSERT INTO chat_participants (chat_id, user_id, role, position, joined_at) VALUES ($1, $2, 'ADMIN', 0, $3)",
		chatId,
		params.CreatorId,
		ts,
	); err != nil {
		return Chat{}, fmt.Errorf("add creator: %w", err)
	}

	position := 1
	for _, id := range params.MemberIds {
		if id == params.CreatorId {
			continue
		}
		if _, err = tx.ExecContext(ctx,
			"INSERT INTO chat_participants (chat_id, user_id, role, position, joined_at) VALUES ($1, $2, 'MEMBER', $3, $4) "+
				"ON CONFLICT DO NOTHING",
			chatId,
			id,
			position,
			ts,
		); err != nil {
			return Chat{}, fmt.Errorf("add member: %w", err)
		}
		position++
	}

	chat, err := getChat(ctx, tx, chatId)
	if err != nil {
		return Chat{}, err
	}

	if err = tx.Commit(); err != nil {
		return Chat{}, err
	}

	return chat, nil
}

func (db *PgChatRepository) DeleteChat(ctx context.Context, chatId string) error {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM chats WHERE id = $1", chatId)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (db *PgChatRepository) IsParticipant(ctx context.Context, chatId, userId string) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM chat_participants WHERE chat_id = $1 AND user_id = $2)",
		chatId,
		userId,
	).Scan(&exists)
	return exists, err
}

func (db *PgChatRepository) GetParticipantIds(ctx context.Context, chatId string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT user_id FROM chat_participants WHERE chat_id = $1 ORDER BY position",
		chatId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
