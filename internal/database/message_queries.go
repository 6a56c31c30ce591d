package database

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/lib/pq"
)

const messageColumns = "m.id, m.chat_id, m.sender_id, m.content, m.type, m.is_edited, m.is_deleted, m.is_pinned, " +
	"m.forwarded_from, m.reactions, m.read_by, m.reply_to_id, m.scheduled_at, m.expires_at, m.created_at, m.updated_at, " +
	"s.first_name, s.last_name, s.avatar, r.content, rs.first_name "

const messageJoins = "FROM messages m " +
	"JOIN users s ON s.id = m.sender_id " +
	"LEFT JOIN messages r ON r.id = m.reply_to_id " +
	"LEFT JOIN users rs ON rs.id = r.sender_id "

func scanMessage(row scanner) (Message, error) {
	var m Message
	err := row.Scan(
		&m.Id,
		&m.ChatId,
		&m.SenderId,
		&m.Content,
		&m.Type,
		&m.IsEdited,
		&m.IsDeleted,
		&m.IsPinned,
		&m.ForwardedFrom,
		&m.Reactions,
		&m.ReadBy,
		&m.ReplyToId,
		&m.ScheduledAt,
		&m.ExpiresAt,
		&m.CreatedAt,
		&m.UpdatedAt,
		&m.SenderFirstName,
		&m.SenderLastName,
		&m.SenderAvatar,
		&m.ReplyContent,
		&m.ReplySenderFirstName,
	)
	return m, err
}

func queryMessages(ctx context.Context, q querier, where string, args ...any) ([]Message, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+messageColumns+messageJoins+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

func getMessage(ctx context.Context, q querier, messageId string) (Message, error) {
	row := q.QueryRowContext(ctx, "SELECT "+messageColumns+messageJoins+"WHERE m.id = $1", messageId)
	return scanMessage(row)
}

// CreateMessage stores the message and bumps the chat's updated_at in one
// transaction.
func (db *PgChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	ts := params.CreatedAt
	if ts.IsZero() {
		ts = now()
	}
	msgType := params.Type
	if msgType == "" {
		msgType = "TEXT"
	}

	id := newId()
	if _, err = tx.ExecContext(ctx,
		"INSERT INTO messages (id, chat_id, sender_id, content, type, forwarded_from, reply_to_id, scheduled_at, expires_at, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)",
		id,
		params.ChatId,
		params.SenderId,
		params.Content,
		msgType,
		params.ForwardedFrom,
		nullString(params.ReplyToId),
		nullTime(params.ScheduledAt),
		nullTime(params.ExpiresAt),
		ts,
	); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	if _, err = tx.ExecContext(ctx,
		"UPDATE chats SET updated_at = $2 WHERE id = $1",
		params.ChatId,
		ts,
	); err != nil {
		return Message{}, fmt.Errorf("bump chat: %w", err)
	}

	msg, err := getMessage(ctx, tx, id)
	if err != nil {
		return Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return Message{}, err
	}

	return msg, nil
}

func (db *PgChatRepository) GetMessage(ctx context.Context, messageId string) (Message, error) {
	return getMessage(ctx, db.conn, messageId)
}

// ListMessages returns up to limit messages older than cursor (or the newest
// when cursor is empty), oldest first.
func (db *PgChatRepository) ListMessages(ctx context.Context, chatId, cursor string, limit int) ([]Message, error) {
	messages, err := queryMessages(ctx, db.conn,
		"WHERE m.chat_id = $1 AND ($2 = '' OR m.created_at < (SELECT c.created_at FROM messages c WHERE c.id = $2)) "+
			"ORDER BY m.created_at DESC LIMIT $3",
		chatId,
		cursor,
		limit,
	)
	if err != nil {
		return nil, err
	}

	slices.Reverse(messages)
	return messages, nil
}

func (db *PgChatRepository) UpdateMessageContent(ctx context.Context, messageId, content string) (Message, error) {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE messages SET content = $2, is_edited = TRUE, updated_at = $3 WHERE id = $1 AND NOT is_deleted",
		messageId,
		content,
		now(),
	)
	if err != nil {
		return Message{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Message{}, sql.ErrNoRows
	}

	return db.GetMessage(ctx, messageId)
}

// SoftDeleteMessage clears the content and flags the message deleted.
func (db *PgChatRepository) SoftDeleteMessage(ctx context.Context, messageId string) (Message, error) {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE messages SET content = NULL, is_deleted = TRUE, updated_at = $2 WHERE id = $1",
		messageId,
		now(),
	)
	if err != nil {
		return Message{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Message{}, sql.ErrNoRows
	}

	return db.GetMessage(ctx, messageId)
}

func (db *PgChatRepository) TogglePin(ctx context.Context, messageId string) (Message, error) {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE messages SET is_pinned = NOT is_pinned, updated_at = $2 WHERE id = $1",
		messageId,
		now(),
	)
	if err != nil {
		return Message{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Message{}, sql.ErrNoRows
	}

	return db.GetMessage(ctx, messageId)
}

func (db *PgChatRepository) ListPinnedMessages(ctx context.Context, chatId string) ([]Message, error) {
	return queryMessages(ctx, db.conn,
		"WHERE m.chat_id = $1 AND m.is_pinned AND NOT m.is_deleted ORDER BY m.created_at DESC",
		chatId,
	)
}

func (db *PgChatRepository) SearchMessages(ctx context.Context, chatId, query string, limit int) ([]Message, error) {
	return queryMessages(ctx, db.conn,
		"WHERE m.chat_id = $1 AND NOT m.is_deleted AND m.content ILIKE '%' || $2 || '%' "+
			"ORDER BY m.created_at DESC LIMIT $3",
		chatId,
		query,
		limit,
	)
}

// ToggleReaction flips userId's membership in the emoji's reaction set under
// a row lock.
func (db *PgChatRepository) ToggleReaction(ctx context.Context, messageId, emoji, userId string) (Message, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var reactions Reactions
	if err = tx.QueryRowContext(ctx,
		"SELECT reactions FROM messages WHERE id = $1 FOR UPDATE",
		messageId,
	).Scan(&reactions); err != nil {
		return Message{}, err
	}

	reactions.Toggle(emoji, userId)

	if _, err = tx.ExecContext(ctx,
		"UPDATE messages SET reactions = $2 WHERE id = $1",
		messageId,
		reactions,
	); err != nil {
		return Message{}, fmt.Errorf("update reactions: %w", err)
	}

	msg, err := getMessage(ctx, tx, messageId)
	if err != nil {
		return Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return Message{}, err
	}

	return msg, nil
}

// MarkMessagesRead adds readerId to the readBy set of each message in the
// chat. Messages already read by readerId are left untouched. It returns the
// ids whose set grew.
func (db *PgChatRepository) MarkMessagesRead(ctx context.Context, chatId string, messageIds []string, readerId string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		"UPDATE messages SET read_by = array_append(read_by, $3) "+
			"WHERE chat_id = $1 AND id = ANY($2) AND NOT ($3 = ANY(read_by)) RETURNING id",
		chatId,
		pq.Array(messageIds),
		readerId,
	)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	defer rows.Close()

	var updated []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		updated = append(updated, id)
	}

	return updated, rows.Err()
}

// MarkChatRead marks every message in the chat not sent by readerId as read.
func (db *PgChatRepository) MarkChatRead(ctx context.Context, chatId, readerId string) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE messages SET read_by = array_append(read_by, $2) "+
			"WHERE chat_id = $1 AND sender_id <> $2 AND NOT ($2 = ANY(read_by))",
		chatId,
		readerId,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SoftDeleteExpiredMessages deletes every live message whose expires_at is
// not after now and returns the affected messages.
func (db *PgChatRepository) SoftDeleteExpiredMessages(ctx context.Context, ts time.Time) ([]MessageRef, error) {
	rows, err := db.conn.QueryContext(ctx,
		"UPDATE messages SET content = NULL, is_deleted = TRUE, updated_at = $1 "+
			"WHERE expires_at IS NOT NULL AND expires_at <= $1 AND NOT is_deleted RETURNING id, chat_id",
		ts.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("delete expired messages: %w", err)
	}
	defer rows.Close()

	var refs []MessageRef
	for rows.Next() {
		var ref MessageRef
		if err := rows.Scan(&ref.Id, &ref.ChatId); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}

	return refs, rows.Err()
}
