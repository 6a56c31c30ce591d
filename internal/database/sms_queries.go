package database

import (
	"context"
	"database/sql"
	"fmt"
)

const smsChatColumns = "c.id, c.user_id, c.phone, c.first_name, c.last_name, c.created_at, c.updated_at"

func scanSMSChat(row scanner) (SMSChat, error) {
	var c SMSChat
	err := row.Scan(
		&c.Id,
		&c.UserId,
		&c.Phone,
		&c.FirstName,
		&c.LastName,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	return c, err
}

func scanSMSMessage(row scanner) (SMSMessage, error) {
	var m SMSMessage
	err := row.Scan(
		&m.Id,
		&m.ChatId,
		&m.Content,
		&m.Direction,
		&m.Status,
		&m.SmsId,
		&m.CreatedAt,
	)
	return m, err
}

func (db *PgChatRepository) querySMSChats(ctx context.Context, where string, args ...any) ([]SMSChat, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+smsChatColumns+", lm.id, lm.chat_id, lm.content, lm.direction, lm.status, lm.sms_id, lm.created_at "+
			"FROM sms_chats c "+
			"LEFT JOIN LATERAL (SELECT * FROM sms_messages s WHERE s.chat_id = c.id ORDER BY s.created_at DESC LIMIT 1) lm ON TRUE "+
			where,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sms chats: %w", err)
	}
	defer rows.Close()

	var chats []SMSChat
	for rows.Next() {
		var (
			c                                     SMSChat
			mId, mChatId, mContent, mDir, mStatus sql.NullString
			mSmsId                                sql.NullString
			mCreatedAt                            sql.NullTime
		)
		if err := rows.Scan(
			&c.Id,
			&c.UserId,
			&c.Phone,
			&c.FirstName,
			&c.LastName,
			&c.CreatedAt,
			&c.UpdatedAt,
			&mId,
			&mChatId,
			&mContent,
			&mDir,
			&mStatus,
			&mSmsId,
			&mCreatedAt,
		); err != nil {
			return nil, err
		}
		if mId.Valid {
			c.LastMessage = &SMSMessage{
				Id:        mId.String,
				ChatId:    mChatId.String,
				Content:   mContent.String,
				Direction: mDir.String,
				Status:    mStatus.String,
				SmsId:     mSmsId.String,
				CreatedAt: mCreatedAt.Time,
			}
		}
		chats = append(chats, c)
	}

	return chats, rows.Err()
}

func (db *PgChatRepository) ListSMSChats(ctx context.Context, userId string) ([]SMSChat, error) {
	return db.querySMSChats(ctx, "WHERE c.user_id = $1 ORDER BY c.updated_at DESC", userId)
}

func (db *PgChatRepository) FindSMSChatsByPhone(ctx context.Context, phone string) ([]SMSChat, error) {
	return db.querySMSChats(ctx, "WHERE c.phone = $1", phone)
}

func (db *PgChatRepository) GetSMSChat(ctx context.Context, id string) (SMSChat, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+smsChatColumns+" FROM sms_chats c WHERE c.id = $1",
		id,
	)
	return scanSMSChat(row)
}

// CreateSMSChat returns the user's existing chat with the phone number when
// there is one. created reports whether a new row was inserted.
func (db *PgChatRepository) CreateSMSChat(ctx context.Context, params CreateSMSChatParams) (SMSChat, bool, error) {
	ts := now()
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO sms_chats AS c (id, user_id, phone, first_name, last_name, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $6) "+
			"ON CONFLICT (user_id, phone) DO UPDATE SET updated_at = c.updated_at "+
			"RETURNING "+smsChatColumns+", (xmax = 0)",
		newId(),
		params.UserId,
		params.Phone,
		params.FirstName,
		params.LastName,
		ts,
	)

	var c SMSChat
	var created bool
	if err := row.Scan(
		&c.Id,
		&c.UserId,
		&c.Phone,
		&c.FirstName,
		&c.LastName,
		&c.CreatedAt,
		&c.UpdatedAt,
		&created,
	); err != nil {
		return SMSChat{}, false, err
	}
	return c, created, nil
}

func (db *PgChatRepository) DeleteSMSChat(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM sms_chats WHERE id = $1", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (db *PgChatRepository) ListSMSMessages(ctx context.Context, chatId string) ([]SMSMessage, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, chat_id, content, direction, status, sms_id, created_at FROM sms_messages "+
			"WHERE chat_id = $1 ORDER BY created_at",
		chatId,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sms messages: %w", err)
	}
	defer rows.Close()

	var messages []SMSMessage
	for rows.Next() {
		m, err := scanSMSMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// CreateSMSMessage stores the message and bumps the chat's updated_at.
func (db *PgChatRepository) CreateSMSMessage(ctx context.Context, params CreateSMSMessageParams) (SMSMessage, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return SMSMessage{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	ts := now()
	row := tx.QueryRowContext(ctx,
		"INSERT INTO sms_messages (id, chat_id, content, direction, status, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, chat_id, content, direction, status, sms_id, created_at",
		newId(),
		params.ChatId,
		params.Content,
		params.Direction,
		params.Status,
		ts,
	)

	msg, err := scanSMSMessage(row)
	if err != nil {
		return SMSMessage{}, err
	}

	if _, err = tx.ExecContext(ctx,
		"UPDATE sms_chats SET updated_at = $2 WHERE id = $1",
		params.ChatId,
		ts,
	); err != nil {
		return SMSMessage{}, err
	}

	if err = tx.Commit(); err != nil {
		return SMSMessage{}, err
	}

	return msg, nil
}

func (db *PgChatRepository) UpdateSMSMessageStatus(ctx context.Context, id, status, smsId string) (SMSMessage, error) {
	row := db.conn.QueryRowContext(ctx,
		"UPDATE sms_messages SET status = $2, sms_id = COALESCE(NULLIF($3, ''), sms_id) WHERE id = $1 "+
			"RETURNING id, chat_id, content, direction, status, sms_id, created_at",
		id,
		status,
		smsId,
	)
	return scanSMSMessage(row)
}
